// Package index implements Mnemosyne's secondary lookup structure: the map
// from a request's semantic identity (method, path+query, host) to the one
// or more cache entries it may resolve to, disambiguated by the subset of
// request headers the backend's Vary response named.
package index

import (
	"net/http"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/cyrix126/mnemosyne/internal/entryid"
)

// Key identifies one virtual resource: a method, a request target
// (path+query, verbatim), and the Host header value that routed it.
type Key struct {
	Method       string
	PathAndQuery string
	Host         string
}

// pair is one (entry, selector) association stored under a Key.
type pair struct {
	id       entryid.ID
	selector http.Header
}

// Index is the mutex-guarded (method, path+query, host) -> []entry lookup
// table. A single lock covers the whole map; hold time is bounded by list
// length (typically 1-4), per §4.2/§5 of the spec.
type Index struct {
	mu      sync.Mutex
	entries map[Key][]pair
}

// New creates an empty Index.
func New() *Index {
	return &Index{entries: make(map[Key][]pair)}
}

// Lookup builds the key from method/pathAndQuery/host and scans its value
// list in insertion order, returning the first entry whose recorded
// selector is subsumed by reqHeaders (every recorded (name, value) is
// present and byte-equal in reqHeaders, header-name comparison
// case-insensitive). Returns ok=false on no key or no match.
func (idx *Index) Lookup(method, pathAndQuery, host string, reqHeaders http.Header) (entryid.ID, bool) {
	key := Key{Method: method, PathAndQuery: pathAndQuery, Host: host}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	list, ok := idx.entries[key]
	if !ok {
		return entryid.ID{}, false
	}
	for _, p := range list {
		if selectorSubsumed(p.selector, reqHeaders) {
			return p.id, true
		}
	}
	return entryid.ID{}, false
}

func selectorSubsumed(selector, reqHeaders http.Header) bool {
	for name, values := range selector {
		if len(values) == 0 {
			continue
		}
		got := reqHeaders.Get(name)
		if got != values[0] {
			return false
		}
	}
	return true
}

// Add appends (id, selector) to the list under (method, pathAndQuery, host),
// creating the list if absent. Does not deduplicate: entries are kept in
// stable insertion order, so an identical-selector pair added later sits
// behind the earlier one in scan order.
func (idx *Index) Add(id entryid.ID, method, pathAndQuery, host string, selector http.Header) {
	key := Key{Method: method, PathAndQuery: pathAndQuery, Host: host}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.entries[key] = append(idx.entries[key], pair{id: id, selector: selector})
}

// DeleteByEntryID removes id from every list it appears in, O(total
// entries), deleting any key whose list becomes empty as a result.
func (idx *Index) DeleteByEntryID(id entryid.ID) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for key, list := range idx.entries {
		filtered := list[:0]
		for _, p := range list {
			if p.id != id {
				filtered = append(filtered, p)
			}
		}
		if len(filtered) == 0 {
			delete(idx.entries, key)
		} else {
			idx.entries[key] = filtered
		}
	}
}

// DeleteByPath removes every pair under any key matching (GET, pathAndQuery,
// any host), returning the set of entry IDs removed so the caller can also
// purge the Entry Cache. Only GET is addressable this way (§4.2).
func (idx *Index) DeleteByPath(pathAndQuery string) []entryid.ID {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	var removed []entryid.ID
	for key, list := range idx.entries {
		if key.Method != http.MethodGet || key.PathAndQuery != pathAndQuery {
			continue
		}
		for _, p := range list {
			removed = append(removed, p.id)
		}
		delete(idx.entries, key)
	}
	return removed
}

// Clear replaces the map with an empty one.
func (idx *Index) Clear() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.entries = make(map[Key][]pair)
}

// Len returns the number of distinct keys currently indexed. Approximate,
// for metrics only.
func (idx *Index) Len() int {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return len(idx.entries)
}

// HeadersMatchVary extracts the selector from reqHeaders: the sub-map of
// header names present in vary (split on ',', each name trimmed of
// surrounding whitespace, matched case-insensitively). If vary is empty,
// the selector is empty. If vary is not valid UTF-8 text, ok is false and
// the caller must still cache the entry with an empty selector (§4.2.1).
func HeadersMatchVary(reqHeaders http.Header, vary string) (selector http.Header, ok bool) {
	if vary == "" {
		return http.Header{}, true
	}
	if !utf8.ValidString(vary) {
		return http.Header{}, false
	}

	names := make(map[string]struct{})
	for _, part := range strings.Split(vary, ",") {
		name := strings.TrimSpace(part)
		if name == "" {
			continue
		}
		names[strings.ToLower(name)] = struct{}{}
	}

	selector = http.Header{}
	for name, values := range reqHeaders {
		if _, match := names[strings.ToLower(name)]; match && len(values) > 0 {
			selector.Set(name, values[0])
		}
	}
	return selector, true
}
