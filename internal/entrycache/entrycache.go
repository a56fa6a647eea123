// Package entrycache implements Mnemosyne's primary response store: a
// byte-weighted, idle-expiring map from entry ID to the cached HTTP
// triple (status, headers, body). It is the leaf component everything
// else in the proxy is built on top of (see internal/index for the
// secondary lookup structure, internal/pipeline for the coordinator).
package entrycache

import (
	"container/list"
	"net/http"
	"sync"
	"time"

	"github.com/cyrix126/mnemosyne/internal/entryid"
)

// Response is the immutable (status, headers, body) triple stored per entry.
// Entries are never mutated in place: an update is a delete-then-insert under
// a fresh entry ID (see package pipeline).
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Weight returns the byte weight of the response per the configured
// weigher: status textual form + per-header name/value bytes + body bytes.
func (r Response) Weight() int {
	w := len(http.StatusText(r.Status))
	if w == 0 {
		// Non-standard status codes still carry a textual form on the wire;
		// use the numeric rendering's width as a stand-in.
		w = len(itoa(r.Status))
	}
	for name, values := range r.Header {
		for _, v := range values {
			w += len(name) + len(v)
		}
	}
	w += len(r.Body)
	return w
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Stats is a point-in-time, approximate snapshot of cache occupancy.
type Stats struct {
	Name          string `json:"name"`
	Entries       int    `json:"entries"`
	WeightedBytes int64  `json:"weighted_bytes"`
}

// Cache is the weight-bounded, idle-expiring entry store. All exported
// methods are safe for concurrent use; callers need no external
// synchronization (§4.1 / §5 of the spec).
type Cache struct {
	name string

	mu            sync.Mutex
	items         map[entryid.ID]*list.Element // -> *node, ordered MRU-to-LRU
	order         *list.List
	weight        int64
	maxWeight     int64
	idleExpiry    time.Duration
	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	stopOnce      sync.Once
}

type node struct {
	id         entryid.ID
	resp       Response
	weight     int
	lastAccess time.Time
}

// Config configures a new Cache.
type Config struct {
	Name string
	// MaxWeightBytes bounds the aggregate byte weight of all entries.
	MaxWeightBytes int64
	// IdleExpiry evicts an entry whose last read is older than this.
	IdleExpiry time.Duration
	// CleanupInterval controls how often the idle sweep runs. Defaults to
	// one tenth of IdleExpiry, floored at one second.
	CleanupInterval time.Duration
}

// New creates a Cache and starts its background idle-eviction sweep.
// Call Close to stop the sweep when the cache is no longer needed.
func New(cfg Config) *Cache {
	interval := cfg.CleanupInterval
	if interval <= 0 {
		interval = cfg.IdleExpiry / 10
		if interval < time.Second {
			interval = time.Second
		}
	}

	c := &Cache{
		name:        cfg.Name,
		items:       make(map[entryid.ID]*list.Element),
		order:       list.New(),
		maxWeight:   cfg.MaxWeightBytes,
		idleExpiry:  cfg.IdleExpiry,
		stopCleanup: make(chan struct{}),
	}
	c.cleanupTicker = time.NewTicker(interval)
	go c.cleanupLoop()
	return c
}

func (c *Cache) cleanupLoop() {
	for {
		select {
		case <-c.cleanupTicker.C:
			c.evictIdle()
		case <-c.stopCleanup:
			return
		}
	}
}

func (c *Cache) evictIdle() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.idleExpiry <= 0 {
		return
	}
	now := time.Now()
	// Walk the whole list from the LRU end, removing every entry whose
	// last read is older than idleExpiry.
	for e := c.order.Back(); e != nil; {
		n := e.Value.(*node)
		prev := e.Prev()
		if now.Sub(n.lastAccess) > c.idleExpiry {
			c.removeElement(e)
		}
		e = prev
	}
}

// Get retrieves a cached response and refreshes its idle timer. Returns
// ok=false on a miss.
func (c *Cache) Get(id entryid.ID) (Response, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, found := c.items[id]
	if !found {
		return Response{}, false
	}
	n := e.Value.(*node)
	n.lastAccess = time.Now()
	c.order.MoveToFront(e)
	return n.resp, true
}

// Contains reports whether id is present without extending its idle TTL.
// Used by the ETag fast path in §4.3 step 1.
func (c *Cache) Contains(id entryid.ID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, found := c.items[id]
	return found
}

// Insert stores resp under id, replacing any prior value at id and
// updating the aggregate weight. It may evict other entries
// (approximately least-recently-used) to satisfy the weight bound. A
// response whose own weight exceeds the bound is not stored (any prior
// value at id is still removed).
func (c *Cache) Insert(id entryid.ID, resp Response) {
	w := resp.Weight()

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, exists := c.items[id]; exists {
		old := e.Value.(*node)
		c.weight -= int64(old.weight)
		c.order.Remove(e)
		delete(c.items, id)
	}

	// An entry heavier than the whole bound is not admitted.
	if c.maxWeight > 0 && int64(w) > c.maxWeight {
		return
	}

	for c.maxWeight > 0 && c.weight+int64(w) > c.maxWeight && c.order.Len() > 0 {
		back := c.order.Back()
		c.removeElement(back)
	}

	n := &node{id: id, resp: resp, weight: w, lastAccess: time.Now()}
	elem := c.order.PushFront(n)
	c.items[id] = elem
	c.weight += int64(w)
}

// Invalidate removes id if present.
func (c *Cache) Invalidate(id entryid.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, found := c.items[id]; found {
		c.removeElement(e)
	}
}

// InvalidateAll removes every entry. Concurrent readers may observe this
// as incremental (§4.1).
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for e := c.order.Back(); e != nil; {
		prev := e.Prev()
		c.removeElement(e)
		e = prev
	}
}

// removeElement deletes e from both the map and the LRU list and adjusts
// the aggregate weight. Caller must hold c.mu.
func (c *Cache) removeElement(e *list.Element) {
	n := e.Value.(*node)
	c.order.Remove(e)
	delete(c.items, n.id)
	c.weight -= int64(n.weight)
}

// Stats returns an approximate snapshot of cache occupancy.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Name:          c.name,
		Entries:       c.order.Len(),
		WeightedBytes: c.weight,
	}
}

// Close stops the background idle-eviction sweep.
func (c *Cache) Close() {
	c.stopOnce.Do(func() {
		c.cleanupTicker.Stop()
		close(c.stopCleanup)
	})
}
