// Package entryid mints and parses the opaque 128-bit tokens that identify
// cache entries. A minted ID is rendered to clients verbatim as the ETag
// response header and accepted back from them on the same header.
package entryid

import (
	"net/http"

	"github.com/google/uuid"
)

// ID is the opaque 128-bit entry identifier. Its zero value is not a valid ID.
type ID = uuid.UUID

// New mints a fresh, globally unique entry ID.
func New() ID {
	return uuid.New()
}

// Parse decodes the canonical textual form of an entry ID.
func Parse(s string) (ID, error) {
	return uuid.Parse(s)
}

// FromETag extracts and parses the ETag request header, if present and
// well-formed. ok is false when the header is absent or not a valid ID.
func FromETag(h http.Header) (id ID, ok bool) {
	raw := h.Get("ETag")
	if raw == "" {
		return ID{}, false
	}
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return ID{}, false
	}
	return parsed, true
}
