// Package api implements Mnemosyne's administrative REST surface (spec
// §4.4): cache inspection and invalidation, and endpoint-table mutation.
// Every route here is mounted under the "/api/1/" prefix; the reverse
// proxy in package pipeline handles everything else.
package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/cyrix126/mnemosyne/internal/config"
	"github.com/cyrix126/mnemosyne/internal/entrycache"
	"github.com/cyrix126/mnemosyne/internal/entryid"
	"github.com/cyrix126/mnemosyne/internal/index"
)

// Prefix is the URL prefix that disambiguates admin traffic from proxied
// traffic, per spec §4.4.
const Prefix = "/api/1/"

// Handler serves the admin surface.
type Handler struct {
	Cache   *entrycache.Cache
	Index   *index.Index
	Manager *config.Manager
	Logger  *slog.Logger
}

// NewHandler builds an admin Handler.
func NewHandler(cache *entrycache.Cache, idx *index.Index, mgr *config.Manager, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Cache: cache, Index: idx, Manager: mgr, Logger: logger}
}

// ServeHTTP dispatches an admin request by path and method.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, Prefix)

	switch {
	case rest == "cache/" || rest == "cache":
		h.serveCacheRoot(w, r)
	case strings.HasPrefix(rest, "cache/path/"):
		h.serveCacheByPath(w, r, strings.TrimPrefix(rest, "cache/path/"))
	case strings.HasPrefix(rest, "cache/"):
		h.serveCacheByID(w, r, strings.TrimPrefix(rest, "cache/"))
	case strings.HasPrefix(rest, "config/endpoint/"):
		h.serveConfigEndpoint(w, r, strings.TrimPrefix(rest, "config/endpoint/"))
	case rest == "config/fallback" || rest == "config/fallback/":
		h.serveConfigFallback(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (h *Handler) serveCacheRoot(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, h.Cache.Stats())
	case http.MethodDelete:
		h.Cache.InvalidateAll()
		h.Index.Clear()
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) serveCacheByID(w http.ResponseWriter, r *http.Request, raw string) {
	id, err := entryid.Parse(raw)
	if err != nil {
		h.Logger.Warn("malformed admin entry id", "raw", raw)
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		resp, found := h.Cache.Get(id)
		if !found {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusOK, cachedEntryView{
			Status: resp.Status,
			Header: resp.Header,
			Body:   resp.Body,
		})
	case http.MethodDelete:
		if !h.Cache.Contains(id) {
			http.NotFound(w, r)
			return
		}
		h.Cache.Invalidate(id)
		h.Index.DeleteByEntryID(id)
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) serveCacheByPath(w http.ResponseWriter, r *http.Request, path string) {
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	removed := h.Index.DeleteByPath(path)
	if len(removed) == 0 {
		http.NotFound(w, r)
		return
	}
	for _, id := range removed {
		h.Cache.Invalidate(id)
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) serveConfigEndpoint(w http.ResponseWriter, r *http.Request, host string) {
	switch r.Method {
	case http.MethodPut:
		var body struct {
			URL string `json:"url"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.URL == "" {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		h.Manager.PutEndpoint(host, body.URL)
		w.WriteHeader(http.StatusOK)
	case http.MethodDelete:
		if err := h.Manager.RemoveEndpoint(host); err != nil {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) serveConfigFallback(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, struct {
			URL string `json:"url"`
		}{URL: h.Manager.Fallback()})
	case http.MethodPost:
		var body struct {
			URL string `json:"url"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.URL == "" {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		h.Manager.SetFallback(body.URL)
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// cachedEntryView is the JSON rendering of a raw cached triple returned by
// GET /api/1/cache/{id}.
type cachedEntryView struct {
	Status int         `json:"status"`
	Header http.Header `json:"header"`
	Body   []byte      `json:"body"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
