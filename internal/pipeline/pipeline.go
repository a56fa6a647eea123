// Package pipeline implements Mnemosyne's request-handling state machine:
// the ETag fast path, Index lookup with lazy repair, backend fetch, entry
// minting, and the detached async persist that populates the Index and
// Entry Cache after the response has already been handed to the client.
package pipeline

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/cyrix126/mnemosyne/internal/config"
	"github.com/cyrix126/mnemosyne/internal/entrycache"
	"github.com/cyrix126/mnemosyne/internal/entryid"
	"github.com/cyrix126/mnemosyne/internal/httputil"
	"github.com/cyrix126/mnemosyne/internal/index"
	"github.com/cyrix126/mnemosyne/internal/metrics"
	"github.com/cyrix126/mnemosyne/internal/observability"
)

// Handler coordinates the Entry Cache, Index, backend client and Config to
// serve proxied traffic. It implements http.Handler directly: every request
// whose path does not begin with the admin prefix is handled here.
type Handler struct {
	Cache   *entrycache.Cache
	Index   *index.Index
	Manager *config.Manager
	Client  *http.Client
	Logger  *slog.Logger
}

// NewHandler builds a Handler with a default backend client. Callers may
// overwrite Client afterwards (e.g. in tests, to point at a custom
// transport or shorter timeout).
func NewHandler(cache *entrycache.Cache, idx *index.Index, mgr *config.Manager, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Cache:   cache,
		Index:   idx,
		Manager: mgr,
		Client:  &http.Client{},
		Logger:  logger,
	}
}

// ServeHTTP implements the pipeline described in spec §4.3.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	method := r.Method
	pathAndQuery := r.URL.RequestURI()
	host := r.Host
	requestID := observability.RequestIDFromContext(r.Context())

	// Step 1: ETag fast path.
	if etag := r.Header.Get("ETag"); etag != "" {
		if id, err := entryid.Parse(etag); err == nil && h.Cache.Contains(id) {
			h.Logger.Debug("etag fast path hit", "entry_id", id.String())
			w.WriteHeader(http.StatusNotModified)
			metrics.Record(metrics.OutcomeETagHit, time.Since(start))
			return
		}
	}

	// Step 2: cache lookup via the Index.
	if id, ok := h.Index.Lookup(method, pathAndQuery, host, r.Header); ok {
		if resp, found := h.Cache.Get(id); found {
			h.Logger.Info("served from cache", "entry_id", id.String())
			writeResponse(w, resp)
			metrics.Record(metrics.OutcomeCacheHit, time.Since(start))
			return
		}
		// Lazy repair: the Index pointed at an entry the primary cache no
		// longer holds. Remove the stale reference and fall through to a
		// fresh backend fetch.
		h.Index.DeleteByEntryID(id)
		h.Logger.Debug("lazy repair: stale index entry", "entry_id", id.String())
	}

	// Step 3: backend fetch.
	reqBody, err := httputil.ReadLimitedBody(r.Body, httputil.DefaultMaxResponseBodyBytes)
	if err != nil {
		h.Logger.Warn("failed to read request body", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		metrics.Record(metrics.OutcomeBackendError, time.Since(start))
		return
	}

	uri, err := h.Manager.Get().ToBackendURI(pathAndQuery, host)
	if err != nil {
		h.Logger.Error("failed to resolve backend uri", "host", host, "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		metrics.Record(metrics.OutcomeBackendError, time.Since(start))
		return
	}

	backendResp, err := h.fetch(r.Context(), method, uri, r.Header, reqBody)
	if err != nil {
		h.Logger.Warn("backend fetch failed", "host", host, "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		metrics.Record(metrics.OutcomeBackendError, time.Since(start))
		return
	}
	defer backendResp.Body.Close()

	respBody, err := httputil.ReadLimitedBody(backendResp.Body, httputil.DefaultMaxResponseBodyBytes)
	if err != nil {
		h.Logger.Warn("failed to read backend response body", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		metrics.Record(metrics.OutcomeBackendError, time.Since(start))
		return
	}

	// Step 4: mint and serve.
	id := entryid.New()
	backendResp.Header.Set("ETag", id.String())
	cached := entrycache.Response{
		Status: backendResp.StatusCode,
		Header: backendResp.Header,
		Body:   respBody,
	}

	// Step 5: return to client before persisting (latency priority).
	writeResponse(w, cached)
	metrics.Record(metrics.OutcomeBackendFetch, time.Since(start))

	// Step 6: async persist, detached from the request's lifetime.
	reqHeaders := r.Header.Clone()
	varyValue := backendResp.Header.Get("Vary")
	go h.persist(id, method, pathAndQuery, host, reqHeaders, varyValue, cached, requestID)
}

func (h *Handler) fetch(ctx context.Context, method, uri string, header http.Header, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, uri, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header = header.Clone()
	return h.Client.Do(req)
}

// persist extracts the Vary-driven selector and populates the Index and
// Entry Cache. It runs detached from the request goroutine and must not be
// cancelled when the handler returns (spec §5, "Detached tasks").
func (h *Handler) persist(id entryid.ID, method, pathAndQuery, host string, reqHeaders http.Header, vary string, cached entrycache.Response, requestID string) {
	if host == "" {
		h.Logger.Warn("missing host, skipping cache persist", "entry_id", id.String(), "path", pathAndQuery, "request_id", requestID)
		return
	}

	selector, ok := index.HeadersMatchVary(reqHeaders, vary)
	if !ok {
		h.Logger.Warn("malformed vary header, caching with empty selector", "entry_id", id.String(), "vary", vary, "request_id", requestID)
	}

	h.Index.Add(id, method, pathAndQuery, host, selector)
	h.Cache.Insert(id, cached)
	h.Logger.Info("entry cached", "entry_id", id.String(), "method", method, "path", pathAndQuery, "host", host, "request_id", requestID)
}

func writeResponse(w http.ResponseWriter, resp entrycache.Response) {
	dst := w.Header()
	for name, values := range resp.Header {
		dst[name] = values
	}
	w.WriteHeader(resp.Status)
	if len(resp.Body) > 0 {
		_, _ = w.Write(resp.Body)
	}
}

