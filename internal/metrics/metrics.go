// Package metrics exposes Mnemosyne's Prometheus instrumentation: cache
// occupancy gauges, index size, and request outcome counters.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cyrix126/mnemosyne/internal/entrycache"
	"github.com/cyrix126/mnemosyne/internal/index"
)

var (
	// CacheEntries reports the current number of Entry Cache entries.
	CacheEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "mnemosyne",
		Name:      "cache_entries",
		Help:      "Current number of entries in the Entry Cache",
	})

	// CacheWeightedBytes reports the current aggregate byte weight.
	CacheWeightedBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "mnemosyne",
		Name:      "cache_weighted_bytes",
		Help:      "Current aggregate weighted byte size of the Entry Cache",
	})

	// IndexKeys reports the current number of distinct Index keys.
	IndexKeys = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "mnemosyne",
		Name:      "index_keys",
		Help:      "Current number of distinct keys in the Index",
	})

	// RequestsTotal counts proxied requests by outcome.
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mnemosyne",
		Name:      "requests_total",
		Help:      "Total proxied requests by outcome",
	}, []string{"outcome"}) // etag_hit, cache_hit, backend_fetch, backend_error

	// RequestLatency tracks request latency distribution.
	RequestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mnemosyne",
		Name:      "request_latency_seconds",
		Help:      "Request latency in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"outcome"})
)

// Outcome labels a completed request for RequestsTotal/RequestLatency.
type Outcome string

const (
	OutcomeETagHit      Outcome = "etag_hit"
	OutcomeCacheHit     Outcome = "cache_hit"
	OutcomeBackendFetch Outcome = "backend_fetch"
	OutcomeBackendError Outcome = "backend_error"
)

// Record observes one completed request's outcome and latency.
func Record(outcome Outcome, latency time.Duration) {
	RequestsTotal.WithLabelValues(string(outcome)).Inc()
	RequestLatency.WithLabelValues(string(outcome)).Observe(latency.Seconds())
}

// CollectCacheStats samples cache and index occupancy into the gauges.
// Intended to be called periodically (see cmd/mnemosyned) rather than per
// request, since Stats()/Len() both take their respective locks.
func CollectCacheStats(cache *entrycache.Cache, idx *index.Index) {
	stats := cache.Stats()
	CacheEntries.Set(float64(stats.Entries))
	CacheWeightedBytes.Set(float64(stats.WeightedBytes))
	IndexKeys.Set(float64(idx.Len()))
}

// Handler returns the http.Handler a config.MetricsConfig.Enabled mux
// should mount at MetricsConfig.Path.
func Handler() http.Handler {
	return promhttp.Handler()
}
