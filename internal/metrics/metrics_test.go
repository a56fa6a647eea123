package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/cyrix126/mnemosyne/internal/entrycache"
	"github.com/cyrix126/mnemosyne/internal/entryid"
	"github.com/cyrix126/mnemosyne/internal/index"
)

func TestCollectCacheStats(t *testing.T) {
	cache := entrycache.New(entrycache.Config{
		Name:            "test",
		MaxWeightBytes:  1 << 20,
		IdleExpiry:      time.Hour,
		CleanupInterval: time.Hour,
	})
	defer cache.Close()

	idx := index.New()
	id := entryid.New()
	cache.Insert(id, entrycache.Response{Status: 200, Body: []byte("hello")})
	idx.Add(id, "GET", "/", "example.com", nil)

	CollectCacheStats(cache, idx)

	assert.Equal(t, float64(1), testutil.ToFloat64(CacheEntries))
	assert.Equal(t, float64(1), testutil.ToFloat64(IndexKeys))
}

func TestRecord(t *testing.T) {
	assert.NotPanics(t, func() {
		Record(OutcomeCacheHit, 5*time.Millisecond)
	})
}
