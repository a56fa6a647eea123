package entrycache

import (
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(maxWeight int64, idleExpiry time.Duration) *Cache {
	return New(Config{
		Name:            "test",
		MaxWeightBytes:  maxWeight,
		IdleExpiry:      idleExpiry,
		CleanupInterval: time.Hour, // disable background sweep for deterministic tests
	})
}

func TestCache_InsertGet(t *testing.T) {
	c := newTestCache(1<<20, time.Hour)
	defer c.Close()

	id := uuid.New()
	resp := Response{Status: 200, Header: http.Header{"X-A": {"1"}}, Body: []byte("hello")}

	c.Insert(id, resp)

	got, ok := c.Get(id)
	require.True(t, ok)
	assert.Equal(t, resp.Status, got.Status)
	assert.Equal(t, resp.Body, got.Body)
}

func TestCache_GetMiss(t *testing.T) {
	c := newTestCache(1<<20, time.Hour)
	defer c.Close()

	_, ok := c.Get(uuid.New())
	assert.False(t, ok)
}

func TestCache_Contains_DoesNotExtendTTL(t *testing.T) {
	c := newTestCache(1<<20, time.Hour)
	defer c.Close()

	id := uuid.New()
	c.Insert(id, Response{Status: 200, Body: []byte("x")})
	before := c.items[id].Value.(*node).lastAccess

	time.Sleep(time.Millisecond)
	assert.True(t, c.Contains(id))
	assert.False(t, c.Contains(uuid.New()))
	assert.Equal(t, before, c.items[id].Value.(*node).lastAccess, "Contains must not refresh the idle timer")
}

func TestCache_Invalidate(t *testing.T) {
	c := newTestCache(1<<20, time.Hour)
	defer c.Close()

	id := uuid.New()
	c.Insert(id, Response{Status: 200, Body: []byte("x")})
	c.Invalidate(id)

	_, ok := c.Get(id)
	assert.False(t, ok)
}

func TestCache_InvalidateAll(t *testing.T) {
	c := newTestCache(1<<20, time.Hour)
	defer c.Close()

	for i := 0; i < 5; i++ {
		c.Insert(uuid.New(), Response{Status: 200, Body: []byte("x")})
	}
	c.InvalidateAll()

	assert.Equal(t, 0, c.Stats().Entries)
}

func TestCache_WeightBoundEvictsOldest(t *testing.T) {
	// Each entry weighs len("OK")+len(body) = 22; bound the cache to fit
	// only one of them.
	c := newTestCache(40, time.Hour)
	defer c.Close()

	first := uuid.New()
	second := uuid.New()
	third := uuid.New()

	c.Insert(first, Response{Status: 200, Body: []byte("aaaaaaaaaaaaaaaaaaaa")})
	c.Insert(second, Response{Status: 200, Body: []byte("bbbbbbbbbbbbbbbbbbbb")})
	c.Insert(third, Response{Status: 200, Body: []byte("cccccccccccccccccccc")})

	assert.LessOrEqual(t, c.Stats().WeightedBytes, int64(40))
	_, ok := c.Get(first)
	assert.False(t, ok, "oldest entry should have been evicted to respect the weight bound")
}

func TestCache_IdleExpiryEvicts(t *testing.T) {
	c := newTestCache(1<<20, 10*time.Millisecond)
	defer c.Close()

	id := uuid.New()
	c.Insert(id, Response{Status: 200, Body: []byte("x")})

	time.Sleep(20 * time.Millisecond)
	c.evictIdle()

	_, ok := c.Get(id)
	assert.False(t, ok)
}

func TestCache_InsertReplacesExistingID(t *testing.T) {
	c := newTestCache(1<<20, time.Hour)
	defer c.Close()

	id := uuid.New()
	c.Insert(id, Response{Status: 200, Body: []byte("first")})
	c.Insert(id, Response{Status: 201, Body: []byte("second")})

	got, ok := c.Get(id)
	require.True(t, ok)
	assert.Equal(t, 201, got.Status)
	assert.Equal(t, []byte("second"), got.Body)
	assert.Equal(t, 1, c.Stats().Entries)
}

func TestResponse_Weight(t *testing.T) {
	resp := Response{
		Status: 200,
		Header: http.Header{"X-Test": {"abc"}},
		Body:   []byte("hello"),
	}
	// "OK" (2) + "X-Test"+"abc" (9) + "hello" (5)
	assert.Equal(t, len("OK")+len("X-Test")+len("abc")+len("hello"), resp.Weight())
}
