package snapshot

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyRegistry serves a single chat config and can be switched to failing.
type flakyRegistry struct {
	srv     *httptest.Server
	failing atomic.Bool
	builds  atomic.Int32
}

func newFlakyRegistry(t *testing.T) *flakyRegistry {
	t.Helper()
	f := &flakyRegistry{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if f.failing.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if r.URL.Path == "/chats/default.json" {
			f.builds.Add(1)
			_, _ = w.Write([]byte(`{"id": "chat-1",
				"services": [{"service_ref": "services/links.json", "expose": true}]}`))
			return
		}
		_, _ = w.Write([]byte(linksService))
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func TestCacheServesWithinTTL(t *testing.T) {
	reg := newFlakyRegistry(t)
	builder, _ := newTestBuilder(t, reg.srv.URL)
	cache := NewCache(builder, time.Minute)

	first, err := cache.Get(context.Background(), "tg:1")
	require.NoError(t, err)
	second, err := cache.Get(context.Background(), "tg:1")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), reg.builds.Load())
}

func TestCacheRebuildsAfterTTL(t *testing.T) {
	reg := newFlakyRegistry(t)
	builder, _ := newTestBuilder(t, reg.srv.URL)
	// Registry client has its own document TTL; defeat it so the rebuild
	// actually refetches.
	builder.client = mustClient(t, reg.srv.URL, time.Nanosecond)

	cache := NewCache(builder, 50*time.Millisecond)
	now := time.Now()
	cache.now = func() time.Time { return now }

	_, err := cache.Get(context.Background(), "tg:1")
	require.NoError(t, err)

	now = now.Add(time.Second)
	_, err = cache.Get(context.Background(), "tg:1")
	require.NoError(t, err)

	assert.Equal(t, int32(2), reg.builds.Load())
}

func TestCacheStaleFallbackOnRebuildFailure(t *testing.T) {
	reg := newFlakyRegistry(t)
	builder, _ := newTestBuilder(t, reg.srv.URL)
	builder.client = mustClient(t, reg.srv.URL, time.Nanosecond)

	cache := NewCache(builder, 50*time.Millisecond)
	now := time.Now()
	cache.now = func() time.Time { return now }

	first, err := cache.Get(context.Background(), "tg:1")
	require.NoError(t, err)

	reg.failing.Store(true)
	now = now.Add(time.Second)

	degraded, err := cache.Get(context.Background(), "tg:1")
	require.NoError(t, err, "stale snapshot should be served when rebuild fails")
	assert.Same(t, first, degraded)
}

func TestCacheFailureWithoutFallbackIsFatal(t *testing.T) {
	reg := newFlakyRegistry(t)
	reg.failing.Store(true)

	builder, _ := newTestBuilder(t, reg.srv.URL)
	cache := NewCache(builder, time.Minute)

	_, err := cache.Get(context.Background(), "tg:1")
	require.Error(t, err)
}

func TestCacheInvalidateForcesRebuild(t *testing.T) {
	reg := newFlakyRegistry(t)
	builder, _ := newTestBuilder(t, reg.srv.URL)
	builder.client = mustClient(t, reg.srv.URL, time.Nanosecond)
	cache := NewCache(builder, time.Minute)

	_, err := cache.Get(context.Background(), "tg:1")
	require.NoError(t, err)

	cache.Invalidate("tg:1")

	_, err = cache.Get(context.Background(), "tg:1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), reg.builds.Load())
}

func TestCacheCoalescesConcurrentMisses(t *testing.T) {
	reg := newFlakyRegistry(t)
	builder, _ := newTestBuilder(t, reg.srv.URL)
	cache := NewCache(builder, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cache.Get(context.Background(), "tg:1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), reg.builds.Load(), "concurrent misses must coalesce into one build")
}

func TestCacheKnownListsCachedChats(t *testing.T) {
	reg := newFlakyRegistry(t)
	builder, _ := newTestBuilder(t, reg.srv.URL)
	cache := NewCache(builder, time.Minute)

	_, err := cache.Get(context.Background(), "tg:1")
	require.NoError(t, err)
	_, err = cache.Get(context.Background(), "tg:2")
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"tg:1", "tg:2"}, cache.Known())
}
