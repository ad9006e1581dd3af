package registry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/majordomo/internal/config"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := New(config.RegistryConfig{
		BaseURL:      baseURL,
		Timeout:      2 * time.Second,
		DocumentTTL:  time.Minute,
		FetchRetries: 3,
	})
	require.NoError(t, err)
	return c
}

func TestFetchChatConfigParsesAndCaches(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`{"id":"c1","services":[{"service_ref":"service-configs/s1.json","expose":true}]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	cfg, err := c.FetchChatConfig(context.Background(), "bot-configs/c1.json")
	require.NoError(t, err)
	assert.Equal(t, "c1", cfg.ID)

	// Second fetch within the document TTL is served from cache.
	_, err = c.FetchChatConfig(context.Background(), "bot-configs/c1.json")
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetchRetriesTransientThenSucceeds(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"id":"c1"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	cfg, err := c.FetchChatConfig(context.Background(), "bot-configs/c1.json")
	require.NoError(t, err)
	assert.Equal(t, "c1", cfg.ID)
	assert.Equal(t, int32(3), hits.Load())
}

func TestFetchDoesNotRetryNotFound(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.FetchChatConfig(context.Background(), "bot-configs/missing.json")
	var resErr *ResolutionError
	require.ErrorAs(t, err, &resErr)
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetchServiceConfigInvalidIsResolutionError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"s1","kind":"nope","source":{"url":"https://a/b"}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.FetchServiceConfig(context.Background(), "service-configs/s1.json")
	var resErr *ResolutionError
	require.ErrorAs(t, err, &resErr)
}

func TestFetchDatasetETagRoundTrip(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Write([]byte(`{"entries":[]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	body, etag, notModified, err := c.FetchDataset(context.Background(), srv.URL+"/datasets/d1.json", "")
	require.NoError(t, err)
	assert.False(t, notModified)
	assert.Equal(t, `"v1"`, etag)
	assert.JSONEq(t, `{"entries":[]}`, string(body))

	body, _, notModified, err = c.FetchDataset(context.Background(), srv.URL+"/datasets/d1.json", `"v1"`)
	require.NoError(t, err)
	assert.True(t, notModified)
	assert.Nil(t, body)
}

func TestWithinBase(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, "https://configs.example.org/majordomo")

	assert.True(t, c.WithinBase("https://configs.example.org/majordomo/bot-configs/x.json"))
	assert.False(t, c.WithinBase("https://configs.example.org/other/x.json"))
	assert.False(t, c.WithinBase("https://elsewhere.example.org/majordomo/x.json"))
	assert.False(t, c.WithinBase("bot-configs/x.json"))
}

func TestResolveRef(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, "https://configs.example.org/majordomo")

	assert.Equal(t,
		"https://configs.example.org/majordomo/bot-configs/x.json",
		c.ResolveRef("bot-configs/x.json"))
	assert.Equal(t,
		"https://configs.example.org/majordomo/bot-configs/y.json",
		c.ResolveRef("https://configs.example.org/majordomo/bot-configs/y.json"))
}
