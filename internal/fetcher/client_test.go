package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parentmap/venue-pipeline/internal/cache"
	"github.com/parentmap/venue-pipeline/internal/resilience"
)

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2,
	}
}

func newTestCache(t *testing.T) cache.Cache {
	t.Helper()
	c, err := cache.NewSQLite(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() }) //nolint:errcheck
	return c
}

func newTestClient(t *testing.T, rpm int, c cache.Cache) *Client {
	t.Helper()
	return New(Options{
		UserAgent:         "test-agent",
		Timeout:           2 * time.Second,
		RequestsPerMinute: rpm,
		MaxConcurrent:     4,
		Retry:             fastRetry(),
	}, c)
}

func TestGet_ReturnsBodyAndHash(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		assert.Contains(t, r.Header.Get("Accept-Language"), "zh-HK")
		w.Write([]byte("<html>playroom</html>"))
	}))
	defer srv.Close()

	c := newTestClient(t, 600, nil)
	resp, err := c.Get(context.Background(), srv.URL+"/venue", DefaultGet)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "<html>playroom</html>", resp.Text())
	assert.Equal(t, cache.ContentHash([]byte("<html>playroom</html>")), resp.ContentHash)
	assert.False(t, resp.FromCache)
}

func TestGet_NotFoundIsResponseNotError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(t, 600, newTestCache(t))
	resp, err := c.Get(context.Background(), srv.URL, DefaultGet)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, int32(1), calls.Load(), "4xx must not be retried")

	// 404s are not cached.
	_, err = c.Get(context.Background(), srv.URL, DefaultGet)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGet_ServerErrorRetriedThenSurfaced(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestClient(t, 600, nil)
	_, err := c.Get(context.Background(), srv.URL, DefaultGet)
	require.Error(t, err)

	var se *resilience.ServerError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadGateway, se.StatusCode)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGet_ServerErrorRecovers(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := newTestClient(t, 600, nil)
	resp, err := c.Get(context.Background(), srv.URL, DefaultGet)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text())
	assert.Equal(t, int32(2), calls.Load())
}

func TestGet_ConnectionErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := srv.URL
	srv.Close()

	c := newTestClient(t, 600, nil)
	_, err := c.Get(context.Background(), addr, DefaultGet)
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func TestGet_CacheHitSkipsNetworkAndToken(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("ETag", `"v1"`)
		w.Write([]byte("cached body"))
	}))
	defer srv.Close()

	// One token per minute: a second network call would block.
	c := newTestClient(t, 1, newTestCache(t))
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	_, err := c.Get(ctx, srv.URL, DefaultGet)
	require.NoError(t, err)

	resp, err := c.Get(ctx, srv.URL, DefaultGet)
	require.NoError(t, err)
	assert.True(t, resp.FromCache)
	assert.Equal(t, "cached body", resp.Text())
	assert.Equal(t, `"v1"`, resp.Header.Get("ETag"))
	assert.Equal(t, int32(1), calls.Load())
}

func TestGet_ForceRefreshBypassesCache(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte("body"))
	}))
	defer srv.Close()

	c := newTestClient(t, 600, newTestCache(t))
	_, err := c.Get(context.Background(), srv.URL, DefaultGet)
	require.NoError(t, err)
	_, err = c.Get(context.Background(), srv.URL, GetOptions{UseCache: true, ForceRefresh: true})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGet_InvalidURL(t *testing.T) {
	c := newTestClient(t, 600, nil)
	for _, u := range []string{"", "not a url", "/relative/path", "ftp://example.com/file", "http://"} {
		_, err := c.Get(context.Background(), u, DefaultGet)
		require.Error(t, err, u)
		assert.True(t, errors.Is(err, resilience.ErrInvalidRequest), u)
	}
}

func TestRateLimiter_BlocksBeyondBurst(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	const rpm = 60 // one token per second
	c := newTestClient(t, rpm, nil)
	ctx := context.Background()

	for i := 0; i < rpm; i++ {
		_, err := c.Get(ctx, srv.URL, GetOptions{})
		require.NoError(t, err)
	}

	start := time.Now()
	_, err := c.Get(ctx, srv.URL, GetOptions{})
	require.NoError(t, err)
	assert.Greater(t, time.Since(start), 300*time.Millisecond, "call rpm+1 must wait for a token")
}

func TestRateLimiter_SpreadCallsNeverBlock(t *testing.T) {
	const rpm = 30
	c := newTestClient(t, rpm, nil)

	start := time.Now()
	// Exhaust the burst, then one call every 60/rpm seconds.
	for i := 0; i < rpm; i++ {
		require.True(t, c.limiter.AllowN(start, 1))
	}
	interval := time.Minute / rpm
	for i := 1; i <= rpm; i++ {
		assert.True(t, c.limiter.AllowN(start.Add(time.Duration(i)*interval), 1), "call %d", i)
	}
}

func TestRateLimiter_CancelledWhileWaiting(t *testing.T) {
	c := newTestClient(t, 1, nil)
	require.True(t, c.limiter.Allow()) // drain the single token

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Get(ctx, "https://venue.example", GetOptions{})
	assert.Error(t, err)
}

func TestCheckURL_FollowsRedirect(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(t, 600, newTestCache(t))
	chk, err := c.CheckURL(context.Background(), srv.URL+"/old")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, chk.StatusCode)
	assert.True(t, chk.IsRedirect)
	assert.Equal(t, srv.URL+"/new", chk.RedirectURL)
	assert.Empty(t, chk.Error)
}

func TestCheckURL_HeadNotAllowedFallsBackToGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t, 600, nil)
	chk, err := c.CheckURL(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, chk.StatusCode)
}

func TestCheckURL_CachedForAnHour(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusGone)
	}))
	defer srv.Close()

	c := newTestClient(t, 600, newTestCache(t))
	for i := 0; i < 3; i++ {
		chk, err := c.CheckURL(context.Background(), srv.URL)
		require.NoError(t, err)
		assert.Equal(t, http.StatusGone, chk.StatusCode)
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestCheckURL_NetworkFailureReportedNotReturned(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := srv.URL
	srv.Close()

	c := newTestClient(t, 600, newTestCache(t))
	chk, err := c.CheckURL(context.Background(), addr)
	require.NoError(t, err)
	assert.False(t, chk.Reachable())
	assert.NotEmpty(t, chk.Error)
}

func TestCheckURL_ServerErrorKeepsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, 600, nil)
	chk, err := c.CheckURL(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, chk.StatusCode)
	assert.NotEmpty(t, chk.Error)
}

func TestBatchCheckURLs(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc("/gone", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNotFound) })
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(t, 600, nil)
	urls := []string{srv.URL + "/ok", srv.URL + "/gone", "not-a-url"}
	res, err := c.BatchCheckURLs(context.Background(), urls)
	require.NoError(t, err)
	require.Len(t, res, 3)
	assert.Equal(t, http.StatusOK, res[urls[0]].StatusCode)
	assert.Equal(t, http.StatusNotFound, res[urls[1]].StatusCode)
	assert.NotEmpty(t, res[urls[2]].Error)
}
