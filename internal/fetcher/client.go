package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/parentmap/venue-pipeline/internal/cache"
	"github.com/parentmap/venue-pipeline/internal/metrics"
	"github.com/parentmap/venue-pipeline/internal/resilience"
)

const (
	getKeyPrefix   = "http:get:"
	checkKeyPrefix = "http:check:"

	// CheckTTL is how long a CheckURL result is reused.
	CheckTTL = time.Hour

	defaultMaxBody = 5 << 20
)

// Options configures a Client.
type Options struct {
	UserAgent         string
	Timeout           time.Duration // whole request, including body
	ConnectTimeout    time.Duration
	ReadTimeout       time.Duration // until response headers
	WriteTimeout      time.Duration // TLS handshake and request send
	RequestsPerMinute int
	MaxConcurrent     int
	CacheTTL          time.Duration
	MaxBodyBytes      int64
	Retry             resilience.RetryConfig
}

func (o *Options) applyDefaults() {
	if o.UserAgent == "" {
		o.UserAgent = "venue-pipeline/1.0"
	}
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 5 * time.Second
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = o.Timeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.RequestsPerMinute <= 0 {
		o.RequestsPerMinute = 30
	}
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = 5
	}
	if o.CacheTTL <= 0 {
		o.CacheTTL = cache.DefaultTTL
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = defaultMaxBody
	}
	if o.Retry.MaxAttempts == 0 {
		o.Retry = resilience.DefaultRetryConfig()
	}
}

// Client is the shared fetch client. One instance per process: its limiter
// and semaphore pace every caller.
type Client struct {
	http    *http.Client
	limiter *rate.Limiter
	sem     *semaphore.Weighted
	cache   cache.Cache
	opts    Options
	log     *zap.Logger
	nowFunc func() time.Time
}

// New creates a Client. c may be nil to disable caching.
func New(opts Options, c cache.Cache) *Client {
	opts.applyDefaults()

	dialer := &net.Dialer{Timeout: opts.ConnectTimeout, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   opts.WriteTimeout,
		ExpectContinueTimeout: opts.WriteTimeout,
		ResponseHeaderTimeout: opts.ReadTimeout,
		MaxIdleConnsPerHost:   opts.MaxConcurrent,
		IdleConnTimeout:       90 * time.Second,
	}

	rpm := opts.RequestsPerMinute
	return &Client{
		http:    &http.Client{Timeout: opts.Timeout, Transport: transport},
		limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm),
		sem:     semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		cache:   c,
		opts:    opts,
		log:     zap.L().With(zap.String("component", "fetcher")),
		nowFunc: time.Now,
	}
}

// MaxConcurrent is the size of the concurrency pool.
func (c *Client) MaxConcurrent() int {
	return c.opts.MaxConcurrent
}

// Get fetches rawURL. The cache is consulted before any token is taken; 200
// answers are stored with their content hash.
func (c *Client) Get(ctx context.Context, rawURL string, opts GetOptions) (*Response, error) {
	if err := validateURL(rawURL); err != nil {
		return nil, err
	}
	key := getKeyPrefix + rawURL

	if opts.UseCache && !opts.ForceRefresh {
		if resp := c.cachedResponse(ctx, key); resp != nil {
			metrics.ObserveCacheHit("get")
			return resp, nil
		}
	}

	release, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	resp, err := resilience.DoVal(ctx, c.retryConfig(rawURL), func(ctx context.Context) (*Response, error) {
		return c.do(ctx, http.MethodGet, rawURL)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: get %s", rawURL)
	}

	if opts.UseCache && resp.OK() && c.cache != nil {
		ttl := opts.TTL
		if ttl <= 0 {
			ttl = c.opts.CacheTTL
		}
		c.store(ctx, key, resp, resp.ContentHash, ttl)
	}
	return resp, nil
}

// CheckURL issues a HEAD (falling back to GET when HEAD is refused) and
// reports the final status and whether redirects were followed.
func (c *Client) CheckURL(ctx context.Context, rawURL string) (*URLCheck, error) {
	if err := validateURL(rawURL); err != nil {
		return nil, err
	}
	key := checkKeyPrefix + rawURL

	if c.cache != nil {
		if e, err := c.cache.Get(ctx, key); err == nil && e != nil {
			var chk URLCheck
			if json.Unmarshal(e.Value, &chk) == nil {
				metrics.ObserveCacheHit("check")
				return &chk, nil
			}
		}
	}

	release, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	chk := &URLCheck{URL: rawURL, CheckedAt: c.nowFunc().UTC()}
	resp, err := resilience.DoVal(ctx, c.retryConfig(rawURL), func(ctx context.Context) (*Response, error) {
		r, err := c.do(ctx, http.MethodHead, rawURL)
		if err == nil && (r.StatusCode == http.StatusMethodNotAllowed || r.StatusCode == http.StatusNotImplemented) {
			return c.do(ctx, http.MethodGet, rawURL)
		}
		return r, err
	})
	if err != nil {
		var se *resilience.ServerError
		if errors.As(err, &se) {
			chk.StatusCode = se.StatusCode
		}
		chk.Error = err.Error()
		c.log.Debug("url check failed", zap.String("url", rawURL), zap.Error(err))
		if chk.StatusCode > 0 {
			c.store(ctx, key, chk, "", CheckTTL)
		}
		return chk, nil
	}

	chk.StatusCode = resp.StatusCode
	chk.Header = resp.Header
	if resp.URL != rawURL {
		chk.IsRedirect = true
		chk.RedirectURL = resp.URL
		chk.URL = resp.URL
	}
	c.store(ctx, key, chk, "", CheckTTL)
	return chk, nil
}

// BatchCheckURLs checks urls concurrently, at most MaxConcurrent at a time.
func (c *Client) BatchCheckURLs(ctx context.Context, urls []string) (map[string]*URLCheck, error) {
	results := make([]*URLCheck, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.MaxConcurrent)
	for i, u := range urls {
		g.Go(func() error {
			chk, err := c.CheckURL(gctx, u)
			if err != nil {
				chk = &URLCheck{URL: u, Error: err.Error(), CheckedAt: c.nowFunc().UTC()}
			}
			results[i] = chk
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]*URLCheck, len(urls))
	for i, u := range urls {
		out[u] = results[i]
	}
	return out, ctx.Err()
}

// acquire takes a rate token, then a concurrency slot.
func (c *Client) acquire(ctx context.Context) (func(), error) {
	start := time.Now()
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "fetcher: rate limiter wait")
	}
	metrics.ObserveRateLimitWait(time.Since(start))

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, eris.Wrap(err, "fetcher: acquire slot")
	}
	return func() { c.sem.Release(1) }, nil
}

func (c *Client) retryConfig(rawURL string) resilience.RetryConfig {
	cfg := c.opts.Retry
	logRetry := resilience.RetryLogger("fetcher", rawURL)
	cfg.OnRetry = func(attempt int, err error) {
		metrics.ObserveRetry()
		logRetry(attempt, err)
	}
	return cfg
}

// do performs one attempt. Network failures become TransientError and 5xx
// answers become ServerError; everything else is a normal response.
func (c *Client) do(ctx context.Context, method, rawURL string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, resilience.InvalidRequestf("fetcher: build request for %q: %v", rawURL, err)
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "zh-HK,zh;q=0.9,en;q=0.8")

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ObserveFetch(method, "error")
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "fetcher: request cancelled")
		}
		return nil, resilience.NewTransientError(err, 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	metrics.ObserveFetch(method, metrics.StatusClass(resp.StatusCode))
	if resilience.IsServerStatus(resp.StatusCode) {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &resilience.ServerError{StatusCode: resp.StatusCode, URL: rawURL}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.opts.MaxBodyBytes))
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "read body"), resp.StatusCode)
	}

	out := &Response{
		URL:        resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
		FetchedAt:  c.nowFunc().UTC(),
	}
	if resp.StatusCode == http.StatusOK {
		out.ContentHash = cache.ContentHash(body)
	}
	return out, nil
}

func (c *Client) cachedResponse(ctx context.Context, key string) *Response {
	if c.cache == nil {
		return nil
	}
	e, err := c.cache.Get(ctx, key)
	if err != nil {
		c.log.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		return nil
	}
	if e == nil {
		return nil
	}
	var resp Response
	if err := json.Unmarshal(e.Value, &resp); err != nil {
		return nil
	}
	resp.FromCache = true
	return &resp
}

// store writes v to the cache. Failures are logged; the cache is disposable.
func (c *Client) store(ctx context.Context, key string, v any, hash string, ttl time.Duration) {
	if c.cache == nil {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		c.log.Warn("cache encode failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.cache.Set(ctx, key, raw, hash, ttl); err != nil {
		c.log.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// validateURL accepts absolute http(s) URLs with a host.
func validateURL(rawURL string) error {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return resilience.InvalidRequestf("fetcher: parse url %q", rawURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return resilience.InvalidRequestf("fetcher: url %q is not http(s)", rawURL)
	}
	if u.Host == "" {
		return resilience.InvalidRequestf("fetcher: url %q has no host", rawURL)
	}
	return nil
}
