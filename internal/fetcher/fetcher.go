// Package fetcher is the outbound HTTP layer: token-bucket paced, bounded in
// concurrency, retried on transient failures and backed by the content cache.
package fetcher

import (
	"context"
	"net/http"
	"time"
)

// Fetcher is the part of Client the validators depend on.
type Fetcher interface {
	// Get fetches url. 4xx answers are returned as responses, not errors.
	Get(ctx context.Context, url string, opts GetOptions) (*Response, error)

	// CheckURL issues a lightweight existence check. Network failures are
	// reported in URLCheck.Error; only malformed URLs return an error.
	CheckURL(ctx context.Context, url string) (*URLCheck, error)
}

// GetOptions controls cache use for a single Get.
type GetOptions struct {
	UseCache     bool
	TTL          time.Duration // zero means the client default
	ForceRefresh bool
}

// DefaultGet reads through the cache with the default TTL.
var DefaultGet = GetOptions{UseCache: true}

// Response is a fully read HTTP response.
type Response struct {
	URL         string      `json:"url"`
	StatusCode  int         `json:"status_code"`
	Header      http.Header `json:"headers"`
	Body        []byte      `json:"body"`
	ContentHash string      `json:"content_hash,omitempty"`
	FetchedAt   time.Time   `json:"fetched_at"`
	FromCache   bool        `json:"-"`
}

// Text returns the body as a string.
func (r *Response) Text() string {
	return string(r.Body)
}

// OK reports a 200 answer.
func (r *Response) OK() bool {
	return r.StatusCode == http.StatusOK
}

// URLCheck is the outcome of CheckURL.
type URLCheck struct {
	URL         string      `json:"url"`
	StatusCode  int         `json:"status_code"`
	IsRedirect  bool        `json:"is_redirect"`
	RedirectURL string      `json:"redirect_url,omitempty"`
	Header      http.Header `json:"headers,omitempty"`
	Error       string      `json:"error,omitempty"`
	CheckedAt   time.Time   `json:"checked_at"`
}

// Reachable reports whether the check produced an HTTP status at all.
func (c *URLCheck) Reachable() bool {
	return c.StatusCode > 0
}
