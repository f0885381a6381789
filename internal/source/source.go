// Package source pulls venue candidates out of configured feeds, sitemaps,
// listing pages and hand-maintained lists.
package source

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/parentmap/venue-pipeline/internal/fetcher"
	"github.com/parentmap/venue-pipeline/internal/model"
	"github.com/parentmap/venue-pipeline/internal/resilience"
)

// Extractor produces raw candidates from one configured source.
type Extractor interface {
	ExtractCandidates(ctx context.Context, src model.SourceConfig) ([]model.CandidateFact, error)
}

const (
	defaultRecencyDays = 30
	// maxArticles caps article fetches per sitemap or tag-page source.
	maxArticles     = 50
	articleWorkers  = 4
	maxDescription  = 500
	maxMetaDescLen  = 300
	contentHashSize = 16
)

// Client extracts candidates over the shared fetcher.
type Client struct {
	fetcher fetcher.Fetcher
	nowFunc func() time.Time
	log     *zap.Logger
}

var _ Extractor = (*Client)(nil)

// New creates a Client that fetches through f.
func New(f fetcher.Fetcher) *Client {
	return &Client{
		fetcher: f,
		nowFunc: time.Now,
		log:     zap.L().With(zap.String("component", "source")),
	}
}

// ExtractCandidates dispatches on the source type. Feed-style sources honour
// the recency window and keyword filter; manual lists are taken as-is.
func (c *Client) ExtractCandidates(ctx context.Context, src model.SourceConfig) ([]model.CandidateFact, error) {
	log := c.log.With(zap.String("source", src.Name), zap.String("type", string(src.Type)))

	var (
		out []model.CandidateFact
		err error
	)
	switch src.Type {
	case model.SourceRSS:
		out, err = c.extractFeed(ctx, src)
	case model.SourceSitemap:
		out, err = c.extractSitemap(ctx, src)
	case model.SourceTagPage:
		out, err = c.extractTagPage(ctx, src)
	case model.SourceManual:
		out, err = LoadManual(src.Path, src.Name, c.nowFunc())
	default:
		return nil, resilience.InvalidRequestf("source %s: unknown type %q", src.Name, src.Type)
	}
	if err != nil {
		return nil, err
	}

	log.Info("candidates extracted", zap.Int("count", len(out)))
	return out, nil
}

// fetchOK returns a 200 answer; anything else is an error.
func (c *Client) fetchOK(ctx context.Context, rawURL string) (*fetcher.Response, error) {
	resp, err := c.fetcher.Get(ctx, rawURL, fetcher.DefaultGet)
	if err != nil {
		return nil, eris.Wrapf(err, "source: fetch %s", rawURL)
	}
	if !resp.OK() {
		return nil, eris.Errorf("source: %s returned HTTP %d", rawURL, resp.StatusCode)
	}
	return resp, nil
}

// withinWindow reports whether published falls inside the recency window.
// Undated items are kept.
func withinWindow(published *time.Time, days int, now time.Time) bool {
	if published == nil {
		return true
	}
	if days <= 0 {
		days = defaultRecencyDays
	}
	return now.Sub(*published) <= time.Duration(days)*24*time.Hour
}

// matchesKeywords is a case-insensitive any-match. No keywords matches all.
func matchesKeywords(text string, keywords []string) bool {
	if len(keywords) == 0 {
		return true
	}
	l := strings.ToLower(text)
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(l, kw) {
			return true
		}
	}
	return false
}

func contentHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:contentHashSize]
}

var dateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC3339,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"Mon, 02 Jan 2006 15:04:05",
	"02/01/2006",
	"02-01-2006",
}

func parseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
