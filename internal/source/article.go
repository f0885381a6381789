package source

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/parentmap/venue-pipeline/internal/model"
)

// parseArticle reads one article page. It returns nil when the page is off
// topic or has no usable title.
func (c *Client) parseArticle(ctx context.Context, rawURL string, src model.SourceConfig) (*model.CandidateFact, error) {
	resp, err := c.fetchOK(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	doc, err := parseHTML(resp.Body, resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, err
	}

	title := textOf(findFirst(doc, "h1", "title"))
	body := textOf(findFirst(doc, "article", "main", "body"))
	if !matchesKeywords(title+" "+body, src.Keywords) {
		return nil, nil
	}

	name := nameFromTitle(strings.ReplaceAll(title, "\n", " "))
	if name == "" {
		return nil, nil
	}

	desc := metaDescription(doc)
	if desc == "" {
		if p := findFirst(doc, "p"); p != nil {
			desc = textOf(p)
		}
	}

	cand := &model.CandidateFact{
		Name:        name,
		Description: model.Truncate(strings.ReplaceAll(desc, "\n", " "), maxMetaDescLen),
		SourceURL:   rawURL,
		SourceName:  src.Name,
		ExtractedAt: c.nowFunc().UTC(),
		ContentHash: contentHash(body),
	}
	applyHeuristics(cand, body)
	return cand, nil
}

// parseArticles fetches urls with a small worker pool, keeping input order.
// Failing pages are logged and skipped.
func (c *Client) parseArticles(ctx context.Context, urls []string, src model.SourceConfig) []model.CandidateFact {
	if len(urls) > maxArticles {
		c.log.Info("capping article fetches",
			zap.String("source", src.Name), zap.Int("found", len(urls)), zap.Int("cap", maxArticles))
		urls = urls[:maxArticles]
	}

	results := make([]*model.CandidateFact, len(urls))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(articleWorkers)
	for i, u := range urls {
		g.Go(func() error {
			cand, err := c.parseArticle(gctx, u, src)
			if err != nil {
				c.log.Warn("article skipped", zap.String("url", u), zap.Error(err))
				return nil
			}
			mu.Lock()
			results[i] = cand
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	var out []model.CandidateFact
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}
