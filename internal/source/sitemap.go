package source

import (
	"bytes"
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/parentmap/venue-pipeline/internal/fetcher"
	"github.com/parentmap/venue-pipeline/internal/model"
)

type sitemapURL struct {
	Loc     string `xml:"loc"`
	LastMod string `xml:"lastmod"`
}

// extractSitemap reads sitemap.xml and parses every recently modified page.
func (c *Client) extractSitemap(ctx context.Context, src model.SourceConfig) ([]model.CandidateFact, error) {
	resp, err := c.fetchOK(ctx, src.URL)
	if err != nil {
		return nil, err
	}
	entries, err := fetcher.CollectXML[sitemapURL](ctx, bytes.NewReader(resp.Body), 0, "url")
	if err != nil {
		return nil, eris.Wrapf(err, "source %s: parse sitemap", src.Name)
	}

	now := c.nowFunc()
	seen := make(map[string]bool, len(entries))
	var urls []string
	for _, e := range entries {
		loc := strings.TrimSpace(e.Loc)
		if loc == "" || seen[loc] {
			continue
		}
		if !withinWindow(parseDate(e.LastMod), src.RecencyWindowDays, now) {
			continue
		}
		seen[loc] = true
		urls = append(urls, loc)
	}

	return c.parseArticles(ctx, urls, src), nil
}
