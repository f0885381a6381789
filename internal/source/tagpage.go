package source

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/parentmap/venue-pipeline/internal/model"
)

// extractTagPage walks a category listing, ?page=N for pages after the
// first, and parses each linked article that is recent enough.
func (c *Client) extractTagPage(ctx context.Context, src model.SourceConfig) ([]model.CandidateFact, error) {
	base, err := url.Parse(src.URL)
	if err != nil {
		return nil, eris.Wrapf(err, "source %s: parse url", src.Name)
	}

	pages := max(src.MaxPages, 1)
	now := c.nowFunc()
	seen := map[string]bool{}
	var urls []string
	for page := 1; page <= pages; page++ {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "source: tag page walk interrupted")
		}
		pageURL := pageURLFor(base, page)

		resp, err := c.fetchOK(ctx, pageURL)
		if err != nil {
			if page == 1 {
				return nil, err
			}
			c.log.Warn("listing page skipped", zap.String("url", pageURL), zap.Error(err))
			break
		}
		doc, err := parseHTML(resp.Body, resp.Header.Get("Content-Type"))
		if err != nil {
			return nil, err
		}

		for _, art := range findAll(doc, "article") {
			link := articleLink(art, base)
			if link == "" || seen[link] {
				continue
			}
			if !withinWindow(articleDate(art), src.RecencyWindowDays, now) {
				continue
			}
			seen[link] = true
			urls = append(urls, link)
		}
	}

	return c.parseArticles(ctx, urls, src), nil
}

func pageURLFor(base *url.URL, page int) string {
	if page == 1 {
		return base.String()
	}
	u := *base
	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String()
}

// articleLink returns the first absolute http(s) link inside art.
func articleLink(art *html.Node, base *url.URL) string {
	for _, a := range findAll(art, "a") {
		href := strings.TrimSpace(attr(a, "href"))
		if href == "" || strings.HasPrefix(href, "#") {
			continue
		}
		ref, err := url.Parse(href)
		if err != nil {
			continue
		}
		abs := base.ResolveReference(ref)
		if abs.Scheme != "http" && abs.Scheme != "https" {
			continue
		}
		abs.Fragment = ""
		return abs.String()
	}
	return ""
}

// articleDate reads <time datetime> or the text of the first <time>.
func articleDate(art *html.Node) *time.Time {
	t := findFirst(art, "time")
	if t == nil {
		return nil
	}
	return parseDate(firstNonEmpty(attr(t, "datetime"), textOf(t)))
}
