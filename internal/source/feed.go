package source

import (
	"bytes"
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/parentmap/venue-pipeline/internal/fetcher"
	"github.com/parentmap/venue-pipeline/internal/model"
)

// feedLink covers both RSS <link>url</link> and Atom <link href="url"/>.
type feedLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
	Text string `xml:",chardata"`
}

// feedItem is an RSS <item> or an Atom <entry>.
type feedItem struct {
	Title       string     `xml:"title"`
	Links       []feedLink `xml:"link"`
	GUID        string     `xml:"guid"`
	Description string     `xml:"description"`
	Summary     string     `xml:"summary"`
	Content     string     `xml:"content"`
	PubDate     string     `xml:"pubDate"`
	Published   string     `xml:"published"`
	Updated     string     `xml:"updated"`
	Date        string     `xml:"date"`
}

func (it feedItem) link() string {
	for _, l := range it.Links {
		if l.Href != "" && (l.Rel == "" || l.Rel == "alternate") {
			return strings.TrimSpace(l.Href)
		}
		if t := strings.TrimSpace(l.Text); t != "" {
			return t
		}
	}
	if strings.HasPrefix(it.GUID, "http") {
		return strings.TrimSpace(it.GUID)
	}
	return ""
}

// extractFeed reads an RSS or Atom feed. Each recent, on-topic entry becomes
// one candidate named after the post title.
func (c *Client) extractFeed(ctx context.Context, src model.SourceConfig) ([]model.CandidateFact, error) {
	resp, err := c.fetchOK(ctx, src.URL)
	if err != nil {
		return nil, err
	}
	items, err := fetcher.CollectXML[feedItem](ctx, bytes.NewReader(resp.Body), 0, "item", "entry")
	if err != nil {
		return nil, eris.Wrapf(err, "source %s: parse feed", src.Name)
	}

	now := c.nowFunc()
	var out []model.CandidateFact
	for _, it := range items {
		published := parseDate(firstNonEmpty(it.PubDate, it.Published, it.Updated, it.Date))
		if !withinWindow(published, src.RecencyWindowDays, now) {
			continue
		}

		title := plainText(it.Title)
		summary := plainText(firstNonEmpty(it.Description, it.Summary, it.Content))
		text := strings.TrimSpace(title + " " + summary)
		if !matchesKeywords(text, src.Keywords) {
			continue
		}

		name := nameFromTitle(title)
		if name == "" {
			c.log.Debug("feed entry without title", zap.String("source", src.Name))
			continue
		}

		cand := model.CandidateFact{
			Name:        name,
			Description: model.Truncate(summary, maxDescription),
			SourceURL:   firstNonEmpty(it.link(), src.URL),
			SourceName:  src.Name,
			PublishedAt: published,
			ExtractedAt: now.UTC(),
			ContentHash: contentHash(text),
		}
		applyHeuristics(&cand, text)
		out = append(out, cand)
	}
	return out, nil
}
