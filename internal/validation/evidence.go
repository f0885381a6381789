package validation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/parentmap/venue-pipeline/internal/model"
)

// DefaultMaxEvidence bounds how many evidence items Collect returns.
const DefaultMaxEvidence = 10

// EvidenceCollector gathers web evidence about a venue's operating status.
type EvidenceCollector struct {
	search      SearchCapability
	maxEvidence int
	nowFunc     func() time.Time
	log         *zap.Logger
}

// NewEvidenceCollector builds a collector. search may be nil, in which case
// Collect always returns no evidence.
func NewEvidenceCollector(search SearchCapability, maxEvidence int) *EvidenceCollector {
	if maxEvidence <= 0 {
		maxEvidence = DefaultMaxEvidence
	}
	return &EvidenceCollector{
		search:      search,
		maxEvidence: maxEvidence,
		nowFunc:     time.Now,
		log:         zap.L().With(zap.String("component", "evidence_collector")),
	}
}

// Queries returns the default search queries for v.
func Queries(v *model.Venue, now time.Time) []string {
	year := now.Year()
	name := strings.TrimSpace(v.Name)
	district := strings.TrimSpace(v.District)
	return []string{
		strings.TrimSpace(fmt.Sprintf("%s %s", name, district)),
		fmt.Sprintf("%s 結業 停止營業", name),
		fmt.Sprintf("%s 營業時間 %d", name, year),
		strings.Join(strings.Fields(fmt.Sprintf("%s %s %d %d", name, district, year-1, year)), " "),
	}
}

// Collect runs terms (or the default queries when terms is empty) and returns
// up to maxEvidence items, deduplicated by URL in query order. Backend
// failures are logged and yield whatever was collected so far; Collect never
// fails.
func (c *EvidenceCollector) Collect(ctx context.Context, v *model.Venue, terms []string) []model.Evidence {
	log := c.log.With(zap.String("venue_id", v.ID))
	if c.search == nil {
		log.Warn("no search backend configured, skipping evidence collection")
		return nil
	}

	now := c.nowFunc()
	if len(terms) == 0 {
		terms = Queries(v, now)
	}

	seen := make(map[string]bool)
	var out []model.Evidence
	for _, q := range terms {
		if len(out) >= c.maxEvidence || ctx.Err() != nil {
			break
		}
		hits, err := c.search.Search(ctx, q)
		if err != nil {
			log.Warn("evidence search failed", zap.String("query", q), zap.Error(err))
			continue
		}
		for _, h := range hits {
			u := strings.TrimSpace(h.URL)
			if u == "" || seen[u] {
				continue
			}
			seen[u] = true
			ev := model.NewEvidence(u, h.Title, h.Snippet, now)
			ev.PublishedAt = h.PublishedAt
			if isSocialURL(u) {
				ev.Type = model.EvidenceSocial
			}
			out = append(out, ev)
			if len(out) >= c.maxEvidence {
				break
			}
		}
	}

	log.Debug("evidence collected", zap.Int("queries", len(terms)), zap.Int("evidence", len(out)))
	return out
}

func isSocialURL(u string) bool {
	l := strings.ToLower(u)
	for _, host := range []string{"facebook.com", "instagram.com", "fb.com", "threads.net"} {
		if strings.Contains(l, host) {
			return true
		}
	}
	return false
}
