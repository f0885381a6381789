package validation

import (
	"context"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/parentmap/venue-pipeline/internal/cache"
	"github.com/parentmap/venue-pipeline/internal/fetcher"
	"github.com/parentmap/venue-pipeline/internal/model"
)

// Cheap-check outcomes.
const (
	cheapPassConfidence    = 70
	cheapFailConfidence    = 50
	inconclusiveConfidence = 40
	socialBonus            = 5

	minDescriptionLen = 20
)

// CheapValidator runs the low-cost checks: website reachability, content
// drift, social presence and field completeness. It never calls a search or
// reasoning backend.
type CheapValidator struct {
	fetcher fetcher.Fetcher
	cache   cache.Cache
	nowFunc func() time.Time
	log     *zap.Logger
}

// NewCheapValidator builds a CheapValidator. c may be nil, which disables
// content drift detection.
func NewCheapValidator(f fetcher.Fetcher, c cache.Cache) *CheapValidator {
	return &CheapValidator{
		fetcher: f,
		cache:   c,
		nowFunc: time.Now,
		log:     zap.L().With(zap.String("component", "cheap_validator")),
	}
}

// Validate checks v and returns a record with stage, confidence and risk
// tier set. Sub-check failures are logged and leave the record inconclusive.
func (c *CheapValidator) Validate(ctx context.Context, v *model.Venue) *model.ValidationRecord {
	rec := model.NewValidationRecord(v.ID, c.nowFunc())
	log := c.log.With(zap.String("venue_id", v.ID))

	if v.WebsiteURL != "" {
		c.checkWebsite(ctx, v, rec, log)
	}
	if v.FacebookURL != "" {
		check, err := c.fetcher.CheckURL(ctx, v.FacebookURL)
		if err != nil {
			log.Warn("social check failed", zap.String("url", v.FacebookURL), zap.Error(err))
		} else if check.StatusCode == http.StatusOK {
			rec.SocialActive = true
		}
	}
	rec.MissingFields = missingFields(v)

	switch {
	case rec.HTTPOk && len(rec.MissingFields) == 0:
		rec.Stage = model.StageCheapPass
		rec.SetConfidence(cheapPassConfidence)
		rec.RiskTier = model.RiskLow
	case rec.HTTPStatus == http.StatusNotFound || rec.HTTPStatus == http.StatusGone:
		rec.Stage = model.StageCheapFail
		rec.Status = model.StatusSuspectedClosed
		rec.SetConfidence(cheapFailConfidence)
		rec.RiskTier = model.RiskHigh
	default:
		rec.Stage = model.StageSearchFlag
		conf := inconclusiveConfidence
		if rec.SocialActive {
			conf += socialBonus
		}
		rec.SetConfidence(conf)
		rec.RiskTier = model.RiskMedium
	}

	log.Debug("cheap checks done",
		zap.Int("http_status", rec.HTTPStatus),
		zap.String("stage", string(rec.Stage)),
		zap.Strings("missing_fields", rec.MissingFields),
	)
	return rec
}

func (c *CheapValidator) checkWebsite(ctx context.Context, v *model.Venue, rec *model.ValidationRecord, log *zap.Logger) {
	check, err := c.fetcher.CheckURL(ctx, v.WebsiteURL)
	if err != nil {
		log.Warn("website check failed", zap.String("url", v.WebsiteURL), zap.Error(err))
		return
	}
	checkedAt := check.CheckedAt.UTC()
	rec.HTTPCheckedAt = &checkedAt
	rec.HTTPStatus = check.StatusCode
	rec.HTTPOk = httpOK(check.StatusCode)
	if !rec.HTTPOk {
		return
	}

	resp, err := c.fetcher.Get(ctx, v.WebsiteURL, fetcher.DefaultGet)
	if err != nil {
		log.Warn("website fetch failed", zap.String("url", v.WebsiteURL), zap.Error(err))
		return
	}

	rec.ContentHash = cache.PartialHash(resp.Text())
	if c.cache != nil {
		// A first-seen hash (new venue, cleared cache) is a baseline, not drift.
		changed, known, err := c.cache.CompareHash(ctx, "content_hash:"+v.ID, rec.ContentHash)
		if err != nil {
			log.Warn("content hash compare failed", zap.Error(err))
		} else {
			rec.ContentHashChanged = changed && known
		}
	}
	rec.LastModified = parseLastModified(resp.Header.Get("Last-Modified"))
	rec.ETag = resp.Header.Get("ETag")
}

func httpOK(code int) bool {
	return code == http.StatusOK || code == http.StatusMovedPermanently || code == http.StatusFound
}

func missingFields(v *model.Venue) []string {
	var missing []string
	if strings.TrimSpace(v.Address) == "" {
		missing = append(missing, "address")
	}
	if !v.Contact() {
		missing = append(missing, "contact")
	}
	if utf8.RuneCountInString(strings.TrimSpace(v.Description)) < minDescriptionLen {
		missing = append(missing, "description")
	}
	return missing
}

func parseLastModified(h string) *time.Time {
	h = strings.TrimSpace(h)
	if h == "" {
		return nil
	}
	for _, layout := range []string{http.TimeFormat, time.RFC1123, time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, h); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
