// Package validation decides whether a venue is still operating: cheap
// reachability checks first, then web evidence, then a reasoning backend.
package validation

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/parentmap/venue-pipeline/internal/metrics"
	"github.com/parentmap/venue-pipeline/internal/model"
	"github.com/parentmap/venue-pipeline/internal/resilience"
)

// Options tunes a Validator.
type Options struct {
	Schedule model.Schedule
	// MinEvidenceURLs is the smallest evidence list worth adjudicating.
	// Shorter lists go straight to review.
	MinEvidenceURLs int
}

// Validator runs the full check of one venue.
type Validator struct {
	cheap       *CheapValidator
	collector   *EvidenceCollector
	adjudicator *Adjudicator
	opts        Options
	newID       func() string
	log         *zap.Logger
}

// New builds a Validator from its stages.
func New(cheap *CheapValidator, collector *EvidenceCollector, adjudicator *Adjudicator, opts Options) *Validator {
	if opts.MinEvidenceURLs <= 0 {
		opts.MinEvidenceURLs = 1
	}
	return &Validator{
		cheap:       cheap,
		collector:   collector,
		adjudicator: adjudicator,
		opts:        opts,
		newID:       uuid.NewString,
		log:         zap.L().With(zap.String("component", "validator")),
	}
}

// Schedule returns the tier intervals used for NextCheckAt.
func (v *Validator) Schedule() model.Schedule {
	return v.opts.Schedule
}

// ValidatePlace checks venue and returns the outcome with NextCheckAt set.
// The venue itself is not modified. Only malformed input and cancellation
// are errors; backend trouble is folded into the record.
func (v *Validator) ValidatePlace(ctx context.Context, venue *model.Venue) (*model.ValidationRecord, error) {
	if venue == nil || strings.TrimSpace(venue.ID) == "" || strings.TrimSpace(venue.Name) == "" {
		return nil, resilience.InvalidRequestf("validation: venue needs an id and a name")
	}
	log := v.log.With(zap.String("venue_id", venue.ID))

	rec := v.cheap.Validate(ctx, venue)
	if rec.Stage == model.StageCheapPass {
		rec.Status = model.StatusOpen
		return v.finish(ctx, rec)
	}

	evidence := v.collector.Collect(ctx, venue, nil)
	if len(evidence) == 0 || len(evidence) < v.opts.MinEvidenceURLs {
		log.Info("insufficient evidence for adjudication",
			zap.Int("evidence", len(evidence)),
			zap.Int("min_evidence", v.opts.MinEvidenceURLs),
			zap.String("cheap_stage", string(rec.Stage)))
		if len(evidence) > 0 {
			rec.SetEvidence(evidence)
		}
		// A gone website stays SuspectedClosed; anything else parks in review.
		if rec.Stage != model.StageCheapFail {
			rec.Status = model.StatusNeedsReview
		}
		rec.Advance(model.StageSearchFlag)
		rec.NeedsReview = true
		rec.Rationale = fmt.Sprintf("found %d evidence item(s), need %d for adjudication", len(evidence), v.opts.MinEvidenceURLs)
		return v.finish(ctx, rec)
	}

	return v.finish(ctx, v.adjudicator.Analyze(ctx, venue, evidence, rec))
}

func (v *Validator) finish(ctx context.Context, rec *model.ValidationRecord) (*model.ValidationRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrapf(err, "validation: venue %s", rec.VenueID)
	}
	rec.NextCheckAt = v.opts.Schedule.Next(rec.RiskTier, rec.CheckedAt)
	metrics.ObserveValidation(string(rec.Stage), string(rec.Status))
	return rec, nil
}

// ValidateNewPlace turns a candidate into a venue, validates it and applies
// the outcome. The venue starts in PendingReview with a fresh id.
func (v *Validator) ValidateNewPlace(ctx context.Context, c model.CandidateFact) (*model.Venue, *model.ValidationRecord, error) {
	if strings.TrimSpace(c.Name) == "" {
		return nil, nil, resilience.InvalidRequestf("validation: candidate from %s has no name", c.SourceURL)
	}

	venue := NewVenue(c, v.newID())
	rec, err := v.ValidatePlace(ctx, venue)
	if err != nil {
		return nil, nil, err
	}
	venue.ApplyValidation(rec)
	return venue, rec, nil
}

// NewVenue converts a candidate into a PendingReview venue with the given id.
func NewVenue(c model.CandidateFact, id string) *model.Venue {
	region := strings.TrimSpace(c.Region)
	if region == "" {
		region = model.RegionForDistrict(c.District)
	}
	category := strings.TrimSpace(c.Category)
	if category == "" {
		category = "other"
	}
	slug := model.Slugify(c.Name)
	if slug == "" {
		slug = id
	}

	v := &model.Venue{
		ID:              id,
		Slug:            slug,
		Name:            strings.TrimSpace(c.Name),
		NameEn:          strings.TrimSpace(c.NameEn),
		Region:          region,
		District:        strings.TrimSpace(c.District),
		Address:         strings.TrimSpace(c.Address),
		Category:        category,
		AgeMin:          c.AgeMin,
		AgeMax:          c.AgeMax,
		PriceTier:       priceTier(c.PriceNote),
		Description:     strings.TrimSpace(c.Description),
		WebsiteURL:      strings.TrimSpace(c.WebsiteURL),
		FacebookURL:     strings.TrimSpace(c.FacebookURL),
		InstagramURL:    strings.TrimSpace(c.InstagramURL),
		Status:          model.StatusPendingReview,
		ValidationStage: model.StageExtracted,
		RiskTier:        model.RiskMedium,
	}
	if c.Indoor != nil {
		v.Indoor = *c.Indoor
	}
	if c.SourceURL != "" {
		v.SourceURLs = []string{c.SourceURL}
	}
	extracted := c.ExtractedAt
	if extracted.IsZero() {
		extracted = time.Now()
	}
	extracted = extracted.UTC()
	v.UpdatedAt = &extracted
	return v
}

var priceAmount = regexp.MustCompile(`\d+(?:\.\d+)?`)

// priceTier buckets a free-text price note into free, low, medium or high
// by the first amount it mentions. A priced note without a readable amount
// is medium.
func priceTier(note string) string {
	l := strings.ToLower(strings.TrimSpace(note))
	switch {
	case l == "":
		return ""
	case strings.Contains(l, "免費"), strings.Contains(l, "free"):
		return "free"
	}
	amount, err := strconv.ParseFloat(priceAmount.FindString(strings.ReplaceAll(l, ",", "")), 64)
	switch {
	case err != nil:
		return "medium"
	case amount == 0:
		return "free"
	case amount <= 100:
		return "low"
	case amount <= 200:
		return "medium"
	default:
		return "high"
	}
}
