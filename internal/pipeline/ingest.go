package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/parentmap/venue-pipeline/internal/audit"
	"github.com/parentmap/venue-pipeline/internal/model"
	"github.com/parentmap/venue-pipeline/internal/resilience"
	"github.com/parentmap/venue-pipeline/internal/source"
	"github.com/parentmap/venue-pipeline/internal/store"
)

// PlaceValidator is the part of validation.Validator ingest depends on.
type PlaceValidator interface {
	ValidateNewPlace(ctx context.Context, c model.CandidateFact) (*model.Venue, *model.ValidationRecord, error)
}

// IngestStats summarizes one ingest run.
type IngestStats struct {
	RunID        string        `json:"run_id"`
	DryRun       bool          `json:"dry_run"`
	Sources      int           `json:"sources"`
	SourceErrors int           `json:"source_errors"`
	Candidates   int           `json:"candidates"`
	Duplicates   int           `json:"duplicates"`
	Created      int           `json:"created"`
	Rejected     int           `json:"rejected"`
	Errors       int           `json:"errors"`
	Duration     time.Duration `json:"duration"`
}

// Ingester pulls candidates from sources, drops duplicates, validates the
// rest and stores them as new venues.
type Ingester struct {
	extractor source.Extractor
	validator PlaceValidator
	store     store.Store
	audit     *audit.Logger
	log       *zap.Logger
}

// NewIngester builds an Ingester.
func NewIngester(ex source.Extractor, v PlaceValidator, st store.Store, a *audit.Logger) *Ingester {
	return &Ingester{
		extractor: ex,
		validator: v,
		store:     st,
		audit:     a,
		log:       zap.L().With(zap.String("component", "ingest"), zap.String("run_id", a.RunID())),
	}
}

// Run ingests every source in order. A failing source or candidate is logged
// and counted; only a failed store read or cancellation stops the run. Under
// dryRun nothing is written to the store or the audit log.
func (in *Ingester) Run(ctx context.Context, sources []model.SourceConfig, dryRun bool) (IngestStats, error) {
	start := time.Now()
	stats := IngestStats{RunID: in.audit.RunID(), DryRun: dryRun}

	existing, err := in.store.GetAll(ctx)
	if err != nil {
		return stats, eris.Wrap(err, "ingest: load existing venues")
	}
	detector := source.NewDetector(existing)

	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return stats, eris.Wrap(err, "ingest: cancelled")
		}
		stats.Sources++
		log := in.log.With(zap.String("source", src.Name), zap.String("type", string(src.Type)))

		candidates, err := in.extractor.ExtractCandidates(ctx, src)
		if err != nil {
			if ctx.Err() != nil {
				return stats, eris.Wrap(ctx.Err(), "ingest: cancelled")
			}
			stats.SourceErrors++
			log.Error("source extraction failed", zap.Error(err))
			continue
		}
		log.Info("candidates extracted", zap.Int("candidates", len(candidates)))

		for _, c := range candidates {
			stats.Candidates++
			if id, dup := detector.Duplicate(c); dup {
				stats.Duplicates++
				log.Debug("duplicate candidate", zap.String("name", c.Name), zap.String("venue_id", id))
				continue
			}
			if err := in.ingestOne(ctx, c, detector, dryRun, &stats, log); err != nil {
				return stats, err
			}
		}
	}

	stats.Duration = time.Since(start)
	in.log.Info("ingest complete",
		zap.Bool("dry_run", dryRun),
		zap.Int("sources", stats.Sources),
		zap.Int("source_errors", stats.SourceErrors),
		zap.Int("candidates", stats.Candidates),
		zap.Int("duplicates", stats.Duplicates),
		zap.Int("created", stats.Created),
		zap.Int("rejected", stats.Rejected),
		zap.Int("errors", stats.Errors),
		zap.Duration("duration", stats.Duration),
	)
	return stats, nil
}

// ingestOne returns an error only on cancellation.
func (in *Ingester) ingestOne(ctx context.Context, c model.CandidateFact, detector *source.Detector, dryRun bool, stats *IngestStats, log *zap.Logger) error {
	venue, rec, err := in.validator.ValidateNewPlace(ctx, c)
	if err != nil {
		if ctx.Err() != nil {
			return eris.Wrap(ctx.Err(), "ingest: cancelled")
		}
		if errors.Is(err, resilience.ErrInvalidRequest) {
			stats.Rejected++
			log.Warn("candidate rejected", zap.String("source_url", c.SourceURL), zap.Error(err))
		} else {
			stats.Errors++
			log.Error("candidate validation failed", zap.String("name", c.Name), zap.Error(err))
		}
		return nil
	}
	detector.Add(c, venue.ID)

	if dryRun {
		stats.Created++
		log.Info("would create venue",
			zap.String("name", venue.Name),
			zap.String("status", string(venue.Status)),
			zap.Int("confidence", venue.Confidence))
		return nil
	}

	id, err := in.store.Upsert(ctx, venue)
	if err != nil {
		stats.Errors++
		log.Error("store venue failed", zap.String("name", venue.Name), zap.Error(err))
		return nil
	}
	stats.Created++

	in.logAudit(id, c, rec, log)
	log.Info("venue created",
		zap.String("venue_id", id),
		zap.String("name", venue.Name),
		zap.String("status", string(venue.Status)))
	return nil
}

func (in *Ingester) logAudit(id string, c model.CandidateFact, rec *model.ValidationRecord, log *zap.Logger) {
	sourceURL := c.SourceURL
	if sourceURL == "" {
		sourceURL = "source:" + c.SourceName
	}
	if err := in.audit.LogExtract(id, sourceURL, ExtractedFields(c)); err != nil {
		log.Warn("audit write failed", zap.String("venue_id", id), zap.Error(err))
	}
	var err error
	if rec.Status != model.StatusPendingReview {
		err = in.audit.LogStatusChange(id, model.StatusPendingReview, rec.Status, rec.Rationale, rec.EvidenceURLs)
	} else {
		err = in.audit.LogValidation(id, rec.Stage, rec.Confidence, rec.EvidenceURLs)
	}
	if err != nil {
		log.Warn("audit write failed", zap.String("venue_id", id), zap.Error(err))
	}
}

// ExtractedFields lists the candidate fields that carry a value.
func ExtractedFields(c model.CandidateFact) []string {
	var fields []string
	add := func(name string, ok bool) {
		if ok {
			fields = append(fields, name)
		}
	}
	add("name", c.Name != "")
	add("name_en", c.NameEn != "")
	add("address", c.Address != "")
	add("district", c.District != "")
	add("region", c.Region != "")
	add("category", c.Category != "")
	add("indoor", c.Indoor != nil)
	add("age_min", c.AgeMin != nil)
	add("age_max", c.AgeMax != nil)
	add("price_note", c.PriceNote != "")
	add("description", c.Description != "")
	add("website_url", c.WebsiteURL != "")
	add("facebook_url", c.FacebookURL != "")
	add("instagram_url", c.InstagramURL != "")
	return fields
}
