// Package freshness re-checks venues whose next check is due and keeps the
// per-tier schedule in shape.
package freshness

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/parentmap/venue-pipeline/internal/audit"
	"github.com/parentmap/venue-pipeline/internal/metrics"
	"github.com/parentmap/venue-pipeline/internal/model"
	"github.com/parentmap/venue-pipeline/internal/resilience"
	"github.com/parentmap/venue-pipeline/internal/store"
)

// Validator is the part of validation.Validator the checker depends on.
type Validator interface {
	ValidatePlace(ctx context.Context, v *model.Venue) (*model.ValidationRecord, error)
}

// Stats summarizes one freshness run.
type Stats struct {
	RunID      string    `json:"run_id"`
	DryRun     bool      `json:"dry_run"`
	Due        int       `json:"due"`
	Checked    int       `json:"checked"`
	Passed     int       `json:"passed"`
	Flagged    int       `json:"flagged"`
	Updated    int       `json:"updated"`
	Errors     int       `json:"errors"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// ErrorRate is Errors over Checked, or 0 for an empty run.
func (s Stats) ErrorRate() float64 {
	if s.Checked == 0 {
		return 0
	}
	return float64(s.Errors) / float64(s.Checked)
}

// FlaggedRate is Flagged over Checked, or 0 for an empty run.
func (s Stats) FlaggedRate() float64 {
	if s.Checked == 0 {
		return 0
	}
	return float64(s.Flagged) / float64(s.Checked)
}

type outcome string

const (
	outcomePassed  outcome = "passed"
	outcomeFlagged outcome = "flagged"
	outcomeUpdated outcome = "updated"
	outcomeError   outcome = "error"
)

// Checker runs freshness checks over the venues that are due.
type Checker struct {
	store     store.Store
	validator Validator
	audit     *audit.Logger
	scheduler *RiskScheduler
	batchSize int
	nowFunc   func() time.Time
	log       *zap.Logger
}

// NewChecker builds a Checker. batchSize bounds how many venues are checked
// at once; it normally matches the fetcher's concurrency.
func NewChecker(s store.Store, v Validator, a *audit.Logger, sched *RiskScheduler, batchSize int) *Checker {
	if batchSize <= 0 {
		batchSize = 5
	}
	return &Checker{
		store:     s,
		validator: v,
		audit:     a,
		scheduler: sched,
		batchSize: batchSize,
		nowFunc:   time.Now,
		log:       zap.L().With(zap.String("component", "freshness"), zap.String("run_id", a.RunID())),
	}
}

// Run checks every due venue in batches. A failing venue is counted and
// recorded but never stops the run; only a failed selection or cancellation
// is returned as an error. Under dryRun nothing is written to the store or the
// audit log.
func (c *Checker) Run(ctx context.Context, dryRun bool) (Stats, error) {
	start := c.nowFunc()
	stats := Stats{RunID: c.audit.RunID(), DryRun: dryRun, StartedAt: start.UTC()}

	due, err := c.store.GetDueForCheck(ctx, start)
	if err != nil {
		return stats, eris.Wrap(err, "freshness: select due venues")
	}
	stats.Due = len(due)
	c.log.Info("freshness run started", zap.Int("due", len(due)), zap.Bool("dry_run", dryRun))

	var mu sync.Mutex
	for lo := 0; lo < len(due); lo += c.batchSize {
		if err := ctx.Err(); err != nil {
			return c.finish(stats, start), eris.Wrap(err, "freshness: run interrupted")
		}
		hi := min(lo+c.batchSize, len(due))

		var g errgroup.Group
		for i := lo; i < hi; i++ {
			venue := due[i]
			g.Go(func() error {
				out := c.checkVenue(ctx, venue, dryRun)
				metrics.ObserveFreshnessOutcome(string(out))

				mu.Lock()
				defer mu.Unlock()
				stats.Checked++
				switch out {
				case outcomePassed:
					stats.Passed++
				case outcomeFlagged:
					stats.Flagged++
				case outcomeUpdated:
					stats.Updated++
				case outcomeError:
					stats.Errors++
				}
				return nil
			})
		}
		_ = g.Wait()

		c.log.Debug("batch done", zap.Int("from", lo), zap.Int("to", hi))
	}

	return c.finish(stats, start), nil
}

func (c *Checker) finish(stats Stats, start time.Time) Stats {
	end := c.nowFunc()
	stats.FinishedAt = end.UTC()
	metrics.ObserveFreshnessRun(end.Sub(start), end)
	c.log.Info("freshness run finished",
		zap.Int("checked", stats.Checked),
		zap.Int("passed", stats.Passed),
		zap.Int("flagged", stats.Flagged),
		zap.Int("updated", stats.Updated),
		zap.Int("errors", stats.Errors),
		zap.Duration("duration", end.Sub(start)),
	)
	return stats
}

// CheckVenue re-checks the venue with the given id regardless of its
// schedule and returns the outcome: passed, flagged, updated or error.
func (c *Checker) CheckVenue(ctx context.Context, id string, dryRun bool) (string, error) {
	v, err := c.store.Get(ctx, id)
	if err != nil {
		return "", eris.Wrapf(err, "freshness: load venue %s", id)
	}
	out := c.checkVenue(ctx, *v, dryRun)
	metrics.ObserveFreshnessOutcome(string(out))
	return string(out), nil
}

// checkVenue validates one venue and records the outcome.
func (c *Checker) checkVenue(ctx context.Context, v model.Venue, dryRun bool) outcome {
	log := c.log.With(zap.String("venue_id", v.ID))

	rec, err := c.validator.ValidatePlace(ctx, &v)
	if err != nil {
		c.recordError(ctx, v, err, dryRun, log)
		return outcomeError
	}

	prev := v
	old := v.Status
	out := outcomePassed
	if model.CanTransition(old, rec.Status, v.Resolution) {
		v.ApplyValidation(rec)
		switch {
		case rec.Status != old:
			out = outcomeFlagged
		case rec.ContentHashChanged:
			out = outcomeUpdated
		}
	} else {
		// Refused results leave status, tier, stage and confidence alone.
		log.Warn("validation result not allowed from current status, keeping it",
			zap.String("status", string(old)), zap.String("judged", string(rec.Status)))
		v.Touch(rec.CheckedAt, c.scheduler.NextCheck(v.RiskTier, rec.CheckedAt))
		rec.Status = old
	}

	log.Info("venue checked",
		zap.String("outcome", string(out)),
		zap.String("status", string(rec.Status)),
		zap.String("stage", string(rec.Stage)),
		zap.Int("confidence", rec.Confidence),
	)
	if dryRun {
		return out
	}

	if err := c.store.Update(ctx, &v); err != nil {
		c.recordError(ctx, prev, eris.Wrapf(err, "save venue %s", v.ID), dryRun, log)
		return outcomeError
	}

	switch out {
	case outcomeFlagged:
		err = c.audit.LogStatusChange(v.ID, old, rec.Status, changeReason(rec), rec.EvidenceURLs)
	case outcomeUpdated:
		err = c.audit.LogValidation(v.ID, rec.Stage, rec.Confidence, rec.EvidenceURLs)
	}
	if err != nil {
		log.Error("writing audit entry failed", zap.Error(err))
	}
	return out
}

// recordError keeps the venue's status, stamps the attempt and pushes the
// next check out by the venue's current tier.
func (c *Checker) recordError(ctx context.Context, v model.Venue, cause error, dryRun bool, log *zap.Logger) {
	class := resilience.Classify(cause)
	log.Warn("venue check failed", zap.Error(cause), zap.String("error_class", class))
	if dryRun || ctx.Err() != nil {
		return
	}

	now := c.nowFunc()
	v.Touch(now, c.scheduler.NextCheck(v.RiskTier, now))
	if err := c.store.Update(ctx, &v); err != nil {
		log.Error("saving failed check failed", zap.Error(err))
	}
	if err := c.audit.LogCheckError(v.ID, cause, class); err != nil {
		log.Error("writing audit entry failed", zap.Error(err))
	}
}

func changeReason(rec *model.ValidationRecord) string {
	switch {
	case rec.Rationale != "":
		return rec.Rationale
	case rec.Summary != "":
		return rec.Summary
	case rec.Stage == model.StageCheapFail:
		return fmt.Sprintf("website returned HTTP %d", rec.HTTPStatus)
	case rec.Stage == model.StageCheapPass:
		return "website reachable and listing complete"
	default:
		return fmt.Sprintf("validation stage %s", rec.Stage)
	}
}

// FlaggedReport lists venues awaiting human review with their audit trails.
func (c *Checker) FlaggedReport(ctx context.Context) ([]FlaggedVenue, error) {
	return FlaggedReport(ctx, c.store, c.audit.Dir())
}
