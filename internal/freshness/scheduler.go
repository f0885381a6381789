package freshness

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/parentmap/venue-pipeline/internal/audit"
	"github.com/parentmap/venue-pipeline/internal/model"
	"github.com/parentmap/venue-pipeline/internal/store"
)

// RiskScheduler maps risk tiers to re-check dates.
type RiskScheduler struct {
	store    store.Store
	audit    *audit.Logger
	schedule model.Schedule
	nowFunc  func() time.Time
	log      *zap.Logger
}

// NewRiskScheduler builds a scheduler. s and a are only needed by
// RebalanceAll.
func NewRiskScheduler(s store.Store, a *audit.Logger, schedule model.Schedule) *RiskScheduler {
	return &RiskScheduler{
		store:    s,
		audit:    a,
		schedule: schedule,
		nowFunc:  time.Now,
		log:      zap.L().With(zap.String("component", "scheduler")),
	}
}

// NextCheck returns from plus the interval for tier.
func (r *RiskScheduler) NextCheck(tier model.RiskTier, from time.Time) time.Time {
	return r.schedule.Next(tier, from)
}

// RebalanceStats summarizes a rebalance.
type RebalanceStats struct {
	Rescheduled int `json:"rescheduled"`
	Unchanged   int `json:"unchanged"`
	Skipped     int `json:"skipped"`
	Errors      int `json:"errors"`
}

// RebalanceAll recomputes NextCheckAt for every venue that is neither Closed
// nor PendingReview, from its risk tier and last check (or now when it was
// never checked). Every recomputed venue gets a RESCHEDULE audit entry.
func (r *RiskScheduler) RebalanceAll(ctx context.Context) (RebalanceStats, error) {
	var stats RebalanceStats

	venues, err := r.store.GetAll(ctx)
	if err != nil {
		return stats, eris.Wrap(err, "scheduler: list venues")
	}

	now := r.nowFunc()
	for i := range venues {
		if err := ctx.Err(); err != nil {
			return stats, eris.Wrap(err, "scheduler: rebalance interrupted")
		}
		v := &venues[i]
		if v.Status == model.StatusClosed || v.Status == model.StatusPendingReview {
			stats.Skipped++
			continue
		}

		from := now
		if v.LastCheckedAt != nil {
			from = *v.LastCheckedAt
		}
		next := r.NextCheck(v.RiskTier, from)
		previous := v.NextCheckAt

		if previous != nil && previous.Equal(next) {
			stats.Unchanged++
		} else {
			v.NextCheckAt = &next
			upd := now.UTC()
			v.UpdatedAt = &upd
			if err := r.store.Update(ctx, v); err != nil {
				r.log.Error("reschedule failed", zap.String("venue_id", v.ID), zap.Error(err))
				stats.Errors++
				continue
			}
			stats.Rescheduled++
		}

		if err := r.audit.LogReschedule(v.ID, v.RiskTier, previous, next); err != nil {
			r.log.Error("writing audit entry failed", zap.String("venue_id", v.ID), zap.Error(err))
		}
	}

	r.log.Info("rebalance finished",
		zap.Int("rescheduled", stats.Rescheduled),
		zap.Int("unchanged", stats.Unchanged),
		zap.Int("skipped", stats.Skipped),
		zap.Int("errors", stats.Errors),
	)
	return stats, nil
}
