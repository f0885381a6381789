package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/parentmap/venue-pipeline/internal/metrics"
	"github.com/parentmap/venue-pipeline/internal/model"
	"github.com/parentmap/venue-pipeline/internal/store"
)

// Snapshot holds a point-in-time view of the venue store.
type Snapshot struct {
	Total    int            `json:"total"`
	ByStatus map[string]int `json:"by_status"`

	// Tracked venues are those freshness runs still visit (not Closed).
	Tracked      int `json:"tracked"`
	Overdue      int `json:"overdue"`
	ReviewQueue  int `json:"review_queue"`
	NeverChecked int `json:"never_checked"`

	CollectedAt time.Time `json:"collected_at"`
}

// Collector gathers store metrics.
type Collector struct {
	store   store.Store
	nowFunc func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st, nowFunc: time.Now}
}

// Collect counts venues by status and schedule state and publishes the
// counts as gauges.
func (c *Collector) Collect(ctx context.Context) (*Snapshot, error) {
	now := c.nowFunc()
	venues, err := c.store.GetAll(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list venues")
	}

	snap := &Snapshot{
		Total:       len(venues),
		ByStatus:    map[string]int{},
		CollectedAt: now.UTC(),
	}
	for i := range venues {
		v := &venues[i]
		snap.ByStatus[string(v.Status)]++
		if v.Status.NeedsHuman() {
			snap.ReviewQueue++
		}
		if v.Status == model.StatusClosed {
			continue
		}
		snap.Tracked++
		if v.LastCheckedAt == nil {
			snap.NeverChecked++
		}
		if v.DueForCheck(now) {
			snap.Overdue++
		}
	}

	metrics.SetVenueCounts(snap.ByStatus, snap.Overdue)
	return snap, nil
}
