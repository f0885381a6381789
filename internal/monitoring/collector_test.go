package monitoring

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parentmap/venue-pipeline/internal/model"
	"github.com/parentmap/venue-pipeline/internal/store"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "venues.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func seedVenue(t *testing.T, st store.Store, id string, status model.PlaceStatus, next *time.Time, checked bool) {
	t.Helper()
	v := &model.Venue{
		ID:              id,
		Name:            "Venue " + id,
		Status:          status,
		ValidationStage: model.StageExtracted,
		RiskTier:        model.RiskMedium,
		NextCheckAt:     next,
	}
	if checked {
		last := testNow.AddDate(0, 0, -20)
		v.LastCheckedAt = &last
	}
	_, err := st.Upsert(context.Background(), v)
	require.NoError(t, err)
}

func TestCollector_Collect(t *testing.T) {
	st := newTestStore(t)
	past := testNow.AddDate(0, 0, -1)
	future := testNow.AddDate(0, 0, 5)

	seedVenue(t, st, "a", model.StatusOpen, &past, true)
	seedVenue(t, st, "b", model.StatusOpen, &future, true)
	seedVenue(t, st, "c", model.StatusNeedsReview, &past, true)
	seedVenue(t, st, "d", model.StatusClosed, &past, true)
	seedVenue(t, st, "e", model.StatusPendingReview, nil, false)

	c := NewCollector(st)
	c.nowFunc = func() time.Time { return testNow }

	snap, err := c.Collect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5, snap.Total)
	assert.Equal(t, 2, snap.ByStatus["Open"])
	assert.Equal(t, 1, snap.ByStatus["Closed"])
	assert.Equal(t, 4, snap.Tracked)
	assert.Equal(t, 2, snap.Overdue, "closed venues are never overdue")
	assert.Equal(t, 2, snap.ReviewQueue)
	assert.Equal(t, 1, snap.NeverChecked)
	assert.Equal(t, testNow, snap.CollectedAt)
}

func TestCollector_EmptyStore(t *testing.T) {
	c := NewCollector(newTestStore(t))
	snap, err := c.Collect(context.Background())
	require.NoError(t, err)
	assert.Zero(t, snap.Total)
	assert.Empty(t, snap.ByStatus)
}
