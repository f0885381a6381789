package freshness

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parentmap/venue-pipeline/internal/audit"
	"github.com/parentmap/venue-pipeline/internal/cache"
	"github.com/parentmap/venue-pipeline/internal/fetcher"
	"github.com/parentmap/venue-pipeline/internal/model"
	"github.com/parentmap/venue-pipeline/internal/resilience"
	"github.com/parentmap/venue-pipeline/internal/store"
	"github.com/parentmap/venue-pipeline/internal/validation"
)

// liveFixture wires the checker to the real fetcher, cheap validator and
// caches, with no search or reasoning backend.
type liveFixture struct {
	store   *store.SQLiteStore
	audit   *audit.Logger
	checker *Checker
}

func newLiveFixture(t *testing.T) *liveFixture {
	t.Helper()
	dir := t.TempDir()

	st, err := store.NewSQLite(filepath.Join(dir, "venues.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	c, err := cache.NewSQLite(filepath.Join(dir, "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() }) //nolint:errcheck

	f := fetcher.New(fetcher.Options{
		UserAgent:         "test-agent",
		Timeout:           2 * time.Second,
		RequestsPerMinute: 600,
		MaxConcurrent:     2,
		Retry: resilience.RetryConfig{
			MaxAttempts:    1,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     time.Millisecond,
			Multiplier:     2,
		},
	}, c)

	val := validation.New(
		validation.NewCheapValidator(f, c),
		validation.NewEvidenceCollector(nil, 10),
		validation.NewAdjudicator(nil, 5),
		validation.Options{Schedule: testSchedule, MinEvidenceURLs: 1},
	)

	a, err := audit.New(filepath.Join(dir, "audit"), "run-live")
	require.NoError(t, err)

	sched := NewRiskScheduler(st, a, testSchedule)
	return &liveFixture{store: st, audit: a, checker: NewChecker(st, val, a, sched, 5)}
}

// completeVenue is an Open venue with every field the cheap checks look
// for, due for a check since yesterday.
func completeVenue(id, website string) *model.Venue {
	now := time.Now().UTC()
	last := now.AddDate(0, 0, -61)
	next := now.AddDate(0, 0, -1)
	return &model.Venue{
		ID:              id,
		Name:            "Playtown " + id,
		Address:         "觀塘巧明街100號 Landmark East 3樓",
		District:        "觀塘",
		Region:          model.RegionKowloon,
		Category:        "indoor_playground",
		Description:     "Soft play, ball pit and toddler zone for ages 1 to 8.",
		WebsiteURL:      website,
		Status:          model.StatusOpen,
		ValidationStage: model.StageCheapPass,
		Confidence:      70,
		RiskTier:        model.RiskLow,
		LastCheckedAt:   &last,
		NextCheckAt:     &next,
	}
}

func siteServer(t *testing.T, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(status)
		if r.Method == http.MethodGet {
			_, _ = w.Write([]byte("<html><h1>Playtown</h1><p>Open daily 10:00-19:00</p></html>"))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func (f *liveFixture) entries(t *testing.T) []model.AuditEntry {
	t.Helper()
	out, err := audit.Entries(f.audit.Dir(), "")
	require.NoError(t, err)
	return out
}

func TestRun_HealthyWebsitePassesOnEmptyCache(t *testing.T) {
	f := newLiveFixture(t)
	srv := siteServer(t, http.StatusOK)
	_, err := f.store.Upsert(context.Background(), completeVenue("v-a", srv.URL))
	require.NoError(t, err)

	stats, err := f.checker.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Checked)
	assert.Equal(t, 1, stats.Passed)
	assert.Zero(t, stats.Updated, "first page hash is a baseline")
	assert.Zero(t, stats.Flagged)
	assert.Zero(t, stats.Errors)

	got, err := f.store.Get(context.Background(), "v-a")
	require.NoError(t, err)
	assert.Equal(t, model.StatusOpen, got.Status)
	assert.Equal(t, model.StageCheapPass, got.ValidationStage)
	assert.Equal(t, model.RiskLow, got.RiskTier)
	require.NotNil(t, got.NextCheckAt)
	assert.True(t, got.NextCheckAt.After(time.Now().AddDate(0, 0, 59)))

	assert.Empty(t, f.entries(t))

	out, err := f.checker.CheckVenue(context.Background(), "v-a", false)
	require.NoError(t, err)
	assert.Equal(t, "passed", out, "same page on a second check")
	assert.Empty(t, f.entries(t))
}

func TestRun_MissingWebsiteFlagsSuspectedClosed(t *testing.T) {
	f := newLiveFixture(t)
	srv := siteServer(t, http.StatusNotFound)
	_, err := f.store.Upsert(context.Background(), completeVenue("v-b", srv.URL))
	require.NoError(t, err)

	stats, err := f.checker.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Flagged)
	assert.Zero(t, stats.Passed)
	assert.Zero(t, stats.Errors)

	got, err := f.store.Get(context.Background(), "v-b")
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuspectedClosed, got.Status)
	assert.Equal(t, model.RiskHigh, got.RiskTier)

	entries := f.entries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, model.AuditStatusChange, entries[0].Action)
	assert.Equal(t, "v-b", entries[0].VenueID)
	assert.Equal(t, "Open", entries[0].Details["old_status"])
	assert.Equal(t, "SuspectedClosed", entries[0].Details["new_status"])
}
