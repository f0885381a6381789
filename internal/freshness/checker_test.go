package freshness

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/parentmap/venue-pipeline/internal/audit"
	"github.com/parentmap/venue-pipeline/internal/model"
	"github.com/parentmap/venue-pipeline/internal/resilience"
	"github.com/parentmap/venue-pipeline/internal/store"
)

var (
	testNow      = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	testSchedule = model.Schedule{HighDays: 7, MediumDays: 14, LowDays: 60}
)

type mockValidator struct {
	mock.Mock
}

func (m *mockValidator) ValidatePlace(ctx context.Context, v *model.Venue) (*model.ValidationRecord, error) {
	args := m.Called(ctx, v.ID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ValidationRecord), args.Error(1)
}

type fixture struct {
	store   *store.SQLiteStore
	audit   *audit.Logger
	sched   *RiskScheduler
	checker *Checker
	val     *mockValidator
}

func newFixture(t *testing.T, batchSize int) *fixture {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "venues.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	a, err := audit.New(t.TempDir(), "run-test")
	require.NoError(t, err)

	sched := NewRiskScheduler(st, a, testSchedule)
	sched.nowFunc = func() time.Time { return testNow }

	val := new(mockValidator)
	c := NewChecker(st, val, a, sched, batchSize)
	c.nowFunc = func() time.Time { return testNow }

	return &fixture{store: st, audit: a, sched: sched, checker: c, val: val}
}

func (f *fixture) seed(t *testing.T, v *model.Venue) {
	t.Helper()
	_, err := f.store.Upsert(context.Background(), v)
	require.NoError(t, err)
}

func (f *fixture) entries(t *testing.T) []model.AuditEntry {
	t.Helper()
	out, err := audit.Entries(f.audit.Dir(), "")
	require.NoError(t, err)
	return out
}

func ptr[T any](v T) *T { return &v }

// dueVenue is an Open, low-risk venue whose check came due yesterday.
func dueVenue(id string) *model.Venue {
	last := testNow.AddDate(0, 0, -61)
	next := testNow.AddDate(0, 0, -1)
	return &model.Venue{
		ID:              id,
		Name:            "Playtown " + id,
		District:        "觀塘",
		Region:          model.RegionKowloon,
		Category:        "indoor_playground",
		WebsiteURL:      "https://" + id + ".example",
		Status:          model.StatusOpen,
		ValidationStage: model.StageCheapPass,
		Confidence:      70,
		RiskTier:        model.RiskLow,
		LastCheckedAt:   &last,
		NextCheckAt:     &next,
	}
}

func record(id string, status model.PlaceStatus, stage model.ValidationStage, tier model.RiskTier, confidence int) *model.ValidationRecord {
	rec := model.NewValidationRecord(id, testNow)
	rec.Status = status
	rec.Stage = stage
	rec.RiskTier = tier
	rec.Confidence = confidence
	rec.NextCheckAt = testSchedule.Next(tier, testNow)
	return rec
}

func TestRun_UnchangedVenuePasses(t *testing.T) {
	f := newFixture(t, 5)
	f.seed(t, dueVenue("v-1"))

	rec := record("v-1", model.StatusOpen, model.StageCheapPass, model.RiskLow, 70)
	rec.HTTPStatus = 200
	rec.HTTPOk = true
	f.val.On("ValidatePlace", mock.Anything, "v-1").Return(rec, nil)

	stats, err := f.checker.Run(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Due)
	assert.Equal(t, 1, stats.Checked)
	assert.Equal(t, 1, stats.Passed)
	assert.Zero(t, stats.Flagged)
	assert.Zero(t, stats.Errors)
	assert.Equal(t, "run-test", stats.RunID)

	got, err := f.store.Get(context.Background(), "v-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusOpen, got.Status)
	require.NotNil(t, got.LastCheckedAt)
	assert.True(t, got.LastCheckedAt.Equal(testNow))
	require.NotNil(t, got.NextCheckAt)
	assert.True(t, got.NextCheckAt.Equal(testNow.AddDate(0, 0, 60)))

	assert.Empty(t, f.entries(t), "no audit entry when nothing changed")
}

func TestRun_GoneWebsiteFlagged(t *testing.T) {
	f := newFixture(t, 5)
	f.seed(t, dueVenue("v-2"))

	rec := record("v-2", model.StatusSuspectedClosed, model.StageSearchFlag, model.RiskHigh, 50)
	rec.HTTPStatus = 404
	rec.NeedsReview = true
	rec.Rationale = "found 0 evidence item(s), need 1 for adjudication"
	f.val.On("ValidatePlace", mock.Anything, "v-2").Return(rec, nil)

	stats, err := f.checker.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Flagged)
	assert.Equal(t, 1.0, stats.FlaggedRate())

	got, err := f.store.Get(context.Background(), "v-2")
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuspectedClosed, got.Status)
	assert.Equal(t, model.RiskHigh, got.RiskTier)
	assert.True(t, got.NextCheckAt.Equal(testNow.AddDate(0, 0, 7)))

	entries := f.entries(t)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, model.AuditStatusChange, e.Action)
	assert.Equal(t, "v-2", e.VenueID)
	assert.Equal(t, "run-test", e.RunID)
	assert.Equal(t, "Open", e.Details["old_status"])
	assert.Equal(t, "SuspectedClosed", e.Details["new_status"])
	assert.Equal(t, rec.Rationale, e.Details["reason"])
}

func TestRun_ContentChangeCountsAsUpdated(t *testing.T) {
	f := newFixture(t, 5)
	f.seed(t, dueVenue("v-3"))

	rec := record("v-3", model.StatusOpen, model.StageCheapPass, model.RiskLow, 70)
	rec.ContentHashChanged = true
	rec.ContentHash = "abc123"
	f.val.On("ValidatePlace", mock.Anything, "v-3").Return(rec, nil)

	stats, err := f.checker.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Updated)
	assert.Zero(t, stats.Passed)

	entries := f.entries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, model.AuditValidate, entries[0].Action)
	assert.Equal(t, "cheap_pass", entries[0].Details["stage"])
}

func TestRun_ValidatorErrorKeepsStatus(t *testing.T) {
	f := newFixture(t, 5)
	v := dueVenue("v-4")
	v.RiskTier = model.RiskMedium
	f.seed(t, v)

	f.val.On("ValidatePlace", mock.Anything, "v-4").
		Return(nil, resilience.InvalidRequestf("validation: venue needs an id and a name"))

	stats, err := f.checker.Run(context.Background(), false)
	require.NoError(t, err, "one failing venue never fails the run")
	assert.Equal(t, 1, stats.Errors)
	assert.Equal(t, 1.0, stats.ErrorRate())

	got, err := f.store.Get(context.Background(), "v-4")
	require.NoError(t, err)
	assert.Equal(t, model.StatusOpen, got.Status)
	assert.Equal(t, 70, got.Confidence)
	assert.True(t, got.LastCheckedAt.Equal(testNow))
	assert.True(t, got.NextCheckAt.Equal(testNow.AddDate(0, 0, 14)))

	entries := f.entries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, model.AuditCheckError, entries[0].Action)
	assert.Equal(t, "invalid_request", entries[0].Details["error_class"])
}

func TestRun_DryRunWritesNothing(t *testing.T) {
	f := newFixture(t, 5)
	f.seed(t, dueVenue("v-5"))
	f.seed(t, dueVenue("v-6"))

	f.val.On("ValidatePlace", mock.Anything, "v-5").
		Return(record("v-5", model.StatusSuspectedClosed, model.StageCheapFail, model.RiskHigh, 50), nil)
	f.val.On("ValidatePlace", mock.Anything, "v-6").Return(nil, errors.New("boom"))

	stats, err := f.checker.Run(context.Background(), true)
	require.NoError(t, err)
	assert.True(t, stats.DryRun)
	assert.Equal(t, 1, stats.Flagged)
	assert.Equal(t, 1, stats.Errors)

	for _, id := range []string{"v-5", "v-6"} {
		got, err := f.store.Get(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, model.StatusOpen, got.Status, id)
		assert.True(t, got.NextCheckAt.Equal(testNow.AddDate(0, 0, -1)), id)
	}
	assert.Empty(t, f.entries(t))
}

func TestRun_DisallowedTransitionKeepsStatus(t *testing.T) {
	f := newFixture(t, 5)
	f.seed(t, dueVenue("v-7"))

	f.val.On("ValidatePlace", mock.Anything, "v-7").
		Return(record("v-7", model.StatusPendingReview, model.StageCheapFail, model.RiskMedium, 40), nil)

	stats, err := f.checker.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Passed)

	got, err := f.store.Get(context.Background(), "v-7")
	require.NoError(t, err)
	assert.Equal(t, model.StatusOpen, got.Status)
	assert.Equal(t, model.RiskLow, got.RiskTier)
	assert.Equal(t, model.StageCheapPass, got.ValidationStage)
	assert.Equal(t, 70, got.Confidence)
	require.NotNil(t, got.LastCheckedAt)
	assert.True(t, got.LastCheckedAt.Equal(testNow))
	require.NotNil(t, got.NextCheckAt)
	assert.True(t, got.NextCheckAt.Equal(testNow.AddDate(0, 0, 60)), "rescheduled by the kept tier")

	assert.Empty(t, f.entries(t))
}

// flakyStore fails the first n Update calls.
type flakyStore struct {
	store.Store
	n int
}

func (s *flakyStore) Update(ctx context.Context, v *model.Venue) error {
	if s.n > 0 {
		s.n--
		return errors.New("database is locked")
	}
	return s.Store.Update(ctx, v)
}

func TestRun_SaveFailureRecordsCheckError(t *testing.T) {
	f := newFixture(t, 5)
	f.seed(t, dueVenue("v-10"))

	c := NewChecker(&flakyStore{Store: f.store, n: 1}, f.val, f.audit, f.sched, 5)
	c.nowFunc = func() time.Time { return testNow }

	f.val.On("ValidatePlace", mock.Anything, "v-10").
		Return(record("v-10", model.StatusSuspectedClosed, model.StageCheapFail, model.RiskHigh, 50), nil)

	stats, err := c.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Errors)
	assert.Zero(t, stats.Flagged)

	got, err := f.store.Get(context.Background(), "v-10")
	require.NoError(t, err)
	assert.Equal(t, model.StatusOpen, got.Status, "unsaved result is not applied")
	assert.Equal(t, model.RiskLow, got.RiskTier)
	require.NotNil(t, got.LastCheckedAt)
	assert.True(t, got.LastCheckedAt.Equal(testNow))
	assert.True(t, got.NextCheckAt.Equal(testNow.AddDate(0, 0, 60)))

	entries := f.entries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, model.AuditCheckError, entries[0].Action)
	assert.Equal(t, "v-10", entries[0].VenueID)
	assert.Contains(t, entries[0].Details["error"], "database is locked")
}

func TestRun_Batches(t *testing.T) {
	f := newFixture(t, 3)
	for i := range 7 {
		id := fmt.Sprintf("v-%02d", i)
		f.seed(t, dueVenue(id))
		f.val.On("ValidatePlace", mock.Anything, id).
			Return(record(id, model.StatusOpen, model.StageCheapPass, model.RiskLow, 70), nil)
	}

	notDue := dueVenue("later")
	next := testNow.AddDate(0, 0, 3)
	notDue.NextCheckAt = &next
	f.seed(t, notDue)

	closed := dueVenue("gone")
	closed.Status = model.StatusClosed
	f.seed(t, closed)

	stats, err := f.checker.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 7, stats.Due)
	assert.Equal(t, 7, stats.Checked)
	assert.Equal(t, 7, stats.Passed)
	f.val.AssertNumberOfCalls(t, "ValidatePlace", 7)
	f.val.AssertNotCalled(t, "ValidatePlace", mock.Anything, "later")
	f.val.AssertNotCalled(t, "ValidatePlace", mock.Anything, "gone")
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	f := newFixture(t, 5)
	f.seed(t, dueVenue("v-8"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stats, err := f.checker.Run(ctx, false)
	require.Error(t, err)
	assert.Zero(t, stats.Checked)
	f.val.AssertNotCalled(t, "ValidatePlace", mock.Anything, mock.Anything)
}

func TestCheckVenue_IgnoresSchedule(t *testing.T) {
	f := newFixture(t, 5)
	v := dueVenue("v-9")
	future := testNow.AddDate(0, 0, 30)
	v.NextCheckAt = &future
	f.seed(t, v)

	rec := record("v-9", model.StatusAlert, model.StageLLMFlag, model.RiskHigh, 65)
	rec.Rationale = "renovation notice on official page"
	f.val.On("ValidatePlace", mock.Anything, "v-9").Return(rec, nil)

	out, err := f.checker.CheckVenue(context.Background(), "v-9", false)
	require.NoError(t, err)
	assert.Equal(t, "flagged", out)

	got, err := f.store.Get(context.Background(), "v-9")
	require.NoError(t, err)
	assert.Equal(t, model.StatusAlert, got.Status)

	_, err = f.checker.CheckVenue(context.Background(), "missing", false)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStats_RatesOnEmptyRun(t *testing.T) {
	var s Stats
	assert.Zero(t, s.ErrorRate())
	assert.Zero(t, s.FlaggedRate())
}

func TestChangeReason(t *testing.T) {
	rec := model.NewValidationRecord("v", testNow)
	rec.Stage = model.StageCheapFail
	rec.HTTPStatus = 410
	assert.Equal(t, "website returned HTTP 410", changeReason(rec))

	rec.Summary = "Listed as closed"
	assert.Equal(t, "Listed as closed", changeReason(rec))

	rec.Rationale = "Two news reports"
	assert.Equal(t, "Two news reports", changeReason(rec))
}

func TestChecker_FlaggedReport(t *testing.T) {
	f := newFixture(t, 5)
	f.seed(t, dueVenue("v-9"))
	rec := record("v-9", model.StatusNeedsReview, model.StageSearchFlag, model.RiskMedium, 40)
	rec.Rationale = "no evidence"
	rec.EvidenceURLs = []string{"https://a.example"}
	f.val.On("ValidatePlace", mock.Anything, "v-9").Return(rec, nil)

	_, err := f.checker.Run(context.Background(), false)
	require.NoError(t, err)

	rows, err := f.checker.FlaggedReport(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "v-9", rows[0].Venue.ID)
	assert.Equal(t, "no evidence", rows[0].LastReason())
	assert.Equal(t, []string{"https://a.example"}, rows[0].Venue.EvidenceURLs)
}
