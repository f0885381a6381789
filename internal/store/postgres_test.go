package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parentmap/venue-pipeline/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	s := &PostgresStore{pool: mock, nowFunc: func() time.Time { return now }}
	return s, mock
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS venues`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Get_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, slug, name, .* FROM venues WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Update(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT status FROM venues WHERE id = \$1`).
		WithArgs("v-1").
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("Open"))
	mock.ExpectExec(`UPDATE venues SET slug = \$1, .* WHERE id = \$31`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	v := testVenue("v-1")
	v.Status = model.StatusSuspectedClosed
	require.NoError(t, s.Update(context.Background(), v))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Update_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT status FROM venues`).
		WithArgs("v-1").
		WillReturnError(pgx.ErrNoRows)

	err := s.Update(context.Background(), testVenue("v-1"))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Update_ClosedWithoutResolution(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT status FROM venues`).
		WithArgs("v-1").
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("Closed"))

	err := s.Update(context.Background(), testVenue("v-1"))
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Update_RejectsUnknownEnum(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	v := testVenue("v-1")
	v.ValidationStage = "done"
	assert.Error(t, s.Update(context.Background(), v))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Upsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`INSERT INTO "venues" .* ON CONFLICT \("id"\) DO UPDATE SET .* RETURNING "id"`).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("v-1"))

	id, err := s.Upsert(context.Background(), testVenue("v-1"))
	require.NoError(t, err)
	assert.Equal(t, "v-1", id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetDueForCheck_QueryError(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM venues WHERE status <> \$1 AND next_check_at IS NOT NULL AND next_check_at <= \$2 ORDER BY next_check_at`).
		WithArgs("Closed", now).
		WillReturnError(errors.New("connection reset"))

	_, err := s.GetDueForCheck(context.Background(), now)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query venues")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetDueForCheck_Empty(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM venues WHERE status <> \$1`).
		WithArgs("Closed", now).
		WillReturnRows(pgxmock.NewRows(columns))

	due, err := s.GetDueForCheck(context.Background(), now)
	require.NoError(t, err)
	assert.Empty(t, due)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListByStatus_Unknown(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	_, err := s.ListByStatus(context.Background(), model.PlaceStatus("Gone"))
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
