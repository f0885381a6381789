package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/parentmap/venue-pipeline/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Timestamps are
// stored as unix milliseconds so range queries compare integers.
type SQLiteStore struct {
	db      *sql.DB
	nowFunc func() time.Time
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dsn); dir != "." && dir != "" && !strings.HasPrefix(dsn, "file:") {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, eris.Wrapf(err, "sqlite: create dir %s", dir)
		}
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, nowFunc: time.Now}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS venues (
	id                 TEXT PRIMARY KEY,
	slug               TEXT NOT NULL DEFAULT '',
	name               TEXT NOT NULL,
	name_en            TEXT NOT NULL DEFAULT '',
	region             TEXT NOT NULL DEFAULT '',
	district           TEXT NOT NULL DEFAULT '',
	address            TEXT NOT NULL DEFAULT '',
	lat                REAL,
	lng                REAL,
	category           TEXT NOT NULL DEFAULT '',
	indoor             INTEGER NOT NULL DEFAULT 0,
	age_min            INTEGER,
	age_max            INTEGER,
	price_tier         TEXT NOT NULL DEFAULT '',
	description        TEXT NOT NULL DEFAULT '',
	website_url        TEXT NOT NULL DEFAULT '',
	facebook_url       TEXT NOT NULL DEFAULT '',
	instagram_url      TEXT NOT NULL DEFAULT '',
	source_urls        TEXT NOT NULL DEFAULT '[]',
	status             TEXT NOT NULL,
	validation_stage   TEXT NOT NULL,
	confidence         INTEGER NOT NULL DEFAULT 0,
	risk_tier          TEXT NOT NULL,
	evidence_urls      TEXT NOT NULL DEFAULT '[]',
	evidence_snippets  TEXT NOT NULL DEFAULT '[]',
	last_checked_at    INTEGER,
	next_check_at      INTEGER,
	review_owner       TEXT NOT NULL DEFAULT '',
	resolution         TEXT NOT NULL DEFAULT '',
	false_alarm_reason TEXT NOT NULL DEFAULT '',
	updated_at         INTEGER
);

CREATE INDEX IF NOT EXISTS idx_venues_status ON venues(status);
CREATE INDEX IF NOT EXISTS idx_venues_next_check_at ON venues(next_check_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var sqliteSelect = `SELECT ` + strings.Join(columns, ", ") + ` FROM venues`

func (s *SQLiteStore) Get(ctx context.Context, id string) (*model.Venue, error) {
	row := s.db.QueryRowContext(ctx, sqliteSelect+` WHERE id = ?`, id)
	v, err := scanSQLite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: get %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get %s", id)
	}
	return v, nil
}

func (s *SQLiteStore) GetAll(ctx context.Context) ([]model.Venue, error) {
	return s.query(ctx, sqliteSelect+` ORDER BY name`)
}

func (s *SQLiteStore) GetDueForCheck(ctx context.Context, now time.Time) ([]model.Venue, error) {
	return s.query(ctx,
		sqliteSelect+` WHERE status != ? AND next_check_at IS NOT NULL AND next_check_at <= ? ORDER BY next_check_at`,
		string(model.StatusClosed), now.UTC().UnixMilli(),
	)
}

func (s *SQLiteStore) ListByStatus(ctx context.Context, statuses ...model.PlaceStatus) ([]model.Venue, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	args := make([]any, len(statuses))
	marks := make([]string, len(statuses))
	for i, st := range statuses {
		if !st.Valid() {
			return nil, eris.Errorf("sqlite: list by unknown status %q", st)
		}
		args[i] = string(st)
		marks[i] = "?"
	}
	return s.query(ctx,
		sqliteSelect+` WHERE status IN (`+strings.Join(marks, ", ")+`) ORDER BY district, name`,
		args...,
	)
}

func (s *SQLiteStore) Update(ctx context.Context, v *model.Venue) error {
	if err := v.Validate(); err != nil {
		return eris.Wrap(err, "sqlite: reject venue")
	}

	var current string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM venues WHERE id = ?`, v.ID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "sqlite: update %s", v.ID)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: read status %s", v.ID)
	}
	if err := checkTransition(v.ID, model.PlaceStatus(current), v.Status, v.Resolution); err != nil {
		return err
	}

	ts := s.nowFunc().UTC()
	v.UpdatedAt = &ts
	args, err := sqliteArgs(v)
	if err != nil {
		return err
	}

	sets := make([]string, 0, len(columns)-1)
	for _, c := range columns[1:] {
		sets = append(sets, c+" = ?")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE venues SET `+strings.Join(sets, ", ")+` WHERE id = ?`,
		append(args[1:], v.ID)...,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update %s", v.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "sqlite: update %s", v.ID)
	}
	return nil
}

func (s *SQLiteStore) Upsert(ctx context.Context, v *model.Venue) (string, error) {
	if err := prepare(v, uuid.NewString, s.nowFunc()); err != nil {
		return "", err
	}
	args, err := sqliteArgs(v)
	if err != nil {
		return "", err
	}

	marks := make([]string, len(columns))
	sets := make([]string, 0, len(columns)-1)
	for i, c := range columns {
		marks[i] = "?"
		if i > 0 {
			sets = append(sets, c+" = excluded."+c)
		}
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO venues (`+strings.Join(columns, ", ")+`) VALUES (`+strings.Join(marks, ", ")+`)
		 ON CONFLICT(id) DO UPDATE SET `+strings.Join(sets, ", "),
		args...,
	)
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: upsert %s", v.ID)
	}
	return v.ID, nil
}

func (s *SQLiteStore) query(ctx context.Context, q string, args ...any) ([]model.Venue, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query venues")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Venue
	for rows.Next() {
		v, err := scanSQLite(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate venues")
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLite(row scannable) (*model.Venue, error) {
	var (
		v                           model.Venue
		e                           enums
		lat, lng                    sql.NullFloat64
		ageMin, ageMax              sql.NullInt64
		sources, evURLs, evSnippets string
		lastChecked, nextCheck, upd sql.NullInt64
	)
	err := row.Scan(
		&v.ID, &v.Slug, &v.Name, &v.NameEn,
		&v.Region, &v.District, &v.Address, &lat, &lng,
		&v.Category, &v.Indoor, &ageMin, &ageMax, &v.PriceTier, &v.Description,
		&v.WebsiteURL, &v.FacebookURL, &v.InstagramURL, &sources,
		&e.status, &e.stage, &v.Confidence, &e.tier,
		&evURLs, &evSnippets, &lastChecked, &nextCheck,
		&v.ReviewOwner, &v.Resolution, &v.FalseAlarmReason, &upd,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "sqlite: scan venue")
	}
	if err := e.apply(&v); err != nil {
		return nil, err
	}

	v.Lat = nullFloat(lat)
	v.Lng = nullFloat(lng)
	v.AgeMin = nullInt(ageMin)
	v.AgeMax = nullInt(ageMax)
	v.LastCheckedAt = nullMillis(lastChecked)
	v.NextCheckAt = nullMillis(nextCheck)
	v.UpdatedAt = nullMillis(upd)

	if v.SourceURLs, err = decodeList([]byte(sources)); err != nil {
		return nil, err
	}
	if v.EvidenceURLs, err = decodeList([]byte(evURLs)); err != nil {
		return nil, err
	}
	if v.EvidenceSnippets, err = decodeList([]byte(evSnippets)); err != nil {
		return nil, err
	}
	return &v, nil
}

func sqliteArgs(v *model.Venue) ([]any, error) {
	sources, err := encodeList(v.SourceURLs)
	if err != nil {
		return nil, err
	}
	evURLs, err := encodeList(v.EvidenceURLs)
	if err != nil {
		return nil, err
	}
	evSnippets, err := encodeList(v.EvidenceSnippets)
	if err != nil {
		return nil, err
	}
	return []any{
		v.ID, v.Slug, v.Name, v.NameEn,
		v.Region, v.District, v.Address, ptrFloat(v.Lat), ptrFloat(v.Lng),
		v.Category, boolInt(v.Indoor), ptrInt(v.AgeMin), ptrInt(v.AgeMax), v.PriceTier, v.Description,
		v.WebsiteURL, v.FacebookURL, v.InstagramURL, string(sources),
		string(v.Status), string(v.ValidationStage), v.Confidence, string(v.RiskTier),
		string(evURLs), string(evSnippets), millis(v.LastCheckedAt), millis(v.NextCheckAt),
		v.ReviewOwner, v.Resolution, v.FalseAlarmReason, millis(v.UpdatedAt),
	}, nil
}

func millis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().UnixMilli()
}

func ptrFloat(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}

func ptrInt(p *int) any {
	if p == nil {
		return nil
	}
	return int64(*p)
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func nullMillis(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.UnixMilli(n.Int64).UTC()
	return &t
}

func nullFloat(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	f := n.Float64
	return &f
}

func nullInt(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	i := int(n.Int64)
	return &i
}
