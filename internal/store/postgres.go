package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/parentmap/venue-pipeline/internal/db"
	"github.com/parentmap/venue-pipeline/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
	nowFunc func() time.Time
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close, nowFunc: time.Now}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS venues (
	id                 TEXT PRIMARY KEY,
	slug               TEXT NOT NULL DEFAULT '',
	name               TEXT NOT NULL,
	name_en            TEXT NOT NULL DEFAULT '',
	region             TEXT NOT NULL DEFAULT '',
	district           TEXT NOT NULL DEFAULT '',
	address            TEXT NOT NULL DEFAULT '',
	lat                DOUBLE PRECISION,
	lng                DOUBLE PRECISION,
	category           TEXT NOT NULL DEFAULT '',
	indoor             BOOLEAN NOT NULL DEFAULT false,
	age_min            INTEGER,
	age_max            INTEGER,
	price_tier         TEXT NOT NULL DEFAULT '',
	description        TEXT NOT NULL DEFAULT '',
	website_url        TEXT NOT NULL DEFAULT '',
	facebook_url       TEXT NOT NULL DEFAULT '',
	instagram_url      TEXT NOT NULL DEFAULT '',
	source_urls        JSONB NOT NULL DEFAULT '[]',
	status             TEXT NOT NULL CHECK (status IN ('PendingReview','Open','NeedsReview','SuspectedClosed','Alert','Closed')),
	validation_stage   TEXT NOT NULL,
	confidence         INTEGER NOT NULL DEFAULT 0 CHECK (confidence BETWEEN 0 AND 100),
	risk_tier          TEXT NOT NULL CHECK (risk_tier IN ('high','medium','low')),
	evidence_urls      JSONB NOT NULL DEFAULT '[]',
	evidence_snippets  JSONB NOT NULL DEFAULT '[]',
	last_checked_at    TIMESTAMPTZ,
	next_check_at      TIMESTAMPTZ,
	review_owner       TEXT NOT NULL DEFAULT '',
	resolution         TEXT NOT NULL DEFAULT '',
	false_alarm_reason TEXT NOT NULL DEFAULT '',
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_venues_status ON venues(status);
CREATE INDEX IF NOT EXISTS idx_venues_due ON venues(next_check_at) WHERE status <> 'Closed';
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

var postgresSelect = `SELECT ` + strings.Join(columns, ", ") + ` FROM venues`

func (s *PostgresStore) Get(ctx context.Context, id string) (*model.Venue, error) {
	v, err := scanPostgres(s.pool.QueryRow(ctx, postgresSelect+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get %s", id)
	}
	return v, nil
}

func (s *PostgresStore) GetAll(ctx context.Context) ([]model.Venue, error) {
	return s.query(ctx, postgresSelect+` ORDER BY name`)
}

func (s *PostgresStore) GetDueForCheck(ctx context.Context, now time.Time) ([]model.Venue, error) {
	return s.query(ctx,
		postgresSelect+` WHERE status <> $1 AND next_check_at IS NOT NULL AND next_check_at <= $2 ORDER BY next_check_at`,
		string(model.StatusClosed), now.UTC(),
	)
}

func (s *PostgresStore) ListByStatus(ctx context.Context, statuses ...model.PlaceStatus) ([]model.Venue, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	names := make([]string, len(statuses))
	for i, st := range statuses {
		if !st.Valid() {
			return nil, eris.Errorf("postgres: list by unknown status %q", st)
		}
		names[i] = string(st)
	}
	return s.query(ctx, postgresSelect+` WHERE status = ANY($1) ORDER BY district, name`, names)
}

func (s *PostgresStore) Update(ctx context.Context, v *model.Venue) error {
	if err := v.Validate(); err != nil {
		return eris.Wrap(err, "postgres: reject venue")
	}

	var current string
	err := s.pool.QueryRow(ctx, `SELECT status FROM venues WHERE id = $1`, v.ID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "postgres: update %s", v.ID)
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: read status %s", v.ID)
	}
	if err := checkTransition(v.ID, model.PlaceStatus(current), v.Status, v.Resolution); err != nil {
		return err
	}

	ts := s.now().UTC()
	v.UpdatedAt = &ts
	args, err := postgresArgs(v)
	if err != nil {
		return err
	}

	sets := make([]string, 0, len(columns)-1)
	for i, c := range columns[1:] {
		sets = append(sets, fmt.Sprintf("%s = $%d", c, i+1))
	}
	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE venues SET %s WHERE id = $%d`, strings.Join(sets, ", "), len(columns)),
		append(args[1:], v.ID)...,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update %s", v.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: update %s", v.ID)
	}
	return nil
}

func (s *PostgresStore) Upsert(ctx context.Context, v *model.Venue) (string, error) {
	if err := prepare(v, uuid.NewString, s.now()); err != nil {
		return "", err
	}
	args, err := postgresArgs(v)
	if err != nil {
		return "", err
	}
	stmt, err := db.UpsertSQL(db.UpsertConfig{
		Table:        "venues",
		Columns:      columns,
		ConflictKeys: []string{"id"},
		Returning:    "id",
	})
	if err != nil {
		return "", eris.Wrap(err, "postgres: build upsert")
	}

	var id string
	if err := s.pool.QueryRow(ctx, stmt, args...).Scan(&id); err != nil {
		return "", eris.Wrapf(err, "postgres: upsert %s", v.ID)
	}
	return id, nil
}

func (s *PostgresStore) now() time.Time {
	if s.nowFunc == nil {
		return time.Now()
	}
	return s.nowFunc()
}

func (s *PostgresStore) query(ctx context.Context, q string, args ...any) ([]model.Venue, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query venues")
	}
	defer rows.Close()

	var out []model.Venue
	for rows.Next() {
		v, err := scanPostgres(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate venues")
}

func scanPostgres(row pgx.Row) (*model.Venue, error) {
	var (
		v                           model.Venue
		e                           enums
		sources, evURLs, evSnippets []byte
	)
	err := row.Scan(
		&v.ID, &v.Slug, &v.Name, &v.NameEn,
		&v.Region, &v.District, &v.Address, &v.Lat, &v.Lng,
		&v.Category, &v.Indoor, &v.AgeMin, &v.AgeMax, &v.PriceTier, &v.Description,
		&v.WebsiteURL, &v.FacebookURL, &v.InstagramURL, &sources,
		&e.status, &e.stage, &v.Confidence, &e.tier,
		&evURLs, &evSnippets, &v.LastCheckedAt, &v.NextCheckAt,
		&v.ReviewOwner, &v.Resolution, &v.FalseAlarmReason, &v.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "postgres: scan venue")
	}
	if err := e.apply(&v); err != nil {
		return nil, err
	}
	if v.SourceURLs, err = decodeList(sources); err != nil {
		return nil, err
	}
	if v.EvidenceURLs, err = decodeList(evURLs); err != nil {
		return nil, err
	}
	if v.EvidenceSnippets, err = decodeList(evSnippets); err != nil {
		return nil, err
	}
	return &v, nil
}

func postgresArgs(v *model.Venue) ([]any, error) {
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
		v.Region, v.District, v.Address, v.Lat, v.Lng,
		v.Category, v.Indoor, v.AgeMin, v.AgeMax, v.PriceTier, v.Description,
		v.WebsiteURL, v.FacebookURL, v.InstagramURL, sources,
		string(v.Status), string(v.ValidationStage), v.Confidence, string(v.RiskTier),
		evURLs, evSnippets, v.LastCheckedAt, v.NextCheckAt,
		v.ReviewOwner, v.Resolution, v.FalseAlarmReason, v.UpdatedAt,
	}, nil
}
