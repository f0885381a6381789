// Package store persists venue records. Enumerated fields are validated on
// every read and write so unknown statuses never enter or leave the store.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/parentmap/venue-pipeline/internal/model"
)

// ErrNotFound is returned when a venue id does not exist.
var ErrNotFound = eris.New("store: venue not found")

// ErrInvalidTransition is returned when an update would leave Closed without
// a resolution.
var ErrInvalidTransition = eris.New("store: invalid status transition")

// Store is the venue record store.
type Store interface {
	Get(ctx context.Context, id string) (*model.Venue, error)
	GetAll(ctx context.Context) ([]model.Venue, error)
	// GetDueForCheck returns venues with next_check_at <= now whose status is
	// not Closed, oldest schedule first.
	GetDueForCheck(ctx context.Context, now time.Time) ([]model.Venue, error)
	ListByStatus(ctx context.Context, statuses ...model.PlaceStatus) ([]model.Venue, error)
	// Update overwrites an existing venue. Returns ErrNotFound for unknown ids.
	Update(ctx context.Context, v *model.Venue) error
	// Upsert inserts or replaces a venue, assigning an id when empty.
	Upsert(ctx context.Context, v *model.Venue) (string, error)

	Migrate(ctx context.Context) error
	Close() error
}

// columns lists venue columns in insert/scan order.
var columns = []string{
	"id", "slug", "name", "name_en",
	"region", "district", "address", "lat", "lng",
	"category", "indoor", "age_min", "age_max", "price_tier", "description",
	"website_url", "facebook_url", "instagram_url", "source_urls",
	"status", "validation_stage", "confidence", "risk_tier",
	"evidence_urls", "evidence_snippets", "last_checked_at", "next_check_at",
	"review_owner", "resolution", "false_alarm_reason", "updated_at",
}

func checkTransition(id string, from, to model.PlaceStatus, resolution string) error {
	if !model.CanTransition(from, to, resolution) {
		return eris.Wrapf(ErrInvalidTransition, "venue %s: %s -> %s", id, from, to)
	}
	return nil
}

// enums holds the raw enumerated columns of a row before parsing.
type enums struct {
	status, stage, tier string
}

func (e enums) apply(v *model.Venue) error {
	st, err := model.ParsePlaceStatus(e.status)
	if err != nil {
		return eris.Wrapf(err, "store: venue %s", v.ID)
	}
	stage, err := model.ParseValidationStage(e.stage)
	if err != nil {
		return eris.Wrapf(err, "store: venue %s", v.ID)
	}
	tier, err := model.ParseRiskTier(e.tier)
	if err != nil {
		return eris.Wrapf(err, "store: venue %s", v.ID)
	}
	v.Status, v.ValidationStage, v.RiskTier = st, stage, tier
	return nil
}

func encodeList(list []string) ([]byte, error) {
	if list == nil {
		list = []string{}
	}
	b, err := json.Marshal(list)
	return b, eris.Wrap(err, "store: encode list")
}

func decodeList(raw []byte) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, eris.Wrap(err, "store: decode list")
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

// prepare assigns an id when missing, stamps updated_at and validates.
func prepare(v *model.Venue, newID func() string, now time.Time) error {
	if v.ID == "" {
		v.ID = newID()
	}
	if err := v.Validate(); err != nil {
		return eris.Wrap(err, "store: reject venue")
	}
	ts := now.UTC()
	v.UpdatedAt = &ts
	return nil
}
