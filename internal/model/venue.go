package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// Venue is a real-world place tracked by the pipeline.
type Venue struct {
	ID     string `json:"id"`
	Slug   string `json:"slug"`
	Name   string `json:"name"`
	NameEn string `json:"name_en,omitempty"`

	Region   string   `json:"region"` // hk-island, kowloon, nt
	District string   `json:"district"`
	Address  string   `json:"address,omitempty"`
	Lat      *float64 `json:"lat,omitempty"`
	Lng      *float64 `json:"lng,omitempty"`

	Category    string `json:"category"`
	Indoor      bool   `json:"indoor"`
	AgeMin      *int   `json:"age_min,omitempty"`
	AgeMax      *int   `json:"age_max,omitempty"`
	PriceTier   string `json:"price_tier,omitempty"`
	Description string `json:"description,omitempty"`

	WebsiteURL   string   `json:"website_url,omitempty"`
	FacebookURL  string   `json:"facebook_url,omitempty"`
	InstagramURL string   `json:"instagram_url,omitempty"`
	SourceURLs   []string `json:"source_urls,omitempty"`

	// Pipeline-owned fields.
	Status           PlaceStatus     `json:"status"`
	ValidationStage  ValidationStage `json:"validation_stage"`
	Confidence       int             `json:"confidence"`
	RiskTier         RiskTier        `json:"risk_tier"`
	EvidenceURLs     []string        `json:"evidence_urls,omitempty"`
	EvidenceSnippets []string        `json:"evidence_snippets,omitempty"`
	LastCheckedAt    *time.Time      `json:"last_checked_at,omitempty"`
	NextCheckAt      *time.Time      `json:"next_check_at,omitempty"`

	// Human review.
	ReviewOwner      string `json:"review_owner,omitempty"`
	Resolution       string `json:"resolution,omitempty"`
	FalseAlarmReason string `json:"false_alarm_reason,omitempty"`

	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// Contact reports whether the venue has any web or social contact point.
func (v *Venue) Contact() bool {
	return v.WebsiteURL != "" || v.FacebookURL != ""
}

// Validate checks the enumerated fields and required identity fields. It is
// applied at the record-store boundary.
func (v *Venue) Validate() error {
	if v.ID == "" {
		return eris.New("model: venue id is required")
	}
	if v.Name == "" {
		return eris.Errorf("model: venue %s has no name", v.ID)
	}
	if !v.Status.Valid() {
		return eris.Errorf("model: venue %s has unknown status %q", v.ID, v.Status)
	}
	if !v.ValidationStage.Valid() {
		return eris.Errorf("model: venue %s has unknown validation stage %q", v.ID, v.ValidationStage)
	}
	if !v.RiskTier.Valid() {
		return eris.Errorf("model: venue %s has unknown risk tier %q", v.ID, v.RiskTier)
	}
	if v.Confidence < 0 || v.Confidence > 100 {
		return eris.Errorf("model: venue %s confidence %d out of range", v.ID, v.Confidence)
	}
	return nil
}

// DueForCheck reports whether the venue should be picked up by a freshness run.
func (v *Venue) DueForCheck(now time.Time) bool {
	if v.Status == StatusClosed || v.NextCheckAt == nil {
		return false
	}
	return !v.NextCheckAt.After(now)
}

// ApplyValidation copies the outcome of a check onto the venue.
func (v *Venue) ApplyValidation(rec *ValidationRecord) {
	v.Status = rec.Status
	v.ValidationStage = rec.Stage
	v.Confidence = rec.Confidence
	v.RiskTier = rec.RiskTier
	v.MergeEvidence(rec)
	v.Touch(rec.CheckedAt, rec.NextCheckAt)
}

// MergeEvidence replaces the stored evidence when the record carries any.
func (v *Venue) MergeEvidence(rec *ValidationRecord) {
	if len(rec.EvidenceURLs) > 0 {
		v.EvidenceURLs = append([]string(nil), rec.EvidenceURLs...)
	}
	if len(rec.EvidenceSnippets) > 0 {
		v.EvidenceSnippets = append([]string(nil), rec.EvidenceSnippets...)
	}
}

// Touch advances the check timestamps.
func (v *Venue) Touch(checkedAt, nextCheckAt time.Time) {
	c := checkedAt.UTC()
	n := nextCheckAt.UTC()
	v.LastCheckedAt = &c
	v.NextCheckAt = &n
	v.UpdatedAt = &c
}
