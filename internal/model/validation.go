package model

import (
	"time"
	"unicode/utf8"
)

// MaxSnippetLen bounds an evidence snippet, in characters.
const MaxSnippetLen = 1000

// MaxRationaleLen bounds an adjudication rationale, in characters.
const MaxRationaleLen = 200

// EvidenceType classifies where a piece of evidence came from.
type EvidenceType string

const (
	EvidenceWeb      EvidenceType = "web"
	EvidenceSocial   EvidenceType = "social"
	EvidenceOfficial EvidenceType = "official"
)

// Evidence is a URL and snippet supporting a status judgement.
type Evidence struct {
	URL         string       `json:"url"`
	Snippet     string       `json:"snippet"`
	Title       string       `json:"title,omitempty"`
	PublishedAt *time.Time   `json:"published_at,omitempty"`
	AccessedAt  time.Time    `json:"accessed_at"`
	Type        EvidenceType `json:"evidence_type"`
}

// NewEvidence builds an Evidence item with the snippet truncated to MaxSnippetLen.
func NewEvidence(url, title, snippet string, accessedAt time.Time) Evidence {
	return Evidence{
		URL:        url,
		Title:      title,
		Snippet:    Truncate(snippet, MaxSnippetLen),
		AccessedAt: accessedAt.UTC(),
		Type:       EvidenceWeb,
	}
}

// ValidationRecord is the outcome of a single check of one venue. It is
// consumed immediately to update the venue and otherwise survives only in the
// audit trail.
type ValidationRecord struct {
	VenueID string `json:"venue_id"`

	// HTTP checks.
	HTTPStatus    int        `json:"http_status,omitempty"`
	HTTPOk        bool       `json:"http_ok"`
	HTTPCheckedAt *time.Time `json:"http_checked_at,omitempty"`

	// Content checks.
	ContentHash        string     `json:"content_hash,omitempty"`
	ContentHashChanged bool       `json:"content_hash_changed"`
	LastModified       *time.Time `json:"last_modified,omitempty"`
	ETag               string     `json:"etag,omitempty"`

	SocialActive bool `json:"social_active"`

	Evidence         []Evidence `json:"evidence,omitempty"`
	EvidenceURLs     []string   `json:"evidence_urls,omitempty"`
	EvidenceSnippets []string   `json:"evidence_snippets,omitempty"`

	// Adjudication.
	Summary       string   `json:"summary,omitempty"`
	Rationale     string   `json:"rationale,omitempty"`
	NeedsReview   bool     `json:"needs_review"`
	MissingFields []string `json:"missing_fields,omitempty"`

	Confidence int             `json:"confidence"`
	RiskTier   RiskTier        `json:"risk_tier"`
	Status     PlaceStatus     `json:"status"`
	Stage      ValidationStage `json:"validation_stage"`

	CheckedAt   time.Time `json:"checked_at"`
	NextCheckAt time.Time `json:"next_check_at"`
}

// NewValidationRecord starts a record for the given venue at the given time.
func NewValidationRecord(venueID string, checkedAt time.Time) *ValidationRecord {
	return &ValidationRecord{
		VenueID:   venueID,
		Status:    StatusPendingReview,
		Stage:     StageExtracted,
		RiskTier:  RiskMedium,
		CheckedAt: checkedAt.UTC(),
	}
}

// Advance moves the record to stage s. Stages never regress within a run, so
// a move to a lower-ranked stage is ignored.
func (r *ValidationRecord) Advance(s ValidationStage) {
	if s.Rank() >= r.Stage.Rank() {
		r.Stage = s
	}
}

// SetEvidence stores the evidence list together with its URL and snippet projections.
func (r *ValidationRecord) SetEvidence(items []Evidence) {
	r.Evidence = items
	r.EvidenceURLs = make([]string, 0, len(items))
	r.EvidenceSnippets = make([]string, 0, len(items))
	for _, e := range items {
		r.EvidenceURLs = append(r.EvidenceURLs, e.URL)
		r.EvidenceSnippets = append(r.EvidenceSnippets, e.Snippet)
	}
}

// SetConfidence stores c clamped to 0..100.
func (r *ValidationRecord) SetConfidence(c int) {
	switch {
	case c < 0:
		c = 0
	case c > 100:
		c = 100
	}
	r.Confidence = c
}

// Truncate shortens s to at most n characters without splitting a rune.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
