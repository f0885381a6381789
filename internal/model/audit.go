package model

import "time"

// AuditAction names the kind of mutation recorded in the audit log.
type AuditAction string

const (
	AuditExtract      AuditAction = "EXTRACT"
	AuditValidate     AuditAction = "VALIDATE"
	AuditStatusChange AuditAction = "STATUS_CHANGE"
	AuditCheckError   AuditAction = "CHECK_ERROR"
	AuditReschedule   AuditAction = "RESCHEDULE"
)

// AuditEntry is one append-only line of the audit log.
type AuditEntry struct {
	Timestamp    time.Time      `json:"timestamp"`
	RunID        string         `json:"run_id"`
	Action       AuditAction    `json:"action"`
	VenueID      string         `json:"venue_id"`
	Details      map[string]any `json:"details"`
	EvidenceURLs []string       `json:"evidence_urls"`
}
