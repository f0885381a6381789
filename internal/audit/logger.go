// Package audit appends one JSON line per venue mutation to a per-run log
// file and reads those files back for review reports.
package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/parentmap/venue-pipeline/internal/model"
)

const filePrefix = "audit_"

// Logger writes audit entries for a single run. Appends are serialized so
// concurrent workers never interleave lines.
type Logger struct {
	dir   string
	runID string
	path  string

	mu      sync.Mutex
	nowFunc func() time.Time
}

// New creates the log directory and returns a Logger that appends to
// audit_<runID>.jsonl inside it.
func New(dir, runID string) (*Logger, error) {
	if runID == "" {
		return nil, eris.New("audit: run id is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "audit: create dir %s", dir)
	}
	return &Logger{
		dir:     dir,
		runID:   runID,
		path:    filepath.Join(dir, filePrefix+runID+".jsonl"),
		nowFunc: time.Now,
	}, nil
}

// RunID returns the run this logger writes for.
func (l *Logger) RunID() string { return l.runID }

// Dir returns the directory holding the audit files.
func (l *Logger) Dir() string { return l.dir }

// Path returns the file the logger appends to.
func (l *Logger) Path() string { return l.path }

// Log appends one entry. The file is opened per write so a crash never
// leaves a partially buffered run behind.
func (l *Logger) Log(action model.AuditAction, venueID string, details map[string]any, evidenceURLs []string) error {
	if details == nil {
		details = map[string]any{}
	}
	if evidenceURLs == nil {
		evidenceURLs = []string{}
	}
	entry := model.AuditEntry{
		Timestamp:    l.nowFunc().UTC(),
		RunID:        l.runID,
		Action:       action,
		VenueID:      venueID,
		Details:      details,
		EvidenceURLs: evidenceURLs,
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return eris.Wrap(err, "audit: marshal entry")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return eris.Wrapf(err, "audit: open %s", l.path)
	}
	defer f.Close() //nolint:errcheck

	if _, err := f.Write(append(line, '\n')); err != nil {
		return eris.Wrapf(err, "audit: append %s", l.path)
	}
	return nil
}

// LogExtract records a venue created from a source candidate.
func (l *Logger) LogExtract(venueID, sourceURL string, fields []string) error {
	return l.Log(model.AuditExtract, venueID, map[string]any{
		"source_url":       sourceURL,
		"extracted_fields": fields,
	}, []string{sourceURL})
}

// LogValidation records a check that kept the status but refreshed evidence.
func (l *Logger) LogValidation(venueID string, stage model.ValidationStage, confidence int, evidenceURLs []string) error {
	return l.Log(model.AuditValidate, venueID, map[string]any{
		"stage":      string(stage),
		"confidence": confidence,
	}, evidenceURLs)
}

// LogStatusChange records a status transition.
func (l *Logger) LogStatusChange(venueID string, from, to model.PlaceStatus, reason string, evidenceURLs []string) error {
	return l.Log(model.AuditStatusChange, venueID, map[string]any{
		"old_status": string(from),
		"new_status": string(to),
		"reason":     reason,
	}, evidenceURLs)
}

// LogCheckError records a check that failed and was rescheduled.
func (l *Logger) LogCheckError(venueID string, cause error, class string) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return l.Log(model.AuditCheckError, venueID, map[string]any{
		"error":       msg,
		"error_class": class,
	}, nil)
}

// LogReschedule records a next-check recomputation.
func (l *Logger) LogReschedule(venueID string, tier model.RiskTier, previous *time.Time, next time.Time) error {
	details := map[string]any{
		"risk_tier":     string(tier),
		"next_check_at": next.UTC().Format(time.RFC3339),
	}
	if previous != nil {
		details["previous_next_check_at"] = previous.UTC().Format(time.RFC3339)
	}
	return l.Log(model.AuditReschedule, venueID, details, nil)
}

// Entries reads every audit file in dir and returns the entries for venueID,
// oldest first. An empty venueID returns all entries. Malformed lines are
// skipped with a warning.
func Entries(dir, venueID string) ([]model.AuditEntry, error) {
	paths, err := filepath.Glob(filepath.Join(dir, filePrefix+"*.jsonl"))
	if err != nil {
		return nil, eris.Wrap(err, "audit: glob")
	}

	var out []model.AuditEntry
	for _, p := range paths {
		entries, err := readFile(p, venueID)
		if err != nil {
			return nil, err
		}
		out = append(out, entries...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

// Trails groups all entries in dir by venue ID.
func Trails(dir string) (map[string][]model.AuditEntry, error) {
	all, err := Entries(dir, "")
	if err != nil {
		return nil, err
	}
	trails := make(map[string][]model.AuditEntry)
	for _, e := range all {
		trails[e.VenueID] = append(trails[e.VenueID], e)
	}
	return trails, nil
}

func readFile(path, venueID string) ([]model.AuditEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "audit: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	var out []model.AuditEntry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := strings.TrimSpace(sc.Text())
		if raw == "" {
			continue
		}
		var e model.AuditEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			zap.L().Warn("audit: skipping malformed line",
				zap.String("file", path), zap.Int("line", line), zap.Error(err))
			continue
		}
		if venueID != "" && e.VenueID != venueID {
			continue
		}
		out = append(out, e)
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrapf(err, "audit: read %s", path)
	}
	return out, nil
}
