package freshness

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/parentmap/venue-pipeline/internal/audit"
	"github.com/parentmap/venue-pipeline/internal/model"
	"github.com/parentmap/venue-pipeline/internal/store"
)

// ReviewStatuses are the statuses that put a venue in the review queue.
var ReviewStatuses = []model.PlaceStatus{
	model.StatusAlert,
	model.StatusSuspectedClosed,
	model.StatusNeedsReview,
}

// FlaggedVenue is one row of the review report.
type FlaggedVenue struct {
	Venue model.Venue        `json:"venue"`
	Trail []model.AuditEntry `json:"audit_trail"`
}

// LastReason returns the reason of the most recent status change, if any.
func (f FlaggedVenue) LastReason() string {
	for i := len(f.Trail) - 1; i >= 0; i-- {
		if f.Trail[i].Action == model.AuditStatusChange {
			if r, ok := f.Trail[i].Details["reason"].(string); ok {
				return r
			}
		}
	}
	return ""
}

// FlaggedReport lists venues in a review status, each with its audit trail
// read from auditDir.
func FlaggedReport(ctx context.Context, s store.Store, auditDir string) ([]FlaggedVenue, error) {
	venues, err := s.ListByStatus(ctx, ReviewStatuses...)
	if err != nil {
		return nil, eris.Wrap(err, "report: list flagged venues")
	}
	trails, err := audit.Trails(auditDir)
	if err != nil {
		return nil, eris.Wrap(err, "report: read audit trails")
	}

	out := make([]FlaggedVenue, 0, len(venues))
	for _, v := range venues {
		out = append(out, FlaggedVenue{Venue: v, Trail: trails[v.ID]})
	}
	return out, nil
}

var reportColumns = []string{
	"place_id", "name", "district", "status", "confidence", "risk_tier",
	"evidence_urls", "last_checked", "next_check", "reason",
}

func reportRow(f FlaggedVenue) []string {
	v := f.Venue
	return []string{
		v.ID,
		v.Name,
		v.District,
		string(v.Status),
		strconv.Itoa(v.Confidence),
		string(v.RiskTier),
		strings.Join(v.EvidenceURLs, "; "),
		formatTime(v.LastCheckedAt),
		formatTime(v.NextCheckAt),
		f.LastReason(),
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// WriteCSV writes the report as CSV.
func WriteCSV(w io.Writer, rows []FlaggedVenue) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(reportColumns); err != nil {
		return eris.Wrap(err, "report: write csv header")
	}
	for _, f := range rows {
		if err := cw.Write(reportRow(f)); err != nil {
			return eris.Wrapf(err, "report: write csv row %s", f.Venue.ID)
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "report: flush csv")
}

// WriteXLSX writes the report as a single-sheet workbook at path.
func WriteXLSX(path string, rows []FlaggedVenue) error {
	file := xlsx.NewFile()
	sheet, err := file.AddSheet("Flagged")
	if err != nil {
		return eris.Wrap(err, "report: add sheet")
	}

	header := sheet.AddRow()
	for _, col := range reportColumns {
		header.AddCell().SetString(col)
	}
	for _, f := range rows {
		row := sheet.AddRow()
		for i, val := range reportRow(f) {
			cell := row.AddCell()
			if reportColumns[i] == "confidence" {
				cell.SetInt(f.Venue.Confidence)
				continue
			}
			cell.SetString(val)
		}
	}

	if err := file.Save(path); err != nil {
		return eris.Wrapf(err, "report: save %s", path)
	}
	return nil
}
