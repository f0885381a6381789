package source

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"gopkg.in/yaml.v3"

	"github.com/parentmap/venue-pipeline/internal/model"
	"github.com/parentmap/venue-pipeline/internal/resilience"
)

// LoadManual reads a hand-maintained candidate list. The format follows the
// extension: .yaml/.yml (a list, or a map with a "places" list), .csv or
// .xlsx (header row, first sheet). Rows without a name are dropped.
func LoadManual(path, sourceName string, now time.Time) ([]model.CandidateFact, error) {
	if strings.TrimSpace(path) == "" {
		return nil, resilience.InvalidRequestf("source %s: manual source needs a path", sourceName)
	}

	var (
		cands []model.CandidateFact
		err   error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		cands, err = loadManualYAML(path)
	case ".csv":
		cands, err = loadManualCSV(path)
	case ".xlsx":
		cands, err = loadManualXLSX(path)
	default:
		return nil, resilience.InvalidRequestf("source %s: unsupported manual file %s", sourceName, path)
	}
	if err != nil {
		return nil, err
	}

	out := cands[:0]
	for _, c := range cands {
		c.Name = strings.TrimSpace(c.Name)
		if c.Name == "" {
			continue
		}
		if c.SourceName == "" {
			c.SourceName = sourceName
		}
		if c.SourceURL == "" {
			c.SourceURL = "manual:" + filepath.Base(path)
		}
		c.ExtractedAt = now.UTC()
		c.ContentHash = contentHash(strings.Join([]string{c.Name, c.District, c.Address, c.WebsiteURL}, "|"))
		if c.District == "" {
			c.District = model.DistrictIn(c.Address)
		}
		out = append(out, c)
	}
	return out, nil
}

func loadManualYAML(path string) ([]model.CandidateFact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "source: read %s", path)
	}

	var list []model.CandidateFact
	if err := yaml.Unmarshal(data, &list); err == nil {
		return list, nil
	}
	var wrapped struct {
		Places []model.CandidateFact `yaml:"places"`
	}
	if err := yaml.Unmarshal(data, &wrapped); err != nil {
		return nil, eris.Wrapf(err, "source: parse %s", path)
	}
	return wrapped.Places, nil
}

func loadManualCSV(path string) ([]model.CandidateFact, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "source: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "source: read header of %s", path)
	}

	var out []model.CandidateFact
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "source: read %s", path)
		}
		out = append(out, candidateFromRow(header, rec))
	}
	return out, nil
}

func loadManualXLSX(path string) ([]model.CandidateFact, error) {
	wb, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "source: open %s", path)
	}
	if len(wb.Sheets) == 0 || len(wb.Sheets[0].Rows) == 0 {
		return nil, nil
	}

	rows := wb.Sheets[0].Rows
	header := cellStrings(rows[0])
	out := make([]model.CandidateFact, 0, len(rows)-1)
	for _, row := range rows[1:] {
		out = append(out, candidateFromRow(header, cellStrings(row)))
	}
	return out, nil
}

func cellStrings(row *xlsx.Row) []string {
	out := make([]string, len(row.Cells))
	for i, cell := range row.Cells {
		out[i] = cell.String()
	}
	return out
}

// candidateFromRow maps a spreadsheet row by its header names. Unknown
// columns are ignored.
func candidateFromRow(header, row []string) model.CandidateFact {
	var c model.CandidateFact
	for i, h := range header {
		if i >= len(row) {
			break
		}
		v := strings.TrimSpace(row[i])
		if v == "" {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "name":
			c.Name = v
		case "name_en":
			c.NameEn = v
		case "address":
			c.Address = v
		case "district":
			c.District = v
		case "region":
			c.Region = v
		case "category":
			c.Category = v
		case "indoor":
			if b, err := strconv.ParseBool(v); err == nil {
				c.Indoor = &b
			}
		case "age_min":
			if n, err := strconv.Atoi(v); err == nil {
				c.AgeMin = &n
			}
		case "age_max":
			if n, err := strconv.Atoi(v); err == nil {
				c.AgeMax = &n
			}
		case "price_note", "price":
			c.PriceNote = v
		case "description":
			c.Description = v
		case "website_url", "website":
			c.WebsiteURL = v
		case "facebook_url", "facebook":
			c.FacebookURL = v
		case "instagram_url", "instagram":
			c.InstagramURL = v
		case "source_url":
			c.SourceURL = v
		}
	}
	return c
}
