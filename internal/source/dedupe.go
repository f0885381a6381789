package source

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/parentmap/venue-pipeline/internal/model"
)

// similarityThreshold is the token Jaccard above which two names in the same
// district are the same venue.
const similarityThreshold = 0.8

// Detector flags candidates that repeat a known venue or an earlier
// candidate of the same run.
type Detector struct {
	existing []model.Venue
	normed   []string

	seenHashes map[string]bool
	seenNames  map[string]string
}

// NewDetector indexes the venues already in the store.
func NewDetector(existing []model.Venue) *Detector {
	d := &Detector{
		existing:   existing,
		normed:     make([]string, len(existing)),
		seenHashes: map[string]bool{},
		seenNames:  map[string]string{},
	}
	for i, v := range existing {
		d.normed[i] = NormalizeName(v.Name)
	}
	return d
}

// Duplicate reports whether c was seen before. The returned id is the
// matching venue when one is known; a repeated content hash matches without
// an id.
func (d *Detector) Duplicate(c model.CandidateFact) (string, bool) {
	if c.ContentHash != "" && d.seenHashes[c.ContentHash] {
		return "", true
	}

	name := NormalizeName(c.Name)
	if name == "" {
		return "", false
	}
	if id, ok := d.seenNames[name]; ok {
		return id, true
	}

	for i, v := range d.existing {
		other := d.normed[i]
		if name == other {
			return v.ID, true
		}
		if c.District != "" && c.District == v.District && Jaccard(name, other) > similarityThreshold {
			return v.ID, true
		}
	}
	return "", false
}

// Add marks c as seen under venue id.
func (d *Detector) Add(c model.CandidateFact, id string) {
	if c.ContentHash != "" {
		d.seenHashes[c.ContentHash] = true
	}
	if name := NormalizeName(c.Name); name != "" {
		d.seenNames[name] = id
	}
}

// NormalizeName folds width and case, drops punctuation and collapses
// whitespace so "Ｐlay  Town!" and "play town" compare equal.
func NormalizeName(name string) string {
	name = strings.ToLower(norm.NFKC.String(name))
	var b strings.Builder
	for _, r := range name {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Jaccard is the token-set similarity of two normalized names.
func Jaccard(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	inter := 0
	for t := range setA {
		if setB[t] {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	return float64(inter) / float64(union)
}

func tokenSet(s string) map[string]bool {
	out := map[string]bool{}
	for _, t := range strings.Fields(s) {
		out[t] = true
	}
	return out
}
