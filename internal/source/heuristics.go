package source

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/parentmap/venue-pipeline/internal/model"
)

var (
	titleSuffixRe = regexp.MustCompile(`\s*[|\-–—].*$`)
	titleParensRe = regexp.MustCompile(`[（(].*?[)）]`)

	addressRes = []*regexp.Regexp{
		regexp.MustCompile(`地址\s*[：:]\s*([^\n。]{5,100})`),
		regexp.MustCompile(`位於\s*([^\n。]{5,100})`),
		regexp.MustCompile(`(香港(?:島|九龍|新界)[^\n。]{5,100})`),
		regexp.MustCompile(`(?i)address\s*:\s*([^\n]{5,100})`),
	}
	priceRes = []*regexp.Regexp{
		regexp.MustCompile(`門票\s*[：:]\s*[^\n。]{3,50}`),
		regexp.MustCompile(`收費\s*[：:]\s*[^\n。]{3,50}`),
		regexp.MustCompile(`[$＄]\s*\d+(?:-\d+)?`),
		regexp.MustCompile(`免費入場|免費參觀`),
	}
	ageRangeRes = []*regexp.Regexp{
		regexp.MustCompile(`適合\s*(\d+)\s*[-–至]?\s*(\d+)?\s*歲`),
		regexp.MustCompile(`(\d+)\s*[-–]\s*(\d+)\s*歲`),
	}
	ageMonthsRe = regexp.MustCompile(`(\d+)\s*個月`)
	websiteRe   = regexp.MustCompile(`(?:官網|網站|Website)\s*[：:]\s*(https?://[^\s<>"]+)`)
	facebookRe  = regexp.MustCompile(`(?i)facebook\s*[：:]\s*(https?://[^\s<>"]+)`)
)

// nameFromTitle strips site suffixes and parentheticals from a post title.
func nameFromTitle(title string) string {
	t := titleSuffixRe.ReplaceAllString(strings.TrimSpace(title), "")
	t = strings.TrimSpace(titleParensRe.ReplaceAllString(t, ""))
	return model.Truncate(t, 100)
}

// applyHeuristics fills whatever candidate fields can be read off free text.
// Fields already set are kept.
func applyHeuristics(c *model.CandidateFact, text string) {
	if c.Address == "" {
		c.Address = extractAddress(text)
	}
	if c.District == "" {
		c.District = model.DistrictIn(c.Address)
		if c.District == "" {
			c.District = model.DistrictIn(text)
		}
	}
	if c.PriceNote == "" {
		c.PriceNote = extractPrice(text)
	}
	if c.AgeMin == nil && c.AgeMax == nil {
		c.AgeMin, c.AgeMax = extractAgeRange(text)
	}
	if c.WebsiteURL == "" {
		if m := websiteRe.FindStringSubmatch(text); m != nil {
			c.WebsiteURL = m[1]
		}
	}
	if c.FacebookURL == "" {
		if m := facebookRe.FindStringSubmatch(text); m != nil {
			c.FacebookURL = m[1]
		}
	}
}

func extractAddress(text string) string {
	for _, re := range addressRes {
		if m := re.FindStringSubmatch(text); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}

func extractPrice(text string) string {
	for _, re := range priceRes {
		if m := re.FindString(text); m != "" {
			return strings.TrimSpace(m)
		}
	}
	return ""
}

// extractAgeRange reads "適合3-8歲" style ranges. A lone lower bound gets a
// six-year span; month ages become a one-year span.
func extractAgeRange(text string) (*int, *int) {
	for _, re := range ageRangeRes {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		lo, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		hi := lo + 6
		if m[2] != "" {
			if v, err := strconv.Atoi(m[2]); err == nil {
				hi = v
			}
		}
		return &lo, &hi
	}
	if m := ageMonthsRe.FindStringSubmatch(text); m != nil {
		months, err := strconv.Atoi(m[1])
		if err == nil {
			lo := months / 12
			hi := lo + 1
			return &lo, &hi
		}
	}
	return nil, nil
}
