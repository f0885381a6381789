package model

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Regions.
const (
	RegionHKIsland = "hk-island"
	RegionKowloon  = "kowloon"
	RegionNT       = "nt"
)

var (
	hkIslandDistricts = []string{"中西區", "灣仔", "東區", "南區"}
	kowloonDistricts  = []string{"油尖旺", "深水埗", "九龍城", "黃大仙", "觀塘"}
	ntDistricts       = []string{"荃灣", "屯門", "元朗", "北區", "大埔", "沙田", "西貢", "離島", "葵青"}
)

// Districts lists the eighteen districts in matching order.
func Districts() []string {
	out := make([]string, 0, 18)
	out = append(out, hkIslandDistricts...)
	out = append(out, kowloonDistricts...)
	return append(out, ntDistricts...)
}

// DistrictIn returns the first district named in text, or "".
func DistrictIn(text string) string {
	for _, d := range Districts() {
		if strings.Contains(text, d) {
			return d
		}
	}
	return ""
}

// RegionForDistrict maps a district to its region. Unknown districts are
// New Territories; an empty district defaults to Hong Kong Island.
func RegionForDistrict(district string) string {
	district = strings.TrimSpace(district)
	switch {
	case district == "":
		return RegionHKIsland
	case contains(hkIslandDistricts, district):
		return RegionHKIsland
	case contains(kowloonDistricts, district):
		return RegionKowloon
	default:
		return RegionNT
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// maxSlugLen bounds Slugify output, in characters.
const maxSlugLen = 50

// Slugify builds a URL slug that keeps CJK characters: NFKC-normalized,
// lowercased, runs of anything but letters and digits collapsed to '-'.
func Slugify(s string) string {
	s = strings.ToLower(norm.NFKC.String(s))
	var b strings.Builder
	dash := false
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	slug := strings.TrimRight(b.String(), "-")
	return strings.TrimRight(Truncate(slug, maxSlugLen), "-")
}
