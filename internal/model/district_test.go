package model

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestRegionForDistrict(t *testing.T) {
	assert.Equal(t, RegionHKIsland, RegionForDistrict("灣仔"))
	assert.Equal(t, RegionKowloon, RegionForDistrict("觀塘"))
	assert.Equal(t, RegionNT, RegionForDistrict("沙田"))
	assert.Equal(t, RegionNT, RegionForDistrict("Somewhere"))
	assert.Equal(t, RegionHKIsland, RegionForDistrict(""))
}

func TestDistrictIn(t *testing.T) {
	assert.Equal(t, "九龍城", DistrictIn("位於九龍城的室內遊樂場"))
	assert.Equal(t, "", DistrictIn("no district here"))
	assert.Len(t, Districts(), 18)
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "playtown-kids-cafe", Slugify("  Playtown Kids Cafe!! "))
	assert.Equal(t, "童樂園-wan-chai", Slugify("童樂園 (Wan Chai)"))
	assert.Equal(t, "abc123", Slugify("ＡＢＣ１２３"))
	assert.Equal(t, "", Slugify("!!!"))

	long := Slugify(strings.Repeat("遊", 80))
	assert.Equal(t, 50, utf8.RuneCountInString(long))
}
