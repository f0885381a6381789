package model

import (
	"slices"
	"time"
)

// SourceType identifies how candidates are pulled from a source.
type SourceType string

const (
	SourceRSS     SourceType = "rss"
	SourceSitemap SourceType = "sitemap"
	SourceTagPage SourceType = "tag_page"
	SourceManual  SourceType = "manual"
)

// SourceConfig describes one configured source of candidate venues.
type SourceConfig struct {
	Name              string     `yaml:"name" json:"name"`
	Type              SourceType `yaml:"type" json:"type"`
	URL               string     `yaml:"url" json:"url,omitempty"`
	Path              string     `yaml:"path" json:"path,omitempty"` // manual sources
	RecencyWindowDays int        `yaml:"recency_window_days" json:"recency_window_days"`
	Keywords          []string   `yaml:"category_keywords" json:"keywords,omitempty"`
	Enabled           *bool      `yaml:"enabled" json:"enabled,omitempty"`
	MaxPages          int        `yaml:"max_pages" json:"max_pages,omitempty"`
	Description       string     `yaml:"description" json:"description,omitempty"`
}

// IsEnabled reports whether the source should be processed. Sources are
// enabled unless explicitly switched off.
func (s SourceConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// Known reports whether the source type is supported.
func (t SourceType) Known() bool {
	return slices.Contains([]SourceType{SourceRSS, SourceSitemap, SourceTagPage, SourceManual}, t)
}

// CandidateFact is a raw venue candidate produced by a source extractor.
type CandidateFact struct {
	Name   string `json:"name" yaml:"name"`
	NameEn string `json:"name_en,omitempty" yaml:"name_en"`

	Address  string `json:"address,omitempty" yaml:"address"`
	District string `json:"district,omitempty" yaml:"district"`
	Region   string `json:"region,omitempty" yaml:"region"`

	Category    string `json:"category,omitempty" yaml:"category"`
	Indoor      *bool  `json:"indoor,omitempty" yaml:"indoor"`
	AgeMin      *int   `json:"age_min,omitempty" yaml:"age_min"`
	AgeMax      *int   `json:"age_max,omitempty" yaml:"age_max"`
	PriceNote   string `json:"price_note,omitempty" yaml:"price_note"`
	Description string `json:"description,omitempty" yaml:"description"`

	WebsiteURL   string `json:"website_url,omitempty" yaml:"website_url"`
	FacebookURL  string `json:"facebook_url,omitempty" yaml:"facebook_url"`
	InstagramURL string `json:"instagram_url,omitempty" yaml:"instagram_url"`

	SourceURL   string     `json:"source_url" yaml:"source_url"`
	SourceName  string     `json:"source_name" yaml:"source_name"`
	PublishedAt *time.Time `json:"published_at,omitempty" yaml:"published_at"`
	ExtractedAt time.Time  `json:"extracted_at" yaml:"-"`

	ContentHash string `json:"content_hash,omitempty" yaml:"-"`
}
