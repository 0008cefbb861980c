// Package models defines data structures shared across the scraper.
package models

import (
	"encoding/json"
	"time"
)

// ScraperVersion is stamped into every record and patch the engine emits.
const ScraperVersion = "1.4.0"

// RoastLevel is the canonical roast-level scale.
type RoastLevel string

const (
	RoastLight       RoastLevel = "Light"
	RoastMediumLight RoastLevel = "Medium-Light"
	RoastMedium      RoastLevel = "Medium"
	RoastMediumDark  RoastLevel = "Medium-Dark"
	RoastDark        RoastLevel = "Dark"
)

// Valid reports whether the value is one of the canonical roast levels.
func (r RoastLevel) Valid() bool {
	switch r {
	case RoastLight, RoastMediumLight, RoastMedium, RoastMediumDark, RoastDark:
		return true
	}
	return false
}

// RoastProfile is the brew target a roast was developed for.
type RoastProfile string

const (
	ProfileEspresso RoastProfile = "Espresso"
	ProfileFilter   RoastProfile = "Filter"
	ProfileOmni     RoastProfile = "Omni"
)

// Valid reports whether the value is one of the canonical roast profiles.
func (r RoastProfile) Valid() bool {
	switch r {
	case ProfileEspresso, ProfileFilter, ProfileOmni:
		return true
	}
	return false
}

// Origin describes one growing origin of a coffee. Origins are only ever
// replaced wholesale by a full extraction, never patched field-by-field.
type Origin struct {
	Country       string `json:"country,omitempty"`
	Region        string `json:"region,omitempty"`
	Farm          string `json:"farm,omitempty"`
	Producer      string `json:"producer,omitempty"`
	ElevationLow  int    `json:"elevation_low,omitempty"`
	ElevationHigh int    `json:"elevation_high,omitempty"`
	Variety       string `json:"variety,omitempty"`
	Process       string `json:"process,omitempty"`
}

// BeanRecord is the canonical representation of one coffee product at one
// point in time. URL plus Roaster identifies the logical product across
// time; successive snapshots for the same URL form its history.
type BeanRecord struct {
	URL       string    `json:"url"`
	Roaster   string    `json:"roaster"`
	ScrapedAt time.Time `json:"scraped_at"`

	Name           string       `json:"name"`
	RoastLevel     RoastLevel   `json:"roast_level,omitempty"`
	RoastProfile   RoastProfile `json:"roast_profile,omitempty"`
	Description    string       `json:"description,omitempty"`
	ImageURL       string       `json:"image_url,omitempty"`
	IsDecaf        bool         `json:"is_decaf"`
	IsSingleOrigin bool         `json:"is_single_origin"`

	Price    *float64 `json:"price,omitempty"`
	Currency string   `json:"currency,omitempty"`
	Weight   *int     `json:"weight,omitempty"`
	InStock  bool     `json:"in_stock"`

	CuppingScore *float64 `json:"cupping_score,omitempty"`
	TastingNotes []string `json:"tasting_notes,omitempty"`
	Origins      []Origin `json:"origins,omitempty"`

	RawData        json.RawMessage `json:"raw_data,omitempty"`
	ScraperVersion string          `json:"scraper_version,omitempty"`
}

// Output is a unit of session output: either a full *BeanRecord snapshot or
// a sparse *DiffPatch. The two are distinct types rather than one struct
// with nullable fields so that "absent means untouched" is a property of the
// patch type, not a runtime convention.
type Output interface {
	output()
}

func (*BeanRecord) output() {}
func (*DiffPatch) output()  {}
