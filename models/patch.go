package models

import (
	"fmt"
	"time"
)

// DiffPatch is a sparse update to a previously persisted BeanRecord, keyed
// by URL. Only fields the scraper can refresh cheaply are present; Origins,
// ImageURL, and RawData require a full re-extraction and are deliberately
// not part of the patch. Nil fields are left untouched on apply.
type DiffPatch struct {
	URL       string    `json:"url"`
	Roaster   string    `json:"roaster,omitempty"`
	ScrapedAt time.Time `json:"scraped_at"`

	Name         *string       `json:"name,omitempty"`
	RoastLevel   *RoastLevel   `json:"roast_level,omitempty"`
	RoastProfile *RoastProfile `json:"roast_profile,omitempty"`
	Description  *string       `json:"description,omitempty"`
	IsDecaf      *bool         `json:"is_decaf,omitempty"`

	Price    *float64 `json:"price,omitempty"`
	Weight   *int     `json:"weight,omitempty"`
	Currency *string  `json:"currency,omitempty"`
	InStock  *bool    `json:"in_stock,omitempty"`

	CuppingScore *float64 `json:"cupping_score,omitempty"`
	TastingNotes []string `json:"tasting_notes,omitempty"`

	ScraperVersion string `json:"scraper_version,omitempty"`
}

// Validate checks the patch is well formed enough to apply.
func (p *DiffPatch) Validate() error {
	if p.URL == "" {
		return fmt.Errorf("diff patch missing url")
	}
	if p.Price != nil && *p.Price < 0 {
		return fmt.Errorf("diff patch for %s has negative price", p.URL)
	}
	if p.CuppingScore != nil && (*p.CuppingScore < 70 || *p.CuppingScore > 100) {
		return fmt.Errorf("diff patch for %s has cupping score out of range: %g", p.URL, *p.CuppingScore)
	}
	return nil
}

// Apply merges the patch into rec, overwriting only the fields the patch
// carries. Applying the same patch twice yields the same record as applying
// it once.
func (p *DiffPatch) Apply(rec *BeanRecord) {
	if p.Name != nil {
		rec.Name = *p.Name
	}
	if p.RoastLevel != nil {
		rec.RoastLevel = *p.RoastLevel
	}
	if p.RoastProfile != nil {
		rec.RoastProfile = *p.RoastProfile
	}
	if p.Description != nil {
		rec.Description = *p.Description
	}
	if p.IsDecaf != nil {
		rec.IsDecaf = *p.IsDecaf
	}
	if p.Price != nil {
		price := *p.Price
		rec.Price = &price
	}
	if p.Weight != nil {
		weight := *p.Weight
		rec.Weight = &weight
	}
	if p.Currency != nil {
		rec.Currency = *p.Currency
	}
	if p.InStock != nil {
		rec.InStock = *p.InStock
	}
	if p.CuppingScore != nil {
		score := *p.CuppingScore
		rec.CuppingScore = &score
	}
	if p.TastingNotes != nil {
		rec.TastingNotes = append([]string(nil), p.TastingNotes...)
	}
	if !p.ScrapedAt.IsZero() {
		rec.ScrapedAt = p.ScrapedAt
	}
	if p.ScraperVersion != "" {
		rec.ScraperVersion = p.ScraperVersion
	}
}

// OutOfStockPatch builds the patch emitted for a product that was persisted
// before but is no longer discoverable on the roaster's storefront.
func OutOfStockPatch(url, roaster string, now time.Time) *DiffPatch {
	inStock := false
	return &DiffPatch{
		URL:            url,
		Roaster:        roaster,
		ScrapedAt:      now,
		InStock:        &inStock,
		ScraperVersion: ScraperVersion,
	}
}
