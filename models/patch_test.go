package models

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func sampleRecord() *BeanRecord {
	price := 18.5
	weight := 250
	score := 87.25
	return &BeanRecord{
		URL:            "https://example.com/products/la-palma",
		Roaster:        "example",
		ScrapedAt:      time.Date(2025, 5, 2, 9, 0, 0, 0, time.UTC),
		Name:           "La Palma",
		RoastLevel:     RoastLight,
		RoastProfile:   ProfileFilter,
		Description:    "Washed Gesha from Tolima.",
		ImageURL:       "https://example.com/img/la-palma.jpg",
		IsSingleOrigin: true,
		Price:          &price,
		Currency:       "USD",
		Weight:         &weight,
		InStock:        true,
		CuppingScore:   &score,
		TastingNotes:   []string{"jasmine", "peach", "honey"},
		Origins: []Origin{{
			Country: "Colombia",
			Region:  "Tolima",
			Process: "Washed",
		}},
		ScraperVersion: ScraperVersion,
	}
}

func TestDiffPatchApply(t *testing.T) {
	rec := sampleRecord()
	newPrice := 21.0
	outOfStock := false
	patch := &DiffPatch{
		URL:       rec.URL,
		ScrapedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Price:     &newPrice,
		InStock:   &outOfStock,
	}

	patch.Apply(rec)

	if rec.Price == nil || *rec.Price != 21.0 {
		t.Errorf("Price = %v, want 21.0", rec.Price)
	}
	if rec.InStock {
		t.Error("InStock = true, want false")
	}
	if !rec.ScrapedAt.Equal(patch.ScrapedAt) {
		t.Errorf("ScrapedAt = %v, want %v", rec.ScrapedAt, patch.ScrapedAt)
	}
	// Untouched fields survive.
	if rec.Name != "La Palma" {
		t.Errorf("Name = %q, want unchanged", rec.Name)
	}
	if len(rec.Origins) != 1 || rec.Origins[0].Country != "Colombia" {
		t.Errorf("Origins changed by patch: %+v", rec.Origins)
	}
	if rec.ImageURL == "" {
		t.Error("ImageURL cleared by patch")
	}
}

func TestDiffPatchApplyIdempotent(t *testing.T) {
	newPrice := 19.75
	name := "La Palma Reserve"
	patch := &DiffPatch{
		URL:          "https://example.com/products/la-palma",
		ScrapedAt:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Price:        &newPrice,
		Name:         &name,
		TastingNotes: []string{"plum", "cacao"},
	}

	once := sampleRecord()
	patch.Apply(once)

	twice := sampleRecord()
	patch.Apply(twice)
	patch.Apply(twice)

	if diff := cmp.Diff(once, twice); diff != "" {
		t.Errorf("applying patch twice diverged from applying once:\n%s", diff)
	}
}

func TestDiffPatchAbsentFieldsUntouched(t *testing.T) {
	rec := sampleRecord()
	want := sampleRecord()
	patch := &DiffPatch{URL: rec.URL}

	patch.Apply(rec)

	if diff := cmp.Diff(want, rec); diff != "" {
		t.Errorf("empty patch modified record:\n%s", diff)
	}
}

func TestDiffPatchValidate(t *testing.T) {
	negative := -1.0
	lowScore := 42.0
	tests := []struct {
		name    string
		patch   *DiffPatch
		wantErr bool
	}{
		{
			name:    "valid",
			patch:   &DiffPatch{URL: "https://example.com/products/x"},
			wantErr: false,
		},
		{
			name:    "missing url",
			patch:   &DiffPatch{},
			wantErr: true,
		},
		{
			name:    "negative price",
			patch:   &DiffPatch{URL: "https://example.com/products/x", Price: &negative},
			wantErr: true,
		},
		{
			name:    "cupping score out of range",
			patch:   &DiffPatch{URL: "https://example.com/products/x", CuppingScore: &lowScore},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.patch.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestOutOfStockPatch(t *testing.T) {
	now := time.Date(2025, 7, 1, 8, 30, 0, 0, time.UTC)
	p := OutOfStockPatch("https://example.com/products/gone", "example", now)

	if p.InStock == nil || *p.InStock {
		t.Fatal("out-of-stock patch must carry in_stock=false")
	}
	if p.Price != nil || p.Name != nil {
		t.Error("out-of-stock patch must not touch other fields")
	}
	if !p.ScrapedAt.Equal(now) {
		t.Errorf("ScrapedAt = %v, want %v", p.ScrapedAt, now)
	}
	if err := p.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestNewScrapeSessionID(t *testing.T) {
	start := time.Date(2025, 3, 14, 15, 9, 26, 0, time.UTC)
	s := NewScrapeSession("blueroom", start)
	if s.ID != "blueroom-20250314-150926" {
		t.Errorf("session ID = %q, want %q", s.ID, "blueroom-20250314-150926")
	}
}
