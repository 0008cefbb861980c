package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"beanscout/models"
)

func ptr[T any](v T) *T {
	return &v
}

func sampleRecord(url string, scrapedAt time.Time) *models.BeanRecord {
	return &models.BeanRecord{
		URL:            url,
		Roaster:        "Test Roaster",
		ScrapedAt:      scrapedAt,
		Name:           "Kayon Mountain",
		RoastLevel:     models.RoastLight,
		RoastProfile:   models.ProfileFilter,
		Description:    "Natural heirloom from Guji.",
		IsSingleOrigin: true,
		Price:          ptr(14.50),
		Currency:       "GBP",
		Weight:         ptr(250),
		InStock:        true,
		CuppingScore:   ptr(88.0),
		TastingNotes:   []string{"blueberry", "cacao nib"},
		Origins: []models.Origin{{
			Country:       "Ethiopia",
			Region:        "Guji",
			ElevationLow:  1900,
			ElevationHigh: 2100,
			Process:       "Natural",
		}},
		RawData:        json.RawMessage(`{"html":"<html/>"}`),
		ScraperVersion: models.ScraperVersion,
	}
}

func TestRecordRoundTrip(t *testing.T) {
	dataset := NewDataset(t.TempDir())
	scrapedAt := time.Date(2026, 8, 24, 8, 30, 0, 0, time.UTC)
	rec := sampleRecord("https://roaster.test/products/kayon-mountain", scrapedAt)

	path, err := dataset.WriteRecord(rec, "test-roaster-20260824-083000")
	if err != nil {
		t.Fatalf("WriteRecord() error = %v", err)
	}
	if !strings.HasSuffix(path, "kayon-mountain.json") {
		t.Errorf("path = %q, want product-slug file name", path)
	}

	got, err := ReadRecord(path)
	if err != nil {
		t.Fatalf("ReadRecord() error = %v", err)
	}
	// Records are written indented, which reflows the RawData bytes; compare
	// that field structurally, everything else exactly.
	rawJSON := cmp.Transformer("rawJSON", func(r json.RawMessage) any {
		if len(r) == 0 {
			return nil
		}
		var v any
		if err := json.Unmarshal(r, &v); err != nil {
			return string(r)
		}
		return v
	})
	if diff := cmp.Diff(rec, got, rawJSON); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestLatestRecordPicksNewestSession(t *testing.T) {
	dataset := NewDataset(t.TempDir())
	url := "https://roaster.test/products/kayon-mountain"

	older := sampleRecord(url, time.Date(2026, 8, 1, 8, 0, 0, 0, time.UTC))
	older.Price = ptr(13.00)
	if _, err := dataset.WriteRecord(older, "test-roaster-20260801-080000"); err != nil {
		t.Fatal(err)
	}

	newer := sampleRecord(url, time.Date(2026, 8, 24, 8, 0, 0, 0, time.UTC))
	newer.Price = ptr(14.50)
	if _, err := dataset.WriteRecord(newer, "test-roaster-20260824-080000"); err != nil {
		t.Fatal(err)
	}

	got, _, err := dataset.LatestRecord("Test Roaster", url)
	if err != nil {
		t.Fatalf("LatestRecord() error = %v", err)
	}
	if got.Price == nil || *got.Price != 14.50 {
		t.Errorf("Price = %v, want the newer session's 14.50", got.Price)
	}
}

func TestLatestRecordNotFound(t *testing.T) {
	dataset := NewDataset(t.TempDir())
	_, _, err := dataset.LatestRecord("Test Roaster", "https://roaster.test/products/none")
	if !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("error = %v, want ErrRecordNotFound", err)
	}
}

func TestWritePatchValidates(t *testing.T) {
	dataset := NewDataset(t.TempDir())
	if _, err := dataset.WritePatch(&models.DiffPatch{}, "s1"); err == nil {
		t.Error("patch without url must be rejected")
	}

	patch := models.OutOfStockPatch("https://roaster.test/products/gone", "Test Roaster", time.Now())
	path, err := dataset.WritePatch(patch, "s1")
	if err != nil {
		t.Fatalf("WritePatch() error = %v", err)
	}
	if !strings.HasSuffix(path, PatchExt) {
		t.Errorf("path = %q, want %s extension", path, PatchExt)
	}
}

func TestProductSlug(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{url: "https://roaster.test/products/kayon-mountain", want: "kayon-mountain"},
		{url: "https://roaster.test/shop/coffee/La%20Palma", want: "la-palma"},
		{url: "https://roaster.test/", want: "https-roaster-test"},
	}
	for _, tt := range tests {
		if got := productSlug(tt.url); got != tt.want {
			t.Errorf("productSlug(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestSessionWriterCountsAndValidate(t *testing.T) {
	dataset := NewDataset(t.TempDir())
	w := NewSessionWriter(context.Background(), dataset, nil, nil, "test-roaster-20260824-090000")

	if err := w.Validate(); err == nil {
		t.Error("empty session should fail validation")
	}

	rec := sampleRecord("https://roaster.test/products/kayon-mountain", time.Now().UTC())
	if err := w.WriteRecords([]*models.BeanRecord{rec}); err != nil {
		t.Fatalf("WriteRecords() error = %v", err)
	}
	patch := models.OutOfStockPatch("https://roaster.test/products/gone", "Test Roaster", time.Now())
	if err := w.WritePatches([]*models.DiffPatch{patch}); err != nil {
		t.Fatalf("WritePatches() error = %v", err)
	}

	records, patches := w.Counts()
	if records != 1 || patches != 1 {
		t.Errorf("Counts() = %d, %d, want 1, 1", records, patches)
	}
	if err := w.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestSessionWriterTouchesIndex(t *testing.T) {
	dir := t.TempDir()
	dataset := NewDataset(dir)
	index, err := OpenIndex(filepath.Join(dir, "catalog.db"))
	if err != nil {
		t.Fatalf("OpenIndex() error = %v", err)
	}
	defer index.Close()

	w := NewSessionWriter(context.Background(), dataset, index, nil, "test-roaster-20260824-090000")
	rec := sampleRecord("https://roaster.test/products/kayon-mountain", time.Now().UTC())
	if err := w.WriteRecords([]*models.BeanRecord{rec}); err != nil {
		t.Fatalf("WriteRecords() error = %v", err)
	}

	urls, err := index.URLs(context.Background(), "Test Roaster")
	if err != nil {
		t.Fatalf("URLs() error = %v", err)
	}
	if len(urls) != 1 || urls[0] != rec.URL {
		t.Errorf("URLs() = %v, want the written record's url", urls)
	}
}

func TestWriteJSONFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "out.json")
	if err := writeJSONFile(path, map[string]string{"k": "v"}); err != nil {
		t.Fatalf("writeJSONFile() error = %v", err)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".tmp-") {
			t.Errorf("temp file %s left behind", e.Name())
		}
	}
}
