package normalize

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"beanscout/models"
)

func TestNormalizeRequiresName(t *testing.T) {
	_, err := Normalize(&RawRecord{Price: "12.50"}, "https://roaster.test/products/x", "Roaster", time.Now(), nil)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("error = %v, want *ValidationError", err)
	}
	if ve.Field != "name" {
		t.Errorf("Field = %q, want name", ve.Field)
	}
	if ve.URL != "https://roaster.test/products/x" {
		t.Errorf("URL = %q, want the product url", ve.URL)
	}
}

func TestNormalizeFullRecord(t *testing.T) {
	scrapedAt := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	raw := &RawRecord{
		Name:         " Gesha Village Lot 24 ",
		Price:        "£18.50",
		Weight:       "250g",
		RoastLevel:   "Medium Light",
		RoastProfile: "Pour over",
		Description:  "Washed gesha from the Bench Maji zone.",
		TastingNotes: StringList{"jasmine", "bergamot", "peach"},
		CuppingScore: "91.5",
		Origins: []RawOrigin{{
			Country:   "Ethiopia",
			Region:    "Bench Maji",
			Elevation: "1900-2100 masl",
			Variety:   "Gesha 1931",
			Process:   "Washed",
		}},
	}

	rec, err := Normalize(raw, "https://roaster.test/products/gesha", "Roaster", scrapedAt, json.RawMessage(`{"src":"test"}`))
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}

	if rec.Name != "Gesha Village Lot 24" {
		t.Errorf("Name = %q", rec.Name)
	}
	if rec.Price == nil || *rec.Price != 18.50 {
		t.Errorf("Price = %v, want 18.50", rec.Price)
	}
	if rec.Currency != "GBP" {
		t.Errorf("Currency = %q, want GBP", rec.Currency)
	}
	if rec.Weight == nil || *rec.Weight != 250 {
		t.Errorf("Weight = %v, want 250", rec.Weight)
	}
	if rec.RoastLevel != models.RoastMediumLight {
		t.Errorf("RoastLevel = %q", rec.RoastLevel)
	}
	if rec.RoastProfile != models.ProfileFilter {
		t.Errorf("RoastProfile = %q", rec.RoastProfile)
	}
	if rec.CuppingScore == nil || *rec.CuppingScore != 91.5 {
		t.Errorf("CuppingScore = %v", rec.CuppingScore)
	}
	if len(rec.Origins) != 1 {
		t.Fatalf("Origins = %v", rec.Origins)
	}
	if rec.Origins[0].ElevationLow != 1900 || rec.Origins[0].ElevationHigh != 2100 {
		t.Errorf("Elevation = %d-%d, want 1900-2100", rec.Origins[0].ElevationLow, rec.Origins[0].ElevationHigh)
	}
	if !rec.IsSingleOrigin {
		t.Error("one origin should infer single origin")
	}
	if rec.IsDecaf {
		t.Error("IsDecaf should be false")
	}
	if !rec.InStock {
		t.Error("InStock should default to true")
	}
	if rec.ScraperVersion != models.ScraperVersion {
		t.Errorf("ScraperVersion = %q", rec.ScraperVersion)
	}
}

func TestNormalizeRejectsOutOfRange(t *testing.T) {
	tests := []struct {
		name  string
		raw   *RawRecord
		field string
	}{
		{name: "cupping too low", raw: &RawRecord{Name: "X", CuppingScore: "65"}, field: "cupping_score"},
		{name: "cupping too high", raw: &RawRecord{Name: "X", CuppingScore: "101"}, field: "cupping_score"},
		{name: "negative price", raw: &RawRecord{Name: "X", Price: "-4"}, field: "price"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize(tt.raw, "https://roaster.test/p", "Roaster", time.Now(), nil)
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("error = %v, want *ValidationError", err)
			}
			if ve.Field != tt.field {
				t.Errorf("Field = %q, want %q", ve.Field, tt.field)
			}
		})
	}
}

func TestNormalizeInference(t *testing.T) {
	rec, err := Normalize(&RawRecord{Name: "Midnight Decaf Blend"}, "https://roaster.test/p", "Roaster", time.Now(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if !rec.IsDecaf {
		t.Error("decaf should be inferred from the name")
	}
	if rec.IsSingleOrigin {
		t.Error("blend should not be single origin")
	}

	explicit := false
	rec, err = Normalize(&RawRecord{Name: "House Espresso", IsDecaf: &explicit}, "https://roaster.test/p2", "Roaster", time.Now(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if rec.IsDecaf {
		t.Error("explicit is_decaf=false must win over inference")
	}
}

func TestParsePrice(t *testing.T) {
	tests := []struct {
		in       string
		price    float64
		currency string
	}{
		{in: "£12.50", price: 12.50, currency: "GBP"},
		{in: "$18", price: 18, currency: "USD"},
		{in: "18,50 €", price: 18.50, currency: "EUR"},
		{in: "NOK 145", price: 145, currency: "NOK"},
		{in: "1,250.00", price: 1250, currency: ""},
		{in: "1.250,00", price: 1250, currency: ""},
		{in: "From £9.00", price: 9, currency: "GBP"},
		{in: "-4", price: -4, currency: ""},
		{in: "£-4.00", price: -4, currency: "GBP"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			price, currency := ParsePrice(tt.in)
			if price == nil || *price != tt.price {
				t.Errorf("price = %v, want %g", price, tt.price)
			}
			if currency != tt.currency {
				t.Errorf("currency = %q, want %q", currency, tt.currency)
			}
		})
	}

	if price, _ := ParsePrice("sold out"); price != nil {
		t.Errorf("price for non-numeric text = %v, want nil", price)
	}
	if price, _ := ParsePrice(""); price != nil {
		t.Errorf("price for empty text = %v, want nil", price)
	}
}

func TestParseWeight(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{in: "250g", want: 250},
		{in: "1kg", want: 1000},
		{in: "0.5 kg", want: 500},
		{in: "12 oz", want: 340},
		{in: "1 lb", want: 454},
		{in: "340", want: 340},
		{in: "250 grams", want: 250},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := ParseWeight(tt.in)
			if got == nil || *got != tt.want {
				t.Errorf("ParseWeight(%q) = %v, want %d", tt.in, got, tt.want)
			}
		})
	}

	if got := ParseWeight("whole bean"); got != nil {
		t.Errorf("ParseWeight(non-numeric) = %v, want nil", got)
	}
}

func TestSplitNotes(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{name: "commas", in: "jasmine, bergamot, peach", want: []string{"jasmine", "bergamot", "peach"}},
		{name: "slashes", in: "cocoa / hazelnut / brown sugar", want: []string{"cocoa", "hazelnut", "brown sugar"}},
		{name: "newlines", in: "plum\ncola\nraisin", want: []string{"plum", "cola", "raisin"}},
		{name: "mixed with empties", in: "cherry,, lime /", want: []string{"cherry", "lime"}},
		{name: "empty", in: "  ", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SplitNotes(tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("SplitNotes(%q) = %v, want %v", tt.in, got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("note[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestCanonicalRoastLevel(t *testing.T) {
	tests := []struct {
		in   string
		want models.RoastLevel
	}{
		{in: "Light", want: models.RoastLight},
		{in: "medium-light", want: models.RoastMediumLight},
		{in: "Medium Light", want: models.RoastMediumLight},
		{in: "MEDIUM", want: models.RoastMedium},
		{in: "medium dark", want: models.RoastMediumDark},
		{in: "dark", want: models.RoastDark},
		{in: "city+", want: ""},
		{in: "", want: ""},
	}

	for _, tt := range tests {
		if got := CanonicalRoastLevel(tt.in); got != tt.want {
			t.Errorf("CanonicalRoastLevel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFlexStringAndStringList(t *testing.T) {
	var raw RawRecord
	payload := `{"name":"Taste of Spring","price":14.9,"cupping_score":"88","tasting_notes":"rhubarb / honey"}`
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if raw.Price != "14.9" {
		t.Errorf("Price = %q, want 14.9", raw.Price)
	}
	if raw.CuppingScore != "88" {
		t.Errorf("CuppingScore = %q, want 88", raw.CuppingScore)
	}
	if len(raw.TastingNotes) != 2 || raw.TastingNotes[0] != "rhubarb" {
		t.Errorf("TastingNotes = %v", raw.TastingNotes)
	}
}
