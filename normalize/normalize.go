// Package normalize coerces raw extracted fields into canonical bean records
// and rejects records that fail required-field validation.
package normalize

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"beanscout/models"
)

// ValidationError reports a record the normalizer refused. It is recorded
// per URL by the session engine, never silently dropped.
type ValidationError struct {
	URL    string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validate %s: field %q %s", e.URL, e.Field, e.Reason)
}

// FlexString unmarshals from either a JSON string or a JSON number, since
// model-extracted payloads are inconsistent about quoting prices and scores.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*f = ""
		return nil
	}
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	*f = FlexString(trimmed)
	return nil
}

// StringList unmarshals from either a JSON array of strings or one delimited
// string.
type StringList []string

func (l *StringList) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*l = nil
		return nil
	}
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var items []string
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		*l = StringList(items)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*l = StringList(SplitNotes(s))
	return nil
}

// RawOrigin is one origin block before coercion. Elevation arrives as free
// text ("1 800 - 2 000 masl") and is parsed into a low/high range.
type RawOrigin struct {
	Country   string `json:"country,omitempty"`
	Region    string `json:"region,omitempty"`
	Farm      string `json:"farm,omitempty"`
	Producer  string `json:"producer,omitempty"`
	Elevation string `json:"elevation,omitempty"`
	Variety   string `json:"variety,omitempty"`
	Process   string `json:"process,omitempty"`
}

// RawRecord is the field bag both extraction families produce: the
// structured parser fills it from selectors, the model client unmarshals its
// JSON reply straight into it.
type RawRecord struct {
	Name           string      `json:"name"`
	Price          FlexString  `json:"price,omitempty"`
	Currency       string      `json:"currency,omitempty"`
	Weight         FlexString  `json:"weight,omitempty"`
	RoastLevel     string      `json:"roast_level,omitempty"`
	RoastProfile   string      `json:"roast_profile,omitempty"`
	Description    string      `json:"description,omitempty"`
	ImageURL       string      `json:"image_url,omitempty"`
	TastingNotes   StringList  `json:"tasting_notes,omitempty"`
	CuppingScore   FlexString  `json:"cupping_score,omitempty"`
	InStock        *bool       `json:"in_stock,omitempty"`
	IsDecaf        *bool       `json:"is_decaf,omitempty"`
	IsSingleOrigin *bool       `json:"is_single_origin,omitempty"`
	Origins        []RawOrigin `json:"origins,omitempty"`
}

// Normalize validates and coerces raw into a canonical BeanRecord. It
// returns a *ValidationError when a required field is missing or a present
// field is out of range.
func Normalize(raw *RawRecord, url, roaster string, scrapedAt time.Time, rawData json.RawMessage) (*models.BeanRecord, error) {
	if raw == nil {
		return nil, &ValidationError{URL: url, Field: "name", Reason: "is empty"}
	}

	name := strings.TrimSpace(raw.Name)
	if name == "" {
		return nil, &ValidationError{URL: url, Field: "name", Reason: "is empty"}
	}

	rec := &models.BeanRecord{
		URL:            url,
		Roaster:        roaster,
		ScrapedAt:      scrapedAt,
		Name:           name,
		Description:    strings.TrimSpace(raw.Description),
		ImageURL:       strings.TrimSpace(raw.ImageURL),
		InStock:        true,
		RawData:        rawData,
		ScraperVersion: models.ScraperVersion,
	}

	price, currency := ParsePrice(string(raw.Price))
	if price != nil && *price < 0 {
		return nil, &ValidationError{URL: url, Field: "price", Reason: "is negative"}
	}
	rec.Price = price
	if raw.Currency != "" {
		rec.Currency = strings.ToUpper(strings.TrimSpace(raw.Currency))
	} else {
		rec.Currency = currency
	}

	rec.Weight = ParseWeight(string(raw.Weight))
	rec.RoastLevel = CanonicalRoastLevel(raw.RoastLevel)
	rec.RoastProfile = CanonicalRoastProfile(raw.RoastProfile)

	if len(raw.TastingNotes) > 0 {
		notes := make([]string, 0, len(raw.TastingNotes))
		for _, n := range raw.TastingNotes {
			n = strings.TrimSpace(n)
			if n != "" {
				notes = append(notes, n)
			}
		}
		rec.TastingNotes = notes
	}

	if s := strings.TrimSpace(string(raw.CuppingScore)); s != "" {
		if score, err := strconv.ParseFloat(s, 64); err == nil {
			if score < 70 || score > 100 {
				return nil, &ValidationError{URL: url, Field: "cupping_score", Reason: fmt.Sprintf("%g out of range [70,100]", score)}
			}
			rec.CuppingScore = &score
		}
	}

	if raw.InStock != nil {
		rec.InStock = *raw.InStock
	}

	haystack := strings.ToLower(name + " " + rec.Description)
	if raw.IsDecaf != nil {
		rec.IsDecaf = *raw.IsDecaf
	} else {
		rec.IsDecaf = strings.Contains(haystack, "decaf")
	}

	for _, ro := range raw.Origins {
		origin := models.Origin{
			Country:  strings.TrimSpace(ro.Country),
			Region:   strings.TrimSpace(ro.Region),
			Farm:     strings.TrimSpace(ro.Farm),
			Producer: strings.TrimSpace(ro.Producer),
			Variety:  strings.TrimSpace(ro.Variety),
			Process:  strings.TrimSpace(ro.Process),
		}
		origin.ElevationLow, origin.ElevationHigh = ParseElevation(ro.Elevation)
		if origin != (models.Origin{}) {
			rec.Origins = append(rec.Origins, origin)
		}
	}

	switch {
	case raw.IsSingleOrigin != nil:
		rec.IsSingleOrigin = *raw.IsSingleOrigin
	case strings.Contains(haystack, "blend"):
		rec.IsSingleOrigin = false
	case len(rec.Origins) == 1:
		rec.IsSingleOrigin = true
	case strings.Contains(haystack, "single origin"):
		rec.IsSingleOrigin = true
	}

	return rec, nil
}

// currencySymbols maps price-prefix symbols to ISO codes. Ambiguous "$" maps
// to USD; roasters needing another dollar currency set it via config or the
// model reply.
var currencySymbols = map[string]string{
	"£": "GBP",
	"€": "EUR",
	"$": "USD",
	"¥": "JPY",
	"₩": "KRW",
	"฿": "THB",
	"kr": "SEK",
}

var currencyCodeRe = regexp.MustCompile(`(?i)\b(USD|GBP|EUR|CAD|AUD|NZD|SEK|NOK|DKK|CHF|JPY|KRW)\b`)

// The optional minus keeps bogus negative amounts visible so validation can
// reject them instead of silently flipping the sign.
var priceNumberRe = regexp.MustCompile(`-?[0-9][0-9.,\s]*`)

// ParsePrice extracts a decimal amount and, when recognizable, an ISO
// currency code from free-form price text such as "£12.50", "18,50 €", or
// "NOK 145". It returns (nil, "") when no amount is present.
func ParsePrice(text string) (*float64, string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ""
	}

	currency := ""
	if m := currencyCodeRe.FindString(text); m != "" {
		currency = strings.ToUpper(m)
	} else {
		for sym, code := range currencySymbols {
			if strings.Contains(text, sym) {
				currency = code
				break
			}
		}
	}

	numText := priceNumberRe.FindString(text)
	if numText == "" {
		return nil, currency
	}
	numText = strings.ReplaceAll(strings.TrimSpace(numText), " ", "")

	lastComma := strings.LastIndex(numText, ",")
	lastDot := strings.LastIndex(numText, ".")
	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			// 1.250,00 -> comma is the decimal separator
			numText = strings.ReplaceAll(numText, ".", "")
			numText = strings.Replace(numText, ",", ".", 1)
		} else {
			numText = strings.ReplaceAll(numText, ",", "")
		}
	case lastComma >= 0:
		decimals := len(numText) - lastComma - 1
		if decimals == 3 && strings.Count(numText, ",") == 1 {
			// 1,250 -> thousands separator
			numText = strings.ReplaceAll(numText, ",", "")
		} else {
			numText = strings.ReplaceAll(numText, ",", ".")
		}
	}

	value, err := strconv.ParseFloat(strings.Trim(numText, "."), 64)
	if err != nil {
		return nil, currency
	}
	return &value, currency
}

var weightRe = regexp.MustCompile(`(?i)([0-9]+(?:[.,][0-9]+)?)\s*(kg|kilo|g|gr|grams?|oz|ounces?|lbs?|pounds?)\b`)

// ParseWeight converts free-form weight text to grams. Bare numbers are
// assumed to already be grams.
func ParseWeight(text string) *int {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	if m := weightRe.FindStringSubmatch(text); m != nil {
		value, err := strconv.ParseFloat(strings.Replace(m[1], ",", ".", 1), 64)
		if err != nil {
			return nil
		}
		var grams float64
		switch strings.ToLower(m[2])[0] {
		case 'k':
			grams = value * 1000
		case 'o':
			grams = value * 28.3495
		case 'l', 'p':
			grams = value * 453.592
		default:
			grams = value
		}
		rounded := int(math.Round(grams))
		return &rounded
	}

	if value, err := strconv.ParseFloat(text, 64); err == nil && value > 0 {
		rounded := int(math.Round(value))
		return &rounded
	}
	return nil
}

var noteSeparators = regexp.MustCompile(`[,/|\n]`)

// SplitNotes splits free-text tasting notes on the separators roasters
// actually use, preserving order.
func SplitNotes(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	parts := noteSeparators.Split(text, -1)
	notes := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			notes = append(notes, p)
		}
	}
	return notes
}

// CanonicalRoastLevel maps free-text roast descriptions onto the canonical
// scale. Unrecognized text yields the empty value.
func CanonicalRoastLevel(text string) models.RoastLevel {
	key := strings.ReplaceAll(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(text)), "-", ""), " ", "")
	switch key {
	case "light":
		return models.RoastLight
	case "mediumlight", "lightmedium":
		return models.RoastMediumLight
	case "medium":
		return models.RoastMedium
	case "mediumdark", "darkmedium":
		return models.RoastMediumDark
	case "dark":
		return models.RoastDark
	}
	return ""
}

// CanonicalRoastProfile maps free-text brew-target descriptions onto the
// canonical profiles.
func CanonicalRoastProfile(text string) models.RoastProfile {
	key := strings.ToLower(strings.TrimSpace(text))
	switch {
	case key == "":
		return ""
	case strings.Contains(key, "espresso"):
		return models.ProfileEspresso
	case strings.Contains(key, "filter"), strings.Contains(key, "pour"), strings.Contains(key, "drip"):
		return models.ProfileFilter
	case strings.Contains(key, "omni"), strings.Contains(key, "both"), strings.Contains(key, "all"):
		return models.ProfileOmni
	}
	return ""
}

var elevationRe = regexp.MustCompile(`([0-9][0-9\s,.]{2,})`)

// ParseElevation pulls a meters-above-sea-level range out of free text. A
// single value fills both bounds.
func ParseElevation(text string) (low, high int) {
	matches := elevationRe.FindAllString(text, -1)
	values := make([]int, 0, len(matches))
	for _, m := range matches {
		cleaned := strings.Map(func(r rune) rune {
			if r >= '0' && r <= '9' {
				return r
			}
			return -1
		}, m)
		if v, err := strconv.Atoi(cleaned); err == nil && v >= 100 && v <= 5000 {
			values = append(values, v)
		}
	}
	switch len(values) {
	case 0:
		return 0, 0
	case 1:
		return values[0], values[0]
	default:
		low, high = values[0], values[len(values)-1]
		if low > high {
			low, high = high, low
		}
		return low, high
	}
}
