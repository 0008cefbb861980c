package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"beanscout/config"
	"beanscout/fetch"
	"beanscout/normalize"
)

// StructuredParser extracts fields deterministically from configured CSS
// selectors. Fast and free, brittle to markup changes.
type StructuredParser struct {
	sel config.Selectors
}

// NewStructuredParser builds a parser over the roaster's selector set.
func NewStructuredParser(sel config.Selectors) *StructuredParser {
	return &StructuredParser{sel: sel}
}

// Parse reads every configured selector off the page. It returns whatever it
// found; the caller decides whether the result clears the required-field bar
// or needs the AI fallback.
func (p *StructuredParser) Parse(page *fetch.Page) *normalize.RawRecord {
	if page == nil || page.Doc == nil {
		return nil
	}
	doc := page.Doc

	raw := &normalize.RawRecord{
		Name:         selectText(doc, p.sel.Name),
		Price:        normalize.FlexString(selectText(doc, p.sel.Price)),
		Description:  selectText(doc, p.sel.Description),
		Weight:       normalize.FlexString(selectText(doc, p.sel.Weight)),
		RoastLevel:   selectText(doc, p.sel.RoastLevel),
		RoastProfile: selectText(doc, p.sel.RoastProfile),
	}

	if notes := selectText(doc, p.sel.TastingNotes); notes != "" {
		raw.TastingNotes = normalize.StringList(normalize.SplitNotes(notes))
	}

	if p.sel.Image != "" {
		if src, ok := doc.Find(p.sel.Image).First().Attr("src"); ok {
			raw.ImageURL = strings.TrimSpace(src)
		}
	}

	if p.sel.SoldOut != "" {
		inStock := doc.Find(p.sel.SoldOut).Length() == 0
		raw.InStock = &inStock
	}

	if p.sel.Origins != "" {
		doc.Find(p.sel.Origins).Each(func(_ int, s *goquery.Selection) {
			origin := normalize.RawOrigin{
				Country:   itemText(s, "country"),
				Region:    itemText(s, "region"),
				Farm:      itemText(s, "farm"),
				Producer:  itemText(s, "producer"),
				Elevation: itemText(s, "elevation"),
				Variety:   itemText(s, "variety"),
				Process:   itemText(s, "process"),
			}
			if origin == (normalize.RawOrigin{}) {
				origin.Country = strings.TrimSpace(s.Text())
			}
			if origin != (normalize.RawOrigin{}) {
				raw.Origins = append(raw.Origins, origin)
			}
		})
	}

	return raw
}

// HasRequiredFields reports whether a structured parse produced enough to
// skip the AI fallback.
func HasRequiredFields(raw *normalize.RawRecord) bool {
	return raw != nil && strings.TrimSpace(raw.Name) != ""
}

func selectText(doc *goquery.Document, selector string) string {
	if selector == "" {
		return ""
	}
	return strings.TrimSpace(doc.Find(selector).First().Text())
}

// itemText reads a data-field child or class-named child inside one origin
// block.
func itemText(s *goquery.Selection, field string) string {
	if v := strings.TrimSpace(s.Find(`[data-field="` + field + `"]`).First().Text()); v != "" {
		return v
	}
	return strings.TrimSpace(s.Find("." + field).First().Text())
}
