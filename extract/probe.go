package extract

import (
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"beanscout/config"
	"beanscout/fetch"
	"beanscout/models"
	"beanscout/normalize"
)

// soldOutPhrases are the stock-status strings storefront platforms render
// when a product cannot be ordered.
var soldOutPhrases = []string{"sold out", "out of stock", "unavailable", "currently not available"}

// QuickProbe builds the cheap price/stock patch for a product the catalog
// already holds. It reads the roaster's selectors first and falls back to
// meta/itemprop markup and sold-out text heuristics, never calling a model.
func QuickProbe(page *fetch.Page, sel config.Selectors, roaster string, now time.Time) *models.DiffPatch {
	patch := &models.DiffPatch{
		URL:            page.URL,
		Roaster:        roaster,
		ScrapedAt:      now,
		ScraperVersion: models.ScraperVersion,
	}
	doc := page.Doc
	if doc == nil {
		return patch
	}

	priceText := selectText(doc, sel.Price)
	if priceText == "" {
		priceText = metaContent(doc, `meta[property="og:price:amount"]`, `meta[itemprop="price"]`, `[itemprop="price"]`)
	}
	price, currency := normalize.ParsePrice(priceText)
	if price != nil {
		patch.Price = price
	}
	if currency == "" {
		currency = strings.ToUpper(metaContent(doc, `meta[property="og:price:currency"]`, `meta[itemprop="priceCurrency"]`, `[itemprop="priceCurrency"]`))
	}
	if currency != "" {
		patch.Currency = &currency
	}

	inStock := probeStock(doc, sel)
	patch.InStock = &inStock

	return patch
}

func probeStock(doc *goquery.Document, sel config.Selectors) bool {
	if sel.SoldOut != "" {
		return doc.Find(sel.SoldOut).Length() == 0
	}

	if availability, ok := doc.Find(`link[itemprop="availability"], meta[itemprop="availability"]`).First().Attr("href"); ok {
		return !strings.Contains(strings.ToLower(availability), "outofstock")
	}

	body := strings.ToLower(doc.Find("form, button, .product, main").Text())
	if body == "" {
		body = strings.ToLower(doc.Text())
	}
	for _, phrase := range soldOutPhrases {
		if strings.Contains(body, phrase) {
			return false
		}
	}
	return true
}

func metaContent(doc *goquery.Document, selectors ...string) string {
	for _, selector := range selectors {
		node := doc.Find(selector).First()
		if content, ok := node.Attr("content"); ok && strings.TrimSpace(content) != "" {
			return strings.TrimSpace(content)
		}
		if text := strings.TrimSpace(node.Text()); text != "" {
			return text
		}
	}
	return ""
}
