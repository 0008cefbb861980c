package roasters

import "beanscout/config"

// Skylark runs a plain Shopify-style storefront with stable markup, so
// structured selectors cover it without any model calls.
func init() {
	Register(Roaster{
		Key:  "skylark",
		Name: "Skylark Coffee Roasters",
		Base: config.RoasterConfig{
			StoreURLs: []string{
				"https://skylarkcoffee.example/collections/coffee",
				"https://skylarkcoffee.example/collections/espresso",
			},
			ProductPatterns: []string{`/products/`},
			Extraction:      config.ExtractionStructured,
			Selectors: config.Selectors{
				Name:         "h1.product-title",
				Price:        "span.price-item--regular",
				Description:  "div.product-description",
				TastingNotes: "div.tasting-notes",
				SoldOut:      "button[disabled].sold-out",
				Image:        "img.product-featured-image",
				Weight:       "span.product-weight",
				RoastLevel:   "span.roast-level",
				RoastProfile: "span.roast-profile",
				Origins:      "div.origin-details",
			},
		},
	})
}
