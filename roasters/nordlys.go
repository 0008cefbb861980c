package roasters

import (
	"time"

	"beanscout/config"
)

// Nordlys renders its catalog entirely client-side and the cheap model
// reliably fails on it, so pages go through the headless browser and the
// optimized plan sends a screenshot from the first attempt.
func init() {
	Register(Roaster{
		Key:  "nordlys",
		Name: "Nordlys Kaffe",
		Base: config.RoasterConfig{
			StoreURLs: []string{
				"https://nordlyskaffe.example/butikk",
			},
			ProductPatterns: []string{`/butikk/kaffe/`},
			Extraction:      config.ExtractionAI,
			AIMode:          config.AIModeOptimized,
			RenderJS:        true,
			WaitSelector:    "div.product-view",
			RateLimitDelay:  4 * time.Second,
			MaxConcurrency:  1,
		},
	})
}
