package roasters

import "beanscout/config"

// Harbour Lane rewrites its product pages per season and has no stable
// selectors worth maintaining; extraction goes straight to the model with
// the standard escalating plan.
func init() {
	Register(Roaster{
		Key:  "harbour-lane",
		Name: "Harbour Lane Roastery",
		Base: config.RoasterConfig{
			StoreURLs: []string{
				"https://harbourlane.example/shop",
			},
			ProductPatterns: []string{`/shop/coffee/`},
			Extraction:      config.ExtractionAI,
			AIMode:          config.AIModeStandard,
		},
	})
}
