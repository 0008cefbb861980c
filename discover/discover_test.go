package discover

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/jarcoal/httpmock"

	"beanscout/config"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Fetch.MaxRetries = 0
	cfg.Fetch.RetryBackoff = time.Millisecond
	cfg.Fetch.RetryBackoffMax = 5 * time.Millisecond
	return cfg
}

func testRoaster(storeURLs ...string) config.RoasterConfig {
	rc := config.DefaultConfig().Defaults
	rc.StoreURLs = storeURLs
	rc.RateLimitDelay = 0
	rc.MaxConcurrency = 2
	return rc
}

func newTestDiscoverer(t *testing.T, cfg *config.Config, roaster config.RoasterConfig) (*Discoverer, *httpmock.MockTransport) {
	t.Helper()
	d, err := NewDiscoverer(cfg, roaster)
	if err != nil {
		t.Fatalf("new discoverer: %v", err)
	}
	transport := httpmock.NewMockTransport()
	d.collector.WithTransport(transport)
	// The collector honors robots.txt; a 404 means no restrictions. Tests
	// exercising disallow rules re-register this responder.
	transport.RegisterResponder("GET", "https://roaster.test/robots.txt",
		httpmock.NewStringResponder(404, ""))
	return d, transport
}

func htmlResponder(body string) httpmock.Responder {
	resp := httpmock.NewStringResponse(200, body)
	resp.Header.Set("Content-Type", "text/html")
	return httpmock.ResponderFromResponse(resp)
}

func buildStorefront(links map[string]string, next string) string {
	var b strings.Builder
	b.WriteString(`<html><body><div class="collection">`)
	for href, text := range links {
		fmt.Fprintf(&b, `<a href=%q>%s</a>`, href, text)
	}
	if next != "" {
		fmt.Fprintf(&b, `<a rel='next' href=%q>next</a>`, next)
	}
	b.WriteString("</div></body></html>")
	return b.String()
}

func TestDiscoverFiltersAndDeduplicates(t *testing.T) {
	page := buildStorefront(map[string]string{
		"/products/ethiopia-guji":      "Ethiopia Guji",
		"/products/ethiopia-guji?v=2":  "Ethiopia Guji 1kg",
		"/products/colombia-huila":     "Colombia Huila",
		"/products/hand-grinder":       "Hand Grinder",
		"/products/gift-card-50":       "Gift Card",
		"/collections/equipment/stand": "Brew Stand",
		"/pages/about":                 "About Us",
	}, "")

	d, transport := newTestDiscoverer(t, testConfig(), testRoaster("https://roaster.test/collections/all"))
	transport.RegisterResponder("GET", "https://roaster.test/collections/all", htmlResponder(page))

	urls, stats, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []string{
		"https://roaster.test/products/colombia-huila",
		"https://roaster.test/products/ethiopia-guji",
	}
	if len(urls) != len(want) {
		t.Fatalf("urls = %v, want %v", urls, want)
	}
	for i := range want {
		if urls[i] != want[i] {
			t.Errorf("urls[%d] = %q, want %q", i, urls[i], want[i])
		}
	}
	if stats.Excluded < 2 {
		t.Errorf("excluded = %d, want >= 2 (grinder and gift card)", stats.Excluded)
	}
}

func TestDiscoverFollowsPagination(t *testing.T) {
	page1 := buildStorefront(map[string]string{"/products/kenya-nyeri": "Kenya Nyeri"}, "/collections/all?page=2")
	page2 := buildStorefront(map[string]string{"/products/brazil-cerrado": "Brazil Cerrado"}, "")

	d, transport := newTestDiscoverer(t, testConfig(), testRoaster("https://roaster.test/collections/all"))
	transport.RegisterResponder("GET", "https://roaster.test/collections/all", htmlResponder(page1))
	transport.RegisterResponder("GET", "https://roaster.test/collections/all?page=2", htmlResponder(page2))

	urls, _, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(urls) != 2 {
		t.Fatalf("urls = %v, want both pages' products", urls)
	}
}

func TestDiscoverPartialStorefrontFailure(t *testing.T) {
	working := buildStorefront(map[string]string{"/products/peru-cajamarca": "Peru Cajamarca"}, "")

	d, transport := newTestDiscoverer(t, testConfig(), testRoaster(
		"https://roaster.test/collections/filter",
		"https://roaster.test/collections/espresso",
	))
	transport.RegisterResponder("GET", "https://roaster.test/collections/filter", htmlResponder(working))
	transport.RegisterResponder("GET", "https://roaster.test/collections/espresso",
		httpmock.NewStringResponder(500, ""))

	urls, stats, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(urls) != 1 || urls[0] != "https://roaster.test/products/peru-cajamarca" {
		t.Fatalf("urls = %v, want the working storefront's product", urls)
	}
	if len(stats.FailedURLs) != 1 {
		t.Errorf("failed urls = %v, want one entry for the broken storefront", stats.FailedURLs)
	}
	if stats.ErrorsByType["connection"] != 1 {
		t.Errorf("errors by type = %v, want the 500 counted as connection", stats.ErrorsByType)
	}
}

func TestDiscoverHonorsRobotsDisallow(t *testing.T) {
	page := buildStorefront(map[string]string{"/products/blocked-lot": "Blocked Lot"}, "")

	d, transport := newTestDiscoverer(t, testConfig(), testRoaster("https://roaster.test/collections/all"))
	transport.RegisterResponder("GET", "https://roaster.test/robots.txt",
		httpmock.NewStringResponder(200, "User-agent: *\nDisallow: /\n"))
	transport.RegisterResponder("GET", "https://roaster.test/collections/all", htmlResponder(page))

	urls, _, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(urls) != 0 {
		t.Fatalf("urls = %v, want none when robots disallows the storefront", urls)
	}
}

func TestDiscoverCustomProductPattern(t *testing.T) {
	page := buildStorefront(map[string]string{
		"/shop/coffee/la-palma":  "La Palma",
		"/products/not-matching": "Other",
	}, "")

	roaster := testRoaster("https://roaster.test/shop")
	roaster.ProductPatterns = []string{`/shop/coffee/`}

	d, transport := newTestDiscoverer(t, testConfig(), roaster)
	transport.RegisterResponder("GET", "https://roaster.test/shop", htmlResponder(page))

	urls, _, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(urls) != 1 || urls[0] != "https://roaster.test/shop/coffee/la-palma" {
		t.Fatalf("urls = %v, want only the /shop/coffee/ link", urls)
	}
}

func TestDiscovererRejectsBadInput(t *testing.T) {
	cfg := testConfig()
	if _, err := NewDiscoverer(cfg, testRoaster()); err == nil {
		t.Error("expected error for roaster without store urls")
	}

	roaster := testRoaster("https://roaster.test/collections/all")
	roaster.ProductPatterns = []string{`[`}
	if _, err := NewDiscoverer(cfg, roaster); err == nil {
		t.Error("expected error for invalid product pattern")
	}
}

func TestExcludedByKeyword(t *testing.T) {
	tests := []struct {
		name      string
		candidate string
		keywords  []string
		expected  bool
	}{
		{name: "url keyword", candidate: "/collections/equipment/v60", keywords: []string{"equipment"}, expected: true},
		{name: "case insensitive", candidate: "Ceramic MUG", keywords: []string{"mug"}, expected: true},
		{name: "no match", candidate: "/products/ethiopia", keywords: []string{"grinder", "mug"}, expected: false},
		{name: "empty keyword ignored", candidate: "/products/ethiopia", keywords: []string{""}, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := excludedByKeyword(tt.candidate, tt.keywords); got != tt.expected {
				t.Fatalf("excludedByKeyword(%q) = %v, want %v", tt.candidate, got, tt.expected)
			}
		})
	}
}

func TestRetryManagerScheduleRespectsLimit(t *testing.T) {
	rm := newRetryManager(colly.NewCollector(), 2, time.Hour, time.Hour)

	if !rm.Schedule("http://roaster.test/collections/all") {
		t.Fatalf("first retry should be scheduled")
	}
	if !rm.Schedule("http://roaster.test/collections/all") {
		t.Fatalf("second retry should be scheduled")
	}
	if rm.Schedule("http://roaster.test/collections/all") {
		t.Fatalf("third retry should not be scheduled")
	}

	rm.Stop()
	if got := rm.TotalRetries(); got != 2 {
		t.Fatalf("total retries = %d, want 2", got)
	}
}

func TestRetryManagerBackoffCapped(t *testing.T) {
	rm := newRetryManager(colly.NewCollector(), 5, 200*time.Millisecond, 500*time.Millisecond)

	if delay := rm.delay(4); delay > 500*time.Millisecond {
		t.Fatalf("delay %v exceeds cap", delay)
	}
}

func TestRetryManagerStoppedRejectsSchedule(t *testing.T) {
	rm := newRetryManager(colly.NewCollector(), 2, time.Millisecond, time.Millisecond)
	rm.Stop()
	if rm.Schedule("http://roaster.test/x") {
		t.Fatal("stopped manager should not schedule retries")
	}
}
