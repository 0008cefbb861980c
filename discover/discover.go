// Package discover crawls roaster storefront pages and produces the
// deduplicated set of candidate product URLs, filtered by exclusion
// heuristics for non-coffee items.
package discover

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gocolly/colly/v2"

	"beanscout/config"
	"beanscout/fetch"
)

// defaultProductPattern matches the product paths most storefront platforms
// generate.
const defaultProductPattern = `/products?/`

// maxPaginationDepth bounds how many rel=next pages one storefront URL may
// chain through.
const maxPaginationDepth = 25

// Stats summarizes one discovery run.
type Stats struct {
	Requests        int
	Pages           int
	Retries         int
	FailedURLs      []string
	ErrorsByType    map[string]int
	Excluded        int
	HostUnreachable bool
}

// Discoverer finds candidate product URLs for one roaster.
type Discoverer struct {
	cfg       *config.Config
	roaster   config.RoasterConfig
	collector *colly.Collector
	retry     *retryManager
	patterns  []*regexp.Regexp

	requestCount int64
	pageCount    int64
	excluded     int64
	dnsFailure   atomic.Bool

	mu           sync.Mutex
	found        map[string]bool
	failedURLs   []string
	errorsByType map[string]int

	handlersOnce sync.Once
}

// NewDiscoverer builds a discoverer for the given roaster policy. The
// collector is restricted to the storefront hosts and honors the roaster's
// rate-limit delay.
func NewDiscoverer(cfg *config.Config, roaster config.RoasterConfig) (*Discoverer, error) {
	if len(roaster.StoreURLs) == 0 {
		return nil, fmt.Errorf("roaster has no store urls")
	}

	hosts := make([]string, 0, len(roaster.StoreURLs))
	seenHosts := make(map[string]bool)
	for _, raw := range roaster.StoreURLs {
		parsed, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse store url %q: %w", raw, err)
		}
		if parsed.Host == "" {
			return nil, fmt.Errorf("store url %q must include a host", raw)
		}
		if !seenHosts[parsed.Host] {
			seenHosts[parsed.Host] = true
			hosts = append(hosts, parsed.Host)
		}
	}

	patterns := roaster.ProductPatterns
	if len(patterns) == 0 {
		patterns = []string{defaultProductPattern}
	}
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile product pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}

	collector := colly.NewCollector(
		colly.Async(true),
		colly.AllowedDomains(hosts...),
		colly.UserAgent(cfg.UserAgent),
	)
	collector.SetRequestTimeout(cfg.Fetch.Timeout)
	collector.IgnoreRobotsTxt = false
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Fetch.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	parallelism := roaster.MaxConcurrency
	if parallelism <= 0 {
		parallelism = 1
	}
	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: parallelism,
		Delay:       roaster.RateLimitDelay,
		RandomDelay: roaster.RandomDelay,
	}); err != nil {
		return nil, fmt.Errorf("configure rate limits: %w", err)
	}

	d := &Discoverer{
		cfg:          cfg,
		roaster:      roaster,
		collector:    collector,
		patterns:     compiled,
		found:        make(map[string]bool),
		errorsByType: make(map[string]int),
	}
	d.retry = newRetryManager(collector, cfg.Fetch.MaxRetries, cfg.Fetch.RetryBackoff, cfg.Fetch.RetryBackoffMax)
	return d, nil
}

// Run visits every storefront URL and returns the discovered product URLs,
// sorted. A storefront page that fails contributes zero URLs without
// aborting the others.
func (d *Discoverer) Run(ctx context.Context) ([]string, *Stats, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	d.retry.SetContext(ctx)
	d.configureHandlers(ctx)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			d.collector.Wait()
			d.retry.Stop()
		case <-done:
		}
	}()

	for _, storeURL := range d.roaster.StoreURLs {
		if err := d.collector.Visit(storeURL); err != nil {
			slog.Warn("storefront visit rejected",
				slog.String("url", storeURL),
				slog.Any("error", err),
			)
			d.recordFailure(storeURL, "visit")
		}
	}

	d.collector.Wait()
	d.retry.Stop()

	if err := ctx.Err(); err != nil {
		return nil, d.stats(), err
	}

	urls := d.snapshotFound()
	if len(urls) == 0 {
		slog.Warn("discovery yielded 0 product urls. Check if selectors or patterns have changed.",
			slog.Int("storefronts", len(d.roaster.StoreURLs)),
		)
	}
	return urls, d.stats(), nil
}

func (d *Discoverer) configureHandlers(ctx context.Context) {
	d.handlersOnce.Do(func() {
		d.collector.OnRequest(func(r *colly.Request) {
			current := atomic.AddInt64(&d.requestCount, 1)
			if current%25 == 0 {
				slog.Debug("discovery progress",
					slog.Int64("requests", current),
					slog.String("url", r.URL.String()),
				)
			}
		})

		d.collector.OnResponse(func(r *colly.Response) {
			atomic.AddInt64(&d.pageCount, 1)
			if r.StatusCode >= http.StatusBadRequest {
				slog.Error("non-200 storefront response",
					slog.Int("status", r.StatusCode),
					slog.String("url", r.Request.URL.String()),
				)
			}
		})

		d.collector.OnError(func(r *colly.Response, err error) {
			statusCode := 0
			pageURL := ""
			if r != nil {
				statusCode = r.StatusCode
				if r.Request != nil && r.Request.URL != nil {
					pageURL = r.Request.URL.String()
				}
			}
			classified := fetch.Classify(err, statusCode)
			category := fetch.TypeLabel(classified)
			if fetch.IsHostUnreachable(classified) {
				d.dnsFailure.Store(true)
			}

			slog.Error("storefront request error",
				slog.String("url", pageURL),
				slog.String("category", category),
				slog.Any("error", err),
			)

			if !d.retry.Schedule(pageURL) {
				d.recordFailure(pageURL, category)
			}
		})

		linkSelector := d.roaster.Selectors.ProductLinks
		if linkSelector == "" {
			linkSelector = "a[href]"
		}
		d.collector.OnHTML(linkSelector, func(e *colly.HTMLElement) {
			href := e.Attr("href")
			if href == "" {
				return
			}
			abs := e.Request.AbsoluteURL(href)
			if abs == "" {
				return
			}
			d.consider(abs, strings.TrimSpace(e.Text))
		})

		d.collector.OnHTML("a[rel='next']", func(e *colly.HTMLElement) {
			if ctx.Err() != nil {
				return
			}
			if atomic.LoadInt64(&d.pageCount) >= maxPaginationDepth {
				return
			}
			abs := e.Request.AbsoluteURL(e.Attr("href"))
			if abs != "" {
				d.collector.Visit(abs)
			}
		})
	})
}

// consider applies the product-path patterns and both exclusion heuristics
// before admitting a URL into the discovery set.
func (d *Discoverer) consider(rawURL, linkText string) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return
	}
	parsed.Fragment = ""
	parsed.RawQuery = ""
	normalized := parsed.String()

	if !d.matchesProductPattern(parsed.Path) {
		return
	}
	if excludedByKeyword(parsed.Path, d.roaster.ExcludeURLKeywords) {
		atomic.AddInt64(&d.excluded, 1)
		return
	}
	if linkText != "" && excludedByKeyword(linkText, d.roaster.ExcludeNameKeywords) {
		atomic.AddInt64(&d.excluded, 1)
		return
	}

	d.mu.Lock()
	d.found[normalized] = true
	d.mu.Unlock()
}

func (d *Discoverer) matchesProductPattern(path string) bool {
	for _, re := range d.patterns {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}

// excludedByKeyword reports whether the candidate contains any of the
// keywords, case-insensitively.
func excludedByKeyword(candidate string, keywords []string) bool {
	lowered := strings.ToLower(candidate)
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(lowered, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// recordFailure notes a URL whose retries are exhausted. ErrorsByType counts
// final failures only; errors recovered by a retry are not tallied.
func (d *Discoverer) recordFailure(url, category string) {
	if url == "" {
		return
	}
	d.mu.Lock()
	d.failedURLs = append(d.failedURLs, url)
	d.errorsByType[category]++
	d.mu.Unlock()
}

func (d *Discoverer) snapshotFound() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	urls := make([]string, 0, len(d.found))
	for u := range d.found {
		urls = append(urls, u)
	}
	sort.Strings(urls)
	return urls
}

func (d *Discoverer) stats() *Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	errs := make(map[string]int, len(d.errorsByType))
	for k, v := range d.errorsByType {
		errs[k] = v
	}
	failed := make([]string, len(d.failedURLs))
	copy(failed, d.failedURLs)

	return &Stats{
		Requests:        int(atomic.LoadInt64(&d.requestCount)),
		Pages:           int(atomic.LoadInt64(&d.pageCount)),
		Retries:         d.retry.TotalRetries(),
		FailedURLs:      failed,
		ErrorsByType:    errs,
		Excluded:        int(atomic.LoadInt64(&d.excluded)),
		HostUnreachable: d.dnsFailure.Load(),
	}
}
