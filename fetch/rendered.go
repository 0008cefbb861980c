package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"
)

// BrowserOptions configures the headless browser behind the rendered
// fetcher.
type BrowserOptions struct {
	Windowed       bool
	NavTimeout     time.Duration
	StabilizeDelay time.Duration
	ViewportWidth  int
	ViewportHeight int
	// WaitSelector, when set, is the element the page must show before the
	// DOM snapshot is taken. Falls back to waiting for body readiness.
	WaitSelector string
}

// ChromeFetcher drives a headless browser to execute page scripts, needed
// for JavaScript-rendered storefronts and for full-page screenshots fed to
// model-assisted extraction.
type ChromeFetcher struct {
	opts     Options
	browser  BrowserOptions
	limiter  *HostLimiter
	counters *Counters

	mu          sync.Mutex
	allocCtx    context.Context
	allocCancel context.CancelFunc
	closed      bool
}

// NewChromeFetcher builds the rendered-mode fetcher. The browser process is
// not launched until the first Fetch.
func NewChromeFetcher(opts Options, browser BrowserOptions, limiter *HostLimiter, counters *Counters) *ChromeFetcher {
	return &ChromeFetcher{
		opts:     opts,
		browser:  browser,
		limiter:  limiter,
		counters: counters,
	}
}

// Mode reports the fetch mode.
func (f *ChromeFetcher) Mode() Mode {
	return ModeRendered
}

// Fetch renders the URL in a fresh tab and returns the executed DOM along
// with a full-page screenshot.
func (f *ChromeFetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Attempts: 0, Err: fmt.Errorf("parse url: %w", err)}
	}

	return runWithRetry(ctx, f.opts, f.counters, rawURL, func(ctx context.Context) (*Page, int, error) {
		if err := f.limiter.Wait(ctx, parsed.Host); err != nil {
			return nil, 0, err
		}
		return f.render(ctx, rawURL)
	})
}

func (f *ChromeFetcher) render(ctx context.Context, rawURL string) (*Page, int, error) {
	allocCtx, err := f.allocator()
	if err != nil {
		return nil, 0, err
	}

	tabCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	runCtx, timeoutCancel := context.WithTimeout(tabCtx, f.browser.NavTimeout)
	defer timeoutCancel()

	wait := chromedp.WaitReady("body", chromedp.ByQuery)
	if f.browser.WaitSelector != "" {
		wait = chromedp.WaitVisible(f.browser.WaitSelector, chromedp.ByQuery)
	}

	var html string
	var shot []byte
	actions := []chromedp.Action{
		chromedp.Navigate(rawURL),
		wait,
	}
	if f.browser.StabilizeDelay > 0 {
		actions = append(actions, chromedp.Sleep(f.browser.StabilizeDelay))
	}
	actions = append(actions,
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		chromedp.FullScreenshot(&shot, 85),
	)

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}
		return nil, 0, Classify(fmt.Errorf("render: %w", err), 0)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, 0, fmt.Errorf("parse rendered document: %w", err)
	}

	return &Page{
		URL:        rawURL,
		StatusCode: http.StatusOK,
		HTML:       html,
		Doc:        doc,
		Screenshot: shot,
		FetchedAt:  time.Now(),
		Rendered:   true,
	}, http.StatusOK, nil
}

func (f *ChromeFetcher) allocator() (context.Context, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, fmt.Errorf("browser fetcher is closed")
	}
	if f.allocCtx != nil {
		return f.allocCtx, nil
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", !f.browser.Windowed),
		chromedp.WindowSize(f.browser.ViewportWidth, f.browser.ViewportHeight),
		chromedp.UserAgent(f.opts.UserAgent),
	)
	f.allocCtx, f.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	return f.allocCtx, nil
}

// Close shuts the browser down. Safe to call more than once.
func (f *ChromeFetcher) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true
	if f.allocCancel != nil {
		f.allocCancel()
		f.allocCancel = nil
		f.allocCtx = nil
	}
}
