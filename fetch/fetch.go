// Package fetch retrieves roaster pages over plain HTTP or a headless
// browser, applying per-host rate limits, timeouts, and retry with
// exponential backoff.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http/cookiejar"
	"net/url"
	"sync/atomic"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
)

// Mode selects how a page is retrieved.
type Mode string

const (
	ModeStatic   Mode = "static"
	ModeRendered Mode = "rendered"
)

// Page is the result of one successful fetch.
type Page struct {
	URL        string
	StatusCode int
	HTML       string
	Doc        *goquery.Document
	Screenshot []byte
	FetchedAt  time.Time
	Rendered   bool
}

// Fetcher retrieves one URL. Implementations never retry past their
// configured budget and always respect the shared host limiter.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Page, error)
	Mode() Mode
}

// Options carries the fetch policy shared by all fetchers.
type Options struct {
	UserAgent       string
	Timeout         time.Duration
	MaxRetries      int
	RetryBackoff    time.Duration
	RetryBackoffMax time.Duration
}

// Counters accumulates request and retry totals across fetchers for the
// session report.
type Counters struct {
	Requests atomic.Int64
	Retries  atomic.Int64
}

func (c *Counters) addRequest() {
	if c != nil {
		c.Requests.Add(1)
	}
}

func (c *Counters) addRetry() {
	if c != nil {
		c.Retries.Add(1)
	}
}

// StaticFetcher issues plain HTTP GETs and parses the response body.
type StaticFetcher struct {
	client   *resty.Client
	limiter  *HostLimiter
	counters *Counters
	opts     Options
}

// NewStaticFetcher builds the plain-HTTP fetcher. The client carries a
// cookie jar and the Cloudflare bypass transport since several roaster
// storefronts sit behind it.
func NewStaticFetcher(opts Options, limiter *HostLimiter, counters *Counters) (*StaticFetcher, error) {
	client := resty.New()
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client.SetCookieJar(jar)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	client.SetHeader("user-agent", opts.UserAgent)
	client.SetTimeout(opts.Timeout)

	return &StaticFetcher{
		client:   client,
		limiter:  limiter,
		counters: counters,
		opts:     opts,
	}, nil
}

// Mode reports the fetch mode.
func (f *StaticFetcher) Mode() Mode {
	return ModeStatic
}

// Fetch GETs the URL, retrying transient failures, and returns the parsed
// page. After retries are exhausted it fails with a *FetchError.
func (f *StaticFetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Attempts: 0, Err: fmt.Errorf("parse url: %w", err)}
	}

	return runWithRetry(ctx, f.opts, f.counters, rawURL, func(ctx context.Context) (*Page, int, error) {
		if err := f.limiter.Wait(ctx, parsed.Host); err != nil {
			return nil, 0, err
		}

		res, err := f.client.R().SetContext(ctx).Get(rawURL)
		if err != nil {
			return nil, 0, Classify(err, 0)
		}

		status := res.StatusCode()
		if status >= 400 {
			return nil, status, Classify(nil, status)
		}

		body := res.Body()
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
		if err != nil {
			return nil, status, fmt.Errorf("parse document: %w", err)
		}

		return &Page{
			URL:        rawURL,
			StatusCode: status,
			HTML:       string(body),
			Doc:        doc,
			FetchedAt:  time.Now(),
		}, status, nil
	})
}

// runWithRetry drives the attempt loop shared by the static and rendered
// fetchers: classify, decide retryability, back off, repeat.
func runWithRetry(ctx context.Context, opts Options, counters *Counters, rawURL string, do func(context.Context) (*Page, int, error)) (*Page, error) {
	var lastErr error
	var lastStatus int
	attempts := 0

	for attempt := 1; attempt <= opts.MaxRetries+1; attempt++ {
		attempts = attempt
		counters.addRequest()

		page, status, err := do(ctx)
		if err == nil {
			return page, nil
		}
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		lastErr = err
		lastStatus = status

		if !retryable(status, err) || attempt > opts.MaxRetries {
			break
		}

		counters.addRetry()
		delay := backoffDelay(opts.RetryBackoff, opts.RetryBackoffMax, attempt)
		slog.Debug("retrying fetch",
			slog.String("url", rawURL),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.Any("error", err),
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, &FetchError{URL: rawURL, StatusCode: lastStatus, Attempts: attempts, Err: lastErr}
}

// retryable reports whether another attempt could plausibly succeed.
// Transport-level failures and 429/5xx responses qualify; DNS failures and
// definitive 4xx responses do not.
func retryable(status int, err error) bool {
	var dns ErrDNS
	if errors.As(err, &dns) {
		return false
	}
	if status == 0 {
		return true
	}
	return status == 429 || status >= 500
}

func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	delay := base * time.Duration(1<<(attempt-1))
	if max > 0 && delay > max {
		delay = max
	}
	return delay
}
