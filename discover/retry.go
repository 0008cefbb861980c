package discover

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
)

// retryManager re-schedules failed storefront visits with capped exponential
// backoff. Retries are per URL; a URL that keeps failing past maxRetries is
// handed back to the caller as a permanent failure.
type retryManager struct {
	collector  *colly.Collector
	maxRetries int
	backoff    time.Duration
	backoffMax time.Duration
	ctx        context.Context

	mu           sync.Mutex
	attempts     map[string]int
	timers       map[string]*time.Timer
	totalRetries int
	stopped      bool
}

func newRetryManager(collector *colly.Collector, maxRetries int, backoff, backoffMax time.Duration) *retryManager {
	return &retryManager{
		collector:  collector,
		maxRetries: maxRetries,
		backoff:    backoff,
		backoffMax: backoffMax,
		attempts:   make(map[string]int),
		timers:     make(map[string]*time.Timer),
		ctx:        context.Background(),
	}
}

// Schedule queues another visit for url after a backoff delay. It reports
// false when the retry budget is spent, the manager is stopped, or the
// context is done.
func (rm *retryManager) Schedule(url string) bool {
	if rm.maxRetries == 0 || url == "" {
		return false
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.stopped {
		return false
	}
	if rm.ctx != nil && rm.ctx.Err() != nil {
		return false
	}

	attempt := rm.attempts[url]
	if attempt >= rm.maxRetries {
		return false
	}

	attempt++
	rm.attempts[url] = attempt
	rm.totalRetries++

	delay := rm.delay(attempt)
	rm.resetTimerLocked(url)
	rm.timers[url] = time.AfterFunc(delay, func() {
		rm.fireRetry(url)
	})
	return true
}

func (rm *retryManager) delay(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}

	base := rm.backoff
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	delay := base * time.Duration(1<<(attempt-1))
	if rm.backoffMax > 0 && delay > rm.backoffMax {
		delay = rm.backoffMax
	}
	return delay
}

func (rm *retryManager) resetTimerLocked(url string) {
	if timer, ok := rm.timers[url]; ok {
		timer.Stop()
		delete(rm.timers, url)
	}
}

func (rm *retryManager) fireRetry(url string) {
	rm.mu.Lock()
	if rm.stopped {
		rm.mu.Unlock()
		return
	}
	ctx := rm.ctx
	rm.mu.Unlock()

	if ctx != nil && ctx.Err() != nil {
		return
	}
	if err := rm.collector.Visit(url); err != nil {
		slog.Debug("retry visit failed", slog.String("url", url), slog.Any("error", err))
	}

	rm.mu.Lock()
	delete(rm.timers, url)
	rm.mu.Unlock()
}

// Stop cancels all pending retry timers.
func (rm *retryManager) Stop() {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.stopped {
		return
	}

	rm.stopped = true
	for url, timer := range rm.timers {
		timer.Stop()
		delete(rm.timers, url)
	}
}

func (rm *retryManager) TotalRetries() int {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.totalRetries
}

func (rm *retryManager) SetContext(ctx context.Context) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if ctx == nil {
		rm.ctx = context.Background()
		return
	}
	rm.ctx = ctx
}
