// Package scraper runs complete scrape sessions: discovery, partitioning
// against persisted history, and concurrent per-URL extraction.
package scraper

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"beanscout/config"
	"beanscout/discover"
	"beanscout/extract"
	"beanscout/fetch"
	"beanscout/models"
	"beanscout/normalize"
)

// Discoverer finds the candidate product URLs for the session's roaster.
type Discoverer interface {
	Run(ctx context.Context) ([]string, *discover.Stats, error)
}

// Extractor turns one product URL into session output: a full record for new
// products, a cheap probe patch for known ones.
type Extractor interface {
	Extract(ctx context.Context, roaster string, rc config.RoasterConfig, url string) (*models.BeanRecord, error)
	Probe(ctx context.Context, roaster string, rc config.RoasterConfig, url string) (*models.DiffPatch, error)
}

// History is the persisted URL index the partition is computed against.
type History interface {
	URLs(ctx context.Context, roaster string) ([]string, error)
}

// Sink receives session outputs, usually a pipeline.
type Sink interface {
	Process(outputs ...models.Output) error
}

// Engine runs one scrape session for one roaster. Collaborators are plain
// fields so tests can substitute any of them.
type Engine struct {
	Key     string // roaster key, forms the session id
	Name    string // roaster display name, stamped into outputs
	Roaster config.RoasterConfig

	Discoverer Discoverer
	Extractor  Extractor
	History    History
	Sink       Sink
	Metrics    *Metrics

	ForceFullUpdate bool

	// StartTime pins the session identity when the caller needs the session
	// id ahead of Run, e.g. to set up the output writer. Zero means now.
	StartTime time.Time
}

// Run executes the session. Per-URL failures accumulate in the report; the
// returned error is non-nil only for session-fatal conditions.
func (e *Engine) Run(ctx context.Context) (*models.SessionReport, error) {
	if !locks.acquire(e.Key) {
		return nil, &SessionFatalError{Roaster: e.Key, Reason: "another session is already running"}
	}
	defer locks.release(e.Key)

	start := e.StartTime
	if start.IsZero() {
		start = time.Now().UTC()
	}
	session := models.NewScrapeSession(e.Key, start)
	session.ForceFullUpdate = e.ForceFullUpdate

	report := &models.SessionReport{
		SessionID:       session.ID,
		Roaster:         e.Name,
		StartTime:       session.StartTime,
		ForceFullUpdate: e.ForceFullUpdate,
	}

	slog.Info("session started",
		slog.String("session", session.ID),
		slog.String("roaster", e.Name),
		slog.Bool("force_full_update", e.ForceFullUpdate),
	)

	// The history snapshot is read once, before discovery, and never
	// refreshed: the partition for this session is computed against a
	// fixed set.
	history, err := e.History.URLs(ctx, e.Name)
	if err != nil {
		return report, e.fatal(report, "url history unavailable", err)
	}

	discovered, stats, err := e.Discoverer.Run(ctx)
	if stats != nil {
		report.RequestCount = stats.Requests
		report.RetryCount = stats.Retries
		e.Metrics.AddDiscoveryRetries(stats.Retries)
	}
	if err != nil {
		return report, e.fatal(report, "discovery failed", err)
	}
	if len(discovered) == 0 && stats != nil && stats.HostUnreachable {
		return report, e.fatal(report, "storefront unreachable", nil)
	}

	session.Discovered = discovered
	if e.ForceFullUpdate {
		// Every discovered URL gets a full extraction and no patches are
		// emitted, including for vanished products.
		session.Partition = models.PartitionURLs(discovered, nil)
	} else {
		session.Partition = models.PartitionURLs(discovered, history)
	}

	report.DiscoveredCount = len(discovered)
	report.NewCount = len(session.Partition.New)
	report.ExistingCount = len(session.Partition.Existing)
	report.VanishedCount = len(session.Partition.Vanished)

	e.Metrics.AddURLs("new", report.NewCount)
	e.Metrics.AddURLs("existing", report.ExistingCount)
	e.Metrics.AddURLs("vanished", report.VanishedCount)

	slog.Info("partition computed",
		slog.String("session", session.ID),
		slog.Int("discovered", report.DiscoveredCount),
		slog.Int("new", report.NewCount),
		slog.Int("existing", report.ExistingCount),
		slog.Int("vanished", report.VanishedCount),
	)

	e.runExtraction(ctx, session, report)
	e.emitVanished(session, report)

	report.EndTime = time.Now().UTC()
	e.Metrics.ObserveSession(e.Key, "completed", report.Duration())

	slog.Info("session finished",
		slog.String("session", session.ID),
		slog.Int("records", report.RecordsWritten),
		slog.Int("patches", report.PatchesWritten),
		slog.Int("failures", report.FailureCount()),
		slog.Duration("elapsed", report.Duration()),
	)
	return report, nil
}

// runExtraction walks the new and existing sets with bounded concurrency.
// Worker errors never propagate; each failed URL is recorded and the rest of
// the set continues.
func (e *Engine) runExtraction(ctx context.Context, session *models.ScrapeSession, report *models.SessionReport) {
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	limit := e.Roaster.MaxConcurrency
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)

	for _, url := range session.Partition.New {
		g.Go(func() error {
			rec, err := e.Extractor.Extract(gctx, e.Name, e.Roaster, url)
			if err != nil {
				e.recordFailure(report, &mu, url, err)
				return nil
			}
			rec.ScraperVersion = models.ScraperVersion
			if err := e.Sink.Process(rec); err != nil {
				e.recordFailure(report, &mu, url, err)
				return nil
			}
			e.Metrics.IncRecord()
			mu.Lock()
			report.RecordsWritten++
			mu.Unlock()
			return nil
		})
	}

	for _, url := range session.Partition.Existing {
		g.Go(func() error {
			patch, err := e.Extractor.Probe(gctx, e.Name, e.Roaster, url)
			if err != nil {
				e.recordFailure(report, &mu, url, err)
				return nil
			}
			if err := e.Sink.Process(patch); err != nil {
				e.recordFailure(report, &mu, url, err)
				return nil
			}
			e.Metrics.IncPatch()
			mu.Lock()
			report.PatchesWritten++
			mu.Unlock()
			return nil
		})
	}

	g.Wait()
}

// emitVanished writes an out-of-stock patch for every product that history
// knows but this session could not discover. No fetch is made for these.
func (e *Engine) emitVanished(session *models.ScrapeSession, report *models.SessionReport) {
	if len(session.Partition.Vanished) == 0 {
		return
	}
	stamp := session.StartTime
	for _, url := range session.Partition.Vanished {
		patch := models.OutOfStockPatch(url, e.Name, stamp)
		if err := e.Sink.Process(patch); err != nil {
			report.RecordFailure(url, "sink")
			continue
		}
		e.Metrics.IncPatch()
		report.PatchesWritten++
	}
}

// recordFailure categorizes a per-URL error into the session report.
func (e *Engine) recordFailure(report *models.SessionReport, mu *sync.Mutex, url string, err error) {
	category := categorize(err)

	mu.Lock()
	switch category {
	case "extraction":
		report.ExtractionFailures++
	case "validation":
		report.ValidationErrors++
	case "sink", "other":
		// counted in ErrorsByType only
	default:
		report.FetchErrors++
	}
	report.RecordFailure(url, category)
	mu.Unlock()

	e.Metrics.IncError(category)
	slog.Warn("url failed",
		slog.String("url", url),
		slog.String("category", category),
		slog.Any("error", err),
	)
}

func categorize(err error) string {
	var extraction *extract.ExtractionFailure
	if errors.As(err, &extraction) {
		return "extraction"
	}
	var validation *normalize.ValidationError
	if errors.As(err, &validation) {
		return "validation"
	}
	var fetchErr *fetch.FetchError
	if errors.As(err, &fetchErr) {
		return fetch.TypeLabel(fetchErr.Err)
	}
	return "other"
}

func (e *Engine) fatal(report *models.SessionReport, reason string, err error) error {
	report.EndTime = time.Now().UTC()
	e.Metrics.ObserveSession(e.Key, "fatal", report.Duration())
	slog.Error("session aborted",
		slog.String("session", report.SessionID),
		slog.String("reason", reason),
		slog.Any("error", err),
	)
	return &SessionFatalError{Roaster: e.Key, Reason: reason, Err: err}
}
