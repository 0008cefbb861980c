package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"beanscout/catalog"
	"beanscout/config"
	"beanscout/discover"
	"beanscout/events"
	"beanscout/extract"
	"beanscout/fetch"
	"beanscout/models"
	"beanscout/pipeline"
	"beanscout/roasters"
	"beanscout/scraper"
)

var forceFullUpdate bool

var scrapeCmd = &cobra.Command{
	Use:   "scrape <roaster>",
	Short: "Run one scrape session for a roaster",
	Long: "Run one scrape session: discover product URLs, extract new products in " +
		"full, probe known ones for price and stock changes, and mark vanished " +
		"ones out of stock. Per-URL failures are reported but never fail the " +
		"process; only a session-fatal condition exits non-zero.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runScrape(cmd, args[0])
	},
}

func init() {
	scrapeCmd.Flags().BoolVar(&forceFullUpdate, "force-full-update", false,
		"Re-extract every discovered product in full and emit no diff patches")
	rootCmd.AddCommand(scrapeCmd)
}

func runScrape(cmd *cobra.Command, key string) error {
	ctx := cmd.Context()

	roaster, ok := roasters.Get(key)
	if !ok {
		return fmt.Errorf("unknown roaster %q (see list-scrapers)", key)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	rc, err := cfg.EffectiveRoaster(key, roaster.Base)
	if err != nil {
		return err
	}

	counters := &fetch.Counters{}
	limiter := fetch.NewHostLimiter(rc.RateLimitDelay)
	opts := fetch.Options{
		UserAgent:       cfg.UserAgent,
		Timeout:         cfg.Fetch.Timeout,
		MaxRetries:      cfg.Fetch.MaxRetries,
		RetryBackoff:    cfg.Fetch.RetryBackoff,
		RetryBackoffMax: cfg.Fetch.RetryBackoffMax,
	}

	static, err := fetch.NewStaticFetcher(opts, limiter, counters)
	if err != nil {
		return fmt.Errorf("build fetcher: %w", err)
	}

	var rendered fetch.Fetcher
	if rc.RenderJS {
		chrome := fetch.NewChromeFetcher(opts, fetch.BrowserOptions{
			Windowed:       cfg.Browser.Windowed,
			NavTimeout:     cfg.Browser.NavTimeout,
			StabilizeDelay: cfg.Browser.StabilizeDelay,
			ViewportWidth:  cfg.Browser.ViewportWidth,
			ViewportHeight: cfg.Browser.ViewportHeight,
			WaitSelector:   rc.WaitSelector,
		}, limiter, counters)
		defer chrome.Close()
		rendered = chrome
	}

	var ai *extract.AIExtractor
	if cfg.AI.APIKey != "" {
		ai = extract.NewAIExtractor(extract.NewOpenAIClient(cfg.AI), cfg.AI)
	}
	if rc.Extraction == config.ExtractionAI && ai == nil {
		return &scraper.SessionFatalError{Roaster: key, Reason: "model extraction configured but no api key is set"}
	}

	disc, err := discover.NewDiscoverer(cfg, rc)
	if err != nil {
		return fmt.Errorf("build discoverer: %w", err)
	}

	dataset := catalog.NewDataset(cfg.DataDir)
	index, err := catalog.OpenIndex(cfg.IndexPath)
	if err != nil {
		return fmt.Errorf("open url index: %w", err)
	}
	defer index.Close()

	var notifier catalog.Notifier
	if cfg.Events.Enabled {
		publisher, err := events.Dial(cfg.Events)
		if err != nil {
			// Events are best-effort; a dead broker never blocks a scrape.
			slog.Warn("event publisher unavailable", slog.Any("error", err))
		} else {
			defer publisher.Close()
			notifier = publisher
		}
	}

	metrics := scraper.NewMetrics()
	stopMetrics := serveMetrics(cfg.MetricsAddr, metrics)
	defer stopMetrics()

	start := time.Now().UTC()
	session := models.NewScrapeSession(key, start)

	writer := catalog.NewSessionWriter(ctx, dataset, index, notifier, session.ID)
	p := pipeline.NewPipeline(writer)
	p.Start(max(rc.MaxConcurrency, 1))
	if verbose {
		p.StartMetricsReporting(10 * time.Second)
	}

	engine := &scraper.Engine{
		Key:             key,
		Name:            roaster.Name,
		Roaster:         rc,
		Discoverer:      disc,
		Extractor:       extract.NewStrategy(static, rendered, ai),
		History:         index,
		Sink:            p,
		Metrics:         metrics,
		ForceFullUpdate: forceFullUpdate,
		StartTime:       start,
	}

	report, err := engine.Run(ctx)
	if closeErr := p.Close(); closeErr != nil {
		slog.Error("pipeline shutdown failed", slog.Any("error", closeErr))
		if err == nil {
			err = closeErr
		}
	}
	if err != nil {
		return err
	}

	if report.DiscoveredCount > 0 {
		if err := writer.Validate(); err != nil {
			slog.Warn("session produced no output", slog.Any("error", err))
		}
	}

	printReport(report)
	return nil
}

// serveMetrics exposes the session registry over HTTP when an address is
// configured. The returned func shuts the server down.
func serveMetrics(addr string, metrics *scraper.Metrics) func() {
	if addr == "" {
		return func() {}
	}

	server := &http.Server{
		Addr:    addr,
		Handler: promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	slog.Info("metrics server enabled", slog.String("addr", addr))

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
	}
}

func printReport(report *models.SessionReport) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Printf("Session %s complete\n", report.SessionID)
	fmt.Printf("  Discovered:    %d\n", report.DiscoveredCount)
	fmt.Printf("  New:           %d\n", report.NewCount)
	fmt.Printf("  Existing:      %d\n", report.ExistingCount)
	fmt.Printf("  Vanished:      %d\n", report.VanishedCount)
	fmt.Printf("  Records:       %d\n", report.RecordsWritten)
	fmt.Printf("  Patches:       %d\n", report.PatchesWritten)
	fmt.Printf("  Failures:      %d\n", report.FailureCount())
	if len(report.ErrorsByType) > 0 {
		fmt.Printf("  Error types:   %v\n", report.ErrorsByType)
	}
	fmt.Printf("  Requests:      %d\n", report.RequestCount)
	fmt.Printf("  Retries:       %d\n", report.RetryCount)
	fmt.Printf("  Duration:      %v\n", report.Duration().Round(time.Millisecond))
	if report.ForceFullUpdate {
		fmt.Println("  Mode:          force-full-update")
	}
	fmt.Println(separator)
}
