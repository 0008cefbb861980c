package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"beanscout/config"
	"beanscout/discover"
	"beanscout/extract"
	"beanscout/fetch"
	"beanscout/roasters"
	"beanscout/scraper"
)

var sampleSize int

var testScraperCmd = &cobra.Command{
	Use:   "test-scraper <roaster>",
	Short: "Dry-run a roaster scraper without persisting anything",
	Long: "Discover product URLs for a roaster and run full extraction on a small " +
		"sample, printing the results. Nothing is written to the dataset or the " +
		"url index; useful for checking selectors and storefront changes.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTestScraper(cmd, args[0])
	},
}

func init() {
	testScraperCmd.Flags().IntVar(&sampleSize, "sample", 3, "How many discovered products to extract")
	rootCmd.AddCommand(testScraperCmd)
}

func runTestScraper(cmd *cobra.Command, key string) error {
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

	ctx := cmd.Context()
	urls, stats, err := disc.Run(ctx)
	if err != nil {
		return fmt.Errorf("discovery: %w", err)
	}
	fmt.Printf("Discovered %d product urls (%d requests, %d excluded)\n",
		len(urls), stats.Requests, stats.Excluded)

	if sampleSize < len(urls) {
		urls = urls[:sampleSize]
	}

	strategy := extract.NewStrategy(static, rendered, ai)
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"URL", "Name", "Price", "In Stock", "Roast", "Notes", "Error"})

	for _, url := range urls {
		rec, err := strategy.Extract(ctx, roaster.Name, rc, url)
		if err != nil {
			t.AppendRow(table.Row{url, "", "", "", "", "", err.Error()})
			continue
		}
		price := ""
		if rec.Price != nil {
			price = fmt.Sprintf("%.2f %s", *rec.Price, rec.Currency)
		}
		t.AppendRow(table.Row{
			url,
			rec.Name,
			price,
			rec.InStock,
			string(rec.RoastLevel),
			strings.Join(rec.TastingNotes, ", "),
			"",
		})
	}

	t.SetStyle(table.StyleRounded)
	t.Render()
	return nil
}
