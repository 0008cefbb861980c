package main

import "testing"

func TestSubcommandsRegistered(t *testing.T) {
	want := map[string]bool{
		"scrape":        false,
		"list-scrapers": false,
		"test-scraper":  false,
		"apply-diffs":   false,
	}
	for _, c := range rootCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("command %q not registered", name)
		}
	}
}

func TestScrapeCommandFlags(t *testing.T) {
	if scrapeCmd.Flags().Lookup("force-full-update") == nil {
		t.Error("scrape is missing --force-full-update")
	}
	if rootCmd.PersistentFlags().Lookup("config") == nil {
		t.Error("root is missing --config")
	}
}
