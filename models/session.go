package models

import (
	"fmt"
	"time"
)

// ScrapeSession is one execution of a roaster's scraper. Sessions are owned
// by exactly one run; two concurrent sessions for the same roaster are never
// allowed.
type ScrapeSession struct {
	ID              string
	Roaster         string
	StartTime       time.Time
	Discovered      []string
	Partition       Partition
	ForceFullUpdate bool
}

// NewScrapeSession derives the session identity from the roaster key and
// start time, so session IDs sort chronologically and read meaningfully on
// disk.
func NewScrapeSession(roaster string, start time.Time) *ScrapeSession {
	return &ScrapeSession{
		ID:        fmt.Sprintf("%s-%s", roaster, start.UTC().Format("20060102-150405")),
		Roaster:   roaster,
		StartTime: start,
	}
}

// SessionReport aggregates the outcome of one scrape session. Per-URL
// failures accumulate here instead of aborting the run.
type SessionReport struct {
	SessionID string
	Roaster   string
	StartTime time.Time
	EndTime   time.Time

	DiscoveredCount int
	NewCount        int
	ExistingCount   int
	VanishedCount   int

	RecordsWritten int
	PatchesWritten int

	FetchErrors        int
	ExtractionFailures int
	ValidationErrors   int
	FailedURLs         map[string]string
	ErrorsByType       map[string]int

	RequestCount int
	RetryCount   int

	ForceFullUpdate bool
}

// Duration reports the session wall time.
func (r *SessionReport) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// FailureCount is the number of URLs that produced no output this session.
func (r *SessionReport) FailureCount() int {
	return r.FetchErrors + r.ExtractionFailures + r.ValidationErrors
}

// RecordFailure notes a per-URL failure under the given reason label.
func (r *SessionReport) RecordFailure(url, reason string) {
	if r.FailedURLs == nil {
		r.FailedURLs = make(map[string]string)
	}
	r.FailedURLs[url] = reason
	if r.ErrorsByType == nil {
		r.ErrorsByType = make(map[string]int)
	}
	r.ErrorsByType[reason]++
}
