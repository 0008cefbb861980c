package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"beanscout/config"
	"beanscout/fetch"
	"beanscout/models"
	"beanscout/normalize"
)

// maxRawSnapshot bounds the audit copy of page HTML stored on each record.
const maxRawSnapshot = 64 * 1024

// Strategy selects and runs the extraction path for one product URL:
// structured parsing whenever the roaster configures selectors, the
// model-assisted fallback plan otherwise.
type Strategy struct {
	static   fetch.Fetcher
	rendered fetch.Fetcher
	ai       *AIExtractor
}

// NewStrategy wires the selector. rendered and ai may be nil when a
// deployment runs without a browser or a model endpoint; roasters configured
// to need them then fail per-URL, not at startup.
func NewStrategy(static, rendered fetch.Fetcher, ai *AIExtractor) *Strategy {
	return &Strategy{static: static, rendered: rendered, ai: ai}
}

// Extract fetches the product page and produces a full, normalized
// BeanRecord. Failures come back as *fetch.FetchError,
// *ExtractionFailure, or *normalize.ValidationError so the session engine
// can count them by category.
func (s *Strategy) Extract(ctx context.Context, roaster string, rc config.RoasterConfig, url string) (*models.BeanRecord, error) {
	page, err := s.fetchPage(ctx, rc, url)
	if err != nil {
		return nil, err
	}

	raw, err := s.rawFields(ctx, rc, page)
	if err != nil {
		return nil, err
	}

	return normalize.Normalize(raw, url, roaster, time.Now().UTC(), rawSnapshot(page))
}

// Probe re-fetches an already-known product statically and returns the cheap
// price/stock patch. No extraction model is ever involved.
func (s *Strategy) Probe(ctx context.Context, roaster string, rc config.RoasterConfig, url string) (*models.DiffPatch, error) {
	page, err := s.static.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	return QuickProbe(page, rc.Selectors, roaster, time.Now().UTC()), nil
}

func (s *Strategy) fetchPage(ctx context.Context, rc config.RoasterConfig, url string) (*fetch.Page, error) {
	fetcher := s.static
	if rc.RenderJS && s.rendered != nil {
		fetcher = s.rendered
	}
	return fetcher.Fetch(ctx, url)
}

func (s *Strategy) rawFields(ctx context.Context, rc config.RoasterConfig, page *fetch.Page) (*normalize.RawRecord, error) {
	if rc.Extraction != config.ExtractionAI {
		if !rc.Selectors.Empty() {
			raw := NewStructuredParser(rc.Selectors).Parse(page)
			if HasRequiredFields(raw) {
				return raw, nil
			}
		}
		// No selectors, or they matched none of the required fields;
		// escalate to the model fallback when one is configured.
		slog.DebugContext(ctx, "structured parse empty, falling back to model extraction",
			slog.String("url", page.URL),
		)
	}

	if s.ai == nil {
		return nil, &ExtractionFailure{URL: page.URL}
	}

	// Screenshot-bearing attempts degrade to text-only when the page was
	// fetched statically and carries no screenshot.
	raw, _, err := s.ai.Extract(ctx, page, PlanFor(rc.AIMode))
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// rawSnapshot wraps the fetched HTML as the record's opaque audit payload.
func rawSnapshot(page *fetch.Page) json.RawMessage {
	html := page.HTML
	if len(html) > maxRawSnapshot {
		html = html[:maxRawSnapshot]
	}
	payload, err := json.Marshal(struct {
		HTML      string    `json:"html"`
		Rendered  bool      `json:"rendered"`
		Status    int       `json:"status"`
		FetchedAt time.Time `json:"fetched_at"`
	}{
		HTML:      html,
		Rendered:  page.Rendered,
		Status:    page.StatusCode,
		FetchedAt: page.FetchedAt,
	})
	if err != nil {
		return json.RawMessage(fmt.Sprintf("{\"status\":%d}", page.StatusCode))
	}
	return payload
}
