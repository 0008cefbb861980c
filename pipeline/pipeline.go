// Package pipeline moves session outputs from extraction workers to the
// catalog writer: validation, in-session de-duplication, and batched writes.
package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"beanscout/models"
)

var (
	// ErrPipelineClosed is returned when Process is called after shutdown.
	ErrPipelineClosed = errors.New("pipeline: closed")
	// ErrPipelineCloseTimeout is returned when workers fail to drain the
	// queue within drainTimeout.
	ErrPipelineCloseTimeout = errors.New("pipeline: close timed out")
)

// drainTimeout bounds how long Close waits for in-flight batches. A var so
// tests can shrink it.
var drainTimeout = 30 * time.Second

const (
	bufferSize = 512
	batchSize  = 64
	dedupeSize = 4096
)

// OutputWriter is the sink for a session's outputs. Full records and diff
// patches take separate paths because only records establish URL history.
type OutputWriter interface {
	WriteRecords(records []*models.BeanRecord) error
	WritePatches(patches []*models.DiffPatch) error
	Close() error
	Validate() error
}

// Pipeline coordinates validation, de-duplication, and batched output
// writing for one scrape session.
type Pipeline struct {
	writer OutputWriter
	outCh  chan models.Output

	wg sync.WaitGroup

	seen *lru.Cache[string, struct{}]

	metrics metrics

	mu     sync.Mutex // guards closed/err
	closed bool
	err    error

	closeOnce    sync.Once
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// NewPipeline builds a pipeline with a modest in-memory buffer.
func NewPipeline(writer OutputWriter) *Pipeline {
	seen, _ := lru.New[string, struct{}](dedupeSize)
	return &Pipeline{
		writer:   writer,
		outCh:    make(chan models.Output, bufferSize),
		seen:     seen,
		metrics:  newMetrics(),
		shutdown: make(chan struct{}),
	}
}

// Start launches worker goroutines.
func (p *Pipeline) Start(workers int) {
	if workers <= 0 {
		workers = 1
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Process enqueues outputs for downstream writing. Nil elements are ignored.
func (p *Pipeline) Process(outputs ...models.Output) error {
	if len(outputs) == 0 {
		return nil
	}

	closed, err := p.state()
	if err != nil {
		return err
	}
	if closed {
		return ErrPipelineClosed
	}

	for _, out := range outputs {
		if out == nil {
			continue
		}
		if err := p.enqueue(out); err != nil {
			return err
		}
	}
	return nil
}

// Close stops intake, waits for workers to drain the queue, and returns the
// first processing error, or ErrPipelineCloseTimeout if draining stalls.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
	}
	p.mu.Unlock()

	p.signalShutdown()
	p.closeOnce.Do(func() {
		close(p.outCh)
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(drainTimeout):
		return ErrPipelineCloseTimeout
	}
	return p.Err()
}

// Err returns the first error encountered during processing.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Metrics returns a snapshot of the internal counters.
func (p *Pipeline) Metrics() map[string]any {
	return p.metrics.snapshot()
}

// StartMetricsReporting emits periodic progress logs until shutdown.
func (p *Pipeline) StartMetricsReporting(interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				snapshot := p.Metrics()
				slog.Info("pipeline progress",
					slog.Int64("records", snapshot["records"].(int64)),
					slog.Int64("patches", snapshot["patches"].(int64)),
					slog.Any("dropped", snapshot["dropped"]),
				)
			case <-p.shutdown:
				return
			}
		}
	}()
}

func (p *Pipeline) worker() {
	defer p.wg.Done()

	records := make([]*models.BeanRecord, 0, batchSize)
	patches := make([]*models.DiffPatch, 0, batchSize)

	flushRecords := func() error {
		if len(records) == 0 {
			return nil
		}
		if err := p.writer.WriteRecords(records); err != nil {
			return err
		}
		records = records[:0]
		return nil
	}
	flushPatches := func() error {
		if len(patches) == 0 {
			return nil
		}
		if err := p.writer.WritePatches(patches); err != nil {
			return err
		}
		patches = patches[:0]
		return nil
	}

	for out := range p.outCh {
		switch v := out.(type) {
		case *models.BeanRecord:
			if !p.admitRecord(v) {
				continue
			}
			records = append(records, v)
			if len(records) >= batchSize {
				if err := flushRecords(); err != nil {
					p.setErr(fmt.Errorf("write records: %w", err))
					return
				}
			}
		case *models.DiffPatch:
			if !p.admitPatch(v) {
				continue
			}
			patches = append(patches, v)
			if len(patches) >= batchSize {
				if err := flushPatches(); err != nil {
					p.setErr(fmt.Errorf("write patches: %w", err))
					return
				}
			}
		}
	}

	if err := flushRecords(); err != nil {
		p.setErr(fmt.Errorf("write records: %w", err))
		return
	}
	if err := flushPatches(); err != nil {
		p.setErr(fmt.Errorf("write patches: %w", err))
	}
}

func (p *Pipeline) admitRecord(rec *models.BeanRecord) bool {
	if rec.URL == "" || rec.Name == "" {
		p.metrics.addDropped("invalid_record")
		return false
	}
	if !p.admit("record\x00" + rec.URL) {
		p.metrics.addDropped("duplicate_url")
		return false
	}
	p.metrics.incrementRecords()
	return true
}

func (p *Pipeline) admitPatch(patch *models.DiffPatch) bool {
	if err := patch.Validate(); err != nil {
		p.metrics.addDropped("invalid_patch")
		return false
	}
	if !p.admit("patch\x00" + patch.URL) {
		p.metrics.addDropped("duplicate_url")
		return false
	}
	p.metrics.incrementPatches()
	return true
}

// admit reports whether key is new to this session. The LRU bounds memory on
// very large storefronts; eviction can only re-admit a long-ago URL, which
// the catalog writer tolerates.
func (p *Pipeline) admit(key string) bool {
	found, _ := p.seen.ContainsOrAdd(key, struct{}{})
	return !found
}

func (p *Pipeline) enqueue(out models.Output) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ErrPipelineClosed
		}
	}()

	select {
	case <-p.shutdown:
		return ErrPipelineClosed
	case p.outCh <- out:
		return nil
	}
}

func (p *Pipeline) setErr(err error) {
	if err == nil {
		return
	}

	p.mu.Lock()
	if p.err != nil {
		p.mu.Unlock()
		return
	}
	p.err = err
	p.closed = true
	p.mu.Unlock()

	p.signalShutdown()
	p.closeOnce.Do(func() {
		close(p.outCh)
	})
}

func (p *Pipeline) state() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed, p.err
}

func (p *Pipeline) signalShutdown() {
	p.shutdownOnce.Do(func() {
		close(p.shutdown)
	})
}

type metrics struct {
	mu      sync.Mutex
	records int64
	patches int64
	dropped map[string]int
}

func newMetrics() metrics {
	return metrics{
		dropped: make(map[string]int),
	}
}

func (m *metrics) incrementRecords() {
	m.mu.Lock()
	m.records++
	m.mu.Unlock()
}

func (m *metrics) incrementPatches() {
	m.mu.Lock()
	m.patches++
	m.mu.Unlock()
}

func (m *metrics) addDropped(kind string) {
	m.mu.Lock()
	m.dropped[kind]++
	m.mu.Unlock()
}

func (m *metrics) snapshot() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()

	dropped := make(map[string]int, len(m.dropped))
	for k, v := range m.dropped {
		dropped[k] = v
	}

	return map[string]any{
		"records": m.records,
		"patches": m.patches,
		"dropped": dropped,
	}
}
