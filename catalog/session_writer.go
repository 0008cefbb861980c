package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"beanscout/models"
)

// Notifier receives catalog-update events after successful writes. The AMQP
// publisher implements it; a nil Notifier disables events.
type Notifier interface {
	PublishRecord(ctx context.Context, rec *models.BeanRecord) error
	PublishPatch(ctx context.Context, patch *models.DiffPatch) error
}

// SessionWriter persists one session's output into the dataset and keeps the
// URL index current. It satisfies the pipeline's OutputWriter contract.
type SessionWriter struct {
	ctx       context.Context
	dataset   *Dataset
	index     *Index
	notifier  Notifier
	sessionID string

	mu      sync.Mutex
	records int
	patches int
}

// NewSessionWriter binds a writer to one scrape session. index and notifier
// may be nil.
func NewSessionWriter(ctx context.Context, dataset *Dataset, index *Index, notifier Notifier, sessionID string) *SessionWriter {
	if ctx == nil {
		ctx = context.Background()
	}
	return &SessionWriter{
		ctx:       ctx,
		dataset:   dataset,
		index:     index,
		notifier:  notifier,
		sessionID: sessionID,
	}
}

// WriteRecords persists a batch of full records, indexing each URL sighting.
func (w *SessionWriter) WriteRecords(records []*models.BeanRecord) error {
	for _, rec := range records {
		if _, err := w.dataset.WriteRecord(rec, w.sessionID); err != nil {
			return err
		}
		if w.index != nil {
			if err := w.index.Touch(w.ctx, rec.Roaster, rec.URL, w.sessionID, rec.ScrapedAt); err != nil {
				return err
			}
		}
		w.notifyRecord(rec)
		w.mu.Lock()
		w.records++
		w.mu.Unlock()
	}
	return nil
}

// WritePatches persists a batch of diff patches. Patches never touch the
// index; only full records establish history.
func (w *SessionWriter) WritePatches(patches []*models.DiffPatch) error {
	for _, patch := range patches {
		if _, err := w.dataset.WritePatch(patch, w.sessionID); err != nil {
			return err
		}
		w.notifyPatch(patch)
		w.mu.Lock()
		w.patches++
		w.mu.Unlock()
	}
	return nil
}

// Counts reports how many records and patches were written.
func (w *SessionWriter) Counts() (records, patches int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.records, w.patches
}

// Validate checks the session produced at least one output file.
func (w *SessionWriter) Validate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.records == 0 && w.patches == 0 {
		return fmt.Errorf("session %s wrote no records or patches", w.sessionID)
	}
	return nil
}

// Close is part of the writer contract; dataset files are closed per write.
func (w *SessionWriter) Close() error {
	return nil
}

// Publish failures are logged and dropped: events are best-effort and never
// fail a session.
func (w *SessionWriter) notifyRecord(rec *models.BeanRecord) {
	if w.notifier == nil {
		return
	}
	if err := w.notifier.PublishRecord(w.ctx, rec); err != nil {
		slog.Warn("record event publish failed", slog.String("url", rec.URL), slog.Any("error", err))
	}
}

func (w *SessionWriter) notifyPatch(patch *models.DiffPatch) {
	if w.notifier == nil {
		return
	}
	if err := w.notifier.PublishPatch(w.ctx, patch); err != nil {
		slog.Warn("patch event publish failed", slog.String("url", patch.URL), slog.Any("error", err))
	}
}
