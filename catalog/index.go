package catalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"beanscout/models"
)

// indexSchema holds every URL ever persisted per roaster. The index only
// grows: a scrape never deletes history, so a product that disappears and
// later reappears still classifies as existing.
const indexSchema = `
CREATE TABLE IF NOT EXISTS seen_urls (
	roaster      TEXT NOT NULL,
	url          TEXT NOT NULL,
	first_seen   TIMESTAMP NOT NULL,
	last_seen    TIMESTAMP NOT NULL,
	last_session TEXT NOT NULL,
	PRIMARY KEY (roaster, url)
);
CREATE INDEX IF NOT EXISTS idx_seen_urls_roaster ON seen_urls (roaster);
`

// Index is the sqlite-backed URL-history store behind the
// new/existing/vanished partition.
type Index struct {
	db *sqlx.DB
}

// OpenIndex opens (creating if needed) the history database at path.
func OpenIndex(path string) (*Index, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create index directory: %w", err)
		}
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent session writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(indexSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index schema: %w", err)
	}
	return &Index{db: db}, nil
}

// URLs returns the full persisted URL history for a roaster, the immutable
// snapshot one session partitions against.
func (ix *Index) URLs(ctx context.Context, roaster string) ([]string, error) {
	var urls []string
	err := ix.db.SelectContext(ctx, &urls,
		`SELECT url FROM seen_urls WHERE roaster = ? ORDER BY url`, roaster)
	if err != nil {
		return nil, fmt.Errorf("query history for %s: %w", roaster, err)
	}
	return urls, nil
}

// Touch upserts a URL sighting after a full record is written.
func (ix *Index) Touch(ctx context.Context, roaster, url, sessionID string, seenAt time.Time) error {
	_, err := ix.db.ExecContext(ctx, `
		INSERT INTO seen_urls (roaster, url, first_seen, last_seen, last_session)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (roaster, url) DO UPDATE SET
			last_seen = excluded.last_seen,
			last_session = excluded.last_session`,
		roaster, url, seenAt.UTC(), seenAt.UTC(), sessionID)
	if err != nil {
		return fmt.Errorf("touch %s: %w", url, err)
	}
	return nil
}

// Count reports how many URLs the index holds for a roaster.
func (ix *Index) Count(ctx context.Context, roaster string) (int, error) {
	var n int
	if err := ix.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM seen_urls WHERE roaster = ?`, roaster); err != nil {
		return 0, fmt.Errorf("count history for %s: %w", roaster, err)
	}
	return n, nil
}

// Reindex rebuilds the history from the dataset's full records, for recovery
// after index loss. Returns the number of records visited.
func (ix *Index) Reindex(ctx context.Context, dataset *Dataset) (int, error) {
	count := 0
	err := dataset.Records(func(path string, rec *models.BeanRecord) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		session := filepath.Base(filepath.Dir(path))
		if err := ix.Touch(ctx, rec.Roaster, rec.URL, session, rec.ScrapedAt); err != nil {
			return err
		}
		count++
		return nil
	})
	if err != nil {
		return count, fmt.Errorf("reindex: %w", err)
	}
	return count, nil
}

// Close releases the database handle.
func (ix *Index) Close() error {
	return ix.db.Close()
}
