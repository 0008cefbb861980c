package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// ApplyReport summarizes one diff-apply batch. Per-file failures accumulate
// here; a bad patch never blocks the rest of the batch.
type ApplyReport struct {
	Found          int
	Applied        int
	SkippedUnknown int
	SkippedInvalid int
	Superseded     int
	Failures       map[string]string
}

func (r *ApplyReport) fail(path, reason string) {
	if r.Failures == nil {
		r.Failures = make(map[string]string)
	}
	r.Failures[path] = reason
}

// Apply runs the diff-apply protocol over every .diffjson file under dir:
// validate, match the latest full record by url, merge the updatable fields,
// rewrite the merged record, and remove the consumed patch file. A patch
// whose url has a full record in the same batch is superseded — the full
// record always wins — and a patch for an unknown url is skipped with a
// warning, never an error.
func Apply(ctx context.Context, dataset *Dataset, dir string) (*ApplyReport, error) {
	if dir == "" {
		dir = dataset.Dir()
	}
	report := &ApplyReport{}

	// Records are keyed by their session directory: a full record supersedes
	// a patch only when both came out of the same session.
	var patchFiles []string
	batchRecords := make(map[string]bool)
	err := filepath.WalkDir(dir, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if entry.IsDir() {
			return nil
		}
		switch {
		case strings.HasSuffix(path, PatchExt):
			patchFiles = append(patchFiles, path)
		case strings.HasSuffix(path, RecordExt):
			if rec, err := ReadRecord(path); err == nil {
				batchRecords[filepath.Dir(path)+"\x00"+rec.URL] = true
			}
		}
		return nil
	})
	if err != nil {
		return report, fmt.Errorf("scan %s: %w", dir, err)
	}
	report.Found = len(patchFiles)

	for _, path := range patchFiles {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		applyOne(dataset, path, batchRecords, report)
	}
	return report, nil
}

func applyOne(dataset *Dataset, path string, batchRecords map[string]bool, report *ApplyReport) {
	patch, err := ReadPatch(path)
	if err != nil {
		slog.Warn("skipping unreadable diff file", slog.String("path", path), slog.Any("error", err))
		report.SkippedInvalid++
		report.fail(path, err.Error())
		return
	}
	if err := patch.Validate(); err != nil {
		slog.Warn("skipping invalid diff file", slog.String("path", path), slog.Any("error", err))
		report.SkippedInvalid++
		report.fail(path, err.Error())
		return
	}

	if batchRecords[filepath.Dir(path)+"\x00"+patch.URL] {
		// A full snapshot for this product landed in the same session.
		slog.Debug("diff superseded by full record from its session", slog.String("url", patch.URL))
		report.Superseded++
		removePatch(path)
		return
	}

	rec, recPath, err := dataset.LatestRecord(patch.Roaster, patch.URL)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			slog.Warn("diff references unknown product, skipping",
				slog.String("url", patch.URL),
				slog.String("path", path),
			)
			report.SkippedUnknown++
			return
		}
		report.fail(path, err.Error())
		return
	}

	priceChanged := patch.Price != nil && (rec.Price == nil || *rec.Price != *patch.Price)
	currencyChanged := patch.Currency != nil && rec.Currency != *patch.Currency

	patch.Apply(rec)
	if err := writeJSONFile(recPath, rec); err != nil {
		report.fail(path, err.Error())
		return
	}

	if priceChanged || currencyChanged {
		// Downstream currency normalization keys off this signal.
		slog.Info("price changed on apply",
			slog.String("url", patch.URL),
			slog.String("currency", rec.Currency),
		)
	}

	report.Applied++
	removePatch(path)
}

// removePatch discards a consumed patch file. Failure to remove is logged
// only; re-applying the same patch later is idempotent.
func removePatch(path string) {
	if err := os.Remove(path); err != nil {
		slog.Warn("could not remove applied diff file", slog.String("path", path), slog.Any("error", err))
	}
}
