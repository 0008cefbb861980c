// Package catalog persists session output as per-product files and keeps the
// roaster URL-history index the incremental engine partitions against.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"beanscout/models"
)

// File-extension conventions: full records are self-contained .json files,
// patches use .diffjson to signal "patch, not full record" to the loader.
const (
	RecordExt = ".json"
	PatchExt  = ".diffjson"
)

// ErrRecordNotFound reports that no full record exists for a URL.
var ErrRecordNotFound = errors.New("catalog: record not found")

// Dataset is the on-disk catalog layout:
// <dir>/<roaster>/<session-id>/<product-slug>.json|.diffjson.
type Dataset struct {
	dir string
}

// NewDataset roots a dataset at dir. Directories are created on first write.
func NewDataset(dir string) *Dataset {
	return &Dataset{dir: dir}
}

// Dir returns the dataset root.
func (d *Dataset) Dir() string {
	return d.dir
}

// SessionDir returns the output directory for one roaster session.
func (d *Dataset) SessionDir(roaster, sessionID string) string {
	return filepath.Join(d.dir, slugify(roaster), sessionID)
}

// WriteRecord persists one full record into the session's directory and
// returns the file path.
func (d *Dataset) WriteRecord(rec *models.BeanRecord, sessionID string) (string, error) {
	if rec.URL == "" {
		return "", fmt.Errorf("record missing url")
	}
	path := filepath.Join(d.SessionDir(rec.Roaster, sessionID), productSlug(rec.URL)+RecordExt)
	if err := writeJSONFile(path, rec); err != nil {
		return "", fmt.Errorf("write record %s: %w", rec.URL, err)
	}
	return path, nil
}

// WritePatch persists one diff patch alongside the session's full records.
func (d *Dataset) WritePatch(patch *models.DiffPatch, sessionID string) (string, error) {
	if err := patch.Validate(); err != nil {
		return "", err
	}
	path := filepath.Join(d.SessionDir(patch.Roaster, sessionID), productSlug(patch.URL)+PatchExt)
	if err := writeJSONFile(path, patch); err != nil {
		return "", fmt.Errorf("write patch %s: %w", patch.URL, err)
	}
	return path, nil
}

// LatestRecord finds the most recent full record for a product URL across
// all of the roaster's sessions. Session IDs are time-derived, so
// lexicographic order is chronological.
func (d *Dataset) LatestRecord(roaster, productURL string) (*models.BeanRecord, string, error) {
	roasterDir := filepath.Join(d.dir, slugify(roaster))
	entries, err := os.ReadDir(roasterDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", ErrRecordNotFound
		}
		return nil, "", fmt.Errorf("read roaster dir: %w", err)
	}

	sessions := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			sessions = append(sessions, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(sessions)))

	slug := productSlug(productURL) + RecordExt
	for _, session := range sessions {
		path := filepath.Join(roasterDir, session, slug)
		rec, err := ReadRecord(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, "", err
		}
		if rec.URL == productURL {
			return rec, path, nil
		}
	}
	return nil, "", ErrRecordNotFound
}

// Records walks every full record under the dataset, newest session last,
// calling fn for each. Used by Reindex and the apply loader.
func (d *Dataset) Records(fn func(path string, rec *models.BeanRecord) error) error {
	return filepath.WalkDir(d.dir, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if entry.IsDir() || !strings.HasSuffix(path, RecordExt) {
			return nil
		}
		rec, err := ReadRecord(path)
		if err != nil {
			return err
		}
		return fn(path, rec)
	})
}

// ReadRecord loads one full record file.
func ReadRecord(path string) (*models.BeanRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rec models.BeanRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse record %s: %w", path, err)
	}
	return &rec, nil
}

// ReadPatch loads one diff patch file.
func ReadPatch(path string) (*models.DiffPatch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var patch models.DiffPatch
	if err := json.Unmarshal(data, &patch); err != nil {
		return nil, fmt.Errorf("parse patch %s: %w", path, err)
	}
	return &patch, nil
}

// writeJSONFile writes via a temp file plus rename so readers never observe
// a half-written record.
func writeJSONFile(path string, v any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

var slugUnsafe = regexp.MustCompile(`[^a-z0-9-]+`)

// productSlug derives a stable file name from the product URL's path. The
// parsed path is percent-decoded, so escapes never leak into file names.
func productSlug(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Path == "" || parsed.Path == "/" {
		return slugify(rawURL)
	}
	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	return slugify(segments[len(segments)-1])
}

func slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = slugUnsafe.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if s == "" {
		return "item"
	}
	return s
}
