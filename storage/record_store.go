package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"rental-scraper/models"
)

// RecordStore keeps one JSON document per extracted record at
// <root>/<tier>/<city>/<id>.json. Each record is written atomically as soon
// as it is produced, so an interrupted extraction keeps prior progress.
type RecordStore struct {
	root string
}

// NewRecordStore creates the root directory if needed.
func NewRecordStore(root string) (*RecordStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("records: create root %q: %w", root, err)
	}
	return &RecordStore{root: root}, nil
}

func (s *RecordStore) path(tier models.SourceTier, k models.TargetKey) string {
	return filepath.Join(s.root, string(tier), k.CityCode, k.ListingID+".json")
}

// unkeyedDir holds records without a listing id, named by content hash.
const unkeyedDir = "_unkeyed"

// Put writes r, replacing any earlier record for the same tier and key.
// Records without a listing id are stored by content hash.
func (s *RecordStore) Put(r *models.ExtractedRecord) error {
	k := r.Key()
	if r.SourceTier == "" {
		return fmt.Errorf("records: %s has no source tier", k)
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("records: encode %s: %w", k, err)
	}

	path := s.path(r.SourceTier, k)
	if k.ListingID == "" {
		h := fnv.New64a()
		_, _ = h.Write(data)
		path = filepath.Join(s.root, string(r.SourceTier), unkeyedDir, fmt.Sprintf("%016x.json", h.Sum64()))
	} else if err := ValidateKey(k); err != nil {
		return fmt.Errorf("records: %w", err)
	}

	if err := writeFileAtomic(path, data); err != nil {
		return fmt.Errorf("records: write %s: %w", k, err)
	}
	return nil
}

// ClearUnkeyed removes every record without a listing id for tier.
func (s *RecordStore) ClearUnkeyed(tier models.SourceTier) error {
	if err := os.RemoveAll(filepath.Join(s.root, string(tier), unkeyedDir)); err != nil {
		return fmt.Errorf("records: clear unkeyed %s: %w", tier, err)
	}
	return nil
}

// Delete removes the record for tier and key if present.
func (s *RecordStore) Delete(tier models.SourceTier, k models.TargetKey) error {
	if err := ValidateKey(k); err != nil {
		return fmt.Errorf("records: %w", err)
	}
	err := os.Remove(s.path(tier, k))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("records: delete %s: %w", k, err)
	}
	return nil
}

// Keys lists the keys stored for one tier, sorted.
func (s *RecordStore) Keys(tier models.SourceTier) ([]models.TargetKey, error) {
	dir := filepath.Join(s.root, string(tier))
	var keys []models.TargetKey
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == dir {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() {
			if d.Name() == unkeyedDir {
				return filepath.SkipDir
			}
			return nil
		}
		if !isRecordFile(d.Name()) {
			return nil
		}
		keys = append(keys, models.TargetKey{
			CityCode:  filepath.Base(filepath.Dir(path)),
			ListingID: strings.TrimSuffix(d.Name(), ".json"),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("records: list %s: %w", tier, err)
	}
	sortKeys(keys)
	return keys, nil
}

// All loads every stored record across tiers in path order.
func (s *RecordStore) All() ([]*models.ExtractedRecord, error) {
	var paths []string
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && isRecordFile(d.Name()) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("records: walk: %w", err)
	}
	sort.Strings(paths)

	records := make([]*models.ExtractedRecord, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("records: read %s: %w", p, err)
		}
		r := &models.ExtractedRecord{}
		if err := json.Unmarshal(data, r); err != nil {
			return nil, fmt.Errorf("records: decode %s: %w", p, err)
		}
		records = append(records, r)
	}
	return records, nil
}

func isRecordFile(name string) bool {
	return !strings.HasPrefix(name, ".") && filepath.Ext(name) == ".json"
}

// DatasetWriter writes the canonical dataset as one indented JSON array.
// Identical input produces an identical file.
type DatasetWriter struct {
	path string
}

func NewDatasetWriter(path string) *DatasetWriter {
	return &DatasetWriter{path: path}
}

// Write replaces the dataset atomically. Records must already be sorted.
func (w *DatasetWriter) Write(records []*models.CanonicalRecord) error {
	if records == nil {
		records = []*models.CanonicalRecord{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("dataset: encode: %w", err)
	}
	data = append(data, '\n')
	if err := writeFileAtomic(w.path, data); err != nil {
		return fmt.Errorf("dataset: write %s: %w", w.path, err)
	}
	return nil
}

func (w *DatasetWriter) Close() error { return nil }
