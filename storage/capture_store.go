package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"rental-scraper/models"
)

// ErrMarkupTooLarge is returned by CaptureStore.Get when a capture's markup
// exceeds the configured bound.
var ErrMarkupTooLarge = errors.New("markup exceeds size limit")

// ErrIncompleteCapture is returned by CaptureStore.Get when the markup on
// disk does not match the size recorded in its metadata.
var ErrIncompleteCapture = errors.New("markup does not match metadata")

// CaptureStore keeps one markup blob and one metadata record per listing,
// partitioned by city: <root>/<city>/<id>.html and <root>/<city>/<id>.json.
// The metadata file is written last and marks the capture as complete.
type CaptureStore struct {
	root     string
	maxBytes int
}

// NewCaptureStore creates the root directory if needed. maxBytes bounds
// markup reads; 0 disables the bound.
func NewCaptureStore(root string, maxBytes int) (*CaptureStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("captures: create root %q: %w", root, err)
	}
	return &CaptureStore{root: root, maxBytes: maxBytes}, nil
}

func (s *CaptureStore) markupPath(k models.TargetKey) string {
	return filepath.Join(s.root, k.CityCode, k.ListingID+".html")
}

func (s *CaptureStore) metaPath(k models.TargetKey) string {
	return filepath.Join(s.root, k.CityCode, k.ListingID+".json")
}

// Put writes the capture. Any previous metadata is removed, then markup
// goes first and metadata second; a crash in between leaves a capture that
// Exists and List do not report.
func (s *CaptureStore) Put(c *models.RawCapture) error {
	k := c.Key()
	if err := ValidateKey(k); err != nil {
		return fmt.Errorf("captures: %w", err)
	}

	meta := *c
	meta.Size = len(c.Markup)
	metaJSON, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return fmt.Errorf("captures: encode metadata for %s: %w", k, err)
	}

	if err := os.Remove(s.metaPath(k)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("captures: remove old metadata for %s: %w", k, err)
	}
	if err := writeFileAtomic(s.markupPath(k), []byte(c.Markup)); err != nil {
		return fmt.Errorf("captures: write markup for %s: %w", k, err)
	}
	if err := writeFileAtomic(s.metaPath(k), metaJSON); err != nil {
		return fmt.Errorf("captures: write metadata for %s: %w", k, err)
	}
	return nil
}

// Exists reports whether a complete capture is stored for k.
func (s *CaptureStore) Exists(k models.TargetKey) bool {
	if ValidateKey(k) != nil {
		return false
	}
	_, err := os.Stat(s.metaPath(k))
	return err == nil
}

// Meta reads only the metadata of a capture.
func (s *CaptureStore) Meta(k models.TargetKey) (*models.RawCapture, error) {
	if err := ValidateKey(k); err != nil {
		return nil, fmt.Errorf("captures: %w", err)
	}
	data, err := os.ReadFile(s.metaPath(k))
	if err != nil {
		return nil, fmt.Errorf("captures: read metadata for %s: %w", k, err)
	}
	c := &models.RawCapture{}
	if err := json.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("captures: decode metadata for %s: %w", k, err)
	}
	return c, nil
}

// Get loads metadata and markup. Markup larger than the bound yields
// ErrMarkupTooLarge together with the metadata.
func (s *CaptureStore) Get(k models.TargetKey) (*models.RawCapture, error) {
	c, err := s.Meta(k)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(s.markupPath(k))
	if err != nil {
		return c, fmt.Errorf("captures: open markup for %s: %w", k, err)
	}
	defer f.Close()

	var r io.Reader = f
	if s.maxBytes > 0 {
		r = io.LimitReader(f, int64(s.maxBytes)+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return c, fmt.Errorf("captures: read markup for %s: %w", k, err)
	}
	if s.maxBytes > 0 && len(data) > s.maxBytes {
		return c, fmt.Errorf("captures: %s: %w (%d bytes)", k, ErrMarkupTooLarge, s.maxBytes)
	}
	if len(data) != c.Size {
		return c, fmt.Errorf("captures: %s: %w (%d bytes on disk, %d recorded)", k, ErrIncompleteCapture, len(data), c.Size)
	}
	c.Markup = string(data)
	return c, nil
}

// List returns the keys of all complete captures, sorted.
func (s *CaptureStore) List() ([]models.TargetKey, error) {
	var keys []models.TargetKey
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") || filepath.Ext(path) != ".json" {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		city := filepath.Dir(rel)
		if city == "." || strings.Contains(city, string(filepath.Separator)) {
			return nil
		}
		keys = append(keys, models.TargetKey{
			CityCode:  city,
			ListingID: strings.TrimSuffix(d.Name(), ".json"),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("captures: list: %w", err)
	}
	sortKeys(keys)
	return keys, nil
}

func sortKeys(keys []models.TargetKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].CityCode != keys[j].CityCode {
			return keys[i].CityCode < keys[j].CityCode
		}
		return keys[i].ListingID < keys[j].ListingID
	})
}
