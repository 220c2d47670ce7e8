package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"rental-scraper/models"
)

var (
	cityCodeRegexp  = regexp.MustCompile(`^[a-z0-9_-]+$`)
	listingIDRegexp = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
)

// NormalizeCityCode lowercases and underscores a city name or code so it
// can be used as a directory name.
func NormalizeCityCode(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Join(strings.Fields(s), "_")
}

// ValidateKey checks that a key is safe to use as a storage path.
func ValidateKey(k models.TargetKey) error {
	if !cityCodeRegexp.MatchString(k.CityCode) {
		return fmt.Errorf("city code %q is not a valid storage key", k.CityCode)
	}
	if !listingIDRegexp.MatchString(k.ListingID) {
		return fmt.Errorf("listing id %q is not a valid storage key", k.ListingID)
	}
	return nil
}

// writeFileAtomic writes data to a temp file in the target directory,
// syncs it and renames it over path, so readers see either the old file
// or the complete new one.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create dir %q: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}
