// Package targets reads the target enumeration produced by the external
// search pass: either the JSON listing feed or an explicit YAML list.
package targets

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"rental-scraper/models"
	"rental-scraper/storage"
)

// FlexString accepts a JSON string, number, boolean or null. The search
// API is inconsistent about value types, so everything lands here as text.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*f = ""
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
	case bytes.Equal(data, []byte("true")), bytes.Equal(data, []byte("false")):
		*f = FlexString(data)
	case data[0] == '[' || data[0] == '{':
		*f = FlexString(data)
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*f = FlexString(n.String())
	}
	return nil
}

func (f FlexString) String() string { return string(f) }

// FeedListing is one entry of the listing feed.
type FeedListing struct {
	RefID        FlexString `json:"ref_id"`
	CityCode     FlexString `json:"city_code"`
	Link         FlexString `json:"link"`
	Title        FlexString `json:"title"`
	Intro        FlexString `json:"intro"`
	Address      FlexString `json:"address"`
	Community    FlexString `json:"community"`
	City         FlexString `json:"city"`
	Availability FlexString `json:"availability"`
	Price        FlexString `json:"price"`
	Beds         FlexString `json:"beds"`
	Baths        FlexString `json:"baths"`
	SqFeet       FlexString `json:"sq_feet"`
	Cats         FlexString `json:"cats_allowed"`
	Dogs         FlexString `json:"dogs_allowed"`
	Latitude     FlexString `json:"latitude"`
	Longitude    FlexString `json:"longitude"`
	Type         FlexString `json:"type"`
}

// Feed is a loaded listing feed plus the time its file was last written,
// which stands in for the observation time of every entry.
type Feed struct {
	Listings   []FeedListing
	ObservedAt time.Time
}

// Source is everything Load produced from one file.
type Source struct {
	Targets []models.Target
	Feed    *Feed
}

// Load reads a target file. JSON files are listing feeds and also yield
// basic-tier data; YAML files are plain target lists.
func Load(path, baseURL string) (*Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("targets: read %q: %w", path, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("targets: stat %q: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		ts, err := ParseYAML(data)
		if err != nil {
			return nil, fmt.Errorf("targets: %q: %w", path, err)
		}
		for i := range ts {
			ts[i].URL = AbsoluteURL(baseURL, ts[i].URL)
		}
		return &Source{Targets: ts}, nil
	default:
		listings, err := ParseFeed(data)
		if err != nil {
			return nil, fmt.Errorf("targets: %q: %w", path, err)
		}
		feed := &Feed{Listings: listings, ObservedAt: info.ModTime().UTC().Truncate(time.Second)}
		return &Source{Targets: FromFeed(listings, baseURL), Feed: feed}, nil
	}
}

// ParseFeed decodes a JSON array of feed listings.
func ParseFeed(data []byte) ([]FeedListing, error) {
	var listings []FeedListing
	if err := json.Unmarshal(data, &listings); err != nil {
		return nil, fmt.Errorf("decode feed: %w", err)
	}
	return listings, nil
}

type yamlFile struct {
	Targets []models.Target `yaml:"targets"`
}

// ParseYAML decodes a `targets:` list.
func ParseYAML(data []byte) ([]models.Target, error) {
	var f yamlFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	return f.Targets, nil
}

// FromFeed derives fetch targets from feed entries. Entries without a
// city or id are kept so the scheduler reports them as invalid.
func FromFeed(listings []FeedListing, baseURL string) []models.Target {
	out := make([]models.Target, 0, len(listings))
	for _, l := range listings {
		city := l.CityCode.String()
		if city == "" {
			city = l.City.String()
		}
		out = append(out, models.Target{
			CityCode:  storage.NormalizeCityCode(city),
			ListingID: strings.TrimSpace(l.RefID.String()),
			URL:       AbsoluteURL(baseURL, l.Link.String()),
		})
	}
	return out
}

// AbsoluteURL prefixes site-relative links with baseURL.
func AbsoluteURL(baseURL, link string) string {
	link = strings.TrimSpace(link)
	if link == "" || strings.HasPrefix(link, "http://") || strings.HasPrefix(link, "https://") {
		return link
	}
	if !strings.HasPrefix(link, "/") {
		link = "/" + link
	}
	return strings.TrimRight(baseURL, "/") + link
}

// Limit truncates ts to n entries; n <= 0 keeps everything.
func Limit(ts []models.Target, n int) []models.Target {
	if n <= 0 || n >= len(ts) {
		return ts
	}
	return ts[:n]
}

// ParseBool reads the feed's loose boolean encodings.
func ParseBool(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "y":
		return true, true
	case "0", "false", "no", "n":
		return false, true
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n != 0, true
	}
	return false, false
}
