package models

import (
	"fmt"
	"time"
)

// SourceTier names the collection pass that produced a record.
type SourceTier string

const (
	TierBasic    SourceTier = "basic"
	TierDetailed SourceTier = "detailed"
)

// Rank orders tiers for merging. Higher wins.
func (t SourceTier) Rank() int {
	switch t {
	case TierDetailed:
		return 2
	case TierBasic:
		return 1
	default:
		return 0
	}
}

// TargetKey identifies a listing. Listing ids are only unique within a city.
type TargetKey struct {
	CityCode  string
	ListingID string
}

func (k TargetKey) String() string {
	return k.CityCode + "/" + k.ListingID
}

// Target is one listing page to fetch.
type Target struct {
	CityCode  string `json:"city_code" yaml:"city_code"`
	ListingID string `json:"listing_id" yaml:"listing_id"`
	URL       string `json:"url" yaml:"url"`
}

func (t Target) Key() TargetKey {
	return TargetKey{CityCode: t.CityCode, ListingID: t.ListingID}
}

// RawCapture is the fetched markup for one target plus fetch metadata.
// It is written once by the fetch stage and never touched by extraction.
type RawCapture struct {
	CityCode     string    `json:"city_code"`
	ListingID    string    `json:"listing_id"`
	URL          string    `json:"url"`
	Markup       string    `json:"-"`
	FetchedAt    time.Time `json:"fetched_at"`
	HTTPStatus   int       `json:"http_status"`
	AttemptCount int       `json:"attempt_count"`
	Size         int       `json:"size"`
}

func (c *RawCapture) Key() TargetKey {
	return TargetKey{CityCode: c.CityCode, ListingID: c.ListingID}
}

// ExtractedRecord is the normalized data parsed from exactly one source
// document. Absent fields are nil and encode as JSON null.
type ExtractedRecord struct {
	CityCode         string     `json:"city_code"`
	ListingID        string     `json:"listing_id"`
	Title            *string    `json:"title"`
	Price            *int       `json:"price"`
	Beds             *int       `json:"beds"`
	Baths            *float64   `json:"baths"`
	SqFeet           *int       `json:"sq_feet"`
	Address          *string    `json:"address"`
	Community        *string    `json:"community"`
	City             *string    `json:"city"`
	Latitude         *float64   `json:"latitude"`
	Longitude        *float64   `json:"longitude"`
	AvailabilityDate *string    `json:"availability_date"`
	PetFriendly      *bool      `json:"pet_friendly"`
	Utilities        []string   `json:"utilities"`
	Amenities        []string   `json:"amenities"`
	Furnished        *bool      `json:"furnished"`
	ParkingSpots     *int       `json:"parking_spots"`
	Description      *string    `json:"description"`
	PropertyType     *string    `json:"property_type"`
	SourceTier       SourceTier `json:"source_tier"`
	ExtractedAt      time.Time  `json:"extracted_at"`
}

// RecordID is a stable identifier for the record within a merge input set.
func (r *ExtractedRecord) RecordID() string {
	id := r.ListingID
	if id == "" {
		id = "-"
	}
	return fmt.Sprintf("%s:%s:%s@%s", r.SourceTier, r.CityCode, id,
		r.ExtractedAt.UTC().Format(time.RFC3339Nano))
}

func (r *ExtractedRecord) Key() TargetKey {
	return TargetKey{CityCode: r.CityCode, ListingID: r.ListingID}
}

// Clone returns a deep copy so merging never mutates its input.
func (r *ExtractedRecord) Clone() *ExtractedRecord {
	c := *r
	c.Title = clonePtr(r.Title)
	c.Price = clonePtr(r.Price)
	c.Beds = clonePtr(r.Beds)
	c.Baths = clonePtr(r.Baths)
	c.SqFeet = clonePtr(r.SqFeet)
	c.Address = clonePtr(r.Address)
	c.Community = clonePtr(r.Community)
	c.City = clonePtr(r.City)
	c.Latitude = clonePtr(r.Latitude)
	c.Longitude = clonePtr(r.Longitude)
	c.AvailabilityDate = clonePtr(r.AvailabilityDate)
	c.PetFriendly = clonePtr(r.PetFriendly)
	c.Furnished = clonePtr(r.Furnished)
	c.ParkingSpots = clonePtr(r.ParkingSpots)
	c.Description = clonePtr(r.Description)
	c.PropertyType = clonePtr(r.PropertyType)
	c.Utilities = cloneSlice(r.Utilities)
	c.Amenities = cloneSlice(r.Amenities)
	return &c
}

// CanonicalRecord is the deduplicated, field-merged record for one listing.
type CanonicalRecord struct {
	ExtractedRecord
	MergedFrom []string  `json:"merged_from"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneSlice(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}

// BoundingBox is the plausible coordinate region for the service area.
type BoundingBox struct {
	MinLat, MaxLat float64
	MinLng, MaxLng float64
}

// Contains reports whether the point lies inside the box. (0,0) never does.
func (b BoundingBox) Contains(lat, lng float64) bool {
	if lat == 0 && lng == 0 {
		return false
	}
	return lat >= b.MinLat && lat <= b.MaxLat && lng >= b.MinLng && lng <= b.MaxLng
}
