package services

import (
	"fmt"
	"sort"

	"rental-scraper/models"
	"rental-scraper/utils"
)

// Merger reduces extracted records to one canonical record per listing.
//
// Precedence within a group, highest first:
//  1. higher source tier (detailed over basic)
//  2. later ExtractedAt
//  3. smaller RecordID, so the order is total
//
// The first record is the base; each field still null is filled from the
// next record in that order that has a value. Merge never reads a prior
// result, so the same input always yields the same output.
type Merger struct {
	logger *utils.Logger
}

func NewMerger(logger *utils.Logger) *Merger {
	return &Merger{logger: logger}
}

type secondaryKey struct {
	city, address string
	price, beds   int
}

func secondaryKeyOf(r *models.ExtractedRecord) (secondaryKey, bool) {
	if r.Address == nil || r.Price == nil || r.Beds == nil {
		return secondaryKey{}, false
	}
	addr := NormaliseAddress(*r.Address)
	if addr == "" {
		return secondaryKey{}, false
	}
	return secondaryKey{city: r.CityCode, address: addr, price: *r.Price, beds: *r.Beds}, true
}

// Merge groups records by (city_code, listing_id). Records without a
// listing id join a group only when their address, price and beds match
// exactly one group; anything else is excluded and reported.
func (m *Merger) Merge(records []*models.ExtractedRecord) ([]*models.CanonicalRecord, *models.MergeSummary) {
	summary := &models.MergeSummary{Input: len(records)}

	groups := make(map[models.TargetKey][]*models.ExtractedRecord)
	var unkeyed []*models.ExtractedRecord

	for _, r := range records {
		switch {
		case r == nil:
			continue
		case r.CityCode == "":
			m.exclude(summary, r, "missing city_code")
		case r.ListingID == "":
			unkeyed = append(unkeyed, r)
		default:
			groups[r.Key()] = append(groups[r.Key()], r)
		}
	}

	if len(unkeyed) > 0 {
		index := make(map[secondaryKey]map[models.TargetKey]struct{})
		for k, members := range groups {
			for _, r := range members {
				sk, ok := secondaryKeyOf(r)
				if !ok {
					continue
				}
				if index[sk] == nil {
					index[sk] = make(map[models.TargetKey]struct{})
				}
				index[sk][k] = struct{}{}
			}
		}

		for _, r := range unkeyed {
			sk, ok := secondaryKeyOf(r)
			if !ok {
				m.exclude(summary, r, "missing listing_id and no address/price/beds to match on")
				continue
			}
			matches := index[sk]
			switch len(matches) {
			case 0:
				m.exclude(summary, r, "missing listing_id and no listing matches its address/price/beds")
			case 1:
				for k := range matches {
					groups[k] = append(groups[k], r)
				}
				summary.Secondary++
			default:
				m.exclude(summary, r, fmt.Sprintf("missing listing_id and address/price/beds match %d listings", len(matches)))
			}
		}
	}

	keys := make([]models.TargetKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].CityCode != keys[j].CityCode {
			return keys[i].CityCode < keys[j].CityCode
		}
		return keys[i].ListingID < keys[j].ListingID
	})

	out := make([]*models.CanonicalRecord, 0, len(keys))
	for _, k := range keys {
		c := mergeGroup(k, groups[k])
		if len(c.MergedFrom) > 1 {
			summary.Merged++
		}
		out = append(out, c)
	}

	sort.Slice(summary.Exclusions, func(i, j int) bool {
		return summary.Exclusions[i].Detail < summary.Exclusions[j].Detail
	})
	summary.Output = len(out)
	m.logger.Info("[merge] %d records -> %d canonical listings (%d merged, %d via secondary key, %d excluded)",
		summary.Input, summary.Output, summary.Merged, summary.Secondary, summary.Excluded)
	return out, summary
}

func (m *Merger) exclude(summary *models.MergeSummary, r *models.ExtractedRecord, reason string) {
	err := &models.SchemaViolation{RecordID: r.RecordID(), Reason: reason}
	summary.Excluded++
	summary.Exclusions = append(summary.Exclusions, models.Failure{
		Stage:     "merge",
		CityCode:  r.CityCode,
		ListingID: r.ListingID,
		Kind:      models.KindOf(err),
		Detail:    err.Error(),
	})
	m.logger.Warn("[merge] Excluded %s: %s", r.RecordID(), reason)
}

// precedes reports whether a ranks ahead of b.
func precedes(a, b *models.ExtractedRecord) bool {
	if ra, rb := a.SourceTier.Rank(), b.SourceTier.Rank(); ra != rb {
		return ra > rb
	}
	if !a.ExtractedAt.Equal(b.ExtractedAt) {
		return a.ExtractedAt.After(b.ExtractedAt)
	}
	return a.RecordID() < b.RecordID()
}

func mergeGroup(k models.TargetKey, members []*models.ExtractedRecord) *models.CanonicalRecord {
	ordered := append([]*models.ExtractedRecord(nil), members...)
	sort.SliceStable(ordered, func(i, j int) bool { return precedes(ordered[i], ordered[j]) })

	base := ordered[0].Clone()
	base.CityCode, base.ListingID = k.CityCode, k.ListingID

	c := &models.CanonicalRecord{ExtractedRecord: *base}
	seen := make(map[string]bool, len(ordered))
	for i, r := range ordered {
		id := r.RecordID()
		if seen[id] {
			continue
		}
		seen[id] = true
		c.MergedFrom = append(c.MergedFrom, id)
		if r.ExtractedAt.After(c.LastSeenAt) {
			c.LastSeenAt = r.ExtractedAt
		}
		if i > 0 {
			fillNulls(&c.ExtractedRecord, r)
		}
	}
	c.LastSeenAt = c.LastSeenAt.UTC()
	return c
}

// fillNulls copies every field of src into dst where dst has none.
func fillNulls(dst, src *models.ExtractedRecord) {
	fill(&dst.Title, src.Title)
	fill(&dst.Price, src.Price)
	fill(&dst.Beds, src.Beds)
	fill(&dst.Baths, src.Baths)
	fill(&dst.SqFeet, src.SqFeet)
	fill(&dst.Address, src.Address)
	fill(&dst.Community, src.Community)
	fill(&dst.City, src.City)
	fill(&dst.AvailabilityDate, src.AvailabilityDate)
	fill(&dst.PetFriendly, src.PetFriendly)
	fill(&dst.Furnished, src.Furnished)
	fill(&dst.ParkingSpots, src.ParkingSpots)
	fill(&dst.Description, src.Description)
	fill(&dst.PropertyType, src.PropertyType)

	// coordinates only travel as a pair
	if dst.Latitude == nil && dst.Longitude == nil && src.Latitude != nil && src.Longitude != nil {
		fill(&dst.Latitude, src.Latitude)
		fill(&dst.Longitude, src.Longitude)
	}

	if dst.Utilities == nil && src.Utilities != nil {
		dst.Utilities = append([]string(nil), src.Utilities...)
	}
	if dst.Amenities == nil && src.Amenities != nil {
		dst.Amenities = append([]string(nil), src.Amenities...)
	}
}

func fill[T any](dst **T, src *T) {
	if *dst == nil && src != nil {
		v := *src
		*dst = &v
	}
}
