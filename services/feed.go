package services

import (
	"errors"
	"strings"
	"time"

	"rental-scraper/models"
	"rental-scraper/storage"
	"rental-scraper/targets"
	"rental-scraper/utils"
)

// FeedExtractor builds basic-tier records from listing feed entries using
// the same normalisers as the page extractor.
type FeedExtractor struct {
	region models.BoundingBox
	logger *utils.Logger
}

func NewFeedExtractor(region models.BoundingBox, logger *utils.Logger) *FeedExtractor {
	return &FeedExtractor{region: region, logger: logger}
}

// Extract converts one feed entry. observedAt stands in for the extraction
// time so repeated runs over the same feed file produce identical records.
func (f *FeedExtractor) Extract(l targets.FeedListing, observedAt time.Time) (*models.ExtractedRecord, []*models.FieldValidation) {
	city := l.CityCode.String()
	if city == "" {
		city = l.City.String()
	}

	var issues []*models.FieldValidation
	rec := &models.ExtractedRecord{
		CityCode:    storage.NormalizeCityCode(city),
		ListingID:   strings.TrimSpace(l.RefID.String()),
		SourceTier:  models.TierBasic,
		ExtractedAt: observedAt.UTC(),
	}

	rec.Title = field(&issues, "title", l.Title.String(), parseTitle)
	rec.Price = field(&issues, "price", l.Price.String(), ParsePrice)
	rec.Beds = field(&issues, "beds", l.Beds.String(), ParseBeds)
	rec.Baths = field(&issues, "baths", l.Baths.String(), ParseBaths)
	rec.SqFeet = field(&issues, "sq_feet", l.SqFeet.String(), ParseSqFeet)
	rec.Address = field(&issues, "address", l.Address.String(), parseShortText)
	rec.Community = field(&issues, "community", l.Community.String(), parseShortText)
	rec.City = field(&issues, "city", l.City.String(), parseShortText)
	rec.AvailabilityDate = field(&issues, "availability_date", l.Availability.String(), ParseAvailability)
	rec.Description = field(&issues, "description", l.Intro.String(), parseDescription)
	rec.PropertyType = field(&issues, "property_type", l.Type.String(), ParsePropertyType)
	rec.PetFriendly = feedPets(l)

	lat, lng, err := ParseCoordinates(l.Latitude.String(), l.Longitude.String(), f.region)
	if err == nil {
		rec.Latitude, rec.Longitude = &lat, &lng
	} else {
		record(&issues, "coordinates", err)
	}

	return rec, issues
}

// ExtractAll converts a whole feed.
func (f *FeedExtractor) ExtractAll(feed *targets.Feed) ([]*models.ExtractedRecord, map[string]int) {
	records := make([]*models.ExtractedRecord, 0, len(feed.Listings))
	fieldIssues := make(map[string]int)
	for _, l := range feed.Listings {
		rec, issues := f.Extract(l, feed.ObservedAt)
		for _, is := range issues {
			fieldIssues[is.Field]++
		}
		records = append(records, rec)
	}
	f.logger.Info("[extract] Feed produced %d basic records", len(records))
	return records, fieldIssues
}

// feedPets is true when either cats or dogs are allowed, false when both
// are explicitly disallowed and nil otherwise.
func feedPets(l targets.FeedListing) *bool {
	cats, catsKnown := targets.ParseBool(l.Cats.String())
	dogs, dogsKnown := targets.ParseBool(l.Dogs.String())
	switch {
	case (catsKnown && cats) || (dogsKnown && dogs):
		return ptr(true)
	case catsKnown && dogsKnown:
		return ptr(false)
	}
	return nil
}

func field[T any](issues *[]*models.FieldValidation, name, raw string, parse func(string) (T, error)) *T {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	v, err := parse(raw)
	if err != nil {
		record(issues, name, err)
		return nil
	}
	return &v
}

func record(issues *[]*models.FieldValidation, name string, err error) {
	var fv *models.FieldValidation
	if errors.As(err, &fv) {
		fv.Field = name
		fv.Rule = "feed"
		*issues = append(*issues, fv)
	}
}
