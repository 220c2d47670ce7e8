package services

import (
	"testing"
	"time"

	"rental-scraper/models"
	"rental-scraper/targets"
	"rental-scraper/utils"
)

func TestFeedExtract(t *testing.T) {
	observed := time.Date(2024, 2, 1, 8, 30, 0, 0, time.FixedZone("MST", -7*3600))
	l := targets.FeedListing{
		RefID:        "693407",
		CityCode:     "calgary",
		Title:        "Beltline 2 bed",
		Intro:        "Bright two bedroom near 17th Ave, heat and water included.",
		Address:      "1234 12 Ave SW",
		Community:    "Beltline",
		City:         "Calgary",
		Availability: "Immediate",
		Price:        "1500",
		Beds:         "2",
		Baths:        "1",
		SqFeet:       "",
		Cats:         "1",
		Dogs:         "0",
		Latitude:     "51.0375",
		Longitude:    "-114.0801",
		Type:         "Apartment",
	}

	rec, issues := NewFeedExtractor(canada, utils.NewNopLogger()).Extract(l, observed)
	if len(issues) != 0 {
		t.Errorf("unexpected issues: %v", issues)
	}
	if rec.SourceTier != models.TierBasic {
		t.Errorf("SourceTier = %q; want basic", rec.SourceTier)
	}
	if rec.Key() != (models.TargetKey{CityCode: "calgary", ListingID: "693407"}) {
		t.Errorf("Key = %s", rec.Key())
	}
	if !rec.ExtractedAt.Equal(observed) || rec.ExtractedAt.Location() != time.UTC {
		t.Errorf("ExtractedAt = %v; want %v in UTC", rec.ExtractedAt, observed.UTC())
	}
	if rec.Price == nil || *rec.Price != 1500 {
		t.Errorf("price = %v; want 1500", deref(rec.Price))
	}
	if rec.Beds == nil || *rec.Beds != 2 {
		t.Errorf("beds = %v; want 2", deref(rec.Beds))
	}
	if rec.SqFeet != nil {
		t.Errorf("sq_feet = %d; want null", *rec.SqFeet)
	}
	if rec.AvailabilityDate == nil || *rec.AvailabilityDate != "immediate" {
		t.Errorf("availability = %v; want immediate", deref(rec.AvailabilityDate))
	}
	if rec.PetFriendly == nil || !*rec.PetFriendly {
		t.Errorf("pet_friendly = %v; want true", deref(rec.PetFriendly))
	}
	if rec.Description == nil {
		t.Error("description should come from the intro")
	}
	if rec.Latitude == nil || rec.Longitude == nil {
		t.Error("coordinates should be set")
	}
}

func TestFeedExtractRejectsBadValues(t *testing.T) {
	l := targets.FeedListing{
		RefID:     "1",
		CityCode:  "edmonton",
		Price:     "0",
		Latitude:  "0",
		Longitude: "0",
	}
	rec, issues := NewFeedExtractor(canada, utils.NewNopLogger()).Extract(l, time.Now())
	if rec.Price != nil {
		t.Errorf("price = %d; want null", *rec.Price)
	}
	if rec.Latitude != nil || rec.Longitude != nil {
		t.Error("(0,0) coordinates should be dropped")
	}

	fields := map[string]bool{}
	for _, is := range issues {
		fields[is.Field] = true
		if is.Rule != "feed" {
			t.Errorf("issue rule = %q; want feed", is.Rule)
		}
	}
	if !fields["price"] || !fields["coordinates"] {
		t.Errorf("issues = %v; want price and coordinates", issues)
	}
}

func TestFeedPets(t *testing.T) {
	tests := []struct {
		cats, dogs string
		want       any
	}{
		{"1", "0", true},
		{"0", "1", true},
		{"0", "0", false},
		{"0", "", nil},
		{"", "", nil},
	}
	for _, tt := range tests {
		got := feedPets(targets.FeedListing{Cats: targets.FlexString(tt.cats), Dogs: targets.FlexString(tt.dogs)})
		if deref(got) != tt.want {
			t.Errorf("feedPets(%q, %q) = %v; want %v", tt.cats, tt.dogs, deref(got), tt.want)
		}
	}
}

func TestFeedExtractAllUsesObservedAt(t *testing.T) {
	observed := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	feed := &targets.Feed{
		ObservedAt: observed,
		Listings: []targets.FeedListing{
			{RefID: "1", CityCode: "calgary", Price: "900"},
			{RefID: "2", City: "Red Deer", Beds: "forty"},
		},
	}
	records, issues := NewFeedExtractor(canada, utils.NewNopLogger()).ExtractAll(feed)
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	for _, r := range records {
		if !r.ExtractedAt.Equal(observed) {
			t.Errorf("%s ExtractedAt = %v; want %v", r.Key(), r.ExtractedAt, observed)
		}
	}
	if records[1].CityCode != "red_deer" {
		t.Errorf("city_code = %q; want red_deer", records[1].CityCode)
	}
	if issues["beds"] != 0 {
		t.Errorf("beds with no digits is absent, not rejected: %v", issues)
	}
}
