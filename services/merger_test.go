package services

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"rental-scraper/models"
	"rental-scraper/utils"
)

var (
	t0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	t1 = t0.Add(24 * time.Hour)
)

func extracted(city, id string, tier models.SourceTier, at time.Time) *models.ExtractedRecord {
	return &models.ExtractedRecord{CityCode: city, ListingID: id, SourceTier: tier, ExtractedAt: at}
}

func newMerger() *Merger {
	return NewMerger(utils.NewNopLogger())
}

func TestMergeFillsNullsAcrossTiers(t *testing.T) {
	basic := extracted("calgary", "693407", models.TierBasic, t1)
	basic.Price = ptr(1500)
	basic.Beds = ptr(2)
	basic.Title = ptr("Basic title")

	detailed := extracted("calgary", "693407", models.TierDetailed, t0)
	detailed.SqFeet = ptr(850)
	detailed.Title = ptr("Detailed title")

	out, summary := newMerger().Merge([]*models.ExtractedRecord{basic, detailed})
	if len(out) != 1 {
		t.Fatalf("got %d canonical records, want 1", len(out))
	}
	c := out[0]
	if deref(c.Price) != 1500 || deref(c.Beds) != 2 || deref(c.SqFeet) != 850 {
		t.Errorf("price/beds/sq_feet = %v/%v/%v; want 1500/2/850", deref(c.Price), deref(c.Beds), deref(c.SqFeet))
	}
	if deref(c.Title) != "Detailed title" {
		t.Errorf("title = %v; want the detailed value", deref(c.Title))
	}
	if c.SourceTier != models.TierDetailed {
		t.Errorf("SourceTier = %q; want detailed", c.SourceTier)
	}
	want := []string{detailed.RecordID(), basic.RecordID()}
	if !reflect.DeepEqual(c.MergedFrom, want) {
		t.Errorf("MergedFrom = %v; want %v", c.MergedFrom, want)
	}
	if !c.LastSeenAt.Equal(t1) {
		t.Errorf("LastSeenAt = %v; want %v", c.LastSeenAt, t1)
	}
	if summary.Merged != 1 || summary.Output != 1 || summary.Input != 2 {
		t.Errorf("summary = %+v", summary)
	}
}

func TestMergeTieBreak(t *testing.T) {
	older := extracted("calgary", "1", models.TierDetailed, t0)
	older.Price = ptr(1000)
	newer := extracted("calgary", "1", models.TierDetailed, t1)
	newer.Price = ptr(1100)

	out, _ := newMerger().Merge([]*models.ExtractedRecord{older, newer})
	if deref(out[0].Price) != 1100 {
		t.Errorf("price = %v; want the newer 1100", deref(out[0].Price))
	}

	// same tier and time: the smaller record id wins whatever the input
	// order, so an attached record without a listing id ranks first
	keyed := extracted("calgary", "2", models.TierBasic, t0)
	keyed.Title = ptr("keyed")
	unkeyed := extracted("calgary", "", models.TierBasic, t0)
	unkeyed.Title = ptr("unkeyed")
	for _, r := range []*models.ExtractedRecord{keyed, unkeyed} {
		r.Address = ptr("10 Elm St")
		r.Price = ptr(700)
		r.Beds = ptr(1)
	}
	for _, in := range [][]*models.ExtractedRecord{{keyed, unkeyed}, {unkeyed, keyed}} {
		out, _ := newMerger().Merge(in)
		if deref(out[0].Title) != "unkeyed" {
			t.Errorf("title = %v; want unkeyed", deref(out[0].Title))
		}
	}
}

func TestMergeCoordinatesMoveAsPair(t *testing.T) {
	detailed := extracted("calgary", "1", models.TierDetailed, t0)
	detailed.Latitude = ptr(51.0)

	basic := extracted("calgary", "1", models.TierBasic, t0)
	basic.Latitude = ptr(51.1)
	basic.Longitude = ptr(-114.1)

	out, _ := newMerger().Merge([]*models.ExtractedRecord{detailed, basic})
	if deref(out[0].Latitude) != 51.0 || out[0].Longitude != nil {
		t.Errorf("coordinates = %v, %v; want 51, null", deref(out[0].Latitude), deref(out[0].Longitude))
	}
}

func TestMergeIsIdempotent(t *testing.T) {
	build := func() []*models.ExtractedRecord {
		a := extracted("calgary", "1", models.TierBasic, t0)
		a.Price = ptr(1200)
		a.Amenities = []string{"Balcony"}
		b := extracted("calgary", "1", models.TierDetailed, t1)
		b.Beds = ptr(1)
		c := extracted("edmonton", "1", models.TierBasic, t0)
		c.Price = ptr(900)
		return []*models.ExtractedRecord{c, b, a}
	}

	first, _ := newMerger().Merge(build())
	want, err := json.Marshal(first)
	if err != nil {
		t.Fatal(err)
	}

	in := build()
	for i := 0; i < 3; i++ {
		in[0], in[2] = in[2], in[0]
		out, _ := newMerger().Merge(in)
		got, _ := json.Marshal(out)
		if string(got) != string(want) {
			t.Fatalf("merge %d differs:\n%s\nvs\n%s", i, got, want)
		}
	}
}

func TestMergeKeysAreUnique(t *testing.T) {
	var in []*models.ExtractedRecord
	for _, city := range []string{"calgary", "edmonton"} {
		for _, id := range []string{"1", "2", "3"} {
			in = append(in,
				extracted(city, id, models.TierBasic, t0),
				extracted(city, id, models.TierDetailed, t0),
				extracted(city, id, models.TierDetailed, t1))
		}
	}
	out, _ := newMerger().Merge(in)
	if len(out) != 6 {
		t.Fatalf("got %d canonical records, want 6", len(out))
	}
	seen := map[models.TargetKey]bool{}
	for i, c := range out {
		if seen[c.Key()] {
			t.Errorf("duplicate key %s", c.Key())
		}
		seen[c.Key()] = true
		if i > 0 && out[i-1].Key().String() >= c.Key().String() {
			t.Errorf("output not sorted at %d: %s after %s", i, c.Key(), out[i-1].Key())
		}
	}
}

func TestMergeSecondaryKey(t *testing.T) {
	keyed := extracted("calgary", "1", models.TierDetailed, t0)
	keyed.Address = ptr("123 Main St. SW")
	keyed.Price = ptr(1500)
	keyed.Beds = ptr(2)

	unkeyed := extracted("calgary", "", models.TierBasic, t1)
	unkeyed.Address = ptr("123 main st sw")
	unkeyed.Price = ptr(1500)
	unkeyed.Beds = ptr(2)
	unkeyed.SqFeet = ptr(700)

	out, summary := newMerger().Merge([]*models.ExtractedRecord{keyed, unkeyed})
	if len(out) != 1 || summary.Secondary != 1 {
		t.Fatalf("got %d records, %d secondary; want 1, 1", len(out), summary.Secondary)
	}
	if out[0].ListingID != "1" || deref(out[0].SqFeet) != 700 {
		t.Errorf("unkeyed record not merged into calgary/1: %+v", out[0])
	}
}

func TestMergeExclusions(t *testing.T) {
	noCity := extracted("", "9", models.TierBasic, t0)

	a := extracted("calgary", "1", models.TierBasic, t0)
	b := extracted("calgary", "2", models.TierBasic, t0)
	for _, r := range []*models.ExtractedRecord{a, b} {
		r.Address = ptr("1 Elm St")
		r.Price = ptr(1000)
		r.Beds = ptr(1)
	}
	ambiguous := extracted("calgary", "", models.TierBasic, t1)
	ambiguous.Address = ptr("1 Elm St")
	ambiguous.Price = ptr(1000)
	ambiguous.Beds = ptr(1)

	orphan := extracted("calgary", "", models.TierBasic, t1)
	orphan.Address = ptr("99 Nowhere Rd")
	orphan.Price = ptr(1000)
	orphan.Beds = ptr(1)

	bare := extracted("calgary", "", models.TierBasic, t1)

	out, summary := newMerger().Merge([]*models.ExtractedRecord{noCity, a, b, ambiguous, orphan, bare})
	if len(out) != 2 {
		t.Errorf("got %d canonical records, want 2", len(out))
	}
	if summary.Excluded != 4 || len(summary.Exclusions) != 4 {
		t.Fatalf("excluded = %d (%d rows); want 4", summary.Excluded, len(summary.Exclusions))
	}
	for _, f := range summary.Exclusions {
		if f.Kind != models.FailureSchemaViolation || f.Stage != "merge" {
			t.Errorf("exclusion = %+v; want merge schema_violation", f)
		}
	}
	for _, c := range out {
		if c.CityCode == "" || c.ListingID == "" {
			t.Errorf("canonical record without key: %+v", c.Key())
		}
	}
}

func TestMergeDoesNotMutateInput(t *testing.T) {
	detailed := extracted("calgary", "1", models.TierDetailed, t0)
	basic := extracted("calgary", "1", models.TierBasic, t0)
	basic.Price = ptr(1500)
	basic.Utilities = []string{"Heat"}

	before, _ := json.Marshal([]*models.ExtractedRecord{detailed, basic})
	out, _ := newMerger().Merge([]*models.ExtractedRecord{detailed, basic})
	*out[0].Price = 1
	out[0].Utilities[0] = "Gas"

	after, _ := json.Marshal([]*models.ExtractedRecord{detailed, basic})
	if string(before) != string(after) {
		t.Errorf("input mutated:\n%s\nvs\n%s", after, before)
	}
}

func TestMergeEmpty(t *testing.T) {
	out, summary := newMerger().Merge(nil)
	if len(out) != 0 || summary.Output != 0 {
		t.Errorf("Merge(nil) = %d records", len(out))
	}
	data, _ := json.Marshal(out)
	if string(data) != "[]" {
		t.Errorf("empty merge encodes as %s; want []", data)
	}
}
