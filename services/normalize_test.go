package services

import (
	"errors"
	"reflect"
	"testing"

	"rental-scraper/models"
)

var canada = models.BoundingBox{MinLat: 41, MaxLat: 84, MinLng: -141.5, MaxLng: -52}

// outcome is what a parser did with its input.
type outcome int

const (
	valid outcome = iota
	absent
	rejected
)

func classify(err error) outcome {
	var fv *models.FieldValidation
	switch {
	case err == nil:
		return valid
	case errors.Is(err, errAbsent):
		return absent
	case errors.As(err, &fv):
		return rejected
	}
	return -1
}

func TestParsePrice(t *testing.T) {
	tests := []struct {
		raw  string
		want int
		out  outcome
	}{
		{"$1,500", 1500, valid},
		{"$1,500/month", 1500, valid},
		{"$1,200-$1,500", 1200, valid},
		{"$1,500 – $1,200", 1200, valid},
		{"1200 to 1400", 1200, valid},
		{"1450.99", 1450, valid},
		{"CAD 975", 975, valid},
		{"", 0, absent},
		{"Call for price", 0, absent},
		{"$0", 0, rejected},
		{"$250,000", 0, rejected},
	}

	for _, tt := range tests {
		got, err := ParsePrice(tt.raw)
		if o := classify(err); o != tt.out {
			t.Errorf("ParsePrice(%q) outcome = %d; want %d (err %v)", tt.raw, o, tt.out, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParsePrice(%q) = %d; want %d", tt.raw, got, tt.want)
		}
	}
}

func TestParseBeds(t *testing.T) {
	tests := []struct {
		raw  string
		want int
		out  outcome
	}{
		{"2", 2, valid},
		{"2 Bedrooms", 2, valid},
		{"Studio", 0, valid},
		{"bachelor", 0, valid},
		{"1, 2", 1, valid},
		{"3 - 4", 3, valid},
		{"den", 0, absent},
		{"", 0, absent},
		{"45", 0, rejected},
	}
	for _, tt := range tests {
		got, err := ParseBeds(tt.raw)
		if o := classify(err); o != tt.out {
			t.Errorf("ParseBeds(%q) outcome = %d; want %d", tt.raw, o, tt.out)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseBeds(%q) = %d; want %d", tt.raw, got, tt.want)
		}
	}
}

func TestParseBaths(t *testing.T) {
	tests := []struct {
		raw  string
		want float64
		out  outcome
	}{
		{"1", 1, valid},
		{"1.5", 1.5, valid},
		{"2.5 Baths", 2.5, valid},
		{"1.75", 1.5, valid},
		{"1, 2", 1, valid},
		{"none", 0, absent},
		{"0", 0, rejected},
	}
	for _, tt := range tests {
		got, err := ParseBaths(tt.raw)
		if o := classify(err); o != tt.out {
			t.Errorf("ParseBaths(%q) outcome = %d; want %d", tt.raw, o, tt.out)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseBaths(%q) = %.2f; want %.2f", tt.raw, got, tt.want)
		}
	}
}

func TestParseSqFeet(t *testing.T) {
	tests := []struct {
		raw  string
		want int
		out  outcome
	}{
		{"850", 850, valid},
		{"1,200 sq ft", 1200, valid},
		{"650,800", 650, valid},
		{"12,000", 12000, valid},
		{"50", 0, rejected},
		{"n/a", 0, absent},
	}
	for _, tt := range tests {
		got, err := ParseSqFeet(tt.raw)
		if o := classify(err); o != tt.out {
			t.Errorf("ParseSqFeet(%q) outcome = %d; want %d", tt.raw, o, tt.out)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseSqFeet(%q) = %d; want %d", tt.raw, got, tt.want)
		}
	}
}

func TestParseCoordinates(t *testing.T) {
	tests := []struct {
		lat, lng string
		out      outcome
	}{
		{"51.0447", "-114.0719", valid},
		{"0", "0", rejected},
		{"0.0", "0.0", rejected},
		{"48.8566", "2.3522", rejected},
		{"abc", "-114", rejected},
		{"", "-114", absent},
	}
	for _, tt := range tests {
		lat, lng, err := ParseCoordinates(tt.lat, tt.lng, canada)
		if o := classify(err); o != tt.out {
			t.Errorf("ParseCoordinates(%q, %q) outcome = %d; want %d", tt.lat, tt.lng, o, tt.out)
			continue
		}
		if tt.out == valid && (lat == 0 || lng == 0) {
			t.Errorf("ParseCoordinates(%q, %q) = %v, %v", tt.lat, tt.lng, lat, lng)
		}
	}
}

func TestParseAvailability(t *testing.T) {
	tests := []struct {
		raw  string
		want string
		out  outcome
	}{
		{"Immediate", "immediate", valid},
		{"Available Now", "immediate", valid},
		{"2024-05-01", "2024-05-01", valid},
		{"May 1, 2024", "2024-05-01", valid},
		{"June 15th, 2024", "2024-06-15", valid},
		{"Jun 15 2024", "2024-06-15", valid},
		{"November 1, 2024", "2024-11-01", valid},
		{"May 1", "", rejected},
		{"2024-02-30", "", rejected},
		{"soonish", "", rejected},
		{"", "", absent},
	}
	for _, tt := range tests {
		got, err := ParseAvailability(tt.raw)
		if o := classify(err); o != tt.out {
			t.Errorf("ParseAvailability(%q) outcome = %d; want %d (err %v)", tt.raw, o, tt.out, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseAvailability(%q) = %q; want %q", tt.raw, got, tt.want)
		}
	}
}

func TestParsePets(t *testing.T) {
	tests := []struct {
		raw  string
		want bool
		out  outcome
	}{
		{"Pet Friendly", true, valid},
		{"Cats OK", true, valid},
		{"Dogs allowed", true, valid},
		{"No pets", false, valid},
		{"Pets not allowed", false, valid},
		{"true", true, valid},
		{"negotiable", false, rejected},
	}
	for _, tt := range tests {
		got, err := ParsePets(tt.raw)
		if o := classify(err); o != tt.out {
			t.Errorf("ParsePets(%q) outcome = %d; want %d", tt.raw, o, tt.out)
			continue
		}
		if got != tt.want {
			t.Errorf("ParsePets(%q) = %v; want %v", tt.raw, got, tt.want)
		}
	}
}

func TestParseParking(t *testing.T) {
	tests := []struct {
		text string
		want int
		out  outcome
	}{
		{"Includes 2 spots per unit", 2, valid},
		{"Parking Spots: 1 spot", 1, valid},
		{"Total Property Parking Spots: 3", 3, valid},
		{"comes with 2 parking stalls", 2, valid},
		{"1 underground parking", 1, valid},
		{"Parking: 2", 2, valid},
		{"1 stall included", 1, valid},
		{"two parking stalls available", 2, valid},
		{"building has 800 parking spots", 0, absent},
		{"street parking only", 0, absent},
	}
	for _, tt := range tests {
		got, err := ParseParking(tt.text)
		if o := classify(err); o != tt.out {
			t.Errorf("ParseParking(%q) outcome = %d; want %d", tt.text, o, tt.out)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseParking(%q) = %d; want %d", tt.text, got, tt.want)
		}
	}
}

func TestParsePropertyType(t *testing.T) {
	tests := []struct {
		raw, want string
	}{
		{"Apartment", "Apartment"},
		{"2 Bedroom Townhouse in Beltline", "Townhouse"},
		{"Basement suite", "Basement"},
		{"house", "House"},
		{"Condo Unit", "Condo"},
		{"Loft", ""},
	}
	for _, tt := range tests {
		got, _ := ParsePropertyType(tt.raw)
		if got != tt.want {
			t.Errorf("ParsePropertyType(%q) = %q; want %q", tt.raw, got, tt.want)
		}
	}
}

func TestParseFurnished(t *testing.T) {
	if v, err := ParseFurnished("Unfurnished unit"); err != nil || v {
		t.Errorf("ParseFurnished(unfurnished) = %v, %v; want false, nil", v, err)
	}
	if v, err := ParseFurnished("Fully Furnished"); err != nil || !v {
		t.Errorf("ParseFurnished(furnished) = %v, %v; want true, nil", v, err)
	}
	if _, err := ParseFurnished("nothing here"); !errors.Is(err, errAbsent) {
		t.Errorf("ParseFurnished(no mention) err = %v; want errAbsent", err)
	}
}

func TestNormaliseSet(t *testing.T) {
	got := NormaliseSet([]string{" Water", "Heat", "water ", "", "Electricity"})
	want := []string{"Electricity", "Heat", "Water"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("NormaliseSet = %v; want %v", got, want)
	}
	if NormaliseSet(nil) != nil {
		t.Error("NormaliseSet(nil) should be nil")
	}
}

func TestNormaliseAddress(t *testing.T) {
	a := NormaliseAddress("123 Main St., SW")
	b := NormaliseAddress("123  main st sw")
	if a != b {
		t.Errorf("NormaliseAddress mismatch: %q vs %q", a, b)
	}
}
