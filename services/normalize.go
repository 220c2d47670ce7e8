package services

import (
	"errors"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"rental-scraper/models"
)

const (
	minPrice  = 1
	maxPrice  = 100000
	maxBeds   = 20
	maxBaths  = 20.0
	minSqFeet = 100
	maxSqFeet = 20000
)

var (
	// numberRegexp captures a numeric token with optional thousands separators
	numberRegexp = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?`)
	// rangeRegexp captures "A - B", "A–B" and "A to B" with optional currency
	rangeRegexp = regexp.MustCompile(`(\d[\d,]*(?:\.\d+)?)\s*(?:-|–|—|to)\s*\$?\s*(\d[\d,]*(?:\.\d+)?)`)
	// studioRegexp matches listings with no separate bedroom
	studioRegexp = regexp.MustCompile(`(?i)\b(?:studio|bachelor)\b`)
	// integerRegexp captures bare integers
	integerRegexp = regexp.MustCompile(`\d+`)
	// decimalRegexp captures integers and decimals
	decimalRegexp = regexp.MustCompile(`\d+(?:\.\d+)?`)
	// isoDateRegexp matches YYYY-MM-DD anywhere in a string
	isoDateRegexp = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	// ordinalRegexp strips "st", "nd", "rd", "th" after day numbers
	ordinalRegexp = regexp.MustCompile(`(\d{1,2})(?:st|nd|rd|th)\b`)
	// immediateRegexp matches "Immediate", "Available now" and friends
	immediateRegexp = regexp.MustCompile(`(?i)\b(?:immediate(?:ly)?|now|asap|today)\b`)
	// monthRegexp detects a month name, used to reject dates without a year
	monthRegexp = regexp.MustCompile(`(?i)\b(?:jan|feb|mar|apr|may|jun|jul|aug|sep|sept|oct|nov|dec)[a-z]*\.?\s+\d{1,2}\b`)
)

// errAbsent marks a candidate that carries no value at all. It is not a
// validation issue; the next rule is simply tried.
var errAbsent = errors.New("no value")

func invalid(field, raw, reason string) error {
	return &models.FieldValidation{Field: field, Raw: raw, Reason: reason}
}

// ParsePrice parses a monthly rent to whole dollars. Ranges resolve to
// their lower bound; cents are truncated. Valid prices are 1..100000.
// Examples:
//
//	"$1,500/month"   → 1500
//	"$1,200-$1,500"  → 1200
//	"1450.99"        → 1450
func ParsePrice(raw string) (int, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, errAbsent
	}

	var value float64
	if m := rangeRegexp.FindStringSubmatch(s); m != nil {
		lo, err1 := parseNumber(m[1])
		hi, err2 := parseNumber(m[2])
		if err1 != nil || err2 != nil {
			return 0, invalid("price", raw, "unparseable range")
		}
		value = math.Min(lo, hi)
	} else {
		match := numberRegexp.FindString(s)
		if match == "" {
			return 0, errAbsent
		}
		v, err := parseNumber(match)
		if err != nil {
			return 0, invalid("price", raw, "unparseable number")
		}
		value = v
	}

	price := int(value)
	if price < minPrice || price > maxPrice {
		return 0, invalid("price", raw, "out of range 1..100000")
	}
	return price, nil
}

// ParseBeds parses a bedroom count. Studio and bachelor units have 0
// bedrooms; lists and ranges resolve to the lower bound. Non-numeric
// tokens are absent, never zero.
func ParseBeds(raw string) (int, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, errAbsent
	}
	if studioRegexp.MatchString(s) {
		return 0, nil
	}
	matches := integerRegexp.FindAllString(s, -1)
	if len(matches) == 0 {
		return 0, errAbsent
	}
	beds := maxBeds + 1
	for _, m := range matches {
		n, err := strconv.Atoi(m)
		if err == nil && n < beds {
			beds = n
		}
	}
	if beds > maxBeds {
		return 0, invalid("beds", raw, "out of range 0..20")
	}
	return beds, nil
}

// ParseBaths parses a bathroom count, rounded down to the nearest half.
// Lists and ranges resolve to the lower bound.
func ParseBaths(raw string) (float64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, errAbsent
	}
	matches := decimalRegexp.FindAllString(s, -1)
	if len(matches) == 0 {
		return 0, errAbsent
	}
	baths := math.Inf(1)
	for _, m := range matches {
		f, err := strconv.ParseFloat(m, 64)
		if err == nil && f < baths {
			baths = f
		}
	}
	baths = math.Floor(baths*2) / 2
	if baths <= 0 || baths > maxBaths {
		return 0, invalid("baths", raw, "out of range 0.5..20")
	}
	return baths, nil
}

// ParseSqFeet parses floor area in square feet. A comma is read as a
// thousands separator first; if that lands outside 100..20000 the value
// is treated as a list and the lower bound is used.
// Examples:
//
//	"1,200 sq ft" → 1200
//	"650,800"     → 650
func ParseSqFeet(raw string) (int, error) {
	match := numberRegexp.FindString(strings.TrimSpace(raw))
	if match == "" {
		return 0, errAbsent
	}

	if v, err := parseNumber(match); err == nil {
		if n := int(v); n >= minSqFeet && n <= maxSqFeet {
			return n, nil
		}
	}

	lowest := -1
	for _, part := range strings.Split(match, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(strings.SplitN(part, ".", 2)[0]))
		if err != nil {
			continue
		}
		if lowest < 0 || n < lowest {
			lowest = n
		}
	}
	if lowest < minSqFeet || lowest > maxSqFeet {
		return 0, invalid("sq_feet", raw, "out of range 100..20000")
	}
	return lowest, nil
}

// ParseCoordinates parses a latitude/longitude pair and discards it when
// it falls outside the service region. (0,0) is always discarded.
func ParseCoordinates(latRaw, lngRaw string, region models.BoundingBox) (float64, float64, error) {
	latRaw, lngRaw = strings.TrimSpace(latRaw), strings.TrimSpace(lngRaw)
	if latRaw == "" || lngRaw == "" {
		return 0, 0, errAbsent
	}
	raw := latRaw + "," + lngRaw
	lat, err := strconv.ParseFloat(latRaw, 64)
	if err != nil {
		return 0, 0, invalid("coordinates", raw, "unparseable latitude")
	}
	lng, err := strconv.ParseFloat(lngRaw, 64)
	if err != nil {
		return 0, 0, invalid("coordinates", raw, "unparseable longitude")
	}
	if !region.Contains(lat, lng) {
		return 0, 0, invalid("coordinates", raw, "outside service region")
	}
	return lat, lng, nil
}

var availabilityLayouts = []string{
	"2006-01-02",
	"January 2, 2006",
	"January 2 2006",
	"Jan 2, 2006",
	"Jan 2 2006",
	"Jan. 2, 2006",
	"2 January 2006",
	"2006/01/02",
}

// ParseAvailability normalises an availability date to "immediate" or
// YYYY-MM-DD. Dates without a year are rejected rather than guessed.
func ParseAvailability(raw string) (string, error) {
	s := normaliseText(raw)
	if s == "" {
		return "", errAbsent
	}
	if immediateRegexp.MatchString(s) {
		return "immediate", nil
	}

	if m := isoDateRegexp.FindString(s); m != "" {
		if t, err := time.Parse("2006-01-02", m); err == nil {
			return t.Format("2006-01-02"), nil
		}
		return "", invalid("availability_date", raw, "invalid calendar date")
	}

	cleaned := ordinalRegexp.ReplaceAllString(s, "$1")
	cleaned = strings.TrimPrefix(strings.TrimPrefix(cleaned, "Available "), "available ")
	for _, layout := range availabilityLayouts {
		if t, err := time.Parse(layout, cleaned); err == nil {
			return t.Format("2006-01-02"), nil
		}
	}
	if monthRegexp.MatchString(cleaned) {
		return "", invalid("availability_date", raw, "date has no year")
	}
	return "", invalid("availability_date", raw, "unrecognised date")
}

// ParsePets reads the loose yes/no encodings used for pet policies.
func ParsePets(raw string) (bool, error) {
	s := strings.ToLower(normaliseText(raw))
	switch {
	case s == "":
		return false, errAbsent
	case strings.Contains(s, "no pets"), strings.Contains(s, "not allowed"),
		s == "no", s == "false", s == "0", s == "n":
		return false, nil
	case strings.Contains(s, "friendly"), strings.Contains(s, "allowed"),
		strings.HasSuffix(s, " ok"), s == "yes", s == "true", s == "1", s == "y":
		return true, nil
	}
	return false, invalid("pet_friendly", raw, "unrecognised pet policy")
}

var parkingPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(\d+)\s+spots?\s+per\s+unit`),
	regexp.MustCompile(`parking\s+spots[:\s]+(\d+)\s+spot`),
	regexp.MustCompile(`total\s+property\s+parking\s+spots[:\s]+(\d+)`),
	regexp.MustCompile(`(\d+)\s+parking\s+(?:spot|stall|space)s?`),
	regexp.MustCompile(`(\d+)\s+(?:titled|underground|surface|assigned|reserved)\s+parking`),
	regexp.MustCompile(`parking[:\s]+(\d+)`),
	regexp.MustCompile(`(\d+)\s+stalls?\s+included`),
}

var parkingWords = []struct {
	word string
	n    int
}{
	{"one", 1}, {"two", 2}, {"three", 3}, {"four", 4},
	{"five", 5}, {"six", 6}, {"seven", 7}, {"eight", 8},
}

// ParseParking finds a per-unit parking count in free text. Counts of 100
// or more are building totals and are ignored.
func ParseParking(text string) (int, error) {
	s := strings.ToLower(text)
	if strings.TrimSpace(s) == "" {
		return 0, errAbsent
	}
	for _, re := range parkingPatterns {
		m := re.FindStringSubmatch(s)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err == nil && n > 0 && n < 100 {
			return n, nil
		}
	}
	for _, w := range parkingWords {
		if strings.Contains(s, w.word+" parking") || strings.Contains(s, w.word+" stall") {
			return w.n, nil
		}
	}
	return 0, errAbsent
}

// ParseFurnished reads furnished status; "unfurnished" wins over
// "furnished" because it contains it.
func ParseFurnished(text string) (bool, error) {
	s := strings.ToLower(text)
	switch {
	case strings.Contains(s, "unfurnished"):
		return false, nil
	case strings.Contains(s, "furnished"):
		return true, nil
	}
	return false, errAbsent
}

var propertyTypes = []struct {
	keyword string
	name    string
}{
	// more specific names first: "townhouse" contains "house"
	{"townhouse", "Townhouse"},
	{"duplex", "Duplex"},
	{"basement", "Basement"},
	{"condo", "Condo"},
	{"apartment", "Apartment"},
	{"house", "House"},
}

// ParsePropertyType maps free text to one of the known building types.
func ParsePropertyType(raw string) (string, error) {
	s := strings.ToLower(raw)
	if strings.TrimSpace(s) == "" {
		return "", errAbsent
	}
	for _, pt := range propertyTypes {
		if strings.Contains(s, pt.keyword) {
			return pt.name, nil
		}
	}
	return "", errAbsent
}

// NormaliseSet trims, collapses whitespace, dedupes case-insensitively and
// sorts. An empty result is nil so it encodes as null.
func NormaliseSet(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	var out []string
	for _, it := range items {
		it = normaliseText(it)
		if it == "" {
			continue
		}
		key := strings.ToLower(it)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, it)
	}
	sort.Strings(out)
	return out
}

// NormaliseAddress is the comparison form of an address used by the
// secondary merge key.
func NormaliseAddress(s string) string {
	s = strings.ToLower(s)
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			return r
		}
		return ' '
	}, s)
	return normaliseText(s)
}

func parseNumber(s string) (float64, error) {
	return strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
}

// normaliseText strips leading/trailing whitespace and collapses internal whitespace.
func normaliseText(s string) string {
	s = strings.TrimSpace(s)
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return unicode.IsSpace(r)
	})
	return strings.Join(fields, " ")
}

func ptr[T any](v T) *T { return &v }
