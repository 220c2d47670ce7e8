package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"rental-scraper/models"
	"rental-scraper/utils"
)

var (
	priceTextRegexp   = regexp.MustCompile(`\$\s?\d[\d,]*(?:\.\d{2})?(?:\s*(?:-|–|to)\s*\$\s?\d[\d,]*(?:\.\d{2})?)?`)
	bedsTextRegexp    = regexp.MustCompile(`(?i)\b(\d+)\s*(?:bedrooms?|beds?|bd)\b`)
	bathsTextRegexp   = regexp.MustCompile(`(?i)\b(\d+(?:\.\d)?)\s*(?:bathrooms?|baths?|ba)\b`)
	sqFeetTextRegexp  = regexp.MustCompile(`(?i)\b(\d[\d,]*)\s*(?:sq\.?\s*ft\.?|sqft|square\s+feet|ft²)`)
	availTextRegexp   = regexp.MustCompile(`(?i)\bavailable(?:\s+date)?\s*[:\-]?\s*(immediately|immediate|now|\d{4}-\d{2}-\d{2}|[a-z]{3,9}\.?\s+\d{1,2}(?:st|nd|rd|th)?,?(?:\s+\d{4})?)`)
	petsTextRegexp    = regexp.MustCompile(`(?i)\b(no pets|pets?\s+(?:friendly|allowed|ok)|(?:cats?|dogs?)\s+(?:ok|allowed|friendly))\b`)
	communityRegexp   = regexp.MustCompile(`(?im)^community\s*:?\s+(.{2,60})$`)
	descriptionRegexp = regexp.MustCompile(`(?is)(?:description|about this property)[:\s]+(.+?)(?:features|amenities|contact|$)`)
	latMarkupRegexp   = regexp.MustCompile(`"(?:latitude|lat)"\s*:\s*"?(-?\d+(?:\.\d+)?)`)
	lngMarkupRegexp   = regexp.MustCompile(`"(?:longitude|lng|lon)"\s*:\s*"?(-?\d+(?:\.\d+)?)`)
	countSuffixRegexp = regexp.MustCompile(`\(\d+\)$`)
)

const (
	minDescriptionLen   = 20
	maxFallbackDescLen  = 1000
	maxTitleLen         = 300
	maxAmenityLineLen   = 50
	floorPlanSelector   = ".units-wrap .card.block"
	utilitiesHeading    = "Utilities Included"
	amenitiesHeading    = "Features & Amenities"
	parkingHeading      = "Parking Spots"
	ldJSONSelector      = `script[type="application/ld+json"]`
	detailedDescription = ".listing-description, .description, [class*=\"description\"], .property-description, #description"
)

var utilityNames = []string{"Heat", "Water", "Electricity", "Hydro", "Gas", "Internet", "Cable", "Sewer"}

var amenityKeywords = []string{
	"gym", "fitness", "pool", "laundry", "balcony", "patio",
	"dishwasher", "air conditioning", "elevator", "storage",
	"bike room", "concierge", "security", "guest suite",
}

// amenitySectionHeaders are sub-headings inside the amenities block.
var amenitySectionHeaders = map[string]bool{"Property": true, "Building": true, "Neighbourhood": true}

// ldSkipTypes are JSON-LD objects describing the site rather than the listing.
var ldSkipTypes = map[string]bool{
	"Organization": true, "WebSite": true, "WebPage": true, "BreadcrumbList": true,
	"SearchAction": true, "ImageObject": true, "Person": true, "SiteNavigationElement": true,
}

// Extractor turns one raw capture into one extracted record. It holds no
// mutable state and is safe for concurrent use.
type Extractor struct {
	region   models.BoundingBox
	maxBytes int
	logger   *utils.Logger
}

func NewExtractor(region models.BoundingBox, maxMarkupBytes int, logger *utils.Logger) *Extractor {
	return &Extractor{region: region, maxBytes: maxMarkupBytes, logger: logger}
}

// page is the parsed view of a capture that field rules read from.
type page struct {
	doc    *goquery.Document
	body   *goquery.Selection
	text   string
	markup string
	url    string
	ld     []map[string]any
	meta   map[string]string
}

type rule struct {
	name string
	get  func(p *page) string
}

// Extract parses c. Only markup that cannot be parsed at all is an error;
// fields with no valid candidate are left nil and reported as issues.
func (e *Extractor) Extract(c *models.RawCapture) (*models.ExtractedRecord, []*models.FieldValidation, error) {
	p, err := e.parse(c)
	if err != nil {
		return nil, nil, err
	}

	var issues []*models.FieldValidation
	rec := &models.ExtractedRecord{
		CityCode:    c.CityCode,
		ListingID:   c.ListingID,
		SourceTier:  models.TierDetailed,
		ExtractedAt: c.FetchedAt.UTC(),
	}

	rec.Title = resolve(&issues, "title", p, titleRules, parseTitle)
	rec.Price = resolve(&issues, "price", p, priceRules, ParsePrice)
	rec.Beds = resolve(&issues, "beds", p, bedsRules, ParseBeds)
	rec.Baths = resolve(&issues, "baths", p, bathsRules, ParseBaths)
	rec.SqFeet = resolve(&issues, "sq_feet", p, sqFeetRules, ParseSqFeet)
	rec.Address = resolve(&issues, "address", p, addressRules, parseShortText)
	rec.Community = resolve(&issues, "community", p, communityRules, parseShortText)
	rec.City = resolve(&issues, "city", p, cityRules, parseShortText)
	rec.Latitude, rec.Longitude = e.coordinates(&issues, p)
	rec.AvailabilityDate = resolve(&issues, "availability_date", p, availabilityRules, ParseAvailability)
	rec.PetFriendly = resolve(&issues, "pet_friendly", p, petsRules, ParsePets)
	rec.Utilities = utilities(p)
	rec.Amenities = amenities(p)
	rec.Furnished = resolve(&issues, "furnished", p, furnishedRules, ParseFurnished)
	rec.ParkingSpots = resolve(&issues, "parking_spots", p, parkingRules, ParseParking)
	rec.Description = resolve(&issues, "description", p, descriptionRules, parseDescription)
	rec.PropertyType = resolve(&issues, "property_type", p, propertyTypeRules, ParsePropertyType)

	for _, is := range issues {
		e.logger.Debug("[extract] %s: %v", c.Key(), is)
	}
	return rec, issues, nil
}

func (e *Extractor) parse(c *models.RawCapture) (*page, error) {
	k := c.Key()
	switch {
	case strings.TrimSpace(c.Markup) == "":
		return nil, &models.MalformedMarkup{Key: k, Reason: "empty document"}
	case e.maxBytes > 0 && len(c.Markup) > e.maxBytes:
		return nil, &models.MalformedMarkup{Key: k, Reason: fmt.Sprintf("document exceeds %d bytes", e.maxBytes)}
	case strings.IndexByte(c.Markup, 0) >= 0 || !utf8.ValidString(c.Markup):
		return nil, &models.MalformedMarkup{Key: k, Reason: "binary content"}
	}

	root, err := html.Parse(strings.NewReader(c.Markup))
	if err != nil {
		return nil, &models.MalformedMarkup{Key: k, Reason: err.Error()}
	}
	doc := goquery.NewDocumentFromNode(root)
	body := doc.Find("body").First()

	p := &page{
		doc:    doc,
		body:   body,
		text:   visibleText(body.Nodes...),
		markup: c.Markup,
		url:    c.URL,
		meta:   metaTags(doc),
		ld:     jsonLD(doc),
	}
	if body.Find("*").Length() == 0 && p.text == "" {
		return nil, &models.MalformedMarkup{Key: k, Reason: "no elements or text"}
	}
	return p, nil
}

// resolve runs rules in order and returns the first candidate that parses.
func resolve[T any](issues *[]*models.FieldValidation, field string, p *page, rules []rule, parse func(string) (T, error)) *T {
	for _, r := range rules {
		raw := r.get(p)
		if strings.TrimSpace(raw) == "" {
			continue
		}
		v, err := parse(raw)
		if err == nil {
			return &v
		}
		var fv *models.FieldValidation
		if errors.As(err, &fv) {
			fv.Field = field
			fv.Rule = r.name
			*issues = append(*issues, fv)
		}
	}
	return nil
}

func (e *Extractor) coordinates(issues *[]*models.FieldValidation, p *page) (*float64, *float64) {
	pairs := []struct {
		name     string
		lat, lng string
	}{
		{"jsonld.geo", ldString(p, "geo", "latitude"), ldString(p, "geo", "longitude")},
		{"jsonld", ldString(p, "latitude"), ldString(p, "longitude")},
		{"meta.place", p.meta["place:location:latitude"], p.meta["place:location:longitude"]},
		{"meta.og", p.meta["og:latitude"], p.meta["og:longitude"]},
		{"data-lat", attr(p, "[data-lat]", "data-lat"), attr(p, "[data-lng]", "data-lng")},
		{"data-latitude", attr(p, "[data-latitude]", "data-latitude"), attr(p, "[data-longitude]", "data-longitude")},
		{"markup", submatch(latMarkupRegexp, p.markup), submatch(lngMarkupRegexp, p.markup)},
	}
	for _, c := range pairs {
		if c.lat == "" || c.lng == "" {
			continue
		}
		lat, lng, err := ParseCoordinates(c.lat, c.lng, e.region)
		if err == nil {
			return &lat, &lng
		}
		var fv *models.FieldValidation
		if errors.As(err, &fv) {
			fv.Rule = c.name
			*issues = append(*issues, fv)
		}
	}
	return nil, nil
}

var titleRules = []rule{
	{"jsonld.name", func(p *page) string { return ldString(p, "name") }},
	{"meta.og:title", func(p *page) string { return p.meta["og:title"] }},
	{"h1", func(p *page) string { return selText(p, "h1") }},
	{"title", func(p *page) string { return p.doc.Find("title").First().Text() }},
}

var priceRules = []rule{
	{"jsonld.offers.price", func(p *page) string { return ldString(p, "offers", "price") }},
	{"jsonld.price", func(p *page) string { return ldString(p, "price") }},
	{"meta.price", func(p *page) string { return p.meta["product:price:amount"] }},
	{"data-price", func(p *page) string { return attr(p, "[data-price]", "data-price") }},
	{"selector.price", func(p *page) string { return selText(p, ".price, [class*=\"price\"]") }},
	{"text.dollar", func(p *page) string { return priceTextRegexp.FindString(p.text) }},
}

var bedsRules = []rule{
	{"jsonld.numberOfBedrooms", func(p *page) string { return ldString(p, "numberOfBedrooms") }},
	{"jsonld.numberOfRooms", func(p *page) string { return ldString(p, "numberOfRooms") }},
	{"data-beds", func(p *page) string { return attr(p, "[data-beds]", "data-beds") }},
	{"floorplan", func(p *page) string {
		plan := floorPlanText(p)
		if studioRegexp.MatchString(plan) {
			return "studio"
		}
		return firstMatch(bedsTextRegexp, plan)
	}},
	{"title.studio", func(p *page) string {
		if studioRegexp.MatchString(titleText(p)) {
			return "studio"
		}
		return ""
	}},
	{"text.bedrooms", func(p *page) string { return firstMatch(bedsTextRegexp, p.text) }},
}

var bathsRules = []rule{
	{"jsonld.numberOfBathroomsTotal", func(p *page) string { return ldString(p, "numberOfBathroomsTotal") }},
	{"jsonld.numberOfFullBathrooms", func(p *page) string { return ldString(p, "numberOfFullBathrooms") }},
	{"data-baths", func(p *page) string { return attr(p, "[data-baths]", "data-baths") }},
	{"floorplan", func(p *page) string { return firstMatch(bathsTextRegexp, floorPlanText(p)) }},
	{"text.bathrooms", func(p *page) string { return firstMatch(bathsTextRegexp, p.text) }},
}

var sqFeetRules = []rule{
	{"jsonld.floorSize", func(p *page) string { return ldString(p, "floorSize") }},
	{"data-sqft", func(p *page) string { return attr(p, "[data-sqft]", "data-sqft") }},
	{"floorplan", func(p *page) string { return firstMatch(sqFeetTextRegexp, floorPlanText(p)) }},
	{"text.sqft", func(p *page) string { return firstMatch(sqFeetTextRegexp, p.text) }},
}

var addressRules = []rule{
	{"jsonld.streetAddress", func(p *page) string { return ldString(p, "address", "streetAddress") }},
	{"jsonld.address", func(p *page) string { return ldString(p, "address") }},
	{"itemprop", func(p *page) string { return selText(p, "[itemprop=\"streetAddress\"]") }},
	{"selector.address", func(p *page) string { return selText(p, ".address, [class*=\"address\"]") }},
	{"meta.street-address", func(p *page) string { return p.meta["og:street-address"] }},
}

var communityRules = []rule{
	{"data-community", func(p *page) string { return attr(p, "[data-community]", "data-community") }},
	{"selector.community", func(p *page) string { return selText(p, ".community, [class*=\"community\"]") }},
	{"text.community", func(p *page) string { return submatch(communityRegexp, p.text) }},
}

var cityRules = []rule{
	{"jsonld.addressLocality", func(p *page) string { return ldString(p, "address", "addressLocality") }},
	{"itemprop", func(p *page) string { return selText(p, "[itemprop=\"addressLocality\"]") }},
	{"meta.locality", func(p *page) string { return p.meta["og:locality"] }},
	{"data-city", func(p *page) string { return attr(p, "[data-city]", "data-city") }},
}

var availabilityRules = []rule{
	{"jsonld.availabilityStarts", func(p *page) string { return ldString(p, "offers", "availabilityStarts") }},
	{"data-available", func(p *page) string { return attr(p, "[data-available]", "data-available") }},
	{"selector.availability", func(p *page) string { return selText(p, ".availability, [class*=\"availab\"]") }},
	{"text.available", func(p *page) string { return submatch(availTextRegexp, p.text) }},
}

var petsRules = []rule{
	{"jsonld.petsAllowed", func(p *page) string { return ldString(p, "petsAllowed") }},
	{"data-pets", func(p *page) string { return attr(p, "[data-pets]", "data-pets") }},
	{"text.pets", func(p *page) string { return submatch(petsTextRegexp, p.text) }},
}

var furnishedRules = []rule{
	{"floorplan", floorPlanText},
	{"text", func(p *page) string { return p.text }},
}

var parkingRules = []rule{
	{"section.parking", func(p *page) string { return sectionText(p, parkingHeading) }},
	{"text", func(p *page) string { return p.text }},
}

var descriptionRules = []rule{
	{"jsonld.description", func(p *page) string { return ldString(p, "description") }},
	{"selector.description", func(p *page) string {
		var found string
		p.body.Find(detailedDescription).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if t := normaliseText(visibleText(s.Nodes...)); len(t) > minDescriptionLen {
				found = t
				return false
			}
			return true
		})
		return found
	}},
	{"meta.description", func(p *page) string {
		if d := p.meta["og:description"]; d != "" {
			return d
		}
		return p.meta["description"]
	}},
	{"text.description", func(p *page) string {
		d := submatch(descriptionRegexp, p.text)
		if utf8.RuneCountInString(d) > maxFallbackDescLen {
			d = string([]rune(d)[:maxFallbackDescLen])
		}
		return d
	}},
}

var propertyTypeRules = []rule{
	{"jsonld.@type", func(p *page) string { return ldString(p, "@type") }},
	{"data-type", func(p *page) string { return attr(p, "[data-type]", "data-type") }},
	{"selector.type", func(p *page) string { return selText(p, ".property-type, [class*=\"property-type\"]") }},
	{"title", titleText},
	{"url", func(p *page) string { return rentalsPathSegment(p.url) }},
}

func parseTitle(raw string) (string, error) {
	t := normaliseText(raw)
	if i := strings.Index(t, " | "); i > 0 {
		t = t[:i]
	}
	t = strings.TrimSuffix(t, " - RentFaster.ca")
	if t == "" {
		return "", errAbsent
	}
	if utf8.RuneCountInString(t) > maxTitleLen {
		return "", invalid("title", raw, "longer than 300 characters")
	}
	return t, nil
}

func parseShortText(raw string) (string, error) {
	t := normaliseText(raw)
	if t == "" {
		return "", errAbsent
	}
	if utf8.RuneCountInString(t) > 200 {
		return "", invalid("", raw, "longer than 200 characters")
	}
	return t, nil
}

func parseDescription(raw string) (string, error) {
	t := normaliseText(raw)
	if len(t) <= minDescriptionLen {
		return "", errAbsent
	}
	return t, nil
}

// utilities reads the "Utilities Included" block, falling back to utility
// names mentioned on lines that say something is included or paid.
func utilities(p *page) []string {
	var out []string
	if section := sectionText(p, utilitiesHeading); section != "" {
		lower := strings.ToLower(section)
		for _, u := range utilityNames {
			if containsWord(lower, strings.ToLower(u)) {
				out = append(out, u)
			}
		}
		return NormaliseSet(out)
	}

	for _, line := range strings.Split(strings.ToLower(p.text), "\n") {
		if !strings.Contains(line, "included") && !strings.Contains(line, "paid") {
			continue
		}
		for _, u := range utilityNames {
			if containsWord(line, strings.ToLower(u)) {
				out = append(out, u)
			}
		}
	}
	return NormaliseSet(out)
}

// amenities reads the lines following the "Features & Amenities" heading,
// falling back to a keyword scan of the page.
func amenities(p *page) []string {
	var out []string
	if lines := followingText(p, amenitiesHeading); lines != "" {
		for _, line := range strings.Split(lines, "\n") {
			line = normaliseText(line)
			if len(line) <= 2 || len(line) >= maxAmenityLineLen || amenitySectionHeaders[line] {
				continue
			}
			if countSuffixRegexp.MatchString(line) {
				continue
			}
			out = append(out, line)
		}
		if len(out) > 0 {
			return NormaliseSet(out)
		}
	}

	lower := strings.ToLower(p.text)
	for _, kw := range amenityKeywords {
		if containsWord(lower, kw) {
			out = append(out, titleCase(kw))
		}
	}
	return NormaliseSet(out)
}

// visibleText renders nodes as text, one block element per line, with
// script and style content dropped.
func visibleText(nodes ...*html.Node) string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
			return
		case html.CommentNode:
			return
		case html.ElementNode:
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript, atom.Template, atom.Svg, atom.Head:
				return
			}
		}
		block := isBlock(n)
		if block {
			b.WriteByte('\n')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if block {
			b.WriteByte('\n')
		}
	}
	for _, n := range nodes {
		walk(n)
	}

	var lines []string
	for _, line := range strings.Split(b.String(), "\n") {
		if line = normaliseText(line); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

func isBlock(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	switch n.DataAtom {
	case atom.P, atom.Div, atom.Li, atom.Ul, atom.Ol, atom.Tr, atom.Td, atom.Th,
		atom.Table, atom.Section, atom.Article, atom.Header, atom.Footer, atom.Nav,
		atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6, atom.Br, atom.Dd,
		atom.Dt, atom.Dl, atom.Main, atom.Aside, atom.Form, atom.Label, atom.Body:
		return true
	}
	return false
}

func ownText(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	return b.String()
}

// headingElement finds the first element whose own text contains heading.
func headingElement(p *page, heading string) *goquery.Selection {
	needle := strings.ToLower(heading)
	var found *goquery.Selection
	p.body.Find("*").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if strings.Contains(strings.ToLower(ownText(s.Nodes[0])), needle) {
			found = s
			return false
		}
		return true
	})
	return found
}

// sectionText is the text of the element that contains heading's parent.
func sectionText(p *page, heading string) string {
	h := headingElement(p, heading)
	if h == nil {
		return ""
	}
	return visibleText(h.Parent().Nodes...)
}

// followingText is the text of the element right after heading.
func followingText(p *page, heading string) string {
	h := headingElement(p, heading)
	if h == nil {
		return ""
	}
	next := h.Next()
	if next.Length() == 0 {
		next = h.Parent().Next()
	}
	return visibleText(next.Nodes...)
}

func floorPlanText(p *page) string {
	return visibleText(p.body.Find(floorPlanSelector).First().Nodes...)
}

func titleText(p *page) string {
	if t := selText(p, "h1"); t != "" {
		return t
	}
	return p.doc.Find("title").First().Text()
}

func selText(p *page, selector string) string {
	var found string
	p.body.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if t := normaliseText(s.Text()); t != "" {
			found = t
			return false
		}
		return true
	})
	return found
}

func attr(p *page, selector, name string) string {
	v, _ := p.doc.Find(selector).First().Attr(name)
	return strings.TrimSpace(v)
}

func firstMatch(re *regexp.Regexp, s string) string {
	return re.FindString(s)
}

func submatch(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if len(m) < 2 {
		return ""
	}
	return strings.TrimSpace(m[1])
}

func containsWord(s, word string) bool {
	for i := 0; ; {
		j := strings.Index(s[i:], word)
		if j < 0 {
			return false
		}
		start, end := i+j, i+j+len(word)
		before := start == 0 || !isWordByte(s[start-1])
		after := end == len(s) || !isWordByte(s[end])
		if before && after {
			return true
		}
		i = start + 1
	}
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// rentalsPathSegment returns the URL path segment after "rentals", which
// names the property type on listing URLs.
func rentalsPathSegment(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, part := range parts {
		if part == "rentals" && i+1 < len(parts) {
			return parts[i+1]
		}
	}
	return ""
}

func metaTags(doc *goquery.Document) map[string]string {
	meta := make(map[string]string)
	doc.Find("meta").Each(func(_ int, s *goquery.Selection) {
		key, ok := s.Attr("property")
		if !ok {
			key, ok = s.Attr("name")
		}
		content, hasContent := s.Attr("content")
		if !ok || !hasContent {
			return
		}
		key = strings.ToLower(strings.TrimSpace(key))
		if _, dup := meta[key]; !dup {
			meta[key] = strings.TrimSpace(content)
		}
	})
	return meta
}

// jsonLD collects listing objects from every JSON-LD block, flattening
// arrays and @graph containers. Blocks that fail to decode are ignored.
func jsonLD(doc *goquery.Document) []map[string]any {
	var out []map[string]any
	var collect func(v any)
	collect = func(v any) {
		switch t := v.(type) {
		case []any:
			for _, item := range t {
				collect(item)
			}
		case map[string]any:
			if graph, ok := t["@graph"]; ok {
				collect(graph)
			}
			if typ, _ := t["@type"].(string); ldSkipTypes[typ] {
				return
			}
			out = append(out, t)
		}
	}
	doc.Find(ldJSONSelector).Each(func(_ int, s *goquery.Selection) {
		var v any
		if err := json.Unmarshal([]byte(s.Text()), &v); err != nil {
			return
		}
		collect(v)
	})
	return out
}

// ldString returns the first value found at path across JSON-LD objects.
func ldString(p *page, path ...string) string {
	for _, obj := range p.ld {
		var cur any = obj
		for _, key := range path {
			cur = ldChild(cur, key)
			if cur == nil {
				break
			}
		}
		if s := ldScalar(cur); s != "" {
			return s
		}
	}
	return ""
}

func ldChild(v any, key string) any {
	switch t := v.(type) {
	case map[string]any:
		return t[key]
	case []any:
		if len(t) > 0 {
			return ldChild(t[0], key)
		}
	}
	return nil
}

func ldScalar(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case []any:
		if len(t) > 0 {
			return ldScalar(t[0])
		}
	case map[string]any:
		if val, ok := t["value"]; ok {
			return ldScalar(val)
		}
	}
	return ""
}
