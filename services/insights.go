package services

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"rental-scraper/models"
	"rental-scraper/utils"
)

// coverageFields are the optional fields reported in field coverage.
var coverageFields = []string{
	"title", "price", "beds", "baths", "sq_feet", "address", "community", "city",
	"coordinates", "availability_date", "pet_friendly", "utilities", "amenities",
	"furnished", "parking_spots", "description", "property_type",
}

type InsightService struct {
	logger *utils.Logger
	out    io.Writer
}

func NewInsightService(logger *utils.Logger) *InsightService {
	return &InsightService{logger: logger, out: os.Stdout}
}

func (s *InsightService) Generate(listings []*models.CanonicalRecord) *models.CoverageReport {
	report := &models.CoverageReport{
		FieldCoverage:  make(map[string]int),
		ListingsByCity: make(map[string]int),
	}

	if len(listings) == 0 {
		return report
	}

	report.TotalListings = len(listings)

	var priced []*models.CanonicalRecord
	for _, l := range listings {
		for _, f := range coverageFields {
			if hasField(l, f) {
				report.FieldCoverage[f]++
			}
		}
		if l.Price != nil {
			priced = append(priced, l)
		}
		city := l.CityCode
		if l.City != nil {
			city = *l.City
		}
		report.ListingsByCity[city]++
	}

	// Price stats (only listings with a price)
	if len(priced) > 0 {
		report.MinPrice = *priced[0].Price
		report.MaxPrice = *priced[0].Price
		report.MostExpensive = priced[0]
		var total int
		for _, l := range priced {
			total += *l.Price
			if *l.Price < report.MinPrice {
				report.MinPrice = *l.Price
			}
			if *l.Price > report.MaxPrice {
				report.MaxPrice = *l.Price
				report.MostExpensive = l
			}
		}
		report.AveragePrice = round2(float64(total) / float64(len(priced)))
	}

	return report
}

func hasField(l *models.CanonicalRecord, field string) bool {
	switch field {
	case "title":
		return l.Title != nil
	case "price":
		return l.Price != nil
	case "beds":
		return l.Beds != nil
	case "baths":
		return l.Baths != nil
	case "sq_feet":
		return l.SqFeet != nil
	case "address":
		return l.Address != nil
	case "community":
		return l.Community != nil
	case "city":
		return l.City != nil
	case "coordinates":
		return l.Latitude != nil && l.Longitude != nil
	case "availability_date":
		return l.AvailabilityDate != nil
	case "pet_friendly":
		return l.PetFriendly != nil
	case "utilities":
		return len(l.Utilities) > 0
	case "amenities":
		return len(l.Amenities) > 0
	case "furnished":
		return l.Furnished != nil
	case "parking_spots":
		return l.ParkingSpots != nil
	case "description":
		return l.Description != nil
	case "property_type":
		return l.PropertyType != nil
	}
	return false
}

func (s *InsightService) Print(r *models.CoverageReport) {
	w := s.out
	sep := strings.Repeat("═", 54)
	thin := strings.Repeat("─", 54)

	fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n", sep)
	fmt.Fprintf(w, "\033[1;35m  📊 RENTAL DATASET COVERAGE\033[0m\n")
	fmt.Fprintf(w, "\033[1;35m%s\033[0m\n\n", sep)

	// Overview
	fmt.Fprintf(w, "\033[1;33m  Overview\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	fmt.Fprintf(w, "  Canonical listings : \033[1m%d\033[0m\n", r.TotalListings)
	fmt.Fprintln(w)

	// Price Stats
	fmt.Fprintf(w, "\033[1;33m  Price Statistics (per month)\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	if r.AveragePrice > 0 {
		fmt.Fprintf(w, "  Average price : \033[1;32m$%.2f\033[0m\n", r.AveragePrice)
		fmt.Fprintf(w, "  Minimum price : \033[1;32m$%d\033[0m\n", r.MinPrice)
		fmt.Fprintf(w, "  Maximum price : \033[1;32m$%d\033[0m\n", r.MaxPrice)
	} else {
		fmt.Fprintf(w, "  No price data available\n")
	}
	fmt.Fprintln(w)

	// Most Expensive
	if r.MostExpensive != nil {
		fmt.Fprintf(w, "\033[1;33m  Most Expensive Listing\033[0m\n")
		fmt.Fprintf(w, "  %s\n", thin)
		title := r.MostExpensive.Key().String()
		if r.MostExpensive.Title != nil {
			title = *r.MostExpensive.Title
		}
		fmt.Fprintf(w, "  %s\n", truncate(title, 50))
		fmt.Fprintf(w, "  Listing : %s\n", r.MostExpensive.Key())
		fmt.Fprintf(w, "  Price   : \033[1;31m$%d/month\033[0m\n", *r.MostExpensive.Price)
		fmt.Fprintln(w)
	}

	// Field coverage
	fmt.Fprintf(w, "\033[1;33m  Field Coverage\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	if r.TotalListings == 0 {
		fmt.Fprintf(w, "  No listings\n")
	} else {
		for _, f := range coverageFields {
			n := r.FieldCoverage[f]
			pct := 100 * float64(n) / float64(r.TotalListings)
			fmt.Fprintf(w, "  %-18s %6d  %5.1f%%\n", f, n, pct)
		}
	}
	fmt.Fprintln(w)

	// Listings by City
	fmt.Fprintf(w, "\033[1;33m  Listings by City\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	if len(r.ListingsByCity) == 0 {
		fmt.Fprintf(w, "  No city data\n")
	} else {
		type cityCount struct {
			city  string
			count int
		}
		var cities []cityCount
		for city, cnt := range r.ListingsByCity {
			cities = append(cities, cityCount{city, cnt})
		}
		sort.Slice(cities, func(i, j int) bool {
			if cities[i].count != cities[j].count {
				return cities[i].count > cities[j].count
			}
			return cities[i].city < cities[j].city
		})
		for _, cc := range cities {
			fmt.Fprintf(w, "  %-30s %6d\n", truncate(cc.city, 28), cc.count)
		}
	}

	fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n\n", sep)
}

func round2(f float64) float64 {
	return float64(int(f*100+0.5)) / 100
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
