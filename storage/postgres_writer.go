package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"rental-scraper/models"
)

// PostgresWriter upserts canonical listings into PostgreSQL and maintains
// the secondary indexes the query layer relies on.
type PostgresWriter struct {
	db *sql.DB
}

// NewPostgresWriter opens a connection to PostgreSQL, runs schema migrations,
// and returns a ready-to-use PostgresWriter.
func NewPostgresWriter(dsn string) (*PostgresWriter, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	for i := 0; i < 10; i++ {
		if err = db.Ping(); err == nil {
			break
		}
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping failed after retries: %w", err)
	}

	pw := &PostgresWriter{db: db}
	if err := pw.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}

	return pw, nil
}

func (pw *PostgresWriter) migrate() error {
	_, err := pw.db.Exec(`
		CREATE TABLE IF NOT EXISTS canonical_listings (
			city_code         TEXT          NOT NULL,
			listing_id        TEXT          NOT NULL,
			title             TEXT,
			price             INTEGER,
			beds              INTEGER,
			baths             NUMERIC(4,1),
			sq_feet           INTEGER,
			address           TEXT,
			community         TEXT,
			city              TEXT,
			latitude          DOUBLE PRECISION,
			longitude         DOUBLE PRECISION,
			availability_date TEXT,
			pet_friendly      BOOLEAN,
			utilities         TEXT[],
			amenities         TEXT[],
			furnished         BOOLEAN,
			parking_spots     INTEGER,
			description       TEXT,
			property_type     TEXT,
			source_tier       TEXT          NOT NULL,
			extracted_at      TIMESTAMPTZ   NOT NULL,
			merged_from       TEXT[]        NOT NULL,
			last_seen_at      TIMESTAMPTZ   NOT NULL,
			PRIMARY KEY (city_code, listing_id)
		);

		CREATE INDEX IF NOT EXISTS idx_canonical_city          ON canonical_listings(city);
		CREATE INDEX IF NOT EXISTS idx_canonical_price         ON canonical_listings(price);
		CREATE INDEX IF NOT EXISTS idx_canonical_beds          ON canonical_listings(beds);
		CREATE INDEX IF NOT EXISTS idx_canonical_property_type ON canonical_listings(property_type);
		CREATE INDEX IF NOT EXISTS idx_canonical_location      ON canonical_listings(latitude, longitude);
	`)
	return err
}

const canonicalColumns = 24

// Write upserts all canonical listings in batches inside one transaction.
func (pw *PostgresWriter) Write(records []*models.CanonicalRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := pw.db.Begin()
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}

	const batchSize = 50
	for i := 0; i < len(records); i += batchSize {
		end := i + batchSize
		if end > len(records) {
			end = len(records)
		}
		if err := upsertBatch(tx, records[i:end]); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

func upsertBatch(tx *sql.Tx, batch []*models.CanonicalRecord) error {
	valueStrings := make([]string, 0, len(batch))
	valueArgs := make([]interface{}, 0, len(batch)*canonicalColumns)

	for idx, r := range batch {
		base := idx * canonicalColumns
		placeholders := make([]string, canonicalColumns)
		for c := range placeholders {
			placeholders[c] = fmt.Sprintf("$%d", base+c+1)
		}
		valueStrings = append(valueStrings, "("+strings.Join(placeholders, ",")+")")
		valueArgs = append(valueArgs,
			r.CityCode, r.ListingID, r.Title, r.Price, r.Beds, r.Baths, r.SqFeet,
			r.Address, r.Community, r.City, r.Latitude, r.Longitude, r.AvailabilityDate,
			r.PetFriendly, pq.Array(r.Utilities), pq.Array(r.Amenities), r.Furnished,
			r.ParkingSpots, r.Description, r.PropertyType, string(r.SourceTier),
			r.ExtractedAt, pq.Array(r.MergedFrom), r.LastSeenAt,
		)
	}

	query := fmt.Sprintf(`
		INSERT INTO canonical_listings (
			city_code, listing_id, title, price, beds, baths, sq_feet,
			address, community, city, latitude, longitude, availability_date,
			pet_friendly, utilities, amenities, furnished,
			parking_spots, description, property_type, source_tier,
			extracted_at, merged_from, last_seen_at
		)
		VALUES %s
		ON CONFLICT (city_code, listing_id) DO UPDATE SET
			title             = EXCLUDED.title,
			price             = EXCLUDED.price,
			beds              = EXCLUDED.beds,
			baths             = EXCLUDED.baths,
			sq_feet           = EXCLUDED.sq_feet,
			address           = EXCLUDED.address,
			community         = EXCLUDED.community,
			city              = EXCLUDED.city,
			latitude          = EXCLUDED.latitude,
			longitude         = EXCLUDED.longitude,
			availability_date = EXCLUDED.availability_date,
			pet_friendly      = EXCLUDED.pet_friendly,
			utilities         = EXCLUDED.utilities,
			amenities         = EXCLUDED.amenities,
			furnished         = EXCLUDED.furnished,
			parking_spots     = EXCLUDED.parking_spots,
			description       = EXCLUDED.description,
			property_type     = EXCLUDED.property_type,
			source_tier       = EXCLUDED.source_tier,
			extracted_at      = EXCLUDED.extracted_at,
			merged_from       = EXCLUDED.merged_from,
			last_seen_at      = EXCLUDED.last_seen_at
	`, strings.Join(valueStrings, ","))

	if _, err := tx.Exec(query, valueArgs...); err != nil {
		return fmt.Errorf("postgres: upsert batch: %w", err)
	}
	return nil
}

func (pw *PostgresWriter) Close() error {
	return pw.db.Close()
}

// FetchAll retrieves all stored listings, used by the coverage report.
func (pw *PostgresWriter) FetchAll() ([]*models.CanonicalRecord, error) {
	rows, err := pw.db.Query(`
		SELECT city_code, listing_id, title, price, beds, baths, sq_feet,
		       address, community, city, latitude, longitude, availability_date,
		       pet_friendly, utilities, amenities, furnished,
		       parking_spots, description, property_type, source_tier,
		       extracted_at, merged_from, last_seen_at
		FROM canonical_listings
		ORDER BY city_code, listing_id
	`)
	if err != nil {
		return nil, fmt.Errorf("postgres: fetch all: %w", err)
	}
	defer rows.Close()

	var records []*models.CanonicalRecord
	for rows.Next() {
		var (
			r                                   models.CanonicalRecord
			title, address, community, city     sql.NullString
			availability, description, propType sql.NullString
			price, beds, sqFeet, parking        sql.NullInt64
			baths, lat, lng                     sql.NullFloat64
			pets, furnished                     sql.NullBool
			tier                                string
			utilities, amenities, mergedFrom    []string
		)
		if err := rows.Scan(
			&r.CityCode, &r.ListingID, &title, &price, &beds, &baths, &sqFeet,
			&address, &community, &city, &lat, &lng, &availability,
			&pets, pq.Array(&utilities), pq.Array(&amenities), &furnished,
			&parking, &description, &propType, &tier,
			&r.ExtractedAt, pq.Array(&mergedFrom), &r.LastSeenAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan row: %w", err)
		}

		r.Title = nullString(title)
		r.Address = nullString(address)
		r.Community = nullString(community)
		r.City = nullString(city)
		r.AvailabilityDate = nullString(availability)
		r.Description = nullString(description)
		r.PropertyType = nullString(propType)
		r.Price = nullInt(price)
		r.Beds = nullInt(beds)
		r.SqFeet = nullInt(sqFeet)
		r.ParkingSpots = nullInt(parking)
		r.Baths = nullFloat(baths)
		r.Latitude = nullFloat(lat)
		r.Longitude = nullFloat(lng)
		r.PetFriendly = nullBool(pets)
		r.Furnished = nullBool(furnished)
		r.Utilities = utilities
		r.Amenities = amenities
		r.SourceTier = models.SourceTier(tier)
		r.MergedFrom = mergedFrom

		records = append(records, &r)
	}
	return records, rows.Err()
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}

func nullInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return &v.Float64
}

func nullBool(v sql.NullBool) *bool {
	if !v.Valid {
		return nil
	}
	return &v.Bool
}
