package config

import (
	"log"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"rental-scraper/models"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string
	Publish          bool

	TargetsFile  string
	TargetLimit  int
	BaseURL      string
	ForceRefetch bool
	Headless     bool
	ChromeBin    string

	FetchWorkers     int
	ExtractWorkers   int
	MinDelay         time.Duration
	MaxDelay         time.Duration
	MaxRetries       int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
	RequestTimeout   time.Duration
	ProgressInterval time.Duration

	RawDir         string
	RecordsDir     string
	StateDB        string
	DatasetPath    string
	ReportPath     string
	MaxMarkupBytes int

	Region   models.BoundingBox
	Schedule string
}

// Load reads the .env file and returns a populated Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	cfg := &Config{
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "scraper"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "scraper123"),
		PostgresDB:       getEnv("POSTGRES_DB", "rental_db"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		Publish:          getEnvBool("PUBLISH", true),

		TargetsFile:  getEnv("TARGETS_FILE", "./data/rentfaster_listings.json"),
		TargetLimit:  ParseLimit(getEnv("TARGET_LIMIT", "all")),
		BaseURL:      strings.TrimRight(getEnv("BASE_URL", "https://www.rentfaster.ca"), "/"),
		ForceRefetch: getEnvBool("FORCE_REFETCH", false),
		Headless:     getEnvBool("HEADLESS", true),
		ChromeBin:    getEnv("CHROME_BIN", ""),

		FetchWorkers:     getEnvInt("FETCH_WORKERS", 5),
		ExtractWorkers:   getEnvInt("EXTRACT_WORKERS", 0),
		MinDelay:         time.Duration(getEnvInt("MIN_DELAY_MS", 500)) * time.Millisecond,
		MaxDelay:         time.Duration(getEnvInt("MAX_DELAY_MS", 1500)) * time.Millisecond,
		MaxRetries:       getEnvInt("MAX_RETRIES", 3),
		RetryBaseDelay:   time.Duration(getEnvInt("RETRY_BASE_MS", 2000)) * time.Millisecond,
		RetryMaxDelay:    time.Duration(getEnvInt("RETRY_MAX_MS", 30000)) * time.Millisecond,
		RequestTimeout:   time.Duration(getEnvInt("REQUEST_TIMEOUT_S", 60)) * time.Second,
		ProgressInterval: time.Duration(getEnvInt("PROGRESS_INTERVAL_S", 10)) * time.Second,

		RawDir:         getEnv("RAW_DIR", "./raw"),
		RecordsDir:     getEnv("RECORDS_DIR", "./data/extracted"),
		StateDB:        getEnv("STATE_DB", "./data/fetch_state.db"),
		DatasetPath:    getEnv("DATASET_PATH", "./data/canonical.json"),
		ReportPath:     getEnv("REPORT_PATH", "./output/failures.csv"),
		MaxMarkupBytes: getEnvInt("MAX_MARKUP_BYTES", 5<<20),

		Region: models.BoundingBox{
			MinLat: getEnvFloat("REGION_MIN_LAT", 41.0),
			MaxLat: getEnvFloat("REGION_MAX_LAT", 84.0),
			MinLng: getEnvFloat("REGION_MIN_LNG", -141.5),
			MaxLng: getEnvFloat("REGION_MAX_LNG", -52.0),
		},
		Schedule: getEnv("SCHEDULE", ""),
	}

	if cfg.ExtractWorkers <= 0 {
		cfg.ExtractWorkers = runtime.NumCPU()
	}
	if cfg.FetchWorkers <= 0 {
		cfg.FetchWorkers = 1
	}
	return cfg
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}

// ParseLimit turns "all", "0" or "" into 0 (no limit) and anything else
// numeric into that count. Unparseable values mean no limit.
func ParseLimit(s string) int {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" || s == "all" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		log.Printf("[config] Invalid TARGET_LIMIT %q, processing all targets", s)
		return 0
	}
	return n
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off", "visible":
		return false
	}
	return fallback
}
