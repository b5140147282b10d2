package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelvins/geocoder"

	"github.com/agroclim/matopiba-eto/internal/orchestrator"
	"github.com/agroclim/matopiba-eto/internal/weather"
)

type AppConfig struct {
	// Cache backends.
	RedisAddr     string
	CacheDir      string
	CacheMaxBytes int64
	CacheExpiry   time.Duration

	// Audit store. Empty MongoURI means in-memory only.
	MongoURI      string
	MongoDatabase string

	// Batch run tuning.
	Run orchestrator.Options

	// CronExpr controls when batch runs fire (five-field cron, UTC).
	CronExpr string

	// Locations to process.
	Locations []weather.Location

	// In-memory audit retention.
	AuditMaxHistory int
	AuditMaxAge     time.Duration

	Port string
}

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}
	cfg := &AppConfig{}

	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	cfg.CacheDir = getenvDefault("CACHE_DIR", "data/cache")
	cfg.CacheMaxBytes = int64(getenvInt("CACHE_MAX_MB", 500)) << 20

	expiry, err := getenvDuration("CACHE_FILE_EXPIRY", "720h")
	if err != nil {
		return nil, err
	}
	cfg.CacheExpiry = expiry

	cfg.MongoURI = os.Getenv("MONGO_URI")
	cfg.MongoDatabase = getenvDefault("MONGO_DATABASE", "eto")

	run := orchestrator.DefaultOptions()
	run.WindowDays = getenvInt("RUN_WINDOW_DAYS", run.WindowDays)
	run.ForecastDays = getenvInt("RUN_FORECAST_DAYS", run.ForecastDays)
	run.BatchSize = getenvInt("RUN_BATCH_SIZE", run.BatchSize)
	run.ComputeConcurrency = getenvInt("RUN_CONCURRENCY", run.ComputeConcurrency)
	run.MaxAttempts = getenvInt("RUN_MAX_ATTEMPTS", run.MaxAttempts)
	if run.BatchDelay, err = getenvDuration("RUN_BATCH_DELAY", run.BatchDelay.String()); err != nil {
		return nil, err
	}
	if run.RunTimeout, err = getenvDuration("RUN_TIMEOUT", run.RunTimeout.String()); err != nil {
		return nil, err
	}
	if run.RetryDelay, err = getenvDuration("RUN_RETRY_DELAY", run.RetryDelay.String()); err != nil {
		return nil, err
	}
	if run.ResultTTL, err = getenvDuration("RUN_RESULT_TTL", run.ResultTTL.String()); err != nil {
		return nil, err
	}
	cfg.Run = run

	// Four daily runs, one per synoptic hour.
	cfg.CronExpr = getenvDefault("RUN_CRON", "0 0,6,12,18 * * *")

	cfg.AuditMaxHistory = getenvInt("AUDIT_MAX_HISTORY", 200)
	if cfg.AuditMaxAge, err = getenvDuration("AUDIT_MAX_AGE", "720h"); err != nil {
		return nil, err
	}
	cfg.Port = getenvDefault("PORT", "8080")

	locs, err := loadLocations()
	if err != nil {
		return nil, err
	}
	cfg.Locations = locs

	return cfg, nil
}

// DefaultLocations is the built-in station list covering the MATOPIBA
// agricultural frontier (Maranhão, Tocantins, Piauí, western Bahia).
func DefaultLocations() []weather.Location {
	return []weather.Location{
		{ID: "balsas-ma", Name: "Balsas", State: "MA", Latitude: -7.5325, Longitude: -46.0356, ElevationM: 283},
		{ID: "imperatriz-ma", Name: "Imperatriz", State: "MA", Latitude: -5.5264, Longitude: -47.4917, ElevationM: 95},
		{ID: "palmas-to", Name: "Palmas", State: "TO", Latitude: -10.1689, Longitude: -48.3317, ElevationM: 260},
		{ID: "porto-nacional-to", Name: "Porto Nacional", State: "TO", Latitude: -10.7081, Longitude: -48.4172, ElevationM: 212},
		{ID: "gurupi-to", Name: "Gurupi", State: "TO", Latitude: -11.7292, Longitude: -49.0686, ElevationM: 287},
		{ID: "bom-jesus-pi", Name: "Bom Jesus", State: "PI", Latitude: -9.0744, Longitude: -44.3586, ElevationM: 277},
		{ID: "urucui-pi", Name: "Uruçuí", State: "PI", Latitude: -7.2294, Longitude: -44.5561, ElevationM: 167},
		{ID: "barreiras-ba", Name: "Barreiras", State: "BA", Latitude: -12.1439, Longitude: -45.0097, ElevationM: 439},
		{ID: "lem-ba", Name: "Luís Eduardo Magalhães", State: "BA", Latitude: -12.0833, Longitude: -45.8000, ElevationM: 720},
		{ID: "correntina-ba", Name: "Correntina", State: "BA", Latitude: -13.3431, Longitude: -44.6367, ElevationM: 577},
	}
}

// loadLocations assembles the location list: the built-in MATOPIBA stations,
// optionally replaced by LOCATIONS_FILE, optionally extended by geocoding
// EXTRA_CITIES when a Google geocoder key is configured. Every location is
// validated before use.
func loadLocations() ([]weather.Location, error) {
	locs := DefaultLocations()

	if path := os.Getenv("LOCATIONS_FILE"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read LOCATIONS_FILE: %w", err)
		}
		var fromFile []weather.Location
		if err := json.Unmarshal(raw, &fromFile); err != nil {
			return nil, fmt.Errorf("parse LOCATIONS_FILE: %w", err)
		}
		locs = fromFile
	}

	extra, err := geocodeExtraCities()
	if err != nil {
		return nil, err
	}
	locs = append(locs, extra...)

	if len(locs) == 0 {
		return nil, fmt.Errorf("no locations configured")
	}

	v := validator.New()
	for i := range locs {
		if err := v.Struct(&locs[i]); err != nil {
			return nil, fmt.Errorf("invalid location %q: %w", locs[i].Key(), err)
		}
	}
	return locs, nil
}

// geocodeExtraCities resolves EXTRA_CITIES ("City/ST,City/ST") to
// coordinates. Requires GEOCODER_API_KEY; without it the variable is
// ignored with a log line.
func geocodeExtraCities() ([]weather.Location, error) {
	cities := os.Getenv("EXTRA_CITIES")
	if cities == "" {
		return nil, nil
	}
	key := os.Getenv("GEOCODER_API_KEY")
	if key == "" {
		log.Println("INFO: EXTRA_CITIES set but GEOCODER_API_KEY missing; skipping extra cities")
		return nil, nil
	}
	geocoder.ApiKey = key

	var locs []weather.Location
	for _, entry := range strings.Split(cities, ",") {
		name, state, ok := strings.Cut(strings.TrimSpace(entry), "/")
		if !ok {
			return nil, fmt.Errorf("invalid EXTRA_CITIES entry %q, want City/ST", entry)
		}
		point, err := geocoder.Geocoding(geocoder.Address{
			City:    name,
			State:   state,
			Country: "Brazil",
		})
		if err != nil {
			return nil, fmt.Errorf("geocode %s/%s: %w", name, state, err)
		}
		locs = append(locs, weather.Location{
			ID:        strings.ToLower(strings.ReplaceAll(name, " ", "-")) + "-" + strings.ToLower(state),
			Name:      name,
			State:     state,
			Latitude:  point.Latitude,
			Longitude: point.Longitude,
		})
	}
	return locs, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvDuration(key, def string) (time.Duration, error) {
	v := getenvDefault(key, def)
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
