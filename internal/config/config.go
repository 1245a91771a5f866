package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// API holds the vendor connection settings.
type API struct {
	BaseURL    string `yaml:"base_url"`
	Username   string `yaml:"username"`
	SystemCode string `yaml:"system_code"`
}

// Sync holds the engine tuning knobs.
type Sync struct {
	Interval            time.Duration `yaml:"interval"`
	BatchSize           int           `yaml:"batch_size"`
	RequestDelay        time.Duration `yaml:"request_delay"`
	PageSize            int           `yaml:"page_size"`
	MaxAuthErrors       int           `yaml:"max_auth_errors"`
	RetentionDays       int           `yaml:"retention_days"`
	DeviceFallback      bool          `yaml:"device_fallback"`
	DeviceRequestDelay  time.Duration `yaml:"device_request_delay"`
	IncrementalWindow   time.Duration `yaml:"incremental_window"`
	FrequencyHold       time.Duration `yaml:"frequency_hold"`
	DisablePeriodicRuns bool          `yaml:"disable_periodic_runs"`
}

// Config is the full service configuration. A yaml file named by
// FUSIONBRIDGE_CONFIG is applied over env defaults.
type Config struct {
	DatabaseURL string `yaml:"database_url"`
	HTTPAddr    string `yaml:"http_addr"`
	JWTSecret   string `yaml:"jwt_secret"`
	API         API    `yaml:"api"`
	Sync        Sync   `yaml:"sync"`
}

// Load builds the configuration from the environment, then overlays the yaml
// file when FUSIONBRIDGE_CONFIG is set.
func Load() (Config, error) {
	cfg := Config{
		DatabaseURL: getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:    getenvDefault("HTTP_ADDR", ":8080"),
		JWTSecret:   os.Getenv("JWT_SECRET"),
		API: API{
			BaseURL:    os.Getenv("FUSION_API_BASE_URL"),
			Username:   os.Getenv("FUSION_API_USERNAME"),
			SystemCode: os.Getenv("FUSION_API_SYSTEM_CODE"),
		},
		Sync: Sync{
			Interval:            getenvDurationDefault("SYNC_INTERVAL", 15*time.Minute),
			BatchSize:           getenvIntDefault("SYNC_BATCH_SIZE", 20),
			RequestDelay:        getenvDurationDefault("SYNC_REQUEST_DELAY", time.Second),
			PageSize:            getenvIntDefault("SYNC_PAGE_SIZE", 100),
			MaxAuthErrors:       getenvIntDefault("SYNC_MAX_AUTH_ERRORS", 3),
			RetentionDays:       getenvIntDefault("SYNC_RETENTION_DAYS", 90),
			DeviceFallback:      getenvBoolDefault("SYNC_DEVICE_FALLBACK", false),
			DeviceRequestDelay:  getenvDurationDefault("SYNC_DEVICE_REQUEST_DELAY", time.Second),
			IncrementalWindow:   getenvDurationDefault("SYNC_INCREMENTAL_WINDOW", time.Hour),
			FrequencyHold:       getenvDurationDefault("SYNC_FREQUENCY_HOLD", 30*time.Minute),
			DisablePeriodicRuns: getenvBoolDefault("SYNC_DISABLE_PERIODIC_RUNS", false),
		},
	}

	if path := os.Getenv("FUSIONBRIDGE_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.DatabaseURL == "" {
		return errors.New("config: database url required (DATABASE_URL)")
	}
	if c.API.BaseURL == "" {
		return errors.New("config: vendor api base url required (FUSION_API_BASE_URL)")
	}
	if c.API.Username == "" || c.API.SystemCode == "" {
		return errors.New("config: vendor api credentials required (FUSION_API_USERNAME, FUSION_API_SYSTEM_CODE)")
	}
	return nil
}

func getenvDefault(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func getenvIntDefault(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func getenvBoolDefault(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}

func getenvDurationDefault(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return value
}
