package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Tracking    TrackingConfig  `toml:"tracking"`
	Storage     StorageConfig   `toml:"storage"`
	Snapshots   SnapshotsConfig `toml:"snapshots"`
	Logging     LoggingConfig   `toml:"logging"`
}

// ServerConfig identifies the job server this process observes
type ServerConfig struct {
	BaseURL        string `toml:"base_url" validate:"required,url"` // e.g. "http://localhost:8085"
	FeedPath       string `toml:"feed_path"`                        // websocket path for the job event feed
	RequestTimeout string `toml:"request_timeout"`                  // e.g. "10s" - timeout for one-shot HTTP reads
}

// TrackedEntity declares one entity whose background jobs should be tracked
type TrackedEntity struct {
	EntityType string `toml:"entity_type" validate:"required"` // e.g. "character", "clothing_item"
	EntityID   string `toml:"entity_id" validate:"required"`
	Variant    string `toml:"variant"` // preview size variant, empty = canonical
}

// TrackingConfig tunes tracker behavior shared by all tracked entities
type TrackingConfig struct {
	Entities         []TrackedEntity `toml:"entities"`
	DiscoveryLimit   int             `toml:"discovery_limit"`    // max jobs fetched by the catch-up read
	RetryBase        string          `toml:"retry_base"`         // e.g. "100ms" - first asset retry delay
	RetryCap         string          `toml:"retry_cap"`          // e.g. "3s" - backoff ceiling
	RetryMaxAttempts int             `toml:"retry_max_attempts"` // give up after this many asset load attempts
	ProgressInterval string          `toml:"progress_interval"`  // e.g. "250ms" - min interval between progress notifications
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

// SnapshotsConfig controls the last-known job snapshot store
type SnapshotsConfig struct {
	Enabled       bool   `toml:"enabled"`
	PruneSchedule string `toml:"prune_schedule"` // standard 5-field cron expression
	Retention     string `toml:"retention"`      // e.g. "72h" - snapshots older than this are pruned
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

// NewDefaultConfig returns a config populated with defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			BaseURL:        "http://localhost:8085",
			FeedPath:       "/ws/jobs",
			RequestTimeout: "10s",
		},
		Tracking: TrackingConfig{
			DiscoveryLimit:   50,
			RetryBase:        "100ms",
			RetryCap:         "3s",
			RetryMaxAttempts: 10,
			ProgressInterval: "250ms",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path:           "./data/studiosync",
				ResetOnStartup: false,
			},
		},
		Snapshots: SnapshotsConfig{
			Enabled:       true,
			PruneSchedule: "*/15 * * * *",
			Retention:     "72h",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout"},
		},
	}
}

// LoadFromFiles loads configuration from defaults, then each file in order
// (later files override earlier ones), then environment variables.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("STUDIOSYNC_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	if baseURL := os.Getenv("STUDIOSYNC_SERVER_BASE_URL"); baseURL != "" {
		config.Server.BaseURL = baseURL
	}
	if feedPath := os.Getenv("STUDIOSYNC_SERVER_FEED_PATH"); feedPath != "" {
		config.Server.FeedPath = feedPath
	}

	if limit := os.Getenv("STUDIOSYNC_TRACKING_DISCOVERY_LIMIT"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil {
			config.Tracking.DiscoveryLimit = n
		}
	}
	if attempts := os.Getenv("STUDIOSYNC_TRACKING_RETRY_MAX_ATTEMPTS"); attempts != "" {
		if n, err := strconv.Atoi(attempts); err == nil {
			config.Tracking.RetryMaxAttempts = n
		}
	}

	if path := os.Getenv("STUDIOSYNC_STORAGE_BADGER_PATH"); path != "" {
		config.Storage.Badger.Path = path
	}

	if level := os.Getenv("STUDIOSYNC_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
}

// ApplyFlagOverrides applies command-line flag overrides (highest priority)
func ApplyFlagOverrides(config *Config, baseURL string) {
	if baseURL != "" {
		config.Server.BaseURL = baseURL
	}
}

// Validate checks structural validity plus the cron prune schedule
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Snapshots.Enabled && c.Snapshots.PruneSchedule != "" {
		if err := ValidatePruneSchedule(c.Snapshots.PruneSchedule); err != nil {
			return fmt.Errorf("invalid snapshots.prune_schedule: %w", err)
		}
	}

	return nil
}

// ValidatePruneSchedule validates a standard 5-field cron expression
func ValidatePruneSchedule(schedule string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	return nil
}

// RequestTimeout parses the configured HTTP request timeout with a fallback
func (c *ServerConfig) GetRequestTimeout() time.Duration {
	return parseDurationOr(c.RequestTimeout, 10*time.Second)
}

// GetRetryBase parses the configured base retry delay with a fallback
func (t *TrackingConfig) GetRetryBase() time.Duration {
	return parseDurationOr(t.RetryBase, 100*time.Millisecond)
}

// GetRetryCap parses the configured backoff ceiling with a fallback
func (t *TrackingConfig) GetRetryCap() time.Duration {
	return parseDurationOr(t.RetryCap, 3*time.Second)
}

// GetProgressInterval parses the progress notification throttle interval
func (t *TrackingConfig) GetProgressInterval() time.Duration {
	return parseDurationOr(t.ProgressInterval, 250*time.Millisecond)
}

// GetRetention parses the snapshot retention window with a fallback
func (s *SnapshotsConfig) GetRetention() time.Duration {
	return parseDurationOr(s.Retention, 72*time.Hour)
}

func parseDurationOr(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
