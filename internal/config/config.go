package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Blob storage backends.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Config is the root configuration structure.
// It is read-only after Load() returns and thread-safe for concurrent reads.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Storage   StorageConfig   `yaml:"storage"`
	Predictor PredictorConfig `yaml:"predictor"`
	Forecast  ForecastConfig  `yaml:"forecast"`
	Journal   JournalConfig   `yaml:"journal"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	Auth      AuthConfig      `yaml:"auth"`
	Worker    WorkerConfig    `yaml:"worker"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Backup    BackupConfig    `yaml:"backup"`
	Log       LogConfig       `yaml:"log"`

	// DevMode is set by SOMNUS_DEV_MODE=true and relaxes key requirements.
	DevMode bool `yaml:"-"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig contains journal database settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// StorageConfig selects where the versioned state blobs live.
type StorageConfig struct {
	Backend string      `yaml:"backend"`
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig contains Redis blob store settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
	Password string `yaml:"-"` // env-only, never in YAML
}

// PredictorConfig contains forecast and dream-analysis provider settings.
type PredictorConfig struct {
	APIKey       string   `yaml:"-"` // env-only, never in YAML
	Model        string   `yaml:"model"`
	MaxRetries   int      `yaml:"max_retries"`
	RetryBackoff Duration `yaml:"retry_backoff"`
}

// ForecastConfig contains forecast generation settings.
type ForecastConfig struct {
	ProviderTimeout Duration `yaml:"provider_timeout"`
	HistoryDays     int      `yaml:"history_days"`
}

// JournalConfig contains calendar settings.
type JournalConfig struct {
	Timezone string `yaml:"timezone"`
}

// AlertsConfig contains pattern alert settings.
type AlertsConfig struct {
	NegativeKeywords []string `yaml:"negative_keywords"`
}

// AuthConfig contains authentication settings.
type AuthConfig struct {
	APIKey string `yaml:"-"` // env-only, never in YAML
}

// WorkerConfig contains background worker settings.
type WorkerConfig struct {
	ForecastInterval Duration `yaml:"forecast_interval"`
	BackupInterval   Duration `yaml:"backup_interval"`
	ActiveWindowDays int      `yaml:"active_window_days"`
	BackupDir        string   `yaml:"backup_dir"`
	BackupRetain     int      `yaml:"backup_retain"`
}

// RateLimitConfig bounds forecast generation requests per user.
// A zero rate disables the limiter.
type RateLimitConfig struct {
	ForecastsPerMinute float64 `yaml:"forecasts_per_minute"`
	Burst              int     `yaml:"burst"`
}

// BackupConfig contains S3-compatible backup storage settings.
// An empty bucket keeps backups local.
type BackupConfig struct {
	Bucket    string   `yaml:"bucket"`
	Endpoint  string   `yaml:"endpoint"`
	Region    string   `yaml:"region"`
	AccessKey string   `yaml:"-"` // env-only, never in YAML
	SecretKey string   `yaml:"-"` // env-only, never in YAML
	UseSSL    *bool    `yaml:"use_ssl"`
	URLExpiry Duration `yaml:"url_expiry"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Location returns the configured journal time zone. Calendar days are
// computed in this zone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Journal.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Duration is a wrapper around time.Duration that supports YAML string parsing.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Load loads configuration with precedence: defaults → YAML file → env vars.
// Returns an immutable Config suitable for concurrent read access.
func Load() (*Config, error) {
	cfg := newDefaults()

	configPath := getEnv("SOMNUS_CONFIG_PATH", "config/somnus.yaml")

	// Missing file is not an error
	if err := loadYAMLFile(cfg, configPath); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a specific path.
// Used for testing and explicit path specification.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// newDefaults returns a Config with all default values.
func newDefaults() *Config {
	useSSL := true
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(45 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Database: DatabaseConfig{
			Path: "data/somnus.db",
		},
		Storage: StorageConfig{
			Backend: BackendSQLite,
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "somnus",
			},
		},
		Predictor: PredictorConfig{
			Model:        "gpt-4o-mini",
			MaxRetries:   2,
			RetryBackoff: Duration(500 * time.Millisecond),
		},
		Forecast: ForecastConfig{
			ProviderTimeout: Duration(20 * time.Second),
			HistoryDays:     14,
		},
		Journal: JournalConfig{
			Timezone: "UTC",
		},
		Worker: WorkerConfig{
			ForecastInterval: Duration(1 * time.Hour),
			BackupInterval:   Duration(24 * time.Hour),
			ActiveWindowDays: 7,
			BackupDir:        "data/backups",
			BackupRetain:     7,
		},
		RateLimit: RateLimitConfig{
			ForecastsPerMinute: 6,
			Burst:              3,
		},
		Backup: BackupConfig{
			Region:    "us-east-1",
			UseSSL:    &useSSL,
			URLExpiry: Duration(15 * time.Minute),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// loadYAMLFile loads configuration from a YAML file if it exists.
func loadYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Only non-empty env vars override config values.
func applyEnvOverrides(cfg *Config) {
	// Server
	envInt("SOMNUS_PORT", &cfg.Server.Port)
	envDuration("SOMNUS_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	envDuration("SOMNUS_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	envDuration("SOMNUS_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)

	// Database and blob storage
	envString("SOMNUS_DB_PATH", &cfg.Database.Path)
	envString("SOMNUS_STORAGE_BACKEND", &cfg.Storage.Backend)
	envString("SOMNUS_REDIS_ADDR", &cfg.Storage.Redis.Addr)
	envInt("SOMNUS_REDIS_DB", &cfg.Storage.Redis.DB)
	envString("SOMNUS_REDIS_PREFIX", &cfg.Storage.Redis.Prefix)
	envString("SOMNUS_REDIS_PASSWORD", &cfg.Storage.Redis.Password)

	// Predictor (OPENAI_API_KEY is industry convention)
	envString("OPENAI_API_KEY", &cfg.Predictor.APIKey)
	envString("SOMNUS_PREDICTOR_MODEL", &cfg.Predictor.Model)
	envInt("SOMNUS_PREDICTOR_MAX_RETRIES", &cfg.Predictor.MaxRetries)
	envDuration("SOMNUS_PREDICTOR_RETRY_BACKOFF", &cfg.Predictor.RetryBackoff)

	// Forecast
	envDuration("SOMNUS_PROVIDER_TIMEOUT", &cfg.Forecast.ProviderTimeout)
	envInt("SOMNUS_HISTORY_DAYS", &cfg.Forecast.HistoryDays)

	// Journal
	envString("SOMNUS_TIMEZONE", &cfg.Journal.Timezone)

	// Alerts
	if v := os.Getenv("SOMNUS_NEGATIVE_KEYWORDS"); v != "" {
		cfg.Alerts.NegativeKeywords = strings.Split(v, ",")
	}

	// Auth
	envString("SOMNUS_API_KEY", &cfg.Auth.APIKey)

	// Worker
	envDuration("SOMNUS_FORECAST_INTERVAL", &cfg.Worker.ForecastInterval)
	envDuration("SOMNUS_BACKUP_INTERVAL", &cfg.Worker.BackupInterval)
	envInt("SOMNUS_ACTIVE_WINDOW_DAYS", &cfg.Worker.ActiveWindowDays)
	envString("SOMNUS_BACKUP_DIR", &cfg.Worker.BackupDir)
	envInt("SOMNUS_BACKUP_RETAIN", &cfg.Worker.BackupRetain)

	// Rate limit
	if v := os.Getenv("SOMNUS_FORECASTS_PER_MINUTE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RateLimit.ForecastsPerMinute = f
		}
	}
	envInt("SOMNUS_RATE_LIMIT_BURST", &cfg.RateLimit.Burst)

	// Backup storage
	envString("SOMNUS_BACKUP_BUCKET", &cfg.Backup.Bucket)
	envString("SOMNUS_S3_ENDPOINT", &cfg.Backup.Endpoint)
	envString("SOMNUS_S3_REGION", &cfg.Backup.Region)
	envString("SOMNUS_S3_ACCESS_KEY", &cfg.Backup.AccessKey)
	envString("SOMNUS_S3_SECRET_KEY", &cfg.Backup.SecretKey)
	if v := os.Getenv("SOMNUS_S3_USE_SSL"); v != "" {
		useSSL := v == "true" || v == "1"
		cfg.Backup.UseSSL = &useSSL
	}
	envDuration("SOMNUS_S3_URL_EXPIRY", &cfg.Backup.URLExpiry)

	// Log
	envString("SOMNUS_LOG_LEVEL", &cfg.Log.Level)
	envString("SOMNUS_LOG_FORMAT", &cfg.Log.Format)

	cfg.DevMode = os.Getenv("SOMNUS_DEV_MODE") == "true"
}

// validate checks that configuration values are usable.
// In dev mode (SOMNUS_DEV_MODE=true), API key validation is skipped.
func (c *Config) validate() error {
	switch c.Storage.Backend {
	case BackendSQLite, BackendRedis, BackendMemory:
	default:
		return fmt.Errorf("storage.backend must be one of sqlite, redis, memory; got %q", c.Storage.Backend)
	}
	if _, err := time.LoadLocation(c.Journal.Timezone); err != nil {
		return fmt.Errorf("journal.timezone: %w", err)
	}
	if c.Predictor.MaxRetries < 0 {
		return errors.New("predictor.max_retries must not be negative")
	}
	if c.Forecast.ProviderTimeout <= 0 {
		return errors.New("forecast.provider_timeout must be positive")
	}
	if c.RateLimit.ForecastsPerMinute < 0 {
		return errors.New("rate_limit.forecasts_per_minute must not be negative")
	}
	if c.RateLimit.Burst < 1 {
		return errors.New("rate_limit.burst must be positive")
	}
	if c.Worker.BackupRetain < 0 {
		return errors.New("worker.backup_retain must not be negative")
	}

	if c.DevMode {
		return nil
	}

	if c.Predictor.APIKey == "" {
		return errors.New("OPENAI_API_KEY is required")
	}
	if c.Auth.APIKey == "" {
		return errors.New("SOMNUS_API_KEY is required")
	}
	return nil
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envDuration(key string, dst *Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = Duration(d)
		}
	}
}
