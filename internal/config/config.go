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

// Config is the root configuration structure.
// It is read-only after Load() returns and thread-safe for concurrent reads.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Remote   RemoteConfig   `yaml:"remote"`
	Sync     SyncConfig     `yaml:"sync"`
	Log      LogConfig      `yaml:"log"`
	Server   ServerConfig   `yaml:"server"`
	Auth     AuthConfig     `yaml:"auth"`
	Central  CentralConfig  `yaml:"central"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
}

// DatabaseConfig contains the on-device database settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// RemoteConfig points the client at the central store.
type RemoteConfig struct {
	URL        string   `yaml:"url"`
	APIKey     string   `yaml:"-"` // env-only, never in YAML
	Timeout    Duration `yaml:"timeout"`
	MaxRetries int      `yaml:"max_retries"`
	BaseDelay  Duration `yaml:"base_delay"`
}

// SyncConfig contains sync trigger settings.
type SyncConfig struct {
	Interval             Duration `yaml:"interval"`
	Debounce             Duration `yaml:"debounce"`
	AttemptTimeout       Duration `yaml:"attempt_timeout"`
	ConnectivityInterval Duration `yaml:"connectivity_interval"`
}

// LogConfig contains logging settings. An empty File logs to stderr.
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// AuthConfig contains the API key the central server accepts.
type AuthConfig struct {
	APIKey string `yaml:"-"` // env-only, never in YAML
}

// CentralConfig selects the central store backend.
type CentralConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	DSN    string `yaml:"-"` // env-only, may carry credentials
}

// SnapshotConfig contains central snapshot settings.
type SnapshotConfig struct {
	Interval Duration              `yaml:"interval"`
	Name     string                `yaml:"name"`
	Storage  SnapshotStorageConfig `yaml:"storage"`
}

// SnapshotStorageConfig contains S3-compatible upload settings. An empty
// Bucket disables uploads.
type SnapshotStorageConfig struct {
	Bucket    string   `yaml:"bucket"`
	Endpoint  string   `yaml:"endpoint"`
	Region    string   `yaml:"region"`
	UseSSL    *bool    `yaml:"use_ssl"`
	AccessKey string   `yaml:"-"` // env-only, never in YAML
	SecretKey string   `yaml:"-"` // env-only, never in YAML
	URLExpiry Duration `yaml:"url_expiry"`
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

// DefaultPath is used when ESTIMATOR_CONFIG_PATH is unset.
const DefaultPath = "config/estimator.yaml"

// Path returns the config file location from the environment.
func Path() string {
	return getEnv("ESTIMATOR_CONFIG_PATH", DefaultPath)
}

// Load loads configuration with precedence: defaults → YAML file → env vars.
// A missing file at the default path is not an error.
func Load() (*Config, error) {
	cfg := newDefaults()

	if err := loadYAMLFile(cfg, Path()); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a specific path, which must exist.
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
	return &Config{
		Database: DatabaseConfig{
			Path: "data/estimator.db",
		},
		Remote: RemoteConfig{
			Timeout:    Duration(30 * time.Second),
			MaxRetries: 5,
			BaseDelay:  Duration(500 * time.Millisecond),
		},
		Sync: SyncConfig{
			Interval:             Duration(5 * time.Minute),
			Debounce:             Duration(2 * time.Second),
			AttemptTimeout:       Duration(10 * time.Minute),
			ConnectivityInterval: Duration(30 * time.Second),
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Central: CentralConfig{
			Driver: "sqlite",
			Path:   "data/central.db",
		},
		Snapshot: SnapshotConfig{
			Interval: Duration(1 * time.Hour),
			Name:     "central",
			Storage: SnapshotStorageConfig{
				Region:    "us-east-1",
				URLExpiry: Duration(15 * time.Minute),
			},
		},
	}
}

// loadYAMLFile loads configuration from a YAML file if it exists.
// Missing file is not an error; we just use defaults.
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
	// Database
	if v := os.Getenv("ESTIMATOR_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Remote
	if v := os.Getenv("ESTIMATOR_REMOTE_URL"); v != "" {
		cfg.Remote.URL = v
	}
	if v := os.Getenv("ESTIMATOR_REMOTE_API_KEY"); v != "" {
		cfg.Remote.APIKey = v
	}
	setDuration("ESTIMATOR_REMOTE_TIMEOUT", &cfg.Remote.Timeout)
	setInt("ESTIMATOR_REMOTE_MAX_RETRIES", &cfg.Remote.MaxRetries)
	setDuration("ESTIMATOR_REMOTE_BASE_DELAY", &cfg.Remote.BaseDelay)

	// Sync
	setDuration("ESTIMATOR_SYNC_INTERVAL", &cfg.Sync.Interval)
	setDuration("ESTIMATOR_SYNC_DEBOUNCE", &cfg.Sync.Debounce)
	setDuration("ESTIMATOR_SYNC_ATTEMPT_TIMEOUT", &cfg.Sync.AttemptTimeout)
	setDuration("ESTIMATOR_CONNECTIVITY_INTERVAL", &cfg.Sync.ConnectivityInterval)

	// Log
	if v := os.Getenv("ESTIMATOR_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("ESTIMATOR_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("ESTIMATOR_LOG_FILE"); v != "" {
		cfg.Log.File = v
	}

	// Server
	setInt("ESTIMATOR_PORT", &cfg.Server.Port)
	setDuration("ESTIMATOR_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	setDuration("ESTIMATOR_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	setDuration("ESTIMATOR_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)

	// Auth
	if v := os.Getenv("ESTIMATOR_API_KEY"); v != "" {
		cfg.Auth.APIKey = v
	}

	// Central
	if v := os.Getenv("ESTIMATOR_CENTRAL_DRIVER"); v != "" {
		cfg.Central.Driver = v
	}
	if v := os.Getenv("ESTIMATOR_CENTRAL_PATH"); v != "" {
		cfg.Central.Path = v
	}
	if v := os.Getenv("ESTIMATOR_CENTRAL_DSN"); v != "" {
		cfg.Central.DSN = v
	}

	// Snapshot
	setDuration("ESTIMATOR_SNAPSHOT_INTERVAL", &cfg.Snapshot.Interval)
	if v := os.Getenv("ESTIMATOR_SNAPSHOT_BUCKET"); v != "" {
		cfg.Snapshot.Storage.Bucket = v
	}
	if v := os.Getenv("ESTIMATOR_S3_ENDPOINT"); v != "" {
		cfg.Snapshot.Storage.Endpoint = v
	}
	if v := os.Getenv("ESTIMATOR_S3_REGION"); v != "" {
		cfg.Snapshot.Storage.Region = v
	}
	if v := os.Getenv("ESTIMATOR_S3_ACCESS_KEY"); v != "" {
		cfg.Snapshot.Storage.AccessKey = v
	}
	if v := os.Getenv("ESTIMATOR_S3_SECRET_KEY"); v != "" {
		cfg.Snapshot.Storage.SecretKey = v
	}
	if v := os.Getenv("ESTIMATOR_S3_USE_SSL"); v != "" {
		b := v == "true" || v == "1"
		cfg.Snapshot.Storage.UseSSL = &b
	}
	setDuration("ESTIMATOR_S3_URL_EXPIRY", &cfg.Snapshot.Storage.URLExpiry)
}

func setDuration(key string, dst *Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = Duration(d)
		}
	}
}

func setInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// validate checks settings shared by every command.
func (c *Config) validate() error {
	if c.Sync.Interval < 0 {
		return errors.New("sync.interval must not be negative")
	}
	if c.Sync.Debounce < 0 {
		return errors.New("sync.debounce must not be negative")
	}
	if c.Remote.MaxRetries < 0 {
		return errors.New("remote.max_retries must not be negative")
	}
	switch c.Central.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("central.driver %q is not supported", c.Central.Driver)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("log.format %q is not supported", c.Log.Format)
	}
	return nil
}

// ValidateServer checks the settings the central server needs.
// In dev mode (ESTIMATOR_DEV_MODE=true), API key validation is skipped.
func (c *Config) ValidateServer() error {
	if c.Central.Driver == "postgres" && c.Central.DSN == "" {
		return errors.New("ESTIMATOR_CENTRAL_DSN is required for the postgres driver")
	}
	if os.Getenv("ESTIMATOR_DEV_MODE") == "true" {
		return nil
	}
	if c.Auth.APIKey == "" {
		return errors.New("ESTIMATOR_API_KEY is required")
	}
	return nil
}

// ValidateClient checks the settings a syncing client needs. A client with
// no remote URL runs offline and never syncs.
func (c *Config) ValidateClient() error {
	if c.Remote.URL != "" && c.Remote.APIKey == "" {
		return errors.New("ESTIMATOR_REMOTE_API_KEY is required when remote.url is set")
	}
	if c.Database.Path == "" {
		return errors.New("database.path is required")
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
