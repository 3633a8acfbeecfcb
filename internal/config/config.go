package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/hay-kot/criterio"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
// It is read-only after Load() returns and thread-safe for concurrent reads.
type Config struct {
	Device    DeviceConfig    `yaml:"device"`
	Remote    RemoteConfig    `yaml:"remote"`
	Database  DatabaseConfig  `yaml:"database"`
	Sync      SyncConfig      `yaml:"sync"`
	Templates TemplatesConfig `yaml:"templates"`
	Backup    BackupConfig    `yaml:"backup"`
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	Log       LogConfig       `yaml:"log"`
}

// DeviceConfig identifies the device the agent runs on. A workshop
// tablet has no GPS; when both coordinates are set they are attached to
// every uploaded photo.
type DeviceConfig struct {
	ID        string   `yaml:"id"`
	Latitude  *float64 `yaml:"latitude"`
	Longitude *float64 `yaml:"longitude"`
}

// RemoteConfig points at the checklist API.
type RemoteConfig struct {
	BaseURL string   `yaml:"base_url"`
	Timeout Duration `yaml:"timeout"`
	Token   string   `yaml:"-"` // env-only, never in YAML
}

// DatabaseConfig contains database settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// SyncConfig controls offline queue delivery.
type SyncConfig struct {
	Interval    Duration `yaml:"interval"`
	MaxAttempts int      `yaml:"max_attempts"`
}

// Template cache backends.
const (
	CacheMemory = "memory"
	CacheSQLite = "sqlite"
	CacheRedis  = "redis"
)

// TemplatesConfig selects the template cache backend.
type TemplatesConfig struct {
	Cache    string   `yaml:"cache"`
	RedisURL string   `yaml:"redis_url"`
	TTL      Duration `yaml:"ttl"`
}

// BackupConfig contains S3-compatible backup settings. An empty bucket
// disables uploads.
type BackupConfig struct {
	Interval  Duration `yaml:"interval"`
	Bucket    string   `yaml:"bucket"`
	Endpoint  string   `yaml:"endpoint"`
	Region    string   `yaml:"region"`
	UseSSL    *bool    `yaml:"use_ssl"`
	URLExpiry Duration `yaml:"url_expiry"`
	AccessKey string   `yaml:"-"` // env-only, never in YAML
	SecretKey string   `yaml:"-"` // env-only, never in YAML
}

// ServerConfig contains local agent HTTP server settings.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// AuthConfig contains agent API authentication settings.
type AuthConfig struct {
	AgentKey string `yaml:"-"` // env-only, never in YAML
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
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
func Load() (*Config, error) {
	cfg := newDefaults()

	configPath := getEnv("INSPECTA_CONFIG_PATH", "config/inspecta.yaml")

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
	useSSL := true
	return &Config{
		Remote: RemoteConfig{
			BaseURL: "http://localhost:3000/api",
			Timeout: Duration(15 * time.Second),
		},
		Database: DatabaseConfig{
			Path: "data/inspecta.db",
		},
		Sync: SyncConfig{
			Interval:    Duration(1 * time.Minute),
			MaxAttempts: 10,
		},
		Templates: TemplatesConfig{
			Cache: CacheSQLite,
			TTL:   Duration(24 * time.Hour),
		},
		Backup: BackupConfig{
			Interval:  Duration(6 * time.Hour),
			Region:    "us-east-1",
			UseSSL:    &useSSL,
			URLExpiry: Duration(15 * time.Minute),
		},
		Server: ServerConfig{
			Port:            8787,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(60 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
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
	// Device
	if v := os.Getenv("INSPECTA_DEVICE_ID"); v != "" {
		cfg.Device.ID = v
	}
	envFloat("INSPECTA_DEVICE_LAT", &cfg.Device.Latitude)
	envFloat("INSPECTA_DEVICE_LON", &cfg.Device.Longitude)

	// Remote
	if v := os.Getenv("INSPECTA_API_URL"); v != "" {
		cfg.Remote.BaseURL = v
	}
	envDuration("INSPECTA_API_TIMEOUT", &cfg.Remote.Timeout)
	if v := os.Getenv("INSPECTA_API_TOKEN"); v != "" {
		cfg.Remote.Token = v
	}

	// Database
	if v := os.Getenv("INSPECTA_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Sync
	envDuration("INSPECTA_SYNC_INTERVAL", &cfg.Sync.Interval)
	if v := os.Getenv("INSPECTA_SYNC_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sync.MaxAttempts = n
		}
	}

	// Templates
	if v := os.Getenv("INSPECTA_TEMPLATE_CACHE"); v != "" {
		cfg.Templates.Cache = v
	}
	if v := os.Getenv("INSPECTA_REDIS_URL"); v != "" {
		cfg.Templates.RedisURL = v
	}
	envDuration("INSPECTA_TEMPLATE_TTL", &cfg.Templates.TTL)

	// Backup
	envDuration("INSPECTA_BACKUP_INTERVAL", &cfg.Backup.Interval)
	if v := os.Getenv("INSPECTA_BACKUP_BUCKET"); v != "" {
		cfg.Backup.Bucket = v
	}
	if v := os.Getenv("INSPECTA_S3_ENDPOINT"); v != "" {
		cfg.Backup.Endpoint = v
	}
	if v := os.Getenv("INSPECTA_S3_REGION"); v != "" {
		cfg.Backup.Region = v
	}
	if v := os.Getenv("INSPECTA_S3_ACCESS_KEY"); v != "" {
		cfg.Backup.AccessKey = v
	}
	if v := os.Getenv("INSPECTA_S3_SECRET_KEY"); v != "" {
		cfg.Backup.SecretKey = v
	}
	envDuration("INSPECTA_S3_URL_EXPIRY", &cfg.Backup.URLExpiry)
	if v := os.Getenv("INSPECTA_S3_USE_SSL"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Backup.UseSSL = &b
		}
	}

	// Server
	if v := os.Getenv("INSPECTA_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	envDuration("INSPECTA_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	envDuration("INSPECTA_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	envDuration("INSPECTA_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)

	// Auth
	if v := os.Getenv("INSPECTA_AGENT_KEY"); v != "" {
		cfg.Auth.AgentKey = v
	}

	// Log
	if v := os.Getenv("INSPECTA_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("INSPECTA_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

func envFloat(key string, dst **float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = &f
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

// validate checks the structure of the configuration, then that required
// secrets are set. In dev mode (INSPECTA_DEV_MODE=true) secrets are not
// required.
func (c *Config) validate() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if os.Getenv("INSPECTA_DEV_MODE") == "true" {
		return nil
	}

	if c.Remote.Token == "" {
		return errors.New("INSPECTA_API_TOKEN is required")
	}
	if c.Auth.AgentKey == "" {
		return errors.New("INSPECTA_AGENT_KEY is required")
	}
	return nil
}

// Validate reports every structurally invalid field as criterio field errors.
func (c *Config) Validate() error {
	return criterio.ValidateStruct(
		criterio.Run("remote.base_url", c.Remote.BaseURL, httpURL),
		criterio.Run("database.path", c.Database.Path, required),
		c.validateDevice(),
		c.validateLimits(),
		c.validateTemplates(),
		c.validateBackup(),
		criterio.Run("log.level", c.Log.Level, oneOf("debug", "info", "warn", "error")),
		criterio.Run("log.format", c.Log.Format, oneOf("json", "text")),
	)
}

func (c *Config) validateDevice() error {
	var errs criterio.FieldErrorsBuilder

	lat, lon := c.Device.Latitude, c.Device.Longitude
	if (lat == nil) != (lon == nil) {
		errs = errs.Append("device.latitude", errors.New("latitude and longitude must be set together"))
	}
	if lat != nil && (*lat < -90 || *lat > 90) {
		errs = errs.Append("device.latitude", fmt.Errorf("must be between -90 and 90, got %g", *lat))
	}
	if lon != nil && (*lon < -180 || *lon > 180) {
		errs = errs.Append("device.longitude", fmt.Errorf("must be between -180 and 180, got %g", *lon))
	}

	return errs.ToError()
}

func (c *Config) validateLimits() error {
	var errs criterio.FieldErrorsBuilder

	if c.Remote.Timeout <= 0 {
		errs = errs.Append("remote.timeout", errors.New("must be positive"))
	}
	if c.Sync.Interval <= 0 {
		errs = errs.Append("sync.interval", errors.New("must be positive"))
	}
	if c.Sync.MaxAttempts < 1 {
		errs = errs.Append("sync.max_attempts", errors.New("must be at least 1"))
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = errs.Append("server.port", fmt.Errorf("must be between 1 and 65535, got %d", c.Server.Port))
	}

	return errs.ToError()
}

func (c *Config) validateTemplates() error {
	var errs criterio.FieldErrorsBuilder

	if err := oneOf(CacheMemory, CacheSQLite, CacheRedis)(c.Templates.Cache); err != nil {
		errs = errs.Append("templates.cache", err)
	}
	if c.Templates.Cache == CacheRedis && c.Templates.RedisURL == "" {
		errs = errs.Append("templates.redis_url", errors.New("required when cache is redis"))
	}
	if c.Templates.TTL < 0 {
		errs = errs.Append("templates.ttl", errors.New("must not be negative"))
	}

	return errs.ToError()
}

func (c *Config) validateBackup() error {
	if c.Backup.Bucket == "" {
		return nil
	}
	var errs criterio.FieldErrorsBuilder

	if c.Backup.Endpoint == "" {
		errs = errs.Append("backup.endpoint", errors.New("required when a bucket is set"))
	}
	if c.Backup.Interval <= 0 {
		errs = errs.Append("backup.interval", errors.New("must be positive"))
	}

	return errs.ToError()
}

func httpURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("host is required")
	}
	return nil
}

func required(s string) error {
	if s == "" {
		return errors.New("cannot be empty")
	}
	return nil
}

func oneOf(allowed ...string) func(string) error {
	return func(v string) error {
		for _, a := range allowed {
			if v == a {
				return nil
			}
		}
		return fmt.Errorf("must be one of %v, got %q", allowed, v)
	}
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
