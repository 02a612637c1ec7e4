// ABOUTME: Configuration loading and parsing for the helpdesk server
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents the complete helpdesk configuration
type Config struct {
	Server        ServerConfig        `yaml:"server" toml:"server"`
	Tailscale     TailscaleConfig     `yaml:"tailscale" toml:"tailscale"`
	Database      DatabaseConfig      `yaml:"database" toml:"database"`
	Storage       StorageConfig       `yaml:"storage" toml:"storage"`
	Auth          AuthConfig          `yaml:"auth" toml:"auth"`
	Notifications NotificationsConfig `yaml:"notifications" toml:"notifications"`
	Logging       LoggingConfig       `yaml:"logging" toml:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds HTTP listener configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	// BaseURL is the external URL of the UI, used for passkey relying party
	// derivation. Auto-detected from http_addr when empty.
	BaseURL string `yaml:"base_url" toml:"base_url"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	HTTPS     bool   `yaml:"https" toml:"https"`   // serve :443 with the tailnet certificate
	Funnel    bool   `yaml:"funnel" toml:"funnel"` // public Funnel (implies HTTPS)
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
	// Driver is "sqlite" (modernc, pure Go) or "sqlite3" (mattn, requires cgo).
	Driver string `yaml:"driver" toml:"driver"`
}

// StorageConfig holds attachment blob storage configuration
type StorageConfig struct {
	Backend        string `yaml:"backend" toml:"backend"` // local, s3
	Dir            string `yaml:"dir" toml:"dir"`
	Bucket         string `yaml:"bucket" toml:"bucket"`
	Region         string `yaml:"region" toml:"region"`
	Endpoint       string `yaml:"endpoint" toml:"endpoint"` // MinIO/LocalStack
	MaxUploadBytes int64  `yaml:"max_upload_bytes" toml:"max_upload_bytes"`
	// Static credentials. When empty the default AWS credential chain is used.
	AccessKeyID     string `yaml:"access_key_id" toml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key" toml:"secret_access_key"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret           string `yaml:"jwt_secret" toml:"jwt_secret"`
	InternalEmailSuffix string `yaml:"internal_email_suffix" toml:"internal_email_suffix"`
	PINPadding          string `yaml:"pin_padding" toml:"pin_padding"`
	// LoginRate is the number of login attempts allowed per minute per client.
	LoginRate int `yaml:"login_rate" toml:"login_rate"`

	SessionDuration time.Duration `yaml:"-" toml:"-"`
	APITokenTTL     time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	SessionDurationRaw string `yaml:"session_duration" toml:"session_duration"`
	APITokenTTLRaw     string `yaml:"api_token_ttl" toml:"api_token_ttl"`
}

// NotificationsConfig holds admin notification targets
type NotificationsConfig struct {
	Matrix MatrixConfig `yaml:"matrix" toml:"matrix"`
}

// MatrixConfig holds Matrix notification configuration
type MatrixConfig struct {
	Enabled     bool   `yaml:"enabled" toml:"enabled"`
	Homeserver  string `yaml:"homeserver" toml:"homeserver"`
	UserID      string `yaml:"user_id" toml:"user_id"`
	AccessToken string `yaml:"access_token" toml:"access_token"`
	RoomID      string `yaml:"room_id" toml:"room_id"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// Default values applied by Load for anything left unset.
const (
	DefaultHTTPAddr            = ":8080"
	DefaultDriver              = "sqlite"
	DefaultBucket              = "attachments"
	DefaultMaxUploadBytes      = 10 << 20
	DefaultInternalEmailSuffix = "@tickets.internal"
	DefaultPINPadding          = "_TKT"
	DefaultSessionDuration     = 7 * 24 * time.Hour
	DefaultAPITokenTTL         = 24 * time.Hour
	DefaultLoginRate           = 10
	DefaultMetricsPath         = "/metrics"
)

// Default returns a configuration suitable for local development.
func Default() *Config {
	cfg := &Config{
		Database: DatabaseConfig{Path: "./helpdesk.db"},
		Storage:  StorageConfig{Backend: "local", Dir: "./attachments"},
		Auth:     AuthConfig{JWTSecret: "${HELPDESK_JWT_SECRET}"},
		Logging:  LoggingConfig{Level: "info", Format: "text"},
		Tailscale: TailscaleConfig{
			Hostname: "helpdesk",
		},
	}
	applyDefaults(cfg)
	return cfg
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expandedData, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Write serializes cfg to path, choosing TOML or YAML by extension.
// Durations are written back through their raw string fields.
func Write(path string, cfg *Config) error {
	out := *cfg
	if out.Auth.SessionDurationRaw == "" && out.Auth.SessionDuration > 0 {
		out.Auth.SessionDurationRaw = out.Auth.SessionDuration.String()
	}
	if out.Auth.APITokenTTLRaw == "" && out.Auth.APITokenTTL > 0 {
		out.Auth.APITokenTTLRaw = out.Auth.APITokenTTL.String()
	}

	var buf bytes.Buffer
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if err := toml.NewEncoder(&buf).Encode(out); err != nil {
			return fmt.Errorf("encoding config: %w", err)
		}
	} else {
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(out); err != nil {
			return fmt.Errorf("encoding config: %w", err)
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("encoding config: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func applyDefaults(cfg *Config) {
	if cfg.Server.HTTPAddr == "" && !cfg.Tailscale.Enabled {
		cfg.Server.HTTPAddr = DefaultHTTPAddr
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = DefaultDriver
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "local"
	}
	if cfg.Storage.Bucket == "" {
		cfg.Storage.Bucket = DefaultBucket
	}
	if cfg.Storage.MaxUploadBytes <= 0 {
		cfg.Storage.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if cfg.Storage.Backend == "local" && cfg.Storage.Dir == "" && cfg.Database.Path != "" {
		cfg.Storage.Dir = filepath.Join(filepath.Dir(cfg.Database.Path), "attachments")
	}
	if cfg.Auth.InternalEmailSuffix == "" {
		cfg.Auth.InternalEmailSuffix = DefaultInternalEmailSuffix
	}
	if cfg.Auth.PINPadding == "" {
		cfg.Auth.PINPadding = DefaultPINPadding
	}
	if cfg.Auth.SessionDuration == 0 {
		cfg.Auth.SessionDuration = DefaultSessionDuration
	}
	if cfg.Auth.APITokenTTL == 0 {
		cfg.Auth.APITokenTTL = DefaultAPITokenTTL
	}
	if cfg.Auth.LoginRate <= 0 {
		cfg.Auth.LoginRate = DefaultLoginRate
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	switch c.Database.Driver {
	case "sqlite", "sqlite3":
	default:
		return fmt.Errorf("database.driver must be sqlite or sqlite3, got %q", c.Database.Driver)
	}

	switch c.Storage.Backend {
	case "local":
		if c.Storage.Dir == "" {
			return fmt.Errorf("storage.dir is required for the local backend")
		}
	case "s3":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("storage.backend must be local or s3, got %q", c.Storage.Backend)
	}

	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 bytes")
	}

	if c.Notifications.Matrix.Enabled {
		m := c.Notifications.Matrix
		if m.Homeserver == "" || m.UserID == "" || m.AccessToken == "" || m.RoomID == "" {
			return fmt.Errorf("notifications.matrix requires homeserver, user_id, access_token and room_id")
		}
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Auth.SessionDurationRaw != "" {
		cfg.Auth.SessionDuration, err = time.ParseDuration(cfg.Auth.SessionDurationRaw)
		if err != nil {
			return fmt.Errorf("parsing session_duration %q: %w", cfg.Auth.SessionDurationRaw, err)
		}
	}

	if cfg.Auth.APITokenTTLRaw != "" {
		cfg.Auth.APITokenTTL, err = time.ParseDuration(cfg.Auth.APITokenTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing api_token_ttl %q: %w", cfg.Auth.APITokenTTLRaw, err)
		}
	}

	return nil
}
