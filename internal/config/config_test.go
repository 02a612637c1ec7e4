// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, defaults, and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
server:
  http_addr: "0.0.0.0:9090"

database:
  path: "./test.db"

storage:
  backend: "s3"
  bucket: "helpdesk-files"
  region: "eu-west-1"
  endpoint: "http://localhost:9000"

auth:
  jwt_secret: "`+testSecret+`"
  session_duration: "12h"
  api_token_ttl: "30m"

notifications:
  matrix:
    enabled: true
    homeserver: "https://matrix.org"
    user_id: "@helpdesk:matrix.org"
    access_token: "matrix-token"
    room_id: "!admins:matrix.org"

logging:
  level: "debug"
  format: "json"

metrics:
  enabled: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:9090" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:9090")
	}
	if cfg.Database.Path != "./test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "./test.db")
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("Database.Driver = %q, want default sqlite", cfg.Database.Driver)
	}
	if cfg.Storage.Backend != "s3" || cfg.Storage.Bucket != "helpdesk-files" {
		t.Errorf("Storage = %+v", cfg.Storage)
	}
	if cfg.Auth.SessionDuration != 12*time.Hour {
		t.Errorf("Auth.SessionDuration = %v, want 12h", cfg.Auth.SessionDuration)
	}
	if cfg.Auth.APITokenTTL != 30*time.Minute {
		t.Errorf("Auth.APITokenTTL = %v, want 30m", cfg.Auth.APITokenTTL)
	}
	if cfg.Auth.InternalEmailSuffix != "@tickets.internal" {
		t.Errorf("Auth.InternalEmailSuffix = %q", cfg.Auth.InternalEmailSuffix)
	}
	if cfg.Auth.PINPadding != "_TKT" {
		t.Errorf("Auth.PINPadding = %q", cfg.Auth.PINPadding)
	}
	if cfg.Notifications.Matrix.RoomID != "!admins:matrix.org" {
		t.Errorf("Matrix.RoomID = %q", cfg.Notifications.Matrix.RoomID)
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want /metrics", cfg.Metrics.Path)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want json", cfg.Logging.Format)
	}
}

func TestLoad_TOML(t *testing.T) {
	path := writeConfig(t, "config.toml", `
[server]
http_addr = ":8081"

[database]
path = "/var/lib/helpdesk/helpdesk.db"
driver = "sqlite3"

[auth]
jwt_secret = "`+testSecret+`"
pin_padding = "_PAD"
login_rate = 3
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.HTTPAddr != ":8081" {
		t.Errorf("Server.HTTPAddr = %q", cfg.Server.HTTPAddr)
	}
	if cfg.Database.Driver != "sqlite3" {
		t.Errorf("Database.Driver = %q", cfg.Database.Driver)
	}
	if cfg.Auth.PINPadding != "_PAD" {
		t.Errorf("Auth.PINPadding = %q", cfg.Auth.PINPadding)
	}
	if cfg.Auth.LoginRate != 3 {
		t.Errorf("Auth.LoginRate = %d", cfg.Auth.LoginRate)
	}
	if cfg.Storage.Dir != "/var/lib/helpdesk/attachments" {
		t.Errorf("Storage.Dir = %q, want derived from database path", cfg.Storage.Dir)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_HELPDESK_SECRET", testSecret)
	t.Setenv("TEST_HELPDESK_DB", "/tmp/expanded.db")

	path := writeConfig(t, "config.yaml", `
database:
  path: "${TEST_HELPDESK_DB}"
auth:
  jwt_secret: "${TEST_HELPDESK_SECRET}"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.Path != "/tmp/expanded.db" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
	if cfg.Auth.JWTSecret != testSecret {
		t.Errorf("Auth.JWTSecret = %q", cfg.Auth.JWTSecret)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
database:
  path: "./test.db"
auth:
  jwt_secret: "`+testSecret+`"
  session_duration: "forever"
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() expected error for invalid duration")
	}
	if !strings.Contains(err.Error(), "session_duration") {
		t.Errorf("error = %v, want mention of session_duration", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("Load() expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid default",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: "database.path is required",
		},
		{
			name:    "unknown driver",
			mutate:  func(c *Config) { c.Database.Driver = "postgres" },
			wantErr: "database.driver",
		},
		{
			name:    "short secret",
			mutate:  func(c *Config) { c.Auth.JWTSecret = "short" },
			wantErr: "jwt_secret",
		},
		{
			name:    "tailscale without hostname",
			mutate:  func(c *Config) { c.Tailscale.Enabled = true; c.Tailscale.Hostname = "" },
			wantErr: "tailscale.hostname",
		},
		{
			name:    "unknown storage backend",
			mutate:  func(c *Config) { c.Storage.Backend = "ftp" },
			wantErr: "storage.backend",
		},
		{
			name:    "incomplete matrix",
			mutate:  func(c *Config) { c.Notifications.Matrix.Enabled = true },
			wantErr: "notifications.matrix",
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "logging.format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Auth.JWTSecret = testSecret
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestWriteRoundTrip(t *testing.T) {
	t.Setenv("HELPDESK_JWT_SECRET", testSecret)

	for _, name := range []string{"config.yaml", "config.toml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", name)
			cfg := Default()
			cfg.Database.Path = "/data/helpdesk.db"

			if err := Write(path, cfg); err != nil {
				t.Fatalf("Write() error = %v", err)
			}

			loaded, err := Load(path)
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if loaded.Database.Path != "/data/helpdesk.db" {
				t.Errorf("Database.Path = %q", loaded.Database.Path)
			}
			if loaded.Auth.JWTSecret != testSecret {
				t.Errorf("JWTSecret not expanded from env: %q", loaded.Auth.JWTSecret)
			}
			if loaded.Auth.SessionDuration != DefaultSessionDuration {
				t.Errorf("SessionDuration = %v", loaded.Auth.SessionDuration)
			}
		})
	}
}
