// ABOUTME: Tests for the helpdesk CLI helpers
// ABOUTME: Covers flag parsing, config discovery, first-run config creation, and admin password resets

package main

import (
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/helpdesk/internal/config"
	"github.com/2389/helpdesk/internal/helpdesk"
)

func TestParseBootstrapArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    bootstrapArgs
		wantErr string
	}{
		{
			name: "separate values",
			args: []string{"--email", "ops@example.com", "--name", "Ops"},
			want: bootstrapArgs{Email: "ops@example.com", Name: "Ops"},
		},
		{
			name: "equals form",
			args: []string{"--email=ops@example.com", "--password=hunter22"},
			want: bootstrapArgs{Email: "ops@example.com", Password: "hunter22"},
		},
		{name: "missing email", args: []string{"--name", "Ops"}, wantErr: "--email flag is required"},
		{name: "missing value", args: []string{"--email"}, wantErr: "requires a value"},
		{name: "unknown flag", args: []string{"--role", "admin"}, wantErr: "unknown flag"},
		{name: "positional", args: []string{"ops@example.com"}, wantErr: "unexpected argument"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseBootstrapArgs(tt.args)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("HELPDESK_CONFIG", "/etc/helpdesk.toml")
	assert.Equal(t, "/etc/helpdesk.toml", getConfigPath())

	t.Setenv("HELPDESK_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	assert.Equal(t, filepath.Join("/xdg", "helpdesk", "config.yaml"), getConfigPath())
}

func TestHealthURL(t *testing.T) {
	cfg := config.Default()
	assert.Equal(t, "http://localhost:8080/health/ready", healthURL(cfg))

	cfg.Server.HTTPAddr = "127.0.0.1:9000"
	assert.Equal(t, "http://127.0.0.1:9000/health/ready", healthURL(cfg))

	cfg.Server.BaseURL = "https://help.example.com/"
	assert.Equal(t, "https://help.example.com/health/ready", healthURL(cfg))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("loud"))
}

func TestLoadOrCreateConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "helpdesk", "config.yaml")

	cfg, created, err := loadOrCreateConfig(path, filepath.Join(dir, "data"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Len(t, cfg.Auth.JWTSecret, 44)
	assert.Equal(t, filepath.Join(dir, "data", "helpdesk.db"), cfg.Database.Path)

	again, created, err := loadOrCreateConfig(path, filepath.Join(dir, "other"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, cfg.Auth.JWTSecret, again.Auth.JWTSecret)
	assert.Equal(t, cfg.Database.Path, again.Database.Path)
}

func TestExtractConfigFlag(t *testing.T) {
	path, rest, err := extractConfigFlag([]string{"--config", "/tmp/h.toml", "bootstrap", "--email", "a@b.c"})
	require.NoError(t, err)
	assert.Equal(t, "/tmp/h.toml", path)
	assert.Equal(t, []string{"bootstrap", "--email", "a@b.c"}, rest)

	path, rest, err = extractConfigFlag([]string{"serve", "--config=/etc/h.yaml"})
	require.NoError(t, err)
	assert.Equal(t, "/etc/h.yaml", path)
	assert.Equal(t, []string{"serve"}, rest)

	_, _, err = extractConfigFlag([]string{"serve", "--config"})
	assert.Error(t, err)
}

func TestGetConfigPath_FlagWins(t *testing.T) {
	t.Setenv("HELPDESK_CONFIG", "/etc/helpdesk.toml")
	configFlag = "/flag/config.yaml"
	t.Cleanup(func() { configFlag = "" })
	assert.Equal(t, "/flag/config.yaml", getConfigPath())
}

func TestResetPasswordCommand(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	t.Setenv("HELPDESK_CONFIG", configPath)
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))
	t.Setenv("HELPDESK_ADMIN_PASSWORD", "")
	configFlag = ""
	ctx := t.Context()

	require.NoError(t, runBootstrap(ctx, []string{"--email", "ops@example.com", "--password", "first-password"}))
	require.NoError(t, runResetPassword(ctx, []string{"--email=OPS@example.com", "--password=second-password"}))

	err := runResetPassword(ctx, []string{"--email", "nobody@example.com", "--password", "second-password"})
	assert.ErrorIs(t, err, helpdesk.ErrNotFound)
	err = runResetPassword(ctx, []string{"--password", "second-password"})
	assert.Error(t, err)

	cfg, err := config.Load(configPath)
	require.NoError(t, err)
	svc, closeStore, err := openService(cfg)
	require.NoError(t, err)
	defer closeStore()

	_, err = svc.AuthenticateAdmin(ctx, "ops@example.com", "first-password")
	assert.ErrorIs(t, err, helpdesk.ErrInvalidCredentials)
	v, err := svc.AuthenticateAdmin(ctx, "ops@example.com", "second-password")
	require.NoError(t, err)
	assert.True(t, v.IsAdmin)
}
