package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Config Loading Tests
// =============================================================================

func TestLoadConfig_DefaultValues(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "./data/conveyor.db", cfg.Database.DSN)
	assert.True(t, cfg.Kube.Enabled)
	assert.Equal(t, 4, cfg.Engine.MaxConcurrentRuns)
	assert.Equal(t, "alpine:3", cfg.Engine.DefaultImage)
	assert.Equal(t, "", cfg.Notify.WebhookURL)
	assert.Equal(t, 15*time.Second, cfg.Notify.Interval)
	assert.Equal(t, time.Hour, cfg.Retention.Interval)
	assert.Equal(t, 720*time.Hour, cfg.Retention.Window)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadConfig_FromFile(t *testing.T) {
	clearEnv(t)

	configContent := `
server:
  host: "127.0.0.1"
  port: 9000
  read_timeout: 60s

database:
  dsn: "/tmp/conveyor-test.db"

kube:
  enabled: false
  kubeconfig: "/etc/conveyor/kubeconfig"

engine:
  max_concurrent_runs: 8
  workspace_dir: "/srv/workspace"

notify:
  webhook_url: "https://hooks.example.com/T000/B000"
  interval: 5s

retention:
  window: 168h

log:
  level: "debug"
  format: "text"
`
	tmpFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(tmpFile, []byte(configContent), 0644))

	cfg, err := LoadConfig(tmpFile)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 60*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "/tmp/conveyor-test.db", cfg.Database.DSN)
	assert.False(t, cfg.Kube.Enabled)
	assert.Equal(t, "/etc/conveyor/kubeconfig", cfg.Kube.Kubeconfig)
	assert.Equal(t, 8, cfg.Engine.MaxConcurrentRuns)
	assert.Equal(t, "/srv/workspace", cfg.Engine.WorkspaceDir)
	assert.Equal(t, "https://hooks.example.com/T000/B000", cfg.Notify.WebhookURL)
	assert.Equal(t, 5*time.Second, cfg.Notify.Interval)
	assert.Equal(t, 168*time.Hour, cfg.Retention.Window)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoadConfig_EnvironmentOverride(t *testing.T) {
	clearEnv(t)

	t.Setenv("CONVEYOR_SERVER_HOST", "192.168.1.1")
	t.Setenv("CONVEYOR_SERVER_PORT", "3000")
	t.Setenv("CONVEYOR_DATABASE_DSN", "/custom/path.db")
	t.Setenv("CONVEYOR_NOTIFY_WEBHOOK_URL", "https://hooks.example.com/x")
	t.Setenv("CONVEYOR_LOG_LEVEL", "warn")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "192.168.1.1", cfg.Server.Host)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "/custom/path.db", cfg.Database.DSN)
	assert.Equal(t, "https://hooks.example.com/x", cfg.Notify.WebhookURL)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadConfig_FileNotFound_UsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig("/nonexistent/path/config.yaml")
	require.NoError(t, err) // Should not error, just use defaults

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadConfig_InvalidFile(t *testing.T) {
	clearEnv(t)

	tmpFile := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(tmpFile, []byte("invalid: yaml: content: [[["), 0644))

	_, err := LoadConfig(tmpFile)
	assert.Error(t, err)
}

// =============================================================================
// Logger Setup Tests
// =============================================================================

func TestSetupLogger_Formats(t *testing.T) {
	for _, format := range []string{"json", "text"} {
		cfg := &Config{
			Log: LogConfig{
				Level:  "info",
				Format: format,
			},
		}

		logger := SetupLogger(cfg)
		assert.NotNil(t, logger)
	}
}

func TestSetupLogger_InvalidLevel(t *testing.T) {
	cfg := &Config{
		Log: LogConfig{
			Level:  "invalid",
			Format: "json",
		},
	}

	// Should fall back to info level, not panic
	logger := SetupLogger(cfg)
	assert.NotNil(t, logger)
}

// =============================================================================
// Config Validation Tests
// =============================================================================

func TestConfig_Address(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 8080,
		},
	}

	assert.Equal(t, "localhost:8080", cfg.Server.Address())
}

// =============================================================================
// Test Helpers
// =============================================================================

func clearEnv(t *testing.T) {
	t.Helper()
	envVars := []string{
		"CONVEYOR_SERVER_HOST",
		"CONVEYOR_SERVER_PORT",
		"CONVEYOR_DATABASE_DSN",
		"CONVEYOR_NOTIFY_WEBHOOK_URL",
		"CONVEYOR_LOG_LEVEL",
		"CONVEYOR_LOG_FORMAT",
	}
	for _, v := range envVars {
		os.Unsetenv(v)
	}
}
