package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Docker    DockerConfig    `mapstructure:"docker"`
	Kube      KubeConfig      `mapstructure:"kube"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Registry  RegistryConfig  `mapstructure:"registry"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Retention RetentionConfig `mapstructure:"retention"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Address returns the server address in host:port format.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

// DockerConfig holds Docker client configuration.
type DockerConfig struct {
	Host string `mapstructure:"host"`
}

// KubeConfig holds Kubernetes client configuration.
type KubeConfig struct {
	// Enabled controls whether a cluster connection is attempted at startup.
	// Deploy steps fail when disabled.
	Enabled bool `mapstructure:"enabled"`

	// Kubeconfig is the path to a kubeconfig file. Empty tries in-cluster
	// config first, then ~/.kube/config.
	Kubeconfig string `mapstructure:"kubeconfig"`

	// RolloutInterval is the poll interval for deploy steps that wait.
	RolloutInterval time.Duration `mapstructure:"rollout_interval"`

	// RolloutTimeout bounds deploy-step rollout waits.
	RolloutTimeout time.Duration `mapstructure:"rollout_timeout"`
}

// EngineConfig holds run engine configuration.
type EngineConfig struct {
	// MaxConcurrentRuns bounds the number of runs executing at once.
	MaxConcurrentRuns int `mapstructure:"max_concurrent_runs"`

	// WorkspaceDir is the host directory mounted into run-step containers.
	WorkspaceDir string `mapstructure:"workspace_dir"`

	// DefaultImage is the container image for run steps of jobs without one.
	DefaultImage string `mapstructure:"default_image"`
}

// RegistryConfig holds registry credentials for image pushes.
type RegistryConfig struct {
	Username      string `mapstructure:"username"`
	Password      string `mapstructure:"password"`
	ServerAddress string `mapstructure:"server_address"`
}

// NotifyConfig holds webhook notification configuration.
type NotifyConfig struct {
	// WebhookURL is the endpoint run notifications are posted to.
	// Empty disables delivery.
	WebhookURL string `mapstructure:"webhook_url"`

	// Interval is the outbox poll interval.
	Interval time.Duration `mapstructure:"interval"`

	// BatchSize is the maximum notifications delivered per cycle.
	BatchSize int `mapstructure:"batch_size"`
}

// RetentionConfig holds run retention configuration.
type RetentionConfig struct {
	// Interval is the time between pruning cycles.
	Interval time.Duration `mapstructure:"interval"`

	// Window is how long finished runs are kept.
	Window time.Duration `mapstructure:"window"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("database.dsn", "./data/conveyor.db")
	v.SetDefault("docker.host", "")
	v.SetDefault("kube.enabled", true)
	v.SetDefault("kube.kubeconfig", "")
	v.SetDefault("kube.rollout_interval", "2s")
	v.SetDefault("kube.rollout_timeout", "5m")
	v.SetDefault("engine.max_concurrent_runs", 4)
	v.SetDefault("engine.workspace_dir", "./workspace")
	v.SetDefault("engine.default_image", "alpine:3")
	v.SetDefault("registry.username", "")
	v.SetDefault("registry.password", "")
	v.SetDefault("registry.server_address", "")
	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("notify.interval", "15s")
	v.SetDefault("notify.batch_size", 20)
	v.SetDefault("retention.interval", "1h")
	v.SetDefault("retention.window", "720h") // 30 days
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Load from file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// Only return error if file was explicitly specified and is invalid
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			// File not found is OK, we'll use defaults
		}
	}

	// Enable environment variable overrides
	v.SetEnvPrefix("CONVEYOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal config
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format.
func SetupLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
