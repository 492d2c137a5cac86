package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/relay/pkg/observability"
	"github.com/platinummonkey/relay/pkg/oidcrp"
)

// Config holds all application configuration.
type Config struct {
	Server Server                  `yaml:"server"`
	Store  Store                   `yaml:"store"`
	SAML   SAML                    `yaml:"saml"`
	OIDC   oidcrp.Config           `yaml:"oidc"`
	Log    observability.LogConfig `yaml:"log"`
}

// Server holds HTTP server configuration.
type Server struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// ExternalBaseURL is the scheme://host[:port] browsers reach this
	// service under; callback URLs are built from it.
	ExternalBaseURL string `yaml:"external_base_url"`

	// MetricsPort serves /metrics and the health probes on an internal
	// listener, separate from the browser-facing port.
	MetricsPort string `yaml:"metrics_port"`
}

// Store selects and configures the correlation store backend.
type Store struct {
	Type       string `yaml:"type"`
	Root       string `yaml:"root"`
	SQLitePath string `yaml:"sqlite_path"`
	RedisURL   string `yaml:"redis_url"`
}

// SAML configures the assertion consumer trust directory.
type SAML struct {
	ConfigDir string `yaml:"config_dir"`
	// WatchMetadata enables live reload of the trust directory.
	WatchMetadata bool `yaml:"watch_metadata"`
}

// Load reads the YAML file named by RELAY_CONFIG_FILE (if any) and then
// applies environment overrides.
func Load() (*Config, error) {
	return LoadFile(os.Getenv("RELAY_CONFIG_FILE"))
}

// LoadFile loads configuration from the given YAML path, "" for none,
// then applies environment overrides and validates.
func LoadFile(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Server: Server{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			ExternalBaseURL: "http://localhost:8080",
			MetricsPort:     "9090",
		},
		Store: Store{Type: "filesystem"},
		Log:   observability.LogConfig{Level: "info", Format: "json"},
	}
}

func applyEnv(cfg *Config) {
	setEnv(&cfg.Server.Host, "RELAY_HOST")
	setEnv(&cfg.Server.Port, "RELAY_PORT")
	setEnvDuration(&cfg.Server.ReadTimeout, "RELAY_READ_TIMEOUT")
	setEnvDuration(&cfg.Server.WriteTimeout, "RELAY_WRITE_TIMEOUT")
	setEnvDuration(&cfg.Server.IdleTimeout, "RELAY_IDLE_TIMEOUT")
	setEnvDuration(&cfg.Server.ShutdownTimeout, "RELAY_SHUTDOWN_TIMEOUT")
	setEnv(&cfg.Server.ExternalBaseURL, "RELAY_EXTERNAL_BASE_URL")
	setEnv(&cfg.Server.MetricsPort, "RELAY_METRICS_PORT")

	setEnv(&cfg.Store.Type, "RELAY_STORE_TYPE")
	setEnv(&cfg.Store.Root, "RELAY_STORE_ROOT")
	setEnv(&cfg.Store.SQLitePath, "RELAY_SQLITE_PATH")
	setEnv(&cfg.Store.RedisURL, "RELAY_REDIS_URL")

	setEnv(&cfg.SAML.ConfigDir, "RELAY_SAML_CONFIG_DIR")
	setEnvBool(&cfg.SAML.WatchMetadata, "RELAY_SAML_WATCH_METADATA")

	setEnv(&cfg.OIDC.IssuerURL, "RELAY_OIDC_ISSUER_URL")
	setEnv(&cfg.OIDC.ClientID, "RELAY_OIDC_CLIENT_ID")
	setEnv(&cfg.OIDC.ClientSecret, "RELAY_OIDC_CLIENT_SECRET")
	setEnv(&cfg.OIDC.RedirectURL, "RELAY_OIDC_REDIRECT_URL")

	setEnv(&cfg.Log.Level, "RELAY_LOG_LEVEL")
	setEnv(&cfg.Log.Format, "RELAY_LOG_FORMAT")
}

// OIDCEnabled reports whether an OIDC relying party is configured.
func (c *Config) OIDCEnabled() bool {
	return c.OIDC.IssuerURL != ""
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.ExternalBaseURL == "" {
		return fmt.Errorf("external base URL is required")
	}
	if c.Server.MetricsPort == c.Server.Port {
		return fmt.Errorf("server port and metrics port must be different")
	}

	switch c.Store.Type {
	case "filesystem":
		if c.Store.Root == "" {
			return fmt.Errorf("store root is required for filesystem store")
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("sqlite path is required for sqlite store")
		}
	case "redis":
		if c.Store.RedisURL == "" {
			return fmt.Errorf("redis URL is required for redis store")
		}
	default:
		return fmt.Errorf("invalid store type: %s (must be filesystem, sqlite, or redis)", c.Store.Type)
	}

	if c.OIDCEnabled() {
		if c.OIDC.ClientID == "" || c.OIDC.ClientSecret == "" {
			return fmt.Errorf("oidc client id and secret are required when an issuer is configured")
		}
		if c.OIDC.RedirectURL == "" {
			return fmt.Errorf("oidc redirect URL is required when an issuer is configured")
		}
	}

	return nil
}

func setEnv(dst *string, key string) {
	if value := os.Getenv(key); value != "" {
		*dst = value
	}
}

func setEnvBool(dst *bool, key string) {
	if value := os.Getenv(key); value != "" {
		*dst = strings.ToLower(value) == "true" || value == "1"
	}
}

func setEnvDuration(dst *time.Duration, key string) {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			*dst = duration
		}
	}
}
