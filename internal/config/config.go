package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the tunnel server
type Config struct {
	// Server Configuration
	Environment  string `env:"ENVIRONMENT_TYPE" envDefault:"LOCAL"`
	AppName      string `env:"APP_NAME" envDefault:"TUNNEL_SERVER"`
	Version      string `env:"VERSION" envDefault:"v1.0.0"`
	Host         string `env:"SERVER_HOST"`
	Port         int    `env:"API_PORT" envDefault:"8989" validate:"gte=1,lte=65535"`
	PublicDomain string `env:"PUBLIC_DOMAIN"`

	// Shared secrets for the control API
	APIKey      string `env:"REQUIRED_MATCHING_KEY"`
	AdminAPIKey string `env:"REQUIRED_MATCHING_ADMIN_KEY"`

	// Tunnel Configuration (seconds)
	RequestTimeoutSeconds    int `env:"TUNNEL_TIMEOUT_SECONDS" envDefault:"30" validate:"gte=1"`
	MaxTunnels               int `env:"TUNNEL_MAX_CONNECTIONS" envDefault:"100" validate:"gte=1"`
	HeartbeatIntervalSeconds int `env:"TUNNEL_HEARTBEAT_INTERVAL" envDefault:"10" validate:"gte=1"`
	CleanupIntervalSeconds   int `env:"TUNNEL_CLEANUP_INTERVAL" envDefault:"60" validate:"gte=1"`

	// Logging Configuration
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogTimezone string `env:"LOG_TIMEZONE" envDefault:"US/Pacific"`
	LogFile     string `env:"LOG_FILE"`

	// Telemetry Configuration
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// Load loads the configuration from environment variables and .env files
func Load() (*Config, error) {
	// Load .env files if present. godotenv never overrides variables that
	// are already set, so the real environment always wins.
	for _, loc := range []string{".env.local", ".env"} {
		_ = godotenv.Load(loc)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Bind to all interfaces only in production
	if cfg.Host == "" {
		if cfg.IsProduction() {
			cfg.Host = "0.0.0.0"
		} else {
			cfg.Host = "localhost"
		}
	}

	if cfg.LogFile == "" {
		if cfg.IsProduction() {
			cfg.LogFile = "/app/logs/tunnel-server.log"
		} else {
			cfg.LogFile = "./logs/tunnel-server.log"
		}
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// IsProduction reports whether the server runs with the production profile
func (c *Config) IsProduction() bool {
	return c.Environment == "PROD"
}

// Addr returns the host:port the HTTP server binds to
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// PublicURL composes the URL a tunnel owner advertises for a tunnel id
func (c *Config) PublicURL(tunnelID string) string {
	if c.IsProduction() && c.PublicDomain != "" {
		return fmt.Sprintf("https://%s/%s", c.PublicDomain, tunnelID)
	}
	return fmt.Sprintf("http://localhost:%d/%s", c.Port, tunnelID)
}

// RequestTimeout bounds how long the ingress proxy waits for a tunneled response
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// HeartbeatInterval is how often the server pings an attached channel
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalSeconds) * time.Second
}

// CleanupInterval is how often the sweeper looks for expired tunnels
func (c *Config) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalSeconds) * time.Second
}

// IdleThreshold is the inactivity age beyond which a tunnel is expired
func (c *Config) IdleThreshold() time.Duration {
	return 2 * c.RequestTimeout()
}
