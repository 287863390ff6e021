package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "LOCAL", cfg.Environment)
	assert.Equal(t, "TUNNEL_SERVER", cfg.AppName)
	assert.Equal(t, 8989, cfg.Port)
	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 30, cfg.RequestTimeoutSeconds)
	assert.Equal(t, 100, cfg.MaxTunnels)
	assert.Equal(t, 10, cfg.HeartbeatIntervalSeconds)
	assert.Equal(t, 60, cfg.CleanupIntervalSeconds)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "US/Pacific", cfg.LogTimezone)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("ENVIRONMENT_TYPE", "PROD")
	t.Setenv("API_PORT", "9000")
	t.Setenv("TUNNEL_TIMEOUT_SECONDS", "5")
	t.Setenv("REQUIRED_MATCHING_KEY", "owner-key")
	t.Setenv("REQUIRED_MATCHING_ADMIN_KEY", "admin-key")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, "0.0.0.0:9000", cfg.Addr())
	assert.Equal(t, "owner-key", cfg.APIKey)
	assert.Equal(t, "admin-key", cfg.AdminAPIKey)
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout())
}

func TestLoad_InvalidPort(t *testing.T) {
	t.Setenv("API_PORT", "70000")

	_, err := Load()
	require.Error(t, err)
}

func TestPublicURL(t *testing.T) {
	tests := []struct {
		name     string
		env      string
		domain   string
		port     int
		tunnelID string
		expected string
	}{
		{"local default", "LOCAL", "", 8989, "abc123xy", "http://localhost:8989/abc123xy"},
		{"prod with domain", "PROD", "tunnel.example.com", 8989, "abc123xy", "https://tunnel.example.com/abc123xy"},
		{"prod without domain", "PROD", "", 9000, "abc123xy", "http://localhost:9000/abc123xy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Environment: tt.env, PublicDomain: tt.domain, Port: tt.port}
			assert.Equal(t, tt.expected, cfg.PublicURL(tt.tunnelID))
		})
	}
}

func TestIdleThreshold(t *testing.T) {
	cfg := &Config{RequestTimeoutSeconds: 30}
	assert.Equal(t, 60*time.Second, cfg.IdleThreshold())
}
