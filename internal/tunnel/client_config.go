package tunnel

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
)

// ClientConfig represents the tunnel client configuration
type ClientConfig struct {
	ServerURL string `json:"server"`
	APIKey    string `json:"api_key"`
	LocalHost string `json:"local_host"`
	LocalPort int    `json:"local_port"`
}

// DefaultClientConfig provides default client configuration
var DefaultClientConfig = ClientConfig{
	ServerURL: "http://localhost:8989",
	LocalHost: "localhost",
	LocalPort: 8000,
}

// GetConfigDir returns the directory holding the client configuration
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".burrow"), nil
}

// GetConfigPath returns the full path of the client configuration file
func GetConfigPath() (string, error) {
	dir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// LoadClientConfig loads the configuration from the default location
func LoadClientConfig() (*ClientConfig, error) {
	configPath, err := GetConfigPath()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := DefaultClientConfig
			return &cfg, nil
		}
		return nil, fmt.Errorf("failed to read client config file: %w", err)
	}

	var cfg ClientConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse client config file: %w", err)
	}
	if cfg.LocalHost == "" {
		cfg.LocalHost = DefaultClientConfig.LocalHost
	}
	return &cfg, nil
}

// SaveClientConfig saves the configuration to the default location
func SaveClientConfig(cfg *ClientConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid client configuration: %w", err)
	}

	configDir, err := GetConfigDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	configPath := filepath.Join(configDir, "config.json")
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal client config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write client config file: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *ClientConfig) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("server URL is required")
	}

	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("server URL must use http or https, got %q", u.Scheme)
	}

	if c.LocalPort < 0 || c.LocalPort > 65535 {
		return fmt.Errorf("invalid local port: %d", c.LocalPort)
	}
	return nil
}
