package main

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/burrowhq/burrow/internal/tunnel"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Save gateway server URL and API key",
	Long: `Verify the gateway is reachable and persist the server URL and API key
to the client config file (~/.burrow/config.json).

Example:
  burrow login --server http://localhost:8989 --api-key your-key`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			logger.Error("Error loading config: %v", err)
			os.Exit(1)
		}

		if cfg.APIKey == "" {
			logger.Error("An API key is required. Pass --api-key.")
			os.Exit(1)
		}
		if err := cfg.Validate(); err != nil {
			logger.Error("Invalid configuration: %v", err)
			os.Exit(1)
		}

		// A list call proves both reachability and key validity.
		client := tunnel.NewClient(tunnel.ClientOptions{
			ServerURL: cfg.ServerURL,
			APIKey:    cfg.APIKey,
			Logger:    logger,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, _, err := client.ListTunnels(ctx); err != nil {
			logger.Error("Failed to verify credentials against %s: %v", cfg.ServerURL, err)
			os.Exit(1)
		}

		if err := tunnel.SaveClientConfig(cfg); err != nil {
			logger.Error("Failed to save config: %v", err)
			os.Exit(1)
		}

		configPath, _ := tunnel.GetConfigPath()
		logger.Info("Logged in to %s", cfg.ServerURL)
		logger.Info("Config saved to %s", configPath)
		logger.Info("Run 'burrow connect --port <port>' to open a tunnel")
	},
}
