package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/burrowhq/burrow/internal/tunnel"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the client configuration",
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file location",
	Run: func(cmd *cobra.Command, args []string) {
		path, err := tunnel.GetConfigPath()
		if err != nil {
			logger.Error("Failed to resolve config path: %v", err)
			os.Exit(1)
		}
		fmt.Println(path)
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			logger.Error("Error loading config: %v", err)
			os.Exit(1)
		}

		fmt.Printf("Server:     %s\n", cfg.ServerURL)
		fmt.Printf("API key:    %s\n", maskKey(cfg.APIKey))
		fmt.Printf("Local host: %s\n", cfg.LocalHost)
		fmt.Printf("Local port: %d\n", cfg.LocalPort)
	},
}

// maskKey shows just enough of a secret to recognize it.
func maskKey(key string) string {
	if key == "" {
		return "(not set)"
	}
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}

func init() {
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configShowCmd)
}
