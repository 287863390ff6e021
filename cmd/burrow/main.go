package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/burrowhq/burrow/internal/logging"
	"github.com/burrowhq/burrow/internal/tunnel"
	"github.com/burrowhq/burrow/internal/version"
)

var logger *logging.Logger

// Global flags; non-empty values override the saved config.
var (
	flagServer string
	flagAPIKey string
)

func initLogger() {
	logging.Configure(&logging.Config{
		Level:      "info",
		File:       "~/.burrow/client.log",
		Timezone:   "UTC",
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     7,
	})
	logger = logging.GetLogger()
}

// loadConfig reads the saved client config and applies global flag
// overrides.
func loadConfig() (*tunnel.ClientConfig, error) {
	cfg, err := tunnel.LoadClientConfig()
	if err != nil {
		return nil, err
	}
	if flagServer != "" {
		cfg.ServerURL = flagServer
	}
	if flagAPIKey != "" {
		cfg.APIKey = flagAPIKey
	}
	return cfg, nil
}

var rootCmd = &cobra.Command{
	Use:   "burrow",
	Short: "Burrow CLI - reverse tunnel client",
	Long: `Burrow CLI exposes a local HTTP service through a public Burrow gateway.
Requests to your public tunnel URL are forwarded over a persistent channel
and replayed against your local service.`,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("burrow %s\n", version.Info())
	},
}

func main() {
	initLogger()

	rootCmd.PersistentFlags().StringVar(&flagServer, "server", "", "Gateway server URL (overrides saved config)")
	rootCmd.PersistentFlags().StringVar(&flagAPIKey, "api-key", "", "Control API key (overrides saved config)")

	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(echoCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
