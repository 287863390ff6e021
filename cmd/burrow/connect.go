package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"

	"github.com/burrowhq/burrow/internal/tunnel"
)

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Create a tunnel and forward its traffic to a local service",
	Long: `Create a tunnel on the gateway, attach its channel, and replay every
incoming request against a local HTTP service.

Example:
  burrow connect --port 3000              # expose localhost:3000
  burrow connect --port 3000 --name api   # with a human-readable label`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			logger.Error("Error loading config: %v", err)
			os.Exit(1)
		}

		localPort, _ := cmd.Flags().GetInt("port")
		localHost, _ := cmd.Flags().GetString("host")
		name, _ := cmd.Flags().GetString("name")
		if localPort != 0 {
			cfg.LocalPort = localPort
		}
		if localHost != "" {
			cfg.LocalHost = localHost
		}

		if err := cfg.Validate(); err != nil {
			logger.Error("Invalid configuration: %v", err)
			os.Exit(1)
		}
		if cfg.APIKey == "" {
			logger.Error("No API key configured. Run 'burrow login' or pass --api-key.")
			os.Exit(1)
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		client := tunnel.NewClient(tunnel.ClientOptions{
			ServerURL: cfg.ServerURL,
			APIKey:    cfg.APIKey,
			LocalHost: cfg.LocalHost,
			LocalPort: cfg.LocalPort,
			Name:      name,
			Logger:    logger,
		})

		s := spinner.New(spinner.CharSets[14], 120*time.Millisecond)
		s.Suffix = " Connecting to gateway..."
		s.Start()

		var stopSpinner sync.Once
		client.OnTunnelReady = func(created *tunnel.CreatedTunnel) {
			stopSpinner.Do(s.Stop)
			logger.Info("Tunnel is up. Public URL: %s", created.URL)
			logger.Info("Forwarding to http://%s:%d. Press Ctrl+C to stop.", cfg.LocalHost, cfg.LocalPort)
		}

		err = client.Run(ctx)
		stopSpinner.Do(s.Stop)
		if err != nil {
			logger.Error("Tunnel client failed: %v", err)
			os.Exit(1)
		}
		logger.Info("Disconnected")
	},
}

func init() {
	connectCmd.Flags().IntP("port", "p", 0, "Local port to forward requests to")
	connectCmd.Flags().String("host", "", "Local host to forward requests to (default localhost)")
	connectCmd.Flags().String("name", "", "Optional tunnel label shown in listings")
}
