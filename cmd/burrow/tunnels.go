package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/burrowhq/burrow/internal/tunnel"
)

const controlTimeout = 10 * time.Second

// controlClient builds a client for one-shot control API calls.
func controlClient() *tunnel.Client {
	cfg, err := loadConfig()
	if err != nil {
		logger.Error("Error loading config: %v", err)
		os.Exit(1)
	}
	if cfg.APIKey == "" {
		logger.Error("No API key configured. Run 'burrow login' or pass --api-key.")
		os.Exit(1)
	}
	return tunnel.NewClient(tunnel.ClientOptions{
		ServerURL: cfg.ServerURL,
		APIKey:    cfg.APIKey,
		Logger:    logger,
	})
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List tunnels registered on the gateway",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), controlTimeout)
		defer cancel()

		tunnels, total, err := controlClient().ListTunnels(ctx)
		if err != nil {
			logger.Error("Failed to list tunnels: %v", err)
			os.Exit(1)
		}

		if total == 0 {
			fmt.Println("No tunnels registered")
			return
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TUNNEL ID\tNAME\tSTATUS\tCREATED\tLAST ACTIVE")
		for _, info := range tunnels {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				info.TunnelID,
				info.Name,
				info.Status,
				info.CreatedAt.Local().Format("2006-01-02 15:04:05"),
				info.LastActive.Local().Format("2006-01-02 15:04:05"),
			)
		}
		w.Flush()
		fmt.Printf("\n%d tunnel(s)\n", total)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <tunnel-id>",
	Short: "Show the live state of one tunnel",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), controlTimeout)
		defer cancel()

		info, err := controlClient().TunnelStatus(ctx, args[0])
		if err != nil {
			logger.Error("Failed to fetch tunnel status: %v", err)
			os.Exit(1)
		}

		fmt.Printf("Tunnel ID:   %s\n", info.TunnelID)
		if info.Name != "" {
			fmt.Printf("Name:        %s\n", info.Name)
		}
		fmt.Printf("Status:      %s\n", info.Status)
		if info.LocalPort > 0 {
			fmt.Printf("Local port:  %d\n", info.LocalPort)
		}
		fmt.Printf("Created:     %s\n", info.CreatedAt.Local().Format("2006-01-02 15:04:05"))
		fmt.Printf("Last active: %s\n", info.LastActive.Local().Format("2006-01-02 15:04:05"))
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <tunnel-id>",
	Short: "Destroy a tunnel on the gateway",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), controlTimeout)
		defer cancel()

		if err := controlClient().DeleteTunnel(ctx, args[0]); err != nil {
			logger.Error("Failed to delete tunnel: %v", err)
			os.Exit(1)
		}
		logger.Info("Deleted tunnel %s", args[0])
	},
}
