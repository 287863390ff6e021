package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/burrowhq/burrow/internal/api"
	"github.com/burrowhq/burrow/internal/config"
	"github.com/burrowhq/burrow/internal/logging"
	"github.com/burrowhq/burrow/internal/tasks"
	"github.com/burrowhq/burrow/internal/tracing"
	"github.com/burrowhq/burrow/internal/tunnel"
)

const shutdownGrace = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load configuration: " + err.Error())
	}

	logging.Configure(&logging.Config{
		Level:      cfg.LogLevel,
		File:       cfg.LogFile,
		Timezone:   cfg.LogTimezone,
		MaxSize:    10,
		MaxBackups: 5,
		MaxAge:     30,
	})
	logger := logging.GetLogger()
	defer logger.Close()

	logger.Info("Starting %s %s (%s)", cfg.AppName, cfg.Version, cfg.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg)
	if err != nil {
		logger.Error("Failed to initialize tracing: %v", err)
		os.Exit(1)
	}

	registry := tunnel.NewRegistry(cfg.MaxTunnels)

	sweeper := tasks.NewTunnelSweeper(registry, cfg.CleanupInterval(), cfg.IdleThreshold(), logger)
	sweeper.Start()
	logger.Info("Started tunnel sweeper (interval %s, idle threshold %s)", cfg.CleanupInterval(), cfg.IdleThreshold())

	server := api.NewServer(cfg, registry, logger)
	httpServer := &http.Server{
		Addr:    cfg.Addr(),
		Handler: server.Handler(),
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Listening on %s", cfg.Addr())
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown: %v", err)
	}

	sweeper.Stop()

	// Fail any channels still attached so owners see a clean close.
	for _, info := range registry.List() {
		registry.Delete(info.TunnelID)
	}

	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("Tracing shutdown: %v", err)
	}

	logger.Info("Shutdown complete")
}
