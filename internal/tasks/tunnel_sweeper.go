package tasks

import (
	"sync"
	"time"

	"github.com/burrowhq/burrow/internal/logging"
	"github.com/burrowhq/burrow/internal/tunnel"
)

// TunnelSweeper handles periodic removal of expired tunnels
type TunnelSweeper struct {
	registry  *tunnel.Registry
	interval  time.Duration
	threshold time.Duration
	logger    *logging.Logger
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewTunnelSweeper creates a new tunnel sweeper task
func NewTunnelSweeper(registry *tunnel.Registry, interval, threshold time.Duration, logger *logging.Logger) *TunnelSweeper {
	return &TunnelSweeper{
		registry:  registry,
		interval:  interval,
		threshold: threshold,
		logger:    logger,
		done:      make(chan struct{}),
	}
}

// Start begins the sweeper task in the background
func (ts *TunnelSweeper) Start() {
	ts.wg.Add(1)
	go ts.runPeriodically()
}

// Stop gracefully stops the sweeper task
func (ts *TunnelSweeper) Stop() {
	close(ts.done)
	ts.wg.Wait()
}

// runPeriodically runs the sweep at regular intervals
func (ts *TunnelSweeper) runPeriodically() {
	defer ts.wg.Done()

	// Run immediately on startup
	ts.sweep()

	ticker := time.NewTicker(ts.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ts.sweep()
		case <-ts.done:
			ts.logger.Info("Tunnel sweeper stopped")
			return
		}
	}
}

// sweep performs the actual expiry pass
func (ts *TunnelSweeper) sweep() {
	removed := ts.registry.SweepExpired(ts.threshold)
	if removed > 0 {
		ts.logger.Info("Removed %d expired tunnel(s), %d remaining", removed, ts.registry.Count())
	}
}
