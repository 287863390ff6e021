package tasks

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/burrowhq/burrow/internal/logging"
	"github.com/burrowhq/burrow/internal/tunnel"
)

func TestTunnelSweeper(t *testing.T) {
	logger, err := logging.NewLogger(&logging.Config{
		Level:    "error",
		File:     filepath.Join(t.TempDir(), "test.log"),
		Timezone: "UTC",
		MaxSize:  1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { logger.Close() })

	registry := tunnel.NewRegistry(100)
	_, err = registry.Create("stale", 0, nil)
	require.NoError(t, err)

	// With a sub-millisecond threshold the fresh tunnel counts as idle
	// almost immediately.
	sweeper := NewTunnelSweeper(registry, 10*time.Millisecond, time.Microsecond, logger)
	sweeper.Start()
	defer sweeper.Stop()

	require.Eventually(t, func() bool {
		return registry.Count() == 0
	}, time.Second, 10*time.Millisecond)
}
