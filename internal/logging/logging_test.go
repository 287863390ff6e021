package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFileLogger(t *testing.T) (*Logger, string) {
	t.Helper()
	logFile := filepath.Join(t.TempDir(), "test.log")
	logger, err := NewLogger(&Config{
		Level:      LevelDebug,
		File:       logFile,
		Timezone:   "UTC",
		MaxSize:    1,
		MaxBackups: 1,
		MaxAge:     1,
	})
	require.NoError(t, err)
	return logger, logFile
}

func TestLoggerWritesToFileAndBuffer(t *testing.T) {
	logger, logFile := newFileLogger(t)
	defer logger.Close()

	logger.Info("hello %s", "world")

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello world")

	recent := logger.Recent(10)
	require.Len(t, recent, 1)
	assert.Contains(t, recent[0], "hello world")
}

func TestLoggerRespectsMinLevel(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "test.log")
	logger, err := NewLogger(&Config{
		Level:      LevelWarn,
		File:       logFile,
		Timezone:   "UTC",
		MaxSize:    1,
		MaxBackups: 1,
		MaxAge:     1,
	})
	require.NoError(t, err)
	defer logger.Close()

	logger.Debug("dropped")
	logger.Info("dropped")
	logger.Warn("kept")

	recent := logger.Recent(10)
	require.Len(t, recent, 1)
	assert.Contains(t, recent[0], "kept")
}

func TestLoggerDropsWritesAfterClose(t *testing.T) {
	logger, logFile := newFileLogger(t)

	logger.Info("before close")
	require.NoError(t, logger.Close())
	require.NoError(t, os.Remove(logFile))

	// A goroutine still winding down may log after Close; the line must
	// be dropped instead of reopening the file.
	logger.Info("after close")

	_, err := os.Stat(logFile)
	assert.True(t, os.IsNotExist(err))
	assert.Len(t, logger.Recent(10), 1)
}
