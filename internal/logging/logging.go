package logging

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// ANSI color codes for terminal output
const (
	colorRed    = "\033[97;41m" // White text on red background
	colorGreen  = "\033[97;42m" // White text on green background
	colorYellow = "\033[90;43m" // Black text on yellow background
	colorBlue   = "\033[97;44m" // White text on blue background
	colorCyan   = "\033[97;46m" // White text on cyan background
	colorReset  = "\033[0m"
)

// Log levels
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

var levelPriority = map[string]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

type Logger struct {
	*log.Logger
	writer   *lumberjack.Logger
	recent   *RecentBuffer
	location *time.Location
	minLevel int

	mu     sync.RWMutex
	closed bool
}

func NewLogger(config *Config) (*Logger, error) {
	// Expand home directory in log file path
	logFile := config.File
	if strings.HasPrefix(logFile, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		logFile = filepath.Join(homeDir, logFile[2:])
	}

	// Create log directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(logFile), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	// Set up log rotation
	writer := &lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    config.MaxSize, // MB
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAge, // days
		Compress:   true,
	}

	// Keep the most recent lines in memory for the admin logs endpoint
	recent := NewRecentBuffer(recentBufferCapacity)

	// Write to file, stdout, and the in-memory ring
	multiWriter := io.MultiWriter(writer, os.Stdout, recent)

	// Timestamps are rendered by hand so they honor the configured zone
	logger := log.New(multiWriter, "", 0)

	location, err := time.LoadLocation(config.Timezone)
	if err != nil {
		location = time.UTC
	}

	minLevel, ok := levelPriority[strings.ToLower(config.Level)]
	if !ok {
		minLevel = levelPriority[LevelInfo]
	}

	return &Logger{
		Logger:   logger,
		writer:   writer,
		recent:   recent,
		location: location,
		minLevel: minLevel,
	}, nil
}

// Close stops the logger. Late writes from goroutines still winding
// down are dropped so lumberjack does not reopen the log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return l.writer.Close()
}

// Recent returns up to limit of the most recent log lines, oldest first.
func (l *Logger) Recent(limit int) []string {
	return l.recent.Snapshot(limit)
}

func (l *Logger) logf(level, coloredPrefix, format string, v ...interface{}) {
	if levelPriority[level] < l.minLevel {
		return
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	timestamp := time.Now().In(l.location).Format("2006/01/02 15:04:05")
	l.Printf(timestamp+" "+coloredPrefix+" "+format, v...)
}

// Log methods with colors (always enabled for better visibility)
func (l *Logger) Debug(format string, v ...interface{}) {
	l.logf(LevelDebug, colorBlue+"[DEBUG]"+colorReset, format, v...)
}

func (l *Logger) Info(format string, v ...interface{}) {
	l.logf(LevelInfo, colorGreen+"[INFO]"+colorReset, format, v...)
}

func (l *Logger) Warn(format string, v ...interface{}) {
	l.logf(LevelWarn, colorYellow+"[WARN]"+colorReset, format, v...)
}

func (l *Logger) Error(format string, v ...interface{}) {
	l.logf(LevelError, colorRed+"[ERROR]"+colorReset, format, v...)
}

// FormatHTTPMethod returns a colored string based on the HTTP method
func (l *Logger) FormatHTTPMethod(method string) string {
	var color string
	switch method {
	case http.MethodGet:
		color = colorBlue
	case http.MethodPost:
		color = colorCyan
	case http.MethodPut, http.MethodPatch:
		color = colorYellow
	case http.MethodDelete:
		color = colorRed
	default:
		color = colorBlue
	}
	return fmt.Sprintf("%s %s %s", color, method, colorReset)
}

// FormatHTTPStatus returns a colored string based on the status code
func (l *Logger) FormatHTTPStatus(status int) string {
	var color string
	switch {
	case status >= 500:
		color = colorRed
	case status >= 400:
		color = colorYellow
	case status >= 300:
		color = colorCyan
	case status >= 200:
		color = colorGreen
	default:
		color = colorBlue
	}
	return fmt.Sprintf("%s %d %s", color, status, colorReset)
}

// LogHTTPRequest logs one handled HTTP request with colored output
func (l *Logger) LogHTTPRequest(method, path, clientIP string, status int, latency time.Duration) {
	l.logf(LevelInfo, "[HTTP]", "%s | %13v | %15s | %-17s %s",
		l.FormatHTTPStatus(status),
		latency,
		clientIP,
		l.FormatHTTPMethod(method),
		path,
	)
}
