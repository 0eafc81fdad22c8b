package logger

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	defaultLogger *slog.Logger
	once          sync.Once
)

// Get returns the global logger instance, initializing it once
func Get() *slog.Logger {
	once.Do(func() {
		defaultLogger = initLogger()
	})
	return defaultLogger
}

// initLogger creates the global logger that writes to resolve.log in the
// user cache directory, with lumberjack rotation keeping the file small.
// If the log file cannot be created, returns a no-op logger that discards all output
func initLogger() *slog.Logger {
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	logDir := filepath.Join(cacheDir, "artresolve")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	logWriter := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, "resolve.log"),
		MaxSize:    1, // MB
		MaxBackups: 0,
		MaxAge:     0,
		Compress:   false,
	}

	handler := slog.NewTextHandler(logWriter, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})

	return slog.New(handler)
}
