package obs

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

var logger atomic.Pointer[slog.Logger]

func init() {
	logger.Store(newLogger(os.Stdout, slog.LevelInfo, "json"))
}

// Logger returns the shared structured logger used across the service.
func Logger() *slog.Logger {
	return logger.Load()
}

// Configure replaces the process logger. Level is one of debug, info, warn
// or error; format is json or text.
func Configure(w io.Writer, level, format string) {
	if w == nil {
		w = os.Stdout
	}
	logger.Store(newLogger(w, ParseLevel(level), format))
}

// SetOutput redirects the logger to w at debug level and returns a function
// restoring the previous logger. Used by tests to capture output.
func SetOutput(w io.Writer) (restore func()) {
	prev := logger.Load()
	logger.Store(newLogger(w, slog.LevelDebug, "json"))
	return func() { logger.Store(prev) }
}

// ParseLevel maps a level name to a slog.Level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level, ReplaceAttr: renameTime}
	var h slog.Handler
	if strings.EqualFold(strings.TrimSpace(format), "text") {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	return slog.New(h)
}

// renameTime keeps the "ts" key used by log shippers.
func renameTime(groups []string, a slog.Attr) slog.Attr {
	if len(groups) == 0 && a.Key == slog.TimeKey {
		a.Key = "ts"
	}
	return a
}
