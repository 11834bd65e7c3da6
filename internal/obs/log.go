package obs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/lmittmann/tint"
)

var (
	loggerMu sync.RWMutex
	logger   = slog.New(slog.NewJSONHandler(os.Stdout, nil))
)

// Logger returns the shared structured logger used across the service.
func Logger() *slog.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return logger
}

// SetLogger replaces the shared logger and returns a func restoring the
// previous one.
func SetLogger(l *slog.Logger) (restore func()) {
	loggerMu.Lock()
	prev := logger
	logger = l
	loggerMu.Unlock()
	return func() {
		loggerMu.Lock()
		logger = prev
		loggerMu.Unlock()
	}
}

// NewLogger builds a logger writing to w. Format is "json" or "text"; text
// output is colourised by tint.
func NewLogger(w io.Writer, format, level string) (*slog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "json":
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})), nil
	case "text":
		return slog.New(tint.NewHandler(w, &tint.Options{Level: lvl, TimeFormat: time.Kitchen})), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

// SetupLogging installs a logger as both the shared and the slog default.
func SetupLogging(w io.Writer, format, level string) (*slog.Logger, error) {
	l, err := NewLogger(w, format, level)
	if err != nil {
		return nil, err
	}
	SetLogger(l)
	slog.SetDefault(l)
	return l, nil
}

// ParseLevel maps debug, info, warn and error onto slog levels.
func ParseLevel(level string) (slog.Level, error) {
	var lvl slog.Level
	if strings.TrimSpace(level) == "" {
		return slog.LevelInfo, nil
	}
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return 0, fmt.Errorf("parse log level: %w", err)
	}
	return lvl, nil
}

// LogRequest emits one structured line with common HTTP fields.
func LogRequest(ctx context.Context, attrs ...slog.Attr) {
	Logger().LogAttrs(ctx, slog.LevelInfo, "http request", attrs...)
}
