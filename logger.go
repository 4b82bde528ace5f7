package slidecache

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/primelux/slidecache/model"
)

// Logger wraps slog.Logger with slidecache-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithPhoto adds the photo id field to the logger.
func (l *Logger) WithPhoto(id model.PhotoID) *Logger {
	return &Logger{
		Logger: l.Logger.With("photo", string(id)),
	}
}

// WithIndex adds the collection index field to the logger.
func (l *Logger) WithIndex(index int) *Logger {
	return &Logger{
		Logger: l.Logger.With("index", index),
	}
}

// LogDecode logs a decode completion. Cancellations are logged at Debug:
// they are routine during rapid navigation, not errors.
func (l *Logger) LogDecode(ctx context.Context, id model.PhotoID, duration time.Duration, err error) {
	switch {
	case err == nil:
		l.DebugContext(ctx, "decode completed",
			"photo", string(id),
			"duration", duration,
		)
	case IsCancellation(err):
		l.DebugContext(ctx, "decode cancelled",
			"photo", string(id),
		)
	default:
		l.ErrorContext(ctx, "decode failed",
			"photo", string(id),
			"duration", duration,
			"error", err,
		)
	}
}

// LogWindow logs a window recompute.
func (l *Logger) LogWindow(ctx context.Context, lo, hi, misses int) {
	l.DebugContext(ctx, "window recomputed",
		"lo", lo,
		"hi", hi,
		"misses", misses,
	)
}

// LogEviction logs a cache eviction pass.
func (l *Logger) LogEviction(ctx context.Context, evicted int, bytes int64, demoted int) {
	l.DebugContext(ctx, "evicted entries",
		"count", evicted,
		"bytes", bytes,
		"demoted", demoted,
	)
}

// LogJump logs a priority jump.
func (l *Logger) LogJump(ctx context.Context, id model.PhotoID, index int) {
	l.InfoContext(ctx, "priority jump",
		"photo", string(id),
		"index", index,
	)
}

// LogSettings logs a settings epoch rollover.
func (l *Logger) LogSettings(ctx context.Context, epoch uint64, s Settings) {
	l.InfoContext(ctx, "settings updated",
		"epoch", epoch,
		"window_size", s.WindowSize,
		"max_memory_mb", s.MaxMemoryMB,
		"max_concurrent_loads", s.MaxConcurrentLoads,
	)
}
