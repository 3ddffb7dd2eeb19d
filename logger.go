package edgecache

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with edgecache-specific context.
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
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
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
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithGeneration adds a generation field to the logger.
func (l *Logger) WithGeneration(gen string) *Logger {
	return &Logger{
		Logger: l.Logger.With("generation", gen),
	}
}

// WithStrategy adds a strategy field to the logger.
func (l *Logger) WithStrategy(strategy string) *Logger {
	return &Logger{
		Logger: l.Logger.With("strategy", strategy),
	}
}

// WithURL adds a url field to the logger.
func (l *Logger) WithURL(url string) *Logger {
	return &Logger{
		Logger: l.Logger.With("url", url),
	}
}

// WithTag adds a task tag field to the logger.
func (l *Logger) WithTag(tag string) *Logger {
	return &Logger{
		Logger: l.Logger.With("tag", tag),
	}
}

// LogFetch logs a fetch handling operation.
func (l *Logger) LogFetch(ctx context.Context, url, strategy string, status int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "fetch failed",
			"url", url,
			"strategy", strategy,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "fetch completed",
			"url", url,
			"strategy", strategy,
			"status", status,
		)
	}
}

// LogInstall logs an install operation.
func (l *Logger) LogInstall(ctx context.Context, gen string, assets int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "install failed",
			"generation", gen,
			"assets", assets,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "install completed",
			"generation", gen,
			"assets", assets,
		)
	}
}

// LogActivate logs an activate operation.
func (l *Logger) LogActivate(ctx context.Context, gen string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "activate failed",
			"generation", gen,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "activate completed",
			"generation", gen,
		)
	}
}

// LogMessage logs a control message dispatch.
func (l *Logger) LogMessage(ctx context.Context, msgType string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "message dispatch failed",
			"type", msgType,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "message dispatched",
			"type", msgType,
		)
	}
}

// LogTask logs a background task submission.
func (l *Logger) LogTask(ctx context.Context, tag string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "task submission failed",
			"tag", tag,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "task submitted",
			"tag", tag,
		)
	}
}

// LogRecover logs a current-generation recovery operation.
func (l *Logger) LogRecover(ctx context.Context, gen string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "recovery failed",
			"generation", gen,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "recovery completed",
			"generation", gen,
		)
	}
}
