// Package logging provides the structured logger used throughout docchat,
// built on [log/slog]. It is configured once at startup via [New] and
// distributed through context values using [WithLogger] / [FromContext];
// the HTTP server attaches a request-scoped child logger per request.
//
// Environment variables (the DOCCHAT_-prefixed form wins when both are set):
//
//	DOCCHAT_LOG_LEVEL  / LOG_LEVEL  = debug | info | warn | error  (default: info)
//	DOCCHAT_LOG_FORMAT / LOG_FORMAT = json | text                  (default: json)
package logging

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// contextKey is an unexported type for context keys in this package.
type contextKey struct{}

// New constructs a [*slog.Logger] from environment variables.
// The format selects the handler (json for production, text for local dev);
// the level sets the minimum severity.
func New() *slog.Logger {
	level := parseLevel(envOr("DOCCHAT_LOG_LEVEL", "LOG_LEVEL"))

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.ToLower(envOr("DOCCHAT_LOG_FORMAT", "LOG_FORMAT")) == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}

// envOr returns the value of the first set, non-empty environment variable.
func envOr(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// WithLogger returns a copy of ctx carrying logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext returns the [*slog.Logger] stored in ctx.
// If no logger is present it returns [slog.Default] so callers never
// need to nil-check.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(contextKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}

// parseLevel converts a string to a [slog.Level], defaulting to Info.
func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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
