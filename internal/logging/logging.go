// Package logging wraps log/slog with the engine's two fixed handlers
// (JSON for production, text for development) and keeps diagnostic output
// off stdout, generalizing gasoline-mcp's convention of a stderr-only
// diagnostic channel (recording.go's warning writes, debug_log.go's
// file-based debugf) now that logging is a first-class concern rather than
// an ad hoc fmt.Fprintf call.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
)

var (
	mu      sync.Mutex
	current *slog.Logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
)

// Format selects the handler used by New.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Options configures the process-wide logger.
type Options struct {
	Format Format
	Level  slog.Level
	Output io.Writer // defaults to os.Stderr
}

// New builds a logger per Options. Output defaults to os.Stderr so the
// logger never contaminates a stdout protocol surface or a session/evidence
// file (invariant: logs are never persisted into session state).
func New(opts Options) *slog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	handlerOpts := &slog.HandlerOptions{Level: opts.Level}

	var handler slog.Handler
	switch opts.Format {
	case FormatJSON:
		handler = slog.NewJSONHandler(out, handlerOpts)
	default:
		handler = slog.NewTextHandler(out, handlerOpts)
	}
	return slog.New(handler)
}

// SetDefault installs l as the process-wide logger returned by Default.
func SetDefault(l *slog.Logger) {
	mu.Lock()
	defer mu.Unlock()
	current = l
}

// Default returns the process-wide logger, initialized to a stderr text
// logger until SetDefault is called during startup configuration.
func Default() *slog.Logger {
	mu.Lock()
	defer mu.Unlock()
	return current
}

// Warn is a convenience wrapper around Default().WarnContext.
func Warn(ctx context.Context, msg string, args ...any) {
	Default().WarnContext(ctx, msg, args...)
}

// Error is a convenience wrapper around Default().ErrorContext.
func Error(ctx context.Context, msg string, args ...any) {
	Default().ErrorContext(ctx, msg, args...)
}
