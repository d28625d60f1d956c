// Package logging provides the SDK's structured logging, wired through
// log/slog the way bureau-foundation-bureau's daemon does it, in place
// of the teacher's deprecated shared/logger shim.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// New builds a JSON-handler slog.Logger at the given level writing to w.
// A nil w defaults to os.Stderr.
func New(level slog.Level, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(h)
}

// Nop returns a logger that discards everything, for callers that did
// not configure one.
func Nop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type ctxKey struct{}

// With returns a context carrying logger, retrievable via From.
func With(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// From returns the logger stashed in ctx by With, or Nop() if none was
// ever attached.
func From(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return Nop()
}
