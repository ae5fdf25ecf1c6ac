// Package observability provides structured logging with redaction and
// request-id propagation, grounded on the same log/slog + redactor shape
// the teacher's gateway uses.
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with redaction support so API keys never reach
// the log stream even when an upstream error body happens to echo one back.
type Logger struct {
	*slog.Logger
	redactor *Redactor
}

// Config controls how the root logger is constructed.
type Config struct {
	Level      slog.Level
	Output     io.Writer
	JSONFormat bool
}

// New creates a root Logger. A nil redactor disables redaction.
func New(cfg Config, redactor *Redactor) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: cfg.Level}

	var handler slog.Handler
	if cfg.JSONFormat {
		handler = slog.NewJSONHandler(cfg.Output, opts)
	} else {
		handler = slog.NewTextHandler(cfg.Output, opts)
	}

	return &Logger{Logger: slog.New(handler), redactor: redactor}
}

// WithRequestID returns a derived logger tagged with the request id found
// in ctx, or l unchanged if there is none.
func (l *Logger) WithRequestID(ctx context.Context) *Logger {
	id := RequestIDFromContext(ctx)
	if id == "" {
		return l
	}
	return &Logger{Logger: l.Logger.With("request_id", id), redactor: l.redactor}
}

// With returns a derived logger with additional fields attached.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...), redactor: l.redactor}
}

func (l *Logger) redact(msg string) string {
	if l.redactor == nil {
		return msg
	}
	return l.redactor.Redact(msg)
}

func (l *Logger) redactArgs(args []any) []any {
	if l.redactor == nil {
		return args
	}
	out := make([]any, len(args))
	for i, a := range args {
		switch v := a.(type) {
		case string:
			out[i] = l.redactor.Redact(v)
		case error:
			out[i] = l.redactor.Redact(v.Error())
		default:
			out[i] = a
		}
	}
	return out
}

func (l *Logger) Info(msg string, args ...any)  { l.Logger.Info(l.redact(msg), l.redactArgs(args)...) }
func (l *Logger) Warn(msg string, args ...any)  { l.Logger.Warn(l.redact(msg), l.redactArgs(args)...) }
func (l *Logger) Error(msg string, args ...any) { l.Logger.Error(l.redact(msg), l.redactArgs(args)...) }
func (l *Logger) Debug(msg string, args ...any) { l.Logger.Debug(l.redact(msg), l.redactArgs(args)...) }
