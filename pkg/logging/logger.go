// Package logging provides structured logging for cmd-queue, built on the
// standard library's slog so every backend and the CLI share one
// configuration surface.
package logging

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Logger is the interface every cmd-queue component logs through.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	With(args ...any) Logger
	WithContext(ctx context.Context) Logger
}

type slogLogger struct {
	logger *slog.Logger
}

// NewLogger creates a Logger from the given configuration. A nil config
// uses DefaultConfig().
func NewLogger(config *Config) Logger {
	if config == nil {
		config = DefaultConfig()
	}

	opts := &slog.HandlerOptions{
		Level: config.Level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.String(slog.TimeKey, a.Value.Time().Format(time.RFC3339))
			}
			return a
		},
	}

	var handler slog.Handler
	switch config.Format {
	case FormatJSON:
		handler = slog.NewJSONHandler(config.Output, opts)
	default:
		handler = slog.NewTextHandler(config.Output, opts)
	}

	logger := slog.New(handler).With("service", "cmd-queue")
	return &slogLogger{logger: logger}
}

func (l *slogLogger) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }
func (l *slogLogger) Info(msg string, args ...any)  { l.logger.Info(msg, args...) }
func (l *slogLogger) Warn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
func (l *slogLogger) Error(msg string, args ...any) { l.logger.Error(msg, args...) }

func (l *slogLogger) With(args ...any) Logger {
	return &slogLogger{logger: l.logger.With(args...)}
}

// WithContext attaches known context values (session id, job name) as log
// attributes, when present.
func (l *slogLogger) WithContext(ctx context.Context) Logger {
	attrs := make([]any, 0, 4)
	if sessionID := ctx.Value(ctxKeySessionID); sessionID != nil {
		attrs = append(attrs, "session_id", sessionID)
	}
	if jobName := ctx.Value(ctxKeyJobName); jobName != nil {
		attrs = append(attrs, "job", jobName)
	}
	if len(attrs) > 0 {
		return l.With(attrs...)
	}
	return l
}

type ctxKey int

const (
	ctxKeySessionID ctxKey = iota
	ctxKeyJobName
)

// WithSessionID returns a context carrying the session id for logging.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, ctxKeySessionID, sessionID)
}

// WithJobName returns a context carrying the job name for logging.
func WithJobName(ctx context.Context, jobName string) context.Context {
	return context.WithValue(ctx, ctxKeyJobName, jobName)
}

// Format represents the log output format.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Config holds logger configuration.
type Config struct {
	Level  slog.Level
	Format Format
	Output *os.File
}

// DefaultConfig returns a default logger configuration: info level, text
// format, stderr (so generated script output on stdout stays clean).
func DefaultConfig() *Config {
	return &Config{
		Level:  slog.LevelInfo,
		Format: FormatText,
		Output: os.Stderr,
	}
}

// NoOp returns a Logger that discards everything, for tests and for
// callers that never configured logging.
func NoOp() Logger {
	return &slogLogger{logger: slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError + 1}))}
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
