// Package logger provides structured logging on top of log/slog with
// trace correlation for OpenTelemetry spans.
package logger

import (
	"context"
	"io"
	"log/slog"
	"runtime"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Level represents logging levels.
type Level slog.Level

// Logging levels.
const (
	LevelDebug = Level(slog.LevelDebug)
	LevelInfo  = Level(slog.LevelInfo)
	LevelWarn  = Level(slog.LevelWarn)
	LevelError = Level(slog.LevelError)
)

// ParseLevel converts a config string into a Level. Unknown values map to Info.
func ParseLevel(s string) Level {
	switch s {
	case "debug":
		return LevelDebug
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// EventFunc is called for every log record, for example to forward fatal
// records to an alerting surface.
type EventFunc func(ctx context.Context, msg string)

// LoggerInterface defines the logging contract used across the engine.
// All methods accept a context so records can be enriched with the active
// trace and span IDs.
type LoggerInterface interface {
	Debug(ctx context.Context, msg string, args ...any)
	Info(ctx context.Context, msg string, args ...any)
	Warn(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)
	With(args ...any) LoggerInterface
}

// Logger implements LoggerInterface using slog with a JSON handler.
type Logger struct {
	handler slog.Handler
	events  EventFunc
}

// New constructs a Logger writing to w at the given minimum level.
// service is attached to every record; events may be nil.
func New(w io.Writer, minLevel Level, service string, events EventFunc) *Logger {
	handler := slog.Handler(slog.NewJSONHandler(w, &slog.HandlerOptions{
		AddSource: true,
		Level:     slog.Level(minLevel),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.SourceKey {
				if src, ok := a.Value.Any().(*slog.Source); ok {
					v := src.File
					if idx := lastSlash(v); idx >= 0 {
						v = v[idx+1:]
					}
					a.Value = slog.StringValue(v)
				}
			}
			return a
		},
	}))

	handler = handler.WithAttrs([]slog.Attr{slog.String("service", service)})

	return &Logger{handler: handler, events: events}
}

// NewStdLogger returns a Logger suitable for tests, writing to w at Info.
func NewStdLogger(w io.Writer) *Logger {
	return New(w, LevelInfo, "test", nil)
}

// Debug logs at debug level.
func (l *Logger) Debug(ctx context.Context, msg string, args ...any) {
	l.write(ctx, slog.LevelDebug, msg, args...)
}

// Info logs at info level.
func (l *Logger) Info(ctx context.Context, msg string, args ...any) {
	l.write(ctx, slog.LevelInfo, msg, args...)
}

// Warn logs at warn level.
func (l *Logger) Warn(ctx context.Context, msg string, args ...any) {
	l.write(ctx, slog.LevelWarn, msg, args...)
}

// Error logs at error level.
func (l *Logger) Error(ctx context.Context, msg string, args ...any) {
	l.write(ctx, slog.LevelError, msg, args...)

	if l.events != nil {
		l.events(ctx, msg)
	}
}

// With returns a Logger with additional attributes attached to every record.
func (l *Logger) With(args ...any) LoggerInterface {
	var attrs []slog.Attr
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		attrs = append(attrs, slog.Any(key, args[i+1]))
	}
	return &Logger{handler: l.handler.WithAttrs(attrs), events: l.events}
}

func (l *Logger) write(ctx context.Context, level slog.Level, msg string, args ...any) {
	if !l.handler.Enabled(ctx, level) {
		return
	}

	var pcs [1]uintptr
	runtime.Callers(3, pcs[:]) // skip Callers, write, and the public wrapper

	r := slog.NewRecord(time.Now(), level, msg, pcs[0])
	r.Add(args...)

	// Correlate with the active span if one exists.
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		r.Add(
			"trace_id", span.SpanContext().TraceID().String(),
			"span_id", span.SpanContext().SpanID().String(),
		)
	}

	_ = l.handler.Handle(ctx, r)
}

func lastSlash(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '/' {
			return i
		}
	}
	return -1
}
