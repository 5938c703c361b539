package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Field is a structured logging attribute.
type Field struct {
	Key   string
	Value any
}

func String(key, value string) Field          { return Field{Key: key, Value: value} }
func Int(key string, value int) Field         { return Field{Key: key, Value: value} }
func Float64(key string, value float64) Field { return Field{Key: key, Value: value} }
func Any(key string, value any) Field         { return Field{Key: key, Value: value} }
func Component(name string) Field             { return Field{Key: "component", Value: name} }
func Err(err error) Field                     { return Field{Key: "error", Value: err} }

// Logger is the structured logger every component receives.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...Field)
	Info(ctx context.Context, msg string, fields ...Field)
	Warn(ctx context.Context, msg string, fields ...Field)
	Error(ctx context.Context, msg string, fields ...Field)
	With(fields ...Field) Logger
}

// Config controls the slog handler.
type Config struct {
	Level     string // debug, info, warn, error
	Format    string // json or text
	AddSource bool
	Output    io.Writer
}

// New constructs a Logger backed by slog.
func New(cfg Config) Logger {
	opts := &slog.HandlerOptions{
		Level:     parseLevel(cfg.Level),
		AddSource: cfg.AddSource,
	}
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(out, opts)
	default:
		handler = slog.NewTextHandler(out, opts)
	}
	return &slogger{l: slog.New(handler)}
}

// NewFromEnv builds a logger from PHYSSYNC_LOG_LEVEL and PHYSSYNC_LOG_FORMAT.
func NewFromEnv() Logger {
	return New(Config{
		Level:  os.Getenv("PHYSSYNC_LOG_LEVEL"),
		Format: os.Getenv("PHYSSYNC_LOG_FORMAT"),
	})
}

// Noop returns a logger that drops everything.
func Noop() Logger { return noopLogger{} }

type slogger struct {
	l *slog.Logger
}

func (s *slogger) With(fields ...Field) Logger {
	return &slogger{l: s.l.With(toArgs(fields...)...)}
}

func (s *slogger) Debug(ctx context.Context, msg string, fields ...Field) {
	s.l.LogAttrs(ctx, slog.LevelDebug, msg, toAttrs(fields...)...)
}

func (s *slogger) Info(ctx context.Context, msg string, fields ...Field) {
	s.l.LogAttrs(ctx, slog.LevelInfo, msg, toAttrs(fields...)...)
}

func (s *slogger) Warn(ctx context.Context, msg string, fields ...Field) {
	s.l.LogAttrs(ctx, slog.LevelWarn, msg, toAttrs(fields...)...)
}

func (s *slogger) Error(ctx context.Context, msg string, fields ...Field) {
	s.l.LogAttrs(ctx, slog.LevelError, msg, toAttrs(fields...)...)
}

type noopLogger struct{}

func (noopLogger) With(...Field) Logger                    { return noopLogger{} }
func (noopLogger) Debug(context.Context, string, ...Field) {}
func (noopLogger) Info(context.Context, string, ...Field)  {}
func (noopLogger) Warn(context.Context, string, ...Field)  {}
func (noopLogger) Error(context.Context, string, ...Field) {}

// Entry is one message captured by a Recorder.
type Entry struct {
	Level  slog.Level
	Msg    string
	Fields []Field
}

// Recorder keeps every message in memory. Tests use it to assert on
// diagnostics.
type Recorder struct {
	entries *[]Entry
	fields  []Field
}

func NewRecorder() *Recorder {
	return &Recorder{entries: new([]Entry)}
}

func (r *Recorder) With(fields ...Field) Logger {
	return &Recorder{entries: r.entries, fields: append(append([]Field{}, r.fields...), fields...)}
}

func (r *Recorder) Debug(_ context.Context, msg string, fields ...Field) {
	r.add(slog.LevelDebug, msg, fields)
}

func (r *Recorder) Info(_ context.Context, msg string, fields ...Field) {
	r.add(slog.LevelInfo, msg, fields)
}

func (r *Recorder) Warn(_ context.Context, msg string, fields ...Field) {
	r.add(slog.LevelWarn, msg, fields)
}

func (r *Recorder) Error(_ context.Context, msg string, fields ...Field) {
	r.add(slog.LevelError, msg, fields)
}

func (r *Recorder) add(level slog.Level, msg string, fields []Field) {
	recorderMu.Lock()
	defer recorderMu.Unlock()
	*r.entries = append(*r.entries, Entry{
		Level:  level,
		Msg:    msg,
		Fields: append(append([]Field{}, r.fields...), fields...),
	})
}

// Entries returns the captured messages at or above level.
func (r *Recorder) Entries(level slog.Level) []Entry {
	recorderMu.Lock()
	defer recorderMu.Unlock()
	var out []Entry
	for _, e := range *r.entries {
		if e.Level >= level {
			out = append(out, e)
		}
	}
	return out
}

// Contains reports whether a message containing substr was captured at or
// above level.
func (r *Recorder) Contains(level slog.Level, substr string) bool {
	for _, e := range r.Entries(level) {
		if strings.Contains(e.Msg, substr) {
			return true
		}
	}
	return false
}

// recorderMu guards every Recorder sharing an entry slice through With.
var recorderMu sync.Mutex

func toAttrs(fields ...Field) []slog.Attr {
	attrs := make([]slog.Attr, 0, len(fields))
	for _, f := range fields {
		attrs = append(attrs, slog.Any(f.Key, f.Value))
	}
	return attrs
}

func toArgs(fields ...Field) []any {
	args := make([]any, 0, len(fields))
	for _, f := range fields {
		args = append(args, slog.Any(f.Key, f.Value))
	}
	return args
}

func parseLevel(level string) slog.Leveler {
	switch strings.ToLower(level) {
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
