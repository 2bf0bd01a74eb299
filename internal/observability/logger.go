package observability

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger provides structured logging with context awareness.
type Logger interface {
	Trace(ctx context.Context, msg string, fields ...Field)
	Debug(ctx context.Context, msg string, fields ...Field)
	Info(ctx context.Context, msg string, fields ...Field)
	Warn(ctx context.Context, msg string, fields ...Field)
	Error(ctx context.Context, msg string, fields ...Field)

	// With returns a Logger that adds fields to every entry.
	With(fields ...Field) Logger
	// Zap exposes the underlying logger for components that take *zap.Logger.
	Zap() *zap.Logger
}

// Field represents a structured log field.
type Field = zap.Field

// TraceContextFromSpanContext converts an OpenTelemetry span context.
func TraceContextFromSpanContext(sc trace.SpanContext) TraceContext {
	if !sc.IsValid() {
		return TraceContext{}
	}
	return TraceContext{
		Valid:   true,
		TraceID: sc.TraceID().String(),
		SpanID:  sc.SpanID().String(),
		Sampled: sc.IsSampled(),
	}
}

// TraceContextFromContext returns the trace context of the span carried by
// ctx, or an invalid TraceContext when there is none.
func TraceContextFromContext(ctx context.Context) TraceContext {
	if ctx == nil {
		return TraceContext{}
	}
	return TraceContextFromSpanContext(trace.SpanContextFromContext(ctx))
}

type contextLogger struct {
	z *zap.Logger
}

// NewLogger wraps z so that each call attaches the trace context found in
// the call's ctx.
func NewLogger(z *zap.Logger) Logger {
	return &contextLogger{z: z}
}

// NewNopLogger returns a Logger that discards everything.
func NewNopLogger() Logger {
	return &contextLogger{z: zap.NewNop()}
}

func (l *contextLogger) Trace(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, TraceLevel, msg, fields)
}

func (l *contextLogger) Debug(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, zapcore.DebugLevel, msg, fields)
}

func (l *contextLogger) Info(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, zapcore.InfoLevel, msg, fields)
}

func (l *contextLogger) Warn(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, zapcore.WarnLevel, msg, fields)
}

func (l *contextLogger) Error(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, zapcore.ErrorLevel, msg, fields)
}

func (l *contextLogger) With(fields ...Field) Logger {
	return &contextLogger{z: l.z.With(fields...)}
}

func (l *contextLogger) Zap() *zap.Logger {
	return l.z
}

func (l *contextLogger) log(ctx context.Context, lvl zapcore.Level, msg string, fields []Field) {
	ce := l.z.Check(lvl, msg)
	if ce == nil {
		return
	}
	if tc := TraceContextFromContext(ctx); tc.Valid {
		fields = append(fields[:len(fields):len(fields)], TraceField(tc))
	}
	ce.Write(fields...)
}

// ParseLevel parses a level name. It accepts "trace" in addition to the
// names zapcore understands.
func ParseLevel(s string) (zapcore.Level, error) {
	if strings.EqualFold(strings.TrimSpace(s), "trace") {
		return TraceLevel, nil
	}
	return zapcore.ParseLevel(s)
}

// NewZapLogger builds the process logger: entries at or above level are
// encoded by enc and written to out. The returned close function writes
// the encoder footer and flushes out.
func NewZapLogger(enc *Encoder, out zapcore.WriteSyncer, level string) (*zap.Logger, func() error, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	core := NewCore(enc, out, zap.NewAtomicLevelAt(lvl))
	closeFn := func() error {
		if footer := enc.FooterBytes(); len(footer) > 0 {
			if _, err := out.Write(footer); err != nil {
				return err
			}
		}
		return out.Sync()
	}
	return zap.New(core), closeFn, nil
}
