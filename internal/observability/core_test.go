package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time                         { return c.t }
func (c fixedClock) NewTicker(d time.Duration) *time.Ticker { return time.NewTicker(d) }

var testTime = time.UnixMilli(testTimestamp)

func newTestLogger(t *testing.T, level zapcore.Level) (*zap.Logger, *bytes.Buffer) {
	t.Helper()
	buf := &bytes.Buffer{}
	core := NewCore(NewEncoder("proj1"), zapcore.AddSync(buf), level)
	return zap.New(core, zap.WithClock(fixedClock{t: testTime})), buf
}

func testSpanContext(t *testing.T, sampled bool) trace.SpanContext {
	t.Helper()
	tid, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	sid, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	cfg := trace.SpanContextConfig{TraceID: tid, SpanID: sid}
	if sampled {
		cfg.TraceFlags = trace.FlagsSampled
	}
	return trace.NewSpanContext(cfg)
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range bytes.Split(bytes.TrimSuffix(buf.Bytes(), []byte("\n")), []byte("\n")) {
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal(line, &m), string(line))
		out = append(out, m)
	}
	return out
}

func TestCore_MatchesEncoderOutput(t *testing.T) {
	logger, buf := newTestLogger(t, zapcore.DebugLevel)

	logger.Info("hello", zap.String("subject", "dog"), zap.Int("count", 3))

	want, err := NewEncoder("proj1").Encode(LogEvent{
		Timestamp: testTimestamp,
		Level:     LevelInfo,
		Message:   "hello",
		Fields:    []KeyValue{KV("subject", String("dog")), KV("count", Int(3))},
	}, TraceContext{})
	require.NoError(t, err)
	assert.Equal(t, string(want), buf.String())
}

func TestCore_LevelFiltering(t *testing.T) {
	logger, buf := newTestLogger(t, zapcore.InfoLevel)

	logger.Debug("dropped")
	logger.Warn("kept")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "WARNING", lines[0]["severity"])
	assert.Equal(t, "kept", lines[0]["message"])
}

func TestCore_WithFieldsComeFirst(t *testing.T) {
	logger, buf := newTestLogger(t, zapcore.DebugLevel)

	logger.With(zap.String("component", "facts")).
		Info("with fields", zap.String("component", "ignored"), zap.Bool("ok", true))

	assert.Equal(t,
		`{"timestamp":"2023-11-14T22:13:20.000Z","severity":"INFO","message":"with fields","component":"facts","ok":true}`+"\n",
		buf.String())
}

func TestCore_TraceFieldAddsCorrelation(t *testing.T) {
	logger, buf := newTestLogger(t, zapcore.DebugLevel)

	tc := TraceContext{Valid: true, TraceID: "abc123", SpanID: "def456", Sampled: true}
	logger.Error("traced", TraceField(tc))

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "projects/proj1/traces/abc123", lines[0]["logging.googleapis.com/trace"])
	assert.Equal(t, "def456", lines[0]["logging.googleapis.com/spanId"])
	assert.Equal(t, "true", lines[0]["logging.googleapis.com/trace_sampled"])
	assert.NotContains(t, lines[0], "logging.googleapis.com/traceContext")
}

func TestCore_TraceFieldViaWith(t *testing.T) {
	logger, buf := newTestLogger(t, zapcore.DebugLevel)

	tc := TraceContext{Valid: true, TraceID: "abc123", SpanID: "def456"}
	child := logger.With(TraceField(tc))
	child.Info("first")
	child.Info("second", TraceField(TraceContext{Valid: true, TraceID: "other", SpanID: "span"}))

	lines := decodeLines(t, buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "projects/proj1/traces/abc123", lines[0]["logging.googleapis.com/trace"])
	assert.Equal(t, "projects/proj1/traces/other", lines[1]["logging.googleapis.com/trace"])
}

func TestCore_StructFieldKeepsOrder(t *testing.T) {
	logger, buf := newTestLogger(t, zapcore.DebugLevel)

	payload := struct {
		Zebra int    `json:"zebra"`
		Alpha string `json:"alpha"`
	}{Zebra: 1, Alpha: "a"}
	logger.Info("struct", zap.Any("payload", payload))

	assert.Contains(t, buf.String(), `"payload":{"zebra":1,"alpha":"a"}`)
}

func TestCore_ErrorAndNamedLogger(t *testing.T) {
	logger, buf := newTestLogger(t, zapcore.DebugLevel)

	logger.Named("vertex").Warn("failed", zap.Error(errors.New("quota exceeded")))

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "quota exceeded", lines[0]["error"])
	assert.Equal(t, "vertex", lines[0]["logger"])
}

func TestCore_UnsupportedValue(t *testing.T) {
	buf := &bytes.Buffer{}
	core := NewCore(NewEncoder("proj1"), zapcore.AddSync(buf), zapcore.DebugLevel)

	err := core.Write(zapcore.Entry{Level: zapcore.InfoLevel, Time: testTime, Message: "bad"},
		[]zapcore.Field{zap.Reflect("ch", make(chan int))})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedValue)
	assert.Zero(t, buf.Len())
}

func TestCore_UnsupportedValueInWith(t *testing.T) {
	buf := &bytes.Buffer{}
	core := NewCore(NewEncoder("proj1"), zapcore.AddSync(buf), zapcore.DebugLevel).
		With([]zapcore.Field{zap.Reflect("fn", func() {})})

	err := core.Write(zapcore.Entry{Level: zapcore.InfoLevel, Time: testTime, Message: "bad"}, nil)

	assert.ErrorIs(t, err, ErrUnsupportedValue)
	assert.Zero(t, buf.Len())
}

func TestCore_TypedNilFieldsDoNotPanic(t *testing.T) {
	logger, buf := newTestLogger(t, zapcore.DebugLevel)
	var nilErr *codeError

	require.NotPanics(t, func() {
		logger.Info("m", zap.Stringer("u", (*url.URL)(nil)), zap.Error(nilErr))
	})

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "<nil>", lines[0]["u"])
	assert.Equal(t, "<nil>", lines[0]["error"])
}

func TestCore_PanickingStringerIsReported(t *testing.T) {
	buf := &bytes.Buffer{}
	core := NewCore(NewEncoder("proj1"), zapcore.AddSync(buf), zapcore.DebugLevel)

	var err error
	require.NotPanics(t, func() {
		err = core.Write(zapcore.Entry{Level: zapcore.InfoLevel, Time: testTime, Message: "m"},
			[]zapcore.Field{zap.Stringer("x", explodingStringer{})})
	})
	assert.ErrorIs(t, err, ErrUnsupportedValue)
	assert.Zero(t, buf.Len())
}

// lockedBuffer serializes writes the way zapcore.Lock does for os.Stdout.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) Sync() error { return nil }

func TestCore_ConcurrentWrites(t *testing.T) {
	const goroutines, perGoroutine = 8, 200

	out := &lockedBuffer{}
	tc := TraceContext{Valid: true, TraceID: "abc", SpanID: "def", Sampled: true}
	logger := zap.New(NewCore(NewEncoder("proj1"), out, zapcore.DebugLevel),
		zap.WithClock(fixedClock{t: testTime})).With(TraceField(tc), zap.String("component", "facts"))

	want, err := NewEncoder("proj1").Encode(LogEvent{
		Timestamp: testTimestamp,
		Level:     LevelInfo,
		Message:   "hello",
		Fields:    []KeyValue{KV("component", String("facts")), KV("n", Int(1))},
	}, tc)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				logger.Info("hello", zap.Int("n", 1))
			}
		}()
	}
	wg.Wait()

	lines := bytes.SplitAfter(out.buf.Bytes(), []byte("\n"))
	lines = lines[:len(lines)-1]
	require.Len(t, lines, goroutines*perGoroutine)
	for i, line := range lines {
		require.Equal(t, string(want), string(line), fmt.Sprintf("line %d", i))
	}
}

func TestLogger_AttachesSpanFromContext(t *testing.T) {
	z, buf := newTestLogger(t, TraceLevel)
	logger := NewLogger(z)
	ctx := trace.ContextWithSpanContext(context.Background(), testSpanContext(t, true))

	logger.Trace(ctx, "from context", zap.String("subject", "cat"))

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "DEBUG", lines[0]["severity"])
	assert.Equal(t, "projects/proj1/traces/4bf92f3577b34da6a3ce929d0e0e4736", lines[0]["logging.googleapis.com/trace"])
	assert.Equal(t, "00f067aa0ba902b7", lines[0]["logging.googleapis.com/spanId"])
	assert.Equal(t, "true", lines[0]["logging.googleapis.com/trace_sampled"])
	assert.Equal(t, "cat", lines[0]["subject"])
}

func TestLogger_NoSpanNoCorrelation(t *testing.T) {
	z, buf := newTestLogger(t, zapcore.DebugLevel)
	logger := NewLogger(z)

	logger.Info(context.Background(), "plain")
	logger.With(zap.String("k", "v")).Warn(context.Background(), "child")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 2)
	for _, line := range lines {
		assert.NotContains(t, line, "logging.googleapis.com/trace")
	}
	assert.Equal(t, "v", lines[1]["k"])
}

func TestLogger_DoesNotMutateCallerFields(t *testing.T) {
	z, _ := newTestLogger(t, zapcore.DebugLevel)
	logger := NewLogger(z)
	ctx := trace.ContextWithSpanContext(context.Background(), testSpanContext(t, false))

	fields := make([]Field, 1, 4)
	fields[0] = zap.String("a", "b")
	logger.Info(ctx, "m", fields...)

	assert.Len(t, fields, 1)
	assert.Equal(t, zap.Field{}, fields[:2][1])
}

func TestTraceContextFromContext(t *testing.T) {
	assert.False(t, TraceContextFromContext(context.Background()).Valid)

	ctx := trace.ContextWithSpanContext(context.Background(), testSpanContext(t, false))
	tc := TraceContextFromContext(ctx)
	assert.True(t, tc.Valid)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", tc.TraceID)
	assert.Equal(t, "00f067aa0ba902b7", tc.SpanID)
	assert.False(t, tc.Sampled)
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("TRACE")
	require.NoError(t, err)
	assert.Equal(t, TraceLevel, lvl)

	lvl, err = ParseLevel("warn")
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, lvl)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}

func TestNewZapLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	logger, closeFn, err := NewZapLogger(NewEncoder("p"), zapcore.AddSync(buf), "info")
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("shown")
	require.NoError(t, closeFn())

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "shown", lines[0]["message"])

	_, _, err = NewZapLogger(NewEncoder("p"), zapcore.AddSync(buf), "nope")
	assert.Error(t, err)
}
