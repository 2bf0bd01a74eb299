package observability

import (
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Field names understood by the Cloud Logging ingestion agent.
const (
	TimestampKey    = "timestamp"
	SeverityKey     = "severity"
	MessageKey      = "message"
	TraceKey        = "logging.googleapis.com/trace"
	SpanIDKey       = "logging.googleapis.com/spanId"
	TraceSampledKey = "logging.googleapis.com/trace_sampled"
)

// ISO-8601, UTC, millisecond precision.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Level is the severity of a log event as seen by the encoder.
type Level int8

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
)

// levelUnknown marks events whose source level has no counterpart above.
const levelUnknown Level = -1

func (l Level) String() string {
	switch l {
	case LevelTrace:
		return "trace"
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return fmt.Sprintf("Level(%d)", int8(l))
	}
}

// SeverityFor maps a level to the Cloud Logging severity vocabulary.
// Trace and debug both map to DEBUG.
func SeverityFor(l Level) string {
	switch l {
	case LevelTrace, LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARNING"
	case LevelError:
		return "ERROR"
	default:
		return "DEFAULT"
	}
}

// LogEvent is one log record handed to the encoder.
type LogEvent struct {
	// Timestamp in milliseconds since the Unix epoch.
	Timestamp int64
	Level     Level
	Message   string
	// Fields may contain duplicate keys; the first occurrence wins.
	Fields []KeyValue
}

// TraceContext identifies the span active when an event was logged.
// TraceID, SpanID and Sampled are meaningful only when Valid is true.
type TraceContext struct {
	Valid   bool
	TraceID string
	SpanID  string
	Sampled bool
}

var emptyBytes = []byte{}

// jsonConfig leaves every entry key empty so that the zap JSON encoder
// writes only the fields it is given.
var jsonConfig = zapcore.EncoderConfig{LineEnding: "\n"}

// Encoder turns log events into newline-delimited JSON records in the
// shape expected by Cloud Logging. It is immutable and safe for
// concurrent use.
type Encoder struct {
	tracePrefix string
}

// NewEncoder returns an Encoder for the given project. An empty project
// id yields the prefix "projects//traces/".
func NewEncoder(projectID string) *Encoder {
	return &Encoder{tracePrefix: "projects/" + projectID + "/traces/"}
}

// TracePrefix returns the resource path prepended to trace ids.
func (e *Encoder) TracePrefix() string {
	return e.tracePrefix
}

// HeaderBytes returns the bytes written before the first record. Always empty.
func (e *Encoder) HeaderBytes() []byte {
	return emptyBytes
}

// FooterBytes returns the bytes written after the last record. Always empty.
func (e *Encoder) FooterBytes() []byte {
	return emptyBytes
}

// Encode renders one event as a single JSON object followed by '\n'.
//
// The record starts with timestamp, severity and message, then the trace
// correlation fields when tc is valid, then the event fields in order.
// Event fields whose key is already present are dropped.
func (e *Encoder) Encode(event LogEvent, tc TraceContext) ([]byte, error) {
	rec := newRecord(len(event.Fields) + 6)
	rec.put(TimestampKey, String(formatTimestamp(event.Timestamp)))
	rec.put(SeverityKey, String(SeverityFor(event.Level)))
	rec.put(MessageKey, String(event.Message))
	if tc.Valid {
		rec.put(TraceKey, String(e.tracePrefix+tc.TraceID))
		rec.put(SpanIDKey, String(tc.SpanID))
		rec.put(TraceSampledKey, String(strconv.FormatBool(tc.Sampled)))
	}
	for _, kv := range event.Fields {
		rec.put(kv.Key, kv.Value)
	}
	return rec.marshal()
}

func formatTimestamp(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(timestampLayout)
}

// record is an insertion-ordered key set where the first put of a key wins.
type record struct {
	kvs  []KeyValue
	seen map[string]struct{}
}

func newRecord(capacity int) *record {
	return &record{
		kvs:  make([]KeyValue, 0, capacity),
		seen: make(map[string]struct{}, capacity),
	}
}

func (r *record) put(key string, v Value) bool {
	if _, ok := r.seen[key]; ok {
		return false
	}
	r.seen[key] = struct{}{}
	r.kvs = append(r.kvs, KeyValue{Key: key, Value: v})
	return true
}

func (r *record) marshal() ([]byte, error) {
	enc := zapcore.NewJSONEncoder(jsonConfig)
	buf, err := enc.EncodeEntry(zapcore.Entry{}, []zapcore.Field{zap.Inline(objectMembers(r.kvs))})
	if err != nil {
		return nil, fmt.Errorf("encode log record: %w", err)
	}
	defer buf.Free()

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}
