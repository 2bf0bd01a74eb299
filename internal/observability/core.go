package observability

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// TraceLevel sits one step below zap's DebugLevel.
const TraceLevel = zapcore.DebugLevel - 1

// traceFieldKey names the carrier field built by TraceField. The field is
// skip-typed, so cores other than the cloud core never render it.
const traceFieldKey = "logging.googleapis.com/traceContext"

// TraceField attaches tc to a single log call or, through With, to every
// call made on the derived logger.
func TraceField(tc TraceContext) zap.Field {
	return zap.Field{Key: traceFieldKey, Type: zapcore.SkipType, Interface: tc}
}

func traceFromField(f zapcore.Field) (TraceContext, bool) {
	if f.Type != zapcore.SkipType || f.Key != traceFieldKey {
		return TraceContext{}, false
	}
	tc, ok := f.Interface.(TraceContext)
	return tc, ok
}

func levelFromZap(l zapcore.Level) Level {
	switch l {
	case TraceLevel:
		return LevelTrace
	case zapcore.DebugLevel:
		return LevelDebug
	case zapcore.InfoLevel:
		return LevelInfo
	case zapcore.WarnLevel:
		return LevelWarn
	case zapcore.ErrorLevel:
		return LevelError
	default:
		return levelUnknown
	}
}

// cloudCore is a zapcore.Core that writes every entry through an Encoder.
type cloudCore struct {
	zapcore.LevelEnabler
	enc    *Encoder
	out    zapcore.WriteSyncer
	fields []KeyValue
	trace  TraceContext
	// err holds a conversion failure from With; every Write reports it.
	err error
}

// NewCore returns a core that encodes entries with enc and writes them to out.
func NewCore(enc *Encoder, out zapcore.WriteSyncer, enab zapcore.LevelEnabler) zapcore.Core {
	if header := enc.HeaderBytes(); len(header) > 0 {
		_, _ = out.Write(header)
	}
	return &cloudCore{
		LevelEnabler: enab,
		enc:          enc,
		out:          out,
	}
}

func (c *cloudCore) With(fields []zapcore.Field) zapcore.Core {
	clone := *c
	base := make([]KeyValue, len(c.fields), len(c.fields)+len(fields))
	copy(base, c.fields)

	kvs, tc, found, err := appendFields(base, fields)
	clone.fields = kvs
	if found {
		clone.trace = tc
	}
	if err != nil && clone.err == nil {
		clone.err = err
	}
	return &clone
}

func (c *cloudCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *cloudCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	if c.err != nil {
		return c.err
	}

	kvs := make([]KeyValue, len(c.fields), len(c.fields)+len(fields)+2)
	copy(kvs, c.fields)
	kvs, tc, found, err := appendFields(kvs, fields)
	if err != nil {
		return err
	}
	if !found {
		tc = c.trace
	}
	if ent.LoggerName != "" {
		kvs = append(kvs, KV("logger", String(ent.LoggerName)))
	}
	if ent.Stack != "" {
		kvs = append(kvs, KV("stack_trace", String(ent.Stack)))
	}

	event := LogEvent{
		Timestamp: ent.Time.UnixMilli(),
		Level:     levelFromZap(ent.Level),
		Message:   ent.Message,
		Fields:    kvs,
	}
	b, err := c.enc.Encode(event, tc)
	if err != nil {
		return err
	}
	if _, err := c.out.Write(b); err != nil {
		return err
	}
	if ent.Level > zapcore.ErrorLevel {
		// Flush before a panic or exit.
		return c.out.Sync()
	}
	return nil
}

func (c *cloudCore) Sync() error {
	return c.out.Sync()
}
