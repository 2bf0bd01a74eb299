package observability

import (
	"encoding/json"
	"errors"
	"math"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestValueOf_Primitives(t *testing.T) {
	tests := []struct {
		name string
		in   interface{}
		kind Kind
		want interface{}
	}{
		{"nil", nil, KindNull, nil},
		{"string", "s", KindString, "s"},
		{"bool", true, KindBool, true},
		{"int", 7, KindInt, int64(7)},
		{"int8", int8(-3), KindInt, int64(-3)},
		{"uint16", uint16(9), KindUint, uint64(9)},
		{"uint64 max", uint64(math.MaxUint64), KindUint, uint64(math.MaxUint64)},
		{"float32", float32(0.5), KindFloat, 0.5},
		{"json int", json.Number("12"), KindInt, int64(12)},
		{"json float", json.Number("1.25"), KindFloat, 1.25},
		{"bytes", []byte("hi"), KindString, "aGk="},
		{"duration", 1500 * time.Millisecond, KindString, "1.5s"},
		{"error", errors.New("bad"), KindString, "bad"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := ValueOf(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, v.Kind())
			assert.Equal(t, tt.want, v.Any())
		})
	}
}

func TestValueOf_MapsAreSorted(t *testing.T) {
	v, err := ValueOf(map[string]interface{}{"b": 1, "a": []interface{}{"x", nil}, "c": map[string]string{"z": "1", "y": "2"}})
	require.NoError(t, err)

	require.Equal(t, KindObject, v.Kind())
	members := v.Members()
	require.Len(t, members, 3)
	assert.Equal(t, "a", members[0].Key)
	assert.Equal(t, "b", members[1].Key)
	assert.Equal(t, "c", members[2].Key)
	assert.Equal(t, []interface{}{"x", nil}, members[0].Value.Any())
	assert.Equal(t, "y", members[2].Value.Members()[0].Key)
}

func TestValueOf_StructViaJSON(t *testing.T) {
	type usage struct {
		Prompt     int     `json:"prompt"`
		Candidates int     `json:"candidates"`
		Ratio      float64 `json:"ratio"`
		Tags       []string
		Skip       string `json:"-"`
	}

	v, err := ValueOf(usage{Prompt: 10, Candidates: 20, Ratio: 0.5, Tags: []string{"a"}})
	require.NoError(t, err)

	members := v.Members()
	require.Len(t, members, 4)
	assert.Equal(t, "prompt", members[0].Key)
	assert.Equal(t, "candidates", members[1].Key)
	assert.Equal(t, "ratio", members[2].Key)
	assert.Equal(t, "Tags", members[3].Key)
	assert.Equal(t, int64(20), members[1].Value.AsInt())
	assert.Equal(t, 0.5, members[2].Value.AsFloat())
}

func TestValueOf_Unsupported(t *testing.T) {
	_, err := ValueOf(make(chan int))
	assert.ErrorIs(t, err, ErrUnsupportedValue)

	_, err = ValueOf([]interface{}{1, func() {}})
	assert.ErrorIs(t, err, ErrUnsupportedValue)
}

type pair struct{ k, v string }

func (p pair) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString(p.k, p.v)
	return nil
}

type failing struct{}

func (failing) MarshalLogObject(zapcore.ObjectEncoder) error {
	return errors.New("cannot marshal")
}

func TestAppendFields(t *testing.T) {
	tc := TraceContext{Valid: true, TraceID: "t", SpanID: "s"}
	kvs, got, found, err := appendFields(nil, []zapcore.Field{
		zap.String("s", "v"),
		zap.Bool("b", false),
		zap.Float64("f", 2.5),
		zap.Uint32("u", 4),
		zap.Namespace("ns"),
		zap.Skip(),
		TraceField(tc),
		zap.Object("obj", pair{"k", "v"}),
		zap.Inline(pair{"inl", "x"}),
		zap.Strings("list", []string{"a", "b"}),
		zap.ByteString("raw", []byte("text")),
		zap.Stringer("dur", time.Second),
	})
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, tc, got)

	keys := make([]string, len(kvs))
	for i, kv := range kvs {
		keys[i] = kv.Key
	}
	assert.Equal(t, []string{"s", "b", "f", "u", "obj", "inl", "list", "raw", "dur"}, keys)
	assert.False(t, kvs[1].Value.AsBool())
	assert.Equal(t, 2.5, kvs[2].Value.AsFloat())
	assert.Equal(t, uint64(4), kvs[3].Value.AsUint())
	assert.Equal(t, map[string]interface{}{"k": "v"}, kvs[4].Value.Any())
	assert.Equal(t, "x", kvs[5].Value.AsString())
	assert.Equal(t, []interface{}{"a", "b"}, kvs[6].Value.Any())
	assert.Equal(t, "text", kvs[7].Value.AsString())
	assert.Equal(t, "1s", kvs[8].Value.AsString())
}

func TestAppendFields_MarshalerError(t *testing.T) {
	_, _, _, err := appendFields(nil, []zapcore.Field{zap.Object("obj", failing{})})
	assert.ErrorIs(t, err, ErrUnsupportedValue)
}

func TestAppendFields_InlineMarshalerError(t *testing.T) {
	kvs, _, _, err := appendFields(nil, []zapcore.Field{zap.String("a", "b"), zap.Inline(failing{})})

	assert.ErrorIs(t, err, ErrUnsupportedValue)
	for _, kv := range kvs {
		assert.NotEqual(t, "Error", kv.Key)
	}
}

// codeError dereferences its receiver, so a nil *codeError panics in Error.
type codeError struct{ code int }

func (e *codeError) Error() string { return "code " + string(rune('0'+e.code)) }

type explodingStringer struct{}

func (explodingStringer) String() string { panic("boom") }

func TestValueOf_TypedNilPointers(t *testing.T) {
	v, err := ValueOf((*url.URL)(nil))
	require.NoError(t, err)
	assert.Equal(t, "<nil>", v.AsString())

	var nilErr *codeError
	v, err = ValueOf(nilErr)
	require.NoError(t, err)
	assert.Equal(t, "<nil>", v.AsString())

	v, err = ValueOf(&codeError{code: 7})
	require.NoError(t, err)
	assert.Equal(t, "code 7", v.AsString())
}

func TestValueOf_PanickingStringer(t *testing.T) {
	_, err := ValueOf(explodingStringer{})
	assert.ErrorIs(t, err, ErrUnsupportedValue)
}

func TestAppendFields_TypedNilPointers(t *testing.T) {
	var nilErr *codeError
	kvs, _, _, err := appendFields(nil, []zapcore.Field{
		zap.Stringer("u", (*url.URL)(nil)),
		zap.Error(nilErr),
	})
	require.NoError(t, err)
	require.Len(t, kvs, 2)
	assert.Equal(t, "<nil>", kvs[0].Value.AsString())
	assert.Equal(t, "error", kvs[1].Key)
	assert.Equal(t, "<nil>", kvs[1].Value.AsString())

	_, _, _, err = appendFields(nil, []zapcore.Field{zap.Stringer("x", explodingStringer{})})
	assert.ErrorIs(t, err, ErrUnsupportedValue)
}
