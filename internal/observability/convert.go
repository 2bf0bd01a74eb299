package observability

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"
	"time"

	"github.com/valyala/fastjson"
	"go.uber.org/zap/zapcore"
)

// ErrUnsupportedValue is returned when an attached value cannot be
// represented as a Value.
var ErrUnsupportedValue = errors.New("unsupported log value")

var parserPool fastjson.ParserPool

// ValueOf converts a Go value into a Value. Primitives, slices and maps of
// them, errors, Stringers and times are converted directly; anything else
// goes through its JSON encoding, which keeps struct field order.
func ValueOf(v interface{}) (Value, error) {
	switch x := v.(type) {
	case nil:
		return Null(), nil
	case Value:
		return x, nil
	case string:
		return String(x), nil
	case bool:
		return Bool(x), nil
	case int:
		return Int(int64(x)), nil
	case int8:
		return Int(int64(x)), nil
	case int16:
		return Int(int64(x)), nil
	case int32:
		return Int(int64(x)), nil
	case int64:
		return Int(x), nil
	case uint:
		return Uint(uint64(x)), nil
	case uint8:
		return Uint(uint64(x)), nil
	case uint16:
		return Uint(uint64(x)), nil
	case uint32:
		return Uint(uint64(x)), nil
	case uint64:
		return Uint(x), nil
	case uintptr:
		return Uint(uint64(x)), nil
	case float32:
		return Float(float64(x)), nil
	case float64:
		return Float(x), nil
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return Int(i), nil
		}
		f, err := x.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("%w: number %q: %v", ErrUnsupportedValue, x, err)
		}
		return Float(f), nil
	case []byte:
		return String(base64.StdEncoding.EncodeToString(x)), nil
	case time.Time:
		return String(x.Format(time.RFC3339Nano)), nil
	case time.Duration:
		return String(x.String()), nil
	case error:
		return stringValue(x, func() string { return x.Error() })
	case fmt.Stringer:
		return stringValue(x, func() string { return x.String() })
	case []string:
		items := make([]Value, len(x))
		for i, s := range x {
			items[i] = String(s)
		}
		return Array(items...), nil
	case []interface{}:
		items := make([]Value, len(x))
		for i, item := range x {
			cv, err := ValueOf(item)
			if err != nil {
				return Value{}, err
			}
			items[i] = cv
		}
		return Array(items...), nil
	case map[string]string:
		members := make([]KeyValue, 0, len(x))
		for _, k := range sortedKeys(x) {
			members = append(members, KV(k, String(x[k])))
		}
		return Object(members...), nil
	case map[string]interface{}:
		members := make([]KeyValue, 0, len(x))
		for _, k := range sortedKeys(x) {
			cv, err := ValueOf(x[k])
			if err != nil {
				return Value{}, err
			}
			members = append(members, KV(k, cv))
		}
		return Object(members...), nil
	default:
		return valueFromJSON(v)
	}
}

// stringValue renders x with fn. A nil pointer receiver that makes fn panic
// renders as "<nil>", as zap's own encoders do; any other panic is reported
// as ErrUnsupportedValue.
func stringValue(x interface{}, fn func() string) (v Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			if rv := reflect.ValueOf(x); rv.Kind() == reflect.Pointer && rv.IsNil() {
				v, err = String("<nil>"), nil
				return
			}
			v, err = Value{}, fmt.Errorf("%w: %T panicked: %v", ErrUnsupportedValue, x, r)
		}
	}()
	return String(fn()), nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func valueFromJSON(v interface{}) (Value, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Value{}, fmt.Errorf("%w: %T: %v", ErrUnsupportedValue, v, err)
	}
	p := parserPool.Get()
	defer parserPool.Put(p)

	parsed, err := p.ParseBytes(raw)
	if err != nil {
		return Value{}, fmt.Errorf("%w: %T: %v", ErrUnsupportedValue, v, err)
	}
	return fromFastJSON(parsed), nil
}

// fromFastJSON copies a parsed document into a Value. Nothing may keep a
// reference into parser memory, so strings are copied.
func fromFastJSON(v *fastjson.Value) Value {
	switch v.Type() {
	case fastjson.TypeObject:
		o, _ := v.Object()
		members := make([]KeyValue, 0, o.Len())
		o.Visit(func(key []byte, mv *fastjson.Value) {
			members = append(members, KV(string(key), fromFastJSON(mv)))
		})
		return Object(members...)
	case fastjson.TypeArray:
		arr, _ := v.Array()
		items := make([]Value, len(arr))
		for i, item := range arr {
			items[i] = fromFastJSON(item)
		}
		return Array(items...)
	case fastjson.TypeString:
		b, _ := v.StringBytes()
		return String(string(b))
	case fastjson.TypeNumber:
		if i, err := v.Int64(); err == nil {
			return Int(i)
		}
		if u, err := v.Uint64(); err == nil {
			return Uint(u)
		}
		f, _ := v.Float64()
		return Float(f)
	case fastjson.TypeTrue:
		return Bool(true)
	case fastjson.TypeFalse:
		return Bool(false)
	default:
		return Null()
	}
}

// appendFields converts zap fields into key/values. A TraceField among
// them is returned separately instead of being appended.
func appendFields(dst []KeyValue, fields []zapcore.Field) ([]KeyValue, TraceContext, bool, error) {
	var (
		tc    TraceContext
		found bool
	)
	for _, f := range fields {
		if t, ok := traceFromField(f); ok {
			tc, found = t, true
			continue
		}
		var err error
		dst, err = appendField(dst, f)
		if err != nil {
			return dst, tc, found, err
		}
	}
	return dst, tc, found, nil
}

func appendField(dst []KeyValue, f zapcore.Field) ([]KeyValue, error) {
	switch f.Type {
	case zapcore.SkipType, zapcore.NamespaceType:
		// Namespaces are flattened: the fields that follow land at top level.
		return dst, nil
	case zapcore.StringType:
		return append(dst, KV(f.Key, String(f.String))), nil
	case zapcore.BoolType:
		return append(dst, KV(f.Key, Bool(f.Integer == 1))), nil
	case zapcore.Int64Type, zapcore.Int32Type, zapcore.Int16Type, zapcore.Int8Type:
		return append(dst, KV(f.Key, Int(f.Integer))), nil
	case zapcore.Uint64Type, zapcore.Uint32Type, zapcore.Uint16Type, zapcore.Uint8Type, zapcore.UintptrType:
		return append(dst, KV(f.Key, Uint(uint64(f.Integer)))), nil
	case zapcore.Float64Type:
		return append(dst, KV(f.Key, Float(math.Float64frombits(uint64(f.Integer))))), nil
	case zapcore.Float32Type:
		return append(dst, KV(f.Key, Float(float64(math.Float32frombits(uint32(f.Integer)))))), nil
	case zapcore.DurationType:
		return append(dst, KV(f.Key, String(time.Duration(f.Integer).String()))), nil
	case zapcore.TimeType:
		t := time.Unix(0, f.Integer)
		if loc, ok := f.Interface.(*time.Location); ok && loc != nil {
			t = t.In(loc)
		}
		return append(dst, KV(f.Key, String(t.Format(time.RFC3339Nano)))), nil
	case zapcore.TimeFullType:
		t, _ := f.Interface.(time.Time)
		return append(dst, KV(f.Key, String(t.Format(time.RFC3339Nano)))), nil
	case zapcore.ErrorType:
		e, _ := f.Interface.(error)
		if e == nil {
			return append(dst, KV(f.Key, Null())), nil
		}
		v, err := stringValue(e, func() string { return e.Error() })
		if err != nil {
			return dst, fmt.Errorf("field %q: %w", f.Key, err)
		}
		return append(dst, KV(f.Key, v)), nil
	case zapcore.StringerType:
		s, _ := f.Interface.(fmt.Stringer)
		if s == nil {
			return append(dst, KV(f.Key, Null())), nil
		}
		v, err := stringValue(s, func() string { return s.String() })
		if err != nil {
			return dst, fmt.Errorf("field %q: %w", f.Key, err)
		}
		return append(dst, KV(f.Key, v)), nil
	case zapcore.BinaryType:
		b, _ := f.Interface.([]byte)
		return append(dst, KV(f.Key, String(base64.StdEncoding.EncodeToString(b)))), nil
	case zapcore.ByteStringType:
		b, _ := f.Interface.([]byte)
		return append(dst, KV(f.Key, String(string(b)))), nil
	case zapcore.Complex128Type, zapcore.Complex64Type:
		return append(dst, KV(f.Key, String(fmt.Sprint(f.Interface)))), nil
	}

	// Objects, arrays, inline marshalers and reflected values: let the
	// field render itself into a map encoder and convert the result.
	m := zapcore.NewMapObjectEncoder()
	if f.Type == zapcore.InlineMarshalerType {
		// Marshal directly: through AddTo a failure would surface as an
		// ordinary "Error" member.
		if err := f.Interface.(zapcore.ObjectMarshaler).MarshalLogObject(m); err != nil {
			return dst, fmt.Errorf("%w: inline field: %v", ErrUnsupportedValue, err)
		}
		for _, k := range sortedKeys(m.Fields) {
			v, err := ValueOf(m.Fields[k])
			if err != nil {
				return dst, err
			}
			dst = append(dst, KV(k, v))
		}
		return dst, nil
	}
	f.AddTo(m)
	// A failing marshaler leaves a "<key>Error" entry behind.
	if msg, failed := m.Fields[f.Key+"Error"]; failed {
		return dst, fmt.Errorf("%w: field %q: %v", ErrUnsupportedValue, f.Key, msg)
	}
	raw, ok := m.Fields[f.Key]
	if !ok {
		return dst, nil
	}
	v, err := ValueOf(raw)
	if err != nil {
		return dst, fmt.Errorf("field %q: %w", f.Key, err)
	}
	return append(dst, KV(f.Key, v)), nil
}
