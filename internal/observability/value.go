package observability

import (
	"math"

	"go.uber.org/zap/zapcore"
)

// Kind identifies which variant a Value holds.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindBool
	KindInt
	KindUint
	KindFloat
	KindObject
	KindArray
)

// String returns the lower-case name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindUint:
		return "uint"
	case KindFloat:
		return "float"
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	default:
		return "unknown"
	}
}

// Value is a closed, JSON-shaped value attached to a log event.
// The zero Value is null.
type Value struct {
	kind    Kind
	str     string
	num     uint64
	members []KeyValue
	items   []Value
}

// KeyValue is a single named value. Order is significant wherever
// KeyValues appear in a slice.
type KeyValue struct {
	Key   string
	Value Value
}

// KV is shorthand for KeyValue{Key: key, Value: v}.
func KV(key string, v Value) KeyValue {
	return KeyValue{Key: key, Value: v}
}

// Null returns the null value.
func Null() Value { return Value{} }

// String returns a text value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Bool returns a boolean value.
func Bool(b bool) Value {
	v := Value{kind: KindBool}
	if b {
		v.num = 1
	}
	return v
}

// Int returns a signed integer value.
func Int(i int64) Value { return Value{kind: KindInt, num: uint64(i)} }

// Uint returns an unsigned integer value.
func Uint(u uint64) Value { return Value{kind: KindUint, num: u} }

// Float returns a floating point value.
func Float(f float64) Value { return Value{kind: KindFloat, num: math.Float64bits(f)} }

// Object returns an object value whose members serialize in the given order.
func Object(members ...KeyValue) Value { return Value{kind: KindObject, members: members} }

// Array returns an array value.
func Array(items ...Value) Value { return Value{kind: KindArray, items: items} }

// Kind reports the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsString returns the text of a string value, or "" for other kinds.
func (v Value) AsString() string {
	if v.kind != KindString {
		return ""
	}
	return v.str
}

// AsBool returns the boolean held by v.
func (v Value) AsBool() bool { return v.kind == KindBool && v.num == 1 }

// AsInt returns the signed integer held by v.
func (v Value) AsInt() int64 { return int64(v.num) }

// AsUint returns the unsigned integer held by v.
func (v Value) AsUint() uint64 { return v.num }

// AsFloat returns the float held by v.
func (v Value) AsFloat() float64 { return math.Float64frombits(v.num) }

// Members returns the members of an object value.
func (v Value) Members() []KeyValue { return v.members }

// Items returns the elements of an array value.
func (v Value) Items() []Value { return v.items }

// Any converts v back to plain Go values, mostly useful in tests and for
// handing a value to APIs that expect interface{}.
func (v Value) Any() interface{} {
	switch v.kind {
	case KindString:
		return v.str
	case KindBool:
		return v.AsBool()
	case KindInt:
		return v.AsInt()
	case KindUint:
		return v.AsUint()
	case KindFloat:
		return v.AsFloat()
	case KindObject:
		m := make(map[string]interface{}, len(v.members))
		for _, kv := range v.members {
			if _, dup := m[kv.Key]; !dup {
				m[kv.Key] = kv.Value.Any()
			}
		}
		return m
	case KindArray:
		out := make([]interface{}, len(v.items))
		for i, item := range v.items {
			out[i] = item.Any()
		}
		return out
	default:
		return nil
	}
}

// objectMembers serializes an ordered member list through a zap encoder.
type objectMembers []KeyValue

func (o objectMembers) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	for _, kv := range o {
		if err := addValue(enc, kv.Key, kv.Value); err != nil {
			return err
		}
	}
	return nil
}

type arrayItems []Value

func (a arrayItems) MarshalLogArray(enc zapcore.ArrayEncoder) error {
	for _, item := range a {
		if err := appendValue(enc, item); err != nil {
			return err
		}
	}
	return nil
}

func addValue(enc zapcore.ObjectEncoder, key string, v Value) error {
	switch v.kind {
	case KindNull:
		return enc.AddReflected(key, nil)
	case KindString:
		enc.AddString(key, v.str)
	case KindBool:
		enc.AddBool(key, v.AsBool())
	case KindInt:
		enc.AddInt64(key, v.AsInt())
	case KindUint:
		enc.AddUint64(key, v.num)
	case KindFloat:
		enc.AddFloat64(key, v.AsFloat())
	case KindObject:
		return enc.AddObject(key, objectMembers(v.members))
	case KindArray:
		return enc.AddArray(key, arrayItems(v.items))
	}
	return nil
}

func appendValue(enc zapcore.ArrayEncoder, v Value) error {
	switch v.kind {
	case KindNull:
		return enc.AppendReflected(nil)
	case KindString:
		enc.AppendString(v.str)
	case KindBool:
		enc.AppendBool(v.AsBool())
	case KindInt:
		enc.AppendInt64(v.AsInt())
	case KindUint:
		enc.AppendUint64(v.num)
	case KindFloat:
		enc.AppendFloat64(v.AsFloat())
	case KindObject:
		return enc.AppendObject(objectMembers(v.members))
	case KindArray:
		return enc.AppendArray(arrayItems(v.items))
	}
	return nil
}
