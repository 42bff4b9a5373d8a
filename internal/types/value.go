package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

type ValueKind uint8

const (
	KindNull ValueKind = iota
	KindBool
	KindNumber
	KindString
	KindList
	KindMap
)

func (k ValueKind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return "unknown"
	}
}

// Value is a JSON-shaped structured value. The zero Value is null.
type Value struct {
	kind ValueKind
	b    bool
	n    float64
	s    string
	l    []Value
	m    Record
}

// Record maps field names to structured values.
type Record map[string]Value

func Null() Value               { return Value{} }
func Bool(v bool) Value         { return Value{kind: KindBool, b: v} }
func Number(v float64) Value    { return Value{kind: KindNumber, n: v} }
func String(v string) Value     { return Value{kind: KindString, s: v} }
func List(items ...Value) Value { return Value{kind: KindList, l: items} }
func Map(r Record) Value        { return Value{kind: KindMap, m: r} }

func (v Value) Kind() ValueKind { return v.kind }
func (v Value) IsNull() bool    { return v.kind == KindNull }

func (v Value) AsBool() (bool, bool) {
	return v.b, v.kind == KindBool
}

func (v Value) AsNumber() (float64, bool) {
	return v.n, v.kind == KindNumber
}

func (v Value) AsString() (string, bool) {
	return v.s, v.kind == KindString
}

func (v Value) AsList() ([]Value, bool) {
	return v.l, v.kind == KindList
}

func (v Value) AsMap() (Record, bool) {
	return v.m, v.kind == KindMap
}

// Numeric returns the value as a number, accepting numeric strings.
func (v Value) Numeric() (float64, bool) {
	switch v.kind {
	case KindNumber:
		return v.n, true
	case KindString:
		n, err := strconv.ParseFloat(strings.TrimSpace(v.s), 64)
		if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// Text renders scalars as plain strings. Lists and maps render as JSON.
func (v Value) Text() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindNumber:
		return strconv.FormatFloat(v.n, 'f', -1, 64)
	case KindString:
		return v.s
	default:
		data, _ := json.Marshal(v)
		return string(data)
	}
}

func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == other.b
	case KindNumber:
		return v.n == other.n
	case KindString:
		return v.s == other.s
	case KindList:
		if len(v.l) != len(other.l) {
			return false
		}
		for i := range v.l {
			if !v.l[i].Equal(other.l[i]) {
				return false
			}
		}
		return true
	case KindMap:
		return v.m.Equal(other.m)
	}
	return false
}

func (v Value) Clone() Value {
	switch v.kind {
	case KindList:
		items := make([]Value, len(v.l))
		for i, item := range v.l {
			items[i] = item.Clone()
		}
		return List(items...)
	case KindMap:
		return Map(v.m.Clone())
	default:
		return v
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.b)
	case KindNumber:
		if math.IsNaN(v.n) || math.IsInf(v.n, 0) {
			return nil, fmt.Errorf("unsupported number: %v", v.n)
		}
		return json.Marshal(v.n)
	case KindString:
		return json.Marshal(v.s)
	case KindList:
		if v.l == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.l)
	case KindMap:
		if v.m == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(v.m)
	default:
		return nil, fmt.Errorf("unknown value kind %d", v.kind)
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	parsed, err := FromAny(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// FromAny converts decoded JSON or plain Go values into a Value.
func FromAny(raw any) (Value, error) {
	switch t := raw.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case Record:
		return Map(t), nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case json.Number:
		n, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("invalid number %q: %w", t.String(), err)
		}
		return Number(n), nil
	case float64:
		return Number(t), nil
	case float32:
		return Number(float64(t)), nil
	case int:
		return Number(float64(t)), nil
	case int64:
		return Number(float64(t)), nil
	case int32:
		return Number(float64(t)), nil
	case []string:
		items := make([]Value, len(t))
		for i, s := range t {
			items[i] = String(s)
		}
		return List(items...), nil
	case []any:
		items := make([]Value, 0, len(t))
		for _, item := range t {
			converted, err := FromAny(item)
			if err != nil {
				return Value{}, err
			}
			items = append(items, converted)
		}
		return List(items...), nil
	case map[string]any:
		out := make(Record, len(t))
		for key, item := range t {
			converted, err := FromAny(item)
			if err != nil {
				return Value{}, fmt.Errorf("%s: %w", key, err)
			}
			out[key] = converted
		}
		return Map(out), nil
	default:
		return Value{}, fmt.Errorf("unsupported value type %T", raw)
	}
}

// RecordFromAny converts a decoded JSON object into a Record.
func RecordFromAny(raw map[string]any) (Record, error) {
	v, err := FromAny(raw)
	if err != nil {
		return nil, err
	}
	out, _ := v.AsMap()
	return out, nil
}

func (r Record) Get(key string) (Value, bool) {
	if r == nil {
		return Value{}, false
	}
	v, ok := r[key]
	return v, ok
}

// Lookup resolves a dotted path through nested maps.
func (r Record) Lookup(path string) (Value, bool) {
	current := r
	parts := strings.Split(path, ".")
	for i, part := range parts {
		v, ok := current.Get(part)
		if !ok {
			return Value{}, false
		}
		if i == len(parts)-1 {
			return v, true
		}
		next, ok := v.AsMap()
		if !ok {
			return Value{}, false
		}
		current = next
	}
	return Value{}, false
}

func (r Record) String(key string) string {
	v, ok := r.Get(key)
	if !ok {
		return ""
	}
	return v.Text()
}

func (r Record) Map(key string) Record {
	v, ok := r.Get(key)
	if !ok {
		return nil
	}
	m, _ := v.AsMap()
	return m
}

func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for key, v := range r {
		out[key] = v.Clone()
	}
	return out
}

// Merge returns a copy of r with the entries of other laid over it.
func (r Record) Merge(other Record) Record {
	out := r.Clone()
	if out == nil {
		out = Record{}
	}
	for key, v := range other {
		out[key] = v.Clone()
	}
	return out
}

func (r Record) Equal(other Record) bool {
	if len(r) != len(other) {
		return false
	}
	for key, v := range r {
		o, ok := other[key]
		if !ok || !v.Equal(o) {
			return false
		}
	}
	return true
}

func (r Record) Keys() []string {
	keys := make([]string, 0, len(r))
	for key := range r {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
