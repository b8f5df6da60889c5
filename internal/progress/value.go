package progress

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Kind enumerates the primitive types a detail value may hold.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindFloat
	KindBool
)

// Value is a detail value restricted to string, integer, float or bool.
// The zero Value is the empty string.
type Value struct {
	kind Kind
	s    string
	i    int64
	f    float64
	b    bool
}

func String(s string) Value { return Value{kind: KindString, s: s} }

func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Float stores f; NaN and ±Inf become 0 so events stay serializable.
func Float(f float64) Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		f = 0
	}
	return Value{kind: KindFloat, f: f}
}

func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Kind reports the stored type.
func (v Value) Kind() Kind { return v.kind }

// Interface returns the value as a plain Go primitive.
func (v Value) Interface() interface{} {
	switch v.kind {
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindBool:
		return v.b
	default:
		return v.s
	}
}

// String renders the value as text.
func (v Value) String() string {
	switch v.kind {
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	default:
		return v.s
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

// Coerce converts an arbitrary value into a primitive Value. Numbers keep
// their numeric kind, durations become milliseconds, times become RFC3339
// strings and everything else is rendered with fmt.
func Coerce(x interface{}) Value {
	switch t := x.(type) {
	case nil:
		return String("")
	case Value:
		return t
	case string:
		return String(t)
	case bool:
		return Bool(t)
	case int:
		return Int(int64(t))
	case int8:
		return Int(int64(t))
	case int16:
		return Int(int64(t))
	case int32:
		return Int(int64(t))
	case int64:
		return Int(t)
	case uint:
		return Int(int64(t))
	case uint8:
		return Int(int64(t))
	case uint16:
		return Int(int64(t))
	case uint32:
		return Int(int64(t))
	case uint64:
		if t > math.MaxInt64 {
			return Float(float64(t))
		}
		return Int(int64(t))
	case float32:
		return Float(float64(t))
	case float64:
		return Float(t)
	case time.Duration:
		return Int(t.Milliseconds())
	case time.Time:
		return String(t.UTC().Format(time.RFC3339Nano))
	case error:
		return String(t.Error())
	case fmt.Stringer:
		return String(t.String())
	default:
		return String(fmt.Sprint(t))
	}
}

// Details is the flat key/value map carried by an event.
type Details map[string]Value

// DetailsFrom coerces every entry of m.
func DetailsFrom(m map[string]interface{}) Details {
	if len(m) == 0 {
		return nil
	}
	d := make(Details, len(m))
	for k, v := range m {
		d[k] = Coerce(v)
	}
	return d
}

// With returns a copy of d with key set to Coerce(v).
func (d Details) With(key string, v interface{}) Details {
	out := make(Details, len(d)+1)
	for k, val := range d {
		out[k] = val
	}
	out[key] = Coerce(v)
	return out
}
