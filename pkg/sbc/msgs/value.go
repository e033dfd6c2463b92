package msgs

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/robotalks/sbclink/pkg/sbc/wire"
)

// Value is a typed value of a code parameter or object model field.
type Value struct {
	Type   wire.DataType `json:"type"`
	Int    int32         `json:"int,omitempty"`
	UInt   uint32        `json:"uint,omitempty"`
	Float  float32       `json:"float,omitempty"`
	Ints   []int32       `json:"ints,omitempty"`
	UInts  []uint32      `json:"uints,omitempty"`
	Floats []float32     `json:"floats,omitempty"`
	String string        `json:"string,omitempty"`
}

// IntValue creates a signed integer value.
func IntValue(v int32) Value { return Value{Type: wire.TypeInt, Int: v} }

// UIntValue creates an unsigned integer value.
func UIntValue(v uint32) Value { return Value{Type: wire.TypeUInt, UInt: v} }

// FloatValue creates a float value.
func FloatValue(v float32) Value { return Value{Type: wire.TypeFloat, Float: v} }

// IntArrayValue creates a signed integer array value.
func IntArrayValue(v ...int32) Value { return Value{Type: wire.TypeIntArray, Ints: v} }

// UIntArrayValue creates an unsigned integer array value.
func UIntArrayValue(v ...uint32) Value { return Value{Type: wire.TypeUIntArray, UInts: v} }

// FloatArrayValue creates a float array value.
func FloatArrayValue(v ...float32) Value { return Value{Type: wire.TypeFloatArray, Floats: v} }

// StringValue creates a string value.
func StringValue(v string) Value { return Value{Type: wire.TypeString, String: v} }

// ExpressionValue creates an expression value.
func ExpressionValue(v string) Value { return Value{Type: wire.TypeExpression, String: v} }

// slot returns the fixed 32-bit slot: scalar bits, element count or byte count.
func (v *Value) slot() uint32 {
	switch v.Type {
	case wire.TypeInt:
		return uint32(v.Int)
	case wire.TypeUInt:
		return v.UInt
	case wire.TypeFloat:
		return math.Float32bits(v.Float)
	case wire.TypeIntArray:
		return uint32(len(v.Ints))
	case wire.TypeUIntArray:
		return uint32(len(v.UInts))
	case wire.TypeFloatArray:
		return uint32(len(v.Floats))
	}
	return uint32(len(v.String))
}

func (v *Value) encodeData(e *encoder) {
	switch v.Type {
	case wire.TypeIntArray:
		for _, n := range v.Ints {
			e.u32(uint32(n))
		}
	case wire.TypeUIntArray:
		for _, n := range v.UInts {
			e.u32(n)
		}
	case wire.TypeFloatArray:
		e.floats(v.Floats)
	case wire.TypeString, wire.TypeExpression:
		e.padded([]byte(v.String))
	}
}

func decodeValue(typ wire.DataType, slot uint32, d *decoder) (Value, error) {
	v := Value{Type: typ}
	switch typ {
	case wire.TypeInt:
		v.Int = int32(slot)
	case wire.TypeUInt:
		v.UInt = slot
	case wire.TypeFloat:
		v.Float = math.Float32frombits(slot)
	case wire.TypeIntArray:
		words, err := d.u32s(int(slot))
		if err != nil {
			return v, err
		}
		for _, w := range words {
			v.Ints = append(v.Ints, int32(w))
		}
	case wire.TypeUIntArray:
		words, err := d.u32s(int(slot))
		if err != nil {
			return v, err
		}
		v.UInts = words
	case wire.TypeFloatArray:
		floats, err := d.floats(int(slot))
		if err != nil {
			return v, err
		}
		v.Floats = floats
	case wire.TypeString, wire.TypeExpression:
		s, err := d.str(int(slot))
		if err != nil {
			return v, err
		}
		v.String = s
	default:
		return v, badPayload("data type %d", typ)
	}
	return v, nil
}

// Format renders the value as it would appear in a code.
func (v Value) Format() string {
	switch v.Type {
	case wire.TypeInt:
		return strconv.FormatInt(int64(v.Int), 10)
	case wire.TypeUInt:
		return strconv.FormatUint(uint64(v.UInt), 10)
	case wire.TypeFloat:
		return strconv.FormatFloat(float64(v.Float), 'g', -1, 32)
	case wire.TypeIntArray:
		strs := make([]string, len(v.Ints))
		for n, i := range v.Ints {
			strs[n] = strconv.FormatInt(int64(i), 10)
		}
		return strings.Join(strs, ":")
	case wire.TypeUIntArray:
		strs := make([]string, len(v.UInts))
		for n, i := range v.UInts {
			strs[n] = strconv.FormatUint(uint64(i), 10)
		}
		return strings.Join(strs, ":")
	case wire.TypeFloatArray:
		strs := make([]string, len(v.Floats))
		for n, f := range v.Floats {
			strs[n] = strconv.FormatFloat(float64(f), 'g', -1, 32)
		}
		return strings.Join(strs, ":")
	case wire.TypeString:
		return strconv.Quote(v.String)
	case wire.TypeExpression:
		return v.String
	}
	return fmt.Sprintf("<type %d>", v.Type)
}

// Interface returns the value as a plain Go value.
func (v Value) Interface() interface{} {
	switch v.Type {
	case wire.TypeInt:
		return v.Int
	case wire.TypeUInt:
		return v.UInt
	case wire.TypeFloat:
		return v.Float
	case wire.TypeIntArray:
		return v.Ints
	case wire.TypeUIntArray:
		return v.UInts
	case wire.TypeFloatArray:
		return v.Floats
	}
	return v.String
}
