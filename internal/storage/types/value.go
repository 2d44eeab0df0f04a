// Package types defines the kernel's typed value, column, schema, and tuple
// model: the fixed set of scalar kinds the B+Tree and table heap operate
// over, and their binary encoding.
package types

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Kind enumerates the scalar types a Value may hold.
type Kind uint8

const (
	KindBool Kind = iota + 1
	KindI8
	KindI16
	KindI32
	KindI64
	KindF32
	KindF64
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "BOOL"
	case KindI8:
		return "I8"
	case KindI16:
		return "I16"
	case KindI32:
		return "I32"
	case KindI64:
		return "I64"
	case KindF32:
		return "F32"
	case KindF64:
		return "F64"
	case KindString:
		return "STRING"
	default:
		return fmt.Sprintf("KIND(%d)", uint8(k))
	}
}

// FixedWidth returns the on-disk width in bytes for fixed-size kinds, or
// (0, false) for KindString, whose encoded width depends on its content
// (a 4-byte length prefix plus the string bytes).
func (k Kind) FixedWidth() (int, bool) {
	switch k {
	case KindBool, KindI8:
		return 1, true
	case KindI16:
		return 2, true
	case KindI32, KindF32:
		return 4, true
	case KindI64, KindF64:
		return 8, true
	default:
		return 0, false
	}
}

// Value is a tagged union over the kernel's scalar types. Null is
// represented by IsNull regardless of Kind, matching the column's declared
// type even when the value itself is absent.
type Value struct {
	Kind   Kind
	IsNull bool

	b   bool
	i   int64
	f   float64
	str string
}

// Null returns a null value of the given kind.
func Null(k Kind) Value { return Value{Kind: k, IsNull: true} }

func Bool(v bool) Value    { return Value{Kind: KindBool, b: v} }
func I8(v int8) Value      { return Value{Kind: KindI8, i: int64(v)} }
func I16(v int16) Value    { return Value{Kind: KindI16, i: int64(v)} }
func I32(v int32) Value    { return Value{Kind: KindI32, i: int64(v)} }
func I64(v int64) Value    { return Value{Kind: KindI64, i: v} }
func F32(v float32) Value  { return Value{Kind: KindF32, f: float64(v)} }
func F64(v float64) Value  { return Value{Kind: KindF64, f: v} }
func String(v string) Value { return Value{Kind: KindString, str: v} }

func (v Value) AsBool() bool       { return v.b }
func (v Value) AsInt() int64       { return v.i }
func (v Value) AsFloat() float64   { return v.f }
func (v Value) AsString() string   { return v.str }

// Compare orders two values of the same kind. Null sorts before any
// non-null value of the same kind; two nulls compare equal. Comparing
// values of differing kinds panics — the caller (typed B+Tree key
// comparator, schema-checked tuple codec) guarantees kind agreement.
func Compare(a, b Value) int {
	if a.Kind != b.Kind {
		panic(fmt.Sprintf("types: compare kind mismatch %s vs %s", a.Kind, b.Kind))
	}
	if a.IsNull || b.IsNull {
		switch {
		case a.IsNull && b.IsNull:
			return 0
		case a.IsNull:
			return -1
		default:
			return 1
		}
	}
	switch a.Kind {
	case KindBool:
		switch {
		case a.b == b.b:
			return 0
		case !a.b:
			return -1
		default:
			return 1
		}
	case KindI8, KindI16, KindI32, KindI64:
		switch {
		case a.i < b.i:
			return -1
		case a.i > b.i:
			return 1
		default:
			return 0
		}
	case KindF32, KindF64:
		switch {
		case a.f < b.f:
			return -1
		case a.f > b.f:
			return 1
		default:
			return 0
		}
	case KindString:
		switch {
		case a.str < b.str:
			return -1
		case a.str > b.str:
			return 1
		default:
			return 0
		}
	default:
		panic(fmt.Sprintf("types: compare unknown kind %s", a.Kind))
	}
}

// Encode appends v's binary image to buf and returns the result. Fixed
// kinds use a native little-endian width; KindString is length-prefixed
// (u32) followed by its bytes regardless of declared column size, so
// encoded length always reflects actual content.
func Encode(buf []byte, v Value) []byte {
	var tmp [8]byte
	switch v.Kind {
	case KindBool:
		if v.b {
			return append(buf, 1)
		}
		return append(buf, 0)
	case KindI8:
		return append(buf, byte(int8(v.i)))
	case KindI16:
		binary.LittleEndian.PutUint16(tmp[:2], uint16(int16(v.i)))
		return append(buf, tmp[:2]...)
	case KindI32:
		binary.LittleEndian.PutUint32(tmp[:4], uint32(int32(v.i)))
		return append(buf, tmp[:4]...)
	case KindI64:
		binary.LittleEndian.PutUint64(tmp[:8], uint64(v.i))
		return append(buf, tmp[:8]...)
	case KindF32:
		binary.LittleEndian.PutUint32(tmp[:4], math.Float32bits(float32(v.f)))
		return append(buf, tmp[:4]...)
	case KindF64:
		binary.LittleEndian.PutUint64(tmp[:8], math.Float64bits(v.f))
		return append(buf, tmp[:8]...)
	case KindString:
		var l [4]byte
		binary.LittleEndian.PutUint32(l[:], uint32(len(v.str)))
		buf = append(buf, l[:]...)
		return append(buf, v.str...)
	default:
		panic(fmt.Sprintf("types: encode unknown kind %s", v.Kind))
	}
}

// Decode reads one value of kind k from buf, returning the value and the
// number of bytes consumed.
func Decode(buf []byte, k Kind) (Value, int, error) {
	switch k {
	case KindBool:
		if len(buf) < 1 {
			return Value{}, 0, fmt.Errorf("types: truncated bool")
		}
		return Bool(buf[0] != 0), 1, nil
	case KindI8:
		if len(buf) < 1 {
			return Value{}, 0, fmt.Errorf("types: truncated i8")
		}
		return I8(int8(buf[0])), 1, nil
	case KindI16:
		if len(buf) < 2 {
			return Value{}, 0, fmt.Errorf("types: truncated i16")
		}
		return I16(int16(binary.LittleEndian.Uint16(buf))), 2, nil
	case KindI32:
		if len(buf) < 4 {
			return Value{}, 0, fmt.Errorf("types: truncated i32")
		}
		return I32(int32(binary.LittleEndian.Uint32(buf))), 4, nil
	case KindI64:
		if len(buf) < 8 {
			return Value{}, 0, fmt.Errorf("types: truncated i64")
		}
		return I64(int64(binary.LittleEndian.Uint64(buf))), 8, nil
	case KindF32:
		if len(buf) < 4 {
			return Value{}, 0, fmt.Errorf("types: truncated f32")
		}
		return F32(math.Float32frombits(binary.LittleEndian.Uint32(buf))), 4, nil
	case KindF64:
		if len(buf) < 8 {
			return Value{}, 0, fmt.Errorf("types: truncated f64")
		}
		return F64(math.Float64frombits(binary.LittleEndian.Uint64(buf))), 8, nil
	case KindString:
		if len(buf) < 4 {
			return Value{}, 0, fmt.Errorf("types: truncated string length")
		}
		l := int(binary.LittleEndian.Uint32(buf))
		if len(buf) < 4+l {
			return Value{}, 0, fmt.Errorf("types: truncated string body")
		}
		return String(string(buf[4 : 4+l])), 4 + l, nil
	default:
		return Value{}, 0, fmt.Errorf("types: decode unknown kind %s", k)
	}
}
