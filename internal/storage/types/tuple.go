package types

import (
	"fmt"

	"github.com/stratumdb/kernel/internal/storage/rid"
)

// Tuple is an ordered row of values conforming to a Schema, plus the RID it
// was last read from (zero value if not yet placed in a heap).
type Tuple struct {
	Values []Value
	RID    rid.RID
}

// NewTuple builds a tuple from values, validating arity and kind agreement
// against schema.
func NewTuple(schema *Schema, values []Value) (Tuple, error) {
	if len(values) != schema.Len() {
		return Tuple{}, fmt.Errorf("types: tuple has %d values, schema wants %d", len(values), schema.Len())
	}
	for i, v := range values {
		col := schema.Column(i)
		if v.Kind != col.Kind {
			return Tuple{}, fmt.Errorf("types: column %q wants %s, got %s", col.Name, col.Kind, v.Kind)
		}
		if v.IsNull && !col.Nullable {
			return Tuple{}, fmt.Errorf("types: column %q is not nullable", col.Name)
		}
	}
	cp := make([]Value, len(values))
	copy(cp, values)
	return Tuple{Values: cp}, nil
}

// EncodeTuple serializes a tuple as a leading null bitmap (ceil(n/8)
// bytes, one bit per column, bit set = null) followed by each non-null column's
// Encode output in schema order. Null columns contribute no payload bytes.
func EncodeTuple(schema *Schema, t Tuple) ([]byte, error) {
	if len(t.Values) != schema.Len() {
		return nil, fmt.Errorf("types: tuple/schema arity mismatch")
	}
	bitmapLen := (schema.Len() + 7) / 8
	buf := make([]byte, bitmapLen)
	for i, v := range t.Values {
		if v.IsNull {
			buf[i/8] |= 1 << uint(i%8)
		}
	}
	for _, v := range t.Values {
		if v.IsNull {
			continue
		}
		buf = Encode(buf, v)
	}
	return buf, nil
}

// DecodeTuple parses a tuple previously produced by EncodeTuple, given its
// schema.
func DecodeTuple(schema *Schema, buf []byte) (Tuple, error) {
	bitmapLen := (schema.Len() + 7) / 8
	if len(buf) < bitmapLen {
		return Tuple{}, fmt.Errorf("types: truncated null bitmap")
	}
	bitmap := buf[:bitmapLen]
	off := bitmapLen
	values := make([]Value, schema.Len())
	for i := 0; i < schema.Len(); i++ {
		col := schema.Column(i)
		isNull := bitmap[i/8]&(1<<uint(i%8)) != 0
		if isNull {
			values[i] = Null(col.Kind)
			continue
		}
		v, n, err := Decode(buf[off:], col.Kind)
		if err != nil {
			return Tuple{}, fmt.Errorf("types: column %q: %w", col.Name, err)
		}
		values[i] = v
		off += n
	}
	return Tuple{Values: values}, nil
}

// EncodedSize returns the exact length EncodeTuple would produce for the
// tuple, without building the encoding.
func EncodedSize(schema *Schema, t Tuple) int {
	bitmapLen := (schema.Len() + 7) / 8
	size := bitmapLen
	for _, v := range t.Values {
		if v.IsNull {
			continue
		}
		switch v.Kind {
		case KindString:
			size += 4 + len(v.AsString())
		default:
			w, _ := v.Kind.FixedWidth()
			size += w
		}
	}
	return size
}
