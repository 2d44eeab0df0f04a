package index

import (
	"fmt"

	"github.com/stratumdb/kernel/internal/storage/types"
)

// MaxKeySize bounds the on-disk encoding of any single key, including a
// string key's length prefix and bytes. It is a fixed slot so internal and
// leaf nodes can address entries by simple offset arithmetic rather than a
// slotted directory. A string longer than MaxKeySize-4 bytes cannot be
// indexed; callers needing longer keys should hash or prefix them upstream
// (the kernel itself has no indexed column today wide enough to hit this).
const MaxKeySize = 64

// encodeKey writes v's Encode form into a zero-padded MaxKeySize buffer.
func encodeKey(v types.Value) ([MaxKeySize]byte, error) {
	var out [MaxKeySize]byte
	buf := types.Encode(nil, v)
	if len(buf) > MaxKeySize {
		return out, fmt.Errorf("index: key encodes to %d bytes, exceeds MaxKeySize %d", len(buf), MaxKeySize)
	}
	copy(out[:], buf)
	return out, nil
}

// decodeKey reads a value of kind k back out of a fixed key slot.
func decodeKey(buf []byte, k types.Kind) (types.Value, error) {
	v, _, err := types.Decode(buf, k)
	if err != nil {
		return types.Value{}, fmt.Errorf("index: decode key: %w", err)
	}
	return v, nil
}

// compareKeys orders two fixed key slots of the same kind.
func compareKeys(a, b []byte, k types.Kind) (int, error) {
	va, err := decodeKey(a, k)
	if err != nil {
		return 0, err
	}
	vb, err := decodeKey(b, k)
	if err != nil {
		return 0, err
	}
	return types.Compare(va, vb), nil
}
