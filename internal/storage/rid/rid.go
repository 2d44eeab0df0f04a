// Package rid defines the record identifier shared by the table heap and
// the B+Tree index.
package rid

import (
	"fmt"

	"github.com/stratumdb/kernel/internal/storage/page"
)

// RID is a stable address for a tuple within a table heap: the page it
// lives on plus its slot index. It stays valid for the life of the record;
// heap.Heap.Update never moves a record to a new RID.
type RID struct {
	PageID page.ID
	Slot   uint16
}

// Invalid is the RID used as a "not found" sentinel (it is not the zero
// value, which is page 0 slot 0); it is
// never produced by a real insert because page.Invalid can never hold
// tuples.
var Invalid = RID{PageID: page.Invalid, Slot: 0}

// IsValid reports whether r refers to a real page.
func (r RID) IsValid() bool { return r.PageID != page.Invalid }

func (r RID) String() string { return fmt.Sprintf("(%d,%d)", r.PageID, r.Slot) }

// Encode serializes the RID into its fixed 8-byte wire form, used as the
// value type stored by every B+Tree leaf entry.
func (r RID) Encode() [8]byte {
	var b [8]byte
	b[0] = byte(r.PageID)
	b[1] = byte(r.PageID >> 8)
	b[2] = byte(r.PageID >> 16)
	b[3] = byte(r.PageID >> 24)
	b[4] = byte(r.Slot)
	b[5] = byte(r.Slot >> 8)
	return b
}

// Decode reconstructs a RID from its 8-byte wire form.
func Decode(b [8]byte) RID {
	pid := uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
	slot := uint16(b[4]) | uint16(b[5])<<8
	return RID{PageID: page.ID(pid), Slot: slot}
}
