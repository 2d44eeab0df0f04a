package buffer

import (
	"sync"

	"github.com/stratumdb/kernel/internal/storage/page"
)

// Frame is an in-memory cache slot holding one page plus the metadata the
// buffer pool needs to manage it: pin count, dirty flag, and LSN. Pin and
// latch are orthogonal, per the spec: pin count keeps the frame resident
// while any caller holds a reference to it; the latch is acquired by
// higher-level code (heap, B+Tree) around the data-area access itself.
type Frame struct {
	PageID page.ID
	Data   []byte

	// pin/dirty/lsn are mutated only by the BufferPoolManager under its
	// own mutex.
	PinCount uint32
	Dirty    bool
	LSN      page.LSN

	// Latch is the readers-writer latch higher layers acquire around
	// mutation or read of Data.
	Latch sync.RWMutex
}

func newFrame() *Frame {
	return &Frame{Data: make([]byte, page.Size)}
}

func (f *Frame) reset(id page.ID) {
	f.PageID = id
	f.PinCount = 0
	f.Dirty = false
	f.LSN = 0
	for i := range f.Data {
		f.Data[i] = 0
	}
}
