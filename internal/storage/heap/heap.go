package heap

import (
	"errors"
	"fmt"

	"github.com/stratumdb/kernel/internal/storage/buffer"
	"github.com/stratumdb/kernel/internal/storage/page"
	"github.com/stratumdb/kernel/internal/storage/rid"
)

// ErrNotFound is returned by Get/Update/Delete for a RID with no live
// record — either the slot was never allocated or it has been tombstoned.
var ErrNotFound = errors.New("heap: record not found")

// ErrRecordTooLarge is returned by Insert when a tuple cannot fit on an
// empty page, and by Update when the grown tuple does not fit on its own
// page.
var ErrRecordTooLarge = errors.New("heap: record larger than a page")

// Heap is a table heap: a singly linked chain of slotted table pages. It
// holds no transaction or WAL awareness of its own — callers (the
// transaction manager) are responsible for logging before mutating the
// heap, and for any locking discipline around concurrent access.
type Heap struct {
	pool         *buffer.Pool
	firstPageID  page.ID
}

// Create allocates the heap's first page and returns a new Heap over it.
func Create(pool *buffer.Pool) (*Heap, error) {
	id, frame, err := pool.New()
	if err != nil {
		return nil, fmt.Errorf("heap: create: %w", err)
	}
	frame.Latch.Lock()
	InitTablePage(frame.Data, id)
	frame.Latch.Unlock()
	if err := pool.Unpin(id, true); err != nil {
		return nil, err
	}
	return &Heap{pool: pool, firstPageID: id}, nil
}

// Open wraps an existing heap whose first page is already formatted.
func Open(pool *buffer.Pool, firstPageID page.ID) *Heap {
	return &Heap{pool: pool, firstPageID: firstPageID}
}

// FirstPageID returns the heap's entry page, to be persisted in the
// catalog so the heap can be reopened.
func (h *Heap) FirstPageID() page.ID { return h.firstPageID }

// Insert appends data as a new tuple, allocating additional chained pages
// as needed, and returns its RID. The RID is stable for the tuple's
// lifetime: later updates that relocate the body keep the same RID.
func (h *Heap) Insert(data []byte) (rid.RID, error) {
	pageID := h.firstPageID
	var lastID page.ID = page.Invalid

	for pageID != page.Invalid {
		frame, err := h.pool.Fetch(pageID)
		if err != nil {
			return rid.Invalid, fmt.Errorf("heap: insert fetch %d: %w", pageID, err)
		}
		frame.Latch.Lock()
		tp := WrapTablePage(frame.Data)
		slot, ierr := tp.Insert(data)
		if ierr == nil {
			frame.Latch.Unlock()
			h.pool.Unpin(pageID, true)
			return rid.RID{PageID: pageID, Slot: uint16(slot)}, nil
		}
		next := tp.NextPageID()
		frame.Latch.Unlock()
		h.pool.Unpin(pageID, false)
		lastID = pageID
		pageID = next
	}

	// Ran off the end of the chain: allocate a new page and link it in.
	newID, newFrame, err := h.pool.New()
	if err != nil {
		return rid.Invalid, fmt.Errorf("heap: insert allocate: %w", err)
	}
	newFrame.Latch.Lock()
	newTP := InitTablePage(newFrame.Data, newID)
	slot, ierr := newTP.Insert(data)
	newFrame.Latch.Unlock()
	if ierr != nil {
		h.pool.Unpin(newID, true)
		return rid.Invalid, fmt.Errorf("%w: %v", ErrRecordTooLarge, ierr)
	}
	h.pool.Unpin(newID, true)

	if err := h.linkPage(lastID, newID); err != nil {
		return rid.Invalid, err
	}
	return rid.RID{PageID: newID, Slot: uint16(slot)}, nil
}

func (h *Heap) linkPage(fromID, toID page.ID) error {
	frame, err := h.pool.Fetch(fromID)
	if err != nil {
		return fmt.Errorf("heap: link fetch %d: %w", fromID, err)
	}
	frame.Latch.Lock()
	WrapTablePage(frame.Data).SetNextPageID(toID)
	frame.Latch.Unlock()
	return h.pool.Unpin(fromID, true)
}

// Get returns the tuple bytes stored at r, or ErrNotFound.
func (h *Heap) Get(r rid.RID) ([]byte, error) {
	frame, err := h.pool.Fetch(r.PageID)
	if err != nil {
		return nil, fmt.Errorf("heap: get fetch %d: %w", r.PageID, err)
	}
	defer h.pool.Unpin(r.PageID, false)

	frame.Latch.RLock()
	defer frame.Latch.RUnlock()
	tp := WrapTablePage(frame.Data)
	if int(r.Slot) >= tp.SlotCount() || tp.IsTombstone(int(r.Slot)) {
		return nil, ErrNotFound
	}
	out := make([]byte, len(tp.Get(int(r.Slot))))
	copy(out, tp.Get(int(r.Slot)))
	return out, nil
}

// Update overwrites the tuple at r with data. If data no longer fits in
// the slot's current body, it is relocated to free space at the end of
// the same page (the RID, and thus any index entry pointing at it, stays
// valid). Update never relocates across pages: if r's page has no room
// for the grown tuple, it returns ErrRecordTooLarge rather than minting
// a new RID elsewhere, since nothing downstream (the transaction's
// write-set, its locks, a caller's index entries) is wired to follow a
// RID that moves out from under it.
func (h *Heap) Update(r rid.RID, data []byte) error {
	frame, err := h.pool.Fetch(r.PageID)
	if err != nil {
		return fmt.Errorf("heap: update fetch %d: %w", r.PageID, err)
	}
	defer h.pool.Unpin(r.PageID, true)

	frame.Latch.Lock()
	defer frame.Latch.Unlock()
	tp := WrapTablePage(frame.Data)
	if int(r.Slot) >= tp.SlotCount() || tp.IsTombstone(int(r.Slot)) {
		return ErrNotFound
	}
	if tp.UpdateInPlace(int(r.Slot), data) {
		return nil
	}
	if err := tp.InsertAt(int(r.Slot), data); err != nil {
		return fmt.Errorf("%w: %v", ErrRecordTooLarge, err)
	}
	return nil
}

// Delete tombstones the tuple at r. The slot index is never reused:
// Get(r) returns ErrNotFound forever after.
func (h *Heap) Delete(r rid.RID) error {
	frame, err := h.pool.Fetch(r.PageID)
	if err != nil {
		return fmt.Errorf("heap: delete fetch %d: %w", r.PageID, err)
	}
	defer h.pool.Unpin(r.PageID, true)

	frame.Latch.Lock()
	defer frame.Latch.Unlock()
	tp := WrapTablePage(frame.Data)
	if int(r.Slot) >= tp.SlotCount() || tp.IsTombstone(int(r.Slot)) {
		return ErrNotFound
	}
	return tp.Tombstone(int(r.Slot))
}

// Iterator walks every live tuple in the heap in physical (page, slot)
// order. It holds at most one page pinned at a time.
type Iterator struct {
	h          *Heap
	pageID     page.ID
	slot       int
	curFrameOk bool
}

// Iter returns a fresh iterator positioned before the first tuple.
func (h *Heap) Iter() *Iterator {
	return &Iterator{h: h, pageID: h.firstPageID, slot: 0}
}

// Next advances to the next live tuple and returns its RID and bytes. ok
// is false once the heap is exhausted.
func (it *Iterator) Next() (rid.RID, []byte, bool, error) {
	for it.pageID != page.Invalid {
		frame, err := it.h.pool.Fetch(it.pageID)
		if err != nil {
			return rid.Invalid, nil, false, fmt.Errorf("heap: iter fetch %d: %w", it.pageID, err)
		}
		frame.Latch.RLock()
		tp := WrapTablePage(frame.Data)
		count := tp.SlotCount()
		for it.slot < count {
			s := it.slot
			it.slot++
			if tp.IsTombstone(s) {
				continue
			}
			out := make([]byte, len(tp.Get(s)))
			copy(out, tp.Get(s))
			r := rid.RID{PageID: it.pageID, Slot: uint16(s)}
			frame.Latch.RUnlock()
			it.h.pool.Unpin(it.pageID, false)
			return r, out, true, nil
		}
		next := tp.NextPageID()
		frame.Latch.RUnlock()
		it.h.pool.Unpin(it.pageID, false)
		it.pageID = next
		it.slot = 0
	}
	return rid.Invalid, nil, false, nil
}
