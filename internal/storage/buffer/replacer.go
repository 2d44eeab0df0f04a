package buffer

import "container/list"

// Replacer tracks the set of currently unpinned frames and chooses an
// eviction victim among them. The buffer pool is the only caller: it
// notifies the replacer when a frame becomes pinnable (Unpin) or must be
// taken out of consideration (Pin), and asks for a Victim when it needs to
// make room for a fetch or allocation.
//
// This kernel ships one implementation, LRUReplacer, but the interface is
// the seam the spec calls out as pluggable (e.g. for clock or LFU).
type Replacer interface {
	// Pin removes frameID from the eviction set, if present.
	Pin(frameID int)
	// Unpin adds frameID to the eviction set as most-recently-used. A
	// frame already tracked is repositioned to most-recently-used.
	Unpin(frameID int)
	// Victim removes and returns the least-recently-used frame. ok is
	// false when the eviction set is empty.
	Victim() (frameID int, ok bool)
	// Size reports the number of frames currently eligible for eviction.
	Size() int
}

// LRUReplacer is an ordered set of frame indices backed by a doubly linked
// list: O(1) Pin/Unpin/Victim via a side map from frame index to list
// element.
type LRUReplacer struct {
	order *list.List
	index map[int]*list.Element
}

// NewLRUReplacer returns an empty LRU replacer.
func NewLRUReplacer() *LRUReplacer {
	return &LRUReplacer{
		order: list.New(),
		index: make(map[int]*list.Element),
	}
}

func (r *LRUReplacer) Pin(frameID int) {
	if el, ok := r.index[frameID]; ok {
		r.order.Remove(el)
		delete(r.index, frameID)
	}
}

func (r *LRUReplacer) Unpin(frameID int) {
	if el, ok := r.index[frameID]; ok {
		r.order.MoveToFront(el)
		return
	}
	r.index[frameID] = r.order.PushFront(frameID)
}

func (r *LRUReplacer) Victim() (int, bool) {
	el := r.order.Back()
	if el == nil {
		return 0, false
	}
	r.order.Remove(el)
	frameID := el.Value.(int)
	delete(r.index, frameID)
	return frameID, true
}

func (r *LRUReplacer) Size() int { return r.order.Len() }
