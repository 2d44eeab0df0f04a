package index

import (
	"github.com/stratumdb/kernel/internal/storage/page"
	"github.com/stratumdb/kernel/internal/storage/rid"
	"github.com/stratumdb/kernel/internal/storage/types"
)

// Cursor iterates leaf entries in ascending key order starting from a
// given key (inclusive). It holds no page pinned between calls to Next:
// each call fetches its current leaf, reads one entry, and unpins before
// returning, so a long-lived range scan cannot starve the buffer pool or
// block concurrent writers beyond the instant each entry is read.
type Cursor struct {
	tree   *BTree
	leafID page.ID
	idx    int
	done   bool
}

// RangeFrom returns a cursor positioned at the first entry with key >=
// from. If the tree is empty, the cursor yields nothing.
func (t *BTree) RangeFrom(from types.Value) (*Cursor, error) {
	if err := t.checkKind(from); err != nil {
		return nil, err
	}
	kbuf, err := encodeKey(from)
	if err != nil {
		return nil, err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	root, err := t.readRoot()
	if err != nil {
		return nil, err
	}
	if root == page.Invalid {
		return &Cursor{tree: t, done: true}, nil
	}
	leafID, err := t.findLeaf(root, kbuf)
	if err != nil {
		return nil, err
	}

	frame, err := t.pool.Fetch(leafID)
	if err != nil {
		return nil, err
	}
	frame.Latch.RLock()
	leaf := wrapLeaf(frame.Data)
	idx, _, err := searchLeaf(leaf, kbuf[:], t.keyKind)
	frame.Latch.RUnlock()
	if uerr := t.pool.Unpin(leafID, false); uerr != nil {
		return nil, uerr
	}
	if err != nil {
		return nil, err
	}
	return &Cursor{tree: t, leafID: leafID, idx: idx}, nil
}

// Next returns the next entry and advances the cursor. ok is false once
// the scan reaches the end of the tree.
func (c *Cursor) Next() (types.Value, rid.RID, bool, error) {
	if c.done {
		return types.Value{}, rid.Invalid, false, nil
	}
	c.tree.mu.RLock()
	defer c.tree.mu.RUnlock()

	for {
		frame, err := c.tree.pool.Fetch(c.leafID)
		if err != nil {
			return types.Value{}, rid.Invalid, false, err
		}
		frame.Latch.RLock()
		leaf := wrapLeaf(frame.Data)
		count := leaf.Count()
		if c.idx < count {
			key, err := decodeKey(leaf.KeyAt(c.idx), c.tree.keyKind)
			r := leaf.RIDAt(c.idx)
			frame.Latch.RUnlock()
			c.idx++
			if uerr := c.tree.pool.Unpin(c.leafID, false); uerr != nil {
				return types.Value{}, rid.Invalid, false, uerr
			}
			if err != nil {
				return types.Value{}, rid.Invalid, false, err
			}
			return key, r, true, nil
		}
		next := leaf.NextLeaf()
		frame.Latch.RUnlock()
		if uerr := c.tree.pool.Unpin(c.leafID, false); uerr != nil {
			return types.Value{}, rid.Invalid, false, uerr
		}
		if next == page.Invalid {
			c.done = true
			return types.Value{}, rid.Invalid, false, nil
		}
		c.leafID = next
		c.idx = 0
	}
}
