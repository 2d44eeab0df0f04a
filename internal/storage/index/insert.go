package index

import (
	"fmt"

	"github.com/stratumdb/kernel/internal/storage/page"
	"github.com/stratumdb/kernel/internal/storage/rid"
	"github.com/stratumdb/kernel/internal/storage/types"
)

// Insert adds key -> r. If key is already present, its stored RID is
// overwritten with r.
func (t *BTree) Insert(key types.Value, r rid.RID) error {
	if err := t.checkKind(key); err != nil {
		return err
	}
	kbuf, err := encodeKey(key)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	root, err := t.readRoot()
	if err != nil {
		return err
	}
	if root == page.Invalid {
		id, frame, err := t.pool.New()
		if err != nil {
			return fmt.Errorf("index: insert first leaf: %w", err)
		}
		frame.Latch.Lock()
		leaf := initLeaf(frame.Data, id)
		leaf.SetEntries([]leafEntry{{Key: kbuf, RID: r}})
		frame.Latch.Unlock()
		if err := t.pool.Unpin(id, true); err != nil {
			return err
		}
		return t.writeRoot(id)
	}

	promoted, newChild, split, err := t.insertRec(root, kbuf, r)
	if err != nil {
		return err
	}
	if !split {
		return nil
	}

	newRootID, newRootFrame, err := t.pool.New()
	if err != nil {
		return fmt.Errorf("index: insert new root: %w", err)
	}
	newRootFrame.Latch.Lock()
	newRoot := initInternal(newRootFrame.Data, newRootID, t.maxSize-1)
	newRoot.SetKeysChildren([][]byte{promoted}, []page.ID{root, newChild})
	newRootFrame.Latch.Unlock()
	if err := t.pool.Unpin(newRootID, true); err != nil {
		return err
	}
	return t.writeRoot(newRootID)
}

// insertRec inserts key/r into the subtree rooted at nodeID. If the node
// it lands in overflows, it splits and returns the promoted separator key
// plus the new sibling's page ID with split=true.
func (t *BTree) insertRec(nodeID page.ID, key [MaxKeySize]byte, r rid.RID) ([]byte, page.ID, bool, error) {
	frame, err := t.pool.Fetch(nodeID)
	if err != nil {
		return nil, page.Invalid, false, err
	}
	hdr := page.GetHeader(frame.Data)

	if hdr.Type == page.TypeLeaf {
		frame.Latch.Lock()
		leaf := wrapLeaf(frame.Data)
		entries := leaf.Entries()
		idx, found, err := searchLeaf(leaf, key[:], t.keyKind)
		if err != nil {
			frame.Latch.Unlock()
			t.pool.Unpin(nodeID, false)
			return nil, page.Invalid, false, err
		}
		if found {
			entries[idx].RID = r
			leaf.SetEntries(entries)
			frame.Latch.Unlock()
			t.pool.Unpin(nodeID, true)
			return nil, page.Invalid, false, nil
		}
		entries = append(entries, leafEntry{})
		copy(entries[idx+1:], entries[idx:])
		entries[idx] = leafEntry{Key: key, RID: r}

		if len(entries) <= t.maxSize {
			leaf.SetEntries(entries)
			frame.Latch.Unlock()
			t.pool.Unpin(nodeID, true)
			return nil, page.Invalid, false, nil
		}

		mid := len(entries) / 2
		left := entries[:mid]
		right := entries[mid:]
		leaf.SetEntries(left)
		oldNext := leaf.NextLeaf()

		newID, newFrame, err := t.pool.New()
		if err != nil {
			frame.Latch.Unlock()
			t.pool.Unpin(nodeID, true)
			return nil, page.Invalid, false, fmt.Errorf("index: leaf split alloc: %w", err)
		}
		newFrame.Latch.Lock()
		newLeaf := initLeaf(newFrame.Data, newID)
		newLeaf.SetEntries(right)
		newLeaf.SetNextLeaf(oldNext)
		newFrame.Latch.Unlock()
		leaf.SetNextLeaf(newID)
		frame.Latch.Unlock()

		if err := t.pool.Unpin(nodeID, true); err != nil {
			return nil, page.Invalid, false, err
		}
		if err := t.pool.Unpin(newID, true); err != nil {
			return nil, page.Invalid, false, err
		}
		promoted := make([]byte, MaxKeySize)
		copy(promoted, right[0].Key[:])
		return promoted, newID, true, nil
	}

	// Internal node: find the child, release this page, recurse.
	frame.Latch.RLock()
	in := wrapInternal(frame.Data, t.maxSize-1)
	childIdx, err := findChildIndex(in, key[:], t.keyKind)
	if err != nil {
		frame.Latch.RUnlock()
		t.pool.Unpin(nodeID, false)
		return nil, page.Invalid, false, err
	}
	childID := in.ChildAt(childIdx)
	frame.Latch.RUnlock()
	if err := t.pool.Unpin(nodeID, false); err != nil {
		return nil, page.Invalid, false, err
	}

	promoted, newChild, split, err := t.insertRec(childID, key, r)
	if err != nil || !split {
		return nil, page.Invalid, false, err
	}

	frame2, err := t.pool.Fetch(nodeID)
	if err != nil {
		return nil, page.Invalid, false, err
	}
	frame2.Latch.Lock()
	in2 := wrapInternal(frame2.Data, t.maxSize-1)
	keys := in2.Keys()
	children := in2.Children()

	keys = append(keys, nil)
	copy(keys[childIdx+1:], keys[childIdx:])
	keys[childIdx] = promoted

	children = append(children, page.Invalid)
	copy(children[childIdx+2:], children[childIdx+1:])
	children[childIdx+1] = newChild

	if len(keys) <= t.maxSize-1 {
		in2.SetKeysChildren(keys, children)
		frame2.Latch.Unlock()
		if err := t.pool.Unpin(nodeID, true); err != nil {
			return nil, page.Invalid, false, err
		}
		return nil, page.Invalid, false, nil
	}

	mid := len(keys) / 2
	promotedUp := keys[mid]
	leftKeys := keys[:mid]
	leftChildren := children[:mid+1]
	rightKeys := keys[mid+1:]
	rightChildren := children[mid+1:]
	in2.SetKeysChildren(leftKeys, leftChildren)
	frame2.Latch.Unlock()
	if err := t.pool.Unpin(nodeID, true); err != nil {
		return nil, page.Invalid, false, err
	}

	newID, newFrame, err := t.pool.New()
	if err != nil {
		return nil, page.Invalid, false, fmt.Errorf("index: internal split alloc: %w", err)
	}
	newFrame.Latch.Lock()
	newIn := initInternal(newFrame.Data, newID, t.maxSize-1)
	newIn.SetKeysChildren(rightKeys, rightChildren)
	newFrame.Latch.Unlock()
	if err := t.pool.Unpin(newID, true); err != nil {
		return nil, page.Invalid, false, err
	}
	return promotedUp, newID, true, nil
}
