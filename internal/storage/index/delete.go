package index

import (
	"github.com/stratumdb/kernel/internal/storage/page"
	"github.com/stratumdb/kernel/internal/storage/types"
)

// Delete removes key's entry. Returns ErrKeyNotFound if absent.
func (t *BTree) Delete(key types.Value) error {
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
		return ErrKeyNotFound
	}

	if _, _, err := t.deleteRec(root, kbuf[:]); err != nil {
		return err
	}

	// Root-level cleanup: collapse a single-child internal root, or clear
	// the tree once its sole leaf empties out. Neither case is an
	// "underflow" in the structural sense (the root is exempt from the
	// minimum-occupancy rule) but both change what the root pointer
	// should be.
	frame, err := t.pool.Fetch(root)
	if err != nil {
		return err
	}
	frame.Latch.RLock()
	hdr := page.GetHeader(frame.Data)
	var collapse page.ID = page.Invalid
	empty := false
	switch hdr.Type {
	case page.TypeInternal:
		in := wrapInternal(frame.Data, t.maxSize-1)
		if in.Count() == 0 {
			collapse = in.ChildAt(0)
		}
	case page.TypeLeaf:
		leaf := wrapLeaf(frame.Data)
		if leaf.Count() == 0 {
			empty = true
		}
	}
	frame.Latch.RUnlock()
	if err := t.pool.Unpin(root, false); err != nil {
		return err
	}
	if collapse != page.Invalid {
		if err := t.pool.Delete(root); err != nil {
			return err
		}
		return t.writeRoot(collapse)
	}
	if empty {
		if err := t.pool.Delete(root); err != nil {
			return err
		}
		return t.writeRoot(page.Invalid)
	}
	return nil
}

// deleteRec removes key from the subtree rooted at nodeID. underflow
// reports whether nodeID now holds fewer than the minimum occupancy for
// its level; the caller (the parent frame, or Delete for the root) is
// responsible for redistributing or merging in response.
func (t *BTree) deleteRec(nodeID page.ID, key []byte) (deleted bool, underflow bool, err error) {
	frame, err := t.pool.Fetch(nodeID)
	if err != nil {
		return false, false, err
	}
	hdr := page.GetHeader(frame.Data)

	if hdr.Type == page.TypeLeaf {
		frame.Latch.Lock()
		leaf := wrapLeaf(frame.Data)
		idx, found, err := searchLeaf(leaf, key, t.keyKind)
		if err != nil {
			frame.Latch.Unlock()
			t.pool.Unpin(nodeID, false)
			return false, false, err
		}
		if !found {
			frame.Latch.Unlock()
			t.pool.Unpin(nodeID, false)
			return false, false, ErrKeyNotFound
		}
		entries := leaf.Entries()
		entries = append(entries[:idx], entries[idx+1:]...)
		leaf.SetEntries(entries)
		frame.Latch.Unlock()
		if err := t.pool.Unpin(nodeID, true); err != nil {
			return false, false, err
		}
		return true, len(entries) < t.minLeaf, nil
	}

	frame.Latch.RLock()
	in := wrapInternal(frame.Data, t.maxSize-1)
	childIdx, err := findChildIndex(in, key, t.keyKind)
	if err != nil {
		frame.Latch.RUnlock()
		t.pool.Unpin(nodeID, false)
		return false, false, err
	}
	childID := in.ChildAt(childIdx)
	frame.Latch.RUnlock()
	if err := t.pool.Unpin(nodeID, false); err != nil {
		return false, false, err
	}

	deleted, childUnderflow, err := t.deleteRec(childID, key)
	if err != nil || !childUnderflow {
		return deleted, false, err
	}

	underflow, err = t.fixUnderflow(nodeID, childIdx)
	return deleted, underflow, err
}

// fixUnderflow repairs nodeID's child at childIdx, which has fallen below
// minimum occupancy, by borrowing from a sibling or merging with one. It
// returns whether nodeID itself now underflows as a result.
func (t *BTree) fixUnderflow(nodeID page.ID, childIdx int) (bool, error) {
	frame, err := t.pool.Fetch(nodeID)
	if err != nil {
		return false, err
	}
	frame.Latch.Lock()
	defer frame.Latch.Unlock()
	in := wrapInternal(frame.Data, t.maxSize-1)
	keys := in.Keys()
	children := in.Children()

	childID := children[childIdx]
	childFrame, err := t.pool.Fetch(childID)
	if err != nil {
		t.pool.Unpin(nodeID, false)
		return false, err
	}
	childHdr := page.GetHeader(childFrame.Data)
	isLeaf := childHdr.Type == page.TypeLeaf

	hasLeft := childIdx > 0
	hasRight := childIdx < len(children)-1

	if isLeaf {
		childFrame.Latch.Lock()
		childLeaf := wrapLeaf(childFrame.Data)
		childEntries := childLeaf.Entries()

		if hasLeft {
			leftID := children[childIdx-1]
			leftFrame, err := t.pool.Fetch(leftID)
			if err == nil {
				leftFrame.Latch.Lock()
				leftLeaf := wrapLeaf(leftFrame.Data)
				leftEntries := leftLeaf.Entries()
				if len(leftEntries) > t.minLeaf {
					borrowed := leftEntries[len(leftEntries)-1]
					leftLeaf.SetEntries(leftEntries[:len(leftEntries)-1])
					childEntries = append([]leafEntry{borrowed}, childEntries...)
					childLeaf.SetEntries(childEntries)
					keys[childIdx-1] = cloneKey(childEntries[0].Key)
					in.SetKeysChildren(keys, children)
					leftFrame.Latch.Unlock()
					childFrame.Latch.Unlock()
					t.pool.Unpin(leftID, true)
					t.pool.Unpin(childID, true)
					t.pool.Unpin(nodeID, true)
					return false, nil
				}
				leftFrame.Latch.Unlock()
				t.pool.Unpin(leftID, false)
			}
		}
		if hasRight {
			rightID := children[childIdx+1]
			rightFrame, err := t.pool.Fetch(rightID)
			if err == nil {
				rightFrame.Latch.Lock()
				rightLeaf := wrapLeaf(rightFrame.Data)
				rightEntries := rightLeaf.Entries()
				if len(rightEntries) > t.minLeaf {
					borrowed := rightEntries[0]
					rightLeaf.SetEntries(rightEntries[1:])
					childEntries = append(childEntries, borrowed)
					childLeaf.SetEntries(childEntries)
					keys[childIdx] = cloneKey(rightEntries[1].Key)
					in.SetKeysChildren(keys, children)
					rightFrame.Latch.Unlock()
					childFrame.Latch.Unlock()
					t.pool.Unpin(rightID, true)
					t.pool.Unpin(childID, true)
					t.pool.Unpin(nodeID, true)
					return false, nil
				}
				rightFrame.Latch.Unlock()
				t.pool.Unpin(rightID, false)
			}
		}

		// No sibling had spare capacity: merge.
		if hasLeft {
			leftID := children[childIdx-1]
			leftFrame, err := t.pool.Fetch(leftID)
			if err != nil {
				childFrame.Latch.Unlock()
				t.pool.Unpin(childID, false)
				t.pool.Unpin(nodeID, false)
				return false, err
			}
			leftFrame.Latch.Lock()
			leftLeaf := wrapLeaf(leftFrame.Data)
			merged := append(leftLeaf.Entries(), childEntries...)
			leftLeaf.SetEntries(merged)
			leftLeaf.SetNextLeaf(childLeaf.NextLeaf())
			leftFrame.Latch.Unlock()
			childFrame.Latch.Unlock()
			t.pool.Unpin(leftID, true)
			t.pool.Unpin(childID, true)
			if err := t.pool.Delete(childID); err != nil {
				t.pool.Unpin(nodeID, false)
				return false, err
			}
			removeSeparator(&keys, &children, childIdx-1)
			in.SetKeysChildren(keys, children)
			t.pool.Unpin(nodeID, true)
			return len(children) < t.minChildren, nil
		}
		// No left sibling: merge with right instead.
		rightID := children[childIdx+1]
		rightFrame, err := t.pool.Fetch(rightID)
		if err != nil {
			childFrame.Latch.Unlock()
			t.pool.Unpin(childID, false)
			t.pool.Unpin(nodeID, false)
			return false, err
		}
		rightFrame.Latch.Lock()
		rightLeaf := wrapLeaf(rightFrame.Data)
		merged := append(childEntries, rightLeaf.Entries()...)
		childLeaf.SetEntries(merged)
		childLeaf.SetNextLeaf(rightLeaf.NextLeaf())
		rightFrame.Latch.Unlock()
		childFrame.Latch.Unlock()
		t.pool.Unpin(rightID, true)
		t.pool.Unpin(childID, true)
		if err := t.pool.Delete(rightID); err != nil {
			t.pool.Unpin(nodeID, false)
			return false, err
		}
		removeSeparator(&keys, &children, childIdx)
		in.SetKeysChildren(keys, children)
		t.pool.Unpin(nodeID, true)
		return len(children) < t.minChildren, nil
	}

	// Internal child.
	childFrame.Latch.Lock()
	childIn := wrapInternal(childFrame.Data, t.maxSize-1)
	childKeys := childIn.Keys()
	childChildren := childIn.Children()
	minKeys := t.minChildren - 1

	if hasLeft {
		leftID := children[childIdx-1]
		leftFrame, err := t.pool.Fetch(leftID)
		if err == nil {
			leftFrame.Latch.Lock()
			leftIn := wrapInternal(leftFrame.Data, t.maxSize-1)
			leftKeys := leftIn.Keys()
			leftChildren := leftIn.Children()
			if len(leftKeys) > minKeys {
				borrowedKey := leftKeys[len(leftKeys)-1]
				borrowedChild := leftChildren[len(leftChildren)-1]
				leftIn.SetKeysChildren(leftKeys[:len(leftKeys)-1], leftChildren[:len(leftChildren)-1])
				childKeys = append([][]byte{cloneKey([MaxKeySize]byte(keys[childIdx-1]))}, childKeys...)
				childChildren = append([]page.ID{borrowedChild}, childChildren...)
				childIn.SetKeysChildren(childKeys, childChildren)
				keys[childIdx-1] = borrowedKey
				in.SetKeysChildren(keys, children)
				leftFrame.Latch.Unlock()
				childFrame.Latch.Unlock()
				t.pool.Unpin(leftID, true)
				t.pool.Unpin(childID, true)
				t.pool.Unpin(nodeID, true)
				return false, nil
			}
			leftFrame.Latch.Unlock()
			t.pool.Unpin(leftID, false)
		}
	}
	if hasRight {
		rightID := children[childIdx+1]
		rightFrame, err := t.pool.Fetch(rightID)
		if err == nil {
			rightFrame.Latch.Lock()
			rightIn := wrapInternal(rightFrame.Data, t.maxSize-1)
			rightKeys := rightIn.Keys()
			rightChildren := rightIn.Children()
			if len(rightKeys) > minKeys {
				borrowedKey := rightKeys[0]
				borrowedChild := rightChildren[0]
				rightIn.SetKeysChildren(rightKeys[1:], rightChildren[1:])
				childKeys = append(childKeys, cloneKey([MaxKeySize]byte(keys[childIdx])))
				childChildren = append(childChildren, borrowedChild)
				childIn.SetKeysChildren(childKeys, childChildren)
				keys[childIdx] = borrowedKey
				in.SetKeysChildren(keys, children)
				rightFrame.Latch.Unlock()
				childFrame.Latch.Unlock()
				t.pool.Unpin(rightID, true)
				t.pool.Unpin(childID, true)
				t.pool.Unpin(nodeID, true)
				return false, nil
			}
			rightFrame.Latch.Unlock()
			t.pool.Unpin(rightID, false)
		}
	}

	if hasLeft {
		leftID := children[childIdx-1]
		leftFrame, err := t.pool.Fetch(leftID)
		if err != nil {
			childFrame.Latch.Unlock()
			t.pool.Unpin(childID, false)
			t.pool.Unpin(nodeID, false)
			return false, err
		}
		leftFrame.Latch.Lock()
		leftIn := wrapInternal(leftFrame.Data, t.maxSize-1)
		mergedKeys := append(leftIn.Keys(), cloneKey([MaxKeySize]byte(keys[childIdx-1])))
		mergedKeys = append(mergedKeys, childKeys...)
		mergedChildren := append(leftIn.Children(), childChildren...)
		leftIn.SetKeysChildren(mergedKeys, mergedChildren)
		leftFrame.Latch.Unlock()
		childFrame.Latch.Unlock()
		t.pool.Unpin(leftID, true)
		t.pool.Unpin(childID, true)
		if err := t.pool.Delete(childID); err != nil {
			t.pool.Unpin(nodeID, false)
			return false, err
		}
		removeSeparator(&keys, &children, childIdx-1)
		in.SetKeysChildren(keys, children)
		t.pool.Unpin(nodeID, true)
		return len(children) < t.minChildren, nil
	}

	rightID := children[childIdx+1]
	rightFrame, err := t.pool.Fetch(rightID)
	if err != nil {
		childFrame.Latch.Unlock()
		t.pool.Unpin(childID, false)
		t.pool.Unpin(nodeID, false)
		return false, err
	}
	rightFrame.Latch.Lock()
	rightIn := wrapInternal(rightFrame.Data, t.maxSize-1)
	mergedKeys := append(childKeys, cloneKey([MaxKeySize]byte(keys[childIdx])))
	mergedKeys = append(mergedKeys, rightIn.Keys()...)
	mergedChildren := append(childChildren, rightIn.Children()...)
	childIn.SetKeysChildren(mergedKeys, mergedChildren)
	rightFrame.Latch.Unlock()
	childFrame.Latch.Unlock()
	t.pool.Unpin(rightID, true)
	t.pool.Unpin(childID, true)
	if err := t.pool.Delete(rightID); err != nil {
		t.pool.Unpin(nodeID, false)
		return false, err
	}
	removeSeparator(&keys, &children, childIdx)
	in.SetKeysChildren(keys, children)
	t.pool.Unpin(nodeID, true)
	return len(children) < t.minChildren, nil
}

func cloneKey(k [MaxKeySize]byte) []byte {
	out := make([]byte, MaxKeySize)
	copy(out, k[:])
	return out
}

// removeSeparator deletes keys[i] and children[i+1] in place.
func removeSeparator(keys *[][]byte, children *[]page.ID, i int) {
	k := *keys
	k = append(k[:i], k[i+1:]...)
	*keys = k
	c := *children
	c = append(c[:i+1], c[i+2:]...)
	*children = c
}
