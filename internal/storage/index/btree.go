// Package index implements a typed B+Tree mapping a single scalar key
// column to a RID: the kernel's only index structure, used both for
// explicit secondary indexes and (conceptually) a table's primary key
// index. Keys compare via types.Compare and are bounded to MaxKeySize
// bytes on disk (see key.go).
package index

import (
	"errors"
	"fmt"
	"sync"

	"github.com/stratumdb/kernel/internal/storage/buffer"
	"github.com/stratumdb/kernel/internal/storage/page"
	"github.com/stratumdb/kernel/internal/storage/rid"
	"github.com/stratumdb/kernel/internal/storage/types"
)

// ErrKeyNotFound is returned by Delete/Find when no entry matches the key.
var ErrKeyNotFound = errors.New("index: key not found")

// ErrDuplicateKey is reserved for callers that enforce uniqueness above
// the tree (see catalog.IndexInfo.Unique). The tree itself never returns
// it from Insert: a repeated key overwrites the stored RID, matching
// insert(key, rid, txn) -> bool "including key-already-present overwrite
// of the value."
var ErrDuplicateKey = errors.New("index: duplicate key")

// BTree is a disk-backed typed B+Tree. All structural mutation is
// serialized by a single tree-wide lock rather than per-page latch
// crabbing: simpler to reason about correctly, at the cost of concurrent
// writer throughput the spec's baseline explicitly allows trading away.
type BTree struct {
	mu sync.RWMutex

	pool       *buffer.Pool
	headerID   page.ID
	keyKind    types.Kind
	maxSize    int // max leaf entries == max internal children
	minLeaf    int
	minChildren int
}

// Create allocates a new, empty B+Tree with the default order.
func Create(pool *buffer.Pool, keyKind types.Kind) (*BTree, error) {
	return CreateWithMaxSize(pool, keyKind, defaultMaxSize)
}

// CreateWithMaxSize allocates a new tree with an explicit order, used by
// tests that need to force small, easily verified split/merge boundaries.
func CreateWithMaxSize(pool *buffer.Pool, keyKind types.Kind, maxSize int) (*BTree, error) {
	if maxSize < 3 {
		return nil, fmt.Errorf("index: maxSize must be >= 3, got %d", maxSize)
	}
	id, frame, err := pool.New()
	if err != nil {
		return nil, fmt.Errorf("index: create header page: %w", err)
	}
	frame.Latch.Lock()
	initHeaderPage(frame.Data, id, keyKind, maxSize)
	frame.Latch.Unlock()
	if err := pool.Unpin(id, true); err != nil {
		return nil, err
	}
	return newBTree(pool, id, keyKind, maxSize), nil
}

// Open reopens a tree from its header page ID, as recorded in the
// catalog.
func Open(pool *buffer.Pool, headerID page.ID) (*BTree, error) {
	frame, err := pool.Fetch(headerID)
	if err != nil {
		return nil, fmt.Errorf("index: open header page %d: %w", headerID, err)
	}
	frame.Latch.RLock()
	kind := readKeyKind(frame.Data)
	maxSize := readMaxSize(frame.Data)
	frame.Latch.RUnlock()
	if err := pool.Unpin(headerID, false); err != nil {
		return nil, err
	}
	return newBTree(pool, headerID, kind, maxSize), nil
}

func newBTree(pool *buffer.Pool, headerID page.ID, keyKind types.Kind, maxSize int) *BTree {
	minLeaf := (maxSize + 1) / 2
	minChildren := (maxSize + 1) / 2
	return &BTree{
		pool:        pool,
		headerID:    headerID,
		keyKind:     keyKind,
		maxSize:     maxSize,
		minLeaf:     minLeaf,
		minChildren: minChildren,
	}
}

// HeaderPageID returns the page holding this tree's root pointer and
// metadata, to be persisted in the catalog.
func (t *BTree) HeaderPageID() page.ID { return t.headerID }

func (t *BTree) readRoot() (page.ID, error) {
	frame, err := t.pool.Fetch(t.headerID)
	if err != nil {
		return page.Invalid, err
	}
	frame.Latch.RLock()
	root := readRootPageID(frame.Data)
	frame.Latch.RUnlock()
	return root, t.pool.Unpin(t.headerID, false)
}

func (t *BTree) writeRoot(id page.ID) error {
	frame, err := t.pool.Fetch(t.headerID)
	if err != nil {
		return err
	}
	frame.Latch.Lock()
	writeRootPageID(frame.Data, id)
	frame.Latch.Unlock()
	return t.pool.Unpin(t.headerID, true)
}

func (t *BTree) checkKind(key types.Value) error {
	if key.Kind != t.keyKind {
		return fmt.Errorf("index: key kind %s does not match tree kind %s", key.Kind, t.keyKind)
	}
	return nil
}

// Find returns the RID stored for key, or ErrKeyNotFound.
func (t *BTree) Find(key types.Value) (rid.RID, error) {
	if err := t.checkKind(key); err != nil {
		return rid.Invalid, err
	}
	kbuf, err := encodeKey(key)
	if err != nil {
		return rid.Invalid, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	root, err := t.readRoot()
	if err != nil {
		return rid.Invalid, err
	}
	if root == page.Invalid {
		return rid.Invalid, ErrKeyNotFound
	}
	leafID, err := t.findLeaf(root, kbuf)
	if err != nil {
		return rid.Invalid, err
	}
	frame, err := t.pool.Fetch(leafID)
	if err != nil {
		return rid.Invalid, err
	}
	defer t.pool.Unpin(leafID, false)
	frame.Latch.RLock()
	defer frame.Latch.RUnlock()
	leaf := wrapLeaf(frame.Data)
	idx, found, err := searchLeaf(leaf, kbuf[:], t.keyKind)
	if err != nil {
		return rid.Invalid, err
	}
	if !found {
		return rid.Invalid, ErrKeyNotFound
	}
	return leaf.RIDAt(idx), nil
}

// findLeaf descends from nodeID to the leaf that would hold key.
func (t *BTree) findLeaf(nodeID page.ID, key [MaxKeySize]byte) (page.ID, error) {
	for {
		frame, err := t.pool.Fetch(nodeID)
		if err != nil {
			return page.Invalid, err
		}
		frame.Latch.RLock()
		hdr := page.GetHeader(frame.Data)
		if hdr.Type == page.TypeLeaf {
			frame.Latch.RUnlock()
			t.pool.Unpin(nodeID, false)
			return nodeID, nil
		}
		in := wrapInternal(frame.Data, t.maxSize-1)
		idx, err := findChildIndex(in, key[:], t.keyKind)
		if err != nil {
			frame.Latch.RUnlock()
			t.pool.Unpin(nodeID, false)
			return page.Invalid, err
		}
		child := in.ChildAt(idx)
		frame.Latch.RUnlock()
		t.pool.Unpin(nodeID, false)
		nodeID = child
	}
}

// searchLeaf returns the index of key in leaf (or the insertion point and
// found=false).
func searchLeaf(leaf *leafNode, key []byte, kind types.Kind) (int, bool, error) {
	c := leaf.Count()
	lo, hi := 0, c
	for lo < hi {
		mid := (lo + hi) / 2
		cmp, err := compareKeys(leaf.KeyAt(mid), key, kind)
		if err != nil {
			return 0, false, err
		}
		if cmp < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < c {
		cmp, err := compareKeys(leaf.KeyAt(lo), key, kind)
		if err != nil {
			return 0, false, err
		}
		if cmp == 0 {
			return lo, true, nil
		}
	}
	return lo, false, nil
}

// findChildIndex returns the child index to descend into for key: the
// first index i such that key < keys[i], or Count() if key is >= every
// separator.
func findChildIndex(in *internalNode, key []byte, kind types.Kind) (int, error) {
	c := in.Count()
	for i := 0; i < c; i++ {
		cmp, err := compareKeys(key, in.KeyAt(i), kind)
		if err != nil {
			return 0, err
		}
		if cmp < 0 {
			return i, nil
		}
	}
	return c, nil
}
