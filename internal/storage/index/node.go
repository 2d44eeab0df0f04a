package index

import (
	"encoding/binary"

	"github.com/stratumdb/kernel/internal/storage/page"
	"github.com/stratumdb/kernel/internal/storage/rid"
)

// Node pages use a fixed-slot layout instead of the generic slotted page:
// every key occupies exactly MaxKeySize bytes, so entries are addressed by
// simple offset arithmetic. Structural changes (insert/delete/split/merge)
// are implemented by reading a node's full entry list into a Go slice,
// editing the slice, and writing it back — simpler to reason correctly
// about than in-place shifting with page-local overflow, at the cost of a
// copy per structural operation. Given these pages hold at most a few
// dozen entries, that cost is immaterial next to the disk I/O around it.
//
// Leaf layout (after the common Header):
//
//	[0:2]   count (u16)
//	[2:6]   nextLeafID (u32, page.Invalid if last)
//	[6:8]   padding
//	[8:]    count * (MaxKeySize key + 8-byte RID)
//
// Internal layout:
//
//	[0:2]   count (u16, number of keys; there are count+1 children)
//	[2:8]   padding
//	[8:+maxKeys*MaxKeySize]          up to maxKeys keys
//	[..:+(maxKeys+1)*4]              up to maxKeys+1 child page ids
const (
	nodeMetaOff    = page.HeaderSize
	nodeCountOff   = nodeMetaOff
	leafNextOff    = nodeMetaOff + 2
	nodeEntriesOff = nodeMetaOff + 8

	leafEntrySize = MaxKeySize + 8
)

type leafEntry struct {
	Key [MaxKeySize]byte
	RID rid.RID
}

type leafNode struct{ buf []byte }

func initLeaf(buf []byte, id page.ID) *leafNode {
	h := &page.Header{Type: page.TypeLeaf, ID: id}
	page.PutHeader(h, buf)
	binary.LittleEndian.PutUint16(buf[nodeCountOff:], 0)
	binary.LittleEndian.PutUint32(buf[leafNextOff:], uint32(page.Invalid))
	return &leafNode{buf: buf}
}

func wrapLeaf(buf []byte) *leafNode { return &leafNode{buf: buf} }

func (n *leafNode) Count() int { return int(binary.LittleEndian.Uint16(n.buf[nodeCountOff:])) }

func (n *leafNode) NextLeaf() page.ID {
	return page.ID(binary.LittleEndian.Uint32(n.buf[leafNextOff:]))
}
func (n *leafNode) SetNextLeaf(id page.ID) {
	binary.LittleEndian.PutUint32(n.buf[leafNextOff:], uint32(id))
}

func (n *leafNode) entryOff(i int) int { return nodeEntriesOff + i*leafEntrySize }

func (n *leafNode) KeyAt(i int) []byte {
	off := n.entryOff(i)
	return n.buf[off : off+MaxKeySize]
}

func (n *leafNode) RIDAt(i int) rid.RID {
	off := n.entryOff(i) + MaxKeySize
	var enc [8]byte
	copy(enc[:], n.buf[off:off+8])
	return rid.Decode(enc)
}

// Entries copies every entry out as a Go slice.
func (n *leafNode) Entries() []leafEntry {
	c := n.Count()
	out := make([]leafEntry, c)
	for i := 0; i < c; i++ {
		copy(out[i].Key[:], n.KeyAt(i))
		out[i].RID = n.RIDAt(i)
	}
	return out
}

// SetEntries overwrites the node's entries with entries, which must fit in
// the page's reserved capacity.
func (n *leafNode) SetEntries(entries []leafEntry) {
	binary.LittleEndian.PutUint16(n.buf[nodeCountOff:], uint16(len(entries)))
	for i, e := range entries {
		off := n.entryOff(i)
		copy(n.buf[off:off+MaxKeySize], e.Key[:])
		enc := e.RID.Encode()
		copy(n.buf[off+MaxKeySize:off+leafEntrySize], enc[:])
	}
}

// internalNode wraps an internal page. maxKeys is the tree's configured
// capacity (MaxSize-1): the key/child regions are sized for it regardless
// of the node's current Count, so every internal page in a given tree
// agrees on layout. It is supplied by the BTree rather than stored on
// disk, since it is a property of the tree, not the page.
type internalNode struct {
	buf     []byte
	maxKeys int
}

func initInternal(buf []byte, id page.ID, maxKeys int) *internalNode {
	h := &page.Header{Type: page.TypeInternal, ID: id}
	page.PutHeader(h, buf)
	binary.LittleEndian.PutUint16(buf[nodeCountOff:], 0)
	return &internalNode{buf: buf, maxKeys: maxKeys}
}

func wrapInternal(buf []byte, maxKeys int) *internalNode {
	return &internalNode{buf: buf, maxKeys: maxKeys}
}

func (n *internalNode) Count() int { return int(binary.LittleEndian.Uint16(n.buf[nodeCountOff:])) }

func (n *internalNode) keysOff() int     { return nodeEntriesOff }
func (n *internalNode) childrenOff() int { return nodeEntriesOff + n.maxKeys*MaxKeySize }

func (n *internalNode) KeyAt(i int) []byte {
	off := n.keysOff() + i*MaxKeySize
	return n.buf[off : off+MaxKeySize]
}

func (n *internalNode) ChildAt(i int) page.ID {
	off := n.childrenOff() + i*4
	return page.ID(binary.LittleEndian.Uint32(n.buf[off:]))
}

// Keys copies out the node's separator keys.
func (n *internalNode) Keys() [][]byte {
	c := n.Count()
	out := make([][]byte, c)
	for i := 0; i < c; i++ {
		k := make([]byte, MaxKeySize)
		copy(k, n.KeyAt(i))
		out[i] = k
	}
	return out
}

// Children copies out the node's child page ids (Count()+1 of them).
func (n *internalNode) Children() []page.ID {
	c := n.Count()
	out := make([]page.ID, c+1)
	for i := 0; i <= c; i++ {
		out[i] = n.ChildAt(i)
	}
	return out
}

// SetKeysChildren overwrites the node with keys and children, where
// len(children) == len(keys)+1.
func (n *internalNode) SetKeysChildren(keys [][]byte, children []page.ID) {
	binary.LittleEndian.PutUint16(n.buf[nodeCountOff:], uint16(len(keys)))
	for i, k := range keys {
		off := n.keysOff() + i*MaxKeySize
		copy(n.buf[off:off+MaxKeySize], k)
	}
	for i, c := range children {
		off := n.childrenOff() + i*4
		binary.LittleEndian.PutUint32(n.buf[off:], uint32(c))
	}
}

// SetSingleChild resets the node to hold one child and no keys.
func (n *internalNode) SetSingleChild(child page.ID) {
	n.SetKeysChildren(nil, []page.ID{child})
}
