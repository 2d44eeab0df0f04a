package index

import (
	"encoding/binary"

	"github.com/stratumdb/kernel/internal/storage/page"
	"github.com/stratumdb/kernel/internal/storage/types"
)

// defaultMaxSize is used when a BTree is created without an explicit
// order. Tests exercising split/merge boundaries override it via
// CreateWithMaxSize so they can force small, easily-reasoned-about trees
// (e.g. max_size=4).
const defaultMaxSize = 32

// header page layout (after the common Header):
//
//	[0:4]  rootPageID (u32, page.Invalid if the tree is empty)
//	[4]    keyKind (u8)
//	[5:7]  maxSize (u16)
const (
	hdrRootOff    = page.HeaderSize
	hdrKeyKindOff = hdrRootOff + 4
	hdrMaxSizeOff = hdrKeyKindOff + 1
)

func initHeaderPage(buf []byte, id page.ID, keyKind types.Kind, maxSize int) {
	h := &page.Header{Type: page.TypeHeader, ID: id}
	page.PutHeader(h, buf)
	binary.LittleEndian.PutUint32(buf[hdrRootOff:], uint32(page.Invalid))
	buf[hdrKeyKindOff] = byte(keyKind)
	binary.LittleEndian.PutUint16(buf[hdrMaxSizeOff:], uint16(maxSize))
}

func readRootPageID(buf []byte) page.ID {
	return page.ID(binary.LittleEndian.Uint32(buf[hdrRootOff:]))
}

func writeRootPageID(buf []byte, id page.ID) {
	binary.LittleEndian.PutUint32(buf[hdrRootOff:], uint32(id))
}

func readKeyKind(buf []byte) types.Kind { return types.Kind(buf[hdrKeyKindOff]) }

func readMaxSize(buf []byte) int { return int(binary.LittleEndian.Uint16(buf[hdrMaxSizeOff:])) }
