// Package page defines the fixed-size disk page format shared by every
// on-disk structure in the storage kernel: the common page header, CRC
// validation, and the page-type tag. Higher layers (disk manager, buffer
// pool, table heap, B+Tree) operate on raw byte slices wrapped by this
// package's accessors rather than reinterpreting memory directly.
package page

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

const (
	// Size is the fixed page size in bytes. The source this kernel is
	// modeled on uses 4 KiB; it is a build-time constant here too.
	Size = 4096

	// HeaderSize is the size in bytes of the common page header.
	//
	//	[0]     Type      (1 byte)
	//	[1]     Flags     (1 byte)
	//	[2:4]   Reserved  (2 bytes)
	//	[4:8]   PageID    (4 bytes, uint32 LE)
	//	[8:16]  LSN       (8 bytes, uint64 LE)
	//	[16:20] CRC32     (4 bytes, uint32 LE)
	//	[20:32] Reserved  (12 bytes)
	HeaderSize = 32

	// Invalid is the sentinel page ID meaning "no page".
	Invalid ID = 0xFFFFFFFF
)

// ID identifies a page within a data file. Invalid denotes no page.
type ID uint32

// LSN is a monotonic log sequence number. 0 is invalid (never assigned).
type LSN uint64

// Type tags the kind of structure stored in a page.
type Type uint8

const (
	TypeHeader   Type = 0x01 // B+Tree header page (any page id, recorded in the catalog)
	TypeInternal Type = 0x02 // B+Tree internal node
	TypeLeaf     Type = 0x03 // B+Tree leaf node
	TypeTable    Type = 0x04 // table heap slotted page
	TypeFreeList Type = 0x05
	TypeCatalog  Type = 0x06
)

func (t Type) String() string {
	switch t {
	case TypeHeader:
		return "Header"
	case TypeInternal:
		return "BTreeInternal"
	case TypeLeaf:
		return "BTreeLeaf"
	case TypeTable:
		return "TableHeap"
	case TypeFreeList:
		return "FreeList"
	case TypeCatalog:
		return "Catalog"
	default:
		return fmt.Sprintf("Unknown(0x%02x)", uint8(t))
	}
}

// Header is the HeaderSize-byte prefix present on every page.
type Header struct {
	Type     Type
	Flags    uint8
	Reserved uint16
	ID       ID
	LSN      LSN
	CRC      uint32
}

// PutHeader writes h into the first HeaderSize bytes of buf.
func PutHeader(h *Header, buf []byte) {
	if len(buf) < HeaderSize {
		panic("page: buffer too small for header")
	}
	buf[0] = byte(h.Type)
	buf[1] = h.Flags
	binary.LittleEndian.PutUint16(buf[2:4], h.Reserved)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(h.ID))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(h.LSN))
	binary.LittleEndian.PutUint32(buf[16:20], h.CRC)
}

// GetHeader reads the header out of the first HeaderSize bytes of buf.
func GetHeader(buf []byte) Header {
	return Header{
		Type:     Type(buf[0]),
		Flags:    buf[1],
		Reserved: binary.LittleEndian.Uint16(buf[2:4]),
		ID:       ID(binary.LittleEndian.Uint32(buf[4:8])),
		LSN:      LSN(binary.LittleEndian.Uint64(buf[8:16])),
		CRC:      binary.LittleEndian.Uint32(buf[16:20]),
	}
}

// SetLSN patches only the LSN field of an existing page buffer.
func SetLSN(buf []byte, lsn LSN) {
	binary.LittleEndian.PutUint64(buf[8:16], uint64(lsn))
}

// GetLSN reads only the LSN field of a page buffer.
func GetLSN(buf []byte) LSN {
	return LSN(binary.LittleEndian.Uint64(buf[8:16]))
}

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// ComputeCRC computes the CRC32-C of a full page, treating the CRC field
// (bytes 16:20) as zero during computation.
func ComputeCRC(buf []byte) uint32 {
	h := crc32.New(crcTable)
	h.Write(buf[:16])
	h.Write([]byte{0, 0, 0, 0})
	h.Write(buf[20:])
	return h.Sum32()
}

// SetCRC computes and stores the CRC of buf in its header.
func SetCRC(buf []byte) {
	binary.LittleEndian.PutUint32(buf[16:20], ComputeCRC(buf))
}

// VerifyCRC reports a Corruption-shaped error if the stored CRC does not
// match the computed one.
func VerifyCRC(buf []byte) error {
	stored := binary.LittleEndian.Uint32(buf[16:20])
	computed := ComputeCRC(buf)
	if stored != computed {
		id := binary.LittleEndian.Uint32(buf[4:8])
		return fmt.Errorf("page %d: CRC mismatch: stored=%08x computed=%08x", id, stored, computed)
	}
	return nil
}

// New allocates a zeroed page buffer and writes its header.
func New(pt Type, id ID) []byte {
	buf := make([]byte, Size)
	h := &Header{Type: pt, ID: id}
	PutHeader(h, buf)
	return buf
}
