package page

import (
	"encoding/binary"
	"fmt"
)

// Slotted wraps a page buffer and provides record-level operations over
// the slotted-page layout:
//
//	[0:HeaderSize]              common Header
//	[HeaderSize:+4]             SlotCount (uint16) + FreeSpaceEnd (uint16)
//	[..]                        slot directory, 4 bytes/slot, growing forward
//	... free space ...
//	[FreeSpaceEnd:Size]         record bodies, growing backward
//
// A slot with Offset==0 and Length==0 is a tombstone: the index stays
// reserved forever so record identifiers are never reused.
type Slotted struct {
	buf []byte
}

const (
	slottedMetaOff  = HeaderSize     // 32: SlotCount(2) + FreeSpaceEnd(2)
	slottedDirOff   = slottedMetaOff + 4
	slotEntrySize   = 4 // Offset(2) + Length(2)
)

// Slot describes one entry in the slot directory.
type Slot struct {
	Offset uint16
	Length uint16
}

// WrapSlotted wraps an existing page buffer without touching its contents.
func WrapSlotted(buf []byte) *Slotted { return &Slotted{buf: buf} }

// InitSlotted initializes buf as an empty slotted page of the given type.
func InitSlotted(buf []byte, pt Type, id ID) *Slotted {
	h := &Header{Type: pt, ID: id}
	PutHeader(h, buf)
	binary.LittleEndian.PutUint16(buf[slottedMetaOff:], 0)
	binary.LittleEndian.PutUint16(buf[slottedMetaOff+2:], uint16(len(buf)))
	return &Slotted{buf: buf}
}

func (s *Slotted) SlotCount() int {
	return int(binary.LittleEndian.Uint16(s.buf[slottedMetaOff:]))
}

func (s *Slotted) setSlotCount(n int) {
	binary.LittleEndian.PutUint16(s.buf[slottedMetaOff:], uint16(n))
}

// FreeSpaceOffset is the byte offset where the next record body is written.
func (s *Slotted) FreeSpaceOffset() int {
	return int(binary.LittleEndian.Uint16(s.buf[slottedMetaOff+2:]))
}

func (s *Slotted) setFreeSpaceOffset(off int) {
	binary.LittleEndian.PutUint16(s.buf[slottedMetaOff+2:], uint16(off))
}

func (s *Slotted) dirEnd() int {
	return slottedDirOff + s.SlotCount()*slotEntrySize
}

// FreeSpace reports bytes available for a new record plus its slot entry.
func (s *Slotted) FreeSpace() int {
	return s.FreeSpaceOffset() - s.dirEnd() - slotEntrySize
}

func (s *Slotted) GetSlot(i int) Slot {
	off := slottedDirOff + i*slotEntrySize
	return Slot{
		Offset: binary.LittleEndian.Uint16(s.buf[off:]),
		Length: binary.LittleEndian.Uint16(s.buf[off+2:]),
	}
}

func (s *Slotted) setSlot(i int, e Slot) {
	off := slottedDirOff + i*slotEntrySize
	binary.LittleEndian.PutUint16(s.buf[off:], e.Offset)
	binary.LittleEndian.PutUint16(s.buf[off+2:], e.Length)
}

// IsTombstone reports whether slot i has been deleted.
func (s *Slotted) IsTombstone(i int) bool {
	e := s.GetSlot(i)
	return e.Offset == 0 && e.Length == 0
}

// Get returns the raw record bytes at slot i, or nil if tombstoned.
func (s *Slotted) Get(i int) []byte {
	e := s.GetSlot(i)
	if e.Offset == 0 && e.Length == 0 {
		return nil
	}
	return s.buf[e.Offset : e.Offset+e.Length]
}

// Insert appends a new record, reusing a tombstoned slot's directory entry
// is NOT performed — per the table heap invariant, slot indices are never
// reused. It always grows the slot directory. Returns the new slot index.
func (s *Slotted) Insert(data []byte) (int, error) {
	needed := len(data)
	if s.FreeSpace() < needed {
		return -1, fmt.Errorf("page: insufficient free space: need %d, have %d", needed, s.FreeSpace())
	}
	newOff := s.FreeSpaceOffset() - needed
	copy(s.buf[newOff:], data)
	s.setFreeSpaceOffset(newOff)

	sc := s.SlotCount()
	s.setSlot(sc, Slot{Offset: uint16(newOff), Length: uint16(needed)})
	s.setSlotCount(sc + 1)
	return sc, nil
}

// Tombstone marks slot i deleted without reclaiming its directory entry.
func (s *Slotted) Tombstone(i int) error {
	if i < 0 || i >= s.SlotCount() {
		return fmt.Errorf("page: slot %d out of range [0,%d)", i, s.SlotCount())
	}
	s.setSlot(i, Slot{})
	return nil
}

// UpdateInPlace overwrites slot i with data no larger than its current
// record. Returns false if data does not fit in the existing slot.
func (s *Slotted) UpdateInPlace(i int, data []byte) bool {
	old := s.GetSlot(i)
	if int(old.Length) < len(data) {
		return false
	}
	copy(s.buf[old.Offset:], data)
	s.setSlot(i, Slot{Offset: old.Offset, Length: uint16(len(data))})
	return true
}

// InsertAt grows a new record body at the page end and rewrites slot i to
// point at it, without allocating a new slot index. Used when an update no
// longer fits in place but the RID (page,slot) must be preserved.
func (s *Slotted) InsertAt(i int, data []byte) error {
	needed := len(data)
	if s.FreeSpace()+slotEntrySize < needed {
		return fmt.Errorf("page: insufficient free space for relocation: need %d", needed)
	}
	newOff := s.FreeSpaceOffset() - needed
	copy(s.buf[newOff:], data)
	s.setFreeSpaceOffset(newOff)
	s.setSlot(i, Slot{Offset: uint16(newOff), Length: uint16(needed)})
	return nil
}

// Bytes returns the underlying page buffer.
func (s *Slotted) Bytes() []byte { return s.buf }
