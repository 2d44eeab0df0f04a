// Package heap implements the table heap: a singly linked chain of
// slotted pages holding a table's tuples, addressed by RID (page_id, slot).
package heap

import (
	"encoding/binary"

	"github.com/stratumdb/kernel/internal/storage/page"
)

// trailerSize bytes at the end of every table page store the next-page
// link, kept outside the generic slotted layout so package page stays
// agnostic of the heap's page-chaining scheme.
const trailerSize = 4

// TablePage wraps one page of the heap: a Slotted record area over the
// first Size-trailerSize bytes, plus a NextPageID pointer in the trailer.
type TablePage struct {
	slotted *page.Slotted
	buf     []byte
}

// InitTablePage formats a fresh page as an empty table page.
func InitTablePage(buf []byte, id page.ID) *TablePage {
	body := buf[:len(buf)-trailerSize]
	s := page.InitSlotted(body, page.TypeTable, id)
	tp := &TablePage{slotted: s, buf: buf}
	tp.setNextPageID(page.Invalid)
	return tp
}

// WrapTablePage views an already-formatted page buffer as a TablePage.
func WrapTablePage(buf []byte) *TablePage {
	body := buf[:len(buf)-trailerSize]
	return &TablePage{slotted: page.WrapSlotted(body), buf: buf}
}

func (tp *TablePage) NextPageID() page.ID {
	return page.ID(binary.LittleEndian.Uint32(tp.buf[len(tp.buf)-trailerSize:]))
}

func (tp *TablePage) setNextPageID(id page.ID) {
	binary.LittleEndian.PutUint32(tp.buf[len(tp.buf)-trailerSize:], uint32(id))
}

func (tp *TablePage) SetNextPageID(id page.ID) { tp.setNextPageID(id) }

func (tp *TablePage) SlotCount() int       { return tp.slotted.SlotCount() }
func (tp *TablePage) IsTombstone(i int) bool { return tp.slotted.IsTombstone(i) }
func (tp *TablePage) Get(i int) []byte     { return tp.slotted.Get(i) }
func (tp *TablePage) Insert(data []byte) (int, error) { return tp.slotted.Insert(data) }
func (tp *TablePage) Tombstone(i int) error { return tp.slotted.Tombstone(i) }
func (tp *TablePage) UpdateInPlace(i int, data []byte) bool {
	return tp.slotted.UpdateInPlace(i, data)
}
func (tp *TablePage) InsertAt(i int, data []byte) error { return tp.slotted.InsertAt(i, data) }
func (tp *TablePage) FreeSpace() int                    { return tp.slotted.FreeSpace() }
