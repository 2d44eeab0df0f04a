// Package buffer implements the buffer pool manager: the bounded
// in-memory page cache that sits between every higher-level component and
// the disk manager. It owns pin counts, the dirty flag, and victim
// selection (delegated to a Replacer), and is the only path through which
// callers read or write page bytes.
package buffer

import (
	"errors"
	"fmt"
	"sync"

	"github.com/stratumdb/kernel/internal/storage/disk"
	"github.com/stratumdb/kernel/internal/storage/page"
)

// ErrNoEvictablePage is returned by Fetch/New when every frame is pinned
// and no victim can be chosen. It is non-recoverable at the kernel layer:
// callers fail the query rather than aborting the process.
var ErrNoEvictablePage = errors.New("buffer: no evictable page")

// ErrInvalidPageID is returned when an operation references a page ID the
// pool has never heard of.
var ErrInvalidPageID = errors.New("buffer: invalid page id")

// Pool is the buffer pool manager. A single mutex serializes the page
// table, free list, pin counts, and replacer; I/O happens while the
// mutex is held, matching the fidelity the spec calls out as the simple
// (but correct) baseline.
type Pool struct {
	mu sync.Mutex

	disk     *disk.Manager
	replacer Replacer

	frames    []*Frame
	pageTable map[page.ID]int // page id -> frame index
	freeList  []int           // indices of frames holding no page
}

// NewPool creates a buffer pool with room for capacity frames.
func NewPool(d *disk.Manager, capacity int) *Pool {
	if capacity <= 0 {
		capacity = 1
	}
	frames := make([]*Frame, capacity)
	free := make([]int, capacity)
	for i := range frames {
		frames[i] = newFrame()
		free[i] = capacity - 1 - i // pop from the back, fill 0..n in order
	}
	return &Pool{
		disk:      d,
		replacer:  NewLRUReplacer(),
		frames:    frames,
		pageTable: make(map[page.ID]int),
		freeList:  free,
	}
}

// victimLocked picks a frame index to reuse: free list first, then the
// replacer. A free-list frame holds no page and needs no writeback. A
// replacer-sourced frame was, by construction, still mapped in pageTable
// (only unpinned, resident pages are replacer-eligible), so it is
// written back first if dirty, then unmapped. Returns ErrNoEvictablePage
// if neither source has anything to offer.
func (p *Pool) victimLocked() (int, error) {
	if n := len(p.freeList); n > 0 {
		idx := p.freeList[n-1]
		p.freeList = p.freeList[:n-1]
		return idx, nil
	}
	idx, ok := p.replacer.Victim()
	if !ok {
		return 0, ErrNoEvictablePage
	}
	f := p.frames[idx]
	if f.Dirty {
		if err := p.disk.WritePage(f.PageID, f.Data); err != nil {
			return 0, fmt.Errorf("buffer: evict flush page %d: %w", f.PageID, err)
		}
		f.Dirty = false
	}
	delete(p.pageTable, f.PageID)
	return idx, nil
}

// Fetch returns the frame holding id, loading it from disk on a cache
// miss. The frame's pin count is incremented; callers must call Unpin
// exactly once when done. Returns ErrNoEvictablePage if a miss cannot be
// serviced because every frame is pinned.
func (p *Pool) Fetch(id page.ID) (*Frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if idx, ok := p.pageTable[id]; ok {
		f := p.frames[idx]
		f.PinCount++
		p.replacer.Pin(idx)
		return f, nil
	}

	idx, err := p.victimLocked()
	if err != nil {
		return nil, err
	}

	f := p.frames[idx]
	f.reset(id)
	if err := p.disk.ReadPage(id, f.Data); err != nil {
		// Put the frame back on the free list; it holds nothing useful.
		p.freeList = append(p.freeList, idx)
		return nil, fmt.Errorf("buffer: fetch page %d: %w", id, err)
	}
	f.LSN = page.GetLSN(f.Data)
	f.PinCount = 1
	p.pageTable[id] = idx

	return f, nil
}

// New allocates a fresh page via the disk manager and pins a zeroed frame
// for it. Returns ErrNoEvictablePage if no frame can be freed.
func (p *Pool) New() (page.ID, *Frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx, err := p.victimLocked()
	if err != nil {
		return page.Invalid, nil, err
	}

	id, err := p.disk.AllocatePage()
	if err != nil {
		p.freeList = append(p.freeList, idx)
		return page.Invalid, nil, fmt.Errorf("buffer: allocate page: %w", err)
	}

	f := p.frames[idx]
	f.reset(id)
	f.Dirty = true
	f.PinCount = 1
	p.pageTable[id] = idx

	return id, f, nil
}

// Unpin decrements id's pin count and ORs dirty into its dirty flag. Once
// the pin count reaches zero the frame becomes eligible for eviction.
func (p *Pool) Unpin(id page.ID, dirty bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx, ok := p.pageTable[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrInvalidPageID, id)
	}
	f := p.frames[idx]
	if f.PinCount == 0 {
		panic("buffer: unpin with zero pin count")
	}
	f.PinCount--
	if dirty {
		f.Dirty = true
	}
	if f.PinCount == 0 {
		p.replacer.Unpin(idx)
	}
	return nil
}

// Flush forces id's page to disk if resident, even if clean.
func (p *Pool) Flush(id page.ID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx, ok := p.pageTable[id]
	if !ok {
		return nil
	}
	f := p.frames[idx]
	if err := p.disk.WritePage(id, f.Data); err != nil {
		return fmt.Errorf("buffer: flush page %d: %w", id, err)
	}
	f.Dirty = false
	return nil
}

// FlushAll writes back every resident dirty frame.
func (p *Pool) FlushAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, idx := range p.pageTable {
		f := p.frames[idx]
		if !f.Dirty {
			continue
		}
		if err := p.disk.WritePage(id, f.Data); err != nil {
			return fmt.Errorf("buffer: flush-all page %d: %w", id, err)
		}
		f.Dirty = false
	}
	return nil
}

// Delete force-unpins id if resident, evicts it, returns its frame to the
// free list, and deallocates it on disk.
func (p *Pool) Delete(id page.ID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if idx, ok := p.pageTable[id]; ok {
		f := p.frames[idx]
		f.PinCount = 0
		p.replacer.Pin(idx) // ensure it isn't left dangling in the replacer
		delete(p.pageTable, id)
		p.freeList = append(p.freeList, idx)
	}
	p.disk.DeallocatePage(id)
	return nil
}

// PinCount returns the current pin count of a resident page, or 0 if not
// resident. Exposed for tests that assert the pin-discipline invariant.
func (p *Pool) PinCount(id page.ID) uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if idx, ok := p.pageTable[id]; ok {
		return p.frames[idx].PinCount
	}
	return 0
}

// Capacity returns the number of frames managed by the pool.
func (p *Pool) Capacity() int { return len(p.frames) }
