// Package disk implements the paged disk manager: byte-exact read/write of
// fixed-size pages against a single backing file, plus page ID allocation.
// It is the only component that talks to the filesystem; everything above
// it (buffer pool, heap, index) addresses pages purely by page.ID.
package disk

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/stratumdb/kernel/internal/storage/page"
)

// ErrPageNotFound is returned by Read when id is beyond the current page
// count.
var ErrPageNotFound = errors.New("disk: page not found")

// Manager owns the single backing file for a database's data pages.
// New page ids are handed out in increasing order; deallocated pages are
// tracked in an in-memory free set and reissued before any new id, but the source this kernel
// follows never shrinks the file, so Manager doesn't either.
type Manager struct {
	mu       sync.Mutex
	file     *os.File
	path     string
	pageSize int
	numPages uint32
	free     freeSet
}

// Open opens path, creating it if absent. An empty file starts with zero
// pages; AllocatePage will hand out page 0 first.
func Open(path string) (*Manager, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("disk: open %s: %w", path, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("disk: stat %s: %w", path, err)
	}
	m := &Manager{
		file:     f,
		path:     path,
		pageSize: page.Size,
		numPages: uint32(fi.Size() / int64(page.Size)),
		free:     newFreeSet(),
	}
	return m, nil
}

// NumPages returns the current page count on disk.
func (m *Manager) NumPages() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int(m.numPages)
}

// AllocatePage returns a new, previously unallocated page ID (or one
// reclaimed via DeallocatePage) and zero-fills it on disk.
func (m *Manager) AllocatePage() (page.ID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.free.take(); ok {
		buf := make([]byte, m.pageSize)
		if err := m.writeAt(id, buf); err != nil {
			return page.Invalid, err
		}
		return id, nil
	}

	id := page.ID(m.numPages)
	m.numPages++
	buf := make([]byte, m.pageSize)
	if err := m.writeAt(id, buf); err != nil {
		return page.Invalid, err
	}
	return id, nil
}

// DeallocatePage marks id as free for reuse. Per the source this kernel
// follows, this is permitted to be a no-op (pages simply leak); keeping an
// in-memory free set is a reimplementation choice that does not change the
// file-length-monotonicity guarantee other components rely on.
func (m *Manager) DeallocatePage(id page.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.free.add(id)
}

// ReadPage reads page id into buf, which must be exactly page.Size bytes.
func (m *Manager) ReadPage(id page.ID, buf []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if uint32(id) >= m.numPages {
		return ErrPageNotFound
	}
	return m.readAt(id, buf)
}

// WritePage writes exactly page.Size bytes to id, extending the file if id
// is beyond the current page count.
func (m *Manager) WritePage(id page.ID, buf []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if uint32(id) >= m.numPages {
		m.numPages = uint32(id) + 1
	}
	return m.writeAt(id, buf)
}

func (m *Manager) readAt(id page.ID, buf []byte) error {
	off := int64(id) * int64(m.pageSize)
	n := 0
	for n < len(buf) {
		k, err := m.file.ReadAt(buf[n:], off+int64(n))
		n += k
		if err != nil {
			if n >= len(buf) {
				break
			}
			return fmt.Errorf("disk: read page %d: %w", id, err)
		}
	}
	return nil
}

func (m *Manager) writeAt(id page.ID, buf []byte) error {
	off := int64(id) * int64(m.pageSize)
	n := 0
	for n < len(buf) {
		k, err := m.file.WriteAt(buf[n:], off+int64(n))
		n += k
		if err != nil {
			return fmt.Errorf("disk: write page %d: %w", id, err)
		}
	}
	return nil
}

// Flush fsyncs the backing file, guaranteeing every WritePage call that
// returned before this point is durable.
func (m *Manager) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.file.Sync()
}

// Close flushes and closes the backing file.
func (m *Manager) Close() error {
	if err := m.Flush(); err != nil {
		m.file.Close()
		return err
	}
	return m.file.Close()
}

// Path returns the database file path.
func (m *Manager) Path() string { return m.path }
