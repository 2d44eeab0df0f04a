package heap

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stratumdb/kernel/internal/storage/buffer"
	"github.com/stratumdb/kernel/internal/storage/disk"
)

func newTestPool(t *testing.T, capacity int) *buffer.Pool {
	t.Helper()
	dir := t.TempDir()
	dm, err := disk.Open(filepath.Join(dir, "heap.db"))
	if err != nil {
		t.Fatalf("disk.Open: %v", err)
	}
	t.Cleanup(func() { dm.Close() })
	return buffer.NewPool(dm, capacity)
}

func TestHeapInsertGetDelete(t *testing.T) {
	pool := newTestPool(t, 4)
	h, err := Create(pool)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	r, err := h.Insert([]byte("hello"))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	got, err := h.Get(r)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, []byte("hello")) {
		t.Fatalf("got %q want %q", got, "hello")
	}

	if err := h.Delete(r); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := h.Get(r); err != ErrNotFound {
		t.Fatalf("Get after delete: got %v, want ErrNotFound", err)
	}

	// Re-inserting must not reuse the tombstoned slot's RID.
	r2, err := h.Insert([]byte("world"))
	if err != nil {
		t.Fatalf("Insert after delete: %v", err)
	}
	if r2 == r {
		t.Fatalf("expected a fresh RID, got the tombstoned one back: %v", r2)
	}
	if _, err := h.Get(r); err != ErrNotFound {
		t.Fatalf("tombstoned RID resurfaced after unrelated insert: %v", err)
	}
}

func TestHeapUpdateInPlaceAndRelocate(t *testing.T) {
	pool := newTestPool(t, 4)
	h, err := Create(pool)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	r, err := h.Insert([]byte("short"))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if err := h.Update(r, []byte("ab")); err != nil {
		t.Fatalf("in-place update: %v", err)
	}
	if got, _ := h.Get(r); !bytes.Equal(got, []byte("ab")) {
		t.Fatalf("got %q after in-place update", got)
	}

	bigger := bytes.Repeat([]byte("x"), 64)
	if err := h.Update(r, bigger); err != nil {
		t.Fatalf("relocating update: %v", err)
	}
	got, err := h.Get(r)
	if err != nil {
		t.Fatalf("Get after relocate: %v", err)
	}
	if !bytes.Equal(got, bigger) {
		t.Fatalf("relocated update mismatch: got %d bytes want %d", len(got), len(bigger))
	}
}

func TestHeapIteratesAcrossPages(t *testing.T) {
	pool := newTestPool(t, 2)
	h, err := Create(pool)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	payload := bytes.Repeat([]byte("y"), 512)
	const n = 40
	inserted := make(map[string]bool)
	for i := 0; i < n; i++ {
		r, err := h.Insert(payload)
		if err != nil {
			t.Fatalf("Insert %d: %v", i, err)
		}
		inserted[r.String()] = true
	}

	it := h.Iter()
	seen := 0
	for {
		r, data, ok, err := it.Next()
		if err != nil {
			t.Fatalf("iter: %v", err)
		}
		if !ok {
			break
		}
		if !inserted[r.String()] {
			t.Fatalf("iterator produced unknown RID %v", r)
		}
		if !bytes.Equal(data, payload) {
			t.Fatalf("iterator returned wrong payload for %v", r)
		}
		seen++
	}
	if seen != n {
		t.Fatalf("iterated %d tuples, want %d", seen, n)
	}
}

func TestMain_NoStrayFiles(t *testing.T) {
	// Sanity check that TempDir-based tests don't leak files into cwd.
	if _, err := os.Stat("heap.db"); err == nil {
		t.Fatal("unexpected stray heap.db in package directory")
	}
}
