package recovery

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stratumdb/kernel/internal/storage/buffer"
	"github.com/stratumdb/kernel/internal/storage/disk"
	"github.com/stratumdb/kernel/internal/storage/heap"
	"github.com/stratumdb/kernel/internal/storage/lockmgr"
	"github.com/stratumdb/kernel/internal/storage/txn"
	"github.com/stratumdb/kernel/internal/storage/walog"
)

// fixture wires up a heap + WAL pair on disk, so that it can be reopened
// fresh (simulating a crash/restart) without carrying over any in-memory
// state from the first txn.Manager.
type fixture struct {
	dir     string
	dataDB  string
	logDB   string
	pool    *buffer.Pool
	dm      *disk.Manager
	heap    *heap.Heap
	wal     *walog.WAL
	locks   *lockmgr.Manager
	mgr     *txn.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		dir:    dir,
		dataDB: filepath.Join(dir, "data.db"),
		logDB:  filepath.Join(dir, "wal.log"),
		locks:  lockmgr.New(),
	}
	f.openFresh(t, true)
	t.Cleanup(func() {
		f.dm.Close()
		f.wal.Close()
	})
	return f
}

func (f *fixture) openFresh(t *testing.T, create bool) {
	t.Helper()
	dm, err := disk.Open(f.dataDB)
	if err != nil {
		t.Fatalf("disk.Open: %v", err)
	}
	f.dm = dm
	f.pool = buffer.NewPool(dm, 16)

	if create {
		h, err := heap.Create(f.pool)
		if err != nil {
			t.Fatalf("heap.Create: %v", err)
		}
		f.heap = h
	}

	wal, err := walog.Open(f.logDB)
	if err != nil {
		t.Fatalf("walog.Open: %v", err)
	}
	f.wal = wal
	f.mgr = txn.NewManager(f.heap, f.locks, f.wal)
}

// reopen simulates a crash and restart: closes the current disk/log
// handles without any further writes, reopens both against the same
// files (heap re-anchored at the same first page), and returns a fresh
// recovery manager to run against whatever the log holds.
func (f *fixture) reopen(t *testing.T) *Manager {
	t.Helper()
	first := f.heap.FirstPageID()
	// A real buffer pool can write dirty pages back under memory pressure
	// at any time, independent of transaction boundaries; simulate that
	// here so the on-disk page structure exists for recovery to redo or
	// undo against, without relying on any WAL-driven formatting (which
	// this kernel's logical log never attempts).
	if err := f.pool.FlushAll(); err != nil {
		t.Fatalf("FlushAll before reopen: %v", err)
	}
	f.dm.Close()
	f.wal.Close()

	dm, err := disk.Open(f.dataDB)
	if err != nil {
		t.Fatalf("disk.Open (reopen): %v", err)
	}
	f.dm = dm
	f.pool = buffer.NewPool(dm, 16)
	f.heap = heap.Open(f.pool, first)

	wal, err := walog.Open(f.logDB)
	if err != nil {
		t.Fatalf("walog.Open (reopen): %v", err)
	}
	f.wal = wal
	f.mgr = txn.NewManager(f.heap, f.locks, f.wal)

	return NewManager(f.heap, f.wal)
}

func TestRecoverRedoesCommittedWrites(t *testing.T) {
	f := newFixture(t)
	tr, err := f.mgr.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	r, err := f.mgr.Insert(tr, []byte("hello"))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := f.mgr.Commit(tr); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	rm := f.reopen(t)
	if err := rm.Recover(); err != nil {
		t.Fatalf("Recover: %v", err)
	}
	got, err := f.heap.Get(r)
	if err != nil {
		t.Fatalf("Get after recover: %v", err)
	}
	if !bytes.Equal(got, []byte("hello")) {
		t.Fatalf("got %q want %q", got, "hello")
	}
}

func TestRecoverUndoesInFlightLoser(t *testing.T) {
	f := newFixture(t)

	// A committed baseline row.
	setup, err := f.mgr.Begin()
	if err != nil {
		t.Fatalf("Begin setup: %v", err)
	}
	r, err := f.mgr.Insert(setup, []byte("original"))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := f.mgr.Commit(setup); err != nil {
		t.Fatalf("Commit setup: %v", err)
	}

	// A transaction that updates the row and a second row, then "crashes"
	// (no Commit, no Abort ever logged).
	tr, err := f.mgr.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := f.mgr.LockExclusive(context.Background(), tr, r); err != nil {
		t.Fatalf("LockExclusive: %v", err)
	}
	if err := f.mgr.Update(tr, r, []byte("dirty")); err != nil {
		t.Fatalf("Update: %v", err)
	}
	orphan, err := f.mgr.Insert(tr, []byte("orphan"))
	if err != nil {
		t.Fatalf("Insert orphan: %v", err)
	}
	// Deliberately no Commit/Abort: tr is a loser at "crash" time.

	rm := f.reopen(t)
	if err := rm.Recover(); err != nil {
		t.Fatalf("Recover: %v", err)
	}

	got, err := f.heap.Get(r)
	if err != nil {
		t.Fatalf("Get r after recover: %v", err)
	}
	if !bytes.Equal(got, []byte("original")) {
		t.Fatalf("got %q after recover, want %q (loser's update rolled back)", got, "original")
	}
	if _, err := f.heap.Get(orphan); err != heap.ErrNotFound {
		t.Fatalf("Get orphan after recover = %v, want ErrNotFound (loser's insert rolled back)", err)
	}
}

func TestRecoverLeavesSelfHealedAbortAlone(t *testing.T) {
	f := newFixture(t)

	setup, err := f.mgr.Begin()
	if err != nil {
		t.Fatalf("Begin setup: %v", err)
	}
	r, err := f.mgr.Insert(setup, []byte("original"))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := f.mgr.Commit(setup); err != nil {
		t.Fatalf("Commit setup: %v", err)
	}

	tr, err := f.mgr.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := f.mgr.Update(tr, r, []byte("dirty")); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := f.mgr.Abort(tr); err != nil {
		t.Fatalf("Abort: %v", err)
	}

	rm := f.reopen(t)
	if err := rm.Recover(); err != nil {
		t.Fatalf("Recover: %v", err)
	}
	got, err := f.heap.Get(r)
	if err != nil {
		t.Fatalf("Get after recover: %v", err)
	}
	if !bytes.Equal(got, []byte("original")) {
		t.Fatalf("got %q after recover, want %q", got, "original")
	}
}

func TestCheckpointTruncatesWithNoActiveTxns(t *testing.T) {
	f := newFixture(t)
	tr, err := f.mgr.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := f.mgr.Insert(tr, []byte("x")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := f.mgr.Commit(tr); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	rm := NewManager(f.heap, f.wal)
	if err := rm.Checkpoint(nil); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	records, err := f.wal.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("log after checkpoint with no active txns has %d records, want 0", len(records))
	}
}
