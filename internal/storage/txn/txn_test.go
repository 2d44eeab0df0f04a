package txn

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stratumdb/kernel/internal/storage/buffer"
	"github.com/stratumdb/kernel/internal/storage/disk"
	"github.com/stratumdb/kernel/internal/storage/heap"
	"github.com/stratumdb/kernel/internal/storage/lockmgr"
	"github.com/stratumdb/kernel/internal/storage/walog"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	dir := t.TempDir()
	dm, err := disk.Open(filepath.Join(dir, "data.db"))
	if err != nil {
		t.Fatalf("disk.Open: %v", err)
	}
	t.Cleanup(func() { dm.Close() })
	pool := buffer.NewPool(dm, 16)

	h, err := heap.Create(pool)
	if err != nil {
		t.Fatalf("heap.Create: %v", err)
	}
	wal, err := walog.Open(filepath.Join(dir, "wal.log"))
	if err != nil {
		t.Fatalf("walog.Open: %v", err)
	}
	t.Cleanup(func() { wal.Close() })

	return NewManager(h, lockmgr.New(), wal)
}

func TestCommitDurability(t *testing.T) {
	m := newTestManager(t)
	tr, err := m.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	r, err := m.Insert(tr, []byte("durable"))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := m.Commit(tr); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if tr.State() != Committed {
		t.Fatalf("state after commit = %v, want Committed", tr.State())
	}
	got, err := m.table.Get(r)
	if err != nil {
		t.Fatalf("Get after commit: %v", err)
	}
	if !bytes.Equal(got, []byte("durable")) {
		t.Fatalf("got %q want %q", got, "durable")
	}
}

func TestAbortRollsBackInsert(t *testing.T) {
	m := newTestManager(t)
	tr, err := m.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	r, err := m.Insert(tr, []byte("temp"))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := m.Abort(tr); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if _, err := m.table.Get(r); err != heap.ErrNotFound {
		t.Fatalf("Get after abort of insert = %v, want ErrNotFound", err)
	}
}

func TestAbortRollsBackUpdate(t *testing.T) {
	m := newTestManager(t)

	setup, err := m.Begin()
	if err != nil {
		t.Fatalf("Begin setup: %v", err)
	}
	r, err := m.Insert(setup, []byte("original"))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := m.Commit(setup); err != nil {
		t.Fatalf("Commit setup: %v", err)
	}

	tr, err := m.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := m.Update(tr, r, []byte("modified")); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := m.Abort(tr); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	got, err := m.table.Get(r)
	if err != nil {
		t.Fatalf("Get after abort of update: %v", err)
	}
	if !bytes.Equal(got, []byte("original")) {
		t.Fatalf("got %q after rollback, want %q", got, "original")
	}
}

func TestLockOnShrinkingRejected(t *testing.T) {
	m := newTestManager(t)
	tr, err := m.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	r, err := m.Insert(tr, []byte("x"))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := m.LockExclusive(context.Background(), tr, r); err != nil {
		t.Fatalf("LockExclusive: %v", err)
	}
	m.ReleaseLock(tr, r)
	if tr.State() != Shrinking {
		t.Fatalf("state after early release = %v, want Shrinking", tr.State())
	}
	if err := m.LockShared(context.Background(), tr, r); err != ErrLockOnShrinking {
		t.Fatalf("LockShared during shrinking = %v, want ErrLockOnShrinking", err)
	}
}
