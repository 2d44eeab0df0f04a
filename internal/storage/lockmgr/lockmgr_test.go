package lockmgr

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stratumdb/kernel/internal/storage/rid"
)

func testRID() rid.RID { return rid.RID{PageID: 1, Slot: 1} }

func TestSharedLocksCoexist(t *testing.T) {
	m := New()
	r := testRID()
	ctx := context.Background()
	if err := m.LockShared(ctx, 1, r); err != nil {
		t.Fatalf("txn1 LockShared: %v", err)
	}
	if err := m.LockShared(ctx, 2, r); err != nil {
		t.Fatalf("txn2 LockShared: %v", err)
	}
}

func TestExclusiveBlocksShared(t *testing.T) {
	m := NewWithTimeout(100 * time.Millisecond)
	r := testRID()
	ctx := context.Background()
	if err := m.LockExclusive(ctx, 1, r); err != nil {
		t.Fatalf("txn1 LockExclusive: %v", err)
	}
	if err := m.LockShared(ctx, 2, r); !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("txn2 LockShared while txn1 holds exclusive = %v, want ErrLockTimeout", err)
	}
}

func TestUnlockWakesWaiter(t *testing.T) {
	m := NewWithTimeout(2 * time.Second)
	r := testRID()
	ctx := context.Background()
	if err := m.LockExclusive(ctx, 1, r); err != nil {
		t.Fatalf("txn1 LockExclusive: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- m.LockExclusive(ctx, 2, r) }()

	time.Sleep(20 * time.Millisecond)
	m.Unlock(1, r)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("txn2 LockExclusive after unlock: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("txn2 never woke up after txn1 unlocked")
	}
}

func TestUpgradeAloneSucceedsImmediately(t *testing.T) {
	m := New()
	r := testRID()
	ctx := context.Background()
	if err := m.LockShared(ctx, 1, r); err != nil {
		t.Fatalf("LockShared: %v", err)
	}
	if err := m.Upgrade(ctx, 1, r); err != nil {
		t.Fatalf("Upgrade: %v", err)
	}
	mode, ok := m.HeldBy(1, r)
	if !ok || mode != Exclusive {
		t.Fatalf("after upgrade: mode=%v ok=%v, want Exclusive/true", mode, ok)
	}
}

func TestUpgradeWithoutSharedFails(t *testing.T) {
	m := New()
	r := testRID()
	if err := m.Upgrade(context.Background(), 1, r); err == nil {
		t.Fatal("expected error upgrading without a prior shared lock")
	}
}
