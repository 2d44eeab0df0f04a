package kernel

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stratumdb/kernel/internal/storage/types"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.BufferPoolCapacity = 16
	cfg.LockTimeout = 200 * time.Millisecond
	return cfg
}

func usersSchema(t *testing.T) *types.Schema {
	t.Helper()
	s, err := types.NewSchema([]types.Column{
		{Name: "id", Kind: types.KindI64, IsPrimary: true},
		{Name: "name", Kind: types.KindString, Size: 64},
	})
	if err != nil {
		t.Fatalf("NewSchema: %v", err)
	}
	return s
}

func TestCreateTableInsertCommitGet(t *testing.T) {
	k, err := Open(testConfig(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer k.Close()

	if err := k.CreateTable("users", usersSchema(t)); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}

	tr, err := k.Begin("users")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	r, err := k.Insert("users", tr, []byte("alice"))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := k.Commit("users", tr); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	got, err := k.Get("users", r)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, []byte("alice")) {
		t.Fatalf("got %q want %q", got, "alice")
	}
}

func TestCreateTableDuplicateRejected(t *testing.T) {
	k, err := Open(testConfig(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer k.Close()

	if err := k.CreateTable("users", usersSchema(t)); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if err := k.CreateTable("users", usersSchema(t)); err == nil {
		t.Fatal("expected error creating duplicate table")
	}
}

func TestIndexInsertAndGet(t *testing.T) {
	k, err := Open(testConfig(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer k.Close()

	if err := k.CreateTable("users", usersSchema(t)); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if err := k.CreateIndex("users_id_idx", "users", "id", types.KindI64, true); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}

	tr, err := k.Begin("users")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	r, err := k.Insert("users", tr, []byte("bob"))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := k.IndexInsert("users", "users_id_idx", types.I64(42), r); err != nil {
		t.Fatalf("IndexInsert: %v", err)
	}
	if err := k.Commit("users", tr); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	got, err := k.IndexGet("users", "users_id_idx", types.I64(42))
	if err != nil {
		t.Fatalf("IndexGet: %v", err)
	}
	if got != r {
		t.Fatalf("IndexGet = %v, want %v", got, r)
	}
}

func TestAbortRollsBackAcrossKernel(t *testing.T) {
	k, err := Open(testConfig(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer k.Close()

	if err := k.CreateTable("users", usersSchema(t)); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	tr, err := k.Begin("users")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	r, err := k.Insert("users", tr, []byte("temp"))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := k.Abort("users", tr); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if _, err := k.Get("users", r); err == nil {
		t.Fatal("expected error getting aborted insert")
	}
}

func TestLockTimeoutSurfacesAsKernelError(t *testing.T) {
	k, err := Open(testConfig(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer k.Close()

	if err := k.CreateTable("users", usersSchema(t)); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	tr1, err := k.Begin("users")
	if err != nil {
		t.Fatalf("Begin tr1: %v", err)
	}
	r, err := k.Insert("users", tr1, []byte("x"))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := k.LockExclusive(context.Background(), "users", tr1, r); err != nil {
		t.Fatalf("LockExclusive tr1: %v", err)
	}

	tr2, err := k.Begin("users")
	if err != nil {
		t.Fatalf("Begin tr2: %v", err)
	}
	if err := k.LockShared(context.Background(), "users", tr2, r); err == nil {
		t.Fatal("expected lock timeout error")
	}
	k.Abort("users", tr1)
	k.Abort("users", tr2)
}

func TestCheckpointThenReopenRecovers(t *testing.T) {
	cfg := testConfig(t)
	k, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := k.CreateTable("users", usersSchema(t)); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	tr, err := k.Begin("users")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	r, err := k.Insert("users", tr, []byte("persisted"))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := k.Commit("users", tr); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := k.Checkpoint("users"); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if err := k.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	k2, err := Open(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer k2.Close()
	got, err := k2.Get("users", r)
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if !bytes.Equal(got, []byte("persisted")) {
		t.Fatalf("got %q want %q", got, "persisted")
	}
}

func TestScanIteratesInsertedRows(t *testing.T) {
	k, err := Open(testConfig(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer k.Close()

	if err := k.CreateTable("users", usersSchema(t)); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	tr, err := k.Begin("users")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	for _, name := range []string{"a", "b", "c"} {
		if _, err := k.Insert("users", tr, []byte(name)); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	if err := k.Commit("users", tr); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	it, err := k.Scan("users")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	count := 0
	for {
		_, _, ok, err := it.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		count++
	}
	if count != 3 {
		t.Fatalf("scanned %d rows, want 3", count)
	}
}
