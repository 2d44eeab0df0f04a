package catalog

import (
	"path/filepath"
	"testing"

	"github.com/stratumdb/kernel/internal/storage/buffer"
	"github.com/stratumdb/kernel/internal/storage/disk"
	"github.com/stratumdb/kernel/internal/storage/page"
	"github.com/stratumdb/kernel/internal/storage/types"
)

func newTestPool(t *testing.T) *buffer.Pool {
	t.Helper()
	dir := t.TempDir()
	dm, err := disk.Open(filepath.Join(dir, "data.db"))
	if err != nil {
		t.Fatalf("disk.Open: %v", err)
	}
	t.Cleanup(func() { dm.Close() })
	return buffer.NewPool(dm, 16)
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

func TestCreateTableAndLookup(t *testing.T) {
	pool := newTestPool(t)
	c, err := Create(pool)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	schema := usersSchema(t)
	info, err := c.CreateTable("users", schema, page.ID(7))
	if err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if info.FirstPageID != page.ID(7) {
		t.Fatalf("FirstPageID = %v, want 7", info.FirstPageID)
	}

	got, ok := c.Table("users")
	if !ok {
		t.Fatal("Table(users) not found")
	}
	if got.Schema.Len() != 2 || got.Schema.Column(0).Name != "id" {
		t.Fatalf("unexpected schema: %+v", got.Schema)
	}
}

func TestCreateTableDuplicateRejected(t *testing.T) {
	pool := newTestPool(t)
	c, _ := Create(pool)
	schema := usersSchema(t)
	if _, err := c.CreateTable("users", schema, page.ID(1)); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if _, err := c.CreateTable("users", schema, page.ID(2)); err == nil {
		t.Fatal("expected error creating duplicate table")
	}
}

func TestCreateIndexAndIndexesForTable(t *testing.T) {
	pool := newTestPool(t)
	c, _ := Create(pool)
	schema := usersSchema(t)
	if _, err := c.CreateTable("users", schema, page.ID(1)); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if _, err := c.CreateIndex("users_id_idx", "users", "id", types.KindI64, page.ID(9), true); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}
	idxs := c.IndexesForTable("users")
	if len(idxs) != 1 || idxs[0].Name != "users_id_idx" {
		t.Fatalf("IndexesForTable = %+v", idxs)
	}
}

func TestDropTableRemovesEntry(t *testing.T) {
	pool := newTestPool(t)
	c, _ := Create(pool)
	schema := usersSchema(t)
	if _, err := c.CreateTable("users", schema, page.ID(1)); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if err := c.DropTable("users"); err != nil {
		t.Fatalf("DropTable: %v", err)
	}
	if _, ok := c.Table("users"); ok {
		t.Fatal("Table(users) still present after drop")
	}
}

func TestReopenReplaysEntries(t *testing.T) {
	pool := newTestPool(t)
	c, err := Create(pool)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	schema := usersSchema(t)
	if _, err := c.CreateTable("users", schema, page.ID(3)); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if _, err := c.CreateIndex("users_id_idx", "users", "id", types.KindI64, page.ID(11), true); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}

	reopened, err := Open(pool, c.FirstPageID())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	tbl, ok := reopened.Table("users")
	if !ok {
		t.Fatal("users missing after reopen")
	}
	if tbl.FirstPageID != page.ID(3) {
		t.Fatalf("FirstPageID after reopen = %v, want 3", tbl.FirstPageID)
	}
	idx, ok := reopened.Index("users_id_idx")
	if !ok {
		t.Fatal("users_id_idx missing after reopen")
	}
	if idx.HeaderPageID != page.ID(11) || !idx.Unique {
		t.Fatalf("unexpected index after reopen: %+v", idx)
	}
}
