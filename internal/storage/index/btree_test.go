package index

import (
	"path/filepath"
	"testing"

	"github.com/stratumdb/kernel/internal/storage/buffer"
	"github.com/stratumdb/kernel/internal/storage/disk"
	"github.com/stratumdb/kernel/internal/storage/page"
	"github.com/stratumdb/kernel/internal/storage/rid"
	"github.com/stratumdb/kernel/internal/storage/types"
)

func newTestPool(t *testing.T, capacity int) *buffer.Pool {
	t.Helper()
	dir := t.TempDir()
	dm, err := disk.Open(filepath.Join(dir, "index.db"))
	if err != nil {
		t.Fatalf("disk.Open: %v", err)
	}
	t.Cleanup(func() { dm.Close() })
	return buffer.NewPool(dm, capacity)
}

func TestBTreeInsertFind(t *testing.T) {
	pool := newTestPool(t, 16)
	tree, err := Create(pool, types.KindI64)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	for i := int64(0); i < 50; i++ {
		if err := tree.Insert(types.I64(i), rid.RID{PageID: 1, Slot: uint16(i)}); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	for i := int64(0); i < 50; i++ {
		r, err := tree.Find(types.I64(i))
		if err != nil {
			t.Fatalf("Find(%d): %v", i, err)
		}
		if r.Slot != uint16(i) {
			t.Fatalf("Find(%d) = %v, want slot %d", i, r, i)
		}
	}
	if _, err := tree.Find(types.I64(999)); err != ErrKeyNotFound {
		t.Fatalf("Find(missing) = %v, want ErrKeyNotFound", err)
	}
}

func TestBTreeInsertOverwritesExistingKey(t *testing.T) {
	pool := newTestPool(t, 16)
	tree, err := Create(pool, types.KindI32)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := tree.Insert(types.I32(1), rid.RID{PageID: 1, Slot: 0}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := tree.Insert(types.I32(1), rid.RID{PageID: 2, Slot: 7}); err != nil {
		t.Fatalf("Insert overwrite: %v", err)
	}
	got, err := tree.Find(types.I32(1))
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	want := rid.RID{PageID: 2, Slot: 7}
	if got != want {
		t.Fatalf("Find after overwrite = %v, want %v", got, want)
	}
}

func TestBTreeSplitsAtSmallMaxSize(t *testing.T) {
	pool := newTestPool(t, 32)
	tree, err := CreateWithMaxSize(pool, types.KindI32, 4)
	if err != nil {
		t.Fatalf("CreateWithMaxSize: %v", err)
	}
	for i := int32(0); i < 20; i++ {
		if err := tree.Insert(types.I32(i), rid.RID{PageID: page1(i), Slot: 0}); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	for i := int32(0); i < 20; i++ {
		if _, err := tree.Find(types.I32(i)); err != nil {
			t.Fatalf("Find(%d) after splits: %v", i, err)
		}
	}
}

func page1(i int32) page.ID { return page.ID(i) + 1 }

func TestBTreeRangeFromOrdersAscending(t *testing.T) {
	pool := newTestPool(t, 32)
	tree, err := CreateWithMaxSize(pool, types.KindI32, 4)
	if err != nil {
		t.Fatalf("CreateWithMaxSize: %v", err)
	}
	want := []int32{5, 3, 9, 1, 7, 2, 8, 4, 6, 0}
	for _, v := range want {
		if err := tree.Insert(types.I32(v), rid.RID{PageID: page1(v), Slot: 0}); err != nil {
			t.Fatalf("Insert(%d): %v", v, err)
		}
	}
	cur, err := tree.RangeFrom(types.I32(0))
	if err != nil {
		t.Fatalf("RangeFrom: %v", err)
	}
	var got []int32
	for {
		k, _, ok, err := cur.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		got = append(got, int32(k.AsInt()))
	}
	if len(got) != 10 {
		t.Fatalf("got %d entries, want 10", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i-1] >= got[i] {
			t.Fatalf("range scan not ascending at %d: %v", i, got)
		}
	}
}

func TestBTreeDeleteAndUnderflow(t *testing.T) {
	pool := newTestPool(t, 32)
	tree, err := CreateWithMaxSize(pool, types.KindI32, 4)
	if err != nil {
		t.Fatalf("CreateWithMaxSize: %v", err)
	}
	const n = 30
	for i := int32(0); i < n; i++ {
		if err := tree.Insert(types.I32(i), rid.RID{PageID: page1(i), Slot: 0}); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	for i := int32(0); i < n; i += 2 {
		if err := tree.Delete(types.I32(i)); err != nil {
			t.Fatalf("Delete(%d): %v", i, err)
		}
	}
	for i := int32(0); i < n; i++ {
		_, err := tree.Find(types.I32(i))
		if i%2 == 0 {
			if err != ErrKeyNotFound {
				t.Fatalf("Find(%d) after delete = %v, want ErrKeyNotFound", i, err)
			}
		} else if err != nil {
			t.Fatalf("Find(%d) = %v, want found", i, err)
		}
	}
	if err := tree.Delete(types.I32(0)); err != ErrKeyNotFound {
		t.Fatalf("double delete = %v, want ErrKeyNotFound", err)
	}
}

func TestBTreeDeleteAllEmptiesTree(t *testing.T) {
	pool := newTestPool(t, 32)
	tree, err := CreateWithMaxSize(pool, types.KindI32, 4)
	if err != nil {
		t.Fatalf("CreateWithMaxSize: %v", err)
	}
	const n = 16
	for i := int32(0); i < n; i++ {
		if err := tree.Insert(types.I32(i), rid.RID{PageID: page1(i), Slot: 0}); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	for i := int32(0); i < n; i++ {
		if err := tree.Delete(types.I32(i)); err != nil {
			t.Fatalf("Delete(%d): %v", i, err)
		}
	}
	root, err := tree.readRoot()
	if err != nil {
		t.Fatalf("readRoot: %v", err)
	}
	if root != page.Invalid {
		t.Fatalf("expected empty tree root to be Invalid, got %v", root)
	}
	if err := tree.Insert(types.I32(42), rid.RID{PageID: page.ID(1), Slot: 0}); err != nil {
		t.Fatalf("Insert after emptying tree: %v", err)
	}
	if _, err := tree.Find(types.I32(42)); err != nil {
		t.Fatalf("Find after reinsert: %v", err)
	}
}

func TestBTreeStringKeys(t *testing.T) {
	pool := newTestPool(t, 16)
	tree, err := Create(pool, types.KindString)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	words := []string{"pear", "apple", "kiwi", "banana", "mango"}
	for i, w := range words {
		if err := tree.Insert(types.String(w), rid.RID{PageID: page.ID(i) + 1, Slot: 0}); err != nil {
			t.Fatalf("Insert(%q): %v", w, err)
		}
	}
	for i, w := range words {
		r, err := tree.Find(types.String(w))
		if err != nil {
			t.Fatalf("Find(%q): %v", w, err)
		}
		if r.PageID != page.ID(i)+1 {
			t.Fatalf("Find(%q) = %v, want page %d", w, r, i+1)
		}
	}
}
