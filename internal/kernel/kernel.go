// Package kernel wires the storage layers — disk manager, buffer pool,
// write-ahead log, lock manager, transaction manager, recovery manager,
// table heap, B+Tree index, and catalog — into one facade exposing the
// operations a query layer needs, with a flat error taxonomy in front of
// them. Each table (and any indexes built over it) gets its own backing
// file and log, so page IDs and transaction IDs never need to be
// disambiguated across tables; the catalog and the lock manager are the
// only state shared kernel-wide.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/stratumdb/kernel/internal/storage/buffer"
	"github.com/stratumdb/kernel/internal/storage/catalog"
	"github.com/stratumdb/kernel/internal/storage/disk"
	"github.com/stratumdb/kernel/internal/storage/heap"
	"github.com/stratumdb/kernel/internal/storage/index"
	"github.com/stratumdb/kernel/internal/storage/lockmgr"
	"github.com/stratumdb/kernel/internal/storage/recovery"
	"github.com/stratumdb/kernel/internal/storage/rid"
	"github.com/stratumdb/kernel/internal/storage/txn"
	"github.com/stratumdb/kernel/internal/storage/types"
	"github.com/stratumdb/kernel/internal/storage/walog"
)

// tableRuntime bundles one table's complete, independent storage stack.
type tableRuntime struct {
	dm       *disk.Manager
	pool     *buffer.Pool
	wal      *walog.WAL
	heap     *heap.Heap
	txns     *txn.Manager
	recovery *recovery.Manager

	mu      sync.RWMutex
	indexes map[string]*index.BTree
}

// Kernel is the top-level handle a query layer opens once and uses for
// the lifetime of a process.
type Kernel struct {
	cfg     Config
	locks   *lockmgr.Manager
	catDM   *disk.Manager
	catPool *buffer.Pool
	cat     *catalog.Catalog

	mu     sync.RWMutex
	tables map[string]*tableRuntime
}

func tableDataPath(dir, name string) string { return filepath.Join(dir, name+".data") }
func tableLogPath(dir, name string) string  { return filepath.Join(dir, name+".wal") }

// Open brings up a kernel rooted at cfg.DataDir: the catalog, every table
// it names, and every index over them, running crash recovery against
// each table's log before returning.
func Open(cfg Config) (*Kernel, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("kernel: create data dir: %w", err)
	}

	catDM, err := disk.Open(filepath.Join(cfg.DataDir, "catalog.data"))
	if err != nil {
		return nil, fmt.Errorf("kernel: open catalog: %w", err)
	}
	catPool := buffer.NewPool(catDM, cfg.BufferPoolCapacity)

	cat, err := openOrCreateCatalog(catPool)
	if err != nil {
		catDM.Close()
		return nil, err
	}

	k := &Kernel{
		cfg:     cfg,
		locks:   lockmgr.NewWithTimeout(cfg.LockTimeout),
		catDM:   catDM,
		catPool: catPool,
		cat:     cat,
		tables:  make(map[string]*tableRuntime),
	}

	for _, info := range cat.Tables() {
		if err := k.openTable(info); err != nil {
			k.Close()
			return nil, err
		}
	}
	return k, nil
}

func openOrCreateCatalog(pool *buffer.Pool) (*catalog.Catalog, error) {
	// A brand-new pool has no pages yet; page 0 doesn't exist until
	// something allocates it, so an empty file means "create".
	if pool.Capacity() == 0 {
		return nil, fmt.Errorf("kernel: buffer pool has zero capacity")
	}
	cat, err := catalog.Open(pool, 0)
	if err == nil {
		return cat, nil
	}
	return catalog.Create(pool)
}

// openTable reopens an existing table's storage stack and replays its log.
func (k *Kernel) openTable(info *catalog.TableInfo) error {
	dm, err := disk.Open(tableDataPath(k.cfg.DataDir, info.Name))
	if err != nil {
		return fmt.Errorf("kernel: open table %q data: %w", info.Name, err)
	}
	pool := buffer.NewPool(dm, k.cfg.BufferPoolCapacity)
	h := heap.Open(pool, info.FirstPageID)

	wal, err := walog.Open(tableLogPath(k.cfg.DataDir, info.Name))
	if err != nil {
		dm.Close()
		return fmt.Errorf("kernel: open table %q log: %w", info.Name, err)
	}

	rm := recovery.NewManager(h, wal)
	if err := rm.Recover(); err != nil {
		dm.Close()
		wal.Close()
		return fmt.Errorf("kernel: recover table %q: %w", info.Name, err)
	}

	tr := &tableRuntime{
		dm:       dm,
		pool:     pool,
		wal:      wal,
		heap:     h,
		txns:     txn.NewManager(h, k.locks, wal),
		recovery: rm,
		indexes:  make(map[string]*index.BTree),
	}
	for _, idx := range k.cat.IndexesForTable(info.Name) {
		bt, err := index.Open(pool, idx.HeaderPageID)
		if err != nil {
			dm.Close()
			wal.Close()
			return fmt.Errorf("kernel: open index %q: %w", idx.Name, err)
		}
		tr.indexes[idx.Name] = bt
	}

	k.mu.Lock()
	k.tables[info.Name] = tr
	k.mu.Unlock()
	return nil
}

// CreateTable registers a new table with its own backing file and log.
func (k *Kernel) CreateTable(name string, schema *types.Schema) error {
	k.mu.Lock()
	if _, exists := k.tables[name]; exists {
		k.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrTableExists, name)
	}
	k.mu.Unlock()

	dm, err := disk.Open(tableDataPath(k.cfg.DataDir, name))
	if err != nil {
		return fmt.Errorf("kernel: create table %q data: %w", name, err)
	}
	pool := buffer.NewPool(dm, k.cfg.BufferPoolCapacity)
	h, err := heap.Create(pool)
	if err != nil {
		dm.Close()
		return fmt.Errorf("kernel: create table %q heap: %w", name, err)
	}
	wal, err := walog.Open(tableLogPath(k.cfg.DataDir, name))
	if err != nil {
		dm.Close()
		return fmt.Errorf("kernel: create table %q log: %w", name, err)
	}

	if _, err := k.cat.CreateTable(name, schema, h.FirstPageID()); err != nil {
		dm.Close()
		wal.Close()
		if errors.Is(err, catalog.ErrAlreadyExists) {
			return fmt.Errorf("%w: %q", ErrTableExists, name)
		}
		return err
	}

	tr := &tableRuntime{
		dm:       dm,
		pool:     pool,
		wal:      wal,
		heap:     h,
		txns:     txn.NewManager(h, k.locks, wal),
		recovery: recovery.NewManager(h, wal),
		indexes:  make(map[string]*index.BTree),
	}
	k.mu.Lock()
	k.tables[name] = tr
	k.mu.Unlock()
	if err := k.catPool.FlushAll(); err != nil {
		return fmt.Errorf("kernel: flush catalog after create table %q: %w", name, err)
	}
	return nil
}

func (k *Kernel) table(name string) (*tableRuntime, error) {
	k.mu.RLock()
	tr, ok := k.tables[name]
	k.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrTableNotFound, name)
	}
	return tr, nil
}

// CreateIndex builds a new B+Tree over table/column, within that table's
// own file, and registers it in the catalog.
func (k *Kernel) CreateIndex(name, table, column string, keyKind types.Kind, unique bool) error {
	tr, err := k.table(table)
	if err != nil {
		return err
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if _, exists := tr.indexes[name]; exists {
		return fmt.Errorf("%w: %q", ErrIndexExists, name)
	}
	bt, err := index.Create(tr.pool, keyKind)
	if err != nil {
		return fmt.Errorf("kernel: create index %q: %w", name, err)
	}
	if _, err := k.cat.CreateIndex(name, table, column, keyKind, bt.HeaderPageID(), unique); err != nil {
		if errors.Is(err, catalog.ErrAlreadyExists) {
			return fmt.Errorf("%w: %q", ErrIndexExists, name)
		}
		return err
	}
	tr.indexes[name] = bt
	if err := k.catPool.FlushAll(); err != nil {
		return fmt.Errorf("kernel: flush catalog after create index %q: %w", name, err)
	}
	return nil
}

func (k *Kernel) index(table, name string) (*index.BTree, error) {
	tr, err := k.table(table)
	if err != nil {
		return nil, err
	}
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	bt, ok := tr.indexes[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrIndexNotFound, name)
	}
	return bt, nil
}

// Begin starts a new transaction scoped to one table.
func (k *Kernel) Begin(table string) (*txn.Transaction, error) {
	tr, err := k.table(table)
	if err != nil {
		return nil, err
	}
	return tr.txns.Begin()
}

// Commit commits t against table.
func (k *Kernel) Commit(table string, t *txn.Transaction) error {
	tr, err := k.table(table)
	if err != nil {
		return err
	}
	return wrapTxnErr(tr.txns.Commit(t))
}

// Abort rolls t back against table.
func (k *Kernel) Abort(table string, t *txn.Transaction) error {
	tr, err := k.table(table)
	if err != nil {
		return err
	}
	return wrapTxnErr(tr.txns.Abort(t))
}

// LockShared acquires a shared lock on r for t within table.
func (k *Kernel) LockShared(ctx context.Context, table string, t *txn.Transaction, r rid.RID) error {
	tr, err := k.table(table)
	if err != nil {
		return err
	}
	return wrapTxnErr(tr.txns.LockShared(ctx, t, r))
}

// LockExclusive acquires an exclusive lock on r for t within table.
func (k *Kernel) LockExclusive(ctx context.Context, table string, t *txn.Transaction, r rid.RID) error {
	tr, err := k.table(table)
	if err != nil {
		return err
	}
	return wrapTxnErr(tr.txns.LockExclusive(ctx, t, r))
}

// Upgrade promotes t's shared lock on r to exclusive within table.
func (k *Kernel) Upgrade(ctx context.Context, table string, t *txn.Transaction, r rid.RID) error {
	tr, err := k.table(table)
	if err != nil {
		return err
	}
	return wrapTxnErr(tr.txns.Upgrade(ctx, t, r))
}

// ReleaseLock releases t's lock on r within table ahead of commit/abort.
func (k *Kernel) ReleaseLock(table string, t *txn.Transaction, r rid.RID) error {
	tr, err := k.table(table)
	if err != nil {
		return err
	}
	tr.txns.ReleaseLock(t, r)
	return nil
}

func wrapTxnErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, lockmgr.ErrLockTimeout):
		return fmt.Errorf("%w: %v", ErrLockTimeout, err)
	case errors.Is(err, txn.ErrLockOnShrinking):
		return fmt.Errorf("%w: %v", ErrLockOrder, err)
	case errors.Is(err, txn.ErrNotActive):
		return fmt.Errorf("%w: %v", ErrTxnNotActive, err)
	default:
		return err
	}
}

// Insert inserts data into table under transaction t.
func (k *Kernel) Insert(table string, t *txn.Transaction, data []byte) (rid.RID, error) {
	tr, err := k.table(table)
	if err != nil {
		return rid.Invalid, err
	}
	return tr.txns.Insert(t, data)
}

// Get fetches the tuple bytes at r within table.
func (k *Kernel) Get(table string, r rid.RID) ([]byte, error) {
	tr, err := k.table(table)
	if err != nil {
		return nil, err
	}
	data, err := tr.heap.Get(r)
	if errors.Is(err, heap.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, r)
	}
	return data, err
}

// Update overwrites the tuple at r within table under transaction t.
func (k *Kernel) Update(table string, t *txn.Transaction, r rid.RID, data []byte) error {
	tr, err := k.table(table)
	if err != nil {
		return err
	}
	if err := tr.txns.Update(t, r, data); err != nil {
		if errors.Is(err, heap.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrRecordNotFound, r)
		}
		return err
	}
	return nil
}

// Delete tombstones r within table under transaction t.
func (k *Kernel) Delete(table string, t *txn.Transaction, r rid.RID) error {
	tr, err := k.table(table)
	if err != nil {
		return err
	}
	if err := tr.txns.Delete(t, r); err != nil {
		if errors.Is(err, heap.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrRecordNotFound, r)
		}
		return err
	}
	return nil
}

// Scan returns an iterator over every live tuple in table.
func (k *Kernel) Scan(table string) (*heap.Iterator, error) {
	tr, err := k.table(table)
	if err != nil {
		return nil, err
	}
	return tr.heap.Iter(), nil
}

// IndexInsert inserts key -> r into the named index.
func (k *Kernel) IndexInsert(table, indexName string, key types.Value, r rid.RID) error {
	bt, err := k.index(table, indexName)
	if err != nil {
		return err
	}
	if err := bt.Insert(key, r); err != nil {
		if errors.Is(err, index.ErrDuplicateKey) {
			return fmt.Errorf("%w: %v", ErrDuplicateKey, err)
		}
		return err
	}
	return nil
}

// IndexRemove removes key from the named index.
func (k *Kernel) IndexRemove(table, indexName string, key types.Value) error {
	bt, err := k.index(table, indexName)
	if err != nil {
		return err
	}
	if err := bt.Delete(key); err != nil {
		if errors.Is(err, index.ErrKeyNotFound) {
			return fmt.Errorf("%w: %v", ErrKeyNotFound, err)
		}
		return err
	}
	return nil
}

// IndexGet looks up key in the named index.
func (k *Kernel) IndexGet(table, indexName string, key types.Value) (rid.RID, error) {
	bt, err := k.index(table, indexName)
	if err != nil {
		return rid.Invalid, err
	}
	r, err := bt.Find(key)
	if errors.Is(err, index.ErrKeyNotFound) {
		return rid.Invalid, fmt.Errorf("%w: %v", ErrKeyNotFound, err)
	}
	return r, err
}

// IndexRangeFrom opens a forward cursor over the named index starting at
// the first key >= from.
func (k *Kernel) IndexRangeFrom(table, indexName string, from types.Value) (*index.Cursor, error) {
	bt, err := k.index(table, indexName)
	if err != nil {
		return nil, err
	}
	return bt.RangeFrom(from)
}

// Checkpoint flushes table's buffer pool and logs a checkpoint recording
// the table's active transactions; the log is truncated when none are
// active.
func (k *Kernel) Checkpoint(table string) error {
	tr, err := k.table(table)
	if err != nil {
		return err
	}
	if err := tr.pool.FlushAll(); err != nil {
		return fmt.Errorf("kernel: flush table %q before checkpoint: %w", table, err)
	}
	return tr.recovery.Checkpoint(tr.txns.ActiveIDs())
}

// CheckpointAll checkpoints every table; used by the periodic scheduler.
func (k *Kernel) CheckpointAll() error {
	k.mu.RLock()
	names := make([]string, 0, len(k.tables))
	for name := range k.tables {
		names = append(names, name)
	}
	k.mu.RUnlock()
	for _, name := range names {
		if err := k.Checkpoint(name); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes and closes every table's storage and the catalog's.
func (k *Kernel) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	var firstErr error
	for _, tr := range k.tables {
		if err := tr.pool.FlushAll(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := tr.wal.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := tr.dm.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if k.catPool != nil {
		if err := k.catPool.FlushAll(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if k.catDM != nil {
		if err := k.catDM.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

