// Package txn implements the transaction manager: begin/commit/abort,
// two-phase locking enforcement (growing vs. shrinking phase), and the
// write-set bookkeeping needed to roll a transaction back. It is the
// layer that ties the lock manager, the write-ahead log, and the table
// heap together into atomic, isolated units of work.
package txn

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/stratumdb/kernel/internal/storage/heap"
	"github.com/stratumdb/kernel/internal/storage/lockmgr"
	"github.com/stratumdb/kernel/internal/storage/rid"
	"github.com/stratumdb/kernel/internal/storage/walog"
)

// State is a transaction's position in its two-phase-locking lifecycle.
type State uint8

const (
	Growing State = iota + 1
	Shrinking
	Committed
	Aborted
)

func (s State) String() string {
	switch s {
	case Growing:
		return "GROWING"
	case Shrinking:
		return "SHRINKING"
	case Committed:
		return "COMMITTED"
	case Aborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// ErrLockOnShrinking is returned when a transaction tries to acquire a new
// lock after it has started releasing locks, violating two-phase locking.
var ErrLockOnShrinking = errors.New("txn: cannot acquire new locks in the shrinking phase")

// ErrNotActive is returned by any operation against a transaction that has
// already committed or aborted.
var ErrNotActive = errors.New("txn: transaction is not active")

// writeRecord remembers the first before-image seen for a RID, so Abort
// can restore exactly what existed before this transaction touched it,
// regardless of how many times it was written since.
type writeRecord struct {
	before    []byte // nil for an insert (undo = delete)
	isInsert  bool
	isDelete  bool
	deletedAt []byte // tuple image to restore if this txn's delete is undone
}

// Transaction is one unit of work: its lock footprint, its log chain
// position, and enough before-image state to undo itself.
type Transaction struct {
	mu sync.Mutex

	ID      walog.TxnID
	state   State
	prevLSN walog.LSN

	held      map[rid.RID]lockmgr.Mode
	writeSet  map[rid.RID]*writeRecord
	writeKeys []rid.RID // insertion order, for deterministic undo
}

func (t *Transaction) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Transaction) PrevLSN() walog.LSN {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.prevLSN
}

// Manager coordinates transactions over a shared heap, lock manager, and
// write-ahead log.
type Manager struct {
	mu       sync.Mutex
	nextID   walog.TxnID
	active   map[walog.TxnID]*Transaction
	locks    *lockmgr.Manager
	wal      *walog.WAL
	table    *heap.Heap
}

// NewManager builds a transaction manager over table (the heap it
// protects), locks, and wal. A single Manager is scoped to one heap in
// this kernel; a multi-table deployment runs one Manager per table, each
// with its own *walog.WAL, all sharing the same *lockmgr.Manager.
func NewManager(table *heap.Heap, locks *lockmgr.Manager, wal *walog.WAL) *Manager {
	return &Manager{
		nextID: 1,
		active: make(map[walog.TxnID]*Transaction),
		locks:  locks,
		wal:    wal,
		table:  table,
	}
}

// Begin starts a new transaction and logs its BEGIN record.
func (m *Manager) Begin() (*Transaction, error) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.mu.Unlock()

	lsn, err := m.wal.Append(walog.Record{Kind: walog.KindBegin, TxnID: id})
	if err != nil {
		return nil, fmt.Errorf("txn: begin: %w", err)
	}
	t := &Transaction{
		ID:       id,
		state:    Growing,
		prevLSN:  lsn,
		held:     make(map[rid.RID]lockmgr.Mode),
		writeSet: make(map[rid.RID]*writeRecord),
	}
	m.mu.Lock()
	m.active[id] = t
	m.mu.Unlock()
	return t, nil
}

func (m *Manager) lockmgrID(t *Transaction) lockmgr.TxnID { return lockmgr.TxnID(t.ID) }

// LockShared acquires a shared lock on r for t. Fails with
// ErrLockOnShrinking once t has released any lock.
func (m *Manager) LockShared(ctx context.Context, t *Transaction, r rid.RID) error {
	t.mu.Lock()
	if t.state != Growing {
		st := t.state
		t.mu.Unlock()
		if st == Shrinking {
			return ErrLockOnShrinking
		}
		return ErrNotActive
	}
	t.mu.Unlock()

	if err := m.locks.LockShared(ctx, m.lockmgrID(t), r); err != nil {
		return err
	}
	t.mu.Lock()
	t.held[r] = lockmgr.Shared
	t.mu.Unlock()
	return nil
}

// LockExclusive acquires an exclusive lock on r for t.
func (m *Manager) LockExclusive(ctx context.Context, t *Transaction, r rid.RID) error {
	t.mu.Lock()
	if t.state != Growing {
		st := t.state
		t.mu.Unlock()
		if st == Shrinking {
			return ErrLockOnShrinking
		}
		return ErrNotActive
	}
	t.mu.Unlock()

	if err := m.locks.LockExclusive(ctx, m.lockmgrID(t), r); err != nil {
		return err
	}
	t.mu.Lock()
	t.held[r] = lockmgr.Exclusive
	t.mu.Unlock()
	return nil
}

// Upgrade promotes t's shared lock on r to exclusive.
func (m *Manager) Upgrade(ctx context.Context, t *Transaction, r rid.RID) error {
	t.mu.Lock()
	if t.state != Growing {
		st := t.state
		t.mu.Unlock()
		if st == Shrinking {
			return ErrLockOnShrinking
		}
		return ErrNotActive
	}
	t.mu.Unlock()

	if err := m.locks.Upgrade(ctx, m.lockmgrID(t), r); err != nil {
		return err
	}
	t.mu.Lock()
	t.held[r] = lockmgr.Exclusive
	t.mu.Unlock()
	return nil
}

// ReleaseLock gives up t's lock on r early, entering the shrinking phase:
// t may no longer acquire any new lock afterward.
func (m *Manager) ReleaseLock(t *Transaction, r rid.RID) {
	t.mu.Lock()
	delete(t.held, r)
	if t.state == Growing {
		t.state = Shrinking
	}
	t.mu.Unlock()
	m.locks.Unlock(m.lockmgrID(t), r)
}

// recordWrite remembers the pre-mutation state of r the first time t
// touches it in this transaction, so Abort can restore it.
func (t *Transaction) recordWrite(r rid.RID, rec *writeRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.writeSet[r]; ok {
		return
	}
	t.writeSet[r] = rec
	t.writeKeys = append(t.writeKeys, r)
}

// Insert logs and applies an insert of data, acquiring an exclusive lock
// on the resulting RID implicitly isn't possible (the RID doesn't exist
// yet) — callers needing to guard concurrent scans take a table-level or
// predicate lock upstream; this call itself is only about durability and
// undo bookkeeping.
func (m *Manager) Insert(t *Transaction, data []byte) (rid.RID, error) {
	if t.State() != Growing && t.State() != Shrinking {
		return rid.Invalid, ErrNotActive
	}
	r, err := m.table.Insert(data)
	if err != nil {
		return rid.Invalid, err
	}
	enc := r.Encode()
	lsn, err := m.wal.Append(walog.Record{
		Kind:    walog.KindInsert,
		TxnID:   t.ID,
		PrevLSN: t.PrevLSN(),
		RID:     enc,
		After:   data,
	})
	if err != nil {
		return rid.Invalid, fmt.Errorf("txn: log insert: %w", err)
	}
	t.mu.Lock()
	t.prevLSN = lsn
	t.mu.Unlock()
	t.recordWrite(r, &writeRecord{isInsert: true})
	return r, nil
}

// Update logs and applies an update of r to data, capturing its prior
// image the first time this transaction touches it.
func (m *Manager) Update(t *Transaction, r rid.RID, data []byte) error {
	if t.State() != Growing && t.State() != Shrinking {
		return ErrNotActive
	}
	before, err := m.table.Get(r)
	if err != nil {
		return err
	}
	if err := m.table.Update(r, data); err != nil {
		return err
	}
	enc := r.Encode()
	lsn, err := m.wal.Append(walog.Record{
		Kind:    walog.KindUpdate,
		TxnID:   t.ID,
		PrevLSN: t.PrevLSN(),
		RID:     enc,
		Before:  before,
		After:   data,
	})
	if err != nil {
		return fmt.Errorf("txn: log update: %w", err)
	}
	t.mu.Lock()
	t.prevLSN = lsn
	t.mu.Unlock()
	t.recordWrite(r, &writeRecord{before: before})
	return nil
}

// Delete logs and applies a delete (tombstone) of r.
func (m *Manager) Delete(t *Transaction, r rid.RID) error {
	if t.State() != Growing && t.State() != Shrinking {
		return ErrNotActive
	}
	before, err := m.table.Get(r)
	if err != nil {
		return err
	}
	if err := m.table.Delete(r); err != nil {
		return err
	}
	enc := r.Encode()
	lsn, err := m.wal.Append(walog.Record{
		Kind:    walog.KindDelete,
		TxnID:   t.ID,
		PrevLSN: t.PrevLSN(),
		RID:     enc,
		Before:  before,
	})
	if err != nil {
		return fmt.Errorf("txn: log delete: %w", err)
	}
	t.mu.Lock()
	t.prevLSN = lsn
	t.mu.Unlock()
	t.recordWrite(r, &writeRecord{isDelete: true, deletedAt: before})
	return nil
}

// Commit appends t's COMMIT record, flushes the log up to and including
// it (the durability point at which the transaction becomes externally
// visible), and releases every lock it holds.
func (m *Manager) Commit(t *Transaction) error {
	t.mu.Lock()
	if t.state != Growing && t.state != Shrinking {
		t.mu.Unlock()
		return ErrNotActive
	}
	t.mu.Unlock()

	lsn, err := m.wal.Append(walog.Record{Kind: walog.KindCommit, TxnID: t.ID, PrevLSN: t.PrevLSN()})
	if err != nil {
		return fmt.Errorf("txn: log commit: %w", err)
	}
	if err := m.wal.FlushTo(lsn); err != nil {
		return fmt.Errorf("txn: flush commit: %w", err)
	}
	m.releaseAll(t)
	t.mu.Lock()
	t.state = Committed
	t.mu.Unlock()
	m.forget(t)
	return nil
}

// Abort undoes every write t made, in reverse order, logs its ABORT
// record, and releases its locks.
func (m *Manager) Abort(t *Transaction) error {
	t.mu.Lock()
	if t.state != Growing && t.state != Shrinking {
		t.mu.Unlock()
		return ErrNotActive
	}
	keys := append([]rid.RID(nil), t.writeKeys...)
	writes := make(map[rid.RID]*writeRecord, len(t.writeSet))
	for k, v := range t.writeSet {
		writes[k] = v
	}
	t.mu.Unlock()

	// Every undo step is logged as an ordinary forward mutation (not a
	// special compensating record): recovery's redo pass is logical and
	// idempotent, so replaying "the tuple ended up looking like this" is
	// exactly as correct whether that came from the original transaction
	// or its own rollback. This sidesteps needing a CLR record kind.
	for i := len(keys) - 1; i >= 0; i-- {
		r := keys[i]
		rec := writes[r]
		switch {
		case rec.isInsert:
			// Undo an insert by deleting it; ignore ErrNotFound in case a
			// later operation in this same txn already removed it.
			if err := m.table.Delete(r); err == nil {
				enc := r.Encode()
				lsn, lerr := m.wal.Append(walog.Record{Kind: walog.KindDelete, TxnID: t.ID, PrevLSN: t.PrevLSN(), RID: enc})
				if lerr == nil {
					t.mu.Lock()
					t.prevLSN = lsn
					t.mu.Unlock()
				}
			}
		case rec.isDelete:
			// Heap tombstones are permanent (see package heap): the
			// deleted RID can never come back to life. Undoing a delete
			// instead re-inserts the tuple under a fresh RID. Safe within
			// a single transaction's abort because the deleting
			// transaction held an exclusive lock on r the whole time, so
			// no other reader ever observed it missing.
			if newRID, err := m.table.Insert(rec.deletedAt); err == nil {
				enc := newRID.Encode()
				lsn, lerr := m.wal.Append(walog.Record{Kind: walog.KindInsert, TxnID: t.ID, PrevLSN: t.PrevLSN(), RID: enc, After: rec.deletedAt})
				if lerr == nil {
					t.mu.Lock()
					t.prevLSN = lsn
					t.mu.Unlock()
				}
			}
		default:
			if err := m.table.Update(r, rec.before); err == nil {
				enc := r.Encode()
				lsn, lerr := m.wal.Append(walog.Record{Kind: walog.KindUpdate, TxnID: t.ID, PrevLSN: t.PrevLSN(), RID: enc, After: rec.before})
				if lerr == nil {
					t.mu.Lock()
					t.prevLSN = lsn
					t.mu.Unlock()
				}
			}
		}
	}

	lsn, err := m.wal.Append(walog.Record{Kind: walog.KindAbort, TxnID: t.ID, PrevLSN: t.PrevLSN()})
	if err != nil {
		return fmt.Errorf("txn: log abort: %w", err)
	}
	if err := m.wal.FlushTo(lsn); err != nil {
		return fmt.Errorf("txn: flush abort: %w", err)
	}

	m.releaseAll(t)
	t.mu.Lock()
	t.state = Aborted
	t.mu.Unlock()
	m.forget(t)
	return nil
}

func (m *Manager) releaseAll(t *Transaction) {
	t.mu.Lock()
	held := make([]rid.RID, 0, len(t.held))
	for r := range t.held {
		held = append(held, r)
	}
	t.mu.Unlock()
	for _, r := range held {
		m.locks.Unlock(m.lockmgrID(t), r)
	}
	t.mu.Lock()
	t.held = make(map[rid.RID]lockmgr.Mode)
	t.mu.Unlock()
}

func (m *Manager) forget(t *Transaction) {
	m.mu.Lock()
	delete(m.active, t.ID)
	m.mu.Unlock()
}

// Active returns the transaction currently registered under id, if any.
func (m *Manager) Active(id walog.TxnID) (*Transaction, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.active[id]
	return t, ok
}

// ActiveIDs returns the IDs of every currently active transaction, for
// checkpoint records.
func (m *Manager) ActiveIDs() []walog.TxnID {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]walog.TxnID, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	return ids
}
