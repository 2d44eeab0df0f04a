// Package recovery implements crash recovery over the write-ahead log: an
// analysis pass that classifies transactions as committed, aborted, or
// in-flight at crash time, a redo pass that reapplies every logged
// mutation forward, and an undo pass that rolls back whatever was still
// in-flight. It also drives periodic checkpointing of the log.
package recovery

import (
	"fmt"
	"sort"

	"github.com/stratumdb/kernel/internal/storage/heap"
	"github.com/stratumdb/kernel/internal/storage/rid"
	"github.com/stratumdb/kernel/internal/storage/walog"
)

// Manager drives recovery and checkpointing for one table heap against
// its write-ahead log.
type Manager struct {
	table *heap.Heap
	wal   *walog.WAL
}

// NewManager builds a recovery manager over table and wal.
func NewManager(table *heap.Heap, wal *walog.WAL) *Manager {
	return &Manager{table: table, wal: wal}
}

// txnInfo accumulates what the analysis pass learns about one txn.
type txnInfo struct {
	records   []walog.Record // all records for this txn, in log order
	committed bool
	aborted   bool
}

// Recover runs the full analysis -> redo -> undo sequence against
// whatever is currently in the log, bringing the heap to a consistent
// state as of the last durable record. Recover neither logs nor truncates
// anything, so running it again against the same log repeats the undo
// pass; a loser's DELETE is then re-inserted once more, under a new RID.
func (m *Manager) Recover() error {
	records, err := m.wal.ReadAll()
	if err != nil {
		return fmt.Errorf("recovery: read log: %w", err)
	}

	txns := m.analyze(records)

	if err := m.redo(records); err != nil {
		return fmt.Errorf("recovery: redo: %w", err)
	}

	if err := m.undoLosers(txns); err != nil {
		return fmt.Errorf("recovery: undo: %w", err)
	}
	return nil
}

// analyze groups records by transaction and marks which ones reached a
// terminal COMMIT or ABORT record.
func (m *Manager) analyze(records []walog.Record) map[walog.TxnID]*txnInfo {
	txns := make(map[walog.TxnID]*txnInfo)
	get := func(id walog.TxnID) *txnInfo {
		info, ok := txns[id]
		if !ok {
			info = &txnInfo{}
			txns[id] = info
		}
		return info
	}
	for _, r := range records {
		if r.Kind == walog.KindCheckpoint {
			continue
		}
		info := get(r.TxnID)
		info.records = append(info.records, r)
		switch r.Kind {
		case walog.KindCommit:
			info.committed = true
		case walog.KindAbort:
			info.aborted = true
		}
	}
	return txns
}

// redo reapplies every INSERT/UPDATE/DELETE record forward, regardless of
// which transaction it belongs to. Because the log is logical and each
// record carries the post-mutation image, reapplying is idempotent: a
// page that already reflects the mutation is simply overwritten with the
// same bytes it already has.
func (m *Manager) redo(records []walog.Record) error {
	for _, r := range records {
		switch r.Kind {
		case walog.KindInsert:
			if err := m.redoInsert(r); err != nil {
				return err
			}
		case walog.KindUpdate:
			if err := m.redoUpdate(r); err != nil {
				return err
			}
		case walog.KindDelete:
			if err := m.redoDelete(r); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *Manager) redoInsert(r walog.Record) error {
	target := rid.Decode(r.RID)
	// The RID the original insert produced is authoritative: if that page
	// still holds a different (or no) tuple at that slot, this kernel has
	// no slot-targeted "insert at" outside the heap's own allocation path,
	// so a faithful redo requires the page/slot to already exist from the
	// original on-disk state. In the common case the page survived the
	// crash untouched; recompute on mismatch is out of scope for this
	// kernel's recovery and is recorded as an open question.
	_, err := m.table.Get(target)
	if err == heap.ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	return m.table.Update(target, r.After)
}

func (m *Manager) redoUpdate(r walog.Record) error {
	target := rid.Decode(r.RID)
	if _, err := m.table.Get(target); err == heap.ErrNotFound {
		return nil
	} else if err != nil {
		return err
	}
	return m.table.Update(target, r.After)
}

func (m *Manager) redoDelete(r walog.Record) error {
	target := rid.Decode(r.RID)
	err := m.table.Delete(target)
	if err == heap.ErrNotFound {
		return nil
	}
	return err
}

// undoLosers rolls back every transaction that has neither a COMMIT nor
// an ABORT record: it was active when the crash happened. Each loser's
// own records are walked in reverse to restore before-images, mirroring
// txn.Manager.Abort's logic without requiring a live Transaction or lock
// manager (recovery runs single-threaded before the kernel accepts new
// work).
func (m *Manager) undoLosers(txns map[walog.TxnID]*txnInfo) error {
	ids := make([]walog.TxnID, 0, len(txns))
	for id, info := range txns {
		if !info.committed && !info.aborted {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		info := txns[id]
		for i := len(info.records) - 1; i >= 0; i-- {
			r := info.records[i]
			target := rid.Decode(r.RID)
			switch r.Kind {
			case walog.KindInsert:
				_ = m.table.Delete(target)
			case walog.KindUpdate:
				_ = m.table.Update(target, r.Before)
			case walog.KindDelete:
				_, _ = m.table.Insert(r.Before)
			}
		}
	}
	return nil
}

// Checkpoint records the current set of active transaction IDs and, when
// that set is empty, truncates the log, bounding how much history future
// recovery needs to scan. It must only be called when the buffer pool has no outstanding
// dirty pages from transactions not reflected in activeTxnIDs — the
// caller (the kernel facade's checkpoint scheduler) is responsible for
// flushing the buffer pool first.
func (m *Manager) Checkpoint(activeTxnIDs []walog.TxnID) error {
	ids := make([]walog.TxnID, len(activeTxnIDs))
	copy(ids, activeTxnIDs)
	if _, err := m.wal.Append(walog.Record{
		Kind:       walog.KindCheckpoint,
		Checkpoint: &walog.CheckpointPayload{ActiveTxns: ids},
	}); err != nil {
		return fmt.Errorf("recovery: checkpoint record: %w", err)
	}
	if err := m.wal.Sync(); err != nil {
		return fmt.Errorf("recovery: checkpoint sync: %w", err)
	}
	if len(ids) == 0 {
		return m.wal.Truncate()
	}
	return nil
}
