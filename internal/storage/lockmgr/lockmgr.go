// Package lockmgr implements two-phase locking over the kernel's RIDs:
// per-RID shared/exclusive lock queues with FIFO waiters, upgrade, and a
// configurable wait timeout. It has no notion of transaction phases
// itself (growing vs. shrinking) — that enforcement belongs to the
// transaction manager, which is the only caller expected to invoke
// Unlock, and which refuses new lock requests once a transaction has
// started releasing locks.
package lockmgr

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/stratumdb/kernel/internal/storage/rid"
)

// Mode is the granted lock mode.
type Mode uint8

const (
	Shared Mode = iota + 1
	Exclusive
)

func (m Mode) String() string {
	if m == Shared {
		return "SHARED"
	}
	return "EXCLUSIVE"
}

// TxnID identifies the lock holder; it mirrors walog.TxnID without
// importing it, keeping lockmgr free of a dependency on the log format.
type TxnID uint64

// ErrLockTimeout is returned when a lock request could not be granted
// within the configured timeout.
var ErrLockTimeout = errors.New("lockmgr: lock wait timed out")

// DefaultTimeout is used when Manager is constructed with New.
const DefaultTimeout = 5 * time.Second

type waiter struct {
	txn    TxnID
	mode   Mode
	granted chan struct{}
}

type lockState struct {
	mu        sync.Mutex
	holders   map[TxnID]Mode // currently granted; all Shared, or exactly one Exclusive
	waitQueue []*waiter
}

func newLockState() *lockState {
	return &lockState{holders: make(map[TxnID]Mode)}
}

// Manager owns one lockState per RID that currently has any interest,
// created lazily and cleaned up once its holder/waiter sets empty out.
type Manager struct {
	mu      sync.Mutex
	locks   map[rid.RID]*lockState
	timeout time.Duration
}

// New returns a lock manager using DefaultTimeout.
func New() *Manager { return NewWithTimeout(DefaultTimeout) }

// NewWithTimeout returns a lock manager with an explicit wait timeout.
func NewWithTimeout(timeout time.Duration) *Manager {
	return &Manager{locks: make(map[rid.RID]*lockState), timeout: timeout}
}

func (m *Manager) stateFor(r rid.RID) *lockState {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.locks[r]
	if !ok {
		s = newLockState()
		m.locks[r] = s
	}
	return s
}

func (m *Manager) maybeCleanup(r rid.RID, s *lockState) {
	s.mu.Lock()
	empty := len(s.holders) == 0 && len(s.waitQueue) == 0
	s.mu.Unlock()
	if !empty {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.locks[r]; ok && cur == s {
		delete(m.locks, r)
	}
}

// compatible reports whether mode can be granted immediately given the
// current holder set (ignoring the waiter this call is for).
func compatible(holders map[TxnID]Mode, txn TxnID, mode Mode) bool {
	if len(holders) == 0 {
		return true
	}
	if len(holders) == 1 {
		if m, ok := holders[txn]; ok {
			// Already holds a lock: same-or-weaker mode is trivially fine;
			// upgrading is handled by Upgrade, not LockShared/LockExclusive.
			return mode == Shared || m == Exclusive
		}
	}
	if mode == Shared {
		for _, m := range holders {
			if m == Exclusive {
				return false
			}
		}
		return true
	}
	return false
}

// LockShared acquires a shared lock on r for txn, blocking up to the
// manager's timeout if incompatible locks are held.
func (m *Manager) LockShared(ctx context.Context, txn TxnID, r rid.RID) error {
	return m.acquire(ctx, txn, r, Shared)
}

// LockExclusive acquires an exclusive lock on r for txn.
func (m *Manager) LockExclusive(ctx context.Context, txn TxnID, r rid.RID) error {
	return m.acquire(ctx, txn, r, Exclusive)
}

func (m *Manager) acquire(ctx context.Context, txn TxnID, r rid.RID, mode Mode) error {
	s := m.stateFor(r)
	s.mu.Lock()
	if compatible(s.holders, txn, mode) {
		if cur, ok := s.holders[txn]; !ok || (mode == Exclusive && cur != Exclusive) {
			s.holders[txn] = mode
		}
		s.mu.Unlock()
		return nil
	}
	w := &waiter{txn: txn, mode: mode, granted: make(chan struct{})}
	s.waitQueue = append(s.waitQueue, w)
	s.mu.Unlock()

	timeout := m.timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-w.granted:
		return nil
	case <-timer.C:
		m.cancelWait(s, w)
		return fmt.Errorf("%w: txn %d on %s after %s", ErrLockTimeout, txn, r, timeout)
	case <-ctx.Done():
		m.cancelWait(s, w)
		return ctx.Err()
	}
}

func (m *Manager) cancelWait(s *lockState, w *waiter) {
	s.mu.Lock()
	for i, q := range s.waitQueue {
		if q == w {
			s.waitQueue = append(s.waitQueue[:i], s.waitQueue[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
}

// Upgrade promotes txn's shared lock on r to exclusive, blocking if other
// readers hold it concurrently. Returns an error if txn does not
// currently hold a shared lock on r.
func (m *Manager) Upgrade(ctx context.Context, txn TxnID, r rid.RID) error {
	s := m.stateFor(r)
	s.mu.Lock()
	cur, ok := s.holders[txn]
	if !ok || cur != Shared {
		s.mu.Unlock()
		return fmt.Errorf("lockmgr: txn %d does not hold a shared lock on %s to upgrade", txn, r)
	}
	if len(s.holders) == 1 {
		s.holders[txn] = Exclusive
		s.mu.Unlock()
		return nil
	}
	// Other shared holders exist: release our shared slot, queue for
	// exclusive like any other waiter, and re-register once granted.
	delete(s.holders, txn)
	w := &waiter{txn: txn, mode: Exclusive, granted: make(chan struct{})}
	s.waitQueue = append([]*waiter{w}, s.waitQueue...) // upgraders jump the queue
	s.mu.Unlock()

	timeout := m.timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-w.granted:
		return nil
	case <-timer.C:
		m.cancelWait(s, w)
		return fmt.Errorf("%w: txn %d upgrade on %s", ErrLockTimeout, txn, r)
	case <-ctx.Done():
		m.cancelWait(s, w)
		return ctx.Err()
	}
}

// Unlock releases txn's lock on r, if any, and wakes waiters who can now
// be granted.
func (m *Manager) Unlock(txn TxnID, r rid.RID) {
	s := m.stateFor(r)
	s.mu.Lock()
	delete(s.holders, txn)
	m.pumpQueueLocked(s)
	s.mu.Unlock()
	m.maybeCleanup(r, s)
}

// pumpQueueLocked grants as many leading compatible waiters as possible.
// Exclusive requests block everything behind them in FIFO order; shared
// requests can be granted alongside other already-granted shared waiters
// ahead of them even though a later one is exclusive, matching standard
// FIFO-with-compatibility lock queue semantics.
func (m *Manager) pumpQueueLocked(s *lockState) {
	for len(s.waitQueue) > 0 {
		w := s.waitQueue[0]
		if !compatible(s.holders, w.txn, w.mode) {
			break
		}
		s.holders[w.txn] = w.mode
		s.waitQueue = s.waitQueue[1:]
		close(w.granted)
	}
}

// HeldBy reports the mode txn currently holds on r, if any.
func (m *Manager) HeldBy(txn TxnID, r rid.RID) (Mode, bool) {
	s := m.stateFor(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	mode, ok := s.holders[txn]
	return mode, ok
}
