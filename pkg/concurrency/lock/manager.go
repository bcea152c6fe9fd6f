package lock

import (
	"fmt"
	"sync"
	"time"

	"crabtable/pkg/concurrency/transaction"
	dberror "crabtable/pkg/error"
	"crabtable/pkg/logging"
	"crabtable/pkg/primitives"
)

type rowKey struct {
	oid primitives.TableOID
	rid primitives.RID
}

// Manager is the multi-granularity lock manager: one RequestQueue per
// table oid, one per (oid, RID) pair, isolation-level-aware admission
// checks, lock upgrades, and a background deadlock detector. It
// generalizes the teacher's page-granularity, shared/exclusive-only
// LockManager (pkg/concurrency/lock/manager.go) to the five-mode,
// two-granularity model spec.md §4.5 requires.
type Manager struct {
	txns *transaction.Manager

	tableMu     sync.Mutex
	tableQueues map[primitives.TableOID]*RequestQueue

	rowMu     sync.Mutex
	rowQueues map[rowKey]*RequestQueue

	cycleDetectionInterval time.Duration
	stop                   chan struct{}
	stopped                chan struct{}
}

func NewManager(txns *transaction.Manager) *Manager {
	return &Manager{
		txns:                   txns,
		tableQueues:            make(map[primitives.TableOID]*RequestQueue),
		rowQueues:              make(map[rowKey]*RequestQueue),
		cycleDetectionInterval: 50 * time.Millisecond,
		stop:                   make(chan struct{}),
		stopped:                make(chan struct{}),
	}
}

func (m *Manager) tableQueue(oid primitives.TableOID) *RequestQueue {
	m.tableMu.Lock()
	defer m.tableMu.Unlock()
	q, ok := m.tableQueues[oid]
	if !ok {
		q = NewRequestQueue()
		m.tableQueues[oid] = q
	}
	return q
}

func (m *Manager) rowQueue(oid primitives.TableOID, rid primitives.RID) *RequestQueue {
	key := rowKey{oid, rid}
	m.rowMu.Lock()
	defer m.rowMu.Unlock()
	q, ok := m.rowQueues[key]
	if !ok {
		q = NewRequestQueue()
		m.rowQueues[key] = q
	}
	return q
}

func isShared(mode transaction.Mode) bool {
	return mode == transaction.ModeShared || mode == transaction.ModeIntentionShared || mode == transaction.ModeSharedIntentionExclusive
}

// checkIsolation enforces spec.md §4.5's isolation-level table: which
// modes a growing transaction may take, and which (if any) a shrinking
// one still may.
func checkIsolation(txn *transaction.Transaction, mode transaction.Mode) *dberror.DBError {
	level := txn.IsolationLevel()
	state := txn.State()

	if level == transaction.ReadUncommitted && isShared(mode) {
		return newLockError(CodeLockSharedOnReadUncommitted,
			fmt.Sprintf("%s cannot acquire %s under READ_UNCOMMITTED", txn.ID(), mode))
	}

	if state != transaction.Shrinking {
		return nil
	}

	switch level {
	case transaction.RepeatableRead:
		return newLockError(CodeLockOnShrinking,
			fmt.Sprintf("%s is shrinking; REPEATABLE_READ allows no new locks", txn.ID()))
	case transaction.ReadCommitted:
		if mode != transaction.ModeIntentionShared && mode != transaction.ModeShared {
			return newLockError(CodeLockOnShrinking,
				fmt.Sprintf("%s is shrinking; READ_COMMITTED allows only IS/S", txn.ID()))
		}
	case transaction.ReadUncommitted:
		return newLockError(CodeLockOnShrinking,
			fmt.Sprintf("%s is shrinking; READ_UNCOMMITTED allows no new locks", txn.ID()))
	}
	return nil
}

// LockTable acquires mode on oid for txn, blocking until granted. It
// returns (true, nil) on success, (true, nil) without touching the queue if
// txn already held exactly mode (a no-op per spec.md §8's round-trip law), and (false, err)
// on any policy violation or if txn was aborted as a deadlock victim while
// waiting.
func (m *Manager) LockTable(txn *transaction.Transaction, mode transaction.Mode, oid primitives.TableOID) (bool, error) {
	if txn.State() == transaction.Aborted || txn.State() == transaction.Committed {
		panic("lock: LockTable called on a terminated transaction")
	}

	if held, ok := txn.TableLockMode(oid); ok {
		if held == mode {
			return true, nil
		}
		return m.upgradeTable(txn, held, mode, oid)
	}

	if err := checkIsolation(txn, mode); err != nil {
		txn.SetState(transaction.Aborted)
		return false, err
	}

	q := m.tableQueue(oid)
	req := q.Enqueue(txn.ID(), mode)
	granted := q.WaitForGrant(req, func() bool { return txn.State() == transaction.Aborted })
	if !granted {
		return false, newLockError(CodeTransactionAborted,
			fmt.Sprintf("%s aborted (deadlock victim) while waiting for table lock", txn.ID()))
	}

	txn.GrantTableLock(oid, mode)
	logging.WithLock(int(txn.ID()), fmt.Sprintf("table:%d", oid)).Debug("table lock granted", "mode", mode.String())
	return true, nil
}

func (m *Manager) upgradeTable(txn *transaction.Transaction, held, mode transaction.Mode, oid primitives.TableOID) (bool, error) {
	if !transaction.CanUpgrade(held, mode) {
		txn.SetState(transaction.Aborted)
		return false, newLockError(CodeIncompatibleUpgrade,
			fmt.Sprintf("%s cannot upgrade table %d lock from %s to %s", txn.ID(), oid, held, mode))
	}
	if err := checkIsolation(txn, mode); err != nil {
		txn.SetState(transaction.Aborted)
		return false, err
	}

	q := m.tableQueue(oid)
	req, ok := q.Upgrade(txn.ID(), mode)
	if !ok {
		txn.SetState(transaction.Aborted)
		return false, newLockError(CodeUpgradeConflict,
			fmt.Sprintf("%s: another transaction is already upgrading table %d", txn.ID(), oid))
	}

	granted := q.WaitForGrant(req, func() bool { return txn.State() == transaction.Aborted })
	if !granted {
		return false, newLockError(CodeTransactionAborted,
			fmt.Sprintf("%s aborted (deadlock victim) while upgrading table lock", txn.ID()))
	}

	txn.RevokeTableLock(oid, held)
	txn.GrantTableLock(oid, mode)
	return true, nil
}

// UnlockTable releases txn's lock on oid. It enforces the row-lock
// prerequisite in reverse: every row lock txn holds under oid must already
// be released.
func (m *Manager) UnlockTable(txn *transaction.Transaction, oid primitives.TableOID) (bool, error) {
	mode, ok := txn.TableLockMode(oid)
	if !ok {
		txn.SetState(transaction.Aborted)
		return false, newLockError(CodeAttemptedUnlockButNoLockHeld,
			fmt.Sprintf("%s holds no lock on table %d", txn.ID(), oid))
	}
	if txn.HasAnyRowLock(oid) {
		txn.SetState(transaction.Aborted)
		return false, newLockError(CodeTableUnlockedBeforeUnlockingRows,
			fmt.Sprintf("%s still holds row locks on table %d", txn.ID(), oid))
	}

	q := m.tableQueue(oid)
	q.Release(txn.ID())
	txn.RevokeTableLock(oid, mode)

	transitionOnUnlock(txn, mode)
	return true, nil
}

// transitionOnUnlock moves a Growing transaction into Shrinking once it
// releases a lock strong enough to end its growing phase, per the same
// per-isolation-level table checkIsolation enforces on acquisition.
func transitionOnUnlock(txn *transaction.Transaction, mode transaction.Mode) {
	if txn.State() != transaction.Growing {
		return
	}
	switch txn.IsolationLevel() {
	case transaction.RepeatableRead:
		if mode == transaction.ModeShared || mode == transaction.ModeExclusive {
			txn.SetState(transaction.Shrinking)
		}
	case transaction.ReadCommitted, transaction.ReadUncommitted:
		if mode == transaction.ModeExclusive {
			txn.SetState(transaction.Shrinking)
		}
	}
}

// LockRow acquires mode (S or X only) on (oid, rid) for txn. The table
// lock prerequisite from spec.md §4.5 is enforced here: X row locks
// require IX, SIX, or X already held on the table; S row locks require
// any table lock at all.
func (m *Manager) LockRow(txn *transaction.Transaction, mode transaction.Mode, oid primitives.TableOID, rid primitives.RID) (bool, error) {
	if txn.State() == transaction.Aborted || txn.State() == transaction.Committed {
		panic("lock: LockRow called on a terminated transaction")
	}
	if mode != transaction.ModeShared && mode != transaction.ModeExclusive {
		txn.SetState(transaction.Aborted)
		return false, newLockError(CodeAttemptedIntentionLockOnRow,
			fmt.Sprintf("%s: row locks must be SHARED or EXCLUSIVE, got %s", txn.ID(), mode))
	}

	tableMode, hasTable := txn.TableLockMode(oid)
	if !hasTable {
		txn.SetState(transaction.Aborted)
		return false, newLockError(CodeTableLockNotPresent,
			fmt.Sprintf("%s holds no lock on table %d, required before locking a row", txn.ID(), oid))
	}
	if mode == transaction.ModeExclusive {
		if tableMode != transaction.ModeExclusive && tableMode != transaction.ModeIntentionExclusive && tableMode != transaction.ModeSharedIntentionExclusive {
			txn.SetState(transaction.Aborted)
			return false, newLockError(CodeTableLockNotPresent,
				fmt.Sprintf("%s holds %s on table %d, insufficient for an exclusive row lock", txn.ID(), tableMode, oid))
		}
	}

	if held, ok := txn.RowLockMode(oid, rid); ok {
		if held == mode {
			return true, nil
		}
		return m.upgradeRow(txn, held, mode, oid, rid)
	}

	if err := checkIsolation(txn, mode); err != nil {
		txn.SetState(transaction.Aborted)
		return false, err
	}

	q := m.rowQueue(oid, rid)
	req := q.Enqueue(txn.ID(), mode)
	granted := q.WaitForGrant(req, func() bool { return txn.State() == transaction.Aborted })
	if !granted {
		return false, newLockError(CodeTransactionAborted,
			fmt.Sprintf("%s aborted (deadlock victim) while waiting for row lock", txn.ID()))
	}

	txn.GrantRowLock(oid, rid, mode)
	return true, nil
}

func (m *Manager) upgradeRow(txn *transaction.Transaction, held, mode transaction.Mode, oid primitives.TableOID, rid primitives.RID) (bool, error) {
	if !transaction.CanUpgrade(held, mode) {
		txn.SetState(transaction.Aborted)
		return false, newLockError(CodeIncompatibleUpgrade,
			fmt.Sprintf("%s cannot upgrade row lock from %s to %s", txn.ID(), held, mode))
	}
	if err := checkIsolation(txn, mode); err != nil {
		txn.SetState(transaction.Aborted)
		return false, err
	}

	q := m.rowQueue(oid, rid)
	req, ok := q.Upgrade(txn.ID(), mode)
	if !ok {
		txn.SetState(transaction.Aborted)
		return false, newLockError(CodeUpgradeConflict,
			fmt.Sprintf("%s: another transaction is already upgrading row %s", txn.ID(), rid))
	}

	granted := q.WaitForGrant(req, func() bool { return txn.State() == transaction.Aborted })
	if !granted {
		return false, newLockError(CodeTransactionAborted,
			fmt.Sprintf("%s aborted (deadlock victim) while upgrading row lock", txn.ID()))
	}

	txn.RevokeRowLock(oid, rid, held)
	txn.GrantRowLock(oid, rid, mode)
	return true, nil
}

// UnlockRow releases txn's lock on (oid, rid).
func (m *Manager) UnlockRow(txn *transaction.Transaction, oid primitives.TableOID, rid primitives.RID) (bool, error) {
	mode, ok := txn.RowLockMode(oid, rid)
	if !ok {
		txn.SetState(transaction.Aborted)
		return false, newLockError(CodeAttemptedUnlockButNoLockHeld,
			fmt.Sprintf("%s holds no lock on row %s", txn.ID(), rid))
	}

	q := m.rowQueue(oid, rid)
	q.Release(txn.ID())
	txn.RevokeRowLock(oid, rid, mode)

	transitionOnUnlock(txn, mode)
	return true, nil
}

// allQueues returns every live table and row queue, snapshotted under
// their respective top-level mutexes, for the deadlock detector to scan.
func (m *Manager) allQueues() []*RequestQueue {
	var out []*RequestQueue

	m.tableMu.Lock()
	for _, q := range m.tableQueues {
		out = append(out, q)
	}
	m.tableMu.Unlock()

	m.rowMu.Lock()
	for _, q := range m.rowQueues {
		out = append(out, q)
	}
	m.rowMu.Unlock()

	return out
}

// RunCycleDetection rebuilds the waits-for graph from every queue's
// current snapshot, resolves all cycles it finds, and aborts each victim
// — setting its state to Aborted and broadcasting on every queue so a
// blocked WaitForGrant call wakes up and unwinds. Grounded on the
// teacher's DependencyGraph.HasCycle, adapted to run as a single pass
// instead of incrementally maintained edges.
func (m *Manager) RunCycleDetection() {
	graph := NewWaitsForGraph()
	queues := m.allQueues()

	for _, q := range queues {
		reqs := q.Snapshot()
		var granted []transaction.ID
		for _, r := range reqs {
			if r.Granted {
				granted = append(granted, r.TxnID)
			}
		}
		for _, r := range reqs {
			if r.Granted {
				continue
			}
			for _, g := range granted {
				graph.AddEdge(r.TxnID, g)
			}
		}
	}

	for _, victim := range graph.Resolve() {
		txn, ok := m.txns.Get(victim)
		if !ok {
			continue
		}
		txn.SetState(transaction.Aborted)
		logging.WithLock(int(victim), "deadlock").Info("aborting deadlock victim")
		for _, q := range queues {
			q.AbortWaiter()
		}
	}
}

// StartDeadlockDetector runs RunCycleDetection every cycleDetectionInterval
// until StopDeadlockDetector is called.
func (m *Manager) StartDeadlockDetector() {
	go func() {
		defer close(m.stopped)
		ticker := time.NewTicker(m.cycleDetectionInterval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stop:
				return
			case <-ticker.C:
				m.RunCycleDetection()
			}
		}
	}()
}

// StopDeadlockDetector signals the background detector to exit and waits
// for it to do so.
func (m *Manager) StopDeadlockDetector() {
	close(m.stop)
	<-m.stopped
}
