package transaction

import (
	"sync"
	"sync/atomic"
)

// Manager owns the transaction id counter and the table of live
// transactions, mirroring the teacher's TransactionRegistry but keyed by
// the plain int64-backed ID instead of a TransactionID pointer, and with
// no WAL dependency: this layer is concurrency-control only.
type Manager struct {
	mu     sync.RWMutex
	nextID int64
	active map[ID]*Transaction
}

func NewManager() *Manager {
	return &Manager{active: make(map[ID]*Transaction)}
}

// Begin allocates a new transaction id and registers it as active.
func (m *Manager) Begin(level IsolationLevel) *Transaction {
	id := ID(atomic.AddInt64(&m.nextID, 1))
	txn := newTransaction(id, level)

	m.mu.Lock()
	m.active[id] = txn
	m.mu.Unlock()

	return txn
}

// Get returns the transaction registered under id, if it is still active
// or has reached a terminal state but not yet been forgotten.
func (m *Manager) Get(id ID) (*Transaction, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	txn, ok := m.active[id]
	return txn, ok
}

// Commit marks txn Committed and forgets it. The caller must already have
// released (or be about to release) every lock txn holds; Manager does not
// touch the lock manager itself.
func (m *Manager) Commit(txn *Transaction) {
	txn.SetState(Committed)
	m.forget(txn.ID())
}

// Abort marks txn Aborted and forgets it. As with Commit, lock release is
// the caller's responsibility — typically the lock manager, which needs
// to run before the transaction record disappears so it can walk the lock
// sets.
func (m *Manager) Abort(txn *Transaction) {
	txn.SetState(Aborted)
	m.forget(txn.ID())
}

func (m *Manager) forget(id ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, id)
}

// ActiveIDs returns the ids of every transaction still registered.
func (m *Manager) ActiveIDs() []ID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]ID, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	return ids
}
