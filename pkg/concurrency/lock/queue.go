package lock

import (
	"sync"

	"crabtable/pkg/concurrency/transaction"
)

// InvalidTxnID marks "no upgrader" in a queue's upgrading field.
const InvalidTxnID transaction.ID = -1

// Request is one transaction's ask for a lock mode on the resource a
// RequestQueue guards. The owning queue is the only thing that mutates
// Granted.
type Request struct {
	TxnID   transaction.ID
	Mode    transaction.Mode
	Granted bool
}

// RequestQueue serializes lock requests against a single resource — a
// table oid or a row RID. It generalizes the teacher's WaitQueue/LockTable
// pair into one type with a condition variable, so a blocked caller parks
// on cv.Wait instead of the teacher's attemptToAcquireLock poll-and-backoff
// loop (spec.md §5 requires the former).
type RequestQueue struct {
	mu        sync.Mutex
	cv        *sync.Cond
	requests  []*Request
	upgrading transaction.ID
}

func NewRequestQueue() *RequestQueue {
	q := &RequestQueue{upgrading: InvalidTxnID}
	q.cv = sync.NewCond(&q.mu)
	return q
}

func (q *RequestQueue) find(id transaction.ID) (int, *Request) {
	for i, r := range q.requests {
		if r.TxnID == id {
			return i, r
		}
	}
	return -1, nil
}

func indexOf(rs []*Request, r *Request) int {
	for i, x := range rs {
		if x == r {
			return i
		}
	}
	return -1
}

// tryGrant walks the queue front-to-back and grants every ungranted
// request that is compatible with everything already granted, stopping at
// the first request it cannot grant so later, merely-compatible requests
// never jump a blocked earlier one (FIFO fairness, spec.md §4.5's granting
// discipline). Must be called with mu held.
func (q *RequestQueue) tryGrant() {
	var held []transaction.Mode
	for _, r := range q.requests {
		if r.Granted {
			held = append(held, r.Mode)
		}
	}

	for _, r := range q.requests {
		if r.Granted {
			continue
		}
		if q.upgrading != InvalidTxnID && r.TxnID != q.upgrading {
			return
		}
		if !allCompatible(r.Mode, held) {
			return
		}
		r.Granted = true
		held = append(held, r.Mode)
		if r.TxnID == q.upgrading {
			q.upgrading = InvalidTxnID
		}
	}
}

func allCompatible(mode transaction.Mode, held []transaction.Mode) bool {
	for _, h := range held {
		if !transaction.Compatible(mode, h) {
			return false
		}
	}
	return true
}

// Enqueue appends a new, ungranted request for id/mode, attempts an
// immediate grant pass, and returns the request the caller should then
// wait on.
func (q *RequestQueue) Enqueue(id transaction.ID, mode transaction.Mode) *Request {
	q.mu.Lock()
	defer q.mu.Unlock()

	req := &Request{TxnID: id, Mode: mode}
	q.requests = append(q.requests, req)
	q.tryGrant()
	return req
}

// WaitForGrant blocks until req is granted or aborted() reports the
// waiting transaction was chosen as a deadlock victim, in which case the
// request is removed from the queue before returning false.
func (q *RequestQueue) WaitForGrant(req *Request, aborted func() bool) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for !req.Granted && !aborted() {
		q.cv.Wait()
	}
	if req.Granted {
		return true
	}

	if i := indexOf(q.requests, req); i >= 0 {
		q.requests = append(q.requests[:i], q.requests[i+1:]...)
	}
	if q.upgrading == req.TxnID {
		q.upgrading = InvalidTxnID
	}
	q.tryGrant()
	q.cv.Broadcast()
	return false
}

// Release drops id's granted request, if any, re-runs the grant pass, and
// wakes every waiter. Returns false if id held nothing on this resource.
func (q *RequestQueue) Release(id transaction.ID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	i, req := q.find(id)
	if req == nil || !req.Granted {
		return false
	}
	q.requests = append(q.requests[:i], q.requests[i+1:]...)
	q.tryGrant()
	q.cv.Broadcast()
	return true
}

// Upgrade replaces id's currently-granted request with an ungranted one
// for newMode, positioned immediately after the granted prefix so the
// upgrader does not wait behind later-arriving waiters (spec.md §4.5's
// upgrade priority). Returns the new request to wait on, or ok=false if
// another transaction is already upgrading on this queue.
func (q *RequestQueue) Upgrade(id transaction.ID, newMode transaction.Mode) (*Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.upgrading != InvalidTxnID && q.upgrading != id {
		return nil, false
	}

	i, old := q.find(id)
	if old == nil {
		return nil, false
	}
	q.requests = append(q.requests[:i], q.requests[i+1:]...)

	insertAt := 0
	for insertAt < len(q.requests) && q.requests[insertAt].Granted {
		insertAt++
	}
	req := &Request{TxnID: id, Mode: newMode}
	q.requests = append(q.requests[:insertAt], append([]*Request{req}, q.requests[insertAt:]...)...)
	q.upgrading = id

	q.tryGrant()
	return req, true
}

// HeldMode returns the mode id currently holds granted on this queue, if
// any.
func (q *RequestQueue) HeldMode(id transaction.ID) (transaction.Mode, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, req := q.find(id)
	if req == nil || !req.Granted {
		return 0, false
	}
	return req.Mode, true
}

// IsUpgrading reports whether id is the registered upgrader for this
// queue.
func (q *RequestQueue) IsUpgrading(id transaction.ID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.upgrading == id
}

// Snapshot returns a copy of the current request list, used by the
// deadlock detector to build waits-for edges without holding the queue's
// latch for the duration of a whole detection pass.
func (q *RequestQueue) Snapshot() []Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Request, len(q.requests))
	for i, r := range q.requests {
		out[i] = *r
	}
	return out
}

// AbortWaiter wakes every waiter on this queue; used after a deadlock
// victim's state has been flipped to Aborted elsewhere, so its blocked
// WaitForGrant call notices and unwinds.
func (q *RequestQueue) AbortWaiter() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cv.Broadcast()
}
