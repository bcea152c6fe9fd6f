package lock

import (
	"testing"

	"crabtable/pkg/concurrency/transaction"
)

func TestTwoSharedRequestsBothGrantImmediately(t *testing.T) {
	q := NewRequestQueue()
	r1 := q.Enqueue(1, transaction.ModeShared)
	r2 := q.Enqueue(2, transaction.ModeShared)
	if !r1.Granted || !r2.Granted {
		t.Fatalf("two shared requests should both grant immediately: %v %v", r1.Granted, r2.Granted)
	}
}

func TestExclusiveBlocksBehindShared(t *testing.T) {
	q := NewRequestQueue()
	r1 := q.Enqueue(1, transaction.ModeShared)
	r2 := q.Enqueue(2, transaction.ModeExclusive)
	if !r1.Granted {
		t.Fatal("shared request should grant")
	}
	if r2.Granted {
		t.Fatal("exclusive request should block behind the granted shared lock")
	}
}

func TestFIFOBlocksLaterCompatibleRequest(t *testing.T) {
	q := NewRequestQueue()
	q.Enqueue(1, transaction.ModeExclusive)
	r2 := q.Enqueue(2, transaction.ModeShared)
	r3 := q.Enqueue(3, transaction.ModeShared)
	if r2.Granted || r3.Granted {
		t.Fatal("both waiters should block behind the granted exclusive lock, even though they're mutually compatible")
	}
}

func TestReleaseWakesNextWaiter(t *testing.T) {
	q := NewRequestQueue()
	q.Enqueue(1, transaction.ModeExclusive)
	r2 := q.Enqueue(2, transaction.ModeExclusive)

	if !q.Release(1) {
		t.Fatal("Release should report the resource was held")
	}
	if !r2.Granted {
		t.Fatal("second request should be granted once the first releases")
	}
}

func TestUpgradeJumpsAheadOfLaterWaiters(t *testing.T) {
	q := NewRequestQueue()
	q.Enqueue(1, transaction.ModeShared)
	q.Enqueue(2, transaction.ModeShared)
	later := q.Enqueue(3, transaction.ModeExclusive)

	req, ok := q.Upgrade(1, transaction.ModeExclusive)
	if !ok {
		t.Fatal("upgrade should be accepted")
	}
	if req.Granted {
		t.Fatal("upgrade to X should not grant while txn 2 still holds S")
	}
	if !q.IsUpgrading(1) {
		t.Fatal("queue should record txn 1 as the upgrader")
	}

	if !q.Release(2) {
		t.Fatal("txn 2 should have a granted S request to release")
	}
	if !req.Granted {
		t.Fatal("upgrade should grant once the conflicting shared lock is released")
	}
	if later.Granted {
		t.Fatal("txn 3's X request was queued before the upgrade but must stay behind it")
	}
	if q.IsUpgrading(1) {
		t.Fatal("the upgrader mark should be cleared once the upgrade is granted")
	}
}

func TestSecondUpgraderRejectedWhileFirstPending(t *testing.T) {
	q := NewRequestQueue()
	q.Enqueue(1, transaction.ModeShared)
	q.Enqueue(2, transaction.ModeShared)

	if _, ok := q.Upgrade(1, transaction.ModeExclusive); !ok {
		t.Fatal("first upgrade should be accepted")
	}
	if _, ok := q.Upgrade(2, transaction.ModeExclusive); ok {
		t.Fatal("second upgrade should be rejected while the first is still pending")
	}
}
