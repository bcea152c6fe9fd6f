package lock

import (
	"testing"
	"time"

	"crabtable/pkg/concurrency/transaction"
	"crabtable/pkg/primitives"
)

func newTestManager(t *testing.T) (*Manager, *transaction.Manager) {
	t.Helper()
	txns := transaction.NewManager()
	return NewManager(txns), txns
}

func TestLockTableSameModeTwiceIsNoop(t *testing.T) {
	lm, txns := newTestManager(t)
	txn := txns.Begin(transaction.RepeatableRead)

	ok, err := lm.LockTable(txn, transaction.ModeShared, 1)
	if !ok || err != nil {
		t.Fatalf("first LockTable: ok=%v err=%v", ok, err)
	}
	ok, err = lm.LockTable(txn, transaction.ModeShared, 1)
	if !ok || err != nil {
		t.Fatalf("second LockTable: ok=%v err=%v", ok, err)
	}

	q := lm.tableQueue(1)
	snap := q.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected a single queue entry, got %d", len(snap))
	}
}

func TestLockRowWithoutTableLockFails(t *testing.T) {
	lm, txns := newTestManager(t)
	txn := txns.Begin(transaction.RepeatableRead)

	rid := primitives.NewRID(1, 0)
	_, err := lm.LockRow(txn, transaction.ModeShared, 1, rid)
	if err == nil {
		t.Fatal("expected TABLE_LOCK_NOT_PRESENT error")
	}
}

func TestLockRowRejectsIntentionModes(t *testing.T) {
	lm, txns := newTestManager(t)
	txn := txns.Begin(transaction.RepeatableRead)
	lm.LockTable(txn, transaction.ModeIntentionExclusive, 1)

	rid := primitives.NewRID(1, 0)
	_, err := lm.LockRow(txn, transaction.ModeIntentionShared, 1, rid)
	if err == nil {
		t.Fatal("expected ATTEMPTED_INTENTION_LOCK_ON_ROW error")
	}
}

func TestUpgradeConflictWhenTwoTxnsRace(t *testing.T) {
	lm, txns := newTestManager(t)
	t1 := txns.Begin(transaction.RepeatableRead)
	t2 := txns.Begin(transaction.RepeatableRead)

	lm.LockTable(t1, transaction.ModeShared, 1)
	lm.LockTable(t2, transaction.ModeShared, 1)

	q := lm.tableQueue(1)
	req, ok := q.Upgrade(t1.ID(), transaction.ModeExclusive)
	if !ok {
		t.Fatal("t1 upgrade should be accepted")
	}
	_ = req

	if _, err := lm.upgradeTable(t2, transaction.ModeShared, transaction.ModeExclusive, 1); err == nil {
		t.Fatal("expected UPGRADE_CONFLICT for t2")
	}
}

func TestIncompatibleUpgradeRejected(t *testing.T) {
	lm, txns := newTestManager(t)
	txn := txns.Begin(transaction.RepeatableRead)
	lm.LockTable(txn, transaction.ModeExclusive, 1)

	if _, err := lm.LockTable(txn, transaction.ModeShared, 1); err == nil {
		t.Fatal("expected INCOMPATIBLE_UPGRADE when downgrading X to S")
	}
}

func TestLockOnShrinkingUnderRepeatableRead(t *testing.T) {
	lm, txns := newTestManager(t)
	txn := txns.Begin(transaction.RepeatableRead)
	lm.LockTable(txn, transaction.ModeShared, 1)
	lm.UnlockTable(txn, 1)

	if txn.State() != transaction.Shrinking {
		t.Fatalf("expected Shrinking after unlocking S under REPEATABLE_READ, got %v", txn.State())
	}

	if _, err := lm.LockTable(txn, transaction.ModeShared, 2); err == nil {
		t.Fatal("expected LOCK_ON_SHRINKING")
	}
}

func TestUnlockTableBeforeRowsFails(t *testing.T) {
	lm, txns := newTestManager(t)
	txn := txns.Begin(transaction.RepeatableRead)
	lm.LockTable(txn, transaction.ModeIntentionExclusive, 1)
	rid := primitives.NewRID(1, 0)
	lm.LockRow(txn, transaction.ModeExclusive, 1, rid)

	if _, err := lm.UnlockTable(txn, 1); err == nil {
		t.Fatal("expected TABLE_UNLOCKED_BEFORE_UNLOCKING_ROWS")
	}

	lm.UnlockRow(txn, 1, rid)
	if _, err := lm.UnlockTable(txn, 1); err != nil {
		t.Fatalf("unlock should succeed once rows are released: %v", err)
	}
}

// TestExclusiveWaitsForSharedThenGrantsOnUnlock mirrors spec.md §8's
// literal scenario 5: T2's X request blocks behind T1's granted S; once
// T1 unlocks, T2 is granted and never left the GROWING phase in between.
func TestExclusiveWaitsForSharedThenGrantsOnUnlock(t *testing.T) {
	lm, txns := newTestManager(t)
	t1 := txns.Begin(transaction.RepeatableRead)
	t2 := txns.Begin(transaction.RepeatableRead)

	if ok, err := lm.LockTable(t1, transaction.ModeShared, 1); !ok || err != nil {
		t.Fatalf("t1 S lock: ok=%v err=%v", ok, err)
	}

	granted := make(chan struct{})
	go func() {
		ok, err := lm.LockTable(t2, transaction.ModeExclusive, 1)
		if !ok || err != nil {
			t.Errorf("t2 X lock: ok=%v err=%v", ok, err)
		}
		close(granted)
	}()

	select {
	case <-granted:
		t.Fatal("t2's X request should block behind t1's granted S")
	case <-time.After(20 * time.Millisecond):
	}
	if t2.State() != transaction.Growing {
		t.Fatalf("t2 should remain GROWING while blocked, got %v", t2.State())
	}

	if _, err := lm.UnlockTable(t1, 1); err != nil {
		t.Fatalf("t1 unlock: %v", err)
	}

	select {
	case <-granted:
	case <-time.After(time.Second):
		t.Fatal("t2 was never granted after t1 released")
	}
	if t2.State() != transaction.Growing {
		t.Fatalf("t2 should still be GROWING through the grant, got %v", t2.State())
	}
	if mode, ok := t2.TableLockMode(1); !ok || mode != transaction.ModeExclusive {
		t.Fatalf("t2 should hold X on table 1, got mode=%v ok=%v", mode, ok)
	}
}

// TestDeadlockDetectorAbortsYoungestOnThreeCycle drives a T1->T2->T3->T1
// waits-for cycle (each holds one table X-locked and waits on the next's)
// and checks the detector aborts T3, the highest id, leaving the other two
// still runnable. Once a victim's blocked call unwinds, recovery is the
// caller's job (mirroring a real rollback): it releases whatever it had
// already been granted so the remaining waiters can make progress.
func TestDeadlockDetectorAbortsYoungestOnThreeCycle(t *testing.T) {
	lm, txns := newTestManager(t)
	t1 := txns.Begin(transaction.RepeatableRead)
	t2 := txns.Begin(transaction.RepeatableRead)
	t3 := txns.Begin(transaction.RepeatableRead)

	lm.LockTable(t1, transaction.ModeExclusive, 1)
	lm.LockTable(t2, transaction.ModeExclusive, 2)
	lm.LockTable(t3, transaction.ModeExclusive, 3)

	type outcome struct {
		txn  *transaction.Transaction
		held primitives.TableOID
		err  error
	}
	results := make(chan outcome, 3)
	go func() { _, err := lm.LockTable(t1, transaction.ModeExclusive, 2); results <- outcome{t1, 1, err} }()
	go func() { _, err := lm.LockTable(t2, transaction.ModeExclusive, 3); results <- outcome{t2, 2, err} }()
	go func() { _, err := lm.LockTable(t3, transaction.ModeExclusive, 1); results <- outcome{t3, 3, err} }()

	time.Sleep(20 * time.Millisecond)
	lm.RunCycleDetection()

	for i := 0; i < 3; i++ {
		select {
		case r := <-results:
			if r.err != nil && r.txn != t3 {
				t.Fatalf("only t3 should have been aborted, got error for %s", r.txn.ID())
			}
			// Whether r.txn got its second lock or was aborted trying, it
			// relinquishes the table it originally held so the rest of the
			// cycle can make progress, mirroring a transaction finishing up.
			lm.UnlockTable(r.txn, r.held)
		case <-time.After(time.Second):
			t.Fatal("deadlock was not broken")
		}
	}

	if t3.State() != transaction.Aborted {
		t.Fatalf("expected t3 (highest id) aborted, got state %v", t3.State())
	}
	if t1.State() == transaction.Aborted || t2.State() == transaction.Aborted {
		t.Fatal("only the youngest transaction on the cycle should be aborted")
	}
}
