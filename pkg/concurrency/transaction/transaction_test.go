package transaction

import (
	"testing"

	"crabtable/pkg/primitives"
)

func TestBeginAssignsMonotonicIDs(t *testing.T) {
	m := NewManager()
	t1 := m.Begin(RepeatableRead)
	t2 := m.Begin(RepeatableRead)
	if t2.ID() <= t1.ID() {
		t.Fatalf("expected monotonically increasing ids, got %v then %v", t1.ID(), t2.ID())
	}
	if t1.State() != Growing {
		t.Fatalf("new transaction should start Growing, got %v", t1.State())
	}
}

func TestCommitAndAbortForgetTransaction(t *testing.T) {
	m := NewManager()
	t1 := m.Begin(RepeatableRead)
	m.Commit(t1)
	if t1.State() != Committed {
		t.Fatalf("expected Committed, got %v", t1.State())
	}
	if _, ok := m.Get(t1.ID()); ok {
		t.Fatal("Commit should remove the transaction from the active table")
	}

	t2 := m.Begin(RepeatableRead)
	m.Abort(t2)
	if t2.State() != Aborted {
		t.Fatalf("expected Aborted, got %v", t2.State())
	}
}

func TestTableLockSetRoundTrip(t *testing.T) {
	txn := newTransaction(1, RepeatableRead)
	txn.GrantTableLock(5, ModeShared)

	if !txn.HasTableLock(5, ModeShared) {
		t.Fatal("expected table lock to be recorded")
	}
	mode, ok := txn.TableLockMode(5)
	if !ok || mode != ModeShared {
		t.Fatalf("TableLockMode = %v, %v; want ModeShared, true", mode, ok)
	}

	txn.RevokeTableLock(5, ModeShared)
	if txn.HasTableLock(5, ModeShared) {
		t.Fatal("expected table lock to be forgotten after revoke")
	}
}

func TestRowLockSetTracksPerTable(t *testing.T) {
	txn := newTransaction(1, RepeatableRead)
	rid := primitives.NewRID(1, 0)

	txn.GrantRowLock(1, rid, ModeExclusive)
	if !txn.HasAnyRowLock(1) {
		t.Fatal("expected HasAnyRowLock(1) to be true after granting a row lock")
	}
	if txn.HasAnyRowLock(2) {
		t.Fatal("table 2 should have no row locks")
	}

	txn.RevokeRowLock(1, rid, ModeExclusive)
	if txn.HasAnyRowLock(1) {
		t.Fatal("expected HasAnyRowLock(1) to be false after revoking its only row lock")
	}
}

func TestUpgradeLattice(t *testing.T) {
	cases := []struct {
		from, to Mode
		want     bool
	}{
		{ModeIntentionShared, ModeShared, true},
		{ModeIntentionShared, ModeExclusive, true},
		{ModeShared, ModeExclusive, true},
		{ModeShared, ModeIntentionShared, false},
		{ModeSharedIntentionExclusive, ModeExclusive, true},
		{ModeExclusive, ModeShared, false},
		{ModeShared, ModeShared, false},
	}
	for _, c := range cases {
		if got := CanUpgrade(c.from, c.to); got != c.want {
			t.Errorf("CanUpgrade(%v, %v) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestCompatibilityMatrix(t *testing.T) {
	if !Compatible(ModeIntentionShared, ModeIntentionShared) {
		t.Error("IS should be compatible with IS")
	}
	if Compatible(ModeExclusive, ModeIntentionShared) {
		t.Error("X should not be compatible with anything")
	}
	if Compatible(ModeShared, ModeIntentionExclusive) {
		t.Error("S and IX should not be compatible")
	}
	if !Compatible(ModeIntentionExclusive, ModeIntentionExclusive) {
		t.Error("IX should be compatible with IX")
	}
}
