package lock

import dberror "crabtable/pkg/error"

// Error codes surfaced by the lock manager. Every one of these is a policy
// violation (spec.md §7 category 1): the caller's transaction is aborted
// and the error returned names exactly why.
const (
	CodeLockOnShrinking                  = "LOCK_ON_SHRINKING"
	CodeLockSharedOnReadUncommitted      = "LOCK_SHARED_ON_READ_UNCOMMITTED"
	CodeUpgradeConflict                  = "UPGRADE_CONFLICT"
	CodeIncompatibleUpgrade              = "INCOMPATIBLE_UPGRADE"
	CodeAttemptedIntentionLockOnRow      = "ATTEMPTED_INTENTION_LOCK_ON_ROW"
	CodeTableLockNotPresent              = "TABLE_LOCK_NOT_PRESENT"
	CodeAttemptedUnlockButNoLockHeld     = "ATTEMPTED_UNLOCK_BUT_NO_LOCK_HELD"
	CodeTableUnlockedBeforeUnlockingRows = "TABLE_UNLOCKED_BEFORE_UNLOCKING_ROWS"

	// CodeTransactionAborted is returned to a waiter whose transaction was
	// chosen as a deadlock victim while it slept on a queue's condition
	// variable. Not a policy violation by the caller; the txn is already
	// ABORTED by the time this surfaces.
	CodeTransactionAborted = "TRANSACTION_ABORTED"
)

func newLockError(code, message string) *dberror.DBError {
	err := dberror.New(dberror.ErrCategoryConcurrency, code, message)
	err.Component = "LockManager"
	return err
}
