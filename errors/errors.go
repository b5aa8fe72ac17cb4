// Package errors holds the error kinds shared by the latch and mutex
// packages. Operations wrap these sentinels with context; match them with
// errors.Is.
package errors

import "errors"

var (
	// ErrInvalidArgument reports a non-positive count or a malformed name.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrInvalidOperation reports an operation the primitive's current
	// state does not allow, such as ticking a latch past zero.
	ErrInvalidOperation = errors.New("invalid operation")
	// ErrOwnerMismatch reports a release by a handle that does not own the lock.
	ErrOwnerMismatch = errors.New("lock not owned by caller")
	// ErrAbandonedLock reports that the lock was acquired after its previous
	// owner terminated without releasing it. Ownership is still granted.
	ErrAbandonedLock = errors.New("lock was abandoned by previous owner")
)
