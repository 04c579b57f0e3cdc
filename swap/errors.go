package swap

import (
	"errors"

	"github.com/swapbridge/swapbridge/chain"
	"github.com/swapbridge/swapbridge/watcher"
)

var (
	// ErrInvalidTimelockOrdering is returned when the initiator's
	// timelock doesn't exceed the counterparty's timelock by more than the
	// safety margin.
	ErrInvalidTimelockOrdering = errors.New("initiator timelock must " +
		"exceed counterparty timelock plus safety margin")

	// ErrInvalidAmount is returned when a party's amount is zero or
	// doesn't fit the store.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidPreimage is returned when a claim presents a preimage that
	// doesn't match the hash lock.
	ErrInvalidPreimage = errors.New("preimage doesn't match hash lock")

	// ErrTimelockExpired is returned when claiming or locking after the
	// relevant timelock.
	ErrTimelockExpired = errors.New("timelock expired")

	// ErrTimelockNotYetExpired is returned when refunding before the
	// relevant timelock.
	ErrTimelockNotYetExpired = errors.New("timelock not yet expired")

	// ErrAlreadyCompleted is returned when a claim was already made.
	ErrAlreadyCompleted = errors.New("already completed")

	// ErrAlreadyRefunded is returned when a leg was already refunded.
	ErrAlreadyRefunded = errors.New("already refunded")

	// ErrAlreadyCancelled is returned when cancelling a cancelled order.
	ErrAlreadyCancelled = errors.New("already cancelled")

	// ErrLockAlreadyRecorded is returned when a different lock
	// transaction was already recorded for a leg.
	ErrLockAlreadyRecorded = errors.New("lock already recorded")

	// ErrLockNotObserved is returned when a lock never reached its
	// confirmation depth. It drives the order to Failed.
	ErrLockNotObserved = watcher.ErrLockNotObserved

	// ErrInvalidTransition is returned when an operation isn't allowed in
	// the order's current state.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrOrderBusy is returned when another adapter operation is in
	// flight for the order. Callers retry against fresh state.
	ErrOrderBusy = errors.New("order busy")

	// ErrOrderNotFound is returned when an order doesn't exist.
	ErrOrderNotFound = errors.New("order not found")

	// ErrOrderExists is returned when creating an order with an id or
	// hash that is already in use.
	ErrOrderExists = errors.New("order already exists")

	// ErrVersionConflict is returned when an order was modified
	// concurrently by another writer.
	ErrVersionConflict = errors.New("order version conflict")

	// ErrNothingToRefund is returned when refunding a leg that was never
	// locked while the other leg is.
	ErrNothingToRefund = errors.New("nothing to refund")

	// ErrWrongRole is returned when an operation is invoked for a role
	// that can't perform it.
	ErrWrongRole = errors.New("wrong role")

	// ErrSubmissionPending is returned when a chain transaction of the
	// leg was submitted with an unknown outcome. The leg stays blocked
	// until the submission is resolved.
	ErrSubmissionPending = errors.New("submission outcome unknown")

	// ErrNotRunning is returned when an operation needs the orchestrator
	// main loop, which isn't running.
	ErrNotRunning = errors.New("orchestrator not running")
)

// IsBenign returns true for idempotency guards: the caller's intent has
// already been fulfilled and the error is a logical no-op.
func IsBenign(err error) bool {
	return errors.Is(err, ErrAlreadyCompleted) ||
		errors.Is(err, ErrAlreadyRefunded) ||
		errors.Is(err, ErrAlreadyCancelled)
}

// IsRetryable returns true for errors worth retrying later against fresh
// state: conflicts and transient adapter failures. A submission with an
// unknown outcome is never retryable.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrSubmissionPending) {
		return false
	}

	return errors.Is(err, ErrOrderBusy) ||
		errors.Is(err, ErrVersionConflict) ||
		errors.Is(err, ErrTimelockNotYetExpired) ||
		chain.IsTransient(err)
}
