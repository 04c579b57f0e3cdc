package chain

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrTxNotFound is returned by adapters when the ledger has no record
	// of a transaction, neither confirmed nor in its mempool.
	ErrTxNotFound = errors.New("transaction not found")

	// ErrUnknownChain is returned when no adapter is registered for a
	// chain id.
	ErrUnknownChain = errors.New("unknown chain")

	// ErrChainExists is returned when registering a chain id twice.
	ErrChainExists = errors.New("chain already registered")

	// ErrOutcomeUnknown is returned by adapters when a transaction was
	// broadcast but its acceptance by the ledger couldn't be confirmed.
	ErrOutcomeUnknown = errors.New("submission outcome unknown")
)

// AdapterError wraps a failure reported by a chain adapter. Transient errors
// (network hiccups, rate limits, node syncing) may be retried, permanent ones
// (rejected transaction, invalid contract state) may not.
type AdapterError struct {
	// Chain is the chain the failing adapter serves.
	Chain ID

	// Op is the adapter operation, e.g. "lock" or "claim".
	Op string

	// Transient marks the failure as retryable.
	Transient bool

	// Err is the underlying error.
	Err error
}

// Error returns the error string.
func (e *AdapterError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}

	return fmt.Sprintf("%v adapter %v failed (%v): %v", e.Chain, e.Op,
		kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *AdapterError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps err as a retryable adapter failure.
func NewTransientError(chain ID, op string, err error) *AdapterError {
	return &AdapterError{
		Chain:     chain,
		Op:        op,
		Transient: true,
		Err:       err,
	}
}

// NewPermanentError wraps err as a non-retryable adapter failure.
func NewPermanentError(chain ID, op string, err error) *AdapterError {
	return &AdapterError{
		Chain: chain,
		Op:    op,
		Err:   err,
	}
}

// IsTransient reports whether err is worth retrying. Errors that aren't
// wrapped in an AdapterError are classified by their cause: an expired call
// deadline is transient, everything else is permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var adapterErr *AdapterError
	if errors.As(err, &adapterErr) {
		return adapterErr.Transient
	}

	return errors.Is(err, context.DeadlineExceeded)
}

// WrapError classifies a raw error returned by an adapter call. Errors that
// already are AdapterErrors are returned as is.
func WrapError(chain ID, op string, err error) error {
	if err == nil {
		return nil
	}

	var adapterErr *AdapterError
	if errors.As(err, &adapterErr) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return NewTransientError(chain, op, err)
	}

	return NewPermanentError(chain, op, err)
}

// IsOutcomeUnknown reports whether a failed submission may still have reached
// the ledger. That is the case if the adapter said so or if the call was cut
// short by its context.
func IsOutcomeUnknown(err error) bool {
	return errors.Is(err, ErrOutcomeUnknown) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}
