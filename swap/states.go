package swap

//go:generate go run ../fsm/stateparser -fsm swap -out swap_fsm.md

import (
	"github.com/swapbridge/swapbridge/fsm"
)

// States of a swap order.
var (
	// Created is the state of a freshly created order that the
	// counterparty didn't agree to yet.
	Created = fsm.StateType("Created")

	// WaitingLocks is the state after the counterparty agreed, waiting
	// for the initiator's lock to confirm.
	WaitingLocks = fsm.StateType("WaitingLocks")

	// InitiatorLocked is the state after the initiator's lock reached its
	// confirmation depth, waiting for the counterparty's lock.
	InitiatorLocked = fsm.StateType("InitiatorLocked")

	// BothLocked is the state after both locks confirmed.
	BothLocked = fsm.StateType("BothLocked")

	// PreimageRevealed is the state after the initiator claimed the
	// counterparty's lock, publishing the preimage.
	PreimageRevealed = fsm.StateType("PreimageRevealed")

	// Refunding is the state after one of two locked legs was refunded,
	// waiting for the other leg's timelock.
	Refunding = fsm.StateType("Refunding")

	// Completed is the final state after both legs were claimed.
	Completed = fsm.StateType("Completed")

	// Refunded is the final state after every lock was refunded.
	Refunded = fsm.StateType("Refunded")

	// Cancelled is the final state of an order abandoned before any lock
	// was submitted.
	Cancelled = fsm.StateType("Cancelled")

	// Failed is the final state of an order that hit an unrecoverable
	// error. Funds may be stuck on chain and need manual intervention.
	Failed = fsm.StateType("Failed")
)

// Events of a swap order.
var (
	// OnCreated is journaled when the order is created.
	OnCreated = fsm.EventType("OnCreated")

	// OnAgreed is sent when the counterparty agrees to the swap.
	OnAgreed = fsm.EventType("OnAgreed")

	// OnInitiatorLockRecorded is sent when the initiator's lock
	// transaction was submitted.
	OnInitiatorLockRecorded = fsm.EventType("OnInitiatorLockRecorded")

	// OnInitiatorLockConfirmed is sent when the initiator's lock reached
	// its confirmation depth.
	OnInitiatorLockConfirmed = fsm.EventType("OnInitiatorLockConfirmed")

	// OnCounterpartyLockRecorded is sent when the counterparty's lock
	// transaction was submitted.
	OnCounterpartyLockRecorded = fsm.EventType(
		"OnCounterpartyLockRecorded",
	)

	// OnCounterpartyLockConfirmed is sent when the counterparty's lock
	// reached its confirmation depth.
	OnCounterpartyLockConfirmed = fsm.EventType(
		"OnCounterpartyLockConfirmed",
	)

	// OnPreimageRevealed is sent when the initiator claimed the
	// counterparty's lock.
	OnPreimageRevealed = fsm.EventType("OnPreimageRevealed")

	// OnCompleted is sent when the counterparty claimed the initiator's
	// lock.
	OnCompleted = fsm.EventType("OnCompleted")

	// OnPartialRefund is sent when a leg was refunded while the other leg
	// is still locked.
	OnPartialRefund = fsm.EventType("OnPartialRefund")

	// OnRefunded is sent when the last outstanding lock was refunded.
	OnRefunded = fsm.EventType("OnRefunded")

	// OnCancelled is sent when the order is abandoned.
	OnCancelled = fsm.EventType("OnCancelled")

	// OnSubmitting is journaled before a chain transaction is handed to
	// an adapter.
	OnSubmitting = fsm.EventType("OnSubmitting")

	// OnSubmitResolved is journaled when a pending submission is settled
	// without changing the order's state.
	OnSubmitResolved = fsm.EventType("OnSubmitResolved")
)

// GetStates returns the swap order state machine table. Lock-recorded and
// submission events loop on their state: they change the order's data but
// not its position in the lifecycle.
func GetStates() fsm.States {
	return fsm.States{
		Created: fsm.State{
			Transitions: fsm.Transitions{
				OnAgreed:    WaitingLocks,
				OnCancelled: Cancelled,
				fsm.OnError: Failed,
			},
		},
		WaitingLocks: fsm.State{
			Transitions: fsm.Transitions{
				OnInitiatorLockRecorded:  WaitingLocks,
				OnInitiatorLockConfirmed: InitiatorLocked,
				OnSubmitting:             WaitingLocks,
				OnSubmitResolved:         WaitingLocks,
				OnPartialRefund:          Refunding,
				OnRefunded:               Refunded,
				OnCancelled:              Cancelled,
				fsm.OnError:              Failed,
			},
		},
		InitiatorLocked: fsm.State{
			Transitions: fsm.Transitions{
				OnCounterpartyLockRecorded:  InitiatorLocked,
				OnCounterpartyLockConfirmed: BothLocked,
				OnSubmitting:                InitiatorLocked,
				OnSubmitResolved:            InitiatorLocked,
				OnPartialRefund:             Refunding,
				OnRefunded:                  Refunded,
				fsm.OnError:                 Failed,
			},
		},
		BothLocked: fsm.State{
			Transitions: fsm.Transitions{
				OnPreimageRevealed: PreimageRevealed,
				OnSubmitting:       BothLocked,
				OnSubmitResolved:   BothLocked,
				OnPartialRefund:    Refunding,
				OnRefunded:         Refunded,
				fsm.OnError:        Failed,
			},
		},
		PreimageRevealed: fsm.State{
			Transitions: fsm.Transitions{
				OnCompleted:      Completed,
				OnSubmitting:     PreimageRevealed,
				OnSubmitResolved: PreimageRevealed,
				fsm.OnError:      Failed,
			},
		},
		Refunding: fsm.State{
			Transitions: fsm.Transitions{
				OnRefunded:       Refunded,
				OnSubmitting:     Refunding,
				OnSubmitResolved: Refunding,
				fsm.OnError:      Failed,
			},
		},
		Completed: fsm.State{},
		Refunded:  fsm.State{},
		Cancelled: fsm.State{},
		Failed:    fsm.State{},
	}
}

// IsFinal returns true if the state is terminal.
func IsFinal(state fsm.StateType) bool {
	switch state {
	case Completed, Refunded, Cancelled, Failed:
		return true

	default:
		return false
	}
}

// IsPending returns true if the order still needs to be driven.
func IsPending(state fsm.StateType) bool {
	return !IsFinal(state)
}

// FinalStates returns all terminal states.
func FinalStates() []fsm.StateType {
	return []fsm.StateType{Completed, Refunded, Cancelled, Failed}
}
