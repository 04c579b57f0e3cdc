package swap

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/swapbridge/swapbridge/chain"
	"github.com/swapbridge/swapbridge/fsm"
	"github.com/swapbridge/swapbridge/hashlock"
)

// RegisterSwap records a swap proposed by the other party, who holds the
// preimage. Only the hash is known locally.
func (o *Orchestrator) RegisterSwap(ctx context.Context, req *Request,
	hash lntypes.Hash) (*Order, error) {

	verifier, err := hashlock.FromHash(hash)
	if err != nil {
		return nil, err
	}

	return o.createOrder(ctx, req, verifier, nil)
}

// AcceptSwap records that the counterparty agreed to the swap, after which
// the parties may lock.
func (o *Orchestrator) AcceptSwap(ctx context.Context, id uuid.UUID) (*Order,
	error) {

	a, err := o.getActiveOrder(ctx, id)
	if err != nil {
		return nil, err
	}

	err = a.sm.Do(func(txn *fsm.Txn) error {
		switch txn.Current() {
		case WaitingLocks:
			return nil

		case Created:

		default:
			return fmt.Errorf("%w: accept in state %v",
				ErrInvalidTransition, txn.Current())
		}

		if !o.clock.Now().Before(a.order.CounterpartyTimelock) {
			return fmt.Errorf("%w: counterparty timelock %v",
				ErrTimelockExpired, a.order.CounterpartyTimelock)
		}

		return o.transition(ctx, txn, a, OnAgreed, nil)
	})

	return o.snapshot(a), o.rejected(a, "accept", err)
}

// lockState returns the state in which the given role locks.
func lockState(role Role) fsm.StateType {
	if role == RoleInitiator {
		return WaitingLocks
	}

	return InitiatorLocked
}

// checkLockState verifies that the role may lock in the current state. The
// counterparty only locks once the initiator's lock confirmed.
func checkLockState(state fsm.StateType, role Role) error {
	if state != lockState(role) {
		return fmt.Errorf("%w: %v lock in state %v",
			ErrInvalidTransition, role, state)
	}

	return nil
}

// SubmitLock locks the funds of the given role's leg through its chain
// adapter and records the lock transaction.
func (o *Orchestrator) SubmitLock(ctx context.Context, id uuid.UUID,
	role Role) (*Order, error) {

	if err := role.validate(); err != nil {
		return nil, err
	}

	if !o.running() {
		return nil, ErrNotRunning
	}

	a, err := o.getActiveOrder(ctx, id)
	if err != nil {
		return nil, err
	}

	var (
		adapter chain.Adapter
		req     chain.LockRequest
		chainID chain.ID
	)
	err = a.sm.Do(func(txn *fsm.Txn) error {
		if err := checkIdle(a); err != nil {
			return err
		}

		if err := checkLockState(txn.Current(), role); err != nil {
			return err
		}

		leg := a.order.Party(role)
		if leg.LockTxRef != "" {
			return fmt.Errorf("%w: %v", ErrLockAlreadyRecorded,
				leg.LockTxRef)
		}

		if err := checkNotPending(a.order, role); err != nil {
			return err
		}

		// The counterparty can't lock after its timelock, so neither
		// party locks once it passed.
		now := o.clock.Now()
		if !now.Before(a.order.CounterpartyTimelock) {
			return fmt.Errorf("%w: counterparty timelock %v",
				ErrTimelockExpired, a.order.CounterpartyTimelock)
		}

		timelock := a.order.Timelock(role)

		var err error
		adapter, err = o.cfg.Chains.Adapter(leg.Chain)
		if err != nil {
			return err
		}

		chainID = leg.Chain
		req = chain.LockRequest{
			Asset:    leg.Asset,
			Amount:   leg.Amount,
			Hash:     a.order.Hash(),
			Timelock: timelock,
			Sender:   leg.Address,
		}

		return o.beginSubmission(ctx, txn, a, role, PendingLock)
	})
	if err != nil {
		return o.snapshot(a), o.rejected(a, "lock", err)
	}
	defer releaseInFlight(a)

	a.log.Infof("Locking %v %v for %v on %v", req.Amount, req.Asset, role,
		chainID)

	txRef, err := o.callAdapter(ctx, func(ctx context.Context) (chain.TxRef,
		error) {

		return adapter.Lock(ctx, &req)
	})
	if err != nil {
		err = o.handleAdapterError(ctx, a, role, chainID, "lock", err)
		return o.snapshot(a), err
	}

	err = a.sm.Do(func(txn *fsm.Txn) error {
		return o.recordLock(context.WithoutCancel(ctx), txn, a, role,
			txRef)
	})

	return o.snapshot(a), o.rejected(a, "lock", err)
}

// RecordLock records a submitted lock transaction of the given role and
// starts watching it. The order only advances once the lock reached its
// confirmation depth. It also resolves a lock submission whose outcome was
// unknown.
func (o *Orchestrator) RecordLock(ctx context.Context, id uuid.UUID,
	role Role, txRef chain.TxRef) (*Order, error) {

	if err := role.validate(); err != nil {
		return nil, err
	}

	if txRef == "" {
		return nil, errors.New("lock tx ref must be set")
	}

	if !o.running() {
		return nil, ErrNotRunning
	}

	a, err := o.getActiveOrder(ctx, id)
	if err != nil {
		return nil, err
	}

	err = a.sm.Do(func(txn *fsm.Txn) error {
		if err := checkIdle(a); err != nil {
			return err
		}

		return o.recordLock(ctx, txn, a, role, txRef)
	})

	return o.snapshot(a), o.rejected(a, "record lock", err)
}

// recordLock persists the lock transaction and starts its watcher. It must be
// called within the order's exclusive section.
func (o *Orchestrator) recordLock(ctx context.Context, txn *fsm.Txn,
	a *activeOrder, role Role, txRef chain.TxRef) error {

	leg := a.order.Party(role)
	if leg.LockTxRef == txRef {
		return nil
	}

	if err := checkLockState(txn.Current(), role); err != nil {
		return err
	}

	if leg.LockTxRef != "" {
		return fmt.Errorf("%w: %v", ErrLockAlreadyRecorded,
			leg.LockTxRef)
	}

	event := OnInitiatorLockRecorded
	if role == RoleCounterparty {
		event = OnCounterpartyLockRecorded
	}

	err := o.transition(ctx, txn, a, event, func(order *Order) {
		leg := order.Party(role)
		leg.LockTxRef = txRef
		leg.Pending = PendingNone
	})
	if err != nil {
		return err
	}

	a.log.Infof("Recorded %v lock %v", role, txRef)

	o.startWatcher(a, role, txRef)

	return nil
}

// ClaimWithPreimage claims the counterparty's lock with the preimage, which
// reveals it on the counterparty's chain. Only the initiator, who holds the
// preimage, can claim.
func (o *Orchestrator) ClaimWithPreimage(ctx context.Context, id uuid.UUID,
	preimage []byte) (*Order, error) {

	a, err := o.getActiveOrder(ctx, id)
	if err != nil {
		return nil, err
	}

	var (
		adapter  chain.Adapter
		lockTx   chain.TxRef
		chainID  chain.ID
		revealed lntypes.Preimage
	)
	err = a.sm.Do(func(txn *fsm.Txn) error {
		if err := checkIdle(a); err != nil {
			return err
		}

		switch txn.Current() {
		case PreimageRevealed, Completed:
			return ErrAlreadyCompleted

		case BothLocked:

		default:
			return fmt.Errorf("%w: claim in state %v",
				ErrInvalidTransition, txn.Current())
		}

		if a.order.Committer == nil {
			return fmt.Errorf("%w: only the initiator claims with "+
				"the preimage", ErrWrongRole)
		}

		if !a.order.HashLock.Verify(preimage) {
			return ErrInvalidPreimage
		}

		if !o.clock.Now().Before(a.order.InitiatorTimelock) {
			return fmt.Errorf("%w: initiator timelock %v",
				ErrTimelockExpired, a.order.InitiatorTimelock)
		}

		var err error
		revealed, err = lntypes.MakePreimage(preimage)
		if err != nil {
			return ErrInvalidPreimage
		}

		err = checkNotPending(a.order, RoleCounterparty)
		if err != nil {
			return err
		}

		leg := a.order.Counterparty
		adapter, err = o.cfg.Chains.Adapter(leg.Chain)
		if err != nil {
			return err
		}
		lockTx, chainID = leg.LockTxRef, leg.Chain

		return o.beginSubmission(
			ctx, txn, a, RoleCounterparty, PendingClaim,
		)
	})
	if err != nil {
		return o.snapshot(a), o.rejected(a, "claim", err)
	}
	defer releaseInFlight(a)

	a.log.Infof("Claiming counterparty lock %v on %v", lockTx, chainID)

	claimTx, err := o.callAdapter(ctx, func(ctx context.Context) (
		chain.TxRef, error) {

		return adapter.Claim(ctx, lockTx, revealed)
	})
	if err != nil {
		err = o.handleAdapterError(
			ctx, a, RoleCounterparty, chainID, "claim", err,
		)

		return o.snapshot(a), err
	}

	err = a.sm.Do(func(txn *fsm.Txn) error {
		if txn.Current() != BothLocked {
			a.log.Errorf("Claim %v submitted but order moved to %v",
				claimTx, txn.Current())

			return fmt.Errorf("%w: claim in state %v",
				ErrInvalidTransition, txn.Current())
		}

		return o.transition(
			context.WithoutCancel(ctx), txn, a, OnPreimageRevealed,
			func(order *Order) {
				order.Counterparty.ClaimTxRef = claimTx
				order.Counterparty.Pending = PendingNone
				order.RevealedPreimage = &revealed
			},
		)
	})

	return o.snapshot(a), o.rejected(a, "claim", err)
}

// ClaimRevealed claims the initiator's lock with the preimage the initiator
// revealed, completing the swap.
func (o *Orchestrator) ClaimRevealed(ctx context.Context, id uuid.UUID) (
	*Order, error) {

	a, err := o.getActiveOrder(ctx, id)
	if err != nil {
		return nil, err
	}

	var (
		adapter  chain.Adapter
		lockTx   chain.TxRef
		chainID  chain.ID
		preimage lntypes.Preimage
	)
	err = a.sm.Do(func(txn *fsm.Txn) error {
		if err := checkIdle(a); err != nil {
			return err
		}

		switch txn.Current() {
		case Completed:
			return ErrAlreadyCompleted

		case PreimageRevealed:

		default:
			return fmt.Errorf("%w: claim revealed in state %v",
				ErrInvalidTransition, txn.Current())
		}

		if a.order.RevealedPreimage == nil {
			return fmt.Errorf("%w: preimage not revealed",
				ErrInvalidTransition)
		}

		if !o.clock.Now().Before(a.order.CounterpartyTimelock) {
			return fmt.Errorf("%w: counterparty timelock %v",
				ErrTimelockExpired, a.order.CounterpartyTimelock)
		}

		if err := checkNotPending(a.order, RoleInitiator); err != nil {
			return err
		}

		leg := a.order.Initiator

		var err error
		adapter, err = o.cfg.Chains.Adapter(leg.Chain)
		if err != nil {
			return err
		}
		lockTx, chainID = leg.LockTxRef, leg.Chain
		preimage = *a.order.RevealedPreimage

		return o.beginSubmission(
			ctx, txn, a, RoleInitiator, PendingClaim,
		)
	})
	if err != nil {
		return o.snapshot(a), o.rejected(a, "claim revealed", err)
	}
	defer releaseInFlight(a)

	a.log.Infof("Claiming initiator lock %v on %v", lockTx, chainID)

	claimTx, err := o.callAdapter(ctx, func(ctx context.Context) (
		chain.TxRef, error) {

		return adapter.Claim(ctx, lockTx, preimage)
	})
	if err != nil {
		err = o.handleAdapterError(
			ctx, a, RoleInitiator, chainID, "claim", err,
		)

		return o.snapshot(a), err
	}

	err = a.sm.Do(func(txn *fsm.Txn) error {
		if txn.Current() != PreimageRevealed {
			a.log.Errorf("Claim %v submitted but order moved to %v",
				claimTx, txn.Current())

			return fmt.Errorf("%w: claim revealed in state %v",
				ErrInvalidTransition, txn.Current())
		}

		return o.transition(
			context.WithoutCancel(ctx), txn, a, OnCompleted,
			func(order *Order) {
				order.Initiator.ClaimTxRef = claimTx
				order.Initiator.Pending = PendingNone
			},
		)
	})

	return o.snapshot(a), o.rejected(a, "claim revealed", err)
}

// refundEvent returns the event that applies a refund of the given role's
// leg: a partial refund if the other leg may still be locked.
func refundEvent(order *Order, role Role) fsm.EventType {
	if order.Party(role.Other()).mayBeLocked() {
		return OnPartialRefund
	}

	return OnRefunded
}

// checkRefund verifies that the given role's leg can be refunded. It returns
// true if the leg holds a lock that needs an adapter call.
func (o *Orchestrator) checkRefund(state fsm.StateType, order *Order,
	role Role) (bool, error) {

	switch state {
	case Refunded:
		return false, ErrAlreadyRefunded

	case Completed:
		return false, ErrAlreadyCompleted

	case WaitingLocks, InitiatorLocked, BothLocked, Refunding:

	default:
		return false, fmt.Errorf("%w: refund in state %v",
			ErrInvalidTransition, state)
	}

	leg := order.Party(role)
	switch {
	case leg.RefundTxRef != "":
		return false, ErrAlreadyRefunded

	case leg.ClaimTxRef != "":
		return false, ErrAlreadyCompleted
	}

	if err := checkNotPending(order, role); err != nil {
		return false, err
	}

	timelock := order.Timelock(role)
	if o.clock.Now().Before(timelock) {
		return false, fmt.Errorf("%w: %v timelock %v",
			ErrTimelockNotYetExpired, role, timelock)
	}

	if leg.LockTxRef != "" {
		return true, nil
	}

	// A leg that was never locked has nothing to refund. The order can
	// only be closed this way if no funds are locked at all.
	other := order.Party(role.Other())
	switch {
	case other.locked():
		return false, fmt.Errorf("%w: %v never locked",
			ErrNothingToRefund, role)

	case other.Pending == PendingLock:
		return false, checkNotPending(order, role.Other())
	}

	return false, nil
}

// Refund returns the funds of the given role's leg after its timelock
// elapsed.
func (o *Orchestrator) Refund(ctx context.Context, id uuid.UUID,
	role Role) (*Order, error) {

	if err := role.validate(); err != nil {
		return nil, err
	}

	a, err := o.getActiveOrder(ctx, id)
	if err != nil {
		return nil, err
	}

	var (
		adapter    chain.Adapter
		lockTx     chain.TxRef
		chainID    chain.ID
		needRefund bool
		state      fsm.StateType
	)
	err = a.sm.Do(func(txn *fsm.Txn) error {
		if err := checkIdle(a); err != nil {
			return err
		}

		var err error
		state = txn.Current()
		needRefund, err = o.checkRefund(state, a.order, role)
		if err != nil {
			return err
		}

		if !needRefund {
			a.log.Infof("No funds locked, closing order")

			return o.transition(
				ctx, txn, a, refundEvent(a.order, role), nil,
			)
		}

		leg := a.order.Party(role)
		adapter, err = o.cfg.Chains.Adapter(leg.Chain)
		if err != nil {
			return err
		}
		lockTx, chainID = leg.LockTxRef, leg.Chain

		return o.beginSubmission(ctx, txn, a, role, PendingRefund)
	})
	if err != nil || !needRefund {
		return o.snapshot(a), o.rejected(a, "refund", err)
	}
	defer releaseInFlight(a)

	a.log.Infof("Refunding %v lock %v on %v", role, lockTx, chainID)

	refundTx, err := o.callAdapter(ctx, func(ctx context.Context) (
		chain.TxRef, error) {

		return adapter.Refund(ctx, lockTx)
	})
	if err != nil {
		err = o.handleAdapterError(ctx, a, role, chainID, "refund", err)
		return o.snapshot(a), err
	}

	err = a.sm.Do(func(txn *fsm.Txn) error {
		leg := a.order.Party(role)
		if txn.Current() != state || leg.RefundTxRef != "" ||
			leg.ClaimTxRef != "" {

			a.log.Errorf("Refund %v submitted but order moved to %v",
				refundTx, txn.Current())

			return fmt.Errorf("%w: refund in state %v",
				ErrInvalidTransition, txn.Current())
		}

		if cancel, ok := a.watchers[role]; ok {
			cancel()
			delete(a.watchers, role)
		}

		return o.transition(
			context.WithoutCancel(ctx), txn, a,
			refundEvent(a.order, role), func(order *Order) {
				leg := order.Party(role)
				leg.RefundTxRef = refundTx
				leg.Pending = PendingNone
			},
		)
	})

	return o.snapshot(a), o.rejected(a, "refund", err)
}

// ResolveSubmission settles a submission of the given role's leg whose
// outcome was unknown. A non-empty txRef records the transaction the ledger
// accepted. An empty txRef states that it never reached the ledger, after
// which the operation may be submitted again.
func (o *Orchestrator) ResolveSubmission(ctx context.Context, id uuid.UUID,
	role Role, txRef chain.TxRef) (*Order, error) {

	if err := role.validate(); err != nil {
		return nil, err
	}

	if !o.running() {
		return nil, ErrNotRunning
	}

	a, err := o.getActiveOrder(ctx, id)
	if err != nil {
		return nil, err
	}

	err = a.sm.Do(func(txn *fsm.Txn) error {
		if err := checkIdle(a); err != nil {
			return err
		}

		pending := a.order.Party(role).Pending
		if IsFinal(txn.Current()) || pending == PendingNone {
			return fmt.Errorf("%w: no %v submission pending in "+
				"state %v", ErrInvalidTransition, role,
				txn.Current())
		}

		if txRef == "" {
			a.log.Infof("Pending %v %v never reached the ledger",
				role, pending)

			return o.abandonSubmission(ctx, txn, a, role)
		}

		a.log.Infof("Pending %v %v resolved as %v", role, pending,
			txRef)

		switch pending {
		case PendingLock:
			return o.resolveLock(ctx, txn, a, role, txRef)

		case PendingClaim:
			return o.resolveClaim(ctx, txn, a, role, txRef)

		default:
			return o.resolveRefund(ctx, txn, a, role, txRef)
		}
	})

	return o.snapshot(a), o.rejected(a, "resolve", err)
}

// abandonSubmission clears the pending marker of a submission that never
// reached the ledger. A partially refunded order is closed once no leg can
// hold funds anymore.
func (o *Orchestrator) abandonSubmission(ctx context.Context, txn *fsm.Txn,
	a *activeOrder, role Role) error {

	err := o.transition(ctx, txn, a, OnSubmitResolved, func(order *Order) {
		order.Party(role).Pending = PendingNone
	})
	if err != nil {
		return err
	}

	if txn.Current() != Refunding || a.order.Initiator.mayBeLocked() ||
		a.order.Counterparty.mayBeLocked() {

		return nil
	}

	return o.transition(ctx, txn, a, OnRefunded, nil)
}

// resolveLock records a lock that reached the ledger. After a partial refund
// of the other leg the lock isn't watched, it only awaits its refund.
func (o *Orchestrator) resolveLock(ctx context.Context, txn *fsm.Txn,
	a *activeOrder, role Role, txRef chain.TxRef) error {

	switch txn.Current() {
	case lockState(role):
		return o.recordLock(ctx, txn, a, role, txRef)

	case Refunding:
		return o.transition(ctx, txn, a, OnSubmitResolved,
			func(order *Order) {
				leg := order.Party(role)
				leg.LockTxRef = txRef
				leg.Pending = PendingNone
			},
		)

	default:
		return fmt.Errorf("%w: resolve %v lock in state %v",
			ErrInvalidTransition, role, txn.Current())
	}
}

// resolveClaim records a claim of the given role's lock that reached the
// ledger.
func (o *Orchestrator) resolveClaim(ctx context.Context, txn *fsm.Txn,
	a *activeOrder, role Role, txRef chain.TxRef) error {

	expected, event := PreimageRevealed, OnCompleted
	if role == RoleCounterparty {
		expected, event = BothLocked, OnPreimageRevealed
	}

	if txn.Current() != expected {
		return fmt.Errorf("%w: resolve %v claim in state %v",
			ErrInvalidTransition, role, txn.Current())
	}

	var revealed *lntypes.Preimage
	if role == RoleCounterparty {
		if a.order.Committer == nil {
			return fmt.Errorf("%w: only the initiator claims with "+
				"the preimage", ErrWrongRole)
		}

		preimage := a.order.Committer.Preimage()
		revealed = &preimage
	}

	return o.transition(ctx, txn, a, event, func(order *Order) {
		leg := order.Party(role)
		leg.ClaimTxRef = txRef
		leg.Pending = PendingNone

		if revealed != nil {
			order.RevealedPreimage = revealed
		}
	})
}

// resolveRefund records a refund of the given role's lock that reached the
// ledger.
func (o *Orchestrator) resolveRefund(ctx context.Context, txn *fsm.Txn,
	a *activeOrder, role Role, txRef chain.TxRef) error {

	if cancel, ok := a.watchers[role]; ok {
		cancel()
		delete(a.watchers, role)
	}

	return o.transition(ctx, txn, a, refundEvent(a.order, role),
		func(order *Order) {
			leg := order.Party(role)
			leg.RefundTxRef = txRef
			leg.Pending = PendingNone
		},
	)
}

// CancelSwap abandons an order before any lock was submitted.
func (o *Orchestrator) CancelSwap(ctx context.Context, id uuid.UUID) (*Order,
	error) {

	a, err := o.getActiveOrder(ctx, id)
	if err != nil {
		return nil, err
	}

	err = a.sm.Do(func(txn *fsm.Txn) error {
		switch txn.Current() {
		case Cancelled:
			return ErrAlreadyCancelled

		case Created, WaitingLocks:

		default:
			return fmt.Errorf("%w: cancel in state %v",
				ErrInvalidTransition, txn.Current())
		}

		if a.order.Initiator.LockTxRef != "" ||
			a.order.Counterparty.LockTxRef != "" {

			return fmt.Errorf("%w: lock already submitted, only "+
				"refunds are possible", ErrInvalidTransition)
		}

		if err := checkIdle(a); err != nil {
			return err
		}

		// A lock with an unknown outcome may be on chain.
		for _, role := range []Role{RoleInitiator, RoleCounterparty} {
			if err := checkNotPending(a.order, role); err != nil {
				return err
			}
		}

		return o.transition(ctx, txn, a, OnCancelled, nil)
	})

	return o.snapshot(a), o.rejected(a, "cancel", err)
}

// rejected logs a rejected operation and returns its error.
func (o *Orchestrator) rejected(a *activeOrder, op string, err error) error {
	switch {
	case err == nil:

	case IsBenign(err):
		a.log.Debugf("%v: %v", op, err)

	default:
		a.log.Warnf("%v rejected: %v", op, err)
	}

	return err
}
