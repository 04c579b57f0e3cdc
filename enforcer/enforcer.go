package enforcer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/swapbridge/swapbridge/swap"
)

const (
	// DefaultSweepInterval is the default interval between two sweeps
	// over the pending orders.
	DefaultSweepInterval = time.Minute
)

// Swaps is the subset of the orchestrator the enforcer drives.
type Swaps interface {
	// PendingSwaps returns all orders that are not final.
	PendingSwaps(ctx context.Context) ([]*swap.Order, error)

	// Refund refunds the leg of the given role.
	Refund(ctx context.Context, id uuid.UUID, role swap.Role) (*swap.Order,
		error)

	// CancelSwap abandons an order before any lock.
	CancelSwap(ctx context.Context, id uuid.UUID) (*swap.Order, error)
}

// Config contains the dependencies of the enforcer.
type Config struct {
	// Swaps is the orchestrator.
	Swaps Swaps

	// Clock is the time source, it's wrapped in a monotonic guard.
	Clock clock.Clock

	// Ticker triggers sweeps.
	Ticker ticker.Ticker
}

// Enforcer periodically refunds expired legs and closes orders that can no
// longer complete.
type Enforcer struct {
	cfg *Config

	clock clock.Clock

	// attention maps orders that need an operator to the reason that was
	// last logged for them.
	attention map[uuid.UUID]string

	// mu serializes sweeps.
	mu sync.Mutex
}

// New creates a new enforcer.
func New(cfg *Config) (*Enforcer, error) {
	switch {
	case cfg.Swaps == nil:
		return nil, errors.New("swaps must be set")

	case cfg.Clock == nil:
		return nil, errors.New("clock must be set")

	case cfg.Ticker == nil:
		return nil, errors.New("ticker must be set")
	}

	clk, ok := cfg.Clock.(*swap.MonotonicClock)
	if !ok {
		clk = swap.NewMonotonicClock(cfg.Clock)
	}

	return &Enforcer{
		cfg:       cfg,
		clock:     clk,
		attention: make(map[uuid.UUID]string),
	}, nil
}

// Run sweeps on every tick until the context is cancelled.
func (e *Enforcer) Run(ctx context.Context) error {
	e.cfg.Ticker.Resume()
	defer e.cfg.Ticker.Stop()

	log.Infof("Timeout enforcer started")

	for {
		select {
		case <-e.cfg.Ticker.Ticks():
			if err := e.Sweep(ctx); err != nil {
				log.Errorf("Sweep failed: %v", err)
			}

		case <-ctx.Done():
			log.Infof("Timeout enforcer stopped")
			return nil
		}
	}
}

// Sweep checks all pending orders once.
func (e *Enforcer) Sweep(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	orders, err := e.cfg.Swaps.PendingSwaps(ctx)
	if err != nil {
		return fmt.Errorf("unable to fetch pending swaps: %w", err)
	}

	now := e.clock.Now()

	log.Tracef("Sweeping %v pending orders at %v", len(orders), now)

	seen := make(map[uuid.UUID]struct{}, len(orders))
	for _, order := range orders {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		seen[order.ID] = struct{}{}
		e.enforce(ctx, order, now)
	}

	for id := range e.attention {
		if _, ok := seen[id]; !ok {
			delete(e.attention, id)
		}
	}

	return nil
}

// needsAttention logs the reason an order needs an operator once, and again
// only if the reason changed.
func (e *Enforcer) needsAttention(order *swap.Order, reason string) {
	if e.attention[order.ID] == reason {
		return
	}
	e.attention[order.ID] = reason

	log.Warnf("Swap %v needs attention: %v", swap.ShortID(order.ID),
		reason)
}

// pendingReason describes the submissions of an order with unknown outcome.
func pendingReason(order *swap.Order) string {
	var reason string
	for _, role := range []swap.Role{
		swap.RoleInitiator, swap.RoleCounterparty,
	} {

		pending := order.Party(role).Pending
		if pending == swap.PendingNone {
			continue
		}

		if reason != "" {
			reason += ", "
		}
		reason += fmt.Sprintf("outcome of %v %v unknown", role, pending)
	}

	return reason
}

// expired returns true if the timelock passed.
func expired(now, timelock time.Time) bool {
	return !now.Before(timelock)
}

// refundable returns true if the leg holds funds the refund path can
// recover.
func refundable(leg *swap.Party) bool {
	return leg.LockTxRef != "" && leg.ClaimTxRef == "" &&
		leg.RefundTxRef == ""
}

// enforce applies the timeout rules to a single order. Legs with a pending
// submission are left alone until it's resolved.
func (e *Enforcer) enforce(ctx context.Context, order *swap.Order,
	now time.Time) {

	pending := pendingReason(order)

	reason := pending
	if reason == "" && order.Status == swap.PreimageRevealed &&
		expired(now, order.CounterpartyTimelock) {

		reason = fmt.Sprintf("preimage revealed but counterparty "+
			"timelock %v passed without claim",
			order.CounterpartyTimelock)
	}

	if reason != "" {
		e.needsAttention(order, reason)
	} else {
		delete(e.attention, order.ID)
	}

	switch order.Status {
	case swap.Created:
		if expired(now, order.CounterpartyTimelock) {
			_, err := e.cfg.Swaps.CancelSwap(ctx, order.ID)
			e.report(order, "cancel", err)
		}

	case swap.WaitingLocks, swap.InitiatorLocked, swap.BothLocked,
		swap.Refunding:

		if order.Initiator.LockTxRef == "" &&
			order.Counterparty.LockTxRef == "" {

			// Nothing was locked, close the order once nobody
			// could have locked anymore.
			if pending == "" &&
				expired(now, order.InitiatorTimelock) {

				_, err := e.cfg.Swaps.Refund(
					ctx, order.ID, swap.RoleInitiator,
				)
				e.report(order, "close", err)
			}

			return
		}

		// The counterparty's timelock expires first.
		for _, role := range []swap.Role{
			swap.RoleCounterparty, swap.RoleInitiator,
		} {
			leg := order.Party(role)
			if !refundable(leg) || leg.Pending != swap.PendingNone ||
				!expired(now, order.Timelock(role)) {

				continue
			}

			_, err := e.cfg.Swaps.Refund(ctx, order.ID, role)
			e.report(order, fmt.Sprintf("%v refund", role), err)
		}
	}
}

// report logs the outcome of an enforcement action.
func (e *Enforcer) report(order *swap.Order, action string, err error) {
	id := swap.ShortID(order.ID)

	switch {
	case err == nil:
		log.Infof("Swap %v: %v after timeout", id, action)

	case swap.IsBenign(err):
		log.Debugf("Swap %v: %v no-op: %v", id, action, err)

	case swap.IsRetryable(err):
		log.Debugf("Swap %v: %v deferred: %v", id, action, err)

	default:
		log.Errorf("Swap %v: %v failed: %v", id, action, err)
	}
}
