package swap

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/queue"
	"github.com/swapbridge/swapbridge/chain"
	"github.com/swapbridge/swapbridge/fsm"
	"github.com/swapbridge/swapbridge/hashlock"
	"github.com/swapbridge/swapbridge/watcher"
)

const (
	// defaultObserverSize is the number of notifications cached by
	// status waiters.
	defaultObserverSize = 15
)

// Config contains all the services that the orchestrator needs to operate.
type Config struct {
	// Store is the durable order storage.
	Store Store

	// Chains resolves chain adapters and parameters.
	Chains ChainRegistry

	// Watcher watches lock transactions.
	Watcher LockWatcher

	// Clock is the time source. It's wrapped in a MonotonicClock.
	Clock clock.Clock

	// SafetyMargin is the minimum amount of time by which the initiator's
	// timelock must exceed the counterparty's.
	SafetyMargin time.Duration

	// CallTimeout bounds every chain adapter call.
	CallTimeout time.Duration
}

// Validate checks that the config is complete.
func (c *Config) Validate() error {
	switch {
	case c.Store == nil:
		return errors.New("store must be set")

	case c.Chains == nil:
		return errors.New("chain registry must be set")

	case c.Watcher == nil:
		return errors.New("watcher must be set")

	case c.Clock == nil:
		return errors.New("clock must be set")

	case c.SafetyMargin <= 0:
		return errors.New("safety margin must be configured")

	case c.CallTimeout <= 0:
		return errors.New("call timeout must be positive")
	}

	return nil
}

// Request holds the terms of a new swap.
type Request struct {
	// Initiator is the initiator's leg. Tx refs are ignored.
	Initiator Party

	// Counterparty is the counterparty's leg. Tx refs are ignored.
	Counterparty Party

	// InitiatorTimelock is the lifetime of the initiator's lock.
	InitiatorTimelock time.Duration

	// CounterpartyTimelock is the lifetime of the counterparty's lock.
	CounterpartyTimelock time.Duration
}

// activeOrder is an order the orchestrator drives. Its fields are guarded by
// the state machine, they may only be accessed within sm.Do.
type activeOrder struct {
	id uuid.UUID

	// sm is the per-order exclusive section.
	sm *fsm.StateMachine

	// order is the last persisted version of the order.
	order *Order

	// inFlight is set while a chain adapter call for the order is
	// outstanding.
	inFlight bool

	// watchers holds the cancel functions of running lock watchers.
	watchers map[Role]context.CancelFunc

	log *OrderLog
}

// Orchestrator drives swap orders through their lifecycle.
type Orchestrator struct {
	cfg *Config

	clock clock.Clock

	// activeOrders contains all non-final orders that were touched since
	// startup.
	activeOrders map[uuid.UUID]*activeOrder

	// runCtx is the context of the main loop, nil while it's not running.
	runCtx context.Context

	// wg tracks lock watcher goroutines.
	wg sync.WaitGroup

	subscribers      map[uint64]*queue.ConcurrentQueue
	nextSubscriberID uint64

	sync.Mutex
}

// NewOrchestrator creates a new orchestrator.
func NewOrchestrator(cfg *Config) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	clk, ok := cfg.Clock.(*MonotonicClock)
	if !ok {
		clk = NewMonotonicClock(cfg.Clock)
	}

	return &Orchestrator{
		cfg:          cfg,
		clock:        clk,
		activeOrders: make(map[uuid.UUID]*activeOrder),
		subscribers:  make(map[uint64]*queue.ConcurrentQueue),
	}, nil
}

// Run recovers pending orders and blocks until the context is cancelled. The
// init channel is closed once recovery completed.
func (o *Orchestrator) Run(ctx context.Context, initChan chan struct{}) error {
	log.Debugf("Starting orchestrator")

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	o.Lock()
	o.runCtx = runCtx
	o.Unlock()

	defer func() {
		o.Lock()
		o.runCtx = nil
		o.Unlock()

		o.wg.Wait()
	}()

	if err := o.recoverOrders(runCtx); err != nil {
		return err
	}

	// Signal that the orchestrator has been initialized.
	close(initChan)

	<-runCtx.Done()

	log.Debugf("Stopping orchestrator")

	return nil
}

// recoverOrders resumes all pending orders from the store and restarts the
// watchers of recorded but unconfirmed locks.
func (o *Orchestrator) recoverOrders(ctx context.Context) error {
	orders, err := o.cfg.Store.FetchPendingOrders(ctx)
	if err != nil {
		return fmt.Errorf("unable to fetch pending orders: %w", err)
	}

	for _, order := range orders {
		a := o.track(order)

		a.log.Infof("Recovering order in state %v", order.Status)

		err := a.sm.Do(func(txn *fsm.Txn) error {
			switch txn.Current() {
			case WaitingLocks:
				ref := a.order.Initiator.LockTxRef
				if ref != "" {
					o.startWatcher(a, RoleInitiator, ref)
				}

			case InitiatorLocked:
				ref := a.order.Counterparty.LockTxRef
				if ref != "" {
					o.startWatcher(a, RoleCounterparty, ref)
				}
			}

			for _, role := range []Role{
				RoleInitiator, RoleCounterparty,
			} {

				pending := a.order.Party(role).Pending
				if pending != PendingNone {
					a.log.Warnf("Outcome of %v %v unknown, "+
						"needs resolution", role, pending)
				}
			}

			return nil
		})
		if err != nil {
			return err
		}
	}

	log.Infof("Recovered %v pending orders", len(orders))

	return nil
}

// running returns true if the main loop is running.
func (o *Orchestrator) running() bool {
	o.Lock()
	defer o.Unlock()

	return o.runCtx != nil
}

// newActiveOrder creates the handle of an order, resuming its state machine
// at the order's status.
func newActiveOrder(order *Order) *activeOrder {
	return &activeOrder{
		id:       order.ID,
		sm:       fsm.NewStateMachineWithState(GetStates(), order.Status),
		order:    order,
		watchers: make(map[Role]context.CancelFunc),
		log:      &OrderLog{ID: order.ID},
	}
}

// track adds an order to the active orders and returns its handle.
func (o *Orchestrator) track(order *Order) *activeOrder {
	a := newActiveOrder(order)
	if IsFinal(order.Status) {
		return a
	}

	o.Lock()
	o.activeOrders[order.ID] = a
	o.Unlock()

	return a
}

// evict removes an order from the active orders, the next access reloads it
// from the store.
func (o *Orchestrator) evict(a *activeOrder) {
	o.Lock()
	defer o.Unlock()

	if o.activeOrders[a.id] == a {
		delete(o.activeOrders, a.id)
	}
}

// getActiveOrder returns the handle of an order, loading it from the store
// if it isn't active yet.
func (o *Orchestrator) getActiveOrder(ctx context.Context,
	id uuid.UUID) (*activeOrder, error) {

	o.Lock()
	a, ok := o.activeOrders[id]
	o.Unlock()

	if ok {
		return a, nil
	}

	order, err := o.cfg.Store.FetchOrder(ctx, id)
	if err != nil {
		return nil, err
	}

	// Another caller may have loaded the order in the meantime, the
	// first one wins.
	o.Lock()
	defer o.Unlock()

	if a, ok := o.activeOrders[id]; ok {
		return a, nil
	}

	a = newActiveOrder(order)
	if !IsFinal(order.Status) {
		o.activeOrders[id] = a
	}

	return a, nil
}

// snapshot returns a copy of the order's current version.
func (o *Orchestrator) snapshot(a *activeOrder) *Order {
	var order *Order
	_ = a.sm.Do(func(_ *fsm.Txn) error {
		order = a.order.Copy()
		return nil
	})

	return order
}

// transition moves the order along the event and persists the mutated copy
// of the order in the same step. The order is only replaced if the store
// write succeeded. It must be called within the order's exclusive section.
func (o *Orchestrator) transition(ctx context.Context, txn *fsm.Txn,
	a *activeOrder, event fsm.EventType, mutate func(*Order)) error {

	updated := a.order.Copy()
	if mutate != nil {
		mutate(updated)
	}

	err := txn.Fire(event, func(from, to fsm.StateType,
		_ fsm.EventType) error {

		updated.Status = to

		return o.cfg.Store.UpdateOrder(ctx, updated, event)
	})
	switch {
	case errors.Is(err, fsm.ErrEventRejected):
		return fmt.Errorf("%w: %v", ErrInvalidTransition, err)

	case errors.Is(err, ErrVersionConflict):
		a.log.Warnf("Order was modified concurrently, reloading")
		o.evict(a)

		return err

	case err != nil:
		return err
	}

	previous := a.order.Status
	a.order = updated

	if previous != updated.Status {
		a.log.Infof("%v -> %v (%v)", previous, updated.Status, event)
	} else {
		a.log.Debugf("%v in state %v", event, updated.Status)
	}

	if IsFinal(updated.Status) {
		for role, cancel := range a.watchers {
			cancel()
			delete(a.watchers, role)
		}
		o.evict(a)
	}

	o.publish(updated)

	return nil
}

// fail moves the order to Failed. It must be called within the order's
// exclusive section.
func (o *Orchestrator) fail(ctx context.Context, txn *fsm.Txn,
	a *activeOrder, reason string) error {

	if IsFinal(txn.Current()) {
		return nil
	}

	a.log.Errorf("Order failed: %v", reason)

	return o.transition(ctx, txn, a, fsm.OnError, func(order *Order) {
		order.FailureReason = reason
	})
}

// checkIdle returns ErrOrderBusy while an adapter call for the order is
// outstanding. It must be called within the order's exclusive section.
func checkIdle(a *activeOrder) error {
	if a.inFlight {
		return ErrOrderBusy
	}

	return nil
}

// checkNotPending rejects a submission for a leg whose previous submission
// has an unknown outcome.
func checkNotPending(order *Order, role Role) error {
	pending := order.Party(role).Pending
	if pending == PendingNone {
		return nil
	}

	return fmt.Errorf("%w: %v %v", ErrSubmissionPending, role, pending)
}

// beginSubmission durably marks the given role's leg as submitting and
// claims the idle order for the adapter call. It must be called within the
// order's exclusive section.
func (o *Orchestrator) beginSubmission(ctx context.Context, txn *fsm.Txn,
	a *activeOrder, role Role, kind PendingTx) error {

	if err := ctx.Err(); err != nil {
		return err
	}

	err := o.transition(ctx, txn, a, OnSubmitting, func(order *Order) {
		order.Party(role).Pending = kind
	})
	if err != nil {
		return err
	}

	a.inFlight = true

	return nil
}

// releaseInFlight clears the in-flight marker of the order.
func releaseInFlight(a *activeOrder) {
	_ = a.sm.Do(func(_ *fsm.Txn) error {
		a.inFlight = false
		return nil
	})
}

// callAdapter runs an adapter call bounded by the call timeout.
func (o *Orchestrator) callAdapter(ctx context.Context,
	call func(ctx context.Context) (chain.TxRef, error)) (chain.TxRef,
	error) {

	callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	defer cancel()

	return call(callCtx)
}

// handleAdapterError classifies a failed submission of the given role's leg.
// If the transaction may have reached the ledger the pending marker stays and
// ErrSubmissionPending is returned. Transient failures clear the marker so the
// call can be retried, permanent failures move the order to Failed.
func (o *Orchestrator) handleAdapterError(ctx context.Context, a *activeOrder,
	role Role, chainID chain.ID, op string, err error) error {

	ctx = context.WithoutCancel(ctx)
	unknown := chain.IsOutcomeUnknown(err)
	err = chain.WrapError(chainID, op, err)

	switch {
	case unknown:
		a.log.Warnf("Outcome of %v %v unknown, leg blocked until "+
			"resolved: %v", role, op, err)

		return fmt.Errorf("%w: %w", ErrSubmissionPending, err)

	case chain.IsTransient(err):
		a.log.Warnf("%v failed, retry later: %v", op, err)

		clearErr := a.sm.Do(func(txn *fsm.Txn) error {
			if IsFinal(txn.Current()) {
				return nil
			}

			return o.transition(
				ctx, txn, a, OnSubmitResolved,
				func(order *Order) {
					order.Party(role).Pending = PendingNone
				},
			)
		})
		if clearErr != nil {
			a.log.Errorf("Unable to clear pending %v: %v", op,
				clearErr)
		}

		return err
	}

	failErr := a.sm.Do(func(txn *fsm.Txn) error {
		if IsFinal(txn.Current()) {
			return nil
		}

		a.log.Errorf("Order failed: %v", err)

		return o.transition(ctx, txn, a, fsm.OnError,
			func(order *Order) {
				order.Party(role).Pending = PendingNone
				order.FailureReason = err.Error()
			},
		)
	})
	if failErr != nil {
		a.log.Errorf("Unable to fail order: %v", failErr)
	}

	return err
}

// startWatcher watches a recorded lock in the background. It must be called
// within the order's exclusive section.
func (o *Orchestrator) startWatcher(a *activeOrder, role Role,
	txRef chain.TxRef) {

	leg := a.order.Party(role)

	params, err := o.cfg.Chains.Params(leg.Chain)
	if err != nil {
		a.log.Errorf("Unable to watch %v lock %v: %v", role, txRef, err)
		return
	}

	o.Lock()
	runCtx := o.runCtx
	if runCtx == nil {
		o.Unlock()
		a.log.Warnf("Not running, %v lock %v is watched after restart",
			role, txRef)

		return
	}
	o.wg.Add(1)
	o.Unlock()

	watchCtx, cancel := context.WithCancel(runCtx)
	if prev, ok := a.watchers[role]; ok {
		prev()
	}
	a.watchers[role] = cancel

	req := watcher.Request{
		Chain:         leg.Chain,
		TxRef:         txRef,
		RequiredConfs: params.RequiredConfirmations,
	}

	a.log.Debugf("Watching %v lock %v", role, req)

	go func() {
		defer o.wg.Done()
		defer cancel()

		event := <-o.cfg.Watcher.Watch(watchCtx, req)
		o.handleWatchEvent(runCtx, a.id, role, event)
	}()
}

// handleWatchEvent applies the result of a lock watcher to the order.
func (o *Orchestrator) handleWatchEvent(ctx context.Context, id uuid.UUID,
	role Role, event watcher.Event) {

	if errors.Is(event.Err, context.Canceled) {
		return
	}

	a, err := o.getActiveOrder(ctx, id)
	if err != nil {
		log.Errorf("Unable to load order %v for lock event: %v", id,
			err)

		return
	}

	expected, confirmed := WaitingLocks, OnInitiatorLockConfirmed
	if role == RoleCounterparty {
		expected, confirmed = InitiatorLocked,
			OnCounterpartyLockConfirmed
	}

	err = a.sm.Do(func(txn *fsm.Txn) error {
		leg := a.order.Party(role)
		if leg.LockTxRef != event.TxRef || txn.Current() != expected {
			a.log.Debugf("Ignoring stale %v lock event for %v in "+
				"state %v", role, event.TxRef, txn.Current())

			return nil
		}

		delete(a.watchers, role)

		if event.Err != nil {
			return o.fail(ctx, txn, a, fmt.Sprintf("%v lock %v: %v",
				role, event.TxRef, event.Err))
		}

		a.log.Infof("%v lock %v confirmed with %v confirmations",
			role, event.TxRef, event.Confirmations)

		return o.transition(ctx, txn, a, confirmed, nil)
	})
	if err != nil {
		a.log.Errorf("Unable to apply %v lock event: %v", role, err)
	}
}

// validateRequest checks the terms of a new swap.
func (o *Orchestrator) validateRequest(req *Request) error {
	for _, role := range []Role{RoleInitiator, RoleCounterparty} {
		party := &req.Initiator
		if role == RoleCounterparty {
			party = &req.Counterparty
		}

		if party.Amount == 0 || party.Amount > math.MaxInt64 {
			return fmt.Errorf("%w: %v amount %v", ErrInvalidAmount,
				role, party.Amount)
		}

		if _, err := o.cfg.Chains.Params(party.Chain); err != nil {
			return err
		}
	}

	if req.CounterpartyTimelock <= 0 {
		return fmt.Errorf("%w: counterparty timelock %v must be "+
			"positive", ErrInvalidTimelockOrdering,
			req.CounterpartyTimelock)
	}

	if req.InitiatorTimelock <= req.CounterpartyTimelock+o.cfg.SafetyMargin {
		return fmt.Errorf("%w: %v <= %v + %v",
			ErrInvalidTimelockOrdering, req.InitiatorTimelock,
			req.CounterpartyTimelock, o.cfg.SafetyMargin)
	}

	return nil
}

// newLeg copies the immutable terms of a party.
func (o *Orchestrator) newLeg(party Party) Party {
	leg := Party{
		Chain:   party.Chain,
		Address: party.Address,
		Amount:  party.Amount,
		Asset:   party.Asset,
	}

	if leg.Asset == "" {
		params, err := o.cfg.Chains.Params(party.Chain)
		if err == nil {
			leg.Asset = params.Type.NativeCurrency()
		}
	}

	return leg
}

// createOrder validates the request and persists a new order in Created.
func (o *Orchestrator) createOrder(ctx context.Context, req *Request,
	verifier hashlock.Verifier,
	committer *hashlock.Committer) (*Order, error) {

	if err := o.validateRequest(req); err != nil {
		log.Warnf("Rejected swap request: %v", err)
		return nil, err
	}

	now := o.clock.Now().UTC().Truncate(time.Microsecond)

	order := &Order{
		ID:                   uuid.New(),
		Initiator:            o.newLeg(req.Initiator),
		Counterparty:         o.newLeg(req.Counterparty),
		HashLock:             verifier,
		Committer:            committer,
		InitiatorTimelock:    now.Add(req.InitiatorTimelock),
		CounterpartyTimelock: now.Add(req.CounterpartyTimelock),
		Status:               Created,
		CreatedAt:            now,
	}

	if err := o.cfg.Store.CreateOrder(ctx, order); err != nil {
		return nil, err
	}

	a := o.track(order)
	a.log.Infof("Created %v", order)

	o.publish(order)

	return order.Copy(), nil
}

// InitiateSwap creates a new swap as its initiator. It generates the
// preimage, which is returned with the order.
func (o *Orchestrator) InitiateSwap(ctx context.Context,
	req *Request) (*Order, *hashlock.Committer, error) {

	committer, err := hashlock.Generate()
	if err != nil {
		return nil, nil, err
	}

	order, err := o.createOrder(ctx, req, committer.Verifier(), committer)
	if err != nil {
		return nil, nil, err
	}

	return order, committer, nil
}

// GetSwap returns the current version of an order.
func (o *Orchestrator) GetSwap(ctx context.Context, id uuid.UUID) (*Order,
	error) {

	o.Lock()
	a, ok := o.activeOrders[id]
	o.Unlock()

	if ok {
		return o.snapshot(a), nil
	}

	return o.cfg.Store.FetchOrder(ctx, id)
}

// ListSwaps returns all orders.
func (o *Orchestrator) ListSwaps(ctx context.Context) ([]*Order, error) {
	return o.cfg.Store.FetchOrders(ctx)
}

// PendingSwaps returns all orders that are not final.
func (o *Orchestrator) PendingSwaps(ctx context.Context) ([]*Order, error) {
	return o.cfg.Store.FetchPendingOrders(ctx)
}

// SwapUpdates returns the journal of an order.
func (o *Orchestrator) SwapUpdates(ctx context.Context,
	id uuid.UUID) ([]*Update, error) {

	return o.cfg.Store.FetchUpdates(ctx, id)
}

// WaitForStatus blocks until the order reached the given status, the
// timeout elapsed or the order ended in another final state.
func (o *Orchestrator) WaitForStatus(ctx context.Context, id uuid.UUID,
	status fsm.StateType, timeout time.Duration) (*Order, error) {

	a, err := o.getActiveOrder(ctx, id)
	if err != nil {
		return nil, err
	}

	observer := fsm.NewCachedObserver(defaultObserverSize)
	a.sm.RegisterObserver(observer)
	defer a.sm.RemoveObserver(observer)

	current := a.sm.Current()
	switch {
	case current == status:
		return o.snapshot(a), nil

	case IsFinal(current):
		return o.snapshot(a), fmt.Errorf("%w: order ended in %v",
			ErrInvalidTransition, current)
	}

	err = observer.WaitForState(
		ctx, timeout, status, fsm.WithAbortStates(FinalStates()...),
	)
	if errors.Is(err, fsm.ErrUnexpectedState) {
		err = fmt.Errorf("%w: order ended in %v", ErrInvalidTransition,
			observer.LastState())
	}

	return o.snapshot(a), err
}
