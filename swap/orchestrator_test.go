package swap

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/stretchr/testify/require"
	"github.com/swapbridge/swapbridge/chain"
	"github.com/swapbridge/swapbridge/chain/simchain"
	"github.com/swapbridge/swapbridge/fsm"
	"github.com/swapbridge/swapbridge/hashlock"
	"github.com/swapbridge/swapbridge/test"
	"github.com/swapbridge/swapbridge/watcher"
)

const (
	btcChain chain.ID = "bitcoin"
	ethChain chain.ID = "ethereum"

	btcConfs = 2
	ethConfs = 3
)

var (
	testTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
)

// blockingAdapter wraps a simulated chain and blocks claims until released.
type blockingAdapter struct {
	*simchain.Chain

	entered chan struct{}
	release chan struct{}

	mu     sync.Mutex
	claims int
}

func (b *blockingAdapter) Claim(ctx context.Context, lockTx chain.TxRef,
	preimage lntypes.Preimage) (chain.TxRef, error) {

	b.mu.Lock()
	b.claims++
	b.mu.Unlock()

	b.entered <- struct{}{}
	<-b.release

	return b.Chain.Claim(ctx, lockTx, preimage)
}

// lostReplyAdapter wraps a simulated chain. The ledger accepts every lock but
// the reply of the first one is lost.
type lostReplyAdapter struct {
	*simchain.Chain

	mu    sync.Mutex
	locks []chain.TxRef
}

func (l *lostReplyAdapter) Lock(ctx context.Context,
	req *chain.LockRequest) (chain.TxRef, error) {

	ref, err := l.Chain.Lock(ctx, req)
	if err != nil {
		return "", err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.locks = append(l.locks, ref)
	if len(l.locks) == 1 {
		return "", context.DeadlineExceeded
	}

	return ref, nil
}

// submitted returns the locks the ledger accepted.
func (l *lostReplyAdapter) submitted() []chain.TxRef {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]chain.TxRef(nil), l.locks...)
}

type testContext struct {
	t *testing.T

	clock *clock.TestClock
	store *storeMock

	btc *simchain.Chain
	eth *simchain.Chain

	registry     *chain.Registry
	orchestrator *Orchestrator

	cancel  context.CancelFunc
	runErrs chan error
}

func newTestContext(t *testing.T) *testContext {
	return newTestContextWithEth(t, nil)
}

// newTestContextWithEth sets up two simulated chains. The ethereum adapter
// can be replaced, e.g. by a wrapper of the simulated chain.
func newTestContextWithEth(t *testing.T,
	wrap func(*simchain.Chain) chain.Adapter) *testContext {

	testClock := clock.NewTestClock(testTime)

	ctx := &testContext{
		t:        t,
		clock:    testClock,
		store:    newStoreMock(),
		btc:      simchain.New(btcChain, testClock),
		eth:      simchain.New(ethChain, testClock),
		registry: chain.NewRegistry(),
	}

	var ethAdapter chain.Adapter = ctx.eth
	if wrap != nil {
		ethAdapter = wrap(ctx.eth)
	}

	require.NoError(t, ctx.registry.Register(chain.Params{
		ID:                    btcChain,
		Type:                  chain.TypeUTXO,
		RequiredConfirmations: btcConfs,
	}, ctx.btc))
	require.NoError(t, ctx.registry.Register(chain.Params{
		ID:                    ethChain,
		Type:                  chain.TypeEVM,
		RequiredConfirmations: ethConfs,
	}, ethAdapter))

	ctx.start()

	return ctx
}

// start runs a fresh orchestrator on the context's store and chains.
func (c *testContext) start() {
	lockWatcher, err := watcher.New(&watcher.Config{
		Chains:           c.registry,
		Clock:            clock.NewDefaultClock(),
		PollInterval:     time.Millisecond,
		MaxWait:          time.Minute,
		MaxRetries:       3,
		MaxNotFoundPolls: 5,
		InitialBackoff:   time.Millisecond,
		MaxBackoff:       5 * time.Millisecond,
		CallTimeout:      time.Second,
	})
	require.NoError(c.t, err)

	c.orchestrator, err = NewOrchestrator(&Config{
		Store:        c.store,
		Chains:       c.registry,
		Watcher:      lockWatcher,
		Clock:        c.clock,
		SafetyMargin: 12 * time.Hour,
		CallTimeout:  time.Second,
	})
	require.NoError(c.t, err)

	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.runErrs = make(chan error, 1)

	initChan := make(chan struct{})
	go func() {
		c.runErrs <- c.orchestrator.Run(runCtx, initChan)
	}()

	select {
	case <-initChan:
	case err := <-c.runErrs:
		c.t.Fatalf("orchestrator failed to start: %v", err)
	}
}

// stop shuts the orchestrator down and waits for its goroutines.
func (c *testContext) stop() {
	c.cancel()
	require.NoError(c.t, test.Receive(c.t, c.runErrs))
}

func testRequest(initiatorTimelock, counterpartyTimelock time.Duration) *Request {
	return &Request{
		Initiator: Party{
			Chain:   btcChain,
			Address: "alice",
			Amount:  100_000,
		},
		Counterparty: Party{
			Chain:   ethChain,
			Address: "bob",
			Amount:  1_000_000_000_000_000,
			Asset:   "ETH",
		},
		InitiatorTimelock:    initiatorTimelock,
		CounterpartyTimelock: counterpartyTimelock,
	}
}

func (c *testContext) waitForStatus(order *Order,
	status fsm.StateType) *Order {

	order, err := c.orchestrator.WaitForStatus(
		context.Background(), order.ID, status, test.Timeout,
	)
	require.NoError(c.t, err)
	require.Equal(c.t, status, order.Status)

	return order
}

// newBothLocked creates an order and drives it to BothLocked.
func (c *testContext) newBothLocked() (*Order, *hashlock.Committer) {
	order := c.newInitiatorLocked()

	order, err := c.orchestrator.SubmitLock(
		context.Background(), order.ID, RoleCounterparty,
	)
	require.NoError(c.t, err)
	require.NotEmpty(c.t, order.Counterparty.LockTxRef)

	c.eth.Mine(ethConfs)

	return c.waitForStatus(order, BothLocked), order.Committer
}

// newInitiatorLocked creates an order and drives it to InitiatorLocked.
func (c *testContext) newInitiatorLocked() *Order {
	ctx := context.Background()

	order, _, err := c.orchestrator.InitiateSwap(
		ctx, testRequest(48*time.Hour, 24*time.Hour),
	)
	require.NoError(c.t, err)

	order, err = c.orchestrator.AcceptSwap(ctx, order.ID)
	require.NoError(c.t, err)
	require.Equal(c.t, WaitingLocks, order.Status)

	order, err = c.orchestrator.SubmitLock(ctx, order.ID, RoleInitiator)
	require.NoError(c.t, err)
	require.NotEmpty(c.t, order.Initiator.LockTxRef)
	require.Equal(c.t, WaitingLocks, order.Status)

	c.btc.Mine(btcConfs)

	return c.waitForStatus(order, InitiatorLocked)
}

// TestInitiateSwap tests the creation invariants: timelock ordering with the
// safety margin and positive amounts.
func TestInitiateSwap(t *testing.T) {
	defer test.Guard(t)()

	c := newTestContext(t)
	defer c.stop()

	ctx := context.Background()

	// 48h > 24h + 12h, creation succeeds.
	order, committer, err := c.orchestrator.InitiateSwap(
		ctx, testRequest(48*time.Hour, 24*time.Hour),
	)
	require.NoError(t, err)
	require.Equal(t, Created, order.Status)
	require.Equal(t, committer.Hash(), order.Hash())
	require.Equal(t, testTime.Add(48*time.Hour), order.InitiatorTimelock)
	require.Equal(
		t, testTime.Add(24*time.Hour), order.CounterpartyTimelock,
	)
	require.Equal(t, "BTC", order.Initiator.Asset)
	require.Equal(t, []fsm.StateType{Created}, c.store.states(order.ID))

	// 30h <= 24h + 12h.
	_, _, err = c.orchestrator.InitiateSwap(
		ctx, testRequest(30*time.Hour, 24*time.Hour),
	)
	require.ErrorIs(t, err, ErrInvalidTimelockOrdering)

	// Exactly at the margin is still rejected.
	_, _, err = c.orchestrator.InitiateSwap(
		ctx, testRequest(36*time.Hour, 24*time.Hour),
	)
	require.ErrorIs(t, err, ErrInvalidTimelockOrdering)

	req := testRequest(48*time.Hour, 24*time.Hour)
	req.Counterparty.Amount = 0
	_, _, err = c.orchestrator.InitiateSwap(ctx, req)
	require.ErrorIs(t, err, ErrInvalidAmount)

	req = testRequest(48*time.Hour, 24*time.Hour)
	req.Initiator.Chain = "dogecoin"
	_, _, err = c.orchestrator.InitiateSwap(ctx, req)
	require.ErrorIs(t, err, chain.ErrUnknownChain)

	orders, err := c.orchestrator.ListSwaps(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 1)
}

// TestSuccessfulSwap drives a swap through both locks and both claims.
func TestSuccessfulSwap(t *testing.T) {
	defer test.Guard(t)()

	c := newTestContext(t)
	defer c.stop()

	ctx := context.Background()
	order, committer := c.newBothLocked()
	preimage := committer.Preimage()

	// The counterparty can't claim before the preimage is revealed.
	_, err := c.orchestrator.ClaimRevealed(ctx, order.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)

	order, err = c.orchestrator.ClaimWithPreimage(
		ctx, order.ID, preimage[:],
	)
	require.NoError(t, err)
	require.Equal(t, PreimageRevealed, order.Status)
	require.NotNil(t, order.RevealedPreimage)
	require.Equal(t, preimage, *order.RevealedPreimage)
	require.NotEmpty(t, order.Counterparty.ClaimTxRef)

	// The preimage is now public on the counterparty's chain.
	revealed, ok := c.eth.RevealedPreimage(order.Counterparty.LockTxRef)
	require.True(t, ok)
	require.Equal(t, preimage, revealed)

	// A repeated claim doesn't touch the chain again.
	order, err = c.orchestrator.ClaimWithPreimage(
		ctx, order.ID, preimage[:],
	)
	require.ErrorIs(t, err, ErrAlreadyCompleted)
	require.True(t, IsBenign(err))
	require.Equal(t, PreimageRevealed, order.Status)

	// Refunds are no longer possible once the preimage is out.
	_, err = c.orchestrator.Refund(ctx, order.ID, RoleCounterparty)
	require.ErrorIs(t, err, ErrInvalidTransition)

	order, err = c.orchestrator.ClaimRevealed(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, Completed, order.Status)
	require.NotEmpty(t, order.Initiator.ClaimTxRef)

	_, err = c.orchestrator.ClaimRevealed(ctx, order.ID)
	require.ErrorIs(t, err, ErrAlreadyCompleted)

	_, err = c.orchestrator.ClaimWithPreimage(ctx, order.ID, preimage[:])
	require.ErrorIs(t, err, ErrAlreadyCompleted)

	// Every submission is journaled before its adapter call.
	require.Equal(t, []fsm.StateType{
		Created, WaitingLocks, WaitingLocks, WaitingLocks,
		InitiatorLocked, InitiatorLocked, InitiatorLocked, BothLocked,
		BothLocked, PreimageRevealed, PreimageRevealed, Completed,
	}, c.store.states(order.ID))

	stored, err := c.orchestrator.GetSwap(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, Completed, stored.Status)

	pending, err := c.orchestrator.PendingSwaps(ctx)
	require.NoError(t, err)
	require.Empty(t, pending)
}

// TestInvalidPreimage tests that a wrong preimage is rejected and leaves the
// order in BothLocked.
func TestInvalidPreimage(t *testing.T) {
	defer test.Guard(t)()

	c := newTestContext(t)
	defer c.stop()

	ctx := context.Background()
	order, committer := c.newBothLocked()

	wrong := committer.Preimage()
	wrong[0] ^= 0xff

	order, err := c.orchestrator.ClaimWithPreimage(ctx, order.ID, wrong[:])
	require.ErrorIs(t, err, ErrInvalidPreimage)
	require.False(t, IsRetryable(err))
	require.Equal(t, BothLocked, order.Status)

	// Malformed candidates are rejected the same way.
	order, err = c.orchestrator.ClaimWithPreimage(ctx, order.ID, []byte{1})
	require.ErrorIs(t, err, ErrInvalidPreimage)
	require.Equal(t, BothLocked, order.Status)

	_, ok := c.eth.RevealedPreimage(order.Counterparty.LockTxRef)
	require.False(t, ok)
}

// TestClaimAfterTimelock tests that the initiator can't claim once its
// timelock elapsed.
func TestClaimAfterTimelock(t *testing.T) {
	defer test.Guard(t)()

	c := newTestContext(t)
	defer c.stop()

	order, committer := c.newBothLocked()
	preimage := committer.Preimage()

	c.clock.SetTime(testTime.Add(48 * time.Hour))

	order, err := c.orchestrator.ClaimWithPreimage(
		context.Background(), order.ID, preimage[:],
	)
	require.ErrorIs(t, err, ErrTimelockExpired)
	require.Equal(t, BothLocked, order.Status)
}

// TestCounterpartyNeverLocks tests that an order whose counterparty never
// locks is refunded after the initiator's timelock and not before.
func TestCounterpartyNeverLocks(t *testing.T) {
	defer test.Guard(t)()

	c := newTestContext(t)
	defer c.stop()

	ctx := context.Background()
	order := c.newInitiatorLocked()

	c.clock.SetTime(testTime.Add(47 * time.Hour))
	order, err := c.orchestrator.Refund(ctx, order.ID, RoleInitiator)
	require.ErrorIs(t, err, ErrTimelockNotYetExpired)
	require.True(t, IsRetryable(err))
	require.Equal(t, InitiatorLocked, order.Status)

	// The counterparty has nothing to refund.
	_, err = c.orchestrator.Refund(ctx, order.ID, RoleCounterparty)
	require.ErrorIs(t, err, ErrNothingToRefund)

	// The counterparty can't lock anymore either.
	_, err = c.orchestrator.SubmitLock(ctx, order.ID, RoleCounterparty)
	require.ErrorIs(t, err, ErrTimelockExpired)

	c.clock.SetTime(testTime.Add(48 * time.Hour))
	order, err = c.orchestrator.Refund(ctx, order.ID, RoleInitiator)
	require.NoError(t, err)
	require.Equal(t, Refunded, order.Status)
	require.NotEmpty(t, order.Initiator.RefundTxRef)

	_, err = c.orchestrator.Refund(ctx, order.ID, RoleInitiator)
	require.ErrorIs(t, err, ErrAlreadyRefunded)
	require.True(t, IsBenign(err))
}

// TestRefundBothLegs tests the two step refund of a swap that was never
// claimed.
func TestRefundBothLegs(t *testing.T) {
	defer test.Guard(t)()

	c := newTestContext(t)
	defer c.stop()

	ctx := context.Background()
	order, _ := c.newBothLocked()

	c.clock.SetTime(testTime.Add(24 * time.Hour))
	order, err := c.orchestrator.Refund(ctx, order.ID, RoleCounterparty)
	require.NoError(t, err)
	require.Equal(t, Refunding, order.Status)
	require.NotEmpty(t, order.Counterparty.RefundTxRef)

	_, err = c.orchestrator.Refund(ctx, order.ID, RoleCounterparty)
	require.ErrorIs(t, err, ErrAlreadyRefunded)

	_, err = c.orchestrator.Refund(ctx, order.ID, RoleInitiator)
	require.ErrorIs(t, err, ErrTimelockNotYetExpired)

	c.clock.SetTime(testTime.Add(48 * time.Hour))
	order, err = c.orchestrator.Refund(ctx, order.ID, RoleInitiator)
	require.NoError(t, err)
	require.Equal(t, Refunded, order.Status)
}

// TestOutOfOrder tests that operations are rejected outside of their
// documented position in the lifecycle.
func TestOutOfOrder(t *testing.T) {
	defer test.Guard(t)()

	c := newTestContext(t)
	defer c.stop()

	ctx := context.Background()

	order, committer, err := c.orchestrator.InitiateSwap(
		ctx, testRequest(48*time.Hour, 24*time.Hour),
	)
	require.NoError(t, err)
	preimage := committer.Preimage()

	// Nobody locks before the counterparty agreed.
	_, err = c.orchestrator.RecordLock(ctx, order.ID, RoleInitiator, "tx")
	require.ErrorIs(t, err, ErrInvalidTransition)

	order, err = c.orchestrator.AcceptSwap(ctx, order.ID)
	require.NoError(t, err)

	// Accepting twice is a no-op.
	order, err = c.orchestrator.AcceptSwap(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, WaitingLocks, order.Status)

	// The counterparty only locks after the initiator's lock confirmed.
	_, err = c.orchestrator.RecordLock(
		ctx, order.ID, RoleCounterparty, "tx",
	)
	require.ErrorIs(t, err, ErrInvalidTransition)

	// A claim before both locks confirmed is rejected.
	_, err = c.orchestrator.ClaimWithPreimage(ctx, order.ID, preimage[:])
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = c.orchestrator.Refund(ctx, order.ID, Role(7))
	require.ErrorIs(t, err, ErrWrongRole)

	order, err = c.orchestrator.GetSwap(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, WaitingLocks, order.Status)
	require.Empty(t, order.Initiator.LockTxRef)
}

// TestRecordLock tests that recording a lock is idempotent and that the
// order only advances on confirmation.
func TestRecordLock(t *testing.T) {
	defer test.Guard(t)()

	c := newTestContext(t)
	defer c.stop()

	ctx := context.Background()

	order, _, err := c.orchestrator.InitiateSwap(
		ctx, testRequest(48*time.Hour, 24*time.Hour),
	)
	require.NoError(t, err)

	_, err = c.orchestrator.AcceptSwap(ctx, order.ID)
	require.NoError(t, err)

	// Lock out of band and record the transaction.
	ref, err := c.btc.Lock(ctx, &chain.LockRequest{
		Asset:    "BTC",
		Amount:   order.Initiator.Amount,
		Hash:     order.Hash(),
		Timelock: order.InitiatorTimelock,
		Sender:   "alice",
	})
	require.NoError(t, err)

	order, err = c.orchestrator.RecordLock(ctx, order.ID, RoleInitiator, ref)
	require.NoError(t, err)
	require.Equal(t, WaitingLocks, order.Status)
	require.Equal(t, ref, order.Initiator.LockTxRef)

	order, err = c.orchestrator.RecordLock(ctx, order.ID, RoleInitiator, ref)
	require.NoError(t, err)

	_, err = c.orchestrator.RecordLock(
		ctx, order.ID, RoleInitiator, "other",
	)
	require.ErrorIs(t, err, ErrLockAlreadyRecorded)

	// Submission alone isn't final.
	c.btc.Mine(btcConfs - 1)
	time.Sleep(20 * time.Millisecond)

	order, err = c.orchestrator.GetSwap(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, WaitingLocks, order.Status)

	c.btc.Mine(1)
	c.waitForStatus(order, InitiatorLocked)

	// A lock can't be cancelled anymore.
	_, err = c.orchestrator.CancelSwap(ctx, order.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

// TestCancelSwap tests cancellation before any lock.
func TestCancelSwap(t *testing.T) {
	defer test.Guard(t)()

	c := newTestContext(t)
	defer c.stop()

	ctx := context.Background()

	order, _, err := c.orchestrator.InitiateSwap(
		ctx, testRequest(48*time.Hour, 24*time.Hour),
	)
	require.NoError(t, err)

	order, err = c.orchestrator.CancelSwap(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, Cancelled, order.Status)

	_, err = c.orchestrator.CancelSwap(ctx, order.ID)
	require.ErrorIs(t, err, ErrAlreadyCancelled)

	_, err = c.orchestrator.AcceptSwap(ctx, order.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = c.orchestrator.CancelSwap(ctx, order.ID)
	require.True(t, IsBenign(err))
}

// TestWaitForStatusFinal tests that waiting for a status ends early once the
// order reached another final state.
func TestWaitForStatusFinal(t *testing.T) {
	defer test.Guard(t)()

	c := newTestContext(t)
	defer c.stop()

	ctx := context.Background()

	order, _, err := c.orchestrator.InitiateSwap(
		ctx, testRequest(48*time.Hour, 24*time.Hour),
	)
	require.NoError(t, err)

	errChan := make(chan error, 1)
	go func() {
		_, err := c.orchestrator.WaitForStatus(
			ctx, order.ID, Completed, time.Minute,
		)
		errChan <- err
	}()

	_, err = c.orchestrator.CancelSwap(ctx, order.ID)
	require.NoError(t, err)

	err = test.Receive(t, errChan)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

// TestAdapterErrors tests that transient adapter failures leave the order
// untouched while permanent ones fail it.
func TestAdapterErrors(t *testing.T) {
	defer test.Guard(t)()

	c := newTestContext(t)
	defer c.stop()

	ctx := context.Background()

	order, _, err := c.orchestrator.InitiateSwap(
		ctx, testRequest(48*time.Hour, 24*time.Hour),
	)
	require.NoError(t, err)

	_, err = c.orchestrator.AcceptSwap(ctx, order.ID)
	require.NoError(t, err)

	c.btc.FailNext(simchain.OpLock, chain.NewTransientError(
		btcChain, "lock", errors.New("node syncing"),
	))

	order, err = c.orchestrator.SubmitLock(ctx, order.ID, RoleInitiator)
	require.Error(t, err)
	require.True(t, IsRetryable(err))
	require.Equal(t, WaitingLocks, order.Status)
	require.Empty(t, order.Initiator.LockTxRef)
	require.Equal(t, PendingNone, order.Initiator.Pending)

	stored, err := c.store.FetchOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, stored, order)

	errRejected := errors.New("transaction rejected")
	c.btc.FailNext(simchain.OpLock, errRejected)

	order, err = c.orchestrator.SubmitLock(ctx, order.ID, RoleInitiator)
	require.ErrorIs(t, err, errRejected)
	require.False(t, IsRetryable(err))

	var adapterErr *chain.AdapterError
	require.ErrorAs(t, err, &adapterErr)
	require.Equal(t, btcChain, adapterErr.Chain)
	require.Equal(t, Failed, order.Status)
	require.Contains(t, order.FailureReason, errRejected.Error())

	// The caller sees the order exactly as it was stored.
	stored, err = c.store.FetchOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, stored, order)
	require.Equal(t, PendingNone, stored.Initiator.Pending)

	// Final orders never change.
	_, err = c.orchestrator.SubmitLock(ctx, order.ID, RoleInitiator)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

// TestFailedClaimStatus tests that a permanently failed claim returns the
// stored Failed order.
func TestFailedClaimStatus(t *testing.T) {
	defer test.Guard(t)()

	c := newTestContext(t)
	defer c.stop()

	ctx := context.Background()
	order, committer := c.newBothLocked()
	preimage := committer.Preimage()

	errRejected := errors.New("contract reverted")
	c.eth.FailNext(simchain.OpClaim, errRejected)

	order, err := c.orchestrator.ClaimWithPreimage(
		ctx, order.ID, preimage[:],
	)
	require.ErrorIs(t, err, errRejected)
	require.Equal(t, Failed, order.Status)

	stored, err := c.store.FetchOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, stored, order)
}

// TestLockNotObserved tests that a lock the ledger loses fails the order.
func TestLockNotObserved(t *testing.T) {
	defer test.Guard(t)()

	c := newTestContext(t)
	defer c.stop()

	ctx := context.Background()

	order, _, err := c.orchestrator.InitiateSwap(
		ctx, testRequest(48*time.Hour, 24*time.Hour),
	)
	require.NoError(t, err)

	_, err = c.orchestrator.AcceptSwap(ctx, order.ID)
	require.NoError(t, err)

	order, err = c.orchestrator.SubmitLock(ctx, order.ID, RoleInitiator)
	require.NoError(t, err)

	c.btc.Drop(order.Initiator.LockTxRef)

	order = c.waitForStatus(order, Failed)
	require.Contains(t, order.FailureReason, ErrLockNotObserved.Error())
}

// TestConcurrentClaims tests that concurrent claims submit exactly one chain
// transaction.
func TestConcurrentClaims(t *testing.T) {
	defer test.Guard(t)()

	var blocking *blockingAdapter
	c := newTestContextWithEth(t, func(eth *simchain.Chain) chain.Adapter {
		blocking = &blockingAdapter{
			Chain:   eth,
			entered: make(chan struct{}),
			release: make(chan struct{}),
		}

		return blocking
	})
	defer c.stop()

	ctx := context.Background()
	order, committer := c.newBothLocked()
	preimage := committer.Preimage()

	errChan := make(chan error, 1)
	go func() {
		_, err := c.orchestrator.ClaimWithPreimage(
			ctx, order.ID, preimage[:],
		)
		errChan <- err
	}()

	test.Receive(t, blocking.entered)

	// The first claim is in flight, the second one is turned away.
	_, err := c.orchestrator.ClaimWithPreimage(ctx, order.ID, preimage[:])
	require.ErrorIs(t, err, ErrOrderBusy)
	require.True(t, IsRetryable(err))

	// A refund can't sneak in either. The simulated ledger still sees the
	// old time, the claim was checked against it already.
	c.clock.SetTime(testTime.Add(24 * time.Hour))
	_, err = c.orchestrator.Refund(ctx, order.ID, RoleCounterparty)
	require.ErrorIs(t, err, ErrOrderBusy)
	c.clock.SetTime(testTime.Add(time.Hour))

	close(blocking.release)
	require.NoError(t, test.Receive(t, errChan))

	_, err = c.orchestrator.ClaimWithPreimage(ctx, order.ID, preimage[:])
	require.ErrorIs(t, err, ErrAlreadyCompleted)

	blocking.mu.Lock()
	require.Equal(t, 1, blocking.claims)
	blocking.mu.Unlock()
}

// TestLostLockReply tests that a lock whose reply was lost is never submitted
// twice and blocks closing the order until it's resolved.
func TestLostLockReply(t *testing.T) {
	defer test.Guard(t, test.WithGuardTimeout(10*time.Second))()

	var lossy *lostReplyAdapter
	c := newTestContextWithEth(t, func(eth *simchain.Chain) chain.Adapter {
		lossy = &lostReplyAdapter{Chain: eth}
		return lossy
	})

	ctx := context.Background()

	// The initiator locks on the lossy chain.
	req := testRequest(48*time.Hour, 24*time.Hour)
	req.Initiator, req.Counterparty = req.Counterparty, req.Initiator

	order, _, err := c.orchestrator.InitiateSwap(ctx, req)
	require.NoError(t, err)

	_, err = c.orchestrator.AcceptSwap(ctx, order.ID)
	require.NoError(t, err)

	order, err = c.orchestrator.SubmitLock(ctx, order.ID, RoleInitiator)
	require.ErrorIs(t, err, ErrSubmissionPending)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.False(t, IsRetryable(err))
	require.Equal(t, WaitingLocks, order.Status)
	require.Empty(t, order.Initiator.LockTxRef)
	require.Equal(t, PendingLock, order.Initiator.Pending)

	stored, err := c.store.FetchOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, stored, order)

	_, err = c.orchestrator.SubmitLock(ctx, order.ID, RoleInitiator)
	require.ErrorIs(t, err, ErrSubmissionPending)

	// The marker survives a restart.
	c.stop()
	c.start()
	defer c.stop()

	_, err = c.orchestrator.SubmitLock(ctx, order.ID, RoleInitiator)
	require.ErrorIs(t, err, ErrSubmissionPending)
	require.Len(t, lossy.submitted(), 1)

	// The order can't be closed as if nothing was locked.
	_, err = c.orchestrator.CancelSwap(ctx, order.ID)
	require.ErrorIs(t, err, ErrSubmissionPending)

	c.clock.SetTime(testTime.Add(48 * time.Hour))

	_, err = c.orchestrator.Refund(ctx, order.ID, RoleInitiator)
	require.ErrorIs(t, err, ErrSubmissionPending)

	order, err = c.orchestrator.Refund(ctx, order.ID, RoleCounterparty)
	require.ErrorIs(t, err, ErrSubmissionPending)
	require.Equal(t, WaitingLocks, order.Status)

	// The operator found the lock on chain. It's watched like any other
	// lock and refunded after its timelock.
	order, err = c.orchestrator.ResolveSubmission(
		ctx, order.ID, RoleInitiator, lossy.submitted()[0],
	)
	require.NoError(t, err)
	require.Equal(t, lossy.submitted()[0], order.Initiator.LockTxRef)
	require.Equal(t, PendingNone, order.Initiator.Pending)

	c.eth.Mine(ethConfs)
	c.waitForStatus(order, InitiatorLocked)

	order, err = c.orchestrator.Refund(ctx, order.ID, RoleInitiator)
	require.NoError(t, err)
	require.Equal(t, Refunded, order.Status)
	require.NotEmpty(t, order.Initiator.RefundTxRef)
	require.Len(t, lossy.submitted(), 1)
}

// TestResolveSubmission tests settling submissions that never reached the
// ledger.
func TestResolveSubmission(t *testing.T) {
	defer test.Guard(t)()

	c := newTestContext(t)
	defer c.stop()

	ctx := context.Background()
	order, committer := c.newBothLocked()
	preimage := committer.Preimage()

	// Nothing to resolve yet.
	_, err := c.orchestrator.ResolveSubmission(
		ctx, order.ID, RoleCounterparty, "",
	)
	require.ErrorIs(t, err, ErrInvalidTransition)

	c.eth.FailNext(simchain.OpClaim, chain.ErrOutcomeUnknown)

	order, err = c.orchestrator.ClaimWithPreimage(
		ctx, order.ID, preimage[:],
	)
	require.ErrorIs(t, err, ErrSubmissionPending)
	require.Equal(t, BothLocked, order.Status)
	require.Equal(t, PendingClaim, order.Counterparty.Pending)

	_, err = c.orchestrator.ClaimWithPreimage(ctx, order.ID, preimage[:])
	require.ErrorIs(t, err, ErrSubmissionPending)

	stored, err := c.store.FetchOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, PendingClaim, stored.Counterparty.Pending)

	// The claim never made it to the ledger, so it may be sent again.
	order, err = c.orchestrator.ResolveSubmission(
		ctx, order.ID, RoleCounterparty, "",
	)
	require.NoError(t, err)
	require.Equal(t, BothLocked, order.Status)
	require.Equal(t, PendingNone, order.Counterparty.Pending)

	order, err = c.orchestrator.ClaimWithPreimage(
		ctx, order.ID, preimage[:],
	)
	require.NoError(t, err)
	require.Equal(t, PreimageRevealed, order.Status)

	// A claim the ledger accepted without reply is recorded by the
	// operator.
	c.btc.FailNext(simchain.OpClaim, chain.ErrOutcomeUnknown)

	order, err = c.orchestrator.ClaimRevealed(ctx, order.ID)
	require.ErrorIs(t, err, ErrSubmissionPending)
	require.Equal(t, PendingClaim, order.Initiator.Pending)

	order, err = c.orchestrator.ResolveSubmission(
		ctx, order.ID, RoleInitiator, "btc-claim",
	)
	require.NoError(t, err)
	require.Equal(t, Completed, order.Status)
	require.Equal(t, chain.TxRef("btc-claim"), order.Initiator.ClaimTxRef)

	stored, err = c.store.FetchOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, stored, order)
}

// TestRestartRecovery tests that a restarted orchestrator resumes watching
// recorded locks.
func TestRestartRecovery(t *testing.T) {
	defer test.Guard(t)()

	c := newTestContext(t)

	ctx := context.Background()

	order, _, err := c.orchestrator.InitiateSwap(
		ctx, testRequest(48*time.Hour, 24*time.Hour),
	)
	require.NoError(t, err)

	_, err = c.orchestrator.AcceptSwap(ctx, order.ID)
	require.NoError(t, err)

	order, err = c.orchestrator.SubmitLock(ctx, order.ID, RoleInitiator)
	require.NoError(t, err)

	c.stop()

	// The lock confirms while the orchestrator is down.
	c.btc.Mine(btcConfs)

	_, err = c.orchestrator.RecordLock(ctx, order.ID, RoleInitiator, "tx")
	require.ErrorIs(t, err, ErrNotRunning)

	c.start()
	defer c.stop()

	order = c.waitForStatus(order, InitiatorLocked)
	require.NotNil(t, order.Committer)
}

// TestVersionConflict tests that a concurrent write by another process is
// detected and the order is reloaded afterwards.
func TestVersionConflict(t *testing.T) {
	defer test.Guard(t)()

	c := newTestContext(t)
	defer c.stop()

	ctx := context.Background()

	order, _, err := c.orchestrator.InitiateSwap(
		ctx, testRequest(48*time.Hour, 24*time.Hour),
	)
	require.NoError(t, err)

	c.store.bumpVersion(order.ID)

	order, err = c.orchestrator.AcceptSwap(ctx, order.ID)
	require.ErrorIs(t, err, ErrVersionConflict)
	require.True(t, IsRetryable(err))
	require.Equal(t, Created, order.Status)

	order, err = c.orchestrator.AcceptSwap(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, WaitingLocks, order.Status)
	require.EqualValues(t, 2, order.Version)
}

// TestStoreFailure tests that a failed write leaves the order untouched.
func TestStoreFailure(t *testing.T) {
	defer test.Guard(t)()

	c := newTestContext(t)
	defer c.stop()

	ctx := context.Background()

	order, _, err := c.orchestrator.InitiateSwap(
		ctx, testRequest(48*time.Hour, 24*time.Hour),
	)
	require.NoError(t, err)

	errDisk := errors.New("disk full")
	c.store.failUpdate = errDisk

	order, err = c.orchestrator.AcceptSwap(ctx, order.ID)
	require.ErrorIs(t, err, errDisk)
	require.Equal(t, Created, order.Status)
}

// TestRegisterSwap tests the counterparty side of a swap, which only knows
// the hash.
func TestRegisterSwap(t *testing.T) {
	defer test.Guard(t)()

	c := newTestContext(t)
	defer c.stop()

	ctx := context.Background()

	committer, err := hashlock.Generate()
	require.NoError(t, err)

	order, err := c.orchestrator.RegisterSwap(
		ctx, testRequest(48*time.Hour, 24*time.Hour), committer.Hash(),
	)
	require.NoError(t, err)
	require.Nil(t, order.Committer)
	require.Equal(t, committer.Hash(), order.Hash())

	// The same hash can't be used twice.
	_, err = c.orchestrator.RegisterSwap(
		ctx, testRequest(48*time.Hour, 24*time.Hour), committer.Hash(),
	)
	require.ErrorIs(t, err, ErrOrderExists)

	_, err = c.orchestrator.RegisterSwap(
		ctx, testRequest(48*time.Hour, 24*time.Hour), lntypes.ZeroHash,
	)
	require.ErrorIs(t, err, hashlock.ErrZeroHash)
}

// TestSubscribeSwapUpdates tests that subscribers receive order updates.
func TestSubscribeSwapUpdates(t *testing.T) {
	defer test.Guard(t)()

	c := newTestContext(t)
	defer c.stop()

	subCtx, cancel := context.WithCancel(context.Background())
	updates, err := c.orchestrator.SubscribeSwapUpdates(subCtx)
	require.NoError(t, err)

	order, _, err := c.orchestrator.InitiateSwap(
		context.Background(), testRequest(48*time.Hour, 24*time.Hour),
	)
	require.NoError(t, err)

	_, err = c.orchestrator.AcceptSwap(context.Background(), order.ID)
	require.NoError(t, err)

	update := test.Receive(t, updates)
	require.Equal(t, order.ID, update.ID)
	require.Equal(t, Created, update.Status)

	update = test.Receive(t, updates)
	require.Equal(t, WaitingLocks, update.Status)

	cancel()

	// The channel is closed after cancellation.
	for range updates {
	}
}

// TestMonotonicClock tests that time never goes backwards.
func TestMonotonicClock(t *testing.T) {
	testClock := clock.NewTestClock(testTime)
	monotonic := NewMonotonicClock(testClock)

	require.Equal(t, testTime, monotonic.Now())

	testClock.SetTime(testTime.Add(-time.Hour))
	require.Equal(t, testTime, monotonic.Now())

	testClock.SetTime(testTime.Add(time.Hour))
	require.Equal(t, testTime.Add(time.Hour), monotonic.Now())
}
