package watcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/swapbridge/swapbridge/chain"
	"github.com/swapbridge/swapbridge/test"
)

const testChain chain.ID = "bitcoin"

var (
	testTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	testTx   = chain.TxRef("aa")
	errRPC   = errors.New("rpc unavailable")
)

func setup(t *testing.T, clk clock.Clock) (*Watcher, *test.MockAdapter) {
	adapter := &test.MockAdapter{}

	registry := chain.NewRegistry()
	require.NoError(t, registry.Register(chain.Params{
		ID:                    testChain,
		Type:                  chain.TypeUTXO,
		RequiredConfirmations: 3,
	}, adapter))

	w, err := New(&Config{
		Chains:           registry,
		Clock:            clk,
		PollInterval:     time.Millisecond,
		MaxWait:          time.Minute,
		MaxRetries:       2,
		MaxNotFoundPolls: 3,
		InitialBackoff:   time.Millisecond,
		MaxBackoff:       2 * time.Millisecond,
		CallTimeout:      time.Second,
	})
	require.NoError(t, err)

	return w, adapter
}

func request() Request {
	return Request{
		Chain:         testChain,
		TxRef:         testTx,
		RequiredConfs: 3,
	}
}

// TestConfirmed tests that the watcher keeps polling until the depth is
// reached and emits exactly one event.
func TestConfirmed(t *testing.T) {
	defer test.Guard(t)()

	w, adapter := setup(t, clock.NewDefaultClock())

	adapter.On("GetConfirmations", mock.Anything, testTx).
		Return(uint32(0), nil).Once()
	adapter.On("GetConfirmations", mock.Anything, testTx).
		Return(uint32(2), nil).Once()
	adapter.On("GetConfirmations", mock.Anything, testTx).
		Return(uint32(4), nil).Once()

	events := w.Watch(context.Background(), request())

	event := test.Receive(t, events)
	require.NoError(t, event.Err)
	require.EqualValues(t, 4, event.Confirmations)
	require.Equal(t, request(), event.Request)

	// The channel is closed after the single event.
	_, ok := <-events
	require.False(t, ok)

	adapter.AssertExpectations(t)
}

// TestTransientRetry tests that transient failures are retried and reset
// once a poll succeeds.
func TestTransientRetry(t *testing.T) {
	defer test.Guard(t)()

	w, adapter := setup(t, clock.NewDefaultClock())

	transient := chain.NewTransientError(testChain, "confirmations", errRPC)

	adapter.On("GetConfirmations", mock.Anything, testTx).
		Return(uint32(0), transient).Twice()
	adapter.On("GetConfirmations", mock.Anything, testTx).
		Return(uint32(1), nil).Once()
	adapter.On("GetConfirmations", mock.Anything, testTx).
		Return(uint32(0), transient).Twice()
	adapter.On("GetConfirmations", mock.Anything, testTx).
		Return(uint32(3), nil).Once()

	confs, err := w.WaitForConfirmations(context.Background(), request())
	require.NoError(t, err)
	require.EqualValues(t, 3, confs)

	adapter.AssertExpectations(t)
}

// TestRetriesExhausted tests that too many consecutive transient failures
// surface as ErrLockNotObserved.
func TestRetriesExhausted(t *testing.T) {
	defer test.Guard(t)()

	w, adapter := setup(t, clock.NewDefaultClock())

	transient := chain.NewTransientError(testChain, "confirmations", errRPC)
	adapter.On("GetConfirmations", mock.Anything, testTx).
		Return(uint32(0), transient).Times(3)

	_, err := w.WaitForConfirmations(context.Background(), request())
	require.ErrorIs(t, err, ErrLockNotObserved)
	require.ErrorIs(t, err, errRPC)

	// The adapter failure stays inspectable for operators.
	var adapterErr *chain.AdapterError
	require.ErrorAs(t, err, &adapterErr)
	require.Equal(t, testChain, adapterErr.Chain)
	require.Equal(t, "confirmations", adapterErr.Op)

	adapter.AssertExpectations(t)
}

// TestNotFound tests that a transaction the ledger doesn't know about is
// reported as not observed after the configured number of polls.
func TestNotFound(t *testing.T) {
	defer test.Guard(t)()

	w, adapter := setup(t, clock.NewDefaultClock())

	adapter.On("GetConfirmations", mock.Anything, testTx).
		Return(uint32(0), chain.ErrTxNotFound).Times(3)

	_, err := w.WaitForConfirmations(context.Background(), request())
	require.ErrorIs(t, err, ErrLockNotObserved)

	adapter.AssertExpectations(t)
}

// TestPermanentError tests that permanent adapter errors surface
// immediately.
func TestPermanentError(t *testing.T) {
	defer test.Guard(t)()

	w, adapter := setup(t, clock.NewDefaultClock())

	adapter.On("GetConfirmations", mock.Anything, testTx).
		Return(uint32(0), errRPC).Once()

	_, err := w.WaitForConfirmations(context.Background(), request())
	require.ErrorIs(t, err, errRPC)
	require.NotErrorIs(t, err, ErrLockNotObserved)

	var adapterErr *chain.AdapterError
	require.ErrorAs(t, err, &adapterErr)
	require.False(t, adapterErr.Transient)

	adapter.AssertExpectations(t)
}

// TestMaxWait tests that the watcher gives up once the maximum wait elapsed
// on its clock.
func TestMaxWait(t *testing.T) {
	defer test.Guard(t)()

	tickSignal := make(chan time.Duration)
	testClock := clock.NewTestClockWithTickSignal(testTime, tickSignal)

	w, adapter := setup(t, testClock)
	w.cfg.PollInterval = 20 * time.Second

	adapter.On("GetConfirmations", mock.Anything, testTx).
		Return(uint32(1), nil)

	errChan := make(chan error, 1)
	go func() {
		_, err := w.WaitForConfirmations(
			context.Background(), request(),
		)
		errChan <- err
	}()

	// Every poll waits for one interval, advance the clock each time the
	// watcher goes to sleep. After three intervals the minute is up.
	now := testTime
	for i := 0; i < 3; i++ {
		d := test.Receive(t, tickSignal)
		require.Equal(t, 20*time.Second, d)

		now = now.Add(d)
		testClock.SetTime(now)
	}

	err := test.Receive(t, errChan)
	require.ErrorIs(t, err, ErrLockNotObserved)
}

// TestCancel tests that watching stops when the context is cancelled.
func TestCancel(t *testing.T) {
	defer test.Guard(t)()

	w, adapter := setup(t, clock.NewDefaultClock())
	w.cfg.PollInterval = time.Hour

	adapter.On("GetConfirmations", mock.Anything, testTx).
		Return(uint32(0), nil)

	ctx, cancel := context.WithCancel(context.Background())
	events := w.Watch(ctx, request())

	cancel()

	event := test.Receive(t, events)
	require.ErrorIs(t, event.Err, context.Canceled)
}

// TestUnknownChain tests that requests for unregistered chains fail.
func TestUnknownChain(t *testing.T) {
	w, _ := setup(t, clock.NewDefaultClock())

	req := request()
	req.Chain = "solana"

	_, err := w.WaitForConfirmations(context.Background(), req)
	require.ErrorIs(t, err, chain.ErrUnknownChain)
}

// TestConfigValidate tests config validation.
func TestConfigValidate(t *testing.T) {
	_, err := New(&Config{})
	require.Error(t, err)
}
