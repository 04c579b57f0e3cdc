package swapd

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/swapbridge/swapbridge/swap"
)

// newTestConfig returns a validated config with two chains that keeps all
// data in a temporary directory.
func newTestConfig(t *testing.T) *Config {
	t.Helper()

	cfg := DefaultConfig()
	cfg.SwapDir = t.TempDir()
	cfg.SafetyMargin = time.Hour
	cfg.CallTimeout = time.Second
	cfg.SweepInterval = 50 * time.Millisecond
	cfg.Chains = []string{"alpha:utxo:1", "beta:evm:2"}
	cfg.Watcher.PollInterval = 10 * time.Millisecond
	cfg.Watcher.MaxWait = 10 * time.Second
	cfg.Watcher.InitialBackoff = 10 * time.Millisecond
	cfg.Watcher.MaxBackoff = 50 * time.Millisecond

	require.NoError(t, Validate(&cfg))

	return &cfg
}

// TestDaemonSimulatedSwap runs the daemon on simulated chains and checks
// that the demo swap completes and survives a restart.
func TestDaemonSimulatedSwap(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Simulate.Enable = true
	cfg.Simulate.BlockInterval = 10 * time.Millisecond
	cfg.Simulate.DemoSwaps = 1

	daemon := New(cfg, nil)
	require.NoError(t, daemon.Start())

	ctx := context.Background()
	require.Eventually(t, func() bool {
		orders, err := daemon.Orchestrator().ListSwaps(ctx)
		if err != nil || len(orders) != 1 {
			return false
		}

		return orders[0].Status == swap.Completed
	}, 10*time.Second, 20*time.Millisecond)

	daemon.Stop()
	require.NoError(t, <-daemon.ErrChan)

	// The completed order is read back from the database.
	store, err := OpenDatabase(cfg)
	require.NoError(t, err)
	defer store.Close()

	orders, err := store.FetchOrders(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 1)

	order := orders[0]
	require.Equal(t, swap.Completed, order.Status)
	require.NotEmpty(t, order.Initiator.LockTxRef)
	require.NotEmpty(t, order.Initiator.ClaimTxRef)
	require.NotEmpty(t, order.Counterparty.LockTxRef)
	require.NotEmpty(t, order.Counterparty.ClaimTxRef)
	require.NotNil(t, order.RevealedPreimage)

	updates, err := store.FetchUpdates(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, swap.Created, updates[0].State)
	require.Equal(t, swap.Completed, updates[len(updates)-1].State)
}

// TestDaemonNoAdapter asserts that the daemon refuses to start without
// adapters outside of simulation mode.
func TestDaemonNoAdapter(t *testing.T) {
	cfg := newTestConfig(t)

	daemon := New(cfg, nil)
	err := daemon.Start()
	require.True(t, errors.Is(err, ErrNoAdapter))
}

// TestDaemonStartTwice asserts that a daemon can only be started once.
func TestDaemonStartTwice(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Simulate.Enable = true

	daemon := New(cfg, nil)
	require.NoError(t, daemon.Start())
	require.Error(t, daemon.Start())

	daemon.Stop()
	require.NoError(t, <-daemon.ErrChan)
}
