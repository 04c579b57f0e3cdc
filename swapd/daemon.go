package swapd

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/swapbridge/swapbridge/chain"
	"github.com/swapbridge/swapbridge/chain/simchain"
	"github.com/swapbridge/swapbridge/enforcer"
	"github.com/swapbridge/swapbridge/swap"
	"github.com/swapbridge/swapbridge/swapdb"
	"github.com/swapbridge/swapbridge/watcher"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrNoAdapter is returned if a configured chain has no adapter and
	// the daemon doesn't run in simulation mode.
	ErrNoAdapter = errors.New("no chain adapter")
)

// Daemon is the swap daemon. It recovers pending orders on startup, watches
// lock transactions and refunds expired legs until it's stopped.
type Daemon struct {
	// To be used atomically. Declared first to optimize for alignment.
	started int32
	stopped int32

	cfg *Config

	// adapters are the chain adapters provided by the embedding
	// application.
	adapters map[chain.ID]chain.Adapter

	clock clock.Clock

	// ErrChan is an error channel that users of the Daemon struct must use
	// to detect runtime errors and also whether a shutdown is fully
	// completed.
	ErrChan chan error

	store        swapdb.SwapStore
	registry     *chain.Registry
	simChains    []*simchain.Chain
	orchestrator *swap.Orchestrator
	enforcer     *enforcer.Enforcer

	mainCtxCancel func()

	wg sync.WaitGroup
}

// New creates a new instance of the swap daemon. Adapters for all configured
// chains must be passed unless the daemon runs in simulation mode.
func New(cfg *Config, adapters map[chain.ID]chain.Adapter) *Daemon {
	return &Daemon{
		cfg:      cfg,
		adapters: adapters,
		clock:    clock.NewDefaultClock(),
		ErrChan:  make(chan error, 1),
	}
}

// Orchestrator returns the orchestrator of a started daemon.
func (d *Daemon) Orchestrator() *swap.Orchestrator {
	return d.orchestrator
}

// Start starts the daemon and blocks until pending orders are recovered.
// Runtime errors are reported on ErrChan.
func (d *Daemon) Start() error {
	// There should be no reason to start the daemon twice. Therefore,
	// return an error if that's tried.
	if atomic.AddInt32(&d.started, 1) != 1 {
		return errors.New("daemon can only be started once")
	}

	store, err := openDatabase(d.cfg, d.clock)
	if err != nil {
		return err
	}
	d.store = store

	if err := d.initialize(); err != nil {
		_ = d.store.Close()
		return err
	}

	mainCtx, cancel := context.WithCancel(context.Background())
	d.mainCtxCancel = cancel

	group, ctx := errgroup.WithContext(mainCtx)
	initChan := make(chan struct{})

	group.Go(func() error {
		log.Infof("Starting swap orchestrator")
		err := d.orchestrator.Run(ctx, initChan)
		log.Infof("Swap orchestrator stopped")

		return err
	})

	for _, sim := range d.simChains {
		sim := sim
		group.Go(func() error {
			sim.Run(ctx, ticker.New(d.cfg.Simulate.BlockInterval))
			return nil
		})
	}

	// Only start the enforcer once pending orders are recovered.
	select {
	case <-initChan:

	case <-ctx.Done():
		cancel()
		err := group.Wait()
		_ = d.store.Close()

		if err == nil {
			err = errors.New("daemon stopped during startup")
		}

		return err
	}

	group.Go(func() error {
		return d.enforcer.Run(ctx)
	})

	if d.cfg.Simulate.Enable && d.cfg.Simulate.DemoSwaps > 0 {
		group.Go(func() error {
			return d.runDemoSwaps(ctx)
		})
	}

	log.Infof("Swap daemon started with chains %v", d.registry.Chains())

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		err := group.Wait()
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Errorf("Error running swap daemon: %v", err)
		}

		log.Infof("Closing swap store")
		if closeErr := d.store.Close(); closeErr != nil {
			log.Errorf("Error closing swap store: %v", closeErr)
		}

		if errors.Is(err, context.Canceled) {
			err = nil
		}

		d.ErrChan <- err
	}()

	return nil
}

// initialize creates the chain registry and the swap services.
func (d *Daemon) initialize() error {
	params, err := d.cfg.chainParams()
	if err != nil {
		return err
	}

	d.registry = chain.NewRegistry()
	for _, p := range params {
		adapter, ok := d.adapters[p.ID]
		switch {
		case d.cfg.Simulate.Enable:
			sim := simchain.New(p.ID, d.clock)
			d.simChains = append(d.simChains, sim)
			adapter = sim

			log.Infof("Simulating chain %v (%v, %v confirmations)",
				p.ID, p.Type, p.RequiredConfirmations)

		case !ok:
			return fmt.Errorf("%w for chain %v, run with "+
				"--simulate.enable to use a simulated ledger",
				ErrNoAdapter, p.ID)
		}

		if err := d.registry.Register(p, adapter); err != nil {
			return err
		}
	}

	lockWatcher, err := watcher.New(&watcher.Config{
		Chains:           d.registry,
		Clock:            d.clock,
		PollInterval:     d.cfg.Watcher.PollInterval,
		MaxWait:          d.cfg.Watcher.MaxWait,
		MaxRetries:       d.cfg.Watcher.MaxRetries,
		MaxNotFoundPolls: d.cfg.Watcher.MaxNotFoundPolls,
		InitialBackoff:   d.cfg.Watcher.InitialBackoff,
		MaxBackoff:       d.cfg.Watcher.MaxBackoff,
		CallTimeout:      d.cfg.CallTimeout,
	})
	if err != nil {
		return err
	}

	d.orchestrator, err = swap.NewOrchestrator(&swap.Config{
		Store:        d.store,
		Chains:       d.registry,
		Watcher:      lockWatcher,
		Clock:        d.clock,
		SafetyMargin: d.cfg.SafetyMargin,
		CallTimeout:  d.cfg.CallTimeout,
	})
	if err != nil {
		return err
	}

	d.enforcer, err = enforcer.New(&enforcer.Config{
		Swaps:  d.orchestrator,
		Clock:  d.clock,
		Ticker: ticker.New(d.cfg.SweepInterval),
	})

	return err
}

// Stop tries to gracefully shut down the daemon. The result of the shutdown
// is reported on ErrChan.
func (d *Daemon) Stop() {
	if atomic.AddInt32(&d.stopped, 1) != 1 {
		return
	}

	log.Infof("Stopping swap daemon")

	if d.mainCtxCancel != nil {
		d.mainCtxCancel()
	}

	d.wg.Wait()

	log.Infof("Swap daemon stopped")
}
