package swapd

import (
	"context"
	"fmt"

	"github.com/swapbridge/swapbridge/swap"
)

const (
	// demoInitiatorAmount is the amount the initiator locks in a demo
	// swap, in the smallest unit of the first chain's native currency.
	demoInitiatorAmount = 100_000

	// demoCounterpartyAmount is the amount the counterparty locks in a
	// demo swap.
	demoCounterpartyAmount = 2_000_000
)

// runDemoSwaps drives the configured number of swaps between the first two
// simulated chains, playing both parties.
func (d *Daemon) runDemoSwaps(ctx context.Context) error {
	params, err := d.cfg.chainParams()
	if err != nil {
		return err
	}

	// The demo follows the configuration order of the chains.
	initiatorChain, counterpartyChain := params[0].ID, params[1].ID

	log.Infof("Running %d demo swaps %v -> %v", d.cfg.Simulate.DemoSwaps,
		initiatorChain, counterpartyChain)

	// Timelocks that satisfy the safety margin.
	margin := d.cfg.SafetyMargin
	req := &swap.Request{
		Initiator: swap.Party{
			Chain:   initiatorChain,
			Address: "demo-initiator",
			Amount:  demoInitiatorAmount,
		},
		Counterparty: swap.Party{
			Chain:   counterpartyChain,
			Address: "demo-counterparty",
			Amount:  demoCounterpartyAmount,
		},
		InitiatorTimelock:    4 * margin,
		CounterpartyTimelock: 2 * margin,
	}

	for i := 0; i < d.cfg.Simulate.DemoSwaps; i++ {
		order, err := d.runDemoSwap(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			return fmt.Errorf("demo swap %d failed: %w", i, err)
		}

		log.Infof("Demo swap %v completed: %v", swap.ShortID(order.ID),
			order)
	}

	return nil
}

// runDemoSwap drives a single swap from creation to completion.
func (d *Daemon) runDemoSwap(ctx context.Context,
	req *swap.Request) (*swap.Order, error) {

	o := d.orchestrator
	maxWait := d.cfg.Watcher.MaxWait

	order, committer, err := o.InitiateSwap(ctx, req)
	if err != nil {
		return nil, err
	}

	if _, err := o.AcceptSwap(ctx, order.ID); err != nil {
		return nil, err
	}

	_, err = o.SubmitLock(ctx, order.ID, swap.RoleInitiator)
	if err != nil {
		return nil, err
	}

	_, err = o.WaitForStatus(ctx, order.ID, swap.InitiatorLocked, maxWait)
	if err != nil {
		return nil, err
	}

	_, err = o.SubmitLock(ctx, order.ID, swap.RoleCounterparty)
	if err != nil {
		return nil, err
	}

	_, err = o.WaitForStatus(ctx, order.ID, swap.BothLocked, maxWait)
	if err != nil {
		return nil, err
	}

	preimage := committer.Preimage()
	_, err = o.ClaimWithPreimage(ctx, order.ID, preimage[:])
	if err != nil {
		return nil, err
	}

	return o.ClaimRevealed(ctx, order.ID)
}
