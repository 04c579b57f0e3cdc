package swapd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/swapbridge/swapbridge/swap"
)

// view prints all swaps in the database.
func view(cfg *Config) error {
	store, err := openDatabase(cfg, clock.NewDefaultClock())
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	orders, err := store.FetchOrders(ctx)
	if err != nil {
		return err
	}

	return PrintOrders(ctx, os.Stdout, store, orders)
}

// PrintOrders writes the orders together with their journal to w.
func PrintOrders(ctx context.Context, w io.Writer, store swap.Store,
	orders []*swap.Order) error {

	for _, o := range orders {
		updates, err := store.FetchUpdates(ctx, o.ID)
		if err != nil {
			return err
		}

		printOrder(w, o)
		for i, u := range updates {
			fmt.Fprintf(w, "   Update %v, Time %v, State: %v, "+
				"Event: %v\n", i, u.Time, u.State, u.Event)
		}
		fmt.Fprintln(w)
	}

	return nil
}

func printOrder(w io.Writer, o *swap.Order) {
	fmt.Fprintf(w, "SWAP %v\n", o.ID)
	fmt.Fprintf(w, "   Created: %v\n", o.CreatedAt)
	fmt.Fprintf(w, "   Hash: %v\n", o.Hash())
	fmt.Fprintf(w, "   Status: %v (version %v)\n", o.Status, o.Version)
	if o.FailureReason != "" {
		fmt.Fprintf(w, "   Failure: %v\n", o.FailureReason)
	}

	printParty(w, "Initiator", &o.Initiator, o.InitiatorTimelock.String())
	printParty(
		w, "Counterparty", &o.Counterparty,
		o.CounterpartyTimelock.String(),
	)

	if o.RevealedPreimage != nil {
		fmt.Fprintf(w, "   Revealed preimage: %v\n", o.RevealedPreimage)
	}
}

func printParty(w io.Writer, name string, p *swap.Party, timelock string) {
	fmt.Fprintf(w, "   %v: %v %v on %v to %v\n", name, p.Amount, p.Asset,
		p.Chain, p.Address)
	fmt.Fprintf(w, "      Timelock: %v\n", timelock)

	if p.LockTxRef != "" {
		fmt.Fprintf(w, "      Lock: %v\n", p.LockTxRef)
	}
	if p.ClaimTxRef != "" {
		fmt.Fprintf(w, "      Claim: %v\n", p.ClaimTxRef)
	}
	if p.RefundTxRef != "" {
		fmt.Fprintf(w, "      Refund: %v\n", p.RefundTxRef)
	}
	if p.Pending != swap.PendingNone {
		fmt.Fprintf(w, "      Pending %v, outcome unknown\n", p.Pending)
	}
}
