package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/swapbridge/swapbridge/swap"
	"github.com/swapbridge/swapbridge/swapd"
	"github.com/urfave/cli"
)

var listSwapsCommand = cli.Command{
	Name:  "listswaps",
	Usage: "list all swaps in the local database",
	Description: "Allows the user to get a list of all swaps that are " +
		"currently stored in the database",
	Flags: []cli.Flag{
		cli.BoolFlag{
			Name:  "pending",
			Usage: "only list swaps that are not in a final state",
		},
	},
	Action: listSwaps,
}

func listSwaps(ctx *cli.Context) error {
	store, cleanup, err := getStore(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	var orders []*swap.Order
	if ctx.Bool("pending") {
		orders, err = store.FetchPendingOrders(context.Background())
	} else {
		orders, err = store.FetchOrders(context.Background())
	}
	if err != nil {
		return err
	}

	for _, o := range orders {
		fmt.Printf("%v %v\n", o.ID, o)
	}

	return nil
}

var showSwapCommand = cli.Command{
	Name:      "showswap",
	Usage:     "show a swap together with its history",
	ArgsUsage: "id",
	Description: "Allows the user to get the status and the journal of " +
		"a single swap currently stored in the database",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "id",
			Usage: "the ID of the swap",
		},
	},
	Action: showSwap,
}

func showSwap(ctx *cli.Context) error {
	var id string
	switch {
	case ctx.IsSet("id"):
		id = ctx.String("id")
	case ctx.NArg() > 0:
		id = ctx.Args().First()
	default:
		// Show command help if no arguments and flags were provided.
		return cli.ShowCommandHelp(ctx, "showswap")
	}

	swapID, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("invalid swap ID: %w", err)
	}

	store, cleanup, err := getStore(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	order, err := store.FetchOrder(context.Background(), swapID)
	if err != nil {
		return err
	}

	return swapd.PrintOrders(
		context.Background(), os.Stdout, store, []*swap.Order{order},
	)
}
