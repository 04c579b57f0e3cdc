package main

import (
	"fmt"
	"os"

	"github.com/swapbridge/swapbridge/swapd"
	"github.com/swapbridge/swapbridge/swapdb"
	"github.com/urfave/cli"
)

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[swapcli] %v\n", err)
	os.Exit(1)
}

func main() {
	app := cli.NewApp()

	app.Version = swapd.Version()
	app.Name = "swapcli"
	app.Usage = "inspect the swap database of a stopped swapd"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "swapdir",
			Value: swapd.SwapDirBase,
			Usage: "path to swapd's base directory",
		},
		cli.StringFlag{
			Name:  "configfile",
			Usage: "path to swapd's config file, defaults to " +
				"swapd.conf in the swap directory",
		},
	}
	app.Commands = []cli.Command{
		listSwapsCommand, showSwapCommand, migrateDBCommand,
	}

	err := app.Run(os.Args)
	if err != nil {
		fatal(err)
	}
}

// getConfig loads the swapd config the global flags point to.
func getConfig(ctx *cli.Context) (*swapd.Config, error) {
	swapDir := ctx.GlobalString("swapdir")
	if swapDir == swapd.SwapDirBase {
		swapDir = ""
	}

	return swapd.LoadConfig(swapDir, ctx.GlobalString("configfile"))
}

// getStore opens the configured swap database.
func getStore(ctx *cli.Context) (swapdb.SwapStore, func(), error) {
	cfg, err := getConfig(ctx)
	if err != nil {
		return nil, nil, err
	}

	store, err := swapd.OpenDatabase(cfg)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() { _ = store.Close() }

	return store, cleanup, nil
}
