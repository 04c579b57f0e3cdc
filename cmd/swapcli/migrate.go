package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/swapbridge/swapbridge/swapd"
	"github.com/swapbridge/swapbridge/swapdb"
	"github.com/urfave/cli"
)

var migrateDBCommand = cli.Command{
	Name:  "migratedb",
	Usage: "copy all swaps of the bolt database to the sql backend",
	Description: "Moves all swaps of the bolt database in the data " +
		"directory to the configured sqlite or postgres database. " +
		"swapd runs the same migration on startup, the bolt database " +
		"is left untouched here.",
	Action: migrateDB,
}

func migrateDB(ctx *cli.Context) error {
	cfg, err := getConfig(ctx)
	if err != nil {
		return err
	}

	if cfg.DatabaseBackend == swapd.DatabaseBackendBolt {
		return fmt.Errorf("target backend must be sqlite or postgres")
	}

	boltPath := filepath.Join(cfg.DataDir, swapdb.BoltFileName)
	if _, err := os.Stat(boltPath); err != nil {
		return fmt.Errorf("no bolt database at %v: %w", boltPath, err)
	}

	boltdb, err := swapdb.NewBoltSwapStore(
		cfg.DataDir, clock.NewDefaultClock(),
	)
	if err != nil {
		return err
	}
	defer boltdb.Close()

	store, err := swapd.OpenDatabase(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	migrator := swapdb.NewMigratorManager(boltdb, store)
	if err := migrator.RunMigrations(context.Background()); err != nil {
		return err
	}

	fmt.Printf("Migrated swaps from %v to %v\n", cfg.DataDir,
		cfg.DatabaseBackend)

	return nil
}
