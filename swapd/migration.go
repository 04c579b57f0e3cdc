package swapd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/swapbridge/swapbridge/swapdb"
)

// openDatabase opens the configured order store.
func openDatabase(cfg *Config, clk clock.Clock) (swapdb.SwapStore, error) {
	var (
		db  swapdb.SwapStore
		err error
	)
	switch cfg.DatabaseBackend {
	case DatabaseBackendSqlite:
		log.Infof("Opening sqlite3 database at: %v",
			cfg.Sqlite.DatabaseFileName)
		db, err = swapdb.NewSqliteStore(cfg.Sqlite, clk)

	case DatabaseBackendPostgres:
		log.Infof("Opening postgres database at: %v",
			cfg.Postgres.DSN(true))
		db, err = swapdb.NewPostgresStore(cfg.Postgres, clk)

	case DatabaseBackendBolt:
		log.Infof("Opening bolt database in: %v", cfg.DataDir)
		db, err = swapdb.NewBoltSwapStore(cfg.DataDir, clk)

	default:
		return nil, fmt.Errorf("unknown database backend: %s",
			cfg.DatabaseBackend)
	}
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	return db, nil
}

// migrateBoltdb migrates the bolt database in the data directory to the
// configured sql backend.
func migrateBoltdb(ctx context.Context, cfg *Config, clk clock.Clock) error {
	boltdb, err := swapdb.NewBoltSwapStore(cfg.DataDir, clk)
	if err != nil {
		return err
	}
	defer boltdb.Close()

	db, err := openDatabase(cfg, clk)
	if err != nil {
		return err
	}
	defer db.Close()

	// Create a new migrator manager.
	migrator := swapdb.NewMigratorManager(boltdb, db)

	// Run the migration.
	err = migrator.RunMigrations(ctx)
	if err != nil {
		return err
	}

	// If the migration was successful we'll rename the bolt db so it
	// isn't migrated again.
	return os.Rename(
		filepath.Join(cfg.DataDir, swapdb.BoltFileName),
		filepath.Join(cfg.DataDir, swapdb.BoltFileName+".bk"),
	)
}

// needSqlMigration returns true if an sql backend is configured and a bolt
// database exists at its default location.
func needSqlMigration(cfg *Config) bool {
	if cfg.DatabaseBackend == DatabaseBackendBolt {
		return false
	}

	// First check if the data directory exists.
	if !fileExists(cfg.DataDir) {
		return false
	}

	// Now we'll check if the bolt db exists.
	return fileExists(filepath.Join(cfg.DataDir, swapdb.BoltFileName))
}

// fileExists reports whether the named file or directory exists.
func fileExists(name string) bool {
	if _, err := os.Stat(name); err != nil {
		if os.IsNotExist(err) {
			return false
		}
	}

	return true
}
