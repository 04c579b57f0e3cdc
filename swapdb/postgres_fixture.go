package swapdb

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
)

const (
	testPgHost   = "127.0.0.1"
	testPgUser   = "test"
	testPgPass   = "test"
	testPgDBName = "swaps"
)

// swapTables are the tables holding orders, the journal first since it
// references the orders.
var swapTables = []string{"swap_updates", "swap_orders"}

// TestPgFixture runs an embedded Postgres 15 server for the store tests.
type TestPgFixture struct {
	db   *sql.DB
	pg   *embeddedpostgres.EmbeddedPostgres
	port int

	expiry   *time.Timer
	stopOnce sync.Once
	stopErr  error
}

// NewTestPgFixture starts an embedded Postgres server. The server is stopped
// once lifetime passed, even if TearDown wasn't called yet.
func NewTestPgFixture(t *testing.T, lifetime time.Duration) *TestPgFixture {
	t.Helper()

	runtimePath := t.TempDir()
	port := freePort(t)

	pg := embeddedpostgres.NewDatabase(pgFixtureConfig(t, runtimePath, port))
	require.NoError(t, pg.Start(), "could not start embedded postgres")

	fixture := &TestPgFixture{
		pg:   pg,
		port: port,
	}

	if lifetime > 0 {
		fixture.expiry = time.AfterFunc(lifetime, func() {
			log.Warnf("Postgres fixture outlived %v, stopping it",
				lifetime)

			if err := fixture.stop(); err != nil {
				log.Errorf("Unable to stop postgres fixture: %v",
					err)
			}
		})
	}

	log.Infof("Connecting to postgres fixture on port %d", port)

	db, err := sql.Open("postgres", fixture.GetDSN())
	require.NoError(t, err)
	require.NoError(t, db.Ping(), "could not connect to embedded postgres")
	fixture.db = db

	return fixture
}

// pgFixtureConfig returns the config of a server listening on localhost only
// that logs every statement into its runtime path.
func pgFixtureConfig(t *testing.T, runtimePath string,
	port int) embeddedpostgres.Config {

	logDir := filepath.Join(runtimePath, "logs")
	require.NoError(t, os.MkdirAll(logDir, 0o755))

	return embeddedpostgres.DefaultConfig().
		Version(embeddedpostgres.V15).
		Database(testPgDBName).
		Username(testPgUser).
		Password(testPgPass).
		Port(uint32(port)).
		RuntimePath(runtimePath).
		StartParameters(map[string]string{
			"listen_addresses":  testPgHost,
			"log_statement":     "all",
			"log_destination":   "stderr",
			"logging_collector": "on",
			"log_directory":     logDir,
			"log_filename":      "postgres.log",
		})
}

// GetDSN returns the connection string of the server.
func (f *TestPgFixture) GetDSN() string {
	return f.GetConfig().DSN(false)
}

// GetConfig returns a store config pointing at the server.
func (f *TestPgFixture) GetConfig() *PostgresConfig {
	return &PostgresConfig{
		Host:     testPgHost,
		Port:     f.port,
		User:     testPgUser,
		Password: testPgPass,
		DBName:   testPgDBName,
	}
}

// Reset deletes all orders and their journal. The schema and its migration
// version are kept, so a store opened before stays usable.
func (f *TestPgFixture) Reset(t *testing.T) {
	t.Helper()

	_, err := f.db.ExecContext(
		context.Background(),
		"TRUNCATE "+strings.Join(swapTables, ", ")+" RESTART IDENTITY",
	)
	require.NoError(t, err)
}

// RowCount returns the number of rows of one of the swap tables.
func (f *TestPgFixture) RowCount(t *testing.T, table string) int {
	t.Helper()

	require.Contains(t, swapTables, table)

	var count int
	err := f.db.QueryRowContext(
		context.Background(), fmt.Sprintf("SELECT COUNT(*) FROM %s",
			table),
	).Scan(&count)
	require.NoError(t, err)

	return count
}

// TearDown stops the server and closes the fixture's connection.
func (f *TestPgFixture) TearDown(t *testing.T) {
	require.NoError(t, f.stop())
}

// stop closes the connection and stops the server once.
func (f *TestPgFixture) stop() error {
	if f.expiry != nil {
		f.expiry.Stop()
	}

	f.stopOnce.Do(func() {
		if f.db != nil {
			if err := f.db.Close(); err != nil {
				f.stopErr = fmt.Errorf("close connection: %w",
					err)
			}
		}

		if err := f.pg.Stop(); err != nil && f.stopErr == nil {
			f.stopErr = fmt.Errorf("stop postgres: %w", err)
		}
	})

	return f.stopErr
}

// freePort returns a TCP port that's currently unused on localhost.
func freePort(t *testing.T) int {
	listener, err := net.Listen("tcp", testPgHost+":0")
	require.NoError(t, err)
	defer func() {
		require.NoError(t, listener.Close())
	}()

	return listener.Addr().(*net.TCPAddr).Port
}
