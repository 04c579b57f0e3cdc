//go:build !test_db_postgres
// +build !test_db_postgres

package swapdb

import (
	"testing"
)

// testDBType names the SQL backend the store tests run against. The
// test_db_postgres build tag switches it to Postgres.
const testDBType = "sqlite"

// NewTestDB opens an empty SQLite swap store that's closed when the test
// ends.
func NewTestDB(t *testing.T) SwapStore {
	return NewTestSqliteDB(t)
}
