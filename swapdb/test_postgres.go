//go:build test_db_postgres
// +build test_db_postgres

package swapdb

import (
	"testing"
)

// testDBType names the SQL backend the store tests run against.
const testDBType = "postgres"

// NewTestDB opens an empty swap store on its own embedded Postgres server.
// Both are stopped when the test ends.
func NewTestDB(t *testing.T) SwapStore {
	return NewTestPostgresDB(t)
}
