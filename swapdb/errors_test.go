package swapdb

import (
	"errors"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"github.com/swapbridge/swapbridge/swap"
)

// TestMapSQLError tests the translation of postgres errors.
func TestMapSQLError(t *testing.T) {
	require.NoError(t, mapSQLError(nil))

	errOther := errors.New("other")
	require.Equal(t, errOther, mapSQLError(errOther))

	err := mapSQLError(&pq.Error{Code: pgerrcode.UniqueViolation})
	require.ErrorIs(t, err, swap.ErrOrderExists)

	err = mapSQLError(&pq.Error{Code: pgerrcode.SerializationFailure})
	require.ErrorIs(t, err, ErrSerializationFailure)

	err = mapSQLError(&pq.Error{Code: pgerrcode.DeadlockDetected})
	require.ErrorIs(t, err, ErrSerializationFailure)

	pqErr := &pq.Error{Code: pgerrcode.NotNullViolation}
	require.Equal(t, error(pqErr), mapSQLError(pqErr))
}
