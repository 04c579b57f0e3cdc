package swapdb

import (
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/lib/pq"
	"github.com/swapbridge/swapbridge/swap"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	// ErrSerializationFailure is returned if the database aborted a
	// transaction because of a concurrent one. It can be retried.
	ErrSerializationFailure = errors.New("serialization failure")
)

// mapSQLError translates backend specific errors into the store's error
// types.
func mapSQLError(err error) error {
	if err == nil {
		return nil
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE,
			sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:

			return fmt.Errorf("%w: %v", swap.ErrOrderExists, err)

		case sqlite3.SQLITE_BUSY:
			return fmt.Errorf("%w: %v", ErrSerializationFailure,
				err)
		}

		return err
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pgerrcode.UniqueViolation:
			return fmt.Errorf("%w: %v", swap.ErrOrderExists, err)

		case pgerrcode.SerializationFailure,
			pgerrcode.DeadlockDetected:

			return fmt.Errorf("%w: %v", ErrSerializationFailure,
				err)
		}
	}

	return err
}
