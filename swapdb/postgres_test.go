//go:build test_db_postgres
// +build test_db_postgres

package swapdb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/swapbridge/swapbridge/swap"
)

// TestPgFixtureReset tests that a reset empties the swap tables while the
// open store keeps working on the migrated schema.
func TestPgFixtureReset(t *testing.T) {
	store, fixture := newTestPostgresStore(t)
	ctx := context.Background()

	order := newTestOrder(t, swap.Created, testTime)
	require.NoError(t, store.CreateOrder(ctx, order))

	order.Status = swap.WaitingLocks
	require.NoError(t, store.UpdateOrder(ctx, order, swap.OnAgreed))

	require.Equal(t, 1, fixture.RowCount(t, "swap_orders"))
	require.Equal(t, 2, fixture.RowCount(t, "swap_updates"))

	fixture.Reset(t)

	require.Zero(t, fixture.RowCount(t, "swap_orders"))
	require.Zero(t, fixture.RowCount(t, "swap_updates"))

	orders, err := store.FetchOrders(ctx)
	require.NoError(t, err)
	require.Empty(t, orders)

	_, err = store.FetchOrder(ctx, order.ID)
	require.ErrorIs(t, err, swap.ErrOrderNotFound)

	// The same order can be stored again.
	order.Status = swap.Created
	order.Version = 0
	require.NoError(t, store.CreateOrder(ctx, order))
	require.Equal(t, 1, fixture.RowCount(t, "swap_updates"))
}
