package swapdb

import (
	"context"

	"github.com/swapbridge/swapbridge/swap"
)

// SwapStore is the durable order store the daemon runs on.
type SwapStore interface {
	swap.Store

	// ImportOrder stores an order together with its journal as is. It's
	// used to move orders between backends.
	ImportOrder(ctx context.Context, order *swap.Order,
		updates []*swap.Update) error

	// Close closes the underlying database.
	Close() error
}

// A compile-time assertion to make sure the stores implement SwapStore.
var (
	_ SwapStore = (*BaseDB)(nil)
	_ SwapStore = (*BoltSwapStore)(nil)
)
