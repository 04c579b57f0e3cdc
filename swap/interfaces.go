package swap

import (
	"context"

	"github.com/google/uuid"
	"github.com/swapbridge/swapbridge/chain"
	"github.com/swapbridge/swapbridge/fsm"
	"github.com/swapbridge/swapbridge/watcher"
)

// Store is the durable storage of swap orders.
type Store interface {
	// CreateOrder stores a new order together with its first journal
	// entry. It returns ErrOrderExists if the id or the hash is already
	// in use.
	CreateOrder(ctx context.Context, order *Order) error

	// UpdateOrder stores the mutable fields of the order and appends a
	// journal entry for the event. The write only succeeds if the stored
	// version equals order.Version, ErrVersionConflict is returned
	// otherwise. On success order.Version is incremented.
	UpdateOrder(ctx context.Context, order *Order,
		event fsm.EventType) error

	// FetchOrder returns the order with the given id or
	// ErrOrderNotFound.
	FetchOrder(ctx context.Context, id uuid.UUID) (*Order, error)

	// FetchOrders returns all orders.
	FetchOrders(ctx context.Context) ([]*Order, error)

	// FetchPendingOrders returns all orders that are not in a final
	// state.
	FetchPendingOrders(ctx context.Context) ([]*Order, error)

	// FetchUpdates returns the journal of the order, oldest first.
	FetchUpdates(ctx context.Context, id uuid.UUID) ([]*Update, error)
}

// ChainRegistry resolves chain adapters and parameters.
type ChainRegistry interface {
	// Adapter returns the adapter registered for the given chain.
	Adapter(id chain.ID) (chain.Adapter, error)

	// Params returns the parameters of the given chain.
	Params(id chain.ID) (chain.Params, error)
}

// LockWatcher watches lock transactions until they confirm.
type LockWatcher interface {
	// Watch starts watching the transaction. The returned channel yields
	// exactly one event.
	Watch(ctx context.Context, req watcher.Request) <-chan watcher.Event
}
