package swap

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/swapbridge/swapbridge/fsm"
)

// storeMock implements an in-memory order store.
type storeMock struct {
	orders  map[uuid.UUID]*Order
	updates map[uuid.UUID][]*Update

	// failUpdate is returned by the next UpdateOrder call if set.
	failUpdate error

	sync.Mutex
}

// A compile time check to ensure storeMock implements Store.
var _ Store = (*storeMock)(nil)

// newStoreMock instantiates a new mock store.
func newStoreMock() *storeMock {
	return &storeMock{
		orders:  make(map[uuid.UUID]*Order),
		updates: make(map[uuid.UUID][]*Update),
	}
}

// CreateOrder stores a new order.
//
// NOTE: Part of the Store interface.
func (s *storeMock) CreateOrder(_ context.Context, order *Order) error {
	s.Lock()
	defer s.Unlock()

	for _, o := range s.orders {
		if o.ID == order.ID || o.Hash() == order.Hash() {
			return ErrOrderExists
		}
	}

	s.orders[order.ID] = order.Copy()
	s.updates[order.ID] = []*Update{{
		Time:  order.CreatedAt,
		State: order.Status,
		Event: OnCreated,
	}}

	return nil
}

// UpdateOrder updates an order if its version matches.
//
// NOTE: Part of the Store interface.
func (s *storeMock) UpdateOrder(_ context.Context, order *Order,
	event fsm.EventType) error {

	s.Lock()
	defer s.Unlock()

	if s.failUpdate != nil {
		err := s.failUpdate
		s.failUpdate = nil

		return err
	}

	stored, ok := s.orders[order.ID]
	if !ok {
		return ErrOrderNotFound
	}

	if stored.Version != order.Version {
		return ErrVersionConflict
	}

	order.Version++
	s.orders[order.ID] = order.Copy()
	s.updates[order.ID] = append(s.updates[order.ID], &Update{
		State: order.Status,
		Event: event,
	})

	return nil
}

// FetchOrder returns an order.
//
// NOTE: Part of the Store interface.
func (s *storeMock) FetchOrder(_ context.Context, id uuid.UUID) (*Order,
	error) {

	s.Lock()
	defer s.Unlock()

	order, ok := s.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}

	return order.Copy(), nil
}

// FetchOrders returns all orders.
//
// NOTE: Part of the Store interface.
func (s *storeMock) FetchOrders(_ context.Context) ([]*Order, error) {
	s.Lock()
	defer s.Unlock()

	orders := make([]*Order, 0, len(s.orders))
	for _, order := range s.orders {
		orders = append(orders, order.Copy())
	}

	return orders, nil
}

// FetchPendingOrders returns all non-final orders.
//
// NOTE: Part of the Store interface.
func (s *storeMock) FetchPendingOrders(_ context.Context) ([]*Order, error) {
	s.Lock()
	defer s.Unlock()

	var orders []*Order
	for _, order := range s.orders {
		if IsPending(order.Status) {
			orders = append(orders, order.Copy())
		}
	}

	return orders, nil
}

// FetchUpdates returns the journal of an order.
//
// NOTE: Part of the Store interface.
func (s *storeMock) FetchUpdates(_ context.Context, id uuid.UUID) ([]*Update,
	error) {

	s.Lock()
	defer s.Unlock()

	if _, ok := s.orders[id]; !ok {
		return nil, ErrOrderNotFound
	}

	return append([]*Update(nil), s.updates[id]...), nil
}

// states returns the journaled states of an order.
func (s *storeMock) states(id uuid.UUID) []fsm.StateType {
	s.Lock()
	defer s.Unlock()

	var states []fsm.StateType
	for _, update := range s.updates[id] {
		states = append(states, update.State)
	}

	return states
}

// bumpVersion simulates a concurrent writer modifying the order.
func (s *storeMock) bumpVersion(id uuid.UUID) {
	s.Lock()
	defer s.Unlock()

	s.orders[id].Version++
}
