package swapdb

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/stretchr/testify/require"
	"github.com/swapbridge/swapbridge/swap"
)

// MigratorManager is a struct that handles migrating data from one SwapStore
// to another.
type MigratorManager struct {
	fromStore SwapStore
	toStore   SwapStore
}

// NewMigratorManager creates a new MigratorManager.
func NewMigratorManager(fromStore SwapStore,
	toStore SwapStore) *MigratorManager {

	return &MigratorManager{
		fromStore: fromStore,
		toStore:   toStore,
	}
}

// RunMigrations copies all orders and their journals from the fromStore to
// the toStore and checks the result.
func (m *MigratorManager) RunMigrations(ctx context.Context) error {
	log.Infof("Migrating swap orders...")

	count, err := m.migrateOrders(ctx)
	if err != nil {
		return err
	}

	log.Infof("Checking %d swap orders...", count)

	err = m.checkOrders(ctx)
	if err != nil {
		return err
	}

	log.Infof("Migrations complete!")

	return nil
}

// migrateOrders imports every order of the fromStore into the toStore.
func (m *MigratorManager) migrateOrders(ctx context.Context) (int, error) {
	orders, err := m.fromStore.FetchOrders(ctx)
	if err != nil {
		return 0, err
	}

	for _, order := range orders {
		updates, err := m.fromStore.FetchUpdates(ctx, order.ID)
		if err != nil {
			return 0, err
		}

		err = m.toStore.ImportOrder(ctx, order, updates)
		if err != nil {
			return 0, fmt.Errorf("unable to import order %v: %w",
				order.ID, err)
		}
	}

	return len(orders), nil
}

// checkOrders checks that all orders in the toStore are the exact same as the
// orders in the fromStore.
func (m *MigratorManager) checkOrders(ctx context.Context) error {
	fromOrders, err := m.fromStore.FetchOrders(ctx)
	if err != nil {
		return err
	}

	toOrders, err := m.toStore.FetchOrders(ctx)
	if err != nil {
		return err
	}

	if len(fromOrders) != len(toOrders) {
		return NewMigrationError(
			fmt.Errorf("from: %d, to: %d", len(fromOrders),
				len(toOrders)),
		)
	}

	sortByID(fromOrders)
	sortByID(toOrders)

	for i, fromOrder := range fromOrders {
		toOrder := toOrders[i]

		fromUpdates, err := m.fromStore.FetchUpdates(ctx, fromOrder.ID)
		if err != nil {
			return err
		}

		toUpdates, err := m.toStore.FetchUpdates(ctx, toOrder.ID)
		if err != nil {
			return err
		}

		err = equalizeOrder(fromOrder, toOrder, fromUpdates, toUpdates)
		if err != nil {
			return NewMigrationError(err)
		}

		err = equalValues(fromOrder, toOrder)
		if err != nil {
			return NewMigrationError(err)
		}

		err = equalValues(fromUpdates, toUpdates)
		if err != nil {
			return NewMigrationError(err)
		}
	}

	return nil
}

// equalizeOrder checks that the orders have the same times stored and then
// sets the times to the same value, as the backends differ in their location
// and monotonic clock handling.
func equalizeOrder(fromOrder, toOrder *swap.Order, fromUpdates,
	toUpdates []*swap.Update) error {

	if fromOrder.ID != toOrder.ID {
		return fmt.Errorf("order id mismatch: %v != %v", fromOrder.ID,
			toOrder.ID)
	}

	if !fromOrder.CreatedAt.Equal(toOrder.CreatedAt) {
		return fmt.Errorf("creation time mismatch")
	}
	toOrder.CreatedAt = fromOrder.CreatedAt

	if !fromOrder.InitiatorTimelock.Equal(toOrder.InitiatorTimelock) {
		return fmt.Errorf("initiator timelock mismatch")
	}
	toOrder.InitiatorTimelock = fromOrder.InitiatorTimelock

	if !fromOrder.CounterpartyTimelock.Equal(
		toOrder.CounterpartyTimelock,
	) {

		return fmt.Errorf("counterparty timelock mismatch")
	}
	toOrder.CounterpartyTimelock = fromOrder.CounterpartyTimelock

	if len(fromUpdates) != len(toUpdates) {
		return fmt.Errorf("update count mismatch: %d != %d",
			len(fromUpdates), len(toUpdates))
	}

	for i, update := range fromUpdates {
		if !update.Time.Equal(toUpdates[i].Time) {
			return fmt.Errorf("update time mismatch")
		}
		toUpdates[i].Time = update.Time
	}

	return nil
}

// sortByID sorts orders by id.
func sortByID(orders []*swap.Order) {
	sort.Slice(orders, func(i, j int) bool {
		return bytes.Compare(orders[i].ID[:], orders[j].ID[:]) < 0
	})
}

type migrationError struct {
	Err error
}

func (e *migrationError) Error() string {
	return fmt.Sprintf("migrator error: %v", e.Err)
}

func (e *migrationError) Unwrap() error {
	return e.Err
}

func (e *migrationError) Is(target error) bool {
	_, ok := target.(*migrationError)
	return ok
}

// NewMigrationError wraps an error that occurred while checking a migration.
func NewMigrationError(err error) error {
	return &migrationError{Err: err}
}

func equalValues(src interface{}, dst interface{}) error {
	mt := &mockTesting{}

	require.EqualValues(mt, src, dst)
	if mt.fail || mt.failNow {
		return fmt.Errorf(mt.format, mt.args...)
	}

	return nil
}

type mockTesting struct {
	failNow bool
	fail    bool
	format  string
	args    []interface{}
}

func (m *mockTesting) FailNow() {
	m.failNow = true
}

func (m *mockTesting) Errorf(format string, args ...interface{}) {
	m.fail = true
	m.format = format
	m.args = args
}
