package test

import (
	"context"

	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/stretchr/testify/mock"
	"github.com/swapbridge/swapbridge/chain"
)

// MockAdapter is a testify mock of a chain adapter.
type MockAdapter struct {
	mock.Mock
}

// A compile time check to ensure MockAdapter implements chain.Adapter.
var _ chain.Adapter = (*MockAdapter)(nil)

// Lock submits a lock.
func (m *MockAdapter) Lock(ctx context.Context,
	req *chain.LockRequest) (chain.TxRef, error) {

	logger.Tracef("Lock %v %v", req.Amount, req.Hash)

	args := m.Called(ctx, req)

	return args.Get(0).(chain.TxRef), args.Error(1)
}

// Claim claims a lock.
func (m *MockAdapter) Claim(ctx context.Context, lockTx chain.TxRef,
	preimage lntypes.Preimage) (chain.TxRef, error) {

	logger.Tracef("Claim %v", lockTx)

	args := m.Called(ctx, lockTx, preimage)

	return args.Get(0).(chain.TxRef), args.Error(1)
}

// Refund refunds a lock.
func (m *MockAdapter) Refund(ctx context.Context,
	lockTx chain.TxRef) (chain.TxRef, error) {

	logger.Tracef("Refund %v", lockTx)

	args := m.Called(ctx, lockTx)

	return args.Get(0).(chain.TxRef), args.Error(1)
}

// GetConfirmations returns the confirmation depth of a transaction.
func (m *MockAdapter) GetConfirmations(ctx context.Context,
	tx chain.TxRef) (uint32, error) {

	args := m.Called(ctx, tx)

	return args.Get(0).(uint32), args.Error(1)
}
