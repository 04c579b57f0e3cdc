package swapdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/swapbridge/swapbridge/chain"
	"github.com/swapbridge/swapbridge/fsm"
	"github.com/swapbridge/swapbridge/hashlock"
	"github.com/swapbridge/swapbridge/swap"
	"github.com/swapbridge/swapbridge/swapdb/sqlc"
)

// CreateOrder stores a new order and journals its creation.
//
// NOTE: Part of the swap.Store interface.
func (db *BaseDB) CreateOrder(ctx context.Context, order *swap.Order) error {
	updates := []*swap.Update{{
		Time:  order.CreatedAt,
		State: order.Status,
		Event: swap.OnCreated,
	}}

	return db.ImportOrder(ctx, order, updates)
}

// ImportOrder stores an order together with its journal as is.
//
// NOTE: Part of the SwapStore interface.
func (db *BaseDB) ImportOrder(ctx context.Context, order *swap.Order,
	updates []*swap.Update) error {

	err := db.ExecTx(ctx, NewSqlWriteOpts(), func(tx *sqlc.Queries) error {
		err := tx.InsertSwapOrder(ctx, insertOrderParams(order))
		if err != nil {
			return err
		}

		for _, update := range updates {
			err := tx.InsertSwapUpdate(
				ctx, updateParams(order.ID, update),
			)
			if err != nil {
				return err
			}
		}

		return nil
	})

	return mapSQLError(err)
}

// UpdateOrder persists the mutable fields of the order if the stored version
// matches the order's version, and increments the version.
//
// NOTE: Part of the swap.Store interface.
func (db *BaseDB) UpdateOrder(ctx context.Context, order *swap.Order,
	event fsm.EventType) error {

	update := &swap.Update{
		Time:  db.clock.Now().UTC().Truncate(time.Microsecond),
		State: order.Status,
		Event: event,
	}

	initiatorPending := int64(order.Initiator.Pending)
	counterpartyPending := int64(order.Counterparty.Pending)

	err := db.ExecTx(ctx, NewSqlWriteOpts(), func(tx *sqlc.Queries) error {
		rows, err := tx.UpdateSwapOrder(ctx, sqlc.UpdateSwapOrderParams{
			ID:                    order.ID.String(),
			Version:               int64(order.Version),
			RevealedPreimage:      preimageBytes(order.RevealedPreimage),
			InitiatorLockTx:       string(order.Initiator.LockTxRef),
			InitiatorClaimTx:      string(order.Initiator.ClaimTxRef),
			InitiatorRefundTx:     string(order.Initiator.RefundTxRef),
			CounterpartyLockTx:    string(order.Counterparty.LockTxRef),
			CounterpartyClaimTx:   string(order.Counterparty.ClaimTxRef),
			CounterpartyRefundTx:  string(order.Counterparty.RefundTxRef),
			Status:                string(order.Status),
			FailureReason:         order.FailureReason,
			InitiatorPendingTx:    initiatorPending,
			CounterpartyPendingTx: counterpartyPending,
		})
		if err != nil {
			return err
		}

		if rows == 0 {
			_, err := tx.GetSwapOrder(ctx, order.ID.String())
			switch {
			case errors.Is(err, sql.ErrNoRows):
				return swap.ErrOrderNotFound

			case err != nil:
				return err
			}

			return fmt.Errorf("%w: order %v at version %v",
				swap.ErrVersionConflict, order.ID, order.Version)
		}

		return tx.InsertSwapUpdate(ctx, updateParams(order.ID, update))
	})
	if err != nil {
		return mapSQLError(err)
	}

	order.Version++

	return nil
}

// FetchOrder returns the order with the given id.
//
// NOTE: Part of the swap.Store interface.
func (db *BaseDB) FetchOrder(ctx context.Context, id uuid.UUID) (*swap.Order,
	error) {

	var order *swap.Order
	err := db.ExecTx(ctx, NewSqlReadOpts(), func(tx *sqlc.Queries) error {
		row, err := tx.GetSwapOrder(ctx, id.String())
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return swap.ErrOrderNotFound

		case err != nil:
			return err
		}

		order, err = orderFromRow(row)

		return err
	})
	if err != nil {
		return nil, err
	}

	return order, nil
}

// FetchOrders returns all orders ordered by creation time.
//
// NOTE: Part of the swap.Store interface.
func (db *BaseDB) FetchOrders(ctx context.Context) ([]*swap.Order, error) {
	var orders []*swap.Order
	err := db.ExecTx(ctx, NewSqlReadOpts(), func(tx *sqlc.Queries) error {
		rows, err := tx.GetSwapOrders(ctx)
		if err != nil {
			return err
		}

		orders, err = ordersFromRows(rows)

		return err
	})
	if err != nil {
		return nil, err
	}

	return orders, nil
}

// FetchPendingOrders returns all orders that are not in a final state.
//
// NOTE: Part of the swap.Store interface.
func (db *BaseDB) FetchPendingOrders(ctx context.Context) ([]*swap.Order,
	error) {

	var orders []*swap.Order
	err := db.ExecTx(ctx, NewSqlReadOpts(), func(tx *sqlc.Queries) error {
		rows, err := tx.GetPendingSwapOrders(
			ctx, sqlc.GetPendingSwapOrdersParams{
				Completed: string(swap.Completed),
				Refunded:  string(swap.Refunded),
				Cancelled: string(swap.Cancelled),
				Failed:    string(swap.Failed),
			},
		)
		if err != nil {
			return err
		}

		orders, err = ordersFromRows(rows)

		return err
	})
	if err != nil {
		return nil, err
	}

	return orders, nil
}

// FetchUpdates returns the journal of an order.
//
// NOTE: Part of the swap.Store interface.
func (db *BaseDB) FetchUpdates(ctx context.Context,
	id uuid.UUID) ([]*swap.Update, error) {

	var updates []*swap.Update
	err := db.ExecTx(ctx, NewSqlReadOpts(), func(tx *sqlc.Queries) error {
		_, err := tx.GetSwapOrder(ctx, id.String())
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return swap.ErrOrderNotFound

		case err != nil:
			return err
		}

		rows, err := tx.GetSwapUpdates(ctx, id.String())
		if err != nil {
			return err
		}

		updates = make([]*swap.Update, 0, len(rows))
		for _, row := range rows {
			updates = append(updates, &swap.Update{
				Time:  row.UpdateTimestamp.UTC(),
				State: fsm.StateType(row.State),
				Event: fsm.EventType(row.Event),
			})
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return updates, nil
}

// insertOrderParams converts an order into its row.
func insertOrderParams(order *swap.Order) sqlc.InsertSwapOrderParams {
	hash := order.Hash()

	var preimage []byte
	if order.Committer != nil {
		p := order.Committer.Preimage()
		preimage = p[:]
	}

	return sqlc.InsertSwapOrderParams{
		ID:                    order.ID.String(),
		SwapHash:              hash[:],
		Preimage:              preimage,
		RevealedPreimage:      preimageBytes(order.RevealedPreimage),
		InitiatorChain:        string(order.Initiator.Chain),
		InitiatorAddress:      order.Initiator.Address,
		InitiatorAmount:       int64(order.Initiator.Amount),
		InitiatorAsset:        order.Initiator.Asset,
		InitiatorLockTx:       string(order.Initiator.LockTxRef),
		InitiatorClaimTx:      string(order.Initiator.ClaimTxRef),
		InitiatorRefundTx:     string(order.Initiator.RefundTxRef),
		CounterpartyChain:     string(order.Counterparty.Chain),
		CounterpartyAddress:   order.Counterparty.Address,
		CounterpartyAmount:    int64(order.Counterparty.Amount),
		CounterpartyAsset:     order.Counterparty.Asset,
		CounterpartyLockTx:    string(order.Counterparty.LockTxRef),
		CounterpartyClaimTx:   string(order.Counterparty.ClaimTxRef),
		CounterpartyRefundTx:  string(order.Counterparty.RefundTxRef),
		InitiatorTimelock:     order.InitiatorTimelock.UTC(),
		CounterpartyTimelock:  order.CounterpartyTimelock.UTC(),
		Status:                string(order.Status),
		Version:               int64(order.Version),
		FailureReason:         order.FailureReason,
		CreatedAt:             order.CreatedAt.UTC(),
		InitiatorPendingTx:    int64(order.Initiator.Pending),
		CounterpartyPendingTx: int64(order.Counterparty.Pending),
	}
}

// updateParams converts a journal entry into its row.
func updateParams(id uuid.UUID,
	update *swap.Update) sqlc.InsertSwapUpdateParams {

	return sqlc.InsertSwapUpdateParams{
		SwapID:          id.String(),
		UpdateTimestamp: update.Time.UTC(),
		State:           string(update.State),
		Event:           string(update.Event),
	}
}

// preimageBytes returns the raw preimage or nil.
func preimageBytes(preimage *lntypes.Preimage) []byte {
	if preimage == nil {
		return nil
	}

	return preimage[:]
}

// ordersFromRows converts order rows.
func ordersFromRows(rows []sqlc.SwapOrder) ([]*swap.Order, error) {
	orders := make([]*swap.Order, 0, len(rows))
	for _, row := range rows {
		order, err := orderFromRow(row)
		if err != nil {
			return nil, err
		}

		orders = append(orders, order)
	}

	return orders, nil
}

// orderFromRow converts an order row.
func orderFromRow(row sqlc.SwapOrder) (*swap.Order, error) {
	id, err := uuid.Parse(row.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid order id %v: %w", row.ID, err)
	}

	hash, err := lntypes.MakeHash(row.SwapHash)
	if err != nil {
		return nil, err
	}

	verifier, err := hashlock.FromHash(hash)
	if err != nil {
		return nil, err
	}

	order := &swap.Order{
		ID: id,
		Initiator: swap.Party{
			Chain:       chain.ID(row.InitiatorChain),
			Address:     row.InitiatorAddress,
			Amount:      uint64(row.InitiatorAmount),
			Asset:       row.InitiatorAsset,
			LockTxRef:   chain.TxRef(row.InitiatorLockTx),
			ClaimTxRef:  chain.TxRef(row.InitiatorClaimTx),
			RefundTxRef: chain.TxRef(row.InitiatorRefundTx),
			Pending:     swap.PendingTx(row.InitiatorPendingTx),
		},
		Counterparty: swap.Party{
			Chain:       chain.ID(row.CounterpartyChain),
			Address:     row.CounterpartyAddress,
			Amount:      uint64(row.CounterpartyAmount),
			Asset:       row.CounterpartyAsset,
			LockTxRef:   chain.TxRef(row.CounterpartyLockTx),
			ClaimTxRef:  chain.TxRef(row.CounterpartyClaimTx),
			RefundTxRef: chain.TxRef(row.CounterpartyRefundTx),
			Pending:     swap.PendingTx(row.CounterpartyPendingTx),
		},
		HashLock:             verifier,
		InitiatorTimelock:    row.InitiatorTimelock.UTC(),
		CounterpartyTimelock: row.CounterpartyTimelock.UTC(),
		Status:               fsm.StateType(row.Status),
		CreatedAt:            row.CreatedAt.UTC(),
		Version:              uint32(row.Version),
		FailureReason:        row.FailureReason,
	}

	if len(row.Preimage) > 0 {
		order.Committer, err = committerFromBytes(row.Preimage, hash)
		if err != nil {
			return nil, err
		}
	}

	if len(row.RevealedPreimage) > 0 {
		revealed, err := lntypes.MakePreimage(row.RevealedPreimage)
		if err != nil {
			return nil, err
		}
		order.RevealedPreimage = &revealed
	}

	return order, nil
}

// committerFromBytes restores the preimage of an order and checks it against
// the order's hash.
func committerFromBytes(raw []byte, hash lntypes.Hash) (*hashlock.Committer,
	error) {

	preimage, err := lntypes.MakePreimage(raw)
	if err != nil {
		return nil, err
	}

	committer := hashlock.FromPreimage(preimage)
	if committer.Hash() != hash {
		return nil, fmt.Errorf("stored preimage doesn't match hash %v",
			hash)
	}

	return committer, nil
}
