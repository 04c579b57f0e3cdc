package swapdb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/swapbridge/swapbridge/swap"
)

// TestOrderCodec tests that the optional preimages are only restored if they
// were set.
func TestOrderCodec(t *testing.T) {
	tests := []struct {
		name     string
		modify   func(*swap.Order)
		hasOwn   bool
		revealed bool
	}{
		{
			name:   "initiator",
			hasOwn: true,
		},
		{
			name: "counterparty",
			modify: func(o *swap.Order) {
				o.Committer = nil
			},
		},
		{
			name: "revealed",
			modify: func(o *swap.Order) {
				o.Committer = nil
				preimage := testPreimage
				o.RevealedPreimage = &preimage
				o.Status = swap.PreimageRevealed
				o.Version = 7
				o.Counterparty.ClaimTxRef = "eth-claim"
			},
			revealed: true,
		},
		{
			name: "pending submission",
			modify: func(o *swap.Order) {
				o.Status = swap.InitiatorLocked
				o.Initiator.LockTxRef = "btc-lock"
				o.Counterparty.Pending = swap.PendingLock
			},
			hasOwn: true,
		},
		{
			name: "failed",
			modify: func(o *swap.Order) {
				o.Status = swap.Failed
				o.FailureReason = "lock not observed"
			},
			hasOwn: true,
		},
	}

	for _, test := range tests {
		test := test

		t.Run(test.name, func(t *testing.T) {
			order := newTestOrder(t, swap.WaitingLocks, testTime)
			if test.modify != nil {
				test.modify(order)
			}

			b, err := serializeOrder(order)
			require.NoError(t, err)

			decoded, err := deserializeOrder(b)
			require.NoError(t, err)
			requireOrderEqual(t, order, decoded)

			require.Equal(t, test.hasOwn, decoded.Committer != nil)
			require.Equal(
				t, test.revealed, decoded.RevealedPreimage != nil,
			)
		})
	}
}

// TestOrderCodecErrors tests that corrupt and unencodable orders are
// rejected.
func TestOrderCodecErrors(t *testing.T) {
	order := newTestOrder(t, swap.Created, testTime)
	order.CreatedAt = time.Date(1969, time.January, 1, 0, 0, 0, 0, time.UTC)

	_, err := serializeOrder(order)
	require.Error(t, err)

	order = newTestOrder(t, swap.Created, testTime)
	b, err := serializeOrder(order)
	require.NoError(t, err)

	_, err = deserializeOrder(b[:len(b)-1])
	require.Error(t, err)
}

// TestUpdateCodec tests the journal entry encoding.
func TestUpdateCodec(t *testing.T) {
	update := &swap.Update{
		Time:  testTime.Add(time.Microsecond),
		State: swap.BothLocked,
		Event: swap.OnCounterpartyLockConfirmed,
	}

	b, err := serializeUpdate(update)
	require.NoError(t, err)

	decoded, err := deserializeUpdate(b)
	require.NoError(t, err)
	require.True(t, update.Time.Equal(decoded.Time))
	require.Equal(t, update.State, decoded.State)
	require.Equal(t, update.Event, decoded.Event)
}
