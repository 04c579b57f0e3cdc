package swap

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/swapbridge/swapbridge/chain"
	"github.com/swapbridge/swapbridge/fsm"
	"github.com/swapbridge/swapbridge/hashlock"
)

// Role identifies one of the two parties of a swap.
type Role uint8

const (
	// RoleInitiator is the party that generated the preimage and locks
	// first.
	RoleInitiator Role = iota

	// RoleCounterparty is the party that only knows the hash and locks
	// second.
	RoleCounterparty
)

// String returns the name of the role.
func (r Role) String() string {
	switch r {
	case RoleInitiator:
		return "initiator"

	case RoleCounterparty:
		return "counterparty"

	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

// Other returns the opposite role.
func (r Role) Other() Role {
	if r == RoleInitiator {
		return RoleCounterparty
	}

	return RoleInitiator
}

// validate checks that the role is known.
func (r Role) validate() error {
	if r != RoleInitiator && r != RoleCounterparty {
		return fmt.Errorf("%w: %v", ErrWrongRole, r)
	}

	return nil
}

// ParseRole parses the string form of a role.
func ParseRole(s string) (Role, error) {
	switch s {
	case "initiator":
		return RoleInitiator, nil

	case "counterparty":
		return RoleCounterparty, nil

	default:
		return 0, fmt.Errorf("%w: %q", ErrWrongRole, s)
	}
}

// PendingTx is the kind of a transaction that was handed to a chain adapter
// but whose outcome isn't recorded yet.
type PendingTx uint8

const (
	// PendingNone means no submission is outstanding.
	PendingNone PendingTx = iota

	// PendingLock marks a lock submission.
	PendingLock

	// PendingClaim marks a claim of the leg's lock.
	PendingClaim

	// PendingRefund marks a refund of the leg's lock.
	PendingRefund
)

// String returns the name of the transaction kind.
func (p PendingTx) String() string {
	switch p {
	case PendingNone:
		return "none"

	case PendingLock:
		return "lock"

	case PendingClaim:
		return "claim"

	case PendingRefund:
		return "refund"

	default:
		return fmt.Sprintf("pending(%d)", uint8(p))
	}
}

// Party is one leg of a swap.
type Party struct {
	// Chain is the chain the party locks funds on.
	Chain chain.ID

	// Address is the party's address on its chain.
	Address string

	// Amount is the locked amount in the smallest unit of Asset.
	Amount uint64

	// Asset is the locked asset.
	Asset string

	// LockTxRef references the lock transaction once it was submitted.
	LockTxRef chain.TxRef

	// ClaimTxRef references the transaction that claimed this party's
	// lock.
	ClaimTxRef chain.TxRef

	// RefundTxRef references the transaction that refunded this party's
	// lock.
	RefundTxRef chain.TxRef

	// Pending is set before a transaction of this leg is handed to its
	// chain adapter. It's cleared once the outcome is recorded. A marker
	// that outlives the call means the transaction may be on chain.
	Pending PendingTx
}

// locked returns true if the party's lock is submitted and unspent.
func (p *Party) locked() bool {
	return p.LockTxRef != "" && p.ClaimTxRef == "" && p.RefundTxRef == ""
}

// mayBeLocked returns true if the party's lock is unspent or its lock
// submission has an unknown outcome.
func (p *Party) mayBeLocked() bool {
	return p.locked() || p.Pending == PendingLock
}

// Update is a journal entry of an order.
type Update struct {
	// Time is the time of the update.
	Time time.Time

	// State is the order's state after the update.
	State fsm.StateType

	// Event is the event that caused the update.
	Event fsm.EventType
}

// Order is a cross-chain atomic swap.
type Order struct {
	// ID uniquely identifies the order.
	ID uuid.UUID

	// Initiator is the leg of the party that generated the preimage.
	Initiator Party

	// Counterparty is the leg of the party that only knows the hash.
	Counterparty Party

	// HashLock is the hash both legs are locked with.
	HashLock hashlock.Verifier

	// Committer holds the preimage. It's only set on the node that
	// initiated the swap.
	Committer *hashlock.Committer

	// RevealedPreimage is the preimage once it was published on chain by
	// the initiator's claim.
	RevealedPreimage *lntypes.Preimage

	// InitiatorTimelock is the absolute deadline of the initiator's lock.
	InitiatorTimelock time.Time

	// CounterpartyTimelock is the absolute deadline of the
	// counterparty's lock.
	CounterpartyTimelock time.Time

	// Status is the current state of the order.
	Status fsm.StateType

	// CreatedAt is the creation time of the order.
	CreatedAt time.Time

	// Version is incremented by the store on every update.
	Version uint32

	// FailureReason describes why an order failed.
	FailureReason string
}

// Party returns the leg of the given role.
func (o *Order) Party(role Role) *Party {
	if role == RoleInitiator {
		return &o.Initiator
	}

	return &o.Counterparty
}

// Timelock returns the timelock of the given role's leg.
func (o *Order) Timelock(role Role) time.Time {
	if role == RoleInitiator {
		return o.InitiatorTimelock
	}

	return o.CounterpartyTimelock
}

// Hash returns the hash lock digest.
func (o *Order) Hash() lntypes.Hash {
	return o.HashLock.Hash()
}

// Copy returns a deep copy of the order.
func (o *Order) Copy() *Order {
	c := *o
	if o.RevealedPreimage != nil {
		preimage := *o.RevealedPreimage
		c.RevealedPreimage = &preimage
	}

	return &c
}

// String returns a short description of the order for logging.
func (o *Order) String() string {
	return fmt.Sprintf("%v %v(%v %v) <-> %v(%v %v) [%v]",
		ShortID(o.ID), o.Initiator.Chain, o.Initiator.Amount,
		o.Initiator.Asset, o.Counterparty.Chain, o.Counterparty.Amount,
		o.Counterparty.Asset, o.Status)
}

// ShortID returns a shortened version of the id suitable for use in logging.
func ShortID(id uuid.UUID) string {
	return id.String()[:8]
}
