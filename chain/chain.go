package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/lightningnetwork/lnd/lntypes"
)

// ID identifies a ledger, e.g. "bitcoin-testnet" or "ethereum-sepolia".
type ID string

// TxRef is an opaque, ledger specific reference to a submitted transaction.
type TxRef string

// Type is the family of ledger a chain belongs to. It decides which kind of
// lock primitive the chain's adapter constructs.
type Type uint8

const (
	// TypeUnknown is the zero value and is never valid.
	TypeUnknown Type = iota

	// TypeEVM covers Ethereum and EVM-compatible account ledgers, where
	// the lock is an HTLC contract call.
	TypeEVM

	// TypeUTXO covers Bitcoin style ledgers, where the lock is a script
	// output.
	TypeUTXO

	// TypeSolana covers Solana style account ledgers, where the lock is a
	// program instruction.
	TypeSolana
)

// String returns the human readable name of the chain type.
func (t Type) String() string {
	switch t {
	case TypeEVM:
		return "evm"

	case TypeUTXO:
		return "utxo"

	case TypeSolana:
		return "solana"

	default:
		return "unknown"
	}
}

// ParseType parses the string form produced by Type.String.
func ParseType(s string) (Type, error) {
	switch s {
	case "evm", "ethereum":
		return TypeEVM, nil

	case "utxo", "bitcoin":
		return TypeUTXO, nil

	case "solana":
		return TypeSolana, nil

	default:
		return TypeUnknown, fmt.Errorf("unknown chain type: %q", s)
	}
}

// NativeCurrency returns the ticker of the ledger family's native asset.
func (t Type) NativeCurrency() string {
	switch t {
	case TypeEVM:
		return "ETH"

	case TypeUTXO:
		return "BTC"

	case TypeSolana:
		return "SOL"

	default:
		return ""
	}
}

// SmallestUnit returns the name of the smallest unit amounts are
// denominated in.
func (t Type) SmallestUnit() string {
	switch t {
	case TypeEVM:
		return "wei"

	case TypeUTXO:
		return "satoshi"

	case TypeSolana:
		return "lamport"

	default:
		return ""
	}
}

// Decimals returns the number of decimals of the native asset.
func (t Type) Decimals() uint8 {
	switch t {
	case TypeEVM:
		return 18

	case TypeUTXO:
		return 8

	case TypeSolana:
		return 9

	default:
		return 0
	}
}

// Params is the per deployment configuration of a supported chain.
type Params struct {
	// ID is the unique identifier of the chain.
	ID ID

	// Type is the ledger family.
	Type Type

	// RequiredConfirmations is the confirmation depth at which a lock
	// transaction on this chain is treated as final. There is no default,
	// every deployment has to set it explicitly.
	RequiredConfirmations uint32
}

// Validate checks that the params are complete.
func (p Params) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("chain id must be set")
	}

	if p.Type == TypeUnknown {
		return fmt.Errorf("chain %v: type must be set", p.ID)
	}

	if p.RequiredConfirmations == 0 {
		return fmt.Errorf("chain %v: required confirmations must be "+
			"set", p.ID)
	}

	return nil
}

// LockRequest holds everything an adapter needs to construct the ledger
// native hash time-locked output for one leg of a swap.
type LockRequest struct {
	// Asset is the asset to lock, e.g. the native currency or a token
	// identifier.
	Asset string

	// Amount is denominated in the smallest unit of the asset.
	Amount uint64

	// Hash is the hash lock both legs of the swap share.
	Hash lntypes.Hash

	// Timelock is the absolute deadline after which the sender may
	// refund the lock.
	Timelock time.Time

	// Sender is the address funding the lock.
	Sender string
}

// Adapter is the ledger specific boundary of the swap engine. One
// implementation exists per supported ledger. Implementations must be safe
// for concurrent use and must honor context cancellation, although a
// cancelled call never rolls back a transaction that was already submitted.
type Adapter interface {
	// Lock submits the hash time-locked output and returns a reference
	// to the lock transaction.
	Lock(ctx context.Context, req *LockRequest) (TxRef, error)

	// Claim spends the lock referenced by lockTx using the preimage and
	// returns the claim transaction.
	Claim(ctx context.Context, lockTx TxRef,
		preimage lntypes.Preimage) (TxRef, error)

	// Refund returns the lock referenced by lockTx to its sender after
	// its timelock elapsed.
	Refund(ctx context.Context, lockTx TxRef) (TxRef, error)

	// GetConfirmations returns the current confirmation depth of the
	// given transaction. Transactions that the ledger doesn't know about
	// yield ErrTxNotFound.
	GetConfirmations(ctx context.Context, tx TxRef) (uint32, error)
}
