package simchain

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/swapbridge/swapbridge/chain"
)

var (
	// ErrUnknownLock is returned when a claim or refund references a
	// transaction that isn't a lock on this chain.
	ErrUnknownLock = errors.New("unknown lock transaction")

	// ErrHashMismatch is returned when a claim presents a preimage that
	// doesn't hash to the lock's hash.
	ErrHashMismatch = errors.New("preimage doesn't match hash lock")

	// ErrTimelockExpired is returned when claiming after the lock's
	// timelock.
	ErrTimelockExpired = errors.New("timelock expired")

	// ErrTimelockNotExpired is returned when refunding before the lock's
	// timelock.
	ErrTimelockNotExpired = errors.New("timelock not expired")

	// ErrAlreadySpent is returned when a lock was already claimed or
	// refunded.
	ErrAlreadySpent = errors.New("lock already spent")

	// ErrInvalidLock is returned for lock requests that can't be turned
	// into an output.
	ErrInvalidLock = errors.New("invalid lock request")
)

// Op names an adapter operation failures can be injected into.
type Op string

const (
	// OpLock is Adapter.Lock.
	OpLock Op = "lock"

	// OpClaim is Adapter.Claim.
	OpClaim Op = "claim"

	// OpRefund is Adapter.Refund.
	OpRefund Op = "refund"

	// OpConfirmations is Adapter.GetConfirmations.
	OpConfirmations Op = "confirmations"
)

// tx is a transaction known to the simulated ledger.
type tx struct {
	// height is the block the transaction was mined in, zero while it
	// sits in the mempool.
	height uint64
}

// htlc is a hash time-locked output on the simulated ledger.
type htlc struct {
	req LockRequest

	// spendTx is the claim or refund spending the output.
	spendTx chain.TxRef

	// preimage is set once the output was claimed.
	preimage *lntypes.Preimage
}

// LockRequest is the lock as recorded on the simulated ledger.
type LockRequest = chain.LockRequest

// Chain is an in-memory ledger that implements chain.Adapter. Transactions
// enter a mempool and gain confirmations as blocks are mined. Timelocks are
// enforced against the injected clock. It's meant for tests and for running
// the daemon in simulation mode.
type Chain struct {
	id    chain.ID
	clock clock.Clock

	mu sync.Mutex

	height  uint64
	nonce   uint64
	txs     map[chain.TxRef]*tx
	htlcs   map[chain.TxRef]*htlc
	mempool []chain.TxRef

	failures map[Op][]error
}

// A compile time check to ensure Chain implements chain.Adapter.
var _ chain.Adapter = (*Chain)(nil)

// New creates a simulated chain starting at height zero.
func New(id chain.ID, clk clock.Clock) *Chain {
	return &Chain{
		id:       id,
		clock:    clk,
		txs:      make(map[chain.TxRef]*tx),
		htlcs:    make(map[chain.TxRef]*htlc),
		failures: make(map[Op][]error),
	}
}

// ID returns the id of the simulated chain.
func (c *Chain) ID() chain.ID {
	return c.id
}

// FailNext makes the next call of op fail with err. Calls queue up, each
// injected error is returned exactly once.
func (c *Chain) FailNext(op Op, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.failures[op] = append(c.failures[op], err)
}

// takeFailure pops the next injected failure for op. The caller must hold
// the lock.
func (c *Chain) takeFailure(op Op) error {
	queue := c.failures[op]
	if len(queue) == 0 {
		return nil
	}

	c.failures[op] = queue[1:]

	return queue[0]
}

// broadcast adds a new transaction to the mempool and returns its reference.
// The caller must hold the lock.
func (c *Chain) broadcast(payload []byte) chain.TxRef {
	var nonce [8]byte
	binary.BigEndian.PutUint64(nonce[:], c.nonce)
	c.nonce++

	data := make([]byte, 0, len(c.id)+len(nonce)+len(payload))
	data = append(data, c.id...)
	data = append(data, nonce[:]...)
	data = append(data, payload...)

	ref := chain.TxRef(chainhash.DoubleHashH(data).String())

	c.txs[ref] = &tx{}
	c.mempool = append(c.mempool, ref)

	return ref
}

// Lock creates a hash time-locked output.
func (c *Chain) Lock(ctx context.Context, req *LockRequest) (chain.TxRef,
	error) {

	if err := ctx.Err(); err != nil {
		return "", chain.WrapError(c.id, string(OpLock), err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.takeFailure(OpLock); err != nil {
		return "", err
	}

	switch {
	case req.Amount == 0:
		return "", chain.NewPermanentError(
			c.id, string(OpLock),
			fmt.Errorf("%w: zero amount", ErrInvalidLock),
		)

	case req.Hash == lntypes.ZeroHash:
		return "", chain.NewPermanentError(
			c.id, string(OpLock),
			fmt.Errorf("%w: zero hash", ErrInvalidLock),
		)

	case !req.Timelock.After(c.clock.Now()):
		return "", chain.NewPermanentError(
			c.id, string(OpLock),
			fmt.Errorf("%w: timelock in the past", ErrInvalidLock),
		)
	}

	ref := c.broadcast(req.Hash[:])
	c.htlcs[ref] = &htlc{req: *req}

	log.Debugf("%v: locked %v %v for %v until %v in %v", c.id,
		req.Amount, req.Asset, req.Hash, req.Timelock, ref)

	return ref, nil
}

// lookupUnspent returns the unspent lock referenced by lockTx. The caller
// must hold the lock.
func (c *Chain) lookupUnspent(op Op, lockTx chain.TxRef) (*htlc, error) {
	lock, ok := c.htlcs[lockTx]
	if !ok {
		return nil, chain.NewPermanentError(
			c.id, string(op),
			fmt.Errorf("%w: %v", ErrUnknownLock, lockTx),
		)
	}

	if lock.spendTx != "" {
		return nil, chain.NewPermanentError(
			c.id, string(op),
			fmt.Errorf("%w: by %v", ErrAlreadySpent, lock.spendTx),
		)
	}

	return lock, nil
}

// Claim spends the lock with the preimage while its timelock didn't pass.
func (c *Chain) Claim(ctx context.Context, lockTx chain.TxRef,
	preimage lntypes.Preimage) (chain.TxRef, error) {

	if err := ctx.Err(); err != nil {
		return "", chain.WrapError(c.id, string(OpClaim), err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.takeFailure(OpClaim); err != nil {
		return "", err
	}

	lock, err := c.lookupUnspent(OpClaim, lockTx)
	if err != nil {
		return "", err
	}

	if preimage.Hash() != lock.req.Hash {
		return "", chain.NewPermanentError(
			c.id, string(OpClaim), ErrHashMismatch,
		)
	}

	if !c.clock.Now().Before(lock.req.Timelock) {
		return "", chain.NewPermanentError(
			c.id, string(OpClaim), ErrTimelockExpired,
		)
	}

	ref := c.broadcast(preimage[:])
	lock.spendTx = ref
	lock.preimage = &preimage

	log.Debugf("%v: claimed %v in %v", c.id, lockTx, ref)

	return ref, nil
}

// Refund returns the lock to its sender once its timelock passed.
func (c *Chain) Refund(ctx context.Context, lockTx chain.TxRef) (chain.TxRef,
	error) {

	if err := ctx.Err(); err != nil {
		return "", chain.WrapError(c.id, string(OpRefund), err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.takeFailure(OpRefund); err != nil {
		return "", err
	}

	lock, err := c.lookupUnspent(OpRefund, lockTx)
	if err != nil {
		return "", err
	}

	if c.clock.Now().Before(lock.req.Timelock) {
		return "", chain.NewPermanentError(
			c.id, string(OpRefund), ErrTimelockNotExpired,
		)
	}

	ref := c.broadcast([]byte(lockTx))
	lock.spendTx = ref

	log.Debugf("%v: refunded %v in %v", c.id, lockTx, ref)

	return ref, nil
}

// GetConfirmations returns the confirmation depth of a transaction, zero
// while it's unmined.
func (c *Chain) GetConfirmations(ctx context.Context,
	ref chain.TxRef) (uint32, error) {

	if err := ctx.Err(); err != nil {
		return 0, chain.WrapError(c.id, string(OpConfirmations), err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.takeFailure(OpConfirmations); err != nil {
		return 0, err
	}

	t, ok := c.txs[ref]
	if !ok {
		return 0, chain.ErrTxNotFound
	}

	if t.height == 0 {
		return 0, nil
	}

	return uint32(c.height - t.height + 1), nil
}

// RevealedPreimage returns the preimage a lock was claimed with, which is
// how a counterparty learns the secret from the ledger.
func (c *Chain) RevealedPreimage(lockTx chain.TxRef) (lntypes.Preimage,
	bool) {

	c.mu.Lock()
	defer c.mu.Unlock()

	lock, ok := c.htlcs[lockTx]
	if !ok || lock.preimage == nil {
		return lntypes.Preimage{}, false
	}

	return *lock.preimage, true
}

// Drop evicts a transaction from the ledger as if it never made it into a
// block, e.g. after a reorg or a mempool eviction.
func (c *Chain) Drop(ref chain.TxRef) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.txs, ref)
	delete(c.htlcs, ref)

	for i, pending := range c.mempool {
		if pending == ref {
			c.mempool = append(c.mempool[:i], c.mempool[i+1:]...)
			break
		}
	}
}

// Height returns the current block height.
func (c *Chain) Height() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.height
}

// Mine mines n blocks. The first one includes the whole mempool.
func (c *Chain) Mine(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := 0; i < n; i++ {
		c.height++

		for _, ref := range c.mempool {
			if t, ok := c.txs[ref]; ok {
				t.height = c.height
			}
		}
		c.mempool = nil
	}

	log.Tracef("%v: mined %v blocks, height=%v", c.id, n, c.height)
}

// Run mines a block on every tick until the context is cancelled.
func (c *Chain) Run(ctx context.Context, blockTicker ticker.Ticker) {
	blockTicker.Resume()
	defer blockTicker.Stop()

	for {
		select {
		case <-blockTicker.Ticks():
			c.Mine(1)

		case <-ctx.Done():
			return
		}
	}
}
