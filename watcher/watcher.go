package watcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/swapbridge/swapbridge/chain"
)

var (
	// ErrLockNotObserved is returned when a lock transaction didn't reach
	// its confirmation depth: the ledger kept reporting it as unknown, the
	// adapter kept failing or the maximum wait elapsed.
	ErrLockNotObserved = errors.New("lock not observed")
)

// ChainSource resolves the adapter of a chain.
type ChainSource interface {
	// Adapter returns the adapter registered for the given chain.
	Adapter(id chain.ID) (chain.Adapter, error)
}

// Config holds the watcher's dependencies and polling bounds.
type Config struct {
	// Chains resolves the adapter to poll.
	Chains ChainSource

	// Clock is the time source used for polling intervals and the
	// maximum wait.
	Clock clock.Clock

	// PollInterval is the interval between two confirmation polls.
	PollInterval time.Duration

	// MaxWait is the maximum time a transaction is watched for before
	// it's reported as not observed.
	MaxWait time.Duration

	// MaxRetries is the number of consecutive transient adapter failures
	// tolerated.
	MaxRetries int

	// MaxNotFoundPolls is the number of consecutive polls the ledger may
	// report the transaction as unknown.
	MaxNotFoundPolls int

	// InitialBackoff is the first wait after a transient failure.
	InitialBackoff time.Duration

	// MaxBackoff caps the wait between retries.
	MaxBackoff time.Duration

	// CallTimeout bounds every adapter call.
	CallTimeout time.Duration
}

// Validate checks that the config is complete.
func (c *Config) Validate() error {
	switch {
	case c.Chains == nil:
		return errors.New("chain source must be set")

	case c.Clock == nil:
		return errors.New("clock must be set")

	case c.PollInterval <= 0:
		return errors.New("poll interval must be positive")

	case c.MaxWait <= 0:
		return errors.New("max wait must be positive")

	case c.MaxRetries < 0:
		return errors.New("max retries must not be negative")

	case c.MaxNotFoundPolls <= 0:
		return errors.New("max not found polls must be positive")

	case c.InitialBackoff <= 0 || c.MaxBackoff < c.InitialBackoff:
		return fmt.Errorf("invalid backoff bounds [%v, %v]",
			c.InitialBackoff, c.MaxBackoff)

	case c.CallTimeout <= 0:
		return errors.New("call timeout must be positive")
	}

	return nil
}

// Request describes a transaction to watch.
type Request struct {
	// Chain is the chain the transaction was submitted to.
	Chain chain.ID

	// TxRef references the transaction.
	TxRef chain.TxRef

	// RequiredConfs is the confirmation depth to wait for.
	RequiredConfs uint32
}

// String returns a short description of the request for logging.
func (r Request) String() string {
	return fmt.Sprintf("%v:%v", r.Chain, r.TxRef)
}

// Event is the single result of watching a transaction.
type Event struct {
	Request

	// Confirmations is the depth the transaction had when it was reported
	// as confirmed.
	Confirmations uint32

	// Err is set if the transaction didn't confirm. It either wraps
	// ErrLockNotObserved, is a permanent chain.AdapterError or is the
	// context error if watching was cancelled.
	Err error
}

// Watcher polls chain adapters until transactions reach their required
// confirmation depth.
type Watcher struct {
	cfg *Config
}

// New creates a new watcher.
func New(cfg *Config) (*Watcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Watcher{
		cfg: cfg,
	}, nil
}

// Watch starts watching the transaction in the background. The returned
// channel yields exactly one event and is closed afterwards.
func (w *Watcher) Watch(ctx context.Context, req Request) <-chan Event {
	events := make(chan Event, 1)

	go func() {
		defer close(events)

		confs, err := w.WaitForConfirmations(ctx, req)
		events <- Event{
			Request:       req,
			Confirmations: confs,
			Err:           err,
		}
	}()

	return events
}

// newBackoff returns the retry interval generator for transient failures.
// Only its intervals are used, waiting happens on the watcher's clock.
func (w *Watcher) newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.cfg.InitialBackoff
	b.MaxInterval = w.cfg.MaxBackoff
	b.MaxElapsedTime = 0
	b.Reset()

	return b
}

// WaitForConfirmations blocks until the transaction reached its required
// confirmation depth and returns the depth observed.
func (w *Watcher) WaitForConfirmations(ctx context.Context,
	req Request) (uint32, error) {

	adapter, err := w.cfg.Chains.Adapter(req.Chain)
	if err != nil {
		return 0, err
	}

	var (
		deadline = w.cfg.Clock.Now().Add(w.cfg.MaxWait)
		retry    = w.newBackoff()
		failures int
		notFound int
	)

	log.Debugf("Watching %v for %v confirmations", req, req.RequiredConfs)

	for {
		callCtx, cancel := context.WithTimeout(ctx, w.cfg.CallTimeout)
		confs, err := adapter.GetConfirmations(callCtx, req.TxRef)
		cancel()

		wait := w.cfg.PollInterval

		switch {
		case err == nil:
			failures = 0
			notFound = 0
			retry.Reset()

			if confs >= req.RequiredConfs {
				log.Debugf("%v reached %v confirmations", req,
					confs)

				return confs, nil
			}

			log.Tracef("%v has %v/%v confirmations", req, confs,
				req.RequiredConfs)

		case ctx.Err() != nil:
			return 0, ctx.Err()

		case errors.Is(err, chain.ErrTxNotFound):
			failures = 0
			retry.Reset()

			notFound++
			if notFound >= w.cfg.MaxNotFoundPolls {
				return 0, fmt.Errorf("%w: %v not found after "+
					"%v polls", ErrLockNotObserved, req,
					notFound)
			}

			log.Debugf("%v not found (%v/%v)", req, notFound,
				w.cfg.MaxNotFoundPolls)

		case chain.IsTransient(err):
			failures++
			if failures > w.cfg.MaxRetries {
				return 0, fmt.Errorf("%w: %v retries "+
					"exhausted: %w", ErrLockNotObserved,
					req, err)
			}

			wait = retry.NextBackOff()

			log.Warnf("Polling %v failed (attempt %v/%v), retrying "+
				"in %v: %v", req, failures, w.cfg.MaxRetries,
				wait, err)

		default:
			return 0, chain.WrapError(req.Chain, "confirmations",
				err)
		}

		if !w.cfg.Clock.Now().Before(deadline) {
			return 0, fmt.Errorf("%w: %v not confirmed within %v",
				ErrLockNotObserved, req, w.cfg.MaxWait)
		}

		select {
		case <-w.cfg.Clock.TickAfter(wait):

		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}
