package fsm

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// CachedObserver is an observer that caches the most recent notifications of
// the observed state machine and lets callers wait for a state.
type CachedObserver struct {
	lastNotification    Notification
	cachedNotifications *FixedSizeSlice[Notification]

	notificationCond *sync.Cond
	notificationMx   sync.Mutex
}

// NewCachedObserver creates a new cached observer with the given maximum
// number of cached notifications.
func NewCachedObserver(maxElements int) *CachedObserver {
	observer := &CachedObserver{
		cachedNotifications: NewFixedSizeSlice[Notification](
			maxElements,
		),
	}
	observer.notificationCond = sync.NewCond(&observer.notificationMx)

	return observer
}

// Notify implements the Observer interface.
func (c *CachedObserver) Notify(notification Notification) {
	c.notificationMx.Lock()
	defer c.notificationMx.Unlock()

	c.cachedNotifications.Add(notification)
	c.lastNotification = notification
	c.notificationCond.Broadcast()
}

// GetCachedNotifications returns a copy of the cached notifications.
func (c *CachedObserver) GetCachedNotifications() []Notification {
	c.notificationMx.Lock()
	defer c.notificationMx.Unlock()

	return c.cachedNotifications.Get()
}

// LastState returns the state of the most recent notification.
func (c *CachedObserver) LastState() StateType {
	c.notificationMx.Lock()
	defer c.notificationMx.Unlock()

	return c.lastNotification.NextState
}

// WaitForStateOption is an option that can be passed to WaitForState.
type WaitForStateOption func(*waitOptions)

// waitOptions holds the options of a single wait.
type waitOptions struct {
	abortOnError bool
	abortStates  map[StateType]struct{}
}

// WithAbortEarlyOnErrorOption makes the waiter return ErrStateMachineError
// once the machine processed an OnError event.
func WithAbortEarlyOnErrorOption() WaitForStateOption {
	return func(o *waitOptions) {
		o.abortOnError = true
	}
}

// WithAbortStates makes the waiter return ErrUnexpectedState once the
// machine entered one of the given states, e.g. a final state other than
// the awaited one.
func WithAbortStates(states ...StateType) WaitForStateOption {
	return func(o *waitOptions) {
		if o.abortStates == nil {
			o.abortStates = make(map[StateType]struct{}, len(states))
		}

		for _, state := range states {
			o.abortStates[state] = struct{}{}
		}
	}
}

// WaitForState waits at most timeout for the state machine to reach the
// given state.
func (c *CachedObserver) WaitForState(ctx context.Context,
	timeout time.Duration, state StateType,
	opts ...WaitForStateOption) error {

	var options waitOptions
	for _, opt := range opts {
		opt(&options)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ch := c.waitForStateAsync(timeoutCtx, state, &options)

	select {
	case <-timeoutCtx.Done():
		return NewErrWaitingForStateTimeout(state, c.LastState())

	case err := <-ch:
		return err
	}
}

// waitForStateAsync waits until the context is canceled or the expected
// state is reached. The returned channel receives exactly one result.
func (c *CachedObserver) waitForStateAsync(ctx context.Context,
	state StateType, options *waitOptions) chan error {

	ch := make(chan error, 1)

	// Wake the waiter up once the context is done, it would otherwise
	// sleep on the condition variable until the next notification.
	stop := context.AfterFunc(ctx, func() {
		c.notificationMx.Lock()
		defer c.notificationMx.Unlock()

		c.notificationCond.Broadcast()
	})

	go func() {
		defer stop()

		c.notificationMx.Lock()
		defer c.notificationMx.Unlock()

		for {
			last := c.lastNotification
			if last.NextState == state {
				ch <- nil
				return
			}

			if options.abortOnError && last.Event == OnError {
				ch <- ErrStateMachineError
				return
			}

			if _, ok := options.abortStates[last.NextState]; ok {
				ch <- fmt.Errorf("%w: expected %s, actual: %s",
					ErrUnexpectedState, state,
					last.NextState)
				return
			}

			if ctx.Err() != nil {
				ch <- NewErrWaitingForStateTimeout(
					state, last.NextState,
				)
				return
			}

			c.notificationCond.Wait()
		}
	}()

	return ch
}

// FixedSizeSlice is a slice with a fixed size.
type FixedSizeSlice[T any] struct {
	data   []T
	maxLen int

	sync.Mutex
}

// NewFixedSizeSlice initializes a new FixedSizeSlice with a given maximum
// length.
func NewFixedSizeSlice[T any](maxLen int) *FixedSizeSlice[T] {
	return &FixedSizeSlice[T]{
		data:   make([]T, 0, maxLen),
		maxLen: maxLen,
	}
}

// Add appends a new element to the slice. If the slice reached its maximum
// length, the oldest element is dropped.
func (fs *FixedSizeSlice[T]) Add(element T) {
	fs.Lock()
	defer fs.Unlock()

	if len(fs.data) == fs.maxLen {
		fs.data = fs.data[1:]
	}
	fs.data = append(fs.data, element)
}

// Get returns a copy of the slice.
func (fs *FixedSizeSlice[T]) Get() []T {
	fs.Lock()
	defer fs.Unlock()

	data := make([]T, len(fs.data))
	copy(data, fs.data)

	return data
}
