package test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var (
	// Timeout is the default timeout when tests wait for something to
	// happen.
	Timeout = time.Second * 5

	// ErrTimeout is returned on timeout.
	ErrTimeout = errors.New("test timeout")
)

// Receive waits for a value on the given channel and fails the test if none
// arrives within Timeout.
func Receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()

	select {
	case v, ok := <-ch:
		require.True(t, ok, "channel closed")
		return v

	case <-time.After(Timeout):
		t.Fatalf("%v", ErrTimeout)
	}

	var zero T
	return zero
}

// AssertNoValue asserts that no value is sent on the channel within the given
// period.
func AssertNoValue[T any](t *testing.T, ch <-chan T, period time.Duration) {
	t.Helper()

	select {
	case v := <-ch:
		t.Fatalf("unexpected value: %v", v)

	case <-time.After(period):
	}
}
