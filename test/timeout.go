package test

import (
	"fmt"
	"os"
	"runtime/pprof"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
)

// DefaultGuardTimeout is the time a guarded test may run.
const DefaultGuardTimeout = 5 * time.Second

// GuardOption modifies a test guard.
type GuardOption func(*guardOptions)

type guardOptions struct {
	timeout time.Duration
}

// WithGuardTimeout overrides the time the guarded test may run, e.g. for
// tests that restart a daemon.
func WithGuardTimeout(timeout time.Duration) GuardOption {
	return func(o *guardOptions) {
		o.timeout = timeout
	}
}

// Guard implements a test level timeout and checks for leaked goroutines once
// the returned function is called. A test that exceeds its timeout dumps all
// goroutines and panics.
func Guard(t *testing.T, opts ...GuardOption) func() {
	options := guardOptions{
		timeout: DefaultGuardTimeout,
	}
	for _, opt := range opts {
		opt(&options)
	}

	name := t.Name()
	done := make(chan struct{})
	go func() {
		select {
		case <-time.After(options.timeout):
			err := pprof.Lookup("goroutine").WriteTo(os.Stderr, 1)
			if err != nil {
				panic(err)
			}

			panic(fmt.Sprintf("%v: test timeout after %v", name,
				options.timeout))

		case <-done:
		}
	}()

	checkLeaks := leaktest.Check(t)

	return func() {
		close(done)
		checkLeaks()
	}
}
