package swap

import (
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/clock"
)

// MonotonicClock wraps a clock so that Now never goes backwards, even if the
// underlying wall clock is adjusted.
type MonotonicClock struct {
	clock.Clock

	mu   sync.Mutex
	last time.Time
}

// A compile time check to ensure MonotonicClock implements clock.Clock.
var _ clock.Clock = (*MonotonicClock)(nil)

// NewMonotonicClock wraps the given clock.
func NewMonotonicClock(c clock.Clock) *MonotonicClock {
	return &MonotonicClock{
		Clock: c,
	}
}

// Now returns the later of the underlying clock's time and the last time
// returned.
func (m *MonotonicClock) Now() time.Time {
	now := m.Clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if now.Before(m.last) {
		log.Warnf("Clock moved backwards by %v, holding time at %v",
			m.last.Sub(now), m.last)

		return m.last
	}

	m.last = now

	return now
}
