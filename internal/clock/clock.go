// Package clock abstracts time.Now so services can be tested against a
// deterministic clock. Every timestamp the domain writes flows through a Clock.
package clock

import (
	"sync"
	"time"
)

// Clock returns the current UTC instant.
type Clock interface {
	Now() time.Time
}

// System is the real wall clock.
type System struct{}

func (System) Now() time.Time {
	return time.Now().UTC()
}

// Manual is a hand-advanced clock for tests.
type Manual struct {
	mu sync.Mutex
	t  time.Time
}

func NewManual(t time.Time) *Manual {
	return &Manual{t: t.UTC()}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.t = m.t.Add(d)
}

// Set pins the clock to t.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.t = t.UTC()
}
