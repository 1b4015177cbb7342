package clock

import (
	"sync"
	"time"
)

type Clock interface {
	Now() time.Time
}

type System struct{}

func (System) Now() time.Time {
	return time.Now()
}

// Mock is a settable Clock for tests. It may be read from other goroutines
// while the test moves it.
type Mock struct {
	mu       sync.Mutex
	FixedNow time.Time
}

func NewMock(now time.Time) *Mock {
	return &Mock{FixedNow: now}
}

func (m *Mock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.FixedNow
}

func (m *Mock) SetNow(now time.Time) {
	m.mu.Lock()
	m.FixedNow = now
	m.mu.Unlock()
}

func (m *Mock) Advance(d time.Duration) {
	m.mu.Lock()
	m.FixedNow = m.FixedNow.Add(d)
	m.mu.Unlock()
}
