package hal

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// SimClock is a mock clock whose Sleep advances time instead of blocking, so
// single goroutine code with delays runs deterministically. Sleep only moves
// Now/Since/Until; timers and tickers follow the embedded mock and Add.
type SimClock struct {
	*clock.Mock

	mu   sync.Mutex
	skew time.Duration
}

// NewSimClock creates a SimClock at the Unix epoch.
func NewSimClock() *SimClock {
	return &SimClock{Mock: clock.NewMock()}
}

func (c *SimClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Mock.Now().Add(c.skew)
}

func (c *SimClock) Since(t time.Time) time.Duration { return c.Now().Sub(t) }

func (c *SimClock) Until(t time.Time) time.Duration { return t.Sub(c.Now()) }

// Sleep advances the clock by d without blocking.
func (c *SimClock) Sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	c.skew += d
	c.mu.Unlock()
}

var _ clock.Clock = (*SimClock)(nil)
