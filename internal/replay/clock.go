package replay

import (
	"fmt"
	"sync"
	"time"

	"perpVault/internal/vault"
)

// Clock is the replay's notion of now. It only moves forward.
type Clock struct {
	mu  sync.RWMutex
	now time.Time
}

func NewClock(start time.Time) *Clock {
	return &Clock{now: start.UTC()}
}

func (c *Clock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

// Set moves the clock to t.
func (c *Clock) Set(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.Before(c.now) {
		return fmt.Errorf("%w: time %s is before %s", vault.ErrInvalidRequest,
			t.UTC().Format(time.RFC3339), c.now.Format(time.RFC3339))
	}
	c.now = t.UTC()
	return nil
}
