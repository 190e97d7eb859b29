package crank

import (
	"sync"
	"time"
)

// Cooldown suppresses immediate re-attempts of a recently failed work item.
// Distinct from the Locker: the lock guards concurrent execution, the
// cooldown guards temporal re-attempt rate. Entries clear on success or age
// out after double the window.
type Cooldown struct {
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]time.Time
}

func NewCooldown(window time.Duration) *Cooldown {
	return &Cooldown{
		window:  window,
		now:     time.Now,
		entries: make(map[string]time.Time),
	}
}

// Active reports whether key is still inside its cooldown window.
func (c *Cooldown) Active(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	lastFailure, ok := c.entries[key]
	if !ok {
		return false
	}
	return c.now().Sub(lastFailure) < c.window
}

// Trip records a failure for key, starting (or restarting) its window.
func (c *Cooldown) Trip(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = c.now()
}

// Clear removes the entry for key. Called on success.
func (c *Cooldown) Clear(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Sweep drops entries older than twice the window. Cranks call this once
// per poll cycle to keep the map bounded.
func (c *Cooldown) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.now().Add(-2 * c.window)
	for key, lastFailure := range c.entries {
		if lastFailure.Before(cutoff) {
			delete(c.entries, key)
		}
	}
}

// Len returns the live entry count, for metrics.
func (c *Cooldown) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
