package session

import (
	"sync"
	"time"
)

// Codes records which authorization codes are already being exchanged.
// The callback handler can be invoked twice for the same single-use code;
// the marker is set synchronously before the exchange call is issued,
// which closes the race between two near-simultaneous invocations.
type Codes struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
}

// NewCodes creates a marker set whose entries expire after ttl.
func NewCodes(ttl time.Duration) *Codes {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Codes{
		seen: make(map[string]time.Time),
		ttl:  ttl,
	}
}

// MarkProcessing records the code as in flight. It returns false when the
// code is already marked, in which case the caller must not exchange it
// again.
func (c *Codes) MarkProcessing(code string) bool {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	for k, t := range c.seen {
		if now.Sub(t) > c.ttl {
			delete(c.seen, k)
		}
	}

	if _, ok := c.seen[code]; ok {
		return false
	}
	c.seen[code] = now
	return true
}

// Release removes the marker so a failed exchange can be retried. On
// success the marker is left in place; the code is consumed either way.
func (c *Codes) Release(code string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.seen, code)
}
