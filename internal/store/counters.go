package store

import (
	"sync"

	"github.com/utafrali/storefront-sync/internal/domain"
)

// Counters is the single source of truth for the badge counts. It is not
// derived from the cache; engines write both.
type Counters struct {
	mu     sync.Mutex
	snap   domain.CounterSnapshot
	subs   []counterSub
	nextID uint64
}

type counterSub struct {
	id uint64
	fn func(domain.CounterSnapshot)
}

// NewCounters returns zeroed counters.
func NewCounters() *Counters {
	return &Counters{}
}

// SetCartCount stores n (clamped at zero) and notifies subscribers.
func (c *Counters) SetCartCount(n int) {
	c.update(func(s *domain.CounterSnapshot) { s.CartCount = clamp(n) })
}

// SetWishlistCount stores n (clamped at zero) and notifies subscribers.
func (c *Counters) SetWishlistCount(n int) {
	c.update(func(s *domain.CounterSnapshot) { s.WishlistCount = clamp(n) })
}

// Snapshot returns the current counts.
func (c *Counters) Snapshot() domain.CounterSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

// Subscribe registers fn to receive every changed snapshot.
func (c *Counters) Subscribe(fn func(domain.CounterSnapshot)) (unsubscribe func()) {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.subs = append(c.subs, counterSub{id: id, fn: fn})
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			for i, s := range c.subs {
				if s.id == id {
					c.subs = append(c.subs[:i:i], c.subs[i+1:]...)
					return
				}
			}
		})
	}
}

func (c *Counters) update(fn func(*domain.CounterSnapshot)) {
	c.mu.Lock()
	before := c.snap
	fn(&c.snap)
	after := c.snap
	subs := append([]counterSub(nil), c.subs...)
	c.mu.Unlock()

	if before == after {
		return
	}
	for _, s := range subs {
		s.fn(after)
	}
}

func clamp(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
