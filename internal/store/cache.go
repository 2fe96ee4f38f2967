// Package store holds the two local mirrors of remote state: a keyed,
// observable snapshot cache and the global badge counters.
package store

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Well-known cache keys.
const (
	KeyCart          = "cart"
	KeyWishlist      = "wishlist"
	KeyShippingQuote = "checkout/shipping-quote"
)

// Policy controls freshness for one key. Refetch must write its result back
// through the key's owning engine, never through Set directly.
type Policy struct {
	MaxAge  time.Duration
	Refetch func(ctx context.Context) error
}

// Listener receives every change to a matching key. present is false after
// Delete or Clear.
type Listener func(key string, value any, present bool)

type entry struct {
	value     any
	updatedAt time.Time
	stale     bool
}

type subscription struct {
	id     uint64
	prefix string
	fn     Listener
}

// Cache is a keyed store of server-shaped snapshots. Listeners run
// synchronously, after the write is visible and the lock is released, in
// registration order.
type Cache struct {
	mu       sync.Mutex
	entries  map[string]entry
	policies map[string]Policy
	subs     []subscription
	nextID   uint64
	inflight map[string]bool
	rerun    map[string]bool

	group          singleflight.Group
	refetchTimeout time.Duration
	now            func() time.Time
	logger         *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCache creates an empty cache. Background refetches are bounded by
// refetchTimeout (zero means 10s).
func NewCache(logger *slog.Logger, refetchTimeout time.Duration) *Cache {
	if refetchTimeout <= 0 {
		refetchTimeout = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Cache{
		entries:        make(map[string]entry),
		policies:       make(map[string]Policy),
		inflight:       make(map[string]bool),
		rerun:          make(map[string]bool),
		refetchTimeout: refetchTimeout,
		now:            time.Now,
		logger:         logger,
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Attach registers the freshness policy for key, replacing any previous one.
func (c *Cache) Attach(key string, p Policy) {
	c.mu.Lock()
	c.policies[key] = p
	c.mu.Unlock()
}

// Get returns the current snapshot for key. A stale or expired entry is
// still returned, and a background refetch is started if a policy exists.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	e, ok := c.entries[key]
	p, hasPolicy := c.policies[key]
	needsRefetch := ok && hasPolicy && p.Refetch != nil && !c.freshLocked(e, p)
	c.mu.Unlock()

	if needsRefetch {
		c.revalidate(key, false)
	}
	return e.value, ok
}

// Lookup returns the snapshot for key typed as T. A value of another type
// reports absent.
func Lookup[T any](c *Cache, key string) (T, bool) {
	v, ok := c.Get(key)
	if !ok {
		var zero T
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}

// Set overwrites the entry for key and notifies listeners before returning.
func (c *Cache) Set(key string, value any) {
	c.mu.Lock()
	c.entries[key] = entry{value: value, updatedAt: c.now()}
	subs := c.matchingLocked(key)
	c.mu.Unlock()

	for _, s := range subs {
		s.fn(key, value, true)
	}
}

// Invalidate marks key stale. The next Get triggers a refetch.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		e.stale = true
		c.entries[key] = e
	}
	c.mu.Unlock()
}

// Fresh reports whether key is present, not invalidated and within MaxAge.
func (c *Cache) Fresh(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return false
	}
	return c.freshLocked(e, c.policies[key])
}

// Delete removes key and notifies listeners with an absent value.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	_, ok := c.entries[key]
	delete(c.entries, key)
	subs := c.matchingLocked(key)
	c.mu.Unlock()

	if !ok {
		return
	}
	for _, s := range subs {
		s.fn(key, nil, false)
	}
}

// Clear removes every entry. Policies stay attached.
func (c *Cache) Clear() {
	c.mu.Lock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	c.entries = make(map[string]entry)
	c.mu.Unlock()

	for _, k := range keys {
		c.mu.Lock()
		subs := c.matchingLocked(k)
		c.mu.Unlock()
		for _, s := range subs {
			s.fn(k, nil, false)
		}
	}
}

// Subscribe registers fn for every key starting with prefix. An empty prefix
// matches all keys. The returned func removes the subscription.
func (c *Cache) Subscribe(prefix string, fn Listener) (unsubscribe func()) {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.subs = append(c.subs, subscription{id: id, prefix: prefix, fn: fn})
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

// Refresh runs the refetch policy for key and waits for it. Concurrent
// callers for the same key share one call.
func (c *Cache) Refresh(ctx context.Context, key string) error {
	c.mu.Lock()
	p, ok := c.policies[key]
	c.mu.Unlock()
	if !ok || p.Refetch == nil {
		return nil
	}

	ch := c.group.DoChan(key, func() (any, error) {
		return nil, p.Refetch(ctx)
	})
	select {
	case r := <-ch:
		return r.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Revalidate starts a background refetch for key. Called while a refetch
// is already in flight, it schedules one more run after the current one, so
// a write that landed during the fetch is always followed by a fetch that
// started after it.
func (c *Cache) Revalidate(key string) {
	c.revalidate(key, true)
}

func (c *Cache) revalidate(key string, again bool) {
	c.mu.Lock()
	p, ok := c.policies[key]
	if !ok || p.Refetch == nil || c.ctx.Err() != nil {
		c.mu.Unlock()
		return
	}
	if c.inflight[key] {
		if again {
			c.rerun[key] = true
		}
		c.mu.Unlock()
		return
	}
	c.inflight[key] = true
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		for {
			c.refetch(key, p)

			c.mu.Lock()
			if !c.rerun[key] || c.ctx.Err() != nil {
				delete(c.inflight, key)
				delete(c.rerun, key)
				c.mu.Unlock()
				return
			}
			delete(c.rerun, key)
			p = c.policies[key]
			c.mu.Unlock()
		}
	}()
}

func (c *Cache) refetch(key string, p Policy) {
	ctx, cancel := context.WithTimeout(c.ctx, c.refetchTimeout)
	defer cancel()
	_, err, shared := c.group.Do(key, func() (any, error) {
		return nil, p.Refetch(ctx)
	})
	if err != nil && !shared {
		c.logger.Warn("background refetch failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}

// Close cancels in-flight background refetches and waits for them.
func (c *Cache) Close() {
	c.cancel()
	c.wg.Wait()
}

func (c *Cache) freshLocked(e entry, p Policy) bool {
	if e.stale {
		return false
	}
	if p.MaxAge > 0 && c.now().Sub(e.updatedAt) > p.MaxAge {
		return false
	}
	return true
}

func (c *Cache) matchingLocked(key string) []subscription {
	var out []subscription
	for _, s := range c.subs {
		if strings.HasPrefix(key, s.prefix) {
			out = append(out, s)
		}
	}
	return out
}
