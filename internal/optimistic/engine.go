// Package optimistic applies a mutation's expected effect locally, commits
// it remotely, then reconciles with the server response or rolls back.
//
// Mutations on one engine are queued in submission order. Remote commits run
// one at a time, and the state shown in the cache is always the pending
// projections folded, in order, over the last confirmed snapshot. A failed
// mutation is dropped from the queue and the fold is recomputed, which
// restores exactly what would be visible had it never been submitted.
package optimistic

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/utafrali/storefront-sync/internal/store"
)

// Mutation describes one optimistic write. Project receives a private copy
// of the current visible state and may modify it in place. A nil Project
// skips the optimistic step.
type Mutation[T any] struct {
	Name    string
	Project func(T) T
	Commit  func(ctx context.Context) (T, error)
}

// Config wires an engine to its cache key and counter.
type Config[T any] struct {
	Entity   string
	Key      string
	Cache    *store.Cache
	Clone    func(T) T
	Count    func(T) int
	SetCount func(int)
	Logger   *slog.Logger

	// OnRollback, if set, is called after a failed commit has been undone.
	OnRollback func(ctx context.Context, op string, err error)
}

type pending[T any] struct {
	op      string
	project func(T) T
}

// Engine is the single writer for one cache key and its counter.
type Engine[T any] struct {
	cfg Config[T]

	mu      sync.Mutex
	base    T
	hasBase bool
	epoch   uint64
	version uint64
	queue   []*pending[T]
	tail    chan struct{}
}

// New creates an engine with no confirmed snapshot.
func New[T any](cfg Config[T]) *Engine[T] {
	if cfg.Clone == nil {
		cfg.Clone = func(v T) T { return v }
	}
	return &Engine[T]{cfg: cfg}
}

// Mutate runs m through the optimistic protocol and returns the server's
// response. On failure the local state is restored and the error is
// returned unchanged. Mutations are never retried.
func (e *Engine[T]) Mutate(ctx context.Context, m Mutation[T]) (T, error) {
	var zero T

	e.mu.Lock()
	epoch := e.epoch
	var p *pending[T]
	if e.hasBase && m.Project != nil {
		p = &pending[T]{op: m.Name, project: m.Project}
		e.queue = append(e.queue, p)
		e.applyLocked()
	}
	queueDepth.WithLabelValues(e.cfg.Entity).Set(float64(len(e.queue)))
	prev := e.tail
	done := make(chan struct{})
	e.tail = done
	e.mu.Unlock()

	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			e.settle(epoch, p, zero, ctx.Err())
			go func() {
				<-prev
				close(done)
			}()
			mutationsTotal.WithLabelValues(e.cfg.Entity, m.Name, "canceled").Inc()
			return zero, ctx.Err()
		}
	}
	defer close(done)

	start := time.Now()
	v, err := m.Commit(ctx)
	commitDuration.WithLabelValues(e.cfg.Entity, m.Name).Observe(time.Since(start).Seconds())

	e.settle(epoch, p, v, err)

	if err != nil {
		mutationsTotal.WithLabelValues(e.cfg.Entity, m.Name, "rolled_back").Inc()
		e.cfg.Logger.WarnContext(ctx, "optimistic update rolled back",
			slog.String("entity", e.cfg.Entity),
			slog.String("op", m.Name),
			slog.String("error", err.Error()),
		)
		if e.cfg.OnRollback != nil {
			e.cfg.OnRollback(ctx, m.Name, err)
		}
		return zero, err
	}

	mutationsTotal.WithLabelValues(e.cfg.Entity, m.Name, "confirmed").Inc()
	return v, nil
}

// settle removes p from the queue, adopts v as the confirmed snapshot when
// err is nil, and republishes the fold. Nothing is written if the engine was
// reset since the mutation was submitted.
func (e *Engine[T]) settle(epoch uint64, p *pending[T], v T, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if epoch != e.epoch {
		return
	}
	if p != nil {
		for i, q := range e.queue {
			if q == p {
				e.queue = append(e.queue[:i:i], e.queue[i+1:]...)
				break
			}
		}
	}
	if err == nil {
		e.base = e.cfg.Clone(v)
		e.hasBase = true
		e.version++
	}
	queueDepth.WithLabelValues(e.cfg.Entity).Set(float64(len(e.queue)))
	if e.hasBase {
		e.applyLocked()
	}
}

// Rebase replaces the confirmed snapshot from outside a mutation (refetch,
// migration) and refolds pending projections on top of it.
func (e *Engine[T]) Rebase(v T) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rebaseLocked(v)
}

// Epoch identifies the current identity generation. It changes on Reset.
func (e *Engine[T]) Epoch() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.epoch
}

// RebaseAt is Rebase guarded by an epoch read before the value was fetched.
// It reports false, writing nothing, if a Reset happened in between.
func (e *Engine[T]) RebaseAt(epoch uint64, v T) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if epoch != e.epoch {
		return false
	}
	e.rebaseLocked(v)
	return true
}

// Version changes every time the confirmed snapshot is replaced and on
// Reset. A value fetched after reading Version is only newer than the
// confirmed snapshot if Version has not moved since.
func (e *Engine[T]) Version() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.version
}

// RebaseIfUnchanged is Rebase guarded by a Version read before v was
// fetched. It reports false, writing nothing, if the confirmed snapshot was
// replaced or the engine was reset in between.
func (e *Engine[T]) RebaseIfUnchanged(version uint64, v T) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if version != e.version {
		return false
	}
	e.rebaseLocked(v)
	return true
}

// Reset forgets the confirmed snapshot and pending projections, deletes the
// cache entry and zeroes the counter. In-flight commits finish but no longer
// write.
func (e *Engine[T]) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	var zero T
	e.epoch++
	e.version++
	e.base = zero
	e.hasBase = false
	e.queue = nil
	queueDepth.WithLabelValues(e.cfg.Entity).Set(0)
	e.cfg.Cache.Delete(e.cfg.Key)
	if e.cfg.SetCount != nil {
		e.cfg.SetCount(0)
	}
}

// Current returns the visible state and whether a confirmed snapshot exists.
func (e *Engine[T]) Current() (T, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.hasBase {
		var zero T
		return zero, false
	}
	return e.foldLocked(), true
}

// Confirmed returns the last confirmed snapshot, ignoring pending projections.
func (e *Engine[T]) Confirmed() (T, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.Clone(e.base), e.hasBase
}

// Pending returns the number of queued projections.
func (e *Engine[T]) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

func (e *Engine[T]) rebaseLocked(v T) {
	e.base = e.cfg.Clone(v)
	e.hasBase = true
	e.version++
	e.applyLocked()
}

func (e *Engine[T]) foldLocked() T {
	v := e.cfg.Clone(e.base)
	for _, p := range e.queue {
		v = p.project(v)
	}
	return v
}

// applyLocked is the only place the cache entry and the counter are written.
// Both writes happen under e.mu so two folds can never land out of order.
func (e *Engine[T]) applyLocked() {
	v := e.foldLocked()
	e.cfg.Cache.Set(e.cfg.Key, v)
	if e.cfg.SetCount != nil && e.cfg.Count != nil {
		e.cfg.SetCount(e.cfg.Count(v))
	}
}
