// Package migration waits for the backend to merge a guest cart into the
// user's cart after login and adopts the merged cart once it is visible.
package migration

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/utafrali/storefront-sync/internal/domain"
	"github.com/utafrali/storefront-sync/internal/event"
	apperrors "github.com/utafrali/storefront-sync/pkg/errors"
	"github.com/utafrali/storefront-sync/pkg/poll"
)

// Outcome is how a migration run ended.
type Outcome int

const (
	// Converged means a non-empty merged cart was observed and adopted.
	Converged Outcome = iota
	// TimedOut means every attempt saw an empty cart.
	TimedOut
	// Skipped means the guest cart was known empty, so one plain refetch ran.
	Skipped
	// Canceled means the run was superseded or its context ended.
	Canceled
)

func (o Outcome) String() string {
	switch o {
	case Converged:
		return "converged"
	case TimedOut:
		return "timed_out"
	case Skipped:
		return "skipped"
	case Canceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Report describes a finished run. Err is a MigrationTimeout for TimedOut.
type Report struct {
	LoginID  string
	Outcome  Outcome
	Attempts int
	Cart     domain.Cart
	Err      error
}

// CartSync is the cart engine's rebase path.
type CartSync interface {
	Snapshot() (domain.Cart, bool)
	Epoch() uint64
	Adopt(epoch uint64, c domain.Cart) bool
}

// Fetcher reads the remote cart.
type Fetcher interface {
	GetCart(ctx context.Context) (domain.Cart, error)
}

// Recorder receives finished runs.
type Recorder interface {
	MigrationFinished(ctx context.Context, d event.MigrationFinishedData)
}

// Config bounds the polling.
type Config struct {
	Settle      time.Duration
	MaxAttempts int
	Step        time.Duration
}

// DefaultConfig returns the standard polling bounds.
func DefaultConfig() Config {
	return Config{
		Settle:      500 * time.Millisecond,
		MaxAttempts: 6,
		Step:        300 * time.Millisecond,
	}
}

// Reconciler runs at most one migration at a time and each login id once.
type Reconciler struct {
	cfg    Config
	cart   CartSync
	remote Fetcher
	events Recorder
	logger *slog.Logger

	mu      sync.Mutex
	seen    map[string]struct{}
	running chan struct{}
	cancel  context.CancelFunc
	last    *Report
}

// NewReconciler creates a reconciler. events may be nil.
func NewReconciler(cfg Config, cart CartSync, remote Fetcher, events Recorder, logger *slog.Logger) *Reconciler {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	return &Reconciler{
		cfg:    cfg,
		cart:   cart,
		remote: remote,
		events: events,
		logger: logger,
		seen:   make(map[string]struct{}),
	}
}

// Trigger starts the migration for loginID in the background and reports
// whether a run was started. A repeated loginID is ignored. A run still in
// progress for an earlier login is canceled. ctx bounds the run and should
// outlive the caller's request.
func (r *Reconciler) Trigger(ctx context.Context, loginID string) bool {
	r.mu.Lock()
	if _, ok := r.seen[loginID]; ok {
		r.mu.Unlock()
		return false
	}
	r.seen[loginID] = struct{}{}
	if r.cancel != nil {
		r.cancel()
	}

	guest, known := r.cart.Snapshot()
	skip := known && guest.IsEmpty()
	epoch := r.cart.Epoch()

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	prev := r.running
	r.running = done
	r.cancel = cancel
	r.mu.Unlock()

	go func() {
		defer close(done)
		defer cancel()
		if prev != nil {
			<-prev
		}
		rep := r.run(runCtx, loginID, epoch, skip)

		r.mu.Lock()
		r.last = &rep
		if r.running == done {
			r.running = nil
			r.cancel = nil
		}
		r.mu.Unlock()
	}()
	return true
}

// Wait blocks until no run is outstanding. It returns ctx.Err() if ctx ends
// first.
func (r *Reconciler) Wait(ctx context.Context) error {
	for {
		r.mu.Lock()
		done := r.running
		r.mu.Unlock()
		if done == nil {
			return nil
		}
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Pending reports whether a run is outstanding.
func (r *Reconciler) Pending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running != nil
}

// Last returns the most recent finished run.
func (r *Reconciler) Last() (Report, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return Report{}, false
	}
	return *r.last, true
}

// Cancel stops any outstanding run, typically on logout.
func (r *Reconciler) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
	}
}

func (r *Reconciler) run(ctx context.Context, loginID string, epoch uint64, skip bool) Report {
	log := r.logger.With(slog.String("login_id", loginID))
	rep := Report{LoginID: loginID}

	policy := poll.Policy{
		Settle:      r.cfg.Settle,
		MaxAttempts: r.cfg.MaxAttempts,
		Step:        r.cfg.Step,
		Notify: func(err error, next time.Duration) {
			log.DebugContext(ctx, "merged cart not visible yet",
				slog.Duration("next", next),
				slog.String("reason", err.Error()),
			)
		},
	}
	accept := func(c domain.Cart) bool {
		return c.TotalItems > 0 && len(c.Items) > 0
	}
	if skip {
		policy = poll.Policy{MaxAttempts: 1}
		accept = nil
	}

	res, err := poll.Until(ctx, policy, r.remote.GetCart, accept)
	rep.Attempts = res.Attempts

	switch {
	case res.Outcome == poll.Canceled:
		rep.Outcome = Canceled
		rep.Err = err
		log.InfoContext(ctx, "cart migration canceled", slog.Int("attempts", res.Attempts))
	case res.Outcome == poll.Converged:
		rep.Outcome = Converged
		if skip {
			rep.Outcome = Skipped
		}
		rep.Cart = res.Value
		if !r.cart.Adopt(epoch, res.Value) {
			rep.Outcome = Canceled
			log.InfoContext(ctx, "identity changed during cart migration, result discarded")
			break
		}
		log.InfoContext(ctx, "cart migration finished",
			slog.String("outcome", rep.Outcome.String()),
			slog.Int("attempts", res.Attempts),
			slog.Int("total_items", res.Value.TotalItems),
		)
	case skip:
		// Nothing to merge; a failed refetch only means the cart stays as is.
		rep.Outcome = Skipped
		rep.Err = res.LastErr
		log.WarnContext(ctx, "cart refetch after login failed", slog.Any("error", res.LastErr))
	default:
		rep.Outcome = TimedOut
		rep.Err = apperrors.MigrationTimeout(res.Attempts)
		log.WarnContext(ctx, "cart migration timed out",
			slog.Int("attempts", res.Attempts),
			slog.Any("last_error", res.LastErr),
		)
	}

	outcomesTotal.WithLabelValues(rep.Outcome.String()).Inc()
	attemptsHistogram.Observe(float64(rep.Attempts))

	if r.events != nil && rep.Outcome != Canceled {
		r.events.MigrationFinished(context.WithoutCancel(ctx), event.MigrationFinishedData{
			LoginID:    loginID,
			Outcome:    rep.Outcome.String(),
			Attempts:   rep.Attempts,
			TotalItems: rep.Cart.TotalItems,
		})
	}
	return rep
}
