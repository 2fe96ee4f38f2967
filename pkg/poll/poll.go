// Package poll runs a fetch repeatedly until its result is accepted or a
// bounded number of attempts is used up.
package poll

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Outcome is the terminal state of a poll.
type Outcome int

const (
	// Converged means a fetched value was accepted.
	Converged Outcome = iota
	// Exhausted means every attempt ran without an accepted value.
	Exhausted
	// Failed means the fetch returned a permanent error.
	Failed
	// Canceled means the context ended first.
	Canceled
)

func (o Outcome) String() string {
	switch o {
	case Converged:
		return "converged"
	case Exhausted:
		return "exhausted"
	case Failed:
		return "failed"
	case Canceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Policy bounds a poll. The n-th wait between attempts is n*Step.
type Policy struct {
	Settle      time.Duration
	MaxAttempts int
	Step        time.Duration
	// Notify, if set, is called before each wait.
	Notify func(err error, next time.Duration)
}

// Result carries the outcome, the number of fetches issued and the last value
// seen (accepted or not).
type Result[T any] struct {
	Outcome  Outcome
	Attempts int
	Value    T
	Seen     bool
	LastErr  error
}

var errNotAccepted = errors.New("value not accepted")

// Permanent marks err so the poll stops immediately with Failed.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Linear is a backoff.BackOff whose delays grow by Step on every call.
type Linear struct {
	Step time.Duration
	n    int64
}

// NextBackOff implements backoff.BackOff.
func (l *Linear) NextBackOff() time.Duration {
	l.n++
	return time.Duration(l.n) * l.Step
}

// Reset implements backoff.BackOff.
func (l *Linear) Reset() { l.n = 0 }

// Until waits p.Settle, then calls fetch until accept returns true for its
// result. A nil accept takes the first successful fetch. Transient fetch
// errors count as attempts. The returned error is non-nil only for Failed and
// Canceled.
func Until[T any](ctx context.Context, p Policy, fetch func(context.Context) (T, error), accept func(T) bool) (Result[T], error) {
	var res Result[T]

	if p.Settle > 0 {
		timer := time.NewTimer(p.Settle)
		select {
		case <-ctx.Done():
			timer.Stop()
			res.Outcome = Canceled
			return res, ctx.Err()
		case <-timer.C:
		}
	}

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	permanent := false
	op := func() (T, error) {
		res.Attempts++
		v, err := fetch(ctx)
		if err != nil {
			var pe *backoff.PermanentError
			if errors.As(err, &pe) {
				permanent = true
			}
			res.LastErr = err
			return v, err
		}
		res.Value = v
		res.Seen = true
		if accept != nil && !accept(v) {
			return v, errNotAccepted
		}
		return v, nil
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(&Linear{Step: p.Step}),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithMaxElapsedTime(0),
	}
	if p.Notify != nil {
		opts = append(opts, backoff.WithNotify(p.Notify))
	}

	v, err := backoff.Retry(ctx, op, opts...)
	switch {
	case err == nil:
		res.Value = v
		res.Outcome = Converged
		return res, nil
	case permanent:
		res.Outcome = Failed
		return res, err
	case ctx.Err() != nil:
		res.Outcome = Canceled
		return res, ctx.Err()
	default:
		res.Outcome = Exhausted
		return res, nil
	}
}
