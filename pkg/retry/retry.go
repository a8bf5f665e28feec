package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout is returned when a policy runs out of attempts or time.
var ErrTimeout = errors.New("retry: timed out")

// Policy bounds a polling loop. A zero MaxAttempts or MaxDuration disables
// that particular bound. When both are zero, Do falls back to
// DefaultMaxDuration; a policy is never unbounded.
type Policy struct {
	Interval    time.Duration
	MaxAttempts int
	MaxDuration time.Duration
}

// Default policies. All of them poll once per second.
var (
	DefaultReady = Policy{Interval: time.Second, MaxAttempts: 30, MaxDuration: 30 * time.Second}
	DefaultStop  = Policy{Interval: time.Second, MaxAttempts: 15, MaxDuration: 15 * time.Second}
	DefaultBind  = Policy{Interval: time.Second, MaxAttempts: 10, MaxDuration: 10 * time.Second}
)

// DefaultMaxDuration bounds a policy that sets neither MaxAttempts nor
// MaxDuration.
const DefaultMaxDuration = 30 * time.Second

// Unbounded reports whether p sets neither an attempt nor a time limit.
func (p Policy) Unbounded() bool {
	return p.MaxAttempts <= 0 && p.MaxDuration <= 0
}

// OrDefault returns p, or def when p is the zero Policy. A p that only
// sets Interval keeps it and takes its bounds from def.
func (p Policy) OrDefault(def Policy) Policy {
	if p == (Policy{}) {
		return def
	}
	if p.Unbounded() {
		p.MaxAttempts = def.MaxAttempts
		p.MaxDuration = def.MaxDuration
	}
	return p
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Do returns the wrapped error
// immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do calls fn until it returns nil, a permanent error, the context is done
// or the policy is exhausted. Attempts are numbered from 1.
func Do(ctx context.Context, p Policy, fn func(attempt int) error) error {
	if p.Interval <= 0 {
		p.Interval = time.Second
	}
	if p.Unbounded() {
		p.MaxDuration = DefaultMaxDuration
	}
	var deadline time.Time
	if p.MaxDuration > 0 {
		deadline = time.Now().Add(p.MaxDuration)
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(attempt)
		if lastErr == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(lastErr, &perm) {
			return perm.err
		}

		if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
			return fmt.Errorf("%w after %d attempts: %w", ErrTimeout, attempt, lastErr)
		}
		if !deadline.IsZero() && time.Now().Add(p.Interval).After(deadline) {
			return fmt.Errorf("%w after %s: %w", ErrTimeout, p.MaxDuration, lastErr)
		}

		timer := time.NewTimer(p.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
