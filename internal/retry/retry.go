// Package retry retries upstream calls with exponential backoff.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Policy controls how often and how long an upstream call is retried.
type Policy struct {
	Attempts    int           // total attempts, at least 1
	InitialWait time.Duration // wait after the first failure
	MaxWait     time.Duration // cap on a single wait
	Multiplier  float64
	Jitter      float64 // fraction of the wait, 0-1
}

// Upstream is the policy used for remote catalog backends.
func Upstream() Policy {
	return Policy{
		Attempts:    3,
		InitialWait: 200 * time.Millisecond,
		MaxWait:     5 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.1,
	}
}

type transientError struct {
	err error
}

func (e transientError) Error() string { return e.err.Error() }
func (e transientError) Unwrap() error { return e.err }

// Transient marks err as worth retrying. A nil error stays nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return transientError{err: err}
}

// IsTransient reports whether err was marked with Transient.
func IsTransient(err error) bool {
	var t transientError
	return errors.As(err, &t)
}

// Backoff returns the wait before the given retry (1-based).
func (p Policy) Backoff(retry int) time.Duration {
	wait := float64(p.InitialWait) * math.Pow(p.Multiplier, float64(retry-1))
	if p.MaxWait > 0 && wait > float64(p.MaxWait) {
		wait = float64(p.MaxWait)
	}
	if p.Jitter > 0 {
		wait += wait * p.Jitter * (rand.Float64()*2 - 1)
	}
	return time.Duration(wait)
}

// Do calls fn until it succeeds, returns a non-transient error, the attempts
// are used up or ctx is done. The last error is returned unwrapped.
func Do[T any](ctx context.Context, p Policy, fn func() (T, error)) (T, error) {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var zero T
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		lastErr = err
		if !IsTransient(err) || attempt == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(p.Backoff(attempt)):
		}
	}

	var t transientError
	if errors.As(lastErr, &t) {
		return zero, t.err
	}
	return zero, lastErr
}
