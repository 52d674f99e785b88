// Package retry runs operations with exponential backoff.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Policy configures retry behavior.
type Policy struct {
	// MaxAttempts is the maximum number of attempts (including the first).
	// Values below 1 mean a single attempt.
	MaxAttempts int
	// InitialDelay is the delay after the first failure.
	InitialDelay time.Duration
	// MaxDelay caps the delay between attempts.
	MaxDelay time.Duration
	// Factor is the multiplier for exponential backoff.
	Factor float64
	// Jitter scales each delay by a random factor in [0.5, 1.5).
	Jitter bool
	// OnRetry, if set, is called before sleeping after a failed attempt.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultPolicy returns a default retry policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Factor:       2.0,
		Jitter:       true,
	}
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = 100 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 10 * time.Second
	}
	if p.Factor <= 0 {
		p.Factor = 2.0
	}
	return p
}

// Delay returns the wait after the given failed attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	p = p.withDefaults()
	if p.Jitter {
		return BackoffWithJitter(attempt, p.InitialDelay, p.MaxDelay, p.Factor)
	}
	return Backoff(attempt, p.InitialDelay, p.MaxDelay, p.Factor)
}

// Do calls op until it succeeds, returns a permanent error, the attempts
// run out or ctx is done. It returns nil on success and otherwise the last
// error seen, or ctx.Err() when the context ended the loop.
func Do(ctx context.Context, p Policy, op func(ctx context.Context, attempt int) error) error {
	p = p.withDefaults()

	var err error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		err = op(ctx, attempt)
		if err == nil {
			return nil
		}
		if IsPermanent(err) {
			return err
		}
		if attempt == p.MaxAttempts {
			break
		}

		delay := p.Delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

// PermanentError is an error that should not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps an error to indicate it should not be retried.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent checks if an error is permanent (shouldn't retry).
func IsPermanent(err error) bool {
	var permanent *PermanentError
	return errors.As(err, &permanent)
}

// Backoff calculates the backoff duration for a given attempt.
func Backoff(attempt int, initial, max time.Duration, factor float64) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	if initial <= 0 {
		initial = 100 * time.Millisecond
	}
	if max <= 0 {
		max = 10 * time.Second
	}
	if factor <= 0 {
		factor = 2.0
	}

	delay := float64(initial) * math.Pow(factor, float64(attempt-1))
	if delay > float64(max) {
		delay = float64(max)
	}
	return time.Duration(delay)
}

// BackoffWithJitter calculates the backoff with random jitter.
func BackoffWithJitter(attempt int, initial, max time.Duration, factor float64) time.Duration {
	base := Backoff(attempt, initial, max, factor)
	jitterFactor := 0.5 + rand.Float64() // #nosec G404 -- jitter does not require cryptographic randomness
	return time.Duration(float64(base) * jitterFactor)
}
