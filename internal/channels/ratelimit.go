package channels

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter is a token bucket: bursts up to capacity, then a steady
// refill of rate tokens per second. A rate of zero never refills.
type RateLimiter struct {
	limiter *rate.Limiter
	now     func() time.Time
}

// NewRateLimiter creates a full bucket.
func NewRateLimiter(r float64, capacity int) *RateLimiter {
	if capacity < 1 {
		capacity = 1
	}
	if r < 0 {
		r = 0
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(r), capacity),
		now:     time.Now,
	}
}

// Wait blocks until a token is available or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if err := r.limiter.Wait(ctx); err != nil {
		// The limiter fails fast when no token can arrive before ctx ends.
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

// Allow consumes a token if one is available.
func (r *RateLimiter) Allow() bool {
	return r.limiter.AllowN(r.now(), 1)
}

// Tokens returns the current number of available tokens.
func (r *RateLimiter) Tokens() float64 {
	return r.limiter.TokensAt(r.now())
}
