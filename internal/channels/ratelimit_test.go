package channels

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeClock lets tests advance the limiter's notion of time.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClockedLimiter(rate float64, capacity int) (*RateLimiter, *fakeClock) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	rl := NewRateLimiter(rate, capacity)
	rl.now = clock.Now
	return rl, clock
}

func TestRateLimiter_Burst(t *testing.T) {
	rl, _ := newClockedLimiter(10, 3)

	for i := 0; i < 3; i++ {
		if !rl.Allow() {
			t.Fatalf("Allow() #%d = false, want true", i+1)
		}
	}
	if rl.Allow() {
		t.Error("Allow() beyond capacity should be false")
	}
}

func TestRateLimiter_Refill(t *testing.T) {
	rl, clock := newClockedLimiter(10, 2)
	rl.Allow()
	rl.Allow()

	clock.Advance(100 * time.Millisecond)
	if !rl.Allow() {
		t.Error("one token should have refilled after 100ms at 10/s")
	}
	if rl.Allow() {
		t.Error("only one token should have refilled")
	}

	clock.Advance(time.Hour)
	if got := rl.Tokens(); got != 2 {
		t.Errorf("Tokens() = %v, want capped at 2", got)
	}
}

func TestRateLimiter_MinimumCapacity(t *testing.T) {
	rl := NewRateLimiter(1, 0)
	if !rl.Allow() {
		t.Error("capacity below 1 should still allow one token")
	}
}

func TestRateLimiter_WaitSucceeds(t *testing.T) {
	rl := NewRateLimiter(100, 1)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	for i := 0; i < 3; i++ {
		if err := rl.Wait(ctx); err != nil {
			t.Fatalf("Wait() #%d error = %v", i+1, err)
		}
	}
}

func TestRateLimiter_WaitCanceled(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)
	rl.Allow()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := rl.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() error = %v, want deadline exceeded", err)
	}
}

func TestRateLimiter_ZeroRateHonorsContext(t *testing.T) {
	rl := NewRateLimiter(0, 1)
	rl.Allow()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := rl.Wait(ctx); err == nil {
		t.Error("Wait() on an empty zero-rate bucket should fail when ctx ends")
	}
}

func TestRateLimiter_Concurrent(t *testing.T) {
	rl, _ := newClockedLimiter(0, 50)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rl.Allow() {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 50 {
		t.Errorf("allowed = %d, want 50", allowed)
	}
}

func TestRateLimiter_WaitPaces(t *testing.T) {
	rl := NewRateLimiter(50, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := rl.Wait(ctx); err != nil {
			t.Fatalf("Wait() #%d error = %v", i+1, err)
		}
	}
	// One token up front, then two refills at 20ms each.
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("three waits took %v, want them paced", elapsed)
	}
}
