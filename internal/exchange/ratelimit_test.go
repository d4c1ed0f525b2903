package exchange

import (
	"context"
	"testing"
	"time"
)

// fakeClock advances on Sleep instead of blocking.
type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func totalSlept(c *fakeClock) time.Duration {
	var total time.Duration
	for _, d := range c.sleeps {
		total += d
	}
	return total
}

func TestLimiterWaitSpacesRequests(t *testing.T) {
	clock := newFakeClock()
	limiter := NewLimiter(time.Second, clock)

	if err := limiter.Wait(context.Background()); err != nil {
		t.Fatalf("first Wait: %v", err)
	}
	if len(clock.sleeps) != 0 {
		// Nothing was sent yet, so the first call passes straight through.
		t.Fatalf("first Wait slept %v, want none", clock.sleeps)
	}

	clock.sleeps = nil
	clock.advance(300 * time.Millisecond)
	if err := limiter.Wait(context.Background()); err != nil {
		t.Fatalf("second Wait: %v", err)
	}
	if len(clock.sleeps) != 1 || clock.sleeps[0] != 700*time.Millisecond {
		t.Fatalf("second Wait slept %v, want [700ms]", clock.sleeps)
	}

	clock.sleeps = nil
	clock.advance(2 * time.Second)
	if err := limiter.Wait(context.Background()); err != nil {
		t.Fatalf("third Wait: %v", err)
	}
	if len(clock.sleeps) != 0 {
		t.Fatalf("third Wait slept %v, want none after the interval elapsed", clock.sleeps)
	}
}

func TestLimiterPenalizeWidensAndCoolsDown(t *testing.T) {
	clock := newFakeClock()
	limiter := NewLimiter(time.Second, clock)

	if err := limiter.Penalize(context.Background()); err != nil {
		t.Fatalf("Penalize: %v", err)
	}

	if limiter.Interval() != 1750*time.Millisecond {
		t.Fatalf("interval after penalty = %v, want 1.75s", limiter.Interval())
	}
	if totalSlept(clock) < RateLimitCooldown {
		t.Fatalf("cool-down slept %v, want >= %v", totalSlept(clock), RateLimitCooldown)
	}
}

func TestLimiterRelaxFloorsAtMinimum(t *testing.T) {
	clock := newFakeClock()
	limiter := NewLimiter(time.Second, clock)

	if err := limiter.Penalize(context.Background()); err != nil {
		t.Fatalf("Penalize: %v", err)
	}

	widened := limiter.Interval()
	limiter.Relax()
	if limiter.Interval() >= widened {
		t.Fatalf("Relax did not shrink the interval: %v", limiter.Interval())
	}

	for i := 0; i < 1000; i++ {
		limiter.Relax()
	}
	if limiter.Interval() != time.Second {
		t.Fatalf("interval after repeated Relax = %v, want the 1s floor", limiter.Interval())
	}

	limiter.Relax()
	if limiter.Interval() != time.Second {
		t.Fatalf("Relax at the floor must be a no-op, got %v", limiter.Interval())
	}
}

func TestLimiterDefaultFloor(t *testing.T) {
	limiter := NewLimiter(0, newFakeClock())
	if limiter.Interval() != DefaultMinRequestInterval {
		t.Fatalf("default interval = %v, want %v", limiter.Interval(), DefaultMinRequestInterval)
	}
}
