package exchange

import (
	"context"
	"time"
)

// Clock abstracts time for the limiter and the client's retry sleeps, so
// tests can run without real delays.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemClock is the production Clock.
type SystemClock struct{}

// Now returns the wall-clock time.
func (SystemClock) Now() time.Time { return time.Now() }

// Sleep blocks for d or until ctx is cancelled.
func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

const (
	// DefaultMinRequestInterval spaces requests at most six per second.
	DefaultMinRequestInterval = time.Second / 6
	// RateLimitCooldown is the forced pause after a "too many requests"
	// rejection, on top of the widened interval.
	RateLimitCooldown = 15 * time.Second
)

// Limiter enforces a single shared minimum interval between requests. The
// interval adapts: rejections widen it, light plain-text responses slowly
// relax it back toward the configured floor.
type Limiter struct {
	min      time.Duration
	interval time.Duration
	cooldown time.Duration
	last     time.Time
	clock    Clock
}

// NewLimiter builds a Limiter with the given floor interval.
func NewLimiter(min time.Duration, clock Clock) *Limiter {
	if min <= 0 {
		min = DefaultMinRequestInterval
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &Limiter{
		min:      min,
		interval: min,
		cooldown: RateLimitCooldown,
		clock:    clock,
	}
}

// Wait sleeps out whatever remains of the current interval since the last
// request, then records the send time.
func (l *Limiter) Wait(ctx context.Context) error {
	if elapsed := l.clock.Now().Sub(l.last); elapsed < l.interval {
		if err := l.clock.Sleep(ctx, l.interval-elapsed); err != nil {
			return err
		}
	}
	l.last = l.clock.Now()
	return nil
}

// Penalize widens the interval by 1.75x and forces the cool-down pause.
// Called on a 429 rejection before the request is retried.
func (l *Limiter) Penalize(ctx context.Context) error {
	l.interval = l.interval * 7 / 4
	return l.clock.Sleep(ctx, l.cooldown)
}

// Relax shrinks the interval by 1% of its current value, never below the
// floor. Called on light plain-text responses.
func (l *Limiter) Relax() {
	if l.interval <= l.min {
		return
	}
	l.interval = l.interval * 99 / 100
	if l.interval < l.min {
		l.interval = l.min
	}
}

// Interval reports the current inter-request spacing.
func (l *Limiter) Interval() time.Duration { return l.interval }
