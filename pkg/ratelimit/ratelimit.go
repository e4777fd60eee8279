package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Limiter spaces operations at least one interval apart, optionally adding
// up to jitter*interval of random extra delay. The zero rate never blocks.
// It is safe for concurrent use.
type Limiter struct {
	mu       sync.Mutex
	interval time.Duration
	jitter   float64
	next     time.Time
}

// NewLimiter builds a limiter for rps operations per second. jitter is
// clamped to [0, 1]. rps <= 0 yields a limiter that never waits.
func NewLimiter(rps, jitter float64) *Limiter {
	if jitter < 0 {
		jitter = 0
	} else if jitter > 1 {
		jitter = 1
	}
	l := &Limiter{jitter: jitter}
	if rps > 0 {
		l.interval = time.Duration(float64(time.Second) / rps)
	}
	return l
}

// Wait blocks until the next slot opens or ctx is done. The first call
// never blocks.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil || l.interval == 0 {
		return nil
	}

	l.mu.Lock()
	now := time.Now()
	at := l.next
	if at.Before(now) {
		at = now
	}
	gap := l.interval
	if l.jitter > 0 {
		gap += time.Duration(rand.Float64() * l.jitter * float64(l.interval))
	}
	l.next = at.Add(gap)
	l.mu.Unlock()

	delay := time.Until(at)
	if delay <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Interval reports the base spacing between operations.
func (l *Limiter) Interval() time.Duration {
	if l == nil {
		return 0
	}
	return l.interval
}
