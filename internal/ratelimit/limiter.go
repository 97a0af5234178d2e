// Package ratelimit caps how fast requests are issued to the node.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter issues permits no faster than a fixed rate, with no bursts.
// A nil *Limiter never blocks.
type Limiter struct {
	mu       sync.Mutex
	next     time.Time
	interval time.Duration
}

// New returns a limiter for ratePerSec permits per second, or nil (unlimited)
// when ratePerSec is not positive.
func New(ratePerSec float64) *Limiter {
	if ratePerSec <= 0 {
		return nil
	}
	return &Limiter{
		next:     time.Now(),
		interval: time.Duration(float64(time.Second) / ratePerSec),
	}
}

// Wait blocks until a permit is available or ctx is done. A cancelled wait
// gives its slot back if no later caller has reserved one.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return ctx.Err()
	}

	l.mu.Lock()
	now := time.Now()
	if l.next.Before(now) {
		l.next = now
	}
	permit := l.next
	l.next = permit.Add(l.interval)
	l.mu.Unlock()

	wait := time.Until(permit)
	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		if l.next.Equal(permit.Add(l.interval)) {
			l.next = permit
		}
		l.mu.Unlock()
		return ctx.Err()
	}
}

// Interval returns the minimum spacing between permits.
func (l *Limiter) Interval() time.Duration {
	if l == nil {
		return 0
	}
	return l.interval
}
