package ratelimit

import (
	"context"
	"sync"
	"time"
)

// SequentialSpacing is the minimum gap between request starts in the
// sequential lane
const SequentialSpacing = 500 * time.Millisecond

// Limiter defines the interface for rate limiting
type Limiter interface {
	// Wait blocks until a request start is available or ctx is done
	Wait(ctx context.Context) error
	// Reset forgets the previous request start
	Reset()
	// Interval is the minimum spacing between request starts
	Interval() time.Duration
}

// Pacer enforces a minimum interval between consecutive request starts.
// The first request is never delayed. The mutex only guards the reservation
// of a start slot; callers sleep outside it.
//
// Pacer spaces request starts only. It does not serialize requests: a slow
// request may still be in flight when the next one starts.
type Pacer struct {
	interval time.Duration
	last     time.Time
	mu       sync.Mutex
}

// NewPacer creates a pacer with the given minimum spacing
func NewPacer(interval time.Duration) *Pacer {
	return &Pacer{interval: interval}
}

// Interval returns the enforced spacing
func (p *Pacer) Interval() time.Duration {
	return p.interval
}

// Wait blocks until this caller owns a start slot
func (p *Pacer) Wait(ctx context.Context) error {
	for {
		wait, ok := p.reserve()
		if ok {
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Reset clears the last recorded start
func (p *Pacer) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.last = time.Time{}
}

// reserve claims the slot and returns true, or returns how long until the
// slot opens.
func (p *Pacer) reserve() (time.Duration, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	if p.last.IsZero() {
		p.last = now
		return 0, true
	}
	if elapsed := now.Sub(p.last); elapsed < p.interval {
		return p.interval - elapsed, false
	}
	p.last = now
	return 0, true
}
