package ratelimit

import (
	"sync/atomic"
	"time"
)

// Sentinel is the run-wide throttling flag. It starts cleared and can only
// be set; nothing resets it for the lifetime of a run.
type Sentinel struct {
	tripped   atomic.Bool
	trippedAt atomic.Int64
}

// NewSentinel returns a cleared sentinel
func NewSentinel() *Sentinel {
	return &Sentinel{}
}

// Trip sets the flag and reports whether this call was the one that set it
func (s *Sentinel) Trip() bool {
	s.trippedAt.CompareAndSwap(0, time.Now().UnixNano())
	return s.tripped.CompareAndSwap(false, true)
}

func (s *Sentinel) IsTripped() bool {
	return s.tripped.Load()
}

// TrippedAt returns when the flag was set, or the zero time
func (s *Sentinel) TrippedAt() time.Time {
	if !s.IsTripped() {
		return time.Time{}
	}
	return time.Unix(0, s.trippedAt.Load())
}
