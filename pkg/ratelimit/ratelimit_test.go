package ratelimit

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSentinelTripsOnce(t *testing.T) {
	s := NewSentinel()
	assert.False(t, s.IsTripped())
	assert.True(t, s.TrippedAt().IsZero())

	var winners int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.Trip() {
				atomic.AddInt32(&winners, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners, "exactly one caller flips the flag")
	assert.True(t, s.IsTripped())
	assert.False(t, s.TrippedAt().IsZero())

	assert.False(t, s.Trip())
	assert.True(t, s.IsTripped(), "flag never resets")
}

func TestPacerFirstCallImmediate(t *testing.T) {
	p := NewPacer(time.Second)

	start := time.Now()
	require.NoError(t, p.Wait(context.Background()))
	assert.Less(t, time.Since(start), 50*time.Millisecond)

	_, ok := p.reserve()
	assert.False(t, ok, "second start inside the interval is refused")

	p.Reset()
	_, ok = p.reserve()
	assert.True(t, ok)
}

func TestPacerSpacing(t *testing.T) {
	interval := 60 * time.Millisecond
	p := NewPacer(interval)

	var mu sync.Mutex
	var starts []time.Time
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, p.Wait(context.Background()))
			mu.Lock()
			starts = append(starts, time.Now())
			mu.Unlock()
		}()
	}
	wg.Wait()

	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })
	for i := 1; i < len(starts); i++ {
		gap := starts[i].Sub(starts[i-1])
		assert.GreaterOrEqual(t, gap, interval-15*time.Millisecond, "gap %d", i)
	}
}

func TestPacerWaitCancelled(t *testing.T) {
	p := NewPacer(time.Hour)
	_, ok := p.reserve()
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := p.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPacerSatisfiesLimiter(t *testing.T) {
	var l Limiter = NewPacer(time.Millisecond)
	assert.Equal(t, time.Millisecond, l.Interval())
	require.NoError(t, l.Wait(context.Background()))
}
