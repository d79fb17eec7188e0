// Package ratelimit holds the two throttling primitives of a run.
//
// Sentinel is a one-way atomic flag. Workers trip it when the server answers
// 403 or 429 and read it before every request; once tripped it stays tripped.
//
// Pacer spaces request starts by a fixed minimum interval. It is the single
// sequential lane used when running with one worker and, after the sentinel
// trips, by every worker:
//
//	pacer := ratelimit.NewPacer(500 * time.Millisecond)
//	if sentinel.IsTripped() {
//	    if err := pacer.Wait(ctx); err != nil {
//	        return err
//	    }
//	}
//	// start the request
package ratelimit
