// Package retry provides the retry budget and backoff policy for downloads.
//
// The backoff is a pure function of the retry number so it can be tested
// without any scheduler in the loop. Do counts attempts: a budget of
// MaxRetries means up to MaxRetries+1 calls to the operation.
//
//	payload, err := retry.DoWithResult(func(attempt int) ([]byte, error) {
//		return fetcher.Fetch(ctx, entry.URL)
//	}, &retry.Config{
//		MaxRetries: 3,
//		Backoff:    retry.DefaultExponentialBackoff(),
//		Context:    ctx,
//	})
//
// Only typed network and rate-limit errors are retried by default.
package retry
