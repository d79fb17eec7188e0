package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	errs "snapmem/pkg/errors"
	"snapmem/pkg/logger"
)

// Operation performs one attempt. attempt is 1-based.
type Operation func(attempt int) error

// OperationWithResult is an Operation that also yields a value
type OperationWithResult[T any] func(attempt int) (T, error)

// Config holds retry configuration
type Config struct {
	// MaxRetries is the number of additional attempts after the first one
	MaxRetries int
	Backoff    BackoffStrategy
	// RetryIf determines if an error should be retried
	RetryIf func(error) bool
	// OnRetry is called before sleeping ahead of each retry
	OnRetry func(retry int, err error, delay time.Duration)
	Context context.Context
	Logger  logger.Logger
}

// DefaultConfig returns a retry configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		MaxRetries: 3,
		Backoff:    DefaultExponentialBackoff(),
		RetryIf:    DefaultRetryIf,
		Context:    context.Background(),
		Logger:     logger.NewNopLogger(),
	}
}

// DefaultRetryIf retries typed errors whose type is retryable and nothing
// else.
func DefaultRetryIf(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var typed *errs.Error
	if errors.As(err, &typed) {
		return errs.IsRetryable(typed.Type)
	}
	return false
}

// ExhaustedError is returned when every attempt failed with a retryable error
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("giving up after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// Do runs op until it succeeds, returns a non-retryable error, or has been
// attempted MaxRetries+1 times.
func Do(op Operation, cfg *Config) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	ctx := cfg.Context
	if ctx == nil {
		ctx = context.Background()
	}
	retryIf := cfg.RetryIf
	if retryIf == nil {
		retryIf = DefaultRetryIf
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}

	total := cfg.MaxRetries + 1
	for attempt := 1; ; attempt++ {
		err := op(attempt)
		if err == nil {
			if attempt > 1 {
				log.DebugWithFields("operation succeeded after retry", map[string]interface{}{
					"attempt": attempt,
				})
			}
			return nil
		}

		if !retryIf(err) {
			return err
		}

		if attempt >= total {
			log.WithError(err).WarnWithFields("retry budget exhausted", map[string]interface{}{
				"attempts": attempt,
			})
			return &ExhaustedError{Attempts: attempt, Last: err}
		}

		var delay time.Duration
		if cfg.Backoff != nil {
			delay = cfg.Backoff.NextDelay(attempt)
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, delay)
		}

		log.WithError(err).DebugWithFields("retrying operation", map[string]interface{}{
			"attempt":     attempt,
			"delay_ms":    delay.Milliseconds(),
			"max_retries": cfg.MaxRetries,
		})

		if werr := Wait(ctx, delay); werr != nil {
			return fmt.Errorf("retry cancelled: %w", werr)
		}
	}
}

// DoWithResult executes an operation that returns a result with retry logic
func DoWithResult[T any](op OperationWithResult[T], cfg *Config) (T, error) {
	var result T

	err := Do(func(attempt int) error {
		var opErr error
		result, opErr = op(attempt)
		return opErr
	}, cfg)

	return result, err
}
