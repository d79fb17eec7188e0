package downloader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	errs "snapmem/pkg/errors"
	"snapmem/pkg/logger"
	"snapmem/pkg/memory"
	"snapmem/pkg/ratelimit"
	"snapmem/pkg/retry"
)

// Fetcher downloads one payload
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Outcome is what a Handler made of a payload
type Outcome struct {
	State memory.State
	Path  string
	Err   error
}

// Handler processes a downloaded payload in the worker that fetched it
type Handler interface {
	Handle(ctx context.Context, e memory.Entry, payload []byte) Outcome
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, e memory.Entry, payload []byte) Outcome

func (f HandlerFunc) Handle(ctx context.Context, e memory.Entry, payload []byte) Outcome {
	return f(ctx, e, payload)
}

// DoneChecker reports entries that already have a final artifact
type DoneChecker interface {
	IsDone(id string) bool
}

// Result represents the terminal outcome of one entry
type Result struct {
	Entry    memory.Entry
	State    memory.State
	Path     string
	Err      error
	Attempts int
	Size     int
	WorkerID int
	Duration time.Duration
}

// Options configures a WorkerPool
type Options struct {
	Workers    int
	MaxRetries int
	Backoff    retry.BackoffStrategy
	// Pacer spaces request starts in sequential mode
	Pacer ratelimit.Limiter
	// Sentinel switches every worker to the pacer once throttling is seen
	Sentinel *ratelimit.Sentinel
	// Done, when set, short-circuits entries that are already complete
	Done DoneChecker
}

// WorkerPool manages concurrent download workers
type WorkerPool struct {
	numWorkers  int
	jobQueue    chan memory.Entry
	resultQueue chan Result
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc

	opts     Options
	fetcher  Fetcher
	handler  Handler
	requests atomic.Int64
	logger   logger.Logger
}

// NewWorkerPool creates a new download worker pool
func NewWorkerPool(ctx context.Context, opts Options, fetcher Fetcher, handler Handler, log logger.Logger) *WorkerPool {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.Backoff == nil {
		opts.Backoff = retry.DefaultExponentialBackoff()
	}
	if opts.Pacer == nil {
		opts.Pacer = ratelimit.NewPacer(ratelimit.SequentialSpacing)
	}
	if opts.Sentinel == nil {
		opts.Sentinel = ratelimit.NewSentinel()
	}
	if log == nil {
		log = logger.GetLogger()
	}

	ctx, cancel := context.WithCancel(ctx)
	return &WorkerPool{
		numWorkers:  opts.Workers,
		jobQueue:    make(chan memory.Entry, opts.Workers*2),
		resultQueue: make(chan Result, opts.Workers),
		ctx:         ctx,
		cancel:      cancel,
		opts:        opts,
		fetcher:     fetcher,
		handler:     handler,
		logger:      log,
	}
}

// Start initializes and starts all workers
func (wp *WorkerPool) Start() {
	wp.logger.InfoWithFields("Starting worker pool", map[string]interface{}{
		"num_workers": wp.numWorkers,
		"max_retries": wp.opts.MaxRetries,
	})

	for i := 0; i < wp.numWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop closes the queue and waits for queued entries to finish
func (wp *WorkerPool) Stop() {
	close(wp.jobQueue)
	wp.wg.Wait()
	close(wp.resultQueue)
	wp.cancel()

	wp.logger.DebugWithFields("Worker pool stopped", map[string]interface{}{
		"requests": wp.requests.Load(),
	})
}

// Submit queues an entry
func (wp *WorkerPool) Submit(e memory.Entry) error {
	select {
	case wp.jobQueue <- e:
		return nil
	case <-wp.ctx.Done():
		return fmt.Errorf("worker pool is shutting down")
	}
}

// Results returns the result channel. It must be drained until closed.
func (wp *WorkerPool) Results() <-chan Result {
	return wp.resultQueue
}

// Requests returns how many network requests were started
func (wp *WorkerPool) Requests() int64 {
	return wp.requests.Load()
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	for e := range wp.jobQueue {
		result := wp.process(e, id)
		wp.resultQueue <- result
	}
}

// sequential reports whether the next request start must go through the pacer
func (wp *WorkerPool) sequential() bool {
	return wp.numWorkers == 1 || wp.opts.Sentinel.IsTripped()
}

func (wp *WorkerPool) process(e memory.Entry, workerID int) Result {
	start := time.Now()
	result := Result{Entry: e, WorkerID: workerID}
	log := wp.logger.WithFields(map[string]interface{}{
		"id":        e.ID,
		"worker_id": workerID,
	})

	if wp.opts.Done != nil && wp.opts.Done.IsDone(e.ID) {
		result.State = memory.Skipped
		result.Duration = time.Since(start)
		log.Debug("Already processed, skipping")
		return result
	}
	if err := wp.ctx.Err(); err != nil {
		result.State = memory.Failed
		result.Err = errs.Interrupted(err)
		result.Duration = time.Since(start)
		return result
	}

	payload, err := retry.DoWithResult(func(attempt int) ([]byte, error) {
		result.Attempts = attempt
		return wp.fetchOnce(log, e, attempt)
	}, &retry.Config{
		MaxRetries: wp.opts.MaxRetries,
		Backoff:    wp.opts.Backoff,
		RetryIf:    retry.DefaultRetryIf,
		Context:    wp.ctx,
		Logger:     log,
	})
	if err != nil {
		result.State = memory.Failed
		result.Err = wp.interrupted(err)
		result.Duration = time.Since(start)
		log.WithError(err).WarnWithFields("Download failed", map[string]interface{}{
			"attempts": result.Attempts,
		})
		return result
	}

	result.Size = len(payload)
	out := wp.handler.Handle(wp.ctx, e, payload)
	result.State = out.State
	result.Path = out.Path
	result.Err = out.Err
	if result.State == memory.Failed {
		result.Err = wp.interrupted(out.Err)
	}
	result.Duration = time.Since(start)
	return result
}

// interrupted marks a failure as caused by cancellation when the pool's
// context is done
func (wp *WorkerPool) interrupted(err error) error {
	if wp.ctx.Err() == nil || errs.IsType(err, errs.ErrorTypeInterrupted) {
		return err
	}
	return errs.Interrupted(err)
}

func (wp *WorkerPool) fetchOnce(log logger.Logger, e memory.Entry, attempt int) ([]byte, error) {
	if wp.sequential() {
		if err := wp.opts.Pacer.Wait(wp.ctx); err != nil {
			return nil, err
		}
	}

	wp.requests.Add(1)
	began := time.Now()
	data, err := wp.fetcher.Fetch(wp.ctx, e.URL)
	logger.LogFetch(log, e.ID, attempt, len(data), time.Since(began), err)

	var typed *errs.Error
	if errors.As(err, &typed) && typed.Type == errs.ErrorTypeRateLimit {
		if wp.opts.Sentinel.Trip() {
			logger.LogThrottle(log, e.ID, typed.Code)
		}
	}
	return data, err
}
