package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"gocloud.dev/blob"

	"snapmem/internal/downloader"
	"snapmem/pkg/compositor"
	"snapmem/pkg/config"
	errs "snapmem/pkg/errors"
	"snapmem/pkg/fetch"
	"snapmem/pkg/ledger"
	"snapmem/pkg/logger"
	"snapmem/pkg/memory"
	"snapmem/pkg/ratelimit"
	"snapmem/pkg/retry"
	"snapmem/pkg/stats"
	"snapmem/pkg/storage"
	"snapmem/pkg/toolcheck"
)

// LockFileName is the run lock kept in the processed directory
const LockFileName = ".snapmem.lock"

// Options wires a Pipeline. Only Config is required; every other field
// falls back to the production implementation.
type Options struct {
	Config *config.Config

	Fetcher downloader.Fetcher
	Runner  compositor.Runner
	// ToolCheck runs before anything else; an error aborts the run
	ToolCheck func() error
	// RawBucket replaces the bucket opened from the output config
	RawBucket *blob.Bucket
	Backoff   retry.BackoffStrategy
	Pacer     ratelimit.Limiter
	// Observer sees every terminal outcome as it is recorded
	Observer func(memory.Entry, memory.State)
	Logger   logger.Logger
}

// Pipeline runs the download, extract, composite and commit sequence over a
// list of entries.
type Pipeline struct {
	cfg       *config.Config
	fetcher   downloader.Fetcher
	runner    compositor.Runner
	toolCheck func() error
	rawBucket *blob.Bucket
	backoff   retry.BackoffStrategy
	pacer     ratelimit.Limiter
	observer  func(memory.Entry, memory.State)
	sentinel  *ratelimit.Sentinel
	logger    logger.Logger

	mu       sync.Mutex
	requests int64
}

// New creates a pipeline
func New(opts Options) (*Pipeline, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("pipeline requires a config")
	}
	cfg := opts.Config

	log := opts.Logger
	if log == nil {
		log = logger.GetLogger()
	}

	p := &Pipeline{
		cfg:       cfg,
		fetcher:   opts.Fetcher,
		runner:    opts.Runner,
		toolCheck: opts.ToolCheck,
		rawBucket: opts.RawBucket,
		backoff:   opts.Backoff,
		pacer:     opts.Pacer,
		observer:  opts.Observer,
		sentinel:  ratelimit.NewSentinel(),
		logger:    log,
	}
	if p.fetcher == nil {
		p.fetcher = fetch.NewClient(cfg.Download.Timeout, cfg.Download.UserAgent, log)
	}
	if p.runner == nil {
		p.runner = compositor.ExecRunner{}
	}
	if p.toolCheck == nil {
		p.toolCheck = func() error {
			return toolcheck.Require(toolcheck.Compositing(cfg.Compositor.FFmpegPath, cfg.Compositor.FFprobePath))
		}
	}
	if p.backoff == nil {
		p.backoff = &retry.ExponentialBackoff{
			BaseDelay:    cfg.Retry.BaseDelay,
			MaxDelay:     cfg.Retry.MaxDelay,
			Multiplier:   cfg.Retry.Multiplier,
			JitterFactor: cfg.Retry.JitterFactor,
		}
	}
	if p.pacer == nil {
		p.pacer = ratelimit.NewPacer(cfg.Download.RequestSpacing)
	}
	return p, nil
}

// Sentinel exposes the throttling flag of the current or last run
func (p *Pipeline) Sentinel() *ratelimit.Sentinel {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sentinel
}

// Requests returns how many network requests the last Run started
func (p *Pipeline) Requests() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests
}

// Run processes entries and returns the summary. Per-entry failures only
// show up in the summary. An error means the run could not start, or, when
// ctx is cancelled, an interrupted error alongside the partial summary.
func (p *Pipeline) Run(ctx context.Context, entries []memory.Entry) (stats.Summary, error) {
	runID := uuid.NewString()
	log := p.logger.WithField("run_id", runID)

	if err := p.toolCheck(); err != nil {
		log.WithError(err).Error("Required tools are unavailable, nothing was downloaded")
		return stats.Summary{Total: len(entries)}, err
	}

	sentinel := ratelimit.NewSentinel()
	p.mu.Lock()
	p.sentinel = sentinel
	p.mu.Unlock()
	p.pacer.Reset()

	out := p.cfg.Output
	for _, dir := range []string{out.ProcessedDir, out.RawDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return stats.Summary{}, errs.Filesystem(fmt.Sprintf("create %s", dir), err)
		}
	}

	lock := flock.New(filepath.Join(out.ProcessedDir, LockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return stats.Summary{}, errs.Filesystem("acquire run lock", err)
	}
	if !locked {
		return stats.Summary{}, errs.New(errs.ErrorTypeFilesystem,
			fmt.Sprintf("another run is using %s", out.ProcessedDir))
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			log.WithError(err).Warn("Failed to release run lock")
		}
	}()

	book, err := ledger.Open(ctx, out.ProcessedDir, p.cfg.LedgerIndexPath(), log)
	if err != nil {
		return stats.Summary{}, errs.Filesystem("open ledger", err)
	}
	defer book.Close()

	writer, err := storage.NewWriter(out.ProcessedDir, book, out.PreserveTimestamps, log)
	if err != nil {
		return stats.Summary{}, err
	}
	if n, err := writer.CleanStaging(); err == nil && n > 0 {
		log.InfoWithFields("Removed leftover staging files", map[string]interface{}{"count": n})
	}

	raw, err := p.openRawStore(ctx, log)
	if err != nil {
		return stats.Summary{}, err
	}
	if p.rawBucket == nil {
		defer raw.Close()
	}

	agg := stats.NewAggregator(len(entries))
	if p.observer != nil {
		agg.OnRecord(p.observer)
	}

	proc := &processor{
		writer:     writer,
		raw:        raw,
		compositor: p.newCompositor(log),
		retries:    p.cfg.Retry.MaxRetries,
		backoff:    p.backoff,
		logger:     log,
	}

	pool := downloader.NewWorkerPool(ctx, downloader.Options{
		Workers:    p.cfg.Download.Workers,
		MaxRetries: p.cfg.Retry.MaxRetries,
		Backoff:    p.backoff,
		Pacer:      p.pacer,
		Sentinel:   sentinel,
		Done:       book,
	}, p.fetcher, proc, log)

	logger.LogComponentStart(log, "pipeline", map[string]interface{}{
		"entries":   len(entries),
		"done":      book.Len(),
		"workers":   p.cfg.Download.Workers,
		"retries":   p.cfg.Retry.MaxRetries,
		"spacing":   p.pacer.Interval().String(),
		"processed": out.ProcessedDir,
	})

	pool.Start()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for r := range pool.Results() {
			if err := agg.Record(r.Entry, r.State, r.Err); err != nil {
				log.WithError(err).Error("Outcome recorded twice")
			}
			fields := map[string]interface{}{
				"id":          r.Entry.ID,
				"state":       r.State.String(),
				"attempts":    r.Attempts,
				"duration_ms": r.Duration.Milliseconds(),
			}
			if r.State == memory.Failed {
				log.WithError(r.Err).WarnWithFields("Memory failed", fields)
			} else {
				log.DebugWithFields("Memory finished", fields)
			}
		}
	}()

	for _, e := range entries {
		if err := pool.Submit(e); err != nil {
			_ = agg.Record(e, memory.Failed, errs.Interrupted(err))
		}
	}
	pool.Stop()
	wg.Wait()

	p.mu.Lock()
	p.requests = pool.Requests()
	p.mu.Unlock()

	summary := agg.Summary()
	fields := map[string]interface{}{
		"total":       summary.Total,
		"downloaded":  summary.Downloaded,
		"merged":      summary.Merged,
		"failed":      summary.Failed,
		"skipped":     summary.Skipped,
		"interrupted": summary.Interrupted,
		"throttled":   sentinel.IsTripped(),
		"elapsed":     summary.Elapsed.Round(time.Millisecond).String(),
	}
	if sentinel.IsTripped() {
		fields["throttled_at"] = sentinel.TrippedAt().Format(time.RFC3339)
	}
	if err := ctx.Err(); err != nil && summary.Interrupted > 0 {
		log.WarnWithFields("Run interrupted", fields)
		return summary, errs.Interrupted(err)
	}
	log.InfoWithFields("Run complete", fields)
	return summary, nil
}

func (p *Pipeline) openRawStore(ctx context.Context, log logger.Logger) (*storage.RawStore, error) {
	if p.rawBucket != nil {
		return storage.NewRawStore(p.rawBucket, log), nil
	}
	return storage.OpenRawOutput(ctx, p.cfg.Output.RawDir, p.cfg.Output.RawBucketURL, log)
}

func (p *Pipeline) newCompositor(log logger.Logger) *compositor.Compositor {
	c := p.cfg.Compositor
	return compositor.New(
		&compositor.ImageStrategy{JPEGQuality: c.JPEGQuality},
		&compositor.VideoStrategy{
			Runner:         p.runner,
			FFmpegPath:     c.FFmpegPath,
			FFprobePath:    c.FFprobePath,
			Timeout:        c.Timeout,
			MinOutputBytes: c.MinOutputBytes,
			Logger:         log,
		},
	)
}
