package pipeline

import (
	"context"
	"fmt"

	"snapmem/internal/downloader"
	"snapmem/pkg/archive"
	"snapmem/pkg/compositor"
	errs "snapmem/pkg/errors"
	"snapmem/pkg/logger"
	"snapmem/pkg/memory"
	"snapmem/pkg/metadata"
	"snapmem/pkg/retry"
	"snapmem/pkg/storage"
)

// processor turns a downloaded payload into a committed artifact. It runs in
// the worker that fetched the payload.
type processor struct {
	writer     *storage.Writer
	raw        *storage.RawStore
	compositor *compositor.Compositor
	retries    int
	backoff    retry.BackoffStrategy
	logger     logger.Logger
}

// entryState walks one entry through its states
type entryState struct {
	state memory.State
	log   logger.Logger
}

func (s *entryState) to(next memory.State) {
	advanced, err := s.state.Advance(next)
	if err != nil {
		s.log.WithError(err).Error("Invalid state transition")
		return
	}
	s.state = advanced
}

func (s *entryState) outcome(path string, err error) downloader.Outcome {
	return downloader.Outcome{State: s.state, Path: path, Err: err}
}

func (p *processor) Handle(ctx context.Context, e memory.Entry, payload []byte) downloader.Outcome {
	log := p.logger.WithField("id", e.ID)
	st := &entryState{state: memory.Downloading, log: log}

	item, err := archive.Extract(payload, e.MediaType)
	if err != nil {
		st.to(memory.Failed)
		return st.outcome("", err)
	}
	st.to(memory.Extracted)
	p.keepMetadata(ctx, e, item, len(payload), log)

	var res storage.Result
	switch it := item.(type) {
	case archive.Direct:
		res, err = p.writeDirect(ctx, e, it, log)
	case archive.Bundle:
		res, err = p.writeBundle(ctx, e, it, log)
	default:
		err = errs.New(errs.ErrorTypeUnknown, fmt.Sprintf("unhandled payload %T", item))
	}

	switch {
	case err != nil:
		st.to(memory.Failed)
	case res.Skipped:
		st.to(memory.Skipped)
	default:
		st.to(memory.Merged)
	}
	return st.outcome(res.Path, err)
}

// keepMetadata stores the sidecar beside the raw components. Failures only
// warn.
func (p *processor) keepMetadata(ctx context.Context, e memory.Entry, item archive.Item, size int, log logger.Logger) {
	meta := metadata.FromEntry(e, item, size)
	data, err := meta.Marshal()
	if err == nil {
		err = p.raw.Put(ctx, e.ID, metadata.FileName, data)
	}
	if err != nil {
		log.WithError(err).Warn("Failed to keep metadata")
		return
	}
	log.DebugWithFields("Metadata stored", map[string]interface{}{
		"packaging":    meta.Packaging,
		"aspect_ratio": meta.AspectRatio(),
	})
}

func (p *processor) writeDirect(ctx context.Context, e memory.Entry, d archive.Direct, log logger.Logger) (storage.Result, error) {
	if err := p.raw.Put(ctx, e.ID, storage.DirectName(e), d.Data); err != nil {
		log.WithError(err).Warn("Failed to keep raw download")
	}
	stage, err := p.writer.StageBytes(d.Data, e.MediaType.Ext())
	if err != nil {
		return storage.Result{}, err
	}
	return p.writer.CommitDirect(ctx, e, stage)
}

func (p *processor) writeBundle(ctx context.Context, e memory.Entry, b archive.Bundle, log logger.Logger) (storage.Result, error) {
	if err := p.raw.PutBundle(ctx, e.ID, b); err != nil {
		log.WithError(err).Warn("Failed to keep raw components")
	}

	if !b.HasOverlay() {
		stage, err := p.writer.StageBytes(b.Base.Data, b.Base.Ext)
		if err != nil {
			return storage.Result{}, err
		}
		return p.writer.CommitProcessed(ctx, e, stage, b.Base.Ext)
	}

	ext := compositor.OutputExt(b)
	stage := p.writer.StagePath(ext)
	if err := p.composite(ctx, e, b, stage, log); err != nil {
		p.writer.Discard(stage)
		return storage.Result{}, err
	}
	return p.writer.CommitProcessed(ctx, e, stage, ext)
}

// composite retries only runs that timed out, within the same budget as
// downloads
func (p *processor) composite(ctx context.Context, e memory.Entry, b archive.Bundle, stage string, log logger.Logger) error {
	return retry.Do(func(attempt int) error {
		if attempt > 1 {
			p.writer.Discard(stage)
		}
		return p.compositor.Composite(ctx, compositor.Request{
			EntryID:    e.ID,
			Bundle:     b,
			OutputPath: stage,
		})
	}, &retry.Config{
		MaxRetries: p.retries,
		Backoff:    p.backoff,
		RetryIf:    compositor.IsTimeout,
		Context:    ctx,
		Logger:     log,
	})
}
