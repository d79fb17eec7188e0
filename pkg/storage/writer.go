package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	errs "snapmem/pkg/errors"
	"snapmem/pkg/ledger"
	"snapmem/pkg/logger"
	"snapmem/pkg/memory"
)

// Ledger is the part of the resume ledger the writer needs
type Ledger interface {
	IsDone(id string) bool
	Record(ctx context.Context, rec ledger.Record) error
}

// Result describes what Commit did with a staged file
type Result struct {
	Path    string
	Skipped bool
}

// Writer promotes staged files into the processed directory. A final name
// is never overwritten.
type Writer struct {
	dir             string
	ledger          Ledger
	preserveModTime bool
	logger          logger.Logger

	// serializes the occupancy check and the rename
	mu sync.Mutex
}

// NewWriter creates the processed directory if needed
func NewWriter(dir string, l Ledger, preserveModTime bool, log logger.Logger) (*Writer, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errs.Filesystem("create processed directory", err)
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Writer{
		dir:             dir,
		ledger:          l,
		preserveModTime: preserveModTime,
		logger:          log,
	}, nil
}

// Dir returns the processed directory
func (w *Writer) Dir() string {
	return w.dir
}

// StagePath returns a fresh hidden path in the processed directory. The file
// is not created.
func (w *Writer) StagePath(ext string) string {
	return filepath.Join(w.dir, ".stage-"+uuid.NewString()+dotted(ext))
}

// StageBytes writes data to a new staging file
func (w *Writer) StageBytes(data []byte, ext string) (string, error) {
	path := w.StagePath(ext)
	if err := os.WriteFile(path, data, 0644); err != nil {
		os.Remove(path)
		return "", errs.Filesystem("write staging file", err)
	}
	return path, nil
}

// Discard removes a staging file; a missing file is not an error
func (w *Writer) Discard(stagePath string) {
	if err := os.Remove(stagePath); err != nil && !os.IsNotExist(err) {
		w.logger.WithError(err).WarnWithFields("Failed to remove staging file", map[string]interface{}{
			"path": stagePath,
		})
	}
}

// CommitProcessed promotes an archive-derived artifact to <ID>-processed.<ext>
func (w *Writer) CommitProcessed(ctx context.Context, e memory.Entry, stagePath, ext string) (Result, error) {
	return w.commit(ctx, e, stagePath, []string{ProcessedName(e.ID, ext)})
}

// CommitDirect promotes a non-archive download to its timestamped name. When
// another memory already holds that name the ID suffix is used instead.
func (w *Writer) CommitDirect(ctx context.Context, e memory.Entry, stagePath string) (Result, error) {
	name := DirectName(e)
	return w.commit(ctx, e, stagePath, []string{name, suffixed(name, e.ID)})
}

func (w *Writer) commit(ctx context.Context, e memory.Entry, stagePath string, names []string) (Result, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.ledger.IsDone(e.ID) {
		w.Discard(stagePath)
		return Result{Skipped: true}, nil
	}

	final := ""
	for _, name := range names {
		candidate := filepath.Join(w.dir, name)
		if _, err := os.Lstat(candidate); os.IsNotExist(err) {
			final = candidate
			break
		}
	}
	if final == "" {
		w.Discard(stagePath)
		w.logger.InfoWithFields("Final name already taken, keeping existing file", map[string]interface{}{
			"id":   e.ID,
			"name": names[0],
		})
		return Result{Path: filepath.Join(w.dir, names[0]), Skipped: true}, nil
	}

	if err := os.Rename(stagePath, final); err != nil {
		w.Discard(stagePath)
		return Result{}, errs.Filesystem(fmt.Sprintf("promote %s", filepath.Base(final)), err)
	}

	if w.preserveModTime && e.HasDate() {
		if err := os.Chtimes(final, e.Date, e.Date); err != nil {
			w.logger.WithError(err).DebugWithFields("Could not set modification time", map[string]interface{}{
				"path": final,
			})
		}
	}

	if err := w.ledger.Record(ctx, ledger.Record{ID: e.ID, FinalPath: final, CompletedAt: time.Now()}); err != nil {
		// the artifact is in place; the scan still finds processed names next run
		w.logger.WithError(err).WarnWithFields("Failed to record completion", map[string]interface{}{
			"id": e.ID,
		})
	}
	return Result{Path: final}, nil
}

// CleanStaging removes staging files left behind by an interrupted run
func (w *Writer) CleanStaging() (int, error) {
	matches, err := filepath.Glob(filepath.Join(w.dir, ".stage-*"))
	if err != nil {
		return 0, errs.Filesystem("list staging files", err)
	}
	removed := 0
	for _, m := range matches {
		if err := os.Remove(m); err == nil {
			removed++
		}
	}
	return removed, nil
}
