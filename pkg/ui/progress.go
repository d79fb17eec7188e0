package ui

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"

	"snapmem/pkg/memory"
)

// Progress tracks terminal outcomes on a progress bar. It plugs into the
// pipeline as an outcome observer and is safe for concurrent use.
type Progress struct {
	mu      sync.Mutex
	bar     *progressbar.ProgressBar
	total   int
	merged  int
	failed  int
	skipped int
	started time.Time
}

// NewProgress creates a bar for total entries writing to w. A nil w or quiet
// mode yields a Progress that only counts.
func NewProgress(total int, w io.Writer) *Progress {
	p := &Progress{total: total, started: time.Now()}
	if w == nil || IsQuietMode() {
		return p
	}
	p.bar = progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("memories"),
		progressbar.OptionSetWidth(30),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionEnableColorCodes(colorOn.Load()),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(w)
		}),
	)
	return p
}

// Observe records one terminal outcome
func (p *Progress) Observe(e memory.Entry, state memory.State) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch state {
	case memory.Merged:
		p.merged++
	case memory.Failed:
		p.failed++
	case memory.Skipped:
		p.skipped++
	}
	if p.bar == nil {
		return
	}
	p.bar.Describe(p.describe())
	_ = p.bar.Add(1)
}

func (p *Progress) describe() string {
	desc := fmt.Sprintf("%s merged", humanize.Comma(int64(p.merged)))
	if p.skipped > 0 {
		desc += fmt.Sprintf(", %s skipped", humanize.Comma(int64(p.skipped)))
	}
	if p.failed > 0 {
		desc += ", " + Red(fmt.Sprintf("%s failed", humanize.Comma(int64(p.failed))))
	}
	return desc
}

// Counts returns merged, failed and skipped so far
func (p *Progress) Counts() (merged, failed, skipped int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.merged, p.failed, p.skipped
}

// Finish completes the bar and returns a one-line recap
func (p *Progress) Finish() string {
	merged, failed, skipped := p.Counts()

	p.mu.Lock()
	if p.bar != nil {
		_ = p.bar.Finish()
	}
	p.mu.Unlock()

	recap := fmt.Sprintf("%d of %d memories handled in %s", merged+failed+skipped, p.total,
		time.Since(p.started).Round(time.Second))
	if failed > 0 {
		recap += fmt.Sprintf(" (%d failed)", failed)
	}
	return recap
}
