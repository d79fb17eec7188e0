// Package stats counts terminal outcomes of a run.
package stats

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	errs "snapmem/pkg/errors"
	"snapmem/pkg/memory"
)

// Failure is one entry that ended in Failed
type Failure struct {
	ID      string
	Kind    errs.ErrorType
	Message string
}

// Summary is the final tally of a run. Downloaded+Skipped+Interrupted
// equals Total once every entry is recorded; Interrupted is zero unless the
// run was cancelled.
type Summary struct {
	Total       int
	Downloaded  int
	Skipped     int
	Merged      int
	Failed      int
	Interrupted int
	Failures    []Failure
	Elapsed     time.Duration
}

// Aggregator is safe for concurrent use
type Aggregator struct {
	mu       sync.Mutex
	total    int
	seen     map[string]memory.State
	summary  Summary
	started  time.Time
	observer func(memory.Entry, memory.State)
}

// NewAggregator expects total entries to be recorded
func NewAggregator(total int) *Aggregator {
	return &Aggregator{
		total:   total,
		seen:    make(map[string]memory.State, total),
		started: time.Now(),
	}
}

// OnRecord registers fn to be called after each recorded outcome
func (a *Aggregator) OnRecord(fn func(memory.Entry, memory.State)) {
	a.mu.Lock()
	a.observer = fn
	a.mu.Unlock()
}

// Record counts the terminal state of e. Each entry is counted once; a second
// call for the same ID returns an error and changes nothing.
func (a *Aggregator) Record(e memory.Entry, state memory.State, err error) error {
	if !state.Terminal() {
		return fmt.Errorf("state %s is not terminal", state)
	}

	a.mu.Lock()
	if prev, ok := a.seen[e.ID]; ok {
		a.mu.Unlock()
		return fmt.Errorf("entry %s already recorded as %s", e.ID, prev)
	}
	a.seen[e.ID] = state

	switch state {
	case memory.Merged:
		a.summary.Downloaded++
		a.summary.Merged++
	case memory.Failed:
		if errs.IsType(err, errs.ErrorTypeInterrupted) {
			a.summary.Interrupted++
			break
		}
		a.summary.Downloaded++
		a.summary.Failed++
		f := Failure{ID: e.ID, Kind: errs.TypeOf(err)}
		if err != nil {
			f.Message = err.Error()
		}
		a.summary.Failures = append(a.summary.Failures, f)
	case memory.Skipped:
		a.summary.Skipped++
	}
	observer := a.observer
	a.mu.Unlock()

	if observer != nil {
		observer(e, state)
	}
	return nil
}

// Done returns how many entries have been recorded
func (a *Aggregator) Done() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.seen)
}

// Summary returns a snapshot. Failures are ordered by ID.
func (a *Aggregator) Summary() Summary {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := a.summary
	s.Total = a.total
	s.Elapsed = time.Since(a.started)
	s.Failures = append([]Failure(nil), a.summary.Failures...)
	sort.Slice(s.Failures, func(i, j int) bool { return s.Failures[i].ID < s.Failures[j].ID })
	return s
}

// Render formats the summary as tables
func (s Summary) Render() string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Outcome", "Count"})
	tw.AppendRows([]table.Row{
		{"Total", s.Total},
		{"Downloaded", s.Downloaded},
		{"Merged", s.Merged},
		{"Failed", s.Failed},
		{"Skipped", s.Skipped},
	})
	if s.Interrupted > 0 {
		tw.AppendRow(table.Row{"Interrupted", s.Interrupted})
	}
	tw.AppendFooter(table.Row{"Elapsed", s.Elapsed.Round(time.Second).String()})
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight, AlignFooter: text.AlignRight},
	})
	out := tw.Render()

	if len(s.Failures) == 0 {
		return out
	}

	fw := table.NewWriter()
	fw.SetStyle(table.StyleRounded)
	fw.AppendHeader(table.Row{"#", "ID", "Kind", "Error"})
	for i, f := range s.Failures {
		fw.AppendRow(table.Row{strconv.Itoa(i + 1), f.ID, string(f.Kind), f.Message})
	}
	fw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 4, WidthMax: 80},
	})
	return out + "\n" + fw.Render()
}
