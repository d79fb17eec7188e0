package ui

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snapmem/pkg/config"
	"snapmem/pkg/memory"
	"snapmem/pkg/stats"
)

type recordingSender struct {
	titles []string
	err    error
}

func (r *recordingSender) Send(title, message string) error {
	r.titles = append(r.titles, title)
	return r.err
}

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	SetColor(false)
	t.Cleanup(func() {
		SetOutput(os.Stdout)
		SetQuietMode(false)
	})
	return &buf
}

func TestColorizeDisabled(t *testing.T) {
	captureOutput(t)
	assert.Equal(t, "plain", Red("plain"))

	SetColor(true)
	assert.Equal(t, "\033[31mplain\033[0m", Red("plain"))
	SetColor(false)
}

func TestQuietModeKeepsErrors(t *testing.T) {
	buf := captureOutput(t)
	SetQuietMode(true)

	PrintInfo("Processed", "dir")
	PrintSuccess("done")
	PrintError("failed", errors.New("boom"))

	assert.Equal(t, "failed: boom\n", buf.String())
}

func TestNotifierRunFinished(t *testing.T) {
	buf := captureOutput(t)
	sender := &recordingSender{}
	n := NewNotifier(config.NotificationConfig{Enabled: true, OnComplete: true, OnError: true})
	n.SetSender(sender)

	n.RunFinished(stats.Summary{Merged: 3})
	n.RunFinished(stats.Summary{Merged: 2, Failed: 1})

	require.Len(t, sender.titles, 2)
	assert.Equal(t, "Memories downloaded", sender.titles[0])
	assert.Equal(t, "Memories finished with failures", sender.titles[1])
	assert.Contains(t, buf.String(), "2 merged, 0 skipped, 1 failed")
}

func TestNotifierDisabled(t *testing.T) {
	buf := captureOutput(t)
	sender := &recordingSender{}
	n := NewNotifier(config.NotificationConfig{Enabled: false, OnComplete: true})
	n.SetSender(sender)

	n.RunFinished(stats.Summary{Merged: 1})

	assert.Empty(t, sender.titles)
	assert.Empty(t, buf.String())
}

func TestNotifierIgnoresSenderErrors(t *testing.T) {
	captureOutput(t)
	n := NewNotifier(config.NotificationConfig{Enabled: true, OnError: true})
	n.SetSender(&recordingSender{err: errors.New("no notification daemon")})

	assert.NotPanics(t, func() { n.RunFinished(stats.Summary{Failed: 1}) })
}

func TestProgressCounts(t *testing.T) {
	captureOutput(t)
	var buf bytes.Buffer
	p := NewProgress(3, &buf)

	p.Observe(memory.Entry{ID: "a"}, memory.Merged)
	p.Observe(memory.Entry{ID: "b"}, memory.Skipped)
	p.Observe(memory.Entry{ID: "c"}, memory.Failed)

	merged, failed, skipped := p.Counts()
	assert.Equal(t, 1, merged)
	assert.Equal(t, 1, failed)
	assert.Equal(t, 1, skipped)
	recap := p.Finish()
	assert.True(t, strings.HasPrefix(recap, "3 of 3 memories handled"))
	assert.True(t, strings.HasSuffix(recap, "(1 failed)"))
}

func TestProgressWithoutWriter(t *testing.T) {
	p := NewProgress(1, nil)
	p.Observe(memory.Entry{ID: "a"}, memory.Merged)
	merged, _, _ := p.Counts()
	assert.Equal(t, 1, merged)
}
