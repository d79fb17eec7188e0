package pipeline

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/memblob"

	"snapmem/pkg/compositor"
	"snapmem/pkg/config"
	errs "snapmem/pkg/errors"
	"snapmem/pkg/logger"
	"snapmem/pkg/memory"
	"snapmem/pkg/metadata"
	"snapmem/pkg/ratelimit"
	"snapmem/pkg/retry"
)

// fakeServer stands in for the export's download links
type fakeServer struct {
	payloads map[string][]byte
	// fail returns the error for the nth request (1-based) of url, or nil
	fail func(url string, call int) error

	mu     sync.Mutex
	calls  map[string]int
	starts []time.Time
}

func newFakeServer() *fakeServer {
	return &fakeServer{payloads: make(map[string][]byte), calls: make(map[string]int)}
}

func (f *fakeServer) Fetch(ctx context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	f.calls[url]++
	call := f.calls[url]
	f.starts = append(f.starts, time.Now())
	f.mu.Unlock()

	if f.fail != nil {
		if err := f.fail(url, call); err != nil {
			return nil, err
		}
	}
	data, ok := f.payloads[url]
	if !ok {
		return nil, errs.Network(404, "unexpected status 404", nil)
	}
	return data, nil
}

func (f *fakeServer) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.starts)
}

func (f *fakeServer) callsFor(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func (f *fakeServer) sortedStarts() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]time.Time(nil), f.starts...)
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// fakeTools answers ffprobe with fixed dimensions and makes ffmpeg write a
// deterministic output derived from the input video.
type fakeTools struct {
	mu sync.Mutex
	// ffmpegResult, when set, overrides the nth ffmpeg call (1-based)
	ffmpegResult func(call int) (compositor.RunResult, error, bool)
	ffmpegCalls  int
}

func (r *fakeTools) Run(ctx context.Context, name string, args ...string) (compositor.RunResult, error) {
	if strings.Contains(name, "ffprobe") {
		return compositor.RunResult{Stdout: []byte(`{"streams":[{"width":64,"height":48}]}`)}, nil
	}

	r.mu.Lock()
	r.ffmpegCalls++
	call := r.ffmpegCalls
	override := r.ffmpegResult
	r.mu.Unlock()
	if override != nil {
		if res, err, ok := override(call); ok {
			return res, err
		}
	}

	var input string
	for i, a := range args {
		if a == "-i" {
			input = args[i+1]
			break
		}
	}
	video, err := os.ReadFile(input)
	if err != nil {
		return compositor.RunResult{ExitCode: 1, Stderr: err.Error()}, nil
	}
	sum := sha256.Sum256(video)
	out := append([]byte("merged:"+hex.EncodeToString(sum[:])), bytes.Repeat([]byte{0}, 12000)...)
	if err := os.WriteFile(args[len(args)-1], out, 0644); err != nil {
		return compositor.RunResult{ExitCode: 1, Stderr: err.Error()}, nil
	}
	return compositor.RunResult{}, nil
}

func (r *fakeTools) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ffmpegCalls
}

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func zipOf(t *testing.T, files map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(files[name])
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func overlayPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 6))
	img.SetRGBA(1, 1, color.RGBA{B: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func imageBundle(t *testing.T, id string, shade uint8) []byte {
	t.Helper()
	var base bytes.Buffer
	require.NoError(t, jpeg.Encode(&base, solid(16, 12, color.RGBA{R: shade, A: 255}), nil))
	return zipOf(t, map[string][]byte{
		id + "-main.jpg":    base.Bytes(),
		id + "-overlay.png": overlayPNG(t),
	})
}

func videoBundle(t *testing.T, id string) []byte {
	t.Helper()
	return zipOf(t, map[string][]byte{
		id + "-main.mp4":    []byte("fake video stream for " + id),
		id + "-overlay.png": overlayPNG(t),
	})
}

type fixture struct {
	cfg     *config.Config
	server  *fakeServer
	tools   *fakeTools
	entries []memory.Entry
	bucket  *blob.Bucket
	log     *logger.TestLogger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Output.ProcessedDir = filepath.Join(root, "processed")
	cfg.Output.RawDir = filepath.Join(root, "raw")
	cfg.Retry.MaxRetries = 3

	bucket, err := blob.OpenBucket(context.Background(), "mem://")
	require.NoError(t, err)
	t.Cleanup(func() { bucket.Close() })

	return &fixture{
		cfg:    cfg,
		server: newFakeServer(),
		tools:  &fakeTools{},
		bucket: bucket,
		log:    logger.NewTestLogger(),
	}
}

func (f *fixture) add(e memory.Entry, payload []byte) {
	e.Index = len(f.entries) + 1
	if e.URL == "" {
		e.URL = "https://memories.example/dl?mid=" + e.ID
	}
	f.entries = append(f.entries, e)
	f.server.payloads[e.URL] = payload
}

// scenarioA adds two images and two videos, each with an overlay
func (f *fixture) scenarioA(t *testing.T) {
	date := time.Date(2023, 3, 4, 5, 6, 7, 0, time.UTC)
	f.add(memory.Entry{ID: "img-1", Date: date, MediaType: memory.Image}, imageBundle(t, "img-1", 200))
	f.add(memory.Entry{ID: "img-2", Date: date, MediaType: memory.Image}, imageBundle(t, "img-2", 100))
	f.add(memory.Entry{ID: "vid-1", Date: date, MediaType: memory.Video}, videoBundle(t, "vid-1"))
	f.add(memory.Entry{ID: "vid-2", Date: date, MediaType: memory.Video}, videoBundle(t, "vid-2"))
}

func (f *fixture) pipeline(t *testing.T, pacer *ratelimit.Pacer) *Pipeline {
	t.Helper()
	if pacer == nil {
		pacer = ratelimit.NewPacer(time.Millisecond)
	}
	p, err := New(Options{
		Config:    f.cfg,
		Fetcher:   f.server,
		Runner:    f.tools,
		ToolCheck: func() error { return nil },
		RawBucket: f.bucket,
		Backoff:   &retry.ConstantBackoff{Delay: 0},
		Pacer:     pacer,
		Logger:    f.log,
	})
	require.NoError(t, err)
	return p
}

// artifacts maps each visible file in the processed directory to its hash
func artifacts(t *testing.T, dir string) map[string]string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	out := make(map[string]string)
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		require.NoError(t, err)
		sum := sha256.Sum256(data)
		out[e.Name()] = hex.EncodeToString(sum[:])
	}
	return out
}

func TestScenarioA(t *testing.T) {
	f := newFixture(t)
	f.cfg.Download.Workers = 1
	f.scenarioA(t)

	summary, err := f.pipeline(t, nil).Run(context.Background(), f.entries)
	require.NoError(t, err)

	assert.Equal(t, 4, summary.Downloaded)
	assert.Equal(t, 4, summary.Merged)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, 0, summary.Skipped)

	files := artifacts(t, f.cfg.Output.ProcessedDir)
	assert.Len(t, files, 4)
	for _, name := range []string{"img-1-processed.jpg", "img-2-processed.jpg", "vid-1-processed.mp4", "vid-2-processed.mp4"} {
		assert.Contains(t, files, name)
	}

	info, err := os.Stat(filepath.Join(f.cfg.Output.ProcessedDir, "img-1-processed.jpg"))
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(f.entries[0].Date))

	matches, err := filepath.Glob(filepath.Join(f.cfg.Output.ProcessedDir, ".stage-*"))
	require.NoError(t, err)
	assert.Empty(t, matches)
	assert.Equal(t, 2, f.tools.calls())
}

func TestCancelledRunIsInterrupted(t *testing.T) {
	f := newFixture(t)
	f.cfg.Download.Workers = 1
	f.scenarioA(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p, err := New(Options{
		Config:    f.cfg,
		Fetcher:   f.server,
		Runner:    f.tools,
		ToolCheck: func() error { return nil },
		RawBucket: f.bucket,
		Backoff:   &retry.ConstantBackoff{Delay: 0},
		Pacer:     ratelimit.NewPacer(5 * time.Second),
		Observer:  func(memory.Entry, memory.State) { cancel() },
		Logger:    f.log,
	})
	require.NoError(t, err)

	start := time.Now()
	summary, err := p.Run(ctx, f.entries)

	require.Error(t, err)
	assert.True(t, errs.IsType(err, errs.ErrorTypeInterrupted))
	assert.Less(t, time.Since(start), 4*time.Second)
	assert.Equal(t, 1, summary.Merged)
	assert.Equal(t, 1, summary.Downloaded)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, 3, summary.Interrupted)
	assert.Empty(t, summary.Failures)
	assert.Equal(t, 1, f.server.total(), "queued entries were never requested")
	assert.Len(t, artifacts(t, f.cfg.Output.ProcessedDir), 1)
}

func TestScenarioBRerunSkipsEverything(t *testing.T) {
	f := newFixture(t)
	f.scenarioA(t)
	f.add(memory.Entry{ID: "direct-1", Date: time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC), MediaType: memory.Image},
		[]byte("\xff\xd8plain jpeg bytes"))

	first, err := f.pipeline(t, nil).Run(context.Background(), f.entries)
	require.NoError(t, err)
	assert.Equal(t, 5, first.Merged)
	requests := f.server.total()

	second, err := f.pipeline(t, nil).Run(context.Background(), f.entries)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Downloaded)
	assert.Equal(t, 5, second.Skipped)
	assert.Equal(t, requests, f.server.total(), "no requests for completed entries")
	assert.Len(t, artifacts(t, f.cfg.Output.ProcessedDir), 5)
}

func TestScenarioCThrottlingFallsBackToSequential(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for the sequential spacing")
	}
	f := newFixture(t)
	f.cfg.Download.Workers = 4
	for i := 1; i <= 10; i++ {
		id := fmt.Sprintf("c-%02d", i)
		f.add(memory.Entry{ID: id, MediaType: memory.Image}, imageBundle(t, id, uint8(i*20)))
	}
	throttled := f.entries[2].URL

	var tripMu sync.Mutex
	var trippedAt time.Time
	f.server.fail = func(url string, call int) error {
		if url == throttled && call == 1 {
			tripMu.Lock()
			trippedAt = time.Now()
			tripMu.Unlock()
			return errs.RateLimit(429, "too many requests")
		}
		return nil
	}

	p := f.pipeline(t, ratelimit.NewPacer(ratelimit.SequentialSpacing))
	summary, err := p.Run(context.Background(), f.entries)
	require.NoError(t, err)

	assert.True(t, p.Sentinel().IsTripped())
	assert.Equal(t, 10, summary.Merged+summary.Failed)
	assert.Equal(t, 10, summary.Downloaded)
	assert.Equal(t, 1, f.log.CountMessage("Throttling detected, switching to sequential downloads for the rest of the run"))

	tripMu.Lock()
	cutoff := trippedAt.Add(5 * time.Millisecond)
	tripMu.Unlock()
	var after []time.Time
	for _, s := range f.server.sortedStarts() {
		if s.After(cutoff) {
			after = append(after, s)
		}
	}
	require.NotEmpty(t, after)
	for i := 1; i < len(after); i++ {
		gap := after[i].Sub(after[i-1])
		assert.GreaterOrEqual(t, gap, ratelimit.SequentialSpacing-15*time.Millisecond, "gap %d was %s", i, gap)
	}
}

func TestScenarioDRetryBudget(t *testing.T) {
	f := newFixture(t)
	f.cfg.Retry.MaxRetries = 3
	f.scenarioA(t)
	timedOut := f.entries[1].URL
	f.server.fail = func(url string, call int) error {
		if url == timedOut {
			return errs.Network(0, "request timed out", context.DeadlineExceeded)
		}
		return nil
	}

	summary, err := f.pipeline(t, nil).Run(context.Background(), f.entries)
	require.NoError(t, err)

	assert.Equal(t, 4, f.server.callsFor(timedOut))
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 3, summary.Merged)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, "img-2", summary.Failures[0].ID)
	assert.Equal(t, errs.ErrorTypeNetwork, summary.Failures[0].Kind)
}

func TestWorkerCountInvariance(t *testing.T) {
	build := func(workers int) map[string]string {
		f := newFixture(t)
		f.cfg.Download.Workers = workers
		f.scenarioA(t)
		f.add(memory.Entry{ID: "plain-zip", MediaType: memory.Video}, zipOf(t, map[string][]byte{
			"plain-zip-main.mp4": []byte("no overlay here"),
		}))
		f.add(memory.Entry{ID: "direct", MediaType: memory.Video}, []byte("raw mp4 bytes"))

		summary, err := f.pipeline(t, nil).Run(context.Background(), f.entries)
		require.NoError(t, err)
		require.Equal(t, 6, summary.Merged)
		return artifacts(t, f.cfg.Output.ProcessedDir)
	}

	one := build(1)
	for _, w := range []int{2, 4, 8} {
		assert.Equal(t, one, build(w), "workers=%d", w)
	}
	assert.Contains(t, one, "plain-zip-processed.mp4")
	assert.Contains(t, one, "memory_0006_video.mp4")
}

func TestCorruptionIsolation(t *testing.T) {
	f := newFixture(t)
	f.cfg.Download.Workers = 3
	f.scenarioA(t)
	f.add(memory.Entry{ID: "broken", MediaType: memory.Image}, []byte("PK\x03\x04not really a zip"))

	summary, err := f.pipeline(t, nil).Run(context.Background(), f.entries)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 4, summary.Merged)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, "broken", summary.Failures[0].ID)
	assert.Equal(t, errs.ErrorTypeArchiveCorruption, summary.Failures[0].Kind)
	assert.Equal(t, 1, f.server.callsFor(f.entries[4].URL), "corruption is not retried")
}

func TestFatalPreconditionMakesNoRequests(t *testing.T) {
	f := newFixture(t)
	f.scenarioA(t)

	p, err := New(Options{
		Config:  f.cfg,
		Fetcher: f.server,
		Runner:  f.tools,
		ToolCheck: func() error {
			return errs.ToolUnavailable("missing required tools: ffprobe", nil)
		},
		Logger: f.log,
	})
	require.NoError(t, err)

	_, err = p.Run(context.Background(), f.entries)
	require.Error(t, err)
	assert.True(t, errs.IsType(err, errs.ErrorTypeToolUnavailable))
	assert.Equal(t, 0, f.server.total())
	assert.Equal(t, int64(0), p.Requests())

	_, statErr := os.Stat(f.cfg.Output.ProcessedDir)
	assert.True(t, os.IsNotExist(statErr), "nothing is created before the check passes")
}

func TestCompositionFailureLeavesNoArtifact(t *testing.T) {
	f := newFixture(t)
	f.add(memory.Entry{ID: "vid-bad", MediaType: memory.Video}, videoBundle(t, "vid-bad"))
	f.tools.ffmpegResult = func(int) (compositor.RunResult, error, bool) {
		return compositor.RunResult{ExitCode: 1, Stderr: "Invalid data found when processing input"}, nil, true
	}

	summary, err := f.pipeline(t, nil).Run(context.Background(), f.entries)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, errs.ErrorTypeComposition, summary.Failures[0].Kind)
	assert.Equal(t, 1, f.tools.calls(), "non-timeout composition failures are not retried")
	assert.Empty(t, artifacts(t, f.cfg.Output.ProcessedDir))

	matches, err := filepath.Glob(filepath.Join(f.cfg.Output.ProcessedDir, ".stage-*"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestCompositionTimeoutIsRetried(t *testing.T) {
	f := newFixture(t)
	f.add(memory.Entry{ID: "vid-slow", MediaType: memory.Video}, videoBundle(t, "vid-slow"))
	f.tools.ffmpegResult = func(call int) (compositor.RunResult, error, bool) {
		if call == 1 {
			return compositor.RunResult{ExitCode: -1}, context.DeadlineExceeded, true
		}
		return compositor.RunResult{}, nil, false
	}

	summary, err := f.pipeline(t, nil).Run(context.Background(), f.entries)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Merged)
	assert.Equal(t, 2, f.tools.calls())
	assert.Equal(t, 1, f.server.total(), "the payload is not downloaded again")
	assert.Contains(t, artifacts(t, f.cfg.Output.ProcessedDir), "vid-slow-processed.mp4")
}

func TestRawComponentsKept(t *testing.T) {
	f := newFixture(t)
	f.scenarioA(t)

	_, err := f.pipeline(t, nil).Run(context.Background(), f.entries)
	require.NoError(t, err)

	ctx := context.Background()
	for _, key := range []string{"img-1/img-1-main.jpg", "img-1/img-1-overlay.png", "vid-2/vid-2-main.mp4"} {
		ok, err := f.bucket.Exists(ctx, key)
		require.NoError(t, err)
		assert.True(t, ok, key)
	}

	data, err := f.bucket.ReadAll(ctx, "img-1/"+metadata.FileName)
	require.NoError(t, err)
	meta, err := metadata.Parse(data)
	require.NoError(t, err)
	assert.Equal(t, "img-1", meta.ID)
	assert.Equal(t, metadata.PackagingBundle, meta.Packaging)
	assert.True(t, meta.HasOverlay)
	assert.Len(t, meta.Components, 2)
	assert.Equal(t, 16, meta.Width)
	assert.Equal(t, 12, meta.Height)
	require.NotNil(t, meta.TakenAt)
	assert.True(t, meta.TakenAt.Equal(time.Date(2023, 3, 4, 5, 6, 7, 0, time.UTC)))
}

func TestRunLockRejectsConcurrentRun(t *testing.T) {
	f := newFixture(t)
	f.scenarioA(t)
	require.NoError(t, os.MkdirAll(f.cfg.Output.ProcessedDir, 0755))

	other := flock.New(filepath.Join(f.cfg.Output.ProcessedDir, LockFileName))
	locked, err := other.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	defer other.Unlock()

	_, err = f.pipeline(t, nil).Run(context.Background(), f.entries)
	require.Error(t, err)
	assert.True(t, errs.IsType(err, errs.ErrorTypeFilesystem))
	assert.Equal(t, 0, f.server.total())
}

func TestSelect(t *testing.T) {
	var entries []memory.Entry
	for i := 0; i < 6; i++ {
		mt := memory.Image
		if i%2 == 0 {
			mt = memory.Video
		}
		entries = append(entries, memory.Entry{ID: fmt.Sprintf("s%d", i), MediaType: mt})
	}

	assert.Len(t, Select(config.InputConfig{Mode: config.ModeFull}, entries), 6)
	assert.Len(t, Select(config.InputConfig{Mode: config.ModeTest}, entries), 4)
	assert.Len(t, Select(config.InputConfig{Mode: config.ModeTest, Limit: 1}, entries), 1)
}
