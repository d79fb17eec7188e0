package compositor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"time"

	errs "snapmem/pkg/errors"
	"snapmem/pkg/logger"
)

const fallbackFilter = "[0:v]scale=trunc(iw/2)*2:trunc(ih/2)*2,setsar=1[base];" +
	"[1:v]scale=trunc(iw/2)*2:trunc(ih/2)*2,format=rgba[ovr];" +
	"[base][ovr]overlay=0:0:format=auto[v]"

// VideoStrategy burns the overlay into every frame with ffmpeg
type VideoStrategy struct {
	Runner         Runner
	FFmpegPath     string
	FFprobePath    string
	Timeout        time.Duration
	MinOutputBytes int64
	// ScratchDir holds per-entry input files; empty means the OS temp dir
	ScratchDir string
	Logger     logger.Logger
}

func (s *VideoStrategy) Composite(ctx context.Context, req Request) error {
	log := s.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}

	work, err := os.MkdirTemp(s.ScratchDir, "snapmem-"+req.EntryID+"-")
	if err != nil {
		return errs.Filesystem("create scratch dir", err)
	}
	defer os.RemoveAll(work)

	basePath := filepath.Join(work, "base"+req.Bundle.Base.Ext)
	if err := os.WriteFile(basePath, req.Bundle.Base.Data, 0644); err != nil {
		return errs.Filesystem("write base video", err)
	}
	overlayPath, err := writeOverlayPNG(work, req.Bundle.Overlay.Data, req.Bundle.Overlay.Ext)
	if err != nil {
		return errs.Filesystem("write overlay", err)
	}

	filter := fallbackFilter
	probeCtx, cancelProbe := s.bounded(ctx)
	probe, err := Probe(probeCtx, s.Runner, s.FFprobePath, basePath)
	cancelProbe()
	if w, h, ok := probe.Dimensions(); err == nil && ok {
		filter = FilterGraph(w, h)
	} else {
		log.WithError(err).DebugWithFields("ffprobe gave no dimensions, using fallback filter", map[string]interface{}{
			"id": req.EntryID,
		})
	}

	runCtx, cancel := s.bounded(ctx)
	defer cancel()

	res, err := s.Runner.Run(runCtx, s.ffmpeg(), FFmpegArgs(basePath, overlayPath, filter, req.OutputPath)...)
	if err != nil {
		os.Remove(req.OutputPath)
		if errors.Is(err, context.DeadlineExceeded) {
			return errs.Composition(-1, fmt.Sprintf("ffmpeg exceeded %s", s.Timeout), ErrTimeout)
		}
		return errs.Composition(-1, "ffmpeg could not run", err)
	}
	if res.ExitCode != 0 {
		os.Remove(req.OutputPath)
		return errs.Composition(res.ExitCode, "ffmpeg failed: "+lastLine(res.Stderr), nil)
	}

	info, err := os.Stat(req.OutputPath)
	if err != nil || info.Size() <= s.MinOutputBytes {
		os.Remove(req.OutputPath)
		return errs.Composition(0, "ffmpeg produced no usable output", err)
	}
	return nil
}

// bounded limits one external process to Timeout. ffprobe and ffmpeg each
// get their own budget.
func (s *VideoStrategy) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.Timeout)
}

func (s *VideoStrategy) ffmpeg() string {
	if s.FFmpegPath == "" {
		return "ffmpeg"
	}
	return s.FFmpegPath
}

// FilterGraph scales both inputs to the even size below w x h and lays the
// overlay at the origin.
func FilterGraph(w, h int) string {
	w -= w % 2
	h -= h % 2
	return fmt.Sprintf("[0:v]scale=%d:%d,setsar=1[base];"+
		"[1:v]scale=%d:%d,format=rgba[ovr];"+
		"[base][ovr]overlay=0:0:format=auto[v]", w, h, w, h)
}

// FFmpegArgs is the full argument list for one overlay burn-in
func FFmpegArgs(video, overlay, filter, output string) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-i", video,
		"-loop", "1", "-i", overlay,
		"-filter_complex", filter,
		"-map", "[v]",
		"-map", "0:a?",
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-preset", "medium",
		"-crf", "23",
		"-c:a", "copy",
		"-shortest",
		"-movflags", "+faststart",
		"-y",
		output,
	}
}

// writeOverlayPNG stores the overlay as PNG, converting other formats. An
// overlay that does not decode is written unchanged for ffmpeg to try.
func writeOverlayPNG(dir string, data []byte, ext string) (string, error) {
	if ext != ".png" {
		if img, _, err := image.Decode(bytes.NewReader(data)); err == nil {
			var buf bytes.Buffer
			if err := png.Encode(&buf, img); err == nil {
				path := filepath.Join(dir, "overlay.png")
				return path, os.WriteFile(path, buf.Bytes(), 0644)
			}
		}
	}
	path := filepath.Join(dir, "overlay"+ext)
	return path, os.WriteFile(path, data, 0644)
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
