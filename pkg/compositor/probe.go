package compositor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ProbeResult is the subset of ffprobe's JSON output we read
type ProbeResult struct {
	Streams []ProbeStream `json:"streams"`
}

// ProbeStream describes one stream reported by ffprobe
type ProbeStream struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Dimensions returns the first stream's size, or ok=false when unknown
func (r ProbeResult) Dimensions() (width, height int, ok bool) {
	for _, s := range r.Streams {
		if s.Width > 0 && s.Height > 0 {
			return s.Width, s.Height, true
		}
	}
	return 0, 0, false
}

// Probe reads the first video stream's dimensions from path
func Probe(ctx context.Context, runner Runner, binary, path string) (ProbeResult, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffprobe"
	}
	if strings.TrimSpace(path) == "" {
		return ProbeResult{}, errors.New("ffprobe: empty path")
	}

	res, err := runner.Run(ctx, binary,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height",
		"-of", "json",
		path,
	)
	if err != nil {
		return ProbeResult{}, fmt.Errorf("ffprobe: %w", err)
	}
	if res.ExitCode != 0 {
		return ProbeResult{}, fmt.Errorf("ffprobe exited with status %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}

	var out ProbeResult
	if err := json.Unmarshal(res.Stdout, &out); err != nil {
		return ProbeResult{}, fmt.Errorf("ffprobe parse: %w", err)
	}
	return out, nil
}
