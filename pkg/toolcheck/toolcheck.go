// Package toolcheck verifies external binaries before a run starts.
package toolcheck

import (
	"fmt"
	"os/exec"
	"strings"

	errs "snapmem/pkg/errors"
)

// Requirement defines an external binary the pipeline relies on
type Requirement struct {
	Name        string
	Command     string
	Description string
}

// Status reports the availability of a requirement
type Status struct {
	Name      string
	Command   string
	Available bool
	Path      string
	Detail    string
}

// Check resolves every requirement on PATH
func Check(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{Name: req.Name, Command: cmd}
		switch path, err := exec.LookPath(cmd); {
		case cmd == "":
			status.Detail = "command not configured"
		case err != nil:
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
		default:
			status.Available = true
			status.Path = path
		}
		results = append(results, status)
	}
	return results
}

// Require returns a tool-unavailable error naming every missing binary
func Require(requirements []Requirement) error {
	var missing []string
	for _, s := range Check(requirements) {
		if !s.Available {
			missing = append(missing, fmt.Sprintf("%s (%s)", s.Name, s.Detail))
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return errs.ToolUnavailable("missing required tools: "+strings.Join(missing, ", "), nil)
}

// Compositing returns the ffmpeg and ffprobe requirements
func Compositing(ffmpeg, ffprobe string) []Requirement {
	return []Requirement{
		{Name: "ffmpeg", Command: ffmpeg, Description: "burns overlays into videos"},
		{Name: "ffprobe", Command: ffprobe, Description: "reads video dimensions"},
	}
}
