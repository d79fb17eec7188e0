package toolcheck

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	errs "snapmem/pkg/errors"
)

func writeStub(t *testing.T, dir, name string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell stubs require a POSIX shell")
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	return path
}

func TestCheck(t *testing.T) {
	binDir := t.TempDir()
	present := writeStub(t, binDir, "ffmpeg")

	results := Check([]Requirement{
		{Name: "ffmpeg", Command: present},
		{Name: "ffprobe", Command: "clearly-not-present-ffprobe"},
		{Name: "blank", Command: "  "},
	})
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if !results[0].Available || results[0].Detail != "" {
		t.Fatalf("expected present stub to be available, got %#v", results[0])
	}
	if results[1].Available || results[1].Detail == "" {
		t.Fatalf("expected missing binary to be reported, got %#v", results[1])
	}
	if results[2].Detail != "command not configured" {
		t.Fatalf("unexpected detail for blank command: %q", results[2].Detail)
	}
}

func TestRequireUsesPath(t *testing.T) {
	binDir := t.TempDir()
	writeStub(t, binDir, "ffmpeg")
	writeStub(t, binDir, "ffprobe")
	t.Setenv("PATH", binDir)

	if err := Require(Compositing("ffmpeg", "ffprobe")); err != nil {
		t.Fatalf("expected tools to be found, got %v", err)
	}
}

func TestRequireMissingProbe(t *testing.T) {
	binDir := t.TempDir()
	writeStub(t, binDir, "ffmpeg")
	t.Setenv("PATH", binDir)

	err := Require(Compositing("ffmpeg", "ffprobe"))
	if err == nil {
		t.Fatal("expected an error when ffprobe is missing")
	}
	if !errs.IsType(err, errs.ErrorTypeToolUnavailable) {
		t.Fatalf("expected tool_unavailable error, got %v", err)
	}
}
