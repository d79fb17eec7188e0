package main

import (
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"snapmem/pkg/config"
	"snapmem/pkg/toolcheck"
	"snapmem/pkg/ui"
)

// toolsCmd represents the tools command
var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Check that ffmpeg and ffprobe are installed",
	Run:   runTools,
}

func init() {
	rootCmd.AddCommand(toolsCmd)
}

func runTools(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(configFile, nil)
	if err != nil {
		ui.PrintError("Failed to load configuration", err.Error())
		os.Exit(1)
	}

	statuses := toolcheck.Check(toolcheck.Compositing(cfg.Compositor.FFmpegPath, cfg.Compositor.FFprobePath))
	if !writeTools(os.Stdout, statuses) {
		ui.PrintError("Required tools are missing; install ffmpeg and try again")
		os.Exit(1)
	}
	ui.PrintSuccess("All required tools found")
}

// writeTools prints one row per tool and reports whether all are available
func writeTools(w io.Writer, statuses []toolcheck.Status) bool {
	ok := true
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Tool", "Status", "Path"})
	for _, s := range statuses {
		state := "found"
		path := s.Path
		if !s.Available {
			ok = false
			state = "missing"
			path = s.Detail
		}
		tw.AppendRow(table.Row{s.Name, state, path})
	}
	tw.Render()
	return ok
}
