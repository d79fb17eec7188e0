package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"

	"snapmem/pkg/catalog"
	"snapmem/pkg/config"
	errs "snapmem/pkg/errors"
	"snapmem/pkg/logger"
	"snapmem/pkg/pipeline"
	"snapmem/pkg/stats"
	"snapmem/pkg/ui"
)

var (
	// Run command flags
	htmlPath     string
	testMode     bool
	limit        int
	workers      int
	maxRetries   int
	processedDir string
	rawDir       string
	notify       bool
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Download and composite every memory in an export",
	Long: `Download every memory listed in memories_history.html, extract the media
and overlay, and write the composited result to the processed directory.

Memories already present in the processed directory are skipped, so an
interrupted run can simply be started again.`,
	Example: `  # Process the whole export with default settings
  snapmem run --html ./html/memories_history.html

  # Try the setup on two videos and two images first
  snapmem run --test

  # Download with four workers; throttling drops back to sequential
  snapmem run --workers 4

  # Process only the first 50 memories
  snapmem run --limit 50`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		runMemories(cmd)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&htmlPath, "html", "", "path to memories_history.html")
	runCmd.Flags().BoolVar(&testMode, "test", false, "process only two videos and two images")
	runCmd.Flags().IntVar(&limit, "limit", 0, "process at most this many memories (wins over --test)")
	runCmd.Flags().IntVarP(&workers, "workers", "w", 1, "number of concurrent downloads")
	runCmd.Flags().IntVar(&maxRetries, "retries", 3, "retries per memory after the first attempt")
	runCmd.Flags().StringVarP(&processedDir, "processed", "o", "", "directory for composited output")
	runCmd.Flags().StringVar(&rawDir, "raw", "", "directory for raw downloaded components")
	runCmd.Flags().BoolVar(&notify, "notify", false, "send a desktop notification when the run finishes")
}

// flagOverrides collects the flags the user actually set
func flagOverrides(cmd *cobra.Command) map[string]interface{} {
	flags := make(map[string]interface{})
	set := cmd.Flags().Changed

	if set("html") {
		flags["html"] = htmlPath
	}
	if set("test") {
		flags["test"] = testMode
	}
	if set("limit") {
		flags["limit"] = limit
	}
	if set("workers") {
		flags["workers"] = workers
	}
	if set("retries") {
		flags["retries"] = maxRetries
	}
	if set("processed") {
		flags["processed"] = processedDir
	}
	if set("raw") {
		flags["raw"] = rawDir
	}
	if set("notify") {
		flags["notify"] = notify
	}
	if logLevel != "" {
		flags["log-level"] = logLevel
	}
	return flags
}

func runMemories(cmd *cobra.Command) {
	cfg, err := config.Load(configFile, flagOverrides(cmd))
	if err != nil {
		ui.PrintError("Failed to load configuration", err.Error())
		os.Exit(1)
	}

	if err := logger.Initialize(&cfg.Logging); err != nil {
		ui.PrintError("Failed to initialize logger", err.Error())
		os.Exit(1)
	}
	log := logger.GetLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, err := process(ctx, cfg, log)
	if code := report(cfg, summary, err, log); code != 0 {
		os.Exit(code)
	}
}

// report prints the outcome of a run and returns the process exit code
func report(cfg *config.Config, summary stats.Summary, err error, log logger.Logger) int {
	if errs.IsType(err, errs.ErrorTypeInterrupted) {
		log.WithError(err).Warn("Run interrupted")
		ui.PrintBlock(summary.Render())
		ui.PrintError(fmt.Sprintf("Interrupted with %d memories left; run again to resume", summary.Interrupted))
		return 1
	}
	if err != nil {
		log.WithError(err).Error("Run aborted")
		if errs.IsType(err, errs.ErrorTypeToolUnavailable) {
			ui.PrintError("Required tools are missing", err.Error())
			ui.PrintError("Install ffmpeg (which ships ffprobe) and try again.")
		} else {
			ui.PrintError("Run failed", err.Error())
		}
		return 1
	}

	ui.PrintBlock(summary.Render())
	ui.NewNotifier(cfg.Notifications).RunFinished(summary)
	if summary.Failed > 0 {
		ui.PrintWarning(fmt.Sprintf("%d memories failed; run again to retry them", summary.Failed))
		return 0
	}
	ui.PrintSuccess("All memories processed")
	return 0
}

// process loads the catalog and runs the pipeline over the selected entries
func process(ctx context.Context, cfg *config.Config, log logger.Logger) (stats.Summary, error) {
	entries, err := catalog.Load(cfg.Input.HTMLPath)
	if err != nil {
		return stats.Summary{}, errs.Wrap(errs.ErrorTypeFilesystem, err, "failed to read export")
	}

	found := catalog.Summarize(entries)
	log.WithFields(map[string]interface{}{
		"total":  found.Total,
		"videos": found.Videos,
		"images": found.Images,
	}).Info("Catalog loaded")
	ui.PrintInfo("Export", cfg.Input.HTMLPath)
	ui.PrintInfo("Memories", fmt.Sprintf("%d (%d videos, %d images)", found.Total, found.Videos, found.Images))

	selected := pipeline.Select(cfg.Input, entries)
	if len(selected) != len(entries) {
		ui.PrintInfo("Selected", fmt.Sprintf("%d", len(selected)))
	}
	ui.PrintInfo("Processed", cfg.Output.ProcessedDir)
	ui.PrintInfo("Workers", fmt.Sprintf("%d", cfg.Download.Workers))

	progress := ui.NewProgress(len(selected), os.Stdout)
	p, err := pipeline.New(pipeline.Options{
		Config:   cfg,
		Observer: progress.Observe,
		Logger:   log,
	})
	if err != nil {
		return stats.Summary{Total: len(selected)}, err
	}

	summary, err := p.Run(ctx, selected)
	recap := progress.Finish()
	if err == nil {
		ui.PrintHighlight(recap)
	}
	if p.Sentinel().IsTripped() {
		ui.PrintWarning("The server throttled requests; downloads continued one at a time")
	}
	return summary, err
}
