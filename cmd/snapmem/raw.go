package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"snapmem/pkg/config"
	"snapmem/pkg/ledger"
	"snapmem/pkg/logger"
	"snapmem/pkg/metadata"
	"snapmem/pkg/storage"
	"snapmem/pkg/ui"
)

// rawCmd represents the raw command
var rawCmd = &cobra.Command{
	Use:   "raw <id>",
	Short: "Show the stored raw components of one memory",
	Long: `Show what the raw store kept for one memory: its components, the
memory.json sidecar when metadata was kept, and where the processed file
ended up.`,
	Args: cobra.ExactArgs(1),
	Run:  runRaw,
}

func init() {
	rootCmd.AddCommand(rawCmd)
}

func runRaw(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(configFile, nil)
	if err != nil {
		ui.PrintError("Failed to load configuration", err.Error())
		os.Exit(1)
	}
	log := logger.GetLogger()

	store, err := storage.OpenRawOutput(cmd.Context(), cfg.Output.RawDir, cfg.Output.RawBucketURL, log)
	if err != nil {
		ui.PrintError("Failed to open raw store", err.Error())
		os.Exit(1)
	}
	defer store.Close()

	l, err := ledger.Open(cmd.Context(), cfg.Output.ProcessedDir, cfg.LedgerIndexPath(), log)
	if err != nil {
		ui.PrintError("Failed to open ledger", err.Error())
		os.Exit(1)
	}
	defer l.Close()

	if err := writeRaw(cmd.Context(), os.Stdout, store, l, args[0]); err != nil {
		ui.PrintError("Failed to show memory", err.Error())
		os.Exit(1)
	}
}

// writeRaw prints the components stored for id, the parsed sidecar if
// present and the processed path recorded in the ledger
func writeRaw(ctx context.Context, w io.Writer, store *storage.RawStore, l *ledger.Ledger, id string) error {
	keys, err := store.Keys(ctx, id)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return fmt.Errorf("no raw components stored for %s", id)
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Component"})
	hasSidecar := false
	for _, k := range keys {
		name := path.Base(k)
		if name == metadata.FileName {
			hasSidecar = true
		}
		tw.AppendRow(table.Row{name})
	}
	tw.Render()

	if hasSidecar {
		data, err := store.Get(ctx, id, metadata.FileName)
		if err != nil {
			return err
		}
		meta, err := metadata.Parse(data)
		if err != nil {
			return err
		}
		taken := meta.RawDate
		if meta.TakenAt != nil {
			taken = meta.TakenAt.Local().Format(time.DateTime)
		}
		fmt.Fprintf(w, "Taken:     %s\n", taken)
		fmt.Fprintf(w, "Media:     %s (%s)\n", meta.MediaType, meta.Packaging)
		fmt.Fprintf(w, "Size:      %s\n", humanize.Bytes(uint64(meta.Size)))
		if meta.Width > 0 {
			fmt.Fprintf(w, "Frame:     %dx%d %s\n", meta.Width, meta.Height, meta.AspectRatio())
		}
		fmt.Fprintf(w, "Overlay:   %t\n", meta.HasOverlay)
	}

	final, ok := l.Path(id)
	if !ok {
		final = "not processed yet"
	}
	_, err = fmt.Fprintf(w, "Processed: %s\n", final)
	return err
}
