package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"snapmem/pkg/config"
	"snapmem/pkg/ledger"
	"snapmem/pkg/logger"
	"snapmem/pkg/ui"
)

// ledgerCmd represents the ledger command
var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect which memories are already processed",
}

// ledgerListCmd represents the ledger list command
var ledgerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List processed memories recorded in the ledger index",
	Long: `List the memories recorded in the ledger index, oldest first.

Files found in the processed directory count as done even when the index
does not know about them; the summary line shows both numbers.`,
	Run: runLedgerList,
}

func init() {
	rootCmd.AddCommand(ledgerCmd)
	ledgerCmd.AddCommand(ledgerListCmd)
}

func runLedgerList(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(configFile, nil)
	if err != nil {
		ui.PrintError("Failed to load configuration", err.Error())
		os.Exit(1)
	}

	l, err := ledger.Open(cmd.Context(), cfg.Output.ProcessedDir, cfg.LedgerIndexPath(), logger.GetLogger())
	if err != nil {
		ui.PrintError("Failed to open ledger", err.Error())
		os.Exit(1)
	}
	defer l.Close()

	if err := writeLedger(cmd.Context(), os.Stdout, l); err != nil {
		ui.PrintError("Failed to read ledger", err.Error())
		os.Exit(1)
	}
}

// writeLedger prints the indexed records as a table followed by a count line
func writeLedger(ctx context.Context, w io.Writer, l *ledger.Ledger) error {
	records, err := l.Records(ctx)
	if err != nil {
		return err
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"ID", "File", "Completed"})
	for _, r := range records {
		tw.AppendRow(table.Row{r.ID, filepath.Base(r.FinalPath), r.CompletedAt.Local().Format(time.DateTime)})
	}
	tw.Render()

	_, err = fmt.Fprintf(w, "%d indexed, %d done\n", len(records), l.Len())
	return err
}
