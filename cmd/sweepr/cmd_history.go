package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/yairfalse/sweepr/storage"
)

func newHistoryCmd() *cobra.Command {
	var (
		limit  int
		output string
	)

	cmd := &cobra.Command{
		Use:   "history DB",
		Short: "Show recorded reconciliation runs",
		Long: `Show the runs recorded with --history, newest first. Each run lists
how many resources were scanned, kept in state, queued and dropped.`,
		Example: `  sweepr history runs.db              # Last 20 runs
  sweepr history runs.db --limit 0    # Every run
  sweepr history runs.db -o json      # Full records including manifests`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := storage.NewHistory(args[0]).List(limit)
			if err != nil {
				return err
			}
			return printHistory(cmd.OutOrStdout(), records, output)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "l", 20, "Number of runs to show (0 for all)")
	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format: table, json")
	return cmd
}

func printHistory(out io.Writer, records []storage.RunRecord, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if records == nil {
			records = []storage.RunRecord{}
		}
		return enc.Encode(records)
	case "table":
	default:
		return fmt.Errorf("unknown output format %q", format)
	}

	if len(records) == 0 {
		_, _ = fmt.Fprintln(out, "No runs recorded")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TIME\tSCANNED\tTRACKED\tDELETED\tDROPPED\tKINDS")
	_, _ = fmt.Fprintln(w, "----\t-------\t-------\t-------\t-------\t-----")
	for _, rec := range records {
		kinds := make([]string, 0, len(rec.Manifest))
		for _, k := range rec.Manifest {
			kinds = append(kinds, fmt.Sprintf("%s(%d)", k.Kind, len(k.IDs)))
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%s\n",
			rec.Time.Local().Format(time.DateTime),
			rec.Scanned,
			rec.Tracked,
			rec.Deleted,
			rec.Dropped,
			strings.Join(kinds, ", "),
		)
	}
	return w.Flush()
}
