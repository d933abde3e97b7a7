package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/IshaanNene/specwatch/internal/storage"
)

var historyLimit int

// historyCmd creates the "history" subcommand.
func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent campaign attempts",
		Long:  "List recent campaign attempts recorded by the sqlite checkpoint backend.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Checkpoint.Backend != "sqlite" {
				return fmt.Errorf("run history needs checkpoint.backend=sqlite (have %q)", cfg.Checkpoint.Backend)
			}
			store, err := storage.NewSQLiteCheckpointStore(sqlitePath(cfg.Checkpoint.Path))
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := context.Background()
			runs, err := store.RecentRuns(ctx, historyLimit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Println("no runs recorded yet")
				return nil
			}

			cp, err := store.Load(ctx)
			if err == nil {
				fmt.Printf("Next model index %d, retries spent %d (updated %s)\n\n",
					cp.ModelIndex, cp.RetryCount, humanize.Time(cp.UpdatedAt))
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "STARTED\tMODEL\tATTEMPT\tSTATUS\tVEHICLES\tPAGES\tDURATION\tREASON")
			for _, r := range runs {
				reason := r.ExitReason
				if r.Error != "" {
					reason = r.Error
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%d\t%s\t%s\n",
					humanize.Time(r.StartedAt), r.Model, r.Attempt, r.Status,
					humanize.Comma(int64(r.Vehicles)), r.Pages,
					r.FinishedAt.Sub(r.StartedAt).Round(time.Second), reason)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of attempts to show")
	return cmd
}
