package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/calsync/internal/syncer"
)

func syncCmd() *cobra.Command {
	var (
		days   int
		dryRun bool
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one reconciliation over the last N days",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			driver, err := newDriver(ctx, logger)
			if err != nil {
				return fmt.Errorf("sync: %w", err)
			}

			report, err := driver.Run(ctx, syncer.RunOptions{DaysBack: days, DryRun: dryRun})
			if report != nil {
				if asJSON {
					enc := json.NewEncoder(os.Stdout)
					enc.SetIndent("", "  ")
					if encErr := enc.Encode(report); encErr != nil {
						return fmt.Errorf("sync: encoding report: %w", encErr)
					}
				} else {
					printReport(report)
				}
			}
			if err != nil {
				return fmt.Errorf("sync: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "window size in days (default from sync.days_back)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "log intended writes without issuing them")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

func printReport(r *syncer.Report) {
	fmt.Printf("Run %s  %s .. %s", r.RunID, r.Window.From.Format("2006-01-02 15:04"), r.Window.To.Format("2006-01-02 15:04"))
	if r.DryRun {
		fmt.Print("  (dry run)")
	}
	fmt.Println()
	for _, c := range r.Calendars {
		printCounters(c.Calendar, c.Counters)
	}
	if len(r.Calendars) > 1 {
		printCounters("total", r.Totals)
	}
}

func printCounters(label string, c syncer.Counters) {
	fmt.Printf("  %-12s seen=%d created=%d updated=%d skipped=%d archived=%d dropped=%d\n",
		label, c.Seen, c.Created, c.Updated, c.Skipped, c.Archived, c.DroppedTotal())

	reasons := make([]string, 0, len(c.Dropped))
	for r := range c.Dropped {
		reasons = append(reasons, string(r))
	}
	sort.Strings(reasons)
	for _, r := range reasons {
		fmt.Printf("  %-12s   %s=%d\n", "", r, c.Dropped[syncer.DropReason(r)])
	}
}
