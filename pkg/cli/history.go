package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/woliveiras/partfix/pkg/history"
)

func newHistoryCommand(ui UI, opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "history [IMAGE]",
		Short: "List the runs recorded in --history-db, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.HistoryDB == "" {
				return fail(ExitUsage, fmt.Errorf("history requires --history-db"))
			}
			image := ""
			if len(args) == 1 {
				image = args[0]
			}

			store, err := history.Open(cmd.Context(), opts.HistoryDB)
			if err != nil {
				return fail(ExitOSErr, err)
			}
			defer store.Close()

			runs, err := store.List(cmd.Context(), image)
			if err != nil {
				return fail(ExitOSErr, fmt.Errorf("list history: %w", err))
			}
			if len(runs) == 0 {
				ui.Println("No runs recorded.")
				return nil
			}
			for _, r := range runs {
				printRun(ui, r)
			}
			return nil
		},
	}
}

func printRun(ui UI, r history.Run) {
	ui.Printf("%s  %s  %s  %s\n", r.FinishedAt.Format("2006-01-02 15:04:05"), r.ID, r.Status, r.ImagePath)
	if r.Reason != "" {
		ui.Printf("    reason: %s\n", r.Reason)
	}
	if r.Error != "" {
		ui.Printf("    error: %s\n", r.Error)
	}
	for _, m := range r.Mismatches {
		found := m.Found
		if found == "" {
			found = "<absent>"
		}
		ui.Printf("    %s (%s line %d): found %s, expected %s\n", m.Reference, m.File, m.Line, found, m.Expected)
	}
	for _, c := range r.Changes {
		ui.Printf("    rewrote partition %d %s: %s -> %s\n", c.Partition, c.File, c.Before, c.After)
	}
}
