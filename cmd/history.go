package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/coval-cli/internal/history"
	"github.com/xkilldash9x/coval-cli/internal/observability"
)

// newHistoryCmd creates the `history` command, which prints per-category
// repair outcome statistics from the local history store.
func newHistoryCmd() *cobra.Command {
	historyCmd := &cobra.Command{
		Use:          "history",
		Short:        "Shows per-category repair outcome statistics",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := observability.GetLogger()

			store, err := history.NewStore(cfg.History(), logger)
			if err != nil {
				return fmt.Errorf("failed to open history store: %w", err)
			}
			defer store.Close()

			stats, err := store.Stats(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to read history stats: %w", err)
			}
			if len(stats) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No repair history recorded yet.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CATEGORY\tTOTAL\tSUCCESS\tRATE")
			for _, s := range stats {
				rate := 0.0
				if s.Total > 0 {
					rate = float64(s.Success) / float64(s.Total)
				}
				fmt.Fprintf(w, "%s\t%d\t%d\t%.2f\n", s.Category, s.Total, s.Success, rate)
			}
			return w.Flush()
		},
	}
	return historyCmd
}
