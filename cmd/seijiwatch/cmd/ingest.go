package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	ingestFrom string
	ingestTo   string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest proceedings for a date range",
	RunE: func(cmd *cobra.Command, args []string) error {
		from, err := time.Parse("2006-01-02", ingestFrom)
		if err != nil {
			return fmt.Errorf("parse --from: %w", err)
		}
		to, err := time.Parse("2006-01-02", ingestTo)
		if err != nil {
			return fmt.Errorf("parse --to: %w", err)
		}

		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.Router.Run(cmd.Context(), from, to)
		if err != nil {
			return err
		}

		fmt.Printf("state=%s meetings=%d speeches=%d items=%d quarantined=%d\n",
			report.State, report.Meetings, report.Speeches, report.Items, report.Quarantined)
		fmt.Printf("completed=%d skipped=%d deferred=%d\n",
			len(report.Completed), len(report.Skipped), len(report.Deferred))
		return nil
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestFrom, "from", "", "range start (YYYY-MM-DD)")
	ingestCmd.Flags().StringVar(&ingestTo, "to", "", "range end (YYYY-MM-DD)")
	ingestCmd.MarkFlagRequired("from")
	ingestCmd.MarkFlagRequired("to")
	rootCmd.AddCommand(ingestCmd)
}
