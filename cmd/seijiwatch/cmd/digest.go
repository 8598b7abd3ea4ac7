package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var digestCmd = &cobra.Command{
	Use:   "digest",
	Short: "Aggregate unprocessed events into digest batches",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Close()

		batches, err := a.Aggregator.RunOnce(cmd.Context(), time.Now())
		if err != nil {
			return err
		}

		fmt.Printf("batches=%d\n", len(batches))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(digestCmd)
}
