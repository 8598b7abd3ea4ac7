package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Deliver pending digest batches",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.Dispatcher.RunOnce(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("sent=%d failed=%d\n", report.Sent, report.Failed)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(dispatchCmd)
}
