package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Run one change detection pass",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.Detector.RunOnce(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("stage_changes=%d new_meetings=%d duplicates=%d baselined=%d\n",
			report.StageChanges, report.NewMeetings, report.Duplicates, report.Baselined)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(detectCmd)
}
