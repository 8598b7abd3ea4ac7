package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var subscribeCmd = &cobra.Command{
	Use:   "subscribe <subscriber-id> <topic-id>",
	Short: "Create an unconfirmed subscription and print its confirmation link",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Close()

		confirmToken, err := a.Subscriptions.Subscribe(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}

		fmt.Printf("%s/subscriptions/confirm?token=%s\n", a.Config.Tokens.BaseURL, confirmToken)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(subscribeCmd)
}
