// Package cmd defines the seijiwatch command line interface.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bxtxh/seiji-watch-sub000/internal/app"
	"github.com/bxtxh/seiji-watch-sub000/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "seijiwatch",
	Short: "Legislative proceedings tracker and digest notifier",
	Long: "seijiwatch ingests Diet proceedings from the historical minutes API " +
		"and the real-time transcript feed, detects legislative changes and " +
		"delivers digest notifications to subscribers.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
}

// Execute runs the CLI.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

func loadApp() (*app.App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return app.New(cfg)
}
