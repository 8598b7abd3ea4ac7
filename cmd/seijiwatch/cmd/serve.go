package cmd

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/juju/clock"
	"github.com/spf13/cobra"

	"github.com/bxtxh/seiji-watch-sub000/internal/infrastructure/scheduler"
	"github.com/bxtxh/seiji-watch-sub000/internal/logging"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the subscription endpoints and the recurring detect/digest/dispatch jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		clk := clock.WallClock
		logger := logging.Component(a.Logger, "serve")

		detectLoop := scheduler.NewInterval("detect", a.Config.Detector.PollInterval, clk, logger)
		if err := detectLoop.Start(ctx, func(time.Time) {
			if _, err := a.Detector.RunOnce(ctx); err != nil {
				logger.Error("detection pass failed", "error", err)
			}
		}); err != nil {
			return err
		}

		digestLoop := scheduler.NewInterval("digest", a.Config.Digest.Window, clk, logger)
		if err := digestLoop.Start(ctx, func(now time.Time) {
			if _, err := a.Aggregator.RunOnce(ctx, now); err != nil {
				logger.Error("aggregation failed", "error", err)
				return
			}
			if _, err := a.Dispatcher.RunOnce(ctx); err != nil {
				logger.Error("dispatch failed", "error", err)
			}
		}); err != nil {
			return err
		}

		srv := &http.Server{
			Addr:         serveAddr,
			Handler:      a.Webhook.Router(),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			logger.Info("http server listening", "addr", serveAddr)
			errCh <- srv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				return err
			}
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		detectLoop.Stop(shutdownCtx)
		digestLoop.Stop(shutdownCtx)
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "listen address")
	rootCmd.AddCommand(serveCmd)
}
