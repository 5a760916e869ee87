package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"contentpilot/internal/app"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "contentpilot",
	Short: "Scheduled bulk content generation orchestrator",
	Long: `contentpilot runs daily bulk-generation jobs against a content generator.

Available commands:
  serve         - Arm persisted jobs and serve the admin API
  check-config  - Parse and validate a config file

Examples:
  contentpilot serve --config ./config.yaml
  contentpilot check-config --config ./config.yaml`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestrator",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a, err := app.New(cfgPath)
		if err != nil {
			return fmt.Errorf("init: %w", err)
		}
		if err := a.Start(ctx); err != nil {
			_ = a.Stop(context.Background(), app.StopFatalError)
			return fmt.Errorf("start: %w", err)
		}

		reason := app.StopSignal
		select {
		case <-ctx.Done():
		case <-a.Done():
			reason = app.StopFatalError
		}

		stopCtx, stopCancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer stopCancel()
		_ = a.Stop(stopCtx, reason)
		if err := a.Err(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

var checkConfigCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Validate a config file and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := app.CheckConfig(cfgPath)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "config ok: storage=%s scheduler.enabled=%t http.addr=%s\n",
			cfg.Storage.Driver, cfg.Scheduler.Enabled, cfg.HTTP.Addr)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "./config.yaml", "path to config file (json, yaml or toml)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(checkConfigCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}
