// Command marketguard is the entry point for the manipulation detection
// service. It loads configuration, validates it, sets up signal handling, and
// runs the selected subcommand.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/alanyoungcy/marketguard/internal/app"
	"github.com/alanyoungcy/marketguard/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "marketguard",
	Short: "Real-time market-manipulation detection",
	Long: `marketguard scores order-book snapshots and executed trades per symbol for
spoofing, layering, wash trading and fake liquidity, and publishes a
confidence-weighted manipulation likelihood for every evaluation cycle.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Consume the live feed and serve assessments over HTTP and WebSocket",
	RunE:  runServe,
}

var replayCmd = &cobra.Command{
	Use:   "replay <source>",
	Short: "Replay a recorded JSONL event file and print one assessment per line",
	Long: `Replay feeds a recorded JSONL file of normalized book and trade events
through a fresh engine and writes every assessment as a JSON line to stdout.
The source is a local path, an s3://<key> object in the configured bucket, or
an s3://<prefix>/ whose .jsonl objects are replayed in key order.

Example usage:
  marketguard replay recordings/btc-2026-03-02.jsonl
  marketguard replay s3://recordings/btc-2026-03-02.jsonl --config prod.toml
  marketguard replay s3://recordings/2026-03-02/ --config prod.toml`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration and print it with secrets redacted",
	RunE:  runConfigCheck,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.toml", "path to configuration file")

	rootCmd.AddCommand(serveCmd, replayCmd, configCmd)
	configCmd.AddCommand(configCheckCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// setup loads and validates the configuration for mode and builds the JSON
// logger on w, with a level that hot reload can change.
func setup(mode string, w io.Writer) (*config.Config, *slog.LevelVar, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	cfg.Mode = mode

	level := new(slog.LevelVar)
	level.Set(config.ParseLogLevel(cfg.LogLevel))
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		return nil, nil, nil, err
	}
	return cfg, level, logger, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, level, logger, err := setup("serve", os.Stdout)
	if err != nil {
		return err
	}
	logger.Info("marketguard starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", configPath),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application := app.New(cfg, configPath, level, logger)
	defer application.Close()

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("application exited with error", slog.String("error", err.Error()))
		return err
	}
	logger.Info("marketguard stopped")
	return nil
}

func runReplay(cmd *cobra.Command, args []string) error {
	// Assessments own stdout in replay mode.
	cfg, level, logger, err := setup("replay", os.Stderr)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application := app.New(cfg, "", level, logger)
	defer application.Close()

	_, err = application.Replay(ctx, args[0], cmd.OutOrStdout())
	return err
}

func runConfigCheck(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	redacted := config.RedactedConfig(cfg)
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "# %s: ok\n", configPath)
	return toml.NewEncoder(out).Encode(redacted)
}
