// Package main provides the promoengine binary entry point.
// Promoengine is a promotion-evaluation server: it compiles authored
// rule trees into executable workflows, serves runtime evaluation for
// contact events, and drains granted-reward events to the bus.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tiendalab/promoengine/config"
	"github.com/tiendalab/promoengine/outbox"
	"github.com/tiendalab/promoengine/store"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "promoengine"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Promotion evaluation engine",
		Long: `Promoengine decides which promotions apply to an inbound contact
event: it compiles authored rule trees into executable workflows,
walks promotions, tiers and expression groups under cooldown,
idempotency, segment and exclusivity constraints, and persists the
granted rewards.

It serves three HTTP surfaces (draft upsert, publish, evaluate) and
drains an at-least-once outbox onto NATS JetStream.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, logLevel)
		},
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the engine (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, logLevel)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context(), configPath, logLevel)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "sweep",
		Short: "Drain the outbox once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep(cmd.Context(), configPath, logLevel)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	return cmd
}

// setup builds the logger and the effective configuration shared by
// every subcommand.
func setup(configPath, logLevel string) (*config.Config, *slog.Logger, error) {
	level := slog.LevelInfo
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := config.NewLoader(logger).Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, logger, nil
}

func runServe(ctx context.Context, configPath, logLevel string) error {
	cfg, logger, err := setup(configPath, logLevel)
	if err != nil {
		return err
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := NewApp(signalCtx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	logger.Info("promoengine ready",
		"version", Version,
		"addr", cfg.HTTP.Addr,
		"cache", cfg.Cache.URL != "",
		"sweeper", !cfg.Sweeper.Disabled)

	if err := app.Run(signalCtx); err != nil {
		return err
	}
	logger.Info("promoengine shutdown complete")
	return nil
}

func runMigrate(ctx context.Context, configPath, logLevel string) error {
	cfg, logger, err := setup(configPath, logLevel)
	if err != nil {
		return err
	}

	st, err := store.Open(ctx, store.Config{URL: cfg.Database.URL}, logger)
	if err != nil {
		return wrapPostgresError(err)
	}
	defer st.Close()

	return st.Migrate(ctx)
}

// runSweep drains the outbox until it is empty, then exits. Useful for
// operational catch-up when the in-process sweeper was disabled.
func runSweep(ctx context.Context, configPath, logLevel string) error {
	cfg, logger, err := setup(configPath, logLevel)
	if err != nil {
		return err
	}

	st, err := store.Open(ctx, store.Config{URL: cfg.Database.URL}, logger)
	if err != nil {
		return wrapPostgresError(err)
	}
	defer st.Close()

	pub, err := outbox.NewNATSPublisher(ctx, cfg.NATS.URL, logger)
	if err != nil {
		return wrapNATSError(err, cfg.NATS.URL)
	}
	defer pub.Close()

	sweeper := outbox.NewSweeper(
		outbox.NewSQLStore(st), pub,
		cfg.Sweeper.Interval, cfg.Sweeper.BatchSize,
		outbox.WithLogger(logger),
	)

	total := 0
	for {
		swept, err := sweeper.Sweep(ctx)
		total += swept
		if err != nil {
			return fmt.Errorf("sweep outbox: %w", err)
		}
		if swept < cfg.Sweeper.BatchSize {
			break
		}
	}
	logger.Info("outbox drained", "messages", total)
	return nil
}
