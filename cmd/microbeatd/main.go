package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"

	"microbeat/internal/app"
	"microbeat/internal/config"
	"microbeat/pkg/logx"
)

// Populated via -ldflags at release build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:           "microbeatd",
		Short:         "Micro-batch scheduling daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfgPath)
		},
	}
	root.Flags().StringVarP(&cfgPath, "config", "c", "config.yaml", "path to config file")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("microbeatd %s (commit %s, built %s)\n", version, commit, date)
		},
	})
	return root
}

func run(cfgPath string) error {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	logs, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.ConsoleEnabled(),
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	defer logs.Close()
	mgr.SetLogger(log.With(logx.String("component", "config")))
	mgr.SetValidator(func(ctx context.Context, cfg *config.Config) error {
		return cfg.Validate()
	})

	a, err := app.New(mgr, logs, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		// A partial start may already have workers and the recorder
		// running; tear them down before reporting the failure.
		a.Stop()
		return err
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	log.Info("microbeatd ready",
		logx.String("version", version),
		logx.String("period", cfg.Engine.Period))

	// Block until a signal arrives or the engine reports a fatal error.
	err = a.Waiter().Wait(ctx)

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	a.Stop()

	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("engine failed: %w", err)
	}
	return nil
}
