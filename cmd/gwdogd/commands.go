package main

import (
	"context"
	"log/slog"

	"github.com/gordian-engine/gwdog/ghwdog"
	"github.com/gordian-engine/gwdog/gwatchdog"
	"github.com/gordian-engine/gwdog/internal/glog"
	"github.com/spf13/cobra"
)

func setup(cmd *cobra.Command) (daemonConfig, *slog.Logger, error) {
	cfg, err := loadConfig(cmd.Flags())
	if err != nil {
		return daemonConfig{}, nil, err
	}

	log, err := glog.NewLogger(cmd.ErrOrStderr(), cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		return daemonConfig{}, nil, err
	}

	return cfg, log, nil
}

func NewRunCmd(bridgeOpts []ghwdog.Opt) *cobra.Command {
	return &cobra.Command{
		Use: "run",

		Short: "Open the watchdog device and keep it kicked while the daemon is healthy",

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup(cmd)
			if err != nil {
				return err
			}

			return run(cmd.Context(), log, cfg, bridgeOpts)
		},
	}
}

func run(ctx context.Context, log *slog.Logger, cfg daemonConfig, bridgeOpts []ghwdog.Opt) error {
	b, err := ghwdog.New(log.With("sys", "hwdog"), cfg.Bridge, bridgeOpts...)
	if err != nil {
		return err
	}

	stopSignals := b.HandleSignals(ctx)
	defer stopSignals()

	if err := b.Init(ctx); err != nil {
		return err
	}

	// Leaving without a termination, e.g. on interrupt, is still a planned stop.
	defer b.Disarm()

	ctx, cancel := context.WithCancel(ctx)
	wd, wCtx := gwatchdog.NewWatchdog(ctx, log.With("sys", "watchdog"))
	defer func() {
		// The watchdog goroutines only stop with their root context.
		cancel()
		wd.Wait()
	}()

	wd.Feed(b, cfg.KickInterval)

	jitter := cfg.HeartbeatInterval / 10
	if jitter <= 0 {
		jitter = 1
	}
	heartbeats := wd.Monitor(ctx, gwatchdog.MonitorConfig{
		Name:            "gwdogd",
		Interval:        cfg.HeartbeatInterval,
		Jitter:          jitter,
		ResponseTimeout: cfg.HeartbeatTimeout,
	})

	log.Info(
		"Watchdog bridge running",
		"device", cfg.Bridge.DevicePath,
		"enabled", cfg.Bridge.Enabled,
		"kick_interval", cfg.KickInterval,
	)

	for {
		select {
		case <-wCtx.Done():
			log.Info("Stopping due to context cancellation", "cause", context.Cause(wCtx))
			return nil
		case sig := <-heartbeats:
			close(sig.Alive)
		}
	}
}

func NewDisarmCmd(bridgeOpts []ghwdog.Opt) *cobra.Command {
	return &cobra.Command{
		Use: "disarm",

		Short: "Open the watchdog device, kick it once, and disarm it",

		Long: `disarm writes the disarm byte to the watchdog device and closes it.
Drivers that honor the byte then stop counting down.
This is useful after a daemon was killed without the chance to disarm.`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup(cmd)
			if err != nil {
				return err
			}

			b, err := ghwdog.New(log.With("sys", "hwdog"), cfg.Bridge, bridgeOpts...)
			if err != nil {
				return err
			}

			if err := b.Init(cmd.Context()); err != nil {
				return err
			}
			b.Disarm()
			return nil
		},
	}
}

func NewPrintConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use: "print-config",

		Short: "Print the effective configuration as TOML",

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd.Flags())
			if err != nil {
				return err
			}

			return writeConfig(cmd.OutOrStdout(), cfg)
		},
	}
}
