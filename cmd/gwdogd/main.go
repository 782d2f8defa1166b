// Command gwdogd keeps a hardware watchdog kicked
// for as long as the daemon's supervised subsystems stay responsive.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"

	"github.com/gordian-engine/gwdog/ghwdog"
	"github.com/spf13/cobra"
)

func main() {
	if err := mainE(); err != nil {
		os.Exit(1)
	}
}

func mainE() error {
	// SIGTERM belongs to the watchdog bridge, which disarms the device before exiting.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	// Used only until the configured logger is available.
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	root := NewRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		logger.Info("Failure", "err", err)
		os.Stderr.Sync()
		return err
	}

	return nil
}

// NewRootCmd returns the gwdogd command tree.
// The options are applied to every watchdog bridge the subcommands create.
func NewRootCmd(bridgeOpts ...ghwdog.Opt) *cobra.Command {
	rootCmd := &cobra.Command{
		Use: "gwdogd SUBCOMMAND",

		CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},

		SilenceUsage: true,

		Long: `gwdogd bridges a software watchdog to the kernel watchdog device.

While the daemon's main loop answers its heartbeat, gwdogd kicks the device.
If the heartbeat goes unanswered, gwdogd exits fatally and leaves the device
armed, so the hardware resets the machine.
On SIGTERM the device is disarmed before gwdogd exits.

Configuration is read, in increasing precedence, from built-in defaults,
the TOML file named by --config, GWDOG_* environment variables
(for example GWDOG_DEVICE or GWDOG_KICK_INTERVAL), and flags.
`,
	}

	addConfigFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(
		NewRunCmd(bridgeOpts),
		NewDisarmCmd(bridgeOpts),
		NewPrintConfigCmd(),
	)

	return rootCmd
}
