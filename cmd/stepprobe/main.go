package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
	"github.com/srg/stepprobe/internal/config"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// newRootCmd builds the command tree. Tests build a fresh tree per run so flag
// state never leaks between executions.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "stepprobe",
		Short: "Stepper motor analyzer probe client",
		Long: `Command-line client for STP- stepper motor analyzer probes over Bluetooth Low Energy:

- Discover probes advertising as STP-<12 hex digits>
- Dump probe info and one-shot histogram or capture reads
- Monitor live telemetry with speed, distance and coil current
- Send reset, toggle-direction and capture divider commands

Settings are layered: defaults < config file < STEPPROBE_* environment < flags.`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", formatVersion(version), commit, date),
		SilenceErrors: true,
	}

	root.PersistentFlags().String("config", "", "Config file (default: stepprobe.yaml in the user config dir or .)")
	root.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	root.PersistentFlags().Bool("verbose", false, "Verbose output (same as --log-level debug)")
	root.PersistentFlags().String("backend", config.BackendGoBLE, "BLE backend (go-ble, tinygo)")

	root.AddCommand(newScanCmd())
	root.AddCommand(newInfoCmd())
	root.AddCommand(newMonitorCmd())
	root.AddCommand(newHistogramCmd())
	root.AddCommand(newCaptureCmd())
	root.AddCommand(newCommandCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}
