package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/srg/stepprobe/internal/config"
	"github.com/srg/stepprobe/internal/session"
)

// deviceNote is appended to the help of every command that connects to a probe
const deviceNote = `Device: --device accepts a MAC (01:23:45:67:89:AB) or a probe name (STP-0123456789AB).
Without --device the probe is discovered; exactly one probe must be in range.`

func newInfoCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show probe info",
		Long: fmt.Sprintf(`Connect to a probe and print the scaling constants it reports.

Examples:
  stepprobe info --device STP-0123456789AB
  stepprobe info --format yaml

%s`, deviceNote),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInfo(cmd, format)
		},
	}
	config.RegisterConnectionFlags(cmd.Flags())
	cmd.Flags().StringVarP(&format, "format", "f", formatTable, "Output format (table, json, yaml)")
	return cmd
}

func runInfo(cmd *cobra.Command, format string) error {
	if err := validateFormat(format, formatTable, formatJSON, formatYAML); err != nil {
		return err
	}
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	progress := NewProgressPrinter(cmd.ErrOrStderr(), "Reading probe info", "Connecting", "Processing results", "Failed")
	progress.Start()
	defer progress.Stop()

	r, err := session.Inspect(ctx, cfg, logger, progress.Callback(), func(s *session.Session) (*record, error) {
		info := s.Probe.Info
		r := newRecord()
		r.Set("address", s.Address)
		if cfg.Nickname != "" {
			r.Set("nickname", cfg.Nickname)
		}
		r.Set("format_version", info.FormatVersion)
		r.Set("hardware_config", info.HardwareConfig)
		r.Set("current_ticks_per_amp", info.CurrentTicksPerAmp)
		r.Set("time_ticks_per_sec", info.TimeTicksPerSec)
		r.Set("capture_samples_per_sec", info.CaptureSamplesPerSec)
		return r, nil
	})
	if err != nil {
		return err
	}
	progress.Stop()
	return writeRecord(cmd.OutOrStdout(), format, r)
}
