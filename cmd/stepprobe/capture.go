package main

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/stepprobe/internal/config"
	"github.com/srg/stepprobe/internal/probe"
	"github.com/srg/stepprobe/internal/session"
)

// captureMaxSteps bounds the handshake: start, first read, second read, plus slack.
const captureMaxSteps = 6

type captureOptions struct {
	divider int
	format  string
}

func newCaptureCmd() *cobra.Command {
	opts := &captureOptions{}
	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Capture one coil current waveform",
		Long: fmt.Sprintf(`Run one capture handshake and print the two-channel current waveform.

The table format prints a summary; json and yaml include every sample.

Examples:
  stepprobe capture --device STP-0123456789AB
  stepprobe capture --divider 10 --format json

%s`, deviceNote),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCapture(cmd, opts)
		},
	}
	config.RegisterConnectionFlags(cmd.Flags())
	cmd.Flags().IntVar(&opts.divider, "divider", 0, "Set the capture divider first (1, 2, 5, 10, 20)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", formatTable, "Output format (table, json, yaml)")
	return cmd
}

func runCapture(cmd *cobra.Command, opts *captureOptions) error {
	if err := validateFormat(opts.format, formatTable, formatJSON, formatYAML); err != nil {
		return err
	}
	if opts.divider != 0 && !probe.ValidDivider(opts.divider) {
		return fmt.Errorf("%w: %d", probe.ErrInvalidDivider, opts.divider)
	}
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	progress := NewProgressPrinter(cmd.ErrOrStderr(), "Capturing", "Connecting", "Processing results", "Failed")
	progress.Start()
	defer progress.Stop()

	sig, err := session.Inspect(ctx, cfg, logger, progress.Callback(), func(s *session.Session) (*probe.CaptureSignal, error) {
		if opts.divider != 0 {
			if err := s.Probe.Commands.SetCaptureDivider(ctx, opts.divider); err != nil {
				return nil, err
			}
		}
		return runCaptureHandshake(ctx, s.Probe.Capture, 2*cfg.TickInterval)
	})
	if err != nil {
		return err
	}
	progress.Stop()

	if opts.format != formatTable {
		return writeStructured(cmd.OutOrStdout(), opts.format, sig)
	}
	return writeRecord(cmd.OutOrStdout(), formatTable, captureSummary(sig))
}

// runCaptureHandshake advances fetcher every interval until it yields a signal.
func runCaptureHandshake(ctx context.Context, fetcher *probe.CaptureFetcher, interval time.Duration) (*probe.CaptureSignal, error) {
	fetcher.Reset()
	for i := 0; i < captureMaxSteps; i++ {
		sig, err := fetcher.Advance(ctx)
		if err != nil {
			return nil, err
		}
		if sig != nil {
			return sig, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
	return nil, ErrCaptureIncomplete
}

func captureSummary(s *probe.CaptureSignal) *record {
	r := newRecord()
	r.Set("samples", s.Len())
	r.Set("divider", s.Divider)
	r.Set("sample_rate", fmt.Sprintf("%.1f Hz", s.SampleRate))
	if n := s.Len(); n > 0 {
		r.Set("duration", fmt.Sprintf("%.2f ms", s.TimesSec[n-1]*1000))
	}
	r.Set("peak_a", fmt.Sprintf("%.3f A", peakAbs(s.AmpsA)))
	r.Set("peak_b", fmt.Sprintf("%.3f A", peakAbs(s.AmpsB)))
	return r
}

func peakAbs(values []float64) float64 {
	var peak float64
	for _, v := range values {
		peak = math.Max(peak, math.Abs(v))
	}
	return peak
}
