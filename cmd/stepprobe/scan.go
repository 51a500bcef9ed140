package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/stepprobe/internal/devicefactory"
	"github.com/srg/stepprobe/internal/discovery"
)

type scanOptions struct {
	duration time.Duration
	all      bool
	format   string
}

func newScanCmd() *cobra.Command {
	opts := &scanOptions{}
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan for analyzer probes",
		Long: `Scan for Bluetooth Low Energy advertisers and list the analyzer probes found.

Probes advertise as STP-<12 hex digits>; use --all to list every advertiser.

Examples:
  stepprobe scan
  stepprobe scan --duration 10s --format json
  stepprobe scan --all`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScan(cmd, opts)
		},
	}
	cmd.Flags().DurationVarP(&opts.duration, "duration", "d", discovery.DefaultScanDuration, "Scan duration")
	cmd.Flags().BoolVar(&opts.all, "all", false, "List every advertiser, not only STP- probes")
	cmd.Flags().StringVarP(&opts.format, "format", "f", formatTable, "Output format (table, json)")
	return cmd
}

func runScan(cmd *cobra.Command, opts *scanOptions) error {
	if err := validateFormat(opts.format, formatTable, formatJSON); err != nil {
		return err
	}
	if opts.duration <= 0 {
		return fmt.Errorf("scan duration must be positive, got %s", opts.duration)
	}

	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}

	scanner, err := devicefactory.ScannerFactory(cfg.Backend, logger)
	if err != nil {
		return fmt.Errorf("failed to create BLE scanner: %w", err)
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	progress := NewCountdownProgressPrinter(cmd.ErrOrStderr(), "Scanning for probes", "Scanning", opts.duration, "Processing results")
	progress.Start()
	defer progress.Stop()

	candidates, err := discovery.New(scanner, logger).Scan(ctx, &discovery.Options{
		Duration:        opts.duration,
		AllowDuplicates: true,
		All:             opts.all,
	}, progress.Callback())
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	progress.Stop()

	if opts.format == formatJSON {
		return writeStructured(cmd.OutOrStdout(), formatJSON, candidates)
	}
	return writeCandidatesTable(cmd.OutOrStdout(), candidates)
}

func writeCandidatesTable(out io.Writer, candidates []discovery.Candidate) error {
	if len(candidates) == 0 {
		fmt.Fprintln(out, "No probes discovered")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tRSSI\tPROBE")
	for _, c := range candidates {
		name := c.Name
		if len(name) > 20 {
			name = name[:17] + "..."
		}
		probeMark := ""
		if c.IsProbe() {
			probeMark = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%d dBm\t%s\n", name, c.Address, c.RSSI, probeMark)
	}
	return w.Flush()
}

// signalContext returns a context cancelled on Ctrl+C or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
