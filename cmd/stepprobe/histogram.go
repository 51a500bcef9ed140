package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/srg/stepprobe/internal/config"
	"github.com/srg/stepprobe/internal/probe"
	"github.com/srg/stepprobe/internal/session"
)

func newHistogramCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:       "histogram <current|time|distance>",
		Short:     "Read one speed histogram",
		ValidArgs: []string{"current", "time", "distance"},
		Long: fmt.Sprintf(`Read and decode one of the probe's speed histograms.

  current   average coil current per speed bucket, in amps
  time      share of time spent per speed bucket, in percent
  distance  share of distance travelled per speed bucket, in percent

Bucket centers are in units/sec (see --steps-per-unit).

Examples:
  stepprobe histogram current --device STP-0123456789AB
  stepprobe histogram time --format json

%s`, deviceNote),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistogram(cmd, args[0], format)
		},
	}
	config.RegisterConnectionFlags(cmd.Flags())
	cmd.Flags().Float64("steps-per-unit", config.Default().StepsPerUnit, "Steps per distance unit")
	cmd.Flags().String("units", config.Default().Units, "Distance unit label")
	cmd.Flags().StringVarP(&format, "format", "f", formatTable, "Output format (table, json, yaml)")
	return cmd
}

func runHistogram(cmd *cobra.Command, kindArg, format string) error {
	kind, err := probe.ParseHistogramKind(kindArg)
	if err != nil {
		return err
	}
	if err := validateFormat(format, formatTable, formatJSON, formatYAML); err != nil {
		return err
	}
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	progress := NewProgressPrinter(cmd.ErrOrStderr(), fmt.Sprintf("Reading %s histogram", kind), "Connecting", "Processing results", "Failed")
	progress.Start()
	defer progress.Stop()

	h, err := session.Inspect(ctx, cfg, logger, progress.Callback(), func(s *session.Session) (*probe.Histogram, error) {
		return s.Probe.Histograms.Read(ctx, kind)
	})
	if err != nil {
		return err
	}
	progress.Stop()

	if format != formatTable {
		r := newRecord()
		r.Set("kind", h.Kind.String())
		r.Set("units", cfg.Units)
		r.Set("bucket_width", h.BucketWidth)
		r.Set("buckets", h.Buckets)
		return writeStructured(cmd.OutOrStdout(), format, r)
	}
	return writeHistogramTable(cmd.OutOrStdout(), h, cfg.Units)
}

func writeHistogramTable(out io.Writer, h *probe.Histogram, units string) error {
	heading := "PERCENT"
	if h.Kind == probe.HistogramCurrent {
		heading = "AMPS"
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(w, "SPEED (%s/s)\t%s\t\n", units, heading)
	for _, b := range h.Buckets {
		fmt.Fprintf(w, "%.1f\t%.2f\t\n", b.Center, b.Height)
	}
	return w.Flush()
}
