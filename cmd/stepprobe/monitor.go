package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/stepprobe/internal/config"
	"github.com/srg/stepprobe/internal/groutine"
	"github.com/srg/stepprobe/internal/metrics"
	"github.com/srg/stepprobe/internal/probe"
	"github.com/srg/stepprobe/internal/scheduler"
	"github.com/srg/stepprobe/internal/session"
	"golang.org/x/time/rate"
)

const (
	currentBarWidth     = 20
	readingPrintEvery   = 250 * time.Millisecond
	metricsShutdownWait = 2 * time.Second
)

type monitorOptions struct {
	duration time.Duration
	quiet    bool
}

func newMonitorCmd() *cobra.Command {
	opts := &monitorOptions{}
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Monitor live probe telemetry",
		Long: fmt.Sprintf(`Connect to a probe and run the poll scheduler: telemetry notifications
are decoded every tick, histograms and captures are read in their slots.

Keys (type the letter and press Enter):
  r  reset probe data
  d  toggle direction
  s  cycle the capture divider (1, 2, 5, 10, 20)
  p  pause or continue

Examples:
  stepprobe monitor --device STP-0123456789AB --nickname x-axis
  stepprobe monitor --steps-per-unit 80 --units mm --max-amps 1.5
  stepprobe monitor --metrics-addr :9100 --duration 1m

%s`, deviceNote),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMonitor(cmd, opts)
		},
	}
	config.RegisterConnectionFlags(cmd.Flags())
	config.RegisterMonitorFlags(cmd.Flags())
	cmd.Flags().DurationVar(&opts.duration, "duration", 0, "Stop after this long (0 runs until Ctrl+C)")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "Do not print readings, only histograms and captures")
	return cmd
}

func runMonitor(cmd *cobra.Command, opts *monitorOptions) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()
	if opts.duration > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeout(ctx, opts.duration)
		defer stop()
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	if cfg.MetricsAddr != "" {
		stopMetrics := serveMetrics(cfg.MetricsAddr, reg, logger)
		defer stopMetrics()
	}

	progress := NewProgressPrinter(cmd.ErrOrStderr(), "Opening probe", "Connecting", "Connected", "Failed")
	progress.Start()
	s, err := session.Open(ctx, cfg, logger, m, progress.Callback())
	progress.Stop()
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			logger.WithError(err).Error("failed to disconnect device")
		}
	}()

	console := newConsole(cmd.OutOrStdout(), s.Name(), cfg)
	console.quiet = opts.quiet
	sched, err := s.NewScheduler(ctx, console)
	if err != nil {
		return err
	}
	console.printf("Monitoring %s (capture divider %d); keys: r reset, d direction, s divider, p pause\n",
		s.Name(), sched.Intents().Divider())

	groutine.Go(ctx, "stdin-intents", func(ctx context.Context) {
		readIntents(ctx, cmd.InOrStdin(), sched.Intents(), console)
	})

	err = sched.Run(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		err = nil
	}
	return err
}

// serveMetrics serves reg on addr/metrics and returns a function that shuts the server down.
func serveMetrics(addr string, reg *prometheus.Registry, logger *logrus.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	groutine.Go(context.Background(), "metrics-server", func(context.Context) {
		logger.WithField("addr", addr).Info("Serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Metrics server failed")
		}
	})

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownWait)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.WithError(err).Warn("Metrics server shutdown failed")
		}
	}
}

// readIntents maps stdin lines onto scheduler intents until EOF or ctx is done.
func readIntents(ctx context.Context, in io.Reader, intents *scheduler.Intents, console *console) {
	lines := bufio.NewScanner(in)
	for lines.Scan() {
		if ctx.Err() != nil {
			return
		}
		switch strings.ToLower(strings.TrimSpace(lines.Text())) {
		case "r":
			intents.RequestReset()
			console.printf("Reset requested\n")
		case "d":
			intents.RequestToggleDirection()
			console.printf("Direction toggle requested\n")
		case "s":
			console.printf("Capture divider %d\n", intents.CycleDivider())
		case "p":
			if intents.TogglePause() {
				console.printf("Paused\n")
			} else {
				console.printf("Continuing\n")
			}
		case "":
		default:
			console.printf("Unknown key %q (r, d, s, p)\n", lines.Text())
		}
	}
}

// console prints scheduler output. It implements scheduler.Observer.
type console struct {
	mu       sync.Mutex
	out      io.Writer
	name     string
	units    string
	maxAmps  float64
	quiet    bool
	readings rate.Sometimes
}

func newConsole(out io.Writer, name string, cfg *config.Config) *console {
	return &console{
		out:      out,
		name:     name,
		units:    cfg.Units,
		maxAmps:  cfg.MaxAmps,
		readings: rate.Sometimes{Interval: readingPrintEvery},
	}
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

func (c *console) OnReading(r scheduler.Reading) {
	if c.quiet {
		return
	}
	c.readings.Do(func() {
		c.printf("%s\n", c.formatReading(r))
	})
}

func (c *console) OnHistogram(h *probe.Histogram) {
	if len(h.Buckets) == 0 {
		return
	}
	peak := h.Buckets[0]
	for _, b := range h.Buckets[1:] {
		if b.Height > peak.Height {
			peak = b
		}
	}
	unit := "%"
	if h.Kind == probe.HistogramCurrent {
		unit = "A"
	}
	c.printf("%s histogram: peak %.2f%s at %.1f %s/s\n", h.Kind, peak.Height, unit, peak.Center, c.units)
}

func (c *console) OnCapture(s *probe.CaptureSignal) {
	c.printf("capture: %d samples at %.1f Hz (divider %d), peak A %.3f A, peak B %.3f A\n",
		s.Len(), s.SampleRate, s.Divider, peakAbs(s.AmpsA), peakAbs(s.AmpsB))
}

func (c *console) OnReset() {
	c.printf("-- data reset --\n")
}

func (c *console) formatReading(r scheduler.Reading) string {
	speed := "     -"
	if r.HasSpeed {
		speed = fmt.Sprintf("%8.1f", r.Speed)
	}

	var flags []string
	if r.Energized {
		flags = append(flags, "ON")
	}
	if r.Reversed {
		flags = append(flags, "REV")
	}
	if r.DataLoss {
		flags = append(flags, "LOSS")
	}

	return fmt.Sprintf("%s  t=%9.3fs  dist=%10.2f %s  speed=%s %s/s  I=%5.2fA [%s] %s",
		c.name, r.TimestampSecs, r.Distance, c.units, speed, c.units,
		r.AmpsFiltered, currentBar(r.AmpsFiltered, c.maxAmps, currentBarWidth), strings.Join(flags, " "))
}

// currentBar renders amps as a bar of width cells where maxAmps fills the bar.
func currentBar(amps, maxAmps float64, width int) string {
	filled := 0
	if maxAmps > 0 {
		filled = int(amps/maxAmps*float64(width) + 0.5)
	}
	filled = max(0, min(width, filled))
	return strings.Repeat("#", filled) + strings.Repeat(".", width-filled)
}
