// Package scheduler drives all probe I/O from one fixed-period tick.
//
// Every tick drains the notification queue into the reading pipeline, flushes
// at most one pending user command and then runs the action assigned to the
// tick's slot in a fixed cycle:
//
//	slot  5        time histogram
//	slot 10        distance histogram
//	slot 14        current histogram
//	slot 16..24    capture advance (even slots)
//
// While paused, commands and slot actions are skipped and readings are not
// emitted, but the slot counter advances and the queue is still drained.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/stepprobe/internal/metrics"
	"github.com/srg/stepprobe/internal/notify"
	"github.com/srg/stepprobe/internal/probe"
)

// MinCycleTicks is the shortest cycle that fits the slot table.
const MinCycleTicks = 25

// Action is the scheduled work for one slot.
type Action int

const (
	ActionNone Action = iota
	ActionTimeHistogram
	ActionDistanceHistogram
	ActionCurrentHistogram
	ActionCaptureAdvance
)

func (a Action) String() string {
	switch a {
	case ActionTimeHistogram:
		return "time_histogram"
	case ActionDistanceHistogram:
		return "distance_histogram"
	case ActionCurrentHistogram:
		return "current_histogram"
	case ActionCaptureAdvance:
		return "capture_advance"
	default:
		return "none"
	}
}

// SlotAction returns the action scheduled for slot.
func SlotAction(slot int) Action {
	switch slot {
	case 5:
		return ActionTimeHistogram
	case 10:
		return ActionDistanceHistogram
	case 14:
		return ActionCurrentHistogram
	case 16, 18, 20, 22, 24:
		return ActionCaptureAdvance
	default:
		return ActionNone
	}
}

// Config holds the scheduler policy.
type Config struct {
	TickInterval      time.Duration `default:"20ms"`
	CycleTicks        int           `default:"25"`
	DataLossThreshold time.Duration `default:"25ms"`
	DropAfterReset    int           `default:"3"`
	FilterAlpha       float64       `default:"0.5"`
	StepsPerUnit      float64       `default:"1"`
	CaptureDivider    int           `default:"5"`
	SampleLogEvery    int           `default:"100"`
}

// DefaultConfig returns the stock scheduler policy.
func DefaultConfig() Config {
	cfg := Config{}
	defaults.SetDefaults(&cfg)
	return cfg
}

// Validate checks cfg for values the scheduler cannot run with.
func (c Config) Validate() error {
	switch {
	case c.TickInterval <= 0:
		return fmt.Errorf("tick interval must be positive, got %s", c.TickInterval)
	case c.CycleTicks < MinCycleTicks:
		return fmt.Errorf("cycle ticks must be at least %d, got %d", MinCycleTicks, c.CycleTicks)
	case c.DropAfterReset < 0:
		return fmt.Errorf("drop after reset must not be negative, got %d", c.DropAfterReset)
	case c.FilterAlpha <= 0 || c.FilterAlpha > 1:
		return fmt.Errorf("filter alpha %v out of range (0, 1]", c.FilterAlpha)
	case c.StepsPerUnit <= 0:
		return fmt.Errorf("steps per unit must be positive, got %v", c.StepsPerUnit)
	case !probe.ValidDivider(c.CaptureDivider):
		return fmt.Errorf("%w: %d (valid: %v)", probe.ErrInvalidDivider, c.CaptureDivider, probe.CaptureDividers)
	}
	return nil
}

// Observer receives the scheduler's output on the tick goroutine.
type Observer interface {
	OnReading(Reading)
	OnHistogram(*probe.Histogram)
	OnCapture(*probe.CaptureSignal)
	// OnReset is called after a data reset was sent; displayed data is stale.
	OnReset()
}

// NopObserver discards everything. Embed it to implement part of Observer.
type NopObserver struct{}

func (NopObserver) OnReading(Reading)              {}
func (NopObserver) OnHistogram(*probe.Histogram)   {}
func (NopObserver) OnCapture(*probe.CaptureSignal) {}
func (NopObserver) OnReset()                       {}

// Scheduler owns the tick loop. Tick and Run must be called from one goroutine;
// Intents may be used from any goroutine.
type Scheduler struct {
	cfg      Config
	probe    *probe.Probe
	queue    *notify.Queue
	pipeline *Pipeline
	intents  *Intents
	observer Observer
	logger   *logrus.Logger
	metrics  *metrics.Metrics

	tick        int
	lastDivider int
}

// New creates a scheduler for p. Notifications are read from queue, which the
// caller subscribes to the telemetry characteristic.
func New(p *probe.Probe, queue *notify.Queue, cfg Config, observer Observer, logger *logrus.Logger, m *metrics.Metrics) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.New()
	}
	if observer == nil {
		observer = NopObserver{}
	}

	pipeline, err := NewPipeline(p.Info, cfg, logger, m)
	if err != nil {
		return nil, err
	}

	return &Scheduler{
		cfg:      cfg,
		probe:    p,
		queue:    queue,
		pipeline: pipeline,
		intents:  NewIntents(cfg.CaptureDivider),
		observer: observer,
		logger:   logger,
		metrics:  m,
	}, nil
}

// Intents returns the handle for posting user requests.
func (s *Scheduler) Intents() *Intents {
	return s.intents
}

// Slot returns the slot the next tick will run.
func (s *Scheduler) Slot() int {
	return s.tick
}

// Run ticks every TickInterval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	s.logger.WithFields(logrus.Fields{
		"tick_interval": s.cfg.TickInterval,
		"cycle_ticks":   s.cfg.CycleTicks,
	}).Info("Scheduler started")

	for {
		select {
		case <-ctx.Done():
			s.logger.WithField("samples", s.pipeline.Count()).Info("Scheduler stopped")
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one scheduler step.
func (s *Scheduler) Tick(ctx context.Context) {
	start := time.Now()
	defer func() { s.metrics.ObserveTick(time.Since(start)) }()

	slot := s.tick
	s.tick = (s.tick + 1) % s.cfg.CycleTicks
	paused := s.intents.Paused()

	s.drain(paused)
	if paused {
		return
	}
	s.flushCommand(ctx)
	s.runSlot(ctx, slot)
}

func (s *Scheduler) drain(paused bool) {
	s.queue.Drain(func(n notify.Notification) {
		r, show, err := s.pipeline.Process(n.Data)
		if err != nil {
			if !errors.Is(err, errDuplicate) {
				s.logger.WithError(err).Warn("Dropping undecodable telemetry notification")
			}
			return
		}
		if show && !paused {
			s.observer.OnReading(r)
		}
	})
}

func (s *Scheduler) flushCommand(ctx context.Context) {
	intent := s.intents.next(s.lastDivider)

	switch intent.Command {
	case CommandNone:
		return
	case CommandReset:
		if err := s.probe.Commands.ResetData(ctx); err != nil {
			s.linkError(err, "Reset command failed")
		}
		s.pipeline.DropNext(s.cfg.DropAfterReset)
		s.probe.Capture.Reset()
		s.observer.OnReset()
		s.logger.WithField("drop_samples", s.cfg.DropAfterReset).Info("Data reset")
	case CommandToggleDirection:
		if err := s.probe.Commands.ToggleDirection(ctx); err != nil {
			s.linkError(err, "Toggle direction command failed")
			return
		}
		s.logger.Info("Direction toggled")
	case CommandSetDivider:
		if err := s.probe.Commands.SetCaptureDivider(ctx, intent.Divider); err != nil {
			s.linkError(err, "Set capture divider command failed")
			return
		}
		s.lastDivider = intent.Divider
		s.logger.WithField("divider", intent.Divider).Info("Capture divider set")
	}
}

func (s *Scheduler) runSlot(ctx context.Context, slot int) {
	switch action := SlotAction(slot); action {
	case ActionTimeHistogram:
		s.readHistogram(ctx, probe.HistogramTime)
	case ActionDistanceHistogram:
		s.readHistogram(ctx, probe.HistogramDistance)
	case ActionCurrentHistogram:
		s.readHistogram(ctx, probe.HistogramCurrent)
	case ActionCaptureAdvance:
		s.advanceCapture(ctx)
	}
}

func (s *Scheduler) readHistogram(ctx context.Context, kind probe.HistogramKind) {
	h, err := s.probe.Histograms.Read(ctx, kind)
	if err != nil {
		if probe.IsDecodeError(err) {
			s.metrics.IncDecodeFailure(kind.String() + "_histogram")
			s.logger.WithError(err).WithField("kind", kind.String()).Warn("Skipping histogram update")
			return
		}
		s.linkError(err, "Histogram read failed")
		return
	}
	s.metrics.IncHistogramRead(kind.String())
	s.observer.OnHistogram(h)
}

func (s *Scheduler) advanceCapture(ctx context.Context) {
	before := s.probe.Capture.Phase()
	sig, err := s.probe.Capture.Advance(ctx)
	if err != nil {
		if probe.IsDecodeError(err) {
			s.metrics.IncDecodeFailure("capture")
			s.logger.WithError(err).Warn("Discarding capture")
			return
		}
		s.logger.WithError(err).WithField("phase", before.String()).Warn("Capture step failed")
		return
	}
	if sig != nil {
		s.metrics.IncCaptures()
		s.observer.OnCapture(sig)
	}
}

// Link failures are counted by the worker that owns the link.
func (s *Scheduler) linkError(err error, msg string) {
	s.logger.WithError(err).Warn(msg)
}
