// Package session connects to a probe and wires the link worker, the protocol
// components and the poll scheduler together.
package session

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/srg/stepprobe/internal/config"
	"github.com/srg/stepprobe/internal/device"
	"github.com/srg/stepprobe/internal/devicefactory"
	"github.com/srg/stepprobe/internal/discovery"
	"github.com/srg/stepprobe/internal/metrics"
	"github.com/srg/stepprobe/internal/notify"
	"github.com/srg/stepprobe/internal/probe"
	"github.com/srg/stepprobe/internal/scheduler"
	"github.com/srg/stepprobe/internal/worker"
)

// ProgressCallback is called when the session phase changes
type ProgressCallback func(phase string)

// Session is a connected probe. All link I/O goes through Worker.
type Session struct {
	Address string
	Probe   *probe.Probe
	Worker  *worker.Worker

	cfg     *config.Config
	logger  *logrus.Logger
	metrics *metrics.Metrics
}

// Open resolves cfg.Device (discovering when empty), connects, starts the link
// worker and reads the probe info. The worker lives until Close or ctx is done.
func Open(ctx context.Context, cfg *config.Config, logger *logrus.Logger, m *metrics.Metrics, progress ProgressCallback) (*Session, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = logrus.New()
	}
	if progress == nil {
		progress = func(string) {}
	}

	var scanner device.Scanner
	if cfg.Device == "" {
		progress("Scanning")
		s, err := devicefactory.ScannerFactory(cfg.Backend, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create scanner: %w", err)
		}
		scanner = s
	}
	address, err := discovery.Resolve(ctx, cfg.Device, scanner, &discovery.Options{
		Duration:        cfg.ScanTimeout,
		AllowDuplicates: true,
	}, logger)
	if err != nil {
		return nil, err
	}

	progress("Connecting")
	connector, err := devicefactory.ConnectorFactory(cfg.Backend, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create connector: %w", err)
	}
	link, err := connector.Connect(ctx, address, probe.ConnectOptions(device.ConnectOptions{
		ConnectTimeout: cfg.ConnectTimeout,
	}))
	if err != nil {
		progress("Failed")
		return nil, err
	}
	progress("Connected")

	w := worker.New(ctx, link, cfg.Worker(), logger, m)
	p, err := probe.Open(ctx, w, cfg.ProbeOptions(), logger)
	if err != nil {
		if cerr := w.Close(); cerr != nil {
			logger.WithError(cerr).Error("failed to disconnect device")
		}
		return nil, err
	}

	if cfg.Nickname != "" {
		logger.WithFields(logrus.Fields{
			"address":  address,
			"nickname": cfg.Nickname,
		}).Info("Probe nickname")
	}

	return &Session{
		Address: address,
		Probe:   p,
		Worker:  w,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
	}, nil
}

// Name returns the nickname when configured, else the address.
func (s *Session) Name() string {
	if s.cfg.Nickname != "" {
		return s.cfg.Nickname
	}
	return s.Address
}

// NewScheduler subscribes telemetry into a fresh notification queue and returns
// a scheduler reading from it. The caller runs it with Run.
func (s *Session) NewScheduler(ctx context.Context, observer scheduler.Observer) (*scheduler.Scheduler, error) {
	queue, err := notify.NewQueue(s.cfg.NotificationBuffer, s.metrics.AddDropped)
	if err != nil {
		return nil, err
	}
	if err := s.Probe.SubscribeTelemetry(ctx, queue.Handler()); err != nil {
		return nil, err
	}
	return scheduler.New(s.Probe, queue, s.cfg.Scheduler(), observer, s.logger, s.metrics)
}

// Close stops the worker and disconnects.
func (s *Session) Close() error {
	return s.Worker.Close()
}

// Callback processes an open session and produces output of type R
type Callback[R any] func(*Session) (R, error)

// Inspect opens a session, runs callback and closes the session afterwards.
func Inspect[R any](ctx context.Context, cfg *config.Config, logger *logrus.Logger, progress ProgressCallback, callback Callback[R]) (R, error) {
	var zero R
	if logger == nil {
		logger = logrus.New()
	}
	if progress == nil {
		progress = func(string) {}
	}

	s, err := Open(ctx, cfg, logger, nil, progress)
	if err != nil {
		return zero, err
	}
	defer func() {
		if err := s.Close(); err != nil {
			logger.WithError(err).Error("failed to disconnect device")
		}
	}()

	progress("Processing results")
	return callback(s)
}
