// Package probe implements the client side of the analyzer probe protocol:
// payload decoding, one-way commands, histogram reads and the capture handshake.
package probe

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/srg/stepprobe/internal/device"
)

// Options configures Open
type Options struct {
	Opcodes      Opcodes
	StepsPerUnit float64
}

// Probe bundles the protocol components bound to one connected probe.
type Probe struct {
	Link       device.Link
	Info       ProbeInfo
	Commands   *CommandChannel
	Histograms *HistogramReader
	Capture    *CaptureFetcher

	logger *logrus.Logger
}

// Open reads the probe info over link and builds the protocol components.
// A probe reporting zero current ticks per amp is rejected.
func Open(ctx context.Context, link device.Link, opts Options, logger *logrus.Logger) (*Probe, error) {
	if logger == nil {
		logger = logrus.New()
	}

	info, err := ReadProbeInfo(ctx, link)
	if err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"address":                 link.Address(),
		"format_version":          info.FormatVersion,
		"hardware_config":         info.HardwareConfig,
		"current_ticks_per_amp":   info.CurrentTicksPerAmp,
		"time_ticks_per_sec":      info.TimeTicksPerSec,
		"capture_samples_per_sec": info.CaptureSamplesPerSec,
	}).Info("Probe info")

	commands := NewCommandChannel(link, opts.Opcodes, logger)
	return &Probe{
		Link:     link,
		Info:     info,
		Commands: commands,
		Histograms: NewHistogramReader(link, HistogramParams{
			CurrentTicksPerAmp: float64(info.CurrentTicksPerAmp),
			StepsPerUnit:       opts.StepsPerUnit,
		}, logger),
		Capture: NewCaptureFetcher(link, commands, info, logger),
		logger:  logger,
	}, nil
}

// SubscribeTelemetry enables telemetry notifications.
func (p *Probe) SubscribeTelemetry(ctx context.Context, handler device.NotificationHandler) error {
	if err := p.Link.Subscribe(ctx, TelemetryCharUUID, handler); err != nil {
		return fmt.Errorf("failed to subscribe to telemetry: %w", err)
	}
	p.logger.WithField("char_uuid", TelemetryCharUUID).Info("Subscribed to telemetry notifications")
	return nil
}

// ConnectOptions returns the connect options that resolve the probe profile.
func ConnectOptions(base device.ConnectOptions) *device.ConnectOptions {
	base.ServiceUUID = ServiceUUID
	base.Characteristics = Characteristics()
	return &base
}
