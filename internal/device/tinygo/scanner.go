package tinygo

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/srg/stepprobe/internal/device"
	"github.com/srg/stepprobe/internal/groutine"
	"tinygo.org/x/bluetooth"
)

type advertisement struct {
	result bluetooth.ScanResult
}

func (a advertisement) LocalName() string { return a.result.LocalName() }
func (a advertisement) Addr() string      { return a.result.Address.String() }
func (a advertisement) RSSI() int         { return int(a.result.RSSI) }

// Connectable is not reported by every tinygo platform; probes always are.
func (a advertisement) Connectable() bool { return true }

// Scanner implements device.Scanner on the default tinygo adapter.
type Scanner struct {
	logger *logrus.Logger
}

// NewScanner enables the adapter and returns a scanner.
func NewScanner(logger *logrus.Logger) (*Scanner, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if err := enable(); err != nil {
		return nil, err
	}
	return &Scanner{logger: logger}, nil
}

// Scan blocks until ctx is done. Without allowDup every address is reported once.
func (s *Scanner) Scan(ctx context.Context, allowDup bool, handler func(device.Advertisement)) error {
	return scan(ctx, func(r bluetooth.ScanResult) bool {
		handler(advertisement{result: r})
		return true
	}, allowDup, s.logger)
}

// scan runs an adapter scan until ctx is done or fn returns false.
func scan(ctx context.Context, fn func(bluetooth.ScanResult) bool, allowDup bool, logger *logrus.Logger) error {
	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stopped := groutine.Go(scanCtx, "tinygo-scan-stop", func(c context.Context) {
		<-c.Done()
		if err := adapter.StopScan(); err != nil {
			logger.WithError(err).Debug("StopScan failed")
		}
	})

	seen := make(map[string]struct{})
	err := adapter.Scan(func(_ *bluetooth.Adapter, r bluetooth.ScanResult) {
		if scanCtx.Err() != nil {
			return
		}
		addr := r.Address.String()
		if !allowDup {
			if _, ok := seen[addr]; ok {
				return
			}
			seen[addr] = struct{}{}
		}
		if !fn(r) {
			cancel()
		}
	})
	cancel()
	<-stopped

	if err != nil {
		return NormalizeError(err)
	}
	return ctx.Err()
}

var _ device.Scanner = (*Scanner)(nil)
