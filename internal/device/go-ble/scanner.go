package goble

import (
	"context"

	"github.com/go-ble/ble"
	"github.com/srg/stepprobe/internal/device"
)

// scanner wraps ble.Device to implement the device.Scanner interface
type scanner struct {
	dev ble.Device
}

// Scan wraps ble.Device.Scan, converting every ble.Advertisement to a device.Advertisement
func (s *scanner) Scan(ctx context.Context, allowDup bool, handler func(device.Advertisement)) error {
	bleHandler := func(adv ble.Advertisement) {
		handler(NewAdvertisement(adv))
	}
	return NormalizeError(s.dev.Scan(ctx, allowDup, bleHandler))
}

// NewScanner creates a device.Scanner backed by the host adapter.
func NewScanner() (device.Scanner, error) {
	dev, err := DeviceFactory()
	if err != nil {
		return nil, NormalizeError(err)
	}
	return &scanner{dev: dev}, nil
}
