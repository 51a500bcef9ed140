// Package tinygo implements the device interfaces on tinygo.org/x/bluetooth,
// the alternative backend selected with --backend tinygo.
package tinygo

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/srg/stepprobe/internal/device"
	"tinygo.org/x/bluetooth"
)

var (
	adapter    = bluetooth.DefaultAdapter
	enableOnce sync.Once
	enableErr  error
)

// enable powers up the default adapter once per process.
func enable() error {
	enableOnce.Do(func() {
		enableErr = NormalizeError(adapter.Enable())
	})
	return enableErr
}

// NormalizeError maps tinygo/BlueZ/CoreBluetooth error strings onto the device sentinels.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "org.bluez.error.notready"),
		strings.Contains(msg, "powered off"):
		return fmt.Errorf("%w: %v", device.ErrBluetoothOff, err)
	case strings.Contains(msg, "org.bluez.error.notconnected"):
		return fmt.Errorf("%w: %v", device.ErrNotConnected, err)
	case strings.Contains(msg, "org.bluez.error.alreadyconnected"):
		return fmt.Errorf("%w: %v", device.ErrAlreadyConnected, err)
	}
	return device.NormalizeError(err)
}

// ParseUUID converts a UUID in any form device.NormalizeUUID accepts into a
// bluetooth.UUID. 16-bit values are expanded onto the SIG base.
func ParseUUID(s string) (bluetooth.UUID, error) {
	ids, err := device.ValidateUUID(s)
	if err != nil {
		return bluetooth.UUID{}, err
	}
	n := ids[0]
	switch len(n) {
	case 4:
		var v uint16
		if _, err := fmt.Sscanf(n, "%04x", &v); err != nil {
			return bluetooth.UUID{}, fmt.Errorf("invalid UUID %q: %w", s, err)
		}
		return bluetooth.New16BitUUID(v), nil
	case 32:
		return bluetooth.ParseUUID(fmt.Sprintf("%s-%s-%s-%s-%s", n[0:8], n[8:12], n[12:16], n[16:20], n[20:32]))
	default:
		return bluetooth.UUID{}, fmt.Errorf("32-bit UUID %q is not supported", s)
	}
}

// sameAddress compares addresses as printed by the adapter and as resolved by
// device.ParseAddress.
func sameAddress(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// wait runs fn on its own goroutine and returns its error, or ctx's once it is done.
func wait(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
