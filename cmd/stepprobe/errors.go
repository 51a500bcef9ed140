package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/srg/stepprobe/internal/device"
	"github.com/srg/stepprobe/internal/discovery"
	"github.com/srg/stepprobe/internal/probe"
	"github.com/srg/stepprobe/internal/worker"
)

// Command-level errors
var (
	// ErrCaptureIncomplete indicates the capture handshake did not produce a signal.
	ErrCaptureIncomplete = errors.New("capture did not complete")
)

// FormatUserError renders err as a one-line message for the terminal.
func FormatUserError(err error) string {
	var (
		addrErr *device.AddressError
		ambErr  *discovery.AmbiguousError
		connErr *device.ConnectionError
		nfErr   *device.NotFoundError
		decErr  *probe.DecodeError
	)

	switch {
	case errors.As(err, &addrErr):
		return addrErr.Error()
	case errors.As(err, &ambErr):
		return ambErr.Error()
	case errors.Is(err, device.ErrNoCandidates):
		return "no STP- probe found; is the probe powered and in range? Use --device to connect directly"
	case errors.As(err, &nfErr):
		return fmt.Sprintf("connected device is not an analyzer probe: %s", nfErr.Error())
	case errors.As(err, &connErr):
		switch connErr.State {
		case device.BluetoothOff:
			return "Bluetooth is turned off"
		case device.ConnectFailed:
			if connErr.Address != "" {
				return fmt.Sprintf("failed to connect to %s: %v", connErr.Address, connErr.Err)
			}
			return fmt.Sprintf("failed to connect: %v", connErr.Err)
		case device.NotConnected:
			return "probe disconnected"
		}
		return connErr.Error()
	case errors.Is(err, probe.ErrInvalidProbeInfo):
		return fmt.Sprintf("probe reported unusable scaling: %v", err)
	case errors.As(err, &decErr):
		return fmt.Sprintf("unexpected probe data: %s", decErr.Error())
	case errors.Is(err, worker.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("probe did not respond in time: %v", err)
	case errors.Is(err, worker.ErrLinkUnavailable):
		return "link unavailable after repeated failures"
	case errors.Is(err, device.ErrUnsupported):
		return fmt.Sprintf("not supported: %v", err)
	default:
		return err.Error()
	}
}
