// Package devicefactory picks the BLE backend named by the configuration.
package devicefactory

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/srg/stepprobe/internal/config"
	"github.com/srg/stepprobe/internal/device"
	goble "github.com/srg/stepprobe/internal/device/go-ble"
	"github.com/srg/stepprobe/internal/device/tinygo"
)

// ScannerFactory creates the device.Scanner of backend.
// This is a variable so that it can be overridden in tests.
var ScannerFactory = func(backend string, logger *logrus.Logger) (device.Scanner, error) {
	switch backend {
	case config.BackendGoBLE, "":
		return goble.NewScanner()
	case config.BackendTinyGo:
		return tinygo.NewScanner(logger)
	default:
		return nil, unknownBackend(backend)
	}
}

// ConnectorFactory creates the device.Connector of backend.
// This is a variable so that it can be overridden in tests.
var ConnectorFactory = func(backend string, logger *logrus.Logger) (device.Connector, error) {
	switch backend {
	case config.BackendGoBLE, "":
		return goble.NewConnector(logger), nil
	case config.BackendTinyGo:
		return tinygo.NewConnector(logger)
	default:
		return nil, unknownBackend(backend)
	}
}

func unknownBackend(backend string) error {
	return fmt.Errorf("backend %q: %w", backend, device.ErrUnsupported)
}
