package goble

import (
	"context"
	"fmt"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/stepprobe/internal/device"
)

// DefaultConnectTimeout bounds Dial and profile discovery when the options leave it unset
const DefaultConnectTimeout = 10 * time.Second

// DeviceFactory creates ble.Device instances (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = newDevice

// gattClient is the part of ble.Client the link uses.
type gattClient interface {
	DiscoverProfile(force bool) (*ble.Profile, error)
	ReadCharacteristic(c *ble.Characteristic) ([]byte, error)
	WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error
	Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error
	Unsubscribe(c *ble.Characteristic, ind bool) error
	CancelConnection() error
}

// dialFunc opens a client connection to address (can be overridden in tests)
var dialFunc = func(ctx context.Context, address string) (gattClient, error) {
	dev, err := DeviceFactory()
	if err != nil {
		return nil, err
	}
	ble.SetDefaultDevice(dev)
	return ble.Dial(ctx, ble.NewAddr(address))
}

// Connector establishes links through go-ble.
type Connector struct {
	logger *logrus.Logger
}

// NewConnector creates a go-ble device.Connector.
func NewConnector(logger *logrus.Logger) *Connector {
	if logger == nil {
		logger = logrus.New()
	}
	return &Connector{logger: logger}
}

// Connect dials address, discovers its GATT profile and resolves the service and
// characteristics listed in opts. Any failure leaves no connection behind.
func (c *Connector) Connect(ctx context.Context, address string, opts *device.ConnectOptions) (device.Link, error) {
	if opts == nil {
		opts = &device.ConnectOptions{}
	}
	opts, err := opts.Normalized()
	if err != nil {
		return nil, err
	}
	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	c.logger.WithFields(logrus.Fields{
		"address": address,
		"timeout": timeout,
	}).Info("Connecting to BLE device...")

	connCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := dialFunc(connCtx, address)
	if err != nil {
		return nil, connectError(address, "dial failed", err)
	}

	chars, err := c.resolveProfile(client, opts)
	if err != nil {
		if cerr := client.CancelConnection(); cerr != nil {
			c.logger.WithError(cerr).Debug("Failed to cancel connection after profile error")
		}
		return nil, err
	}

	link := newLink(ctx, client, address, chars, c.logger)
	c.logger.WithFields(logrus.Fields{
		"address":         address,
		"characteristics": len(chars),
	}).Info("Connected to BLE device")
	return link, nil
}

func (c *Connector) resolveProfile(client gattClient, opts *device.ConnectOptions) (map[string]*ble.Characteristic, error) {
	c.logger.Debug("Discovering BLE profile...")
	profile, err := client.DiscoverProfile(true)
	if err != nil {
		return nil, fmt.Errorf("profile discovery failed: %w", NormalizeError(err))
	}

	chars := make(map[string]*ble.Characteristic)
	if opts.ServiceUUID == "" {
		for _, svc := range profile.Services {
			for _, ch := range svc.Characteristics {
				chars[device.NormalizeUUID(ch.UUID.String())] = ch
			}
		}
		return chars, nil
	}

	want := device.NormalizeUUID(opts.ServiceUUID)
	var svc *ble.Service
	for _, s := range profile.Services {
		if device.NormalizeUUID(s.UUID.String()) == want {
			svc = s
			break
		}
	}
	if svc == nil {
		return nil, &device.NotFoundError{Resource: "service", UUIDs: []string{opts.ServiceUUID}}
	}

	for _, ch := range svc.Characteristics {
		chars[device.NormalizeUUID(ch.UUID.String())] = ch
	}
	for _, uuid := range opts.Characteristics {
		if _, ok := chars[device.NormalizeUUID(uuid)]; !ok {
			return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{opts.ServiceUUID, uuid}}
		}
	}
	return chars, nil
}

func connectError(address, msg string, err error) error {
	err = NormalizeError(err)
	if device.IsConnectionState(err, device.BluetoothOff) {
		return err
	}
	return &device.ConnectionError{State: device.ConnectFailed, Address: address, Msg: msg, Err: err}
}

var (
	_ device.Connector = (*Connector)(nil)
	_ device.Link      = (*Link)(nil)
)
