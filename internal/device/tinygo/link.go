package tinygo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/stepprobe/internal/device"
	"tinygo.org/x/bluetooth"
)

// DefaultConnectTimeout bounds scan-to-connect and discovery when the options leave it unset
const DefaultConnectTimeout = 10 * time.Second

// readBufferSize fits the largest probe payload in one ATT read.
const readBufferSize = 512

// Connector implements device.Connector. tinygo connects to scan results, so
// the address is located by scanning first.
type Connector struct {
	logger *logrus.Logger
}

// NewConnector enables the adapter and returns a connector.
func NewConnector(logger *logrus.Logger) (*Connector, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if err := enable(); err != nil {
		return nil, err
	}
	return &Connector{logger: logger}, nil
}

// Connect locates address, connects and resolves the requested service and characteristics.
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
	connCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c.logger.WithFields(logrus.Fields{
		"address": address,
		"timeout": timeout,
	}).Info("Connecting to BLE device...")

	var target *bluetooth.Address
	err = scan(connCtx, func(r bluetooth.ScanResult) bool {
		if !sameAddress(r.Address.String(), address) {
			return true
		}
		a := r.Address
		target = &a
		return false
	}, false, c.logger)
	if target == nil {
		if err == nil || errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("device not seen within %s", timeout)
		}
		return nil, connectError(address, "scan failed", err)
	}

	var dev bluetooth.Device
	err = wait(connCtx, func() error {
		var cerr error
		dev, cerr = adapter.Connect(*target, bluetooth.ConnectionParams{})
		return cerr
	})
	if err != nil {
		return nil, connectError(address, "connect failed", err)
	}

	link := &Link{
		device:  dev,
		address: address,
		chars:   make(map[string]*bluetooth.DeviceCharacteristic),
		logger:  c.logger,
	}
	if err := wait(connCtx, func() error { return link.discover(opts) }); err != nil {
		_ = link.Close()
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"address":         address,
		"characteristics": len(link.chars),
	}).Info("Connected to BLE device")
	return link, nil
}

func connectError(address, msg string, err error) error {
	err = NormalizeError(err)
	if device.IsConnectionState(err, device.BluetoothOff) {
		return err
	}
	return &device.ConnectionError{State: device.ConnectFailed, Address: address, Msg: msg, Err: err}
}

// Link is a tinygo connection with its characteristics resolved.
type Link struct {
	device  bluetooth.Device
	address string
	chars   map[string]*bluetooth.DeviceCharacteristic
	logger  *logrus.Logger

	// ioMutex keeps a call abandoned on ctx from overlapping the next one
	ioMutex sync.Mutex

	mu     sync.Mutex
	closed bool
}

func (l *Link) discover(opts *device.ConnectOptions) error {
	var filter []bluetooth.UUID
	if opts.ServiceUUID != "" {
		u, err := ParseUUID(opts.ServiceUUID)
		if err != nil {
			return err
		}
		filter = []bluetooth.UUID{u}
	}

	services, err := l.device.DiscoverServices(filter)
	if err != nil {
		return fmt.Errorf("service discovery failed: %w", NormalizeError(err))
	}
	if opts.ServiceUUID != "" && len(services) == 0 {
		return &device.NotFoundError{Resource: "service", UUIDs: []string{opts.ServiceUUID}}
	}

	for i := range services {
		chars, err := services[i].DiscoverCharacteristics(nil)
		if err != nil {
			return fmt.Errorf("characteristic discovery failed: %w", NormalizeError(err))
		}
		for j := range chars {
			ch := chars[j]
			l.chars[device.NormalizeUUID(ch.UUID().String())] = &ch
		}
	}

	for _, uuid := range opts.Characteristics {
		if _, ok := l.chars[device.NormalizeUUID(uuid)]; !ok {
			return &device.NotFoundError{Resource: "characteristic", UUIDs: []string{opts.ServiceUUID, uuid}}
		}
	}
	return nil
}

// Address returns the peripheral address.
func (l *Link) Address() string {
	return l.address
}

// Read reads the current value of char.
func (l *Link) Read(ctx context.Context, char string) ([]byte, error) {
	ch, err := l.characteristic(char)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, readBufferSize)
	var n int
	err = l.call(ctx, func() error {
		var rerr error
		n, rerr = ch.Read(buf)
		return rerr
	})
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", char, err)
	}
	return buf[:n], nil
}

// Write writes data to char without response.
func (l *Link) Write(ctx context.Context, char string, data []byte) error {
	ch, err := l.characteristic(char)
	if err != nil {
		return err
	}
	payload := append([]byte(nil), data...)
	err = l.call(ctx, func() error {
		_, werr := ch.WriteWithoutResponse(payload)
		return werr
	})
	if err != nil {
		return fmt.Errorf("write %s: %w", char, err)
	}
	return nil
}

// Subscribe enables notifications on char.
func (l *Link) Subscribe(ctx context.Context, char string, handler device.NotificationHandler) error {
	ch, err := l.characteristic(char)
	if err != nil {
		return err
	}
	err = l.call(ctx, func() error {
		return ch.EnableNotifications(func(buf []byte) { handler(buf) })
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", char, err)
	}
	l.logger.WithField("char", char).Info("Subscribed to notifications")
	return nil
}

// Close disconnects. It is safe to call more than once.
func (l *Link) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	if err := l.device.Disconnect(); err != nil {
		err = NormalizeError(err)
		l.logger.WithError(err).Warn("BLE device disconnected with errors")
		return err
	}
	l.logger.Info("BLE device disconnected successfully")
	return nil
}

func (l *Link) characteristic(char string) (*bluetooth.DeviceCharacteristic, error) {
	ch, ok := l.chars[device.NormalizeUUID(char)]
	if !ok {
		return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{char}}
	}
	return ch, nil
}

func (l *Link) call(ctx context.Context, fn func() error) error {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return device.ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	err := wait(ctx, func() error {
		l.ioMutex.Lock()
		defer l.ioMutex.Unlock()
		return fn()
	})
	if err != nil {
		return NormalizeError(err)
	}
	return nil
}

var (
	_ device.Connector = (*Connector)(nil)
	_ device.Link      = (*Link)(nil)
)
