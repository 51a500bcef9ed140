package goble

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/stepprobe/internal/device"
	"github.com/srg/stepprobe/internal/groutine"
)

// Link is a live go-ble connection with its characteristics resolved.
// go-ble calls block without a context, so every call runs on its own goroutine
// and the caller stops waiting when ctx is done. ioMutex keeps calls serialized
// even when an abandoned call is still running.
type Link struct {
	client  gattClient
	address string
	chars   map[string]*ble.Characteristic
	logger  *logrus.Logger

	ioMutex sync.Mutex

	stateMutex sync.Mutex
	closed     bool
	subscribed []*ble.Characteristic

	ctx    context.Context
	cancel context.CancelCauseFunc
}

func newLink(ctx context.Context, client gattClient, address string, chars map[string]*ble.Characteristic, logger *logrus.Logger) *Link {
	l := &Link{
		client:  client,
		address: address,
		chars:   chars,
		logger:  logger,
	}
	l.ctx, l.cancel = context.WithCancelCause(context.WithoutCancel(ctx))

	// CoreBluetooth clients expose a Disconnected() channel
	if dc, ok := client.(interface{ Disconnected() <-chan struct{} }); ok {
		groutine.Go(l.ctx, "ble-connection-monitor", func(monitorCtx context.Context) {
			select {
			case <-dc.Disconnected():
				l.logger.WithField("address", address).Warn("CoreBluetooth reported disconnection")
				l.cancel(device.ErrNotConnected)
			case <-monitorCtx.Done():
			}
		})
	} else {
		l.logger.Debug("Client does not support Disconnected() channel")
	}
	return l
}

// Address returns the peripheral address.
func (l *Link) Address() string {
	return l.address
}

// Read reads the current value of char.
func (l *Link) Read(ctx context.Context, char string) ([]byte, error) {
	c, err := l.characteristic(char)
	if err != nil {
		return nil, err
	}

	var data []byte
	err = l.call(ctx, "read "+char, func() error {
		var rerr error
		data, rerr = l.client.ReadCharacteristic(c)
		return rerr
	})
	if err != nil {
		return nil, err
	}
	l.logger.WithFields(logrus.Fields{
		"char":  char,
		"bytes": len(data),
	}).Debug("Characteristic read")
	return data, nil
}

// Write writes data to char without waiting for a response.
func (l *Link) Write(ctx context.Context, char string, data []byte) error {
	c, err := l.characteristic(char)
	if err != nil {
		return err
	}
	payload := append([]byte(nil), data...)
	err = l.call(ctx, "write "+char, func() error {
		return l.client.WriteCharacteristic(c, payload, true)
	})
	if err != nil {
		return err
	}
	l.logger.WithFields(logrus.Fields{
		"char": char,
		"data": fmt.Sprintf("% x", payload),
	}).Debug("Characteristic written")
	return nil
}

// Subscribe enables notifications on char. handler runs on the go-ble goroutine.
func (l *Link) Subscribe(ctx context.Context, char string, handler device.NotificationHandler) error {
	c, err := l.characteristic(char)
	if err != nil {
		return err
	}
	err = l.call(ctx, "subscribe "+char, func() error {
		return l.client.Subscribe(c, false, func(data []byte) {
			handler(data)
		})
	})
	if err != nil {
		return err
	}

	l.stateMutex.Lock()
	l.subscribed = append(l.subscribed, c)
	l.stateMutex.Unlock()

	l.logger.WithField("char", char).Info("Subscribed to notifications")
	return nil
}

// Close unsubscribes and cancels the connection. It is safe to call more than once.
func (l *Link) Close() error {
	l.stateMutex.Lock()
	if l.closed {
		l.stateMutex.Unlock()
		l.logger.Debug("Close called but link already closed")
		return nil
	}
	l.closed = true
	subscribed := l.subscribed
	l.subscribed = nil
	l.stateMutex.Unlock()

	l.logger.WithField("address", l.address).Info("Disconnecting BLE device...")
	l.cancel(nil)

	l.ioMutex.Lock()
	defer l.ioMutex.Unlock()

	for _, c := range subscribed {
		if err := NormalizeError(l.client.Unsubscribe(c, false)); err != nil {
			l.logger.WithFields(logrus.Fields{
				"char":  c.UUID.String(),
				"error": err,
			}).Warn("Failed to unsubscribe during disconnect")
		}
	}

	err := NormalizeError(l.client.CancelConnection())
	if err != nil {
		l.logger.WithError(err).Warn("BLE device disconnected with errors")
		return err
	}
	l.logger.Info("BLE device disconnected successfully")
	return nil
}

func (l *Link) characteristic(char string) (*ble.Characteristic, error) {
	c, ok := l.chars[device.NormalizeUUID(char)]
	if !ok {
		return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{char}}
	}
	return c, nil
}

// call runs fn on its own goroutine and waits for it, ctx or link loss.
func (l *Link) call(ctx context.Context, what string, fn func() error) error {
	l.stateMutex.Lock()
	closed := l.closed
	l.stateMutex.Unlock()
	if closed {
		return fmt.Errorf("%s: %w", what, device.ErrNotConnected)
	}
	if cause := context.Cause(l.ctx); cause != nil {
		return fmt.Errorf("%s: %w", what, cause)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		l.ioMutex.Lock()
		defer l.ioMutex.Unlock()
		done <- fn()
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("%s: %w", what, NormalizeError(err))
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", what, ctx.Err())
	case <-l.ctx.Done():
		cause := context.Cause(l.ctx)
		if errors.Is(cause, context.Canceled) {
			cause = device.ErrNotConnected
		}
		return fmt.Errorf("%s: %w", what, cause)
	}
}
