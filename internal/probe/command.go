package probe

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/stepprobe/internal/device"
)

// DefaultCaptureDivider is the divider pushed to the probe on start.
const DefaultCaptureDivider = 5

// CaptureDividers lists the valid capture dividers in cycle order.
var CaptureDividers = []int{1, 2, 5, 10, 20}

// ValidDivider reports whether n is an accepted capture divider.
func ValidDivider(n int) bool {
	for _, d := range CaptureDividers {
		if d == n {
			return true
		}
	}
	return false
}

// NextDivider returns the divider after n in the cycle, wrapping 20 -> 1.
// Unknown values restart the cycle.
func NextDivider(n int) int {
	for i, d := range CaptureDividers {
		if d == n {
			return CaptureDividers[(i+1)%len(CaptureDividers)]
		}
	}
	return CaptureDividers[0]
}

// Opcodes are the first byte of every command written to the command characteristic.
type Opcodes struct {
	ResetData         byte `default:"1" mapstructure:"reset-data" json:"reset_data" yaml:"reset-data"`
	StartCapture      byte `default:"2" mapstructure:"start-capture" json:"start_capture" yaml:"start-capture"`
	SetCaptureDivider byte `default:"3" mapstructure:"set-capture-divider" json:"set_capture_divider" yaml:"set-capture-divider"`
	ToggleDirection   byte `default:"4" mapstructure:"toggle-direction" json:"toggle_direction" yaml:"toggle-direction"`
}

// DefaultOpcodes returns the opcodes understood by the stock firmware.
func DefaultOpcodes() Opcodes {
	return Opcodes{
		ResetData:         0x01,
		StartCapture:      0x02,
		SetCaptureDivider: 0x03,
		ToggleDirection:   0x04,
	}
}

// CommandChannel issues one-way commands. Only one write is in flight at a time.
type CommandChannel struct {
	link    device.Link
	opcodes Opcodes
	logger  *logrus.Logger
	mu      sync.Mutex
}

// NewCommandChannel creates a CommandChannel writing through link.
func NewCommandChannel(link device.Link, opcodes Opcodes, logger *logrus.Logger) *CommandChannel {
	if logger == nil {
		logger = logrus.New()
	}
	return &CommandChannel{link: link, opcodes: opcodes, logger: logger}
}

// ResetData clears the probe's step counter and histograms.
func (c *CommandChannel) ResetData(ctx context.Context) error {
	return c.send(ctx, "reset_data", c.opcodes.ResetData)
}

// ToggleDirection flips the probe's notion of forward.
func (c *CommandChannel) ToggleDirection(ctx context.Context) error {
	return c.send(ctx, "toggle_direction", c.opcodes.ToggleDirection)
}

// StartCapture arms a waveform capture.
func (c *CommandChannel) StartCapture(ctx context.Context) error {
	return c.send(ctx, "start_capture", c.opcodes.StartCapture)
}

// SetCaptureDivider sets the capture sample-rate divider. n is validated before any I/O.
func (c *CommandChannel) SetCaptureDivider(ctx context.Context, n int) error {
	if !ValidDivider(n) {
		return fmt.Errorf("%w: %d (valid: %v)", ErrInvalidDivider, n, CaptureDividers)
	}
	return c.send(ctx, "set_capture_divider", c.opcodes.SetCaptureDivider, byte(n))
}

func (c *CommandChannel) send(ctx context.Context, name string, opcode byte, args ...byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	payload := append([]byte{opcode}, args...)
	c.logger.WithFields(logrus.Fields{
		"command": name,
		"payload": fmt.Sprintf("% X", payload),
	}).Debug("Writing probe command")

	if err := c.link.Write(ctx, CommandCharUUID, payload); err != nil {
		return fmt.Errorf("command %s failed: %w", name, err)
	}
	return nil
}
