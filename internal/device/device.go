package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// NotFoundError represents an error when a GATT resource is missing from the connected peripheral
type NotFoundError struct {
	Resource string   // "service", "characteristic"
	UUIDs    []string // [serviceUUID] or [serviceUUID, charUUID]
}

func (e *NotFoundError) Error() string {
	if len(e.UUIDs) == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	if len(e.UUIDs) == 1 {
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	}
	return fmt.Sprintf("%s %q not found in service %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], e.UUIDs[0])
}

// ConnectionState represents the specific kind of connection state failure
type ConnectionState string

const (
	NotConnected     ConnectionState = "not_connected"
	AlreadyConnected ConnectionState = "already_connected"
	NotInitialized   ConnectionState = "not_initialized"
	ConnectFailed    ConnectionState = "connect_failed"
	BluetoothOff     ConnectionState = "bluetooth_off"
)

// ConnectionError represents any connection-related problem.
// Callers may retry a connect that failed with ConnectFailed.
type ConnectionError struct {
	State   ConnectionState
	Address string
	Msg     string
	Err     error
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	b.WriteString(string(e.State))
	if e.Address != "" {
		fmt.Fprintf(&b, " [%s]", e.Address)
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

func (e *ConnectionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Predefined sentinel errors for connection states
var (
	ErrNotConnected     = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected = &ConnectionError{State: AlreadyConnected}
	ErrNotInitialized   = &ConnectionError{State: NotInitialized}
	ErrConnectFailed    = &ConnectionError{State: ConnectFailed}
	ErrBluetoothOff     = &ConnectionError{State: BluetoothOff}
)

// Operation errors
var (
	ErrTimeout      = errors.New("timeout")
	ErrUnsupported  = errors.New("unsupported")
	ErrNoCandidates = errors.New("no STP- probe found during discovery")
)

// NormalizeError maps backend error strings onto the structured ConnectionError sentinels.
// The original error is kept in the chain.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return err
	}

	msg := err.Error()
	switch {
	case containsIgnoreCase(msg, "is Bluetooth turned on"),
		containsIgnoreCase(msg, "bluetooth is turned off"),
		containsIgnoreCase(msg, "adapter is powered off"):
		return fmt.Errorf("%w: %v", ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "device not connected"),
		containsIgnoreCase(msg, "disconnected"):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	case containsIgnoreCase(msg, "device already connected"):
		return fmt.Errorf("%w: %v", ErrAlreadyConnected, err)
	case containsIgnoreCase(msg, "connection is not initialized"):
		return fmt.Errorf("%w: %v", ErrNotInitialized, err)
	default:
		return err
	}
}

// containsIgnoreCase checks substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// IsConnectionState reports whether err is a ConnectionError with the given state
func IsConnectionState(err error, state ConnectionState) bool {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.State == state
	}
	return false
}

// Advertisement is the subset of advertising data discovery needs
type Advertisement interface {
	LocalName() string
	Addr() string
	RSSI() int
	Connectable() bool
}

// Scanner runs a BLE scan until ctx is done, invoking handler for every advertisement
type Scanner interface {
	Scan(ctx context.Context, allowDup bool, handler func(Advertisement)) error
}

// NotificationHandler receives one notification payload. The slice is only valid
// for the duration of the call.
type NotificationHandler func(data []byte)

// Link is an established connection to a single peripheral with its
// characteristics already resolved. Characteristics are addressed by UUID in any
// form NormalizeUUID accepts.
type Link interface {
	Address() string
	Read(ctx context.Context, char string) ([]byte, error)
	Write(ctx context.Context, char string, data []byte) error
	Subscribe(ctx context.Context, char string, handler NotificationHandler) error
	Close() error
}

// ConnectOptions configures a Connector
type ConnectOptions struct {
	ConnectTimeout time.Duration
	ServiceUUID    string
	// Characteristics lists the characteristic UUIDs that must be present in ServiceUUID
	Characteristics []string
}

// Normalized validates ServiceUUID and Characteristics and returns a copy holding
// their lookup form. Empty fields are left as they are.
func (o ConnectOptions) Normalized() (*ConnectOptions, error) {
	out := o
	if o.ServiceUUID != "" {
		ids, err := ValidateUUID(o.ServiceUUID)
		if err != nil {
			return nil, fmt.Errorf("service: %w", err)
		}
		out.ServiceUUID = ids[0]
	}
	if len(o.Characteristics) > 0 {
		ids, err := ValidateUUID(o.Characteristics...)
		if err != nil {
			return nil, fmt.Errorf("characteristics: %w", err)
		}
		out.Characteristics = ids
	}
	return &out, nil
}

// Connector establishes Links
type Connector interface {
	Connect(ctx context.Context, address string, opts *ConnectOptions) (Link, error)
}
