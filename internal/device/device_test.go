package device

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionError_Is(t *testing.T) {
	cause := errors.New("dial timeout")
	err := &ConnectionError{State: ConnectFailed, Address: "01:23:45:67:89:AB", Err: cause}

	assert.ErrorIs(t, err, ErrConnectFailed, "connect failure MUST match the ConnectFailed sentinel")
	assert.NotErrorIs(t, err, ErrNotConnected, "connect failure MUST NOT match other states")
	assert.ErrorIs(t, err, cause, "cause MUST stay reachable through Unwrap")
	assert.Equal(t, "connect_failed [01:23:45:67:89:AB]: dial timeout", err.Error())
	assert.True(t, IsConnectionState(err, ConnectFailed))
}

func TestNormalizeError(t *testing.T) {
	tests := []struct {
		name   string
		input  error
		target error
	}{
		{name: "bluetooth off", input: errors.New("central manager has invalid state: have=4 want=5: is Bluetooth turned on?"), target: ErrBluetoothOff},
		{name: "not connected", input: errors.New("device not connected"), target: ErrNotConnected},
		{name: "disconnected", input: errors.New("peripheral disconnected"), target: ErrNotConnected},
		{name: "already connected", input: errors.New("Device already connected"), target: ErrAlreadyConnected},
		{name: "not initialized", input: errors.New("connection is not initialized"), target: ErrNotInitialized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeError(tt.input)
			assert.ErrorIs(t, got, tt.target)
			assert.Contains(t, got.Error(), tt.input.Error(), "original message MUST be preserved")
		})
	}

	plain := errors.New("something else")
	assert.Same(t, plain, NormalizeError(plain), "unknown errors MUST pass through unchanged")
	assert.Nil(t, NormalizeError(nil))
}

func TestNotFoundError(t *testing.T) {
	err := &NotFoundError{Resource: "characteristic", UUIDs: []string{"6b6a78d7", "ff07"}}
	assert.Equal(t, `characteristic "ff07" not found in service "6b6a78d7"`, err.Error())
}

func TestConnectOptions_Normalized(t *testing.T) {
	// GOAL: Verify connect options carry lookup-form UUIDs and malformed ones never reach a backend
	//
	// TEST SCENARIO: Mixed-case and dashed UUIDs → normalized copy; bad service or characteristic → error naming the field
	opts := ConnectOptions{
		ServiceUUID:     "6B6A78D7-8EE0-4A26-BA7B-62E357DD9720",
		Characteristics: []string{"FF01", "0x2902"},
	}
	got, err := opts.Normalized()
	require.NoError(t, err)
	assert.Equal(t, "6b6a78d78ee04a26ba7b62e357dd9720", got.ServiceUUID)
	assert.Equal(t, []string{"ff01", "2902"}, got.Characteristics)
	assert.Equal(t, "FF01", opts.Characteristics[0], "Normalized MUST NOT modify the receiver")

	_, err = ConnectOptions{ServiceUUID: "6b6a-78"}.Normalized()
	assert.ErrorContains(t, err, "service:")

	_, err = ConnectOptions{Characteristics: []string{"ff01", "fz02"}}.Normalized()
	assert.ErrorContains(t, err, "characteristics:")

	empty, err := ConnectOptions{}.Normalized()
	require.NoError(t, err)
	assert.Empty(t, empty.ServiceUUID)
	assert.Nil(t, empty.Characteristics)
}
