package probe

import (
	"errors"
	"fmt"
)

var (
	// ErrShortPayload marks a payload shorter than its fixed or declared layout.
	ErrShortPayload = errors.New("short payload")
	// ErrBadPayload marks a payload whose header contradicts the expected layout.
	ErrBadPayload = errors.New("malformed payload")
	// ErrInvalidDivider is returned for capture dividers outside CaptureDividers.
	ErrInvalidDivider = errors.New("invalid capture divider")
	// ErrInvalidProbeInfo is returned when the probe reports unusable scaling constants.
	ErrInvalidProbeInfo = errors.New("invalid probe info")
)

// DecodeError describes a payload that could not be decoded. Decode failures are
// recoverable: the caller skips the update and keeps going.
type DecodeError struct {
	Kind string // "telemetry", "histogram/time", "capture", ...
	Want int
	Got  int
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Want > 0 {
		return fmt.Sprintf("%s: %v: want %d bytes, got %d", e.Kind, e.Err, e.Want, e.Got)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func shortPayload(kind string, want, got int) error {
	return &DecodeError{Kind: kind, Want: want, Got: got, Err: ErrShortPayload}
}

func badPayload(kind, msg string) error {
	return &DecodeError{Kind: kind, Err: fmt.Errorf("%w: %s", ErrBadPayload, msg)}
}

// IsDecodeError reports whether err came from payload decoding
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}
