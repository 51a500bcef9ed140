package device

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ProbeNamePrefix is the advertised-name prefix of analyzer probes.
const ProbeNamePrefix = "STP-"

// ErrMalformedAddress is wrapped by every AddressError
var ErrMalformedAddress = errors.New("malformed device address")

var (
	macPattern       = regexp.MustCompile(`^[0-9A-F]{2}(:[0-9A-F]{2}){5}$`)
	probeNamePattern = regexp.MustCompile(`^STP-[0-9A-F]{12}$`)
)

// AddressError reports an address that is neither a MAC nor an STP- probe name
type AddressError struct {
	Input string
}

func (e *AddressError) Error() string {
	return fmt.Sprintf("invalid device address %q: expected XX:XX:XX:XX:XX:XX or %sXXXXXXXXXXXX", e.Input, ProbeNamePrefix)
}

func (e *AddressError) Unwrap() error {
	return ErrMalformedAddress
}

// ParseAddress resolves a user-supplied device identifier to an uppercase MAC address.
//
// Accepted forms, case-insensitive:
//
//	01:23:45:67:89:AB
//	STP-0123456789AB
func ParseAddress(s string) (string, error) {
	in := strings.ToUpper(strings.TrimSpace(s))

	switch {
	case macPattern.MatchString(in):
		return in, nil
	case probeNamePattern.MatchString(in):
		hex := in[len(ProbeNamePrefix):]
		octets := make([]string, 0, 6)
		for i := 0; i < len(hex); i += 2 {
			octets = append(octets, hex[i:i+2])
		}
		return strings.Join(octets, ":"), nil
	default:
		return "", &AddressError{Input: s}
	}
}

// ProbeName returns the STP- name form of a MAC address.
func ProbeName(mac string) (string, error) {
	addr, err := ParseAddress(mac)
	if err != nil {
		return "", err
	}
	return ProbeNamePrefix + strings.ReplaceAll(addr, ":", ""), nil
}

// IsProbeName reports whether an advertised name belongs to an analyzer probe.
func IsProbeName(name string) bool {
	return strings.HasPrefix(name, ProbeNamePrefix)
}
