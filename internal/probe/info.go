package probe

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/srg/stepprobe/internal/device"
)

// InfoPayloadSize is the fixed size of the probe info characteristic.
const InfoPayloadSize = 12

// ProbeInfo holds the scaling constants the probe reports on connect.
type ProbeInfo struct {
	FormatVersion        uint8  `json:"format_version" yaml:"format_version"`
	HardwareConfig       uint8  `json:"hardware_config" yaml:"hardware_config"`
	CurrentTicksPerAmp   uint16 `json:"current_ticks_per_amp" yaml:"current_ticks_per_amp"`
	TimeTicksPerSec      uint32 `json:"time_ticks_per_sec" yaml:"time_ticks_per_sec"`
	CaptureSamplesPerSec uint32 `json:"capture_samples_per_sec" yaml:"capture_samples_per_sec"`
}

// DecodeProbeInfo parses the info characteristic and rejects constants that
// would make every later conversion divide by zero.
func DecodeProbeInfo(payload []byte) (ProbeInfo, error) {
	if len(payload) < InfoPayloadSize {
		return ProbeInfo{}, shortPayload("info", InfoPayloadSize, len(payload))
	}

	info := ProbeInfo{
		FormatVersion:        payload[0],
		HardwareConfig:       payload[1],
		CurrentTicksPerAmp:   binary.LittleEndian.Uint16(payload[2:4]),
		TimeTicksPerSec:      binary.LittleEndian.Uint32(payload[4:8]),
		CaptureSamplesPerSec: binary.LittleEndian.Uint32(payload[8:12]),
	}
	if err := info.Validate(); err != nil {
		return ProbeInfo{}, err
	}
	return info, nil
}

// Validate checks the scaling constants
func (i ProbeInfo) Validate() error {
	switch {
	case i.CurrentTicksPerAmp == 0:
		return fmt.Errorf("%w: current ticks per amp is 0", ErrInvalidProbeInfo)
	case i.TimeTicksPerSec == 0:
		return fmt.Errorf("%w: time ticks per sec is 0", ErrInvalidProbeInfo)
	case i.CaptureSamplesPerSec == 0:
		return fmt.Errorf("%w: capture samples per sec is 0", ErrInvalidProbeInfo)
	}
	return nil
}

// Encode is the inverse of DecodeProbeInfo.
func (i ProbeInfo) Encode() []byte {
	b := make([]byte, InfoPayloadSize)
	b[0] = i.FormatVersion
	b[1] = i.HardwareConfig
	binary.LittleEndian.PutUint16(b[2:4], i.CurrentTicksPerAmp)
	binary.LittleEndian.PutUint32(b[4:8], i.TimeTicksPerSec)
	binary.LittleEndian.PutUint32(b[8:12], i.CaptureSamplesPerSec)
	return b
}

// ReadProbeInfo reads and decodes the info characteristic.
func ReadProbeInfo(ctx context.Context, link device.Link) (ProbeInfo, error) {
	payload, err := link.Read(ctx, InfoCharUUID)
	if err != nil {
		return ProbeInfo{}, fmt.Errorf("failed to read probe info: %w", err)
	}
	return DecodeProbeInfo(payload)
}
