package testutils

import (
	"encoding/binary"

	"github.com/srg/stepprobe/internal/probe"
)

// TestProbeAddress is the address FakeLink instances use in tests.
const TestProbeAddress = "01:23:45:67:89:AB"

// TestProbeInfo returns round scaling constants: 1000 current ticks per amp,
// 1000 time ticks per second and a 10 kHz capture base rate.
func TestProbeInfo() probe.ProbeInfo {
	return probe.ProbeInfo{
		FormatVersion:        1,
		HardwareConfig:       0,
		CurrentTicksPerAmp:   1000,
		TimeTicksPerSec:      1000,
		CaptureSamplesPerSec: 10000,
	}
}

// TelemetryPayload encodes one telemetry notification.
func TelemetryPayload(timestampTicks uint32, steps int32, ampsTicks uint16, energized, reversed bool) []byte {
	b := make([]byte, probe.TelemetryPayloadSize)
	b[0] = 1
	if energized {
		b[1] |= 1
	}
	if reversed {
		b[1] |= 2
	}
	binary.LittleEndian.PutUint16(b[2:4], ampsTicks)
	binary.LittleEndian.PutUint32(b[4:8], timestampTicks)
	binary.LittleEndian.PutUint32(b[8:12], uint32(steps))
	return b
}

// UniformHistogramPayload encodes a histogram whose buckets all hold value.
func UniformHistogramPayload(bucketWidth uint16, value uint32) []byte {
	values := make([]uint32, probe.HistogramBuckets)
	for i := range values {
		values[i] = value
	}
	return probe.EncodeHistogram(bucketWidth, values)
}

// RampCapture returns a capture of n pairs where A[i] = i and B[i] = -i ticks.
func RampCapture(divider, n int) []byte {
	a := make([]int16, n)
	b := make([]int16, n)
	for i := 0; i < n; i++ {
		a[i] = int16(i)
		b[i] = int16(-i)
	}
	return probe.EncodeCapture(divider, a, b)
}

// NewProbeLink returns a FakeLink primed with probe info and stable histogram values.
func NewProbeLink() *FakeLink {
	link := NewFakeLink(TestProbeAddress)
	link.SetValue(probe.InfoCharUUID, TestProbeInfo().Encode())
	link.SetValue(probe.CurrentHistogramCharUUID, UniformHistogramPayload(100, 500))
	link.SetValue(probe.TimeHistogramCharUUID, UniformHistogramPayload(100, 1))
	link.SetValue(probe.DistanceHistogramCharUUID, UniformHistogramPayload(100, 2))
	return link
}
