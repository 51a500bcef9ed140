package probe

import (
	"encoding/binary"
	"time"
)

// TelemetryPayloadSize is the fixed size of a telemetry notification.
const TelemetryPayloadSize = 12

// DefaultDataLossThreshold is the notification gap above which samples are assumed lost.
const DefaultDataLossThreshold = 25 * time.Millisecond

const (
	flagEnergized = 1 << 0
	flagReversed  = 1 << 1
)

// TelemetrySample is one decoded state notification.
type TelemetrySample struct {
	TimestampSecs float64 `json:"timestamp_secs"`
	Steps         int32   `json:"steps"`
	AmpsAbs       float64 `json:"amps_abs"`
	Energized     bool    `json:"energized"`
	Reversed      bool    `json:"reversed"`
}

// DecodeTelemetrySample decodes a notification payload using the probe's scaling constants.
func DecodeTelemetrySample(payload []byte, info ProbeInfo) (TelemetrySample, error) {
	if len(payload) < TelemetryPayloadSize {
		return TelemetrySample{}, shortPayload("telemetry", TelemetryPayloadSize, len(payload))
	}

	flags := payload[1]
	ampsTicks := binary.LittleEndian.Uint16(payload[2:4])
	tsTicks := binary.LittleEndian.Uint32(payload[4:8])
	steps := int32(binary.LittleEndian.Uint32(payload[8:12]))

	return TelemetrySample{
		TimestampSecs: float64(tsTicks) / float64(info.TimeTicksPerSec),
		Steps:         steps,
		AmpsAbs:       float64(ampsTicks) / float64(info.CurrentTicksPerAmp),
		Energized:     flags&flagEnergized != 0,
		Reversed:      flags&flagReversed != 0,
	}, nil
}

// Telemetry is a decoded sample together with what was derived from the previous one.
type Telemetry struct {
	Sample TelemetrySample
	// Speed in steps/sec, valid only when HasSpeed.
	Speed    float64
	HasSpeed bool
	// Duplicate is set when the timestamp did not advance.
	Duplicate bool
	// Gap is the time since the previous sample; zero for the first one.
	Gap      time.Duration
	DataLoss bool
}

// TelemetryDecoder turns the notification stream into samples and speeds.
// It keeps only the most recent sample as the baseline. Not safe for concurrent use.
type TelemetryDecoder struct {
	info      ProbeInfo
	threshold time.Duration
	prev      *TelemetrySample
}

// NewTelemetryDecoder creates a decoder. A non-positive threshold selects DefaultDataLossThreshold.
func NewTelemetryDecoder(info ProbeInfo, dataLossThreshold time.Duration) *TelemetryDecoder {
	if dataLossThreshold <= 0 {
		dataLossThreshold = DefaultDataLossThreshold
	}
	return &TelemetryDecoder{info: info, threshold: dataLossThreshold}
}

// Decode decodes one payload and derives speed against the baseline.
//
// A non-positive timestamp delta marks a duplicate: the sample still becomes the
// new baseline but no speed is produced. A delta above the data-loss threshold
// sets DataLoss; the sample is otherwise used normally.
func (d *TelemetryDecoder) Decode(payload []byte) (Telemetry, error) {
	sample, err := DecodeTelemetrySample(payload, d.info)
	if err != nil {
		return Telemetry{}, err
	}

	t := Telemetry{Sample: sample}
	if d.prev != nil {
		dt := sample.TimestampSecs - d.prev.TimestampSecs
		t.Gap = time.Duration(dt * float64(time.Second))
		if dt <= 0 {
			t.Duplicate = true
		} else {
			t.Speed = float64(sample.Steps-d.prev.Steps) / dt
			t.HasSpeed = true
			t.DataLoss = t.Gap > d.threshold
		}
	}

	d.prev = &sample
	return t, nil
}

// Baseline returns the most recent sample, if any.
func (d *TelemetryDecoder) Baseline() (TelemetrySample, bool) {
	if d.prev == nil {
		return TelemetrySample{}, false
	}
	return *d.prev, true
}

// Reset forgets the baseline.
func (d *TelemetryDecoder) Reset() {
	d.prev = nil
}
