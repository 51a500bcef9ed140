package probe

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/srg/stepprobe/internal/device"
)

const captureHeaderSize = 4

// CapturePhase is the position of a CaptureFetcher in the capture handshake.
type CapturePhase int

const (
	PhaseIdle CapturePhase = iota
	PhaseCommandSent
	PhaseAwaitRead2
	PhaseComplete
)

func (p CapturePhase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseCommandSent:
		return "command_sent"
	case PhaseAwaitRead2:
		return "await_read2"
	case PhaseComplete:
		return "complete"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// CaptureSignal is one decoded two-channel current waveform.
type CaptureSignal struct {
	AmpsA      []float64 `json:"amps_a" yaml:"amps_a"`
	AmpsB      []float64 `json:"amps_b" yaml:"amps_b"`
	TimesSec   []float64 `json:"times_sec" yaml:"times_sec"`
	SampleRate float64   `json:"sample_rate" yaml:"sample_rate"`
	Divider    int       `json:"divider" yaml:"divider"`
}

// Len returns the number of samples per channel
func (s *CaptureSignal) Len() int {
	return len(s.TimesSec)
}

// captureHeader is the prefix of the first capture read
type captureHeader struct {
	divider int
	pairs   int
}

func (h captureHeader) totalSize() int {
	return captureHeaderSize + h.pairs*4
}

func parseCaptureHeader(payload []byte) (captureHeader, error) {
	if len(payload) < captureHeaderSize {
		return captureHeader{}, shortPayload("capture", captureHeaderSize, len(payload))
	}
	h := captureHeader{
		divider: int(payload[1]),
		pairs:   int(binary.LittleEndian.Uint16(payload[2:4])),
	}
	if h.divider == 0 {
		return captureHeader{}, badPayload("capture", "divider is 0")
	}
	return h, nil
}

// DecodeCapture decodes a complete capture buffer: header followed by
// interleaved little-endian int16 (A, B) pairs in current ticks.
func DecodeCapture(payload []byte, info ProbeInfo) (*CaptureSignal, error) {
	h, err := parseCaptureHeader(payload)
	if err != nil {
		return nil, err
	}
	if want := h.totalSize(); len(payload) != want {
		if len(payload) < want {
			return nil, shortPayload("capture", want, len(payload))
		}
		return nil, badPayload("capture", fmt.Sprintf("%d trailing bytes", len(payload)-want))
	}
	if info.CurrentTicksPerAmp == 0 || info.CaptureSamplesPerSec == 0 {
		return nil, ErrInvalidProbeInfo
	}

	ticksPerAmp := float64(info.CurrentTicksPerAmp)
	rate := float64(info.CaptureSamplesPerSec) / float64(h.divider)
	sig := &CaptureSignal{
		AmpsA:      make([]float64, h.pairs),
		AmpsB:      make([]float64, h.pairs),
		TimesSec:   make([]float64, h.pairs),
		SampleRate: rate,
		Divider:    h.divider,
	}
	data := payload[captureHeaderSize:]
	for i := 0; i < h.pairs; i++ {
		a := int16(binary.LittleEndian.Uint16(data[i*4:]))
		b := int16(binary.LittleEndian.Uint16(data[i*4+2:]))
		sig.AmpsA[i] = float64(a) / ticksPerAmp
		sig.AmpsB[i] = float64(b) / ticksPerAmp
		sig.TimesSec[i] = float64(i) / rate
	}
	return sig, nil
}

// EncodeCapture builds a complete capture buffer from raw tick pairs.
func EncodeCapture(divider int, a, b []int16) []byte {
	buf := make([]byte, captureHeaderSize+len(a)*4)
	buf[0] = 1
	buf[1] = byte(divider)
	binary.LittleEndian.PutUint16(buf[2:4], uint16(len(a)))
	for i := range a {
		binary.LittleEndian.PutUint16(buf[captureHeaderSize+i*4:], uint16(a[i]))
		binary.LittleEndian.PutUint16(buf[captureHeaderSize+i*4+2:], uint16(b[i]))
	}
	return buf
}

// CaptureFetcher drives the capture handshake one step per Advance call:
//
//	Idle -> (write START_CAPTURE) -> CommandSent
//	CommandSent -> (first read) -> AwaitRead2, or Complete when the first read holds everything
//	AwaitRead2 -> (second read) -> Complete
//	Complete -> Idle
//
// The decoded signal is returned by the call that completes the final read and
// never again. Any failure returns the fetcher to Idle with the partial buffer
// discarded. Not safe for concurrent use.
type CaptureFetcher struct {
	link     device.Link
	commands *CommandChannel
	info     ProbeInfo
	logger   *logrus.Logger

	phase  CapturePhase
	header captureHeader
	buf    []byte
}

// NewCaptureFetcher creates a fetcher in PhaseIdle.
func NewCaptureFetcher(link device.Link, commands *CommandChannel, info ProbeInfo, logger *logrus.Logger) *CaptureFetcher {
	if logger == nil {
		logger = logrus.New()
	}
	return &CaptureFetcher{link: link, commands: commands, info: info, logger: logger}
}

// Phase returns the current handshake phase
func (f *CaptureFetcher) Phase() CapturePhase {
	return f.phase
}

// Reset returns to PhaseIdle from any phase. In-progress data is discarded.
func (f *CaptureFetcher) Reset() {
	if f.phase != PhaseIdle {
		f.logger.WithField("phase", f.phase.String()).Debug("Capture fetcher reset")
	}
	f.phase = PhaseIdle
	f.header = captureHeader{}
	f.buf = nil
}

// Advance performs exactly one phase transition. It returns a non-nil signal only
// on the call that completes the capture.
func (f *CaptureFetcher) Advance(ctx context.Context) (*CaptureSignal, error) {
	switch f.phase {
	case PhaseIdle:
		if err := f.commands.StartCapture(ctx); err != nil {
			f.Reset()
			return nil, err
		}
		f.phase = PhaseCommandSent
		return nil, nil

	case PhaseCommandSent:
		payload, err := f.link.Read(ctx, CaptureCharUUID)
		if err != nil {
			f.Reset()
			return nil, fmt.Errorf("capture first read failed: %w", err)
		}
		h, err := parseCaptureHeader(payload)
		if err != nil {
			f.Reset()
			return nil, err
		}
		f.header = h
		f.buf = append(make([]byte, 0, h.totalSize()), payload...)
		if len(f.buf) < h.totalSize() {
			f.phase = PhaseAwaitRead2
			return nil, nil
		}
		return f.complete()

	case PhaseAwaitRead2:
		payload, err := f.link.Read(ctx, CaptureCharUUID)
		if err != nil {
			f.Reset()
			return nil, fmt.Errorf("capture second read failed: %w", err)
		}
		f.buf = append(f.buf, payload...)
		return f.complete()

	default:
		f.Reset()
		return nil, nil
	}
}

func (f *CaptureFetcher) complete() (*CaptureSignal, error) {
	sig, err := DecodeCapture(f.buf, f.info)
	if err != nil {
		f.Reset()
		return nil, err
	}
	f.buf = nil
	f.phase = PhaseComplete

	f.logger.WithFields(logrus.Fields{
		"samples":     sig.Len(),
		"divider":     sig.Divider,
		"sample_rate": sig.SampleRate,
	}).Debug("Capture complete")
	return sig, nil
}
