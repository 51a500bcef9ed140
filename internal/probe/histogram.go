package probe

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/srg/stepprobe/internal/device"
)

// HistogramBuckets is the fixed number of speed buckets the probe reports.
const HistogramBuckets = 20

const histogramHeaderSize = 4

// HistogramPayloadSize is the expected size of a histogram read.
const HistogramPayloadSize = histogramHeaderSize + HistogramBuckets*4

// HistogramKind selects one of the three on-device histograms.
type HistogramKind int

const (
	HistogramCurrent HistogramKind = iota
	HistogramTime
	HistogramDistance
)

func (k HistogramKind) String() string {
	switch k {
	case HistogramCurrent:
		return "current"
	case HistogramTime:
		return "time"
	case HistogramDistance:
		return "distance"
	default:
		return fmt.Sprintf("histogram(%d)", int(k))
	}
}

// MarshalText renders the kind by name.
func (k HistogramKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// ParseHistogramKind parses "current", "time" or "distance".
func ParseHistogramKind(s string) (HistogramKind, error) {
	for _, k := range []HistogramKind{HistogramCurrent, HistogramTime, HistogramDistance} {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown histogram kind %q (must be current, time, or distance)", s)
}

// CharUUID returns the characteristic holding this histogram.
func (k HistogramKind) CharUUID() string {
	switch k {
	case HistogramTime:
		return TimeHistogramCharUUID
	case HistogramDistance:
		return DistanceHistogramCharUUID
	default:
		return CurrentHistogramCharUUID
	}
}

// Bucket is one speed bucket
type Bucket struct {
	Center float64 `json:"center" yaml:"center"`
	Height float64 `json:"height" yaml:"height"`
}

// Histogram is a fully decoded histogram. Centers and width are in units/sec.
// Current heights are amps; time and distance heights are percent of the total.
type Histogram struct {
	Kind        HistogramKind `json:"kind" yaml:"kind"`
	BucketWidth float64       `json:"bucket_width" yaml:"bucket_width"`
	Buckets     []Bucket      `json:"buckets" yaml:"buckets"`
}

// HistogramParams carries the scaling needed to decode a histogram.
type HistogramParams struct {
	CurrentTicksPerAmp float64
	StepsPerUnit       float64
}

// DecodeHistogram is a pure function of its inputs: the same payload always
// yields the same histogram.
func DecodeHistogram(kind HistogramKind, payload []byte, params HistogramParams) (*Histogram, error) {
	name := "histogram/" + kind.String()
	if len(payload) < HistogramPayloadSize {
		return nil, shortPayload(name, HistogramPayloadSize, len(payload))
	}
	if n := int(payload[1]); n != HistogramBuckets {
		return nil, badPayload(name, fmt.Sprintf("bucket count %d, want %d", n, HistogramBuckets))
	}

	stepsPerUnit := params.StepsPerUnit
	if stepsPerUnit <= 0 {
		stepsPerUnit = 1
	}
	width := float64(binary.LittleEndian.Uint16(payload[2:4])) / stepsPerUnit
	offset := width / 2

	raw := make([]float64, HistogramBuckets)
	var total float64
	for i := range raw {
		start := histogramHeaderSize + i*4
		raw[i] = float64(binary.LittleEndian.Uint32(payload[start : start+4]))
		total += raw[i]
	}

	h := &Histogram{
		Kind:        kind,
		BucketWidth: width,
		Buckets:     make([]Bucket, HistogramBuckets),
	}
	for i, v := range raw {
		height := v
		switch kind {
		case HistogramCurrent:
			if params.CurrentTicksPerAmp > 0 {
				height = v / params.CurrentTicksPerAmp
			}
		default:
			if total > 0 {
				height = 100 * v / total
			} else {
				height = 0
			}
		}
		h.Buckets[i] = Bucket{Center: offset + float64(i)*width, Height: height}
	}
	return h, nil
}

// EncodeHistogram builds a histogram payload from raw bucket values.
func EncodeHistogram(bucketWidth uint16, values []uint32) []byte {
	b := make([]byte, histogramHeaderSize+len(values)*4)
	b[0] = 1
	b[1] = byte(len(values))
	binary.LittleEndian.PutUint16(b[2:4], bucketWidth)
	for i, v := range values {
		binary.LittleEndian.PutUint32(b[histogramHeaderSize+i*4:], v)
	}
	return b
}

// HistogramReader reads the three histograms. Each read is one characteristic
// read and one decode, without retry.
type HistogramReader struct {
	link   device.Link
	params HistogramParams
	logger *logrus.Logger
}

// NewHistogramReader creates a reader using link.
func NewHistogramReader(link device.Link, params HistogramParams, logger *logrus.Logger) *HistogramReader {
	if logger == nil {
		logger = logrus.New()
	}
	return &HistogramReader{link: link, params: params, logger: logger}
}

// Read reads and decodes one histogram.
func (r *HistogramReader) Read(ctx context.Context, kind HistogramKind) (*Histogram, error) {
	payload, err := r.link.Read(ctx, kind.CharUUID())
	if err != nil {
		return nil, fmt.Errorf("failed to read %s histogram: %w", kind, err)
	}
	r.logger.WithFields(logrus.Fields{
		"histogram": kind.String(),
		"bytes":     len(payload),
	}).Debug("Histogram read")
	return DecodeHistogram(kind, payload, r.params)
}

// ReadCurrent reads the current-vs-speed histogram
func (r *HistogramReader) ReadCurrent(ctx context.Context) (*Histogram, error) {
	return r.Read(ctx, HistogramCurrent)
}

// ReadTime reads the time%-vs-speed histogram
func (r *HistogramReader) ReadTime(ctx context.Context) (*Histogram, error) {
	return r.Read(ctx, HistogramTime)
}

// ReadDistance reads the distance%-vs-speed histogram
func (r *HistogramReader) ReadDistance(ctx context.Context) (*Histogram, error) {
	return r.Read(ctx, HistogramDistance)
}
