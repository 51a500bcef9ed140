package scheduler

import (
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/stepprobe/internal/filter"
	"github.com/srg/stepprobe/internal/metrics"
	"github.com/srg/stepprobe/internal/probe"
	"golang.org/x/time/rate"
)

// errDuplicate marks a sample whose timestamp did not advance.
var errDuplicate = errors.New("duplicate telemetry timestamp")

// Reading is one accepted telemetry sample in display units.
type Reading struct {
	TimestampSecs float64 `json:"timestamp_secs"`
	Steps         int32   `json:"steps"`

	// Distance is Steps / steps-per-unit.
	Distance float64 `json:"distance"`

	// Speed is in units per second; valid only when HasSpeed.
	Speed    float64 `json:"speed"`
	HasSpeed bool    `json:"has_speed"`

	AmpsAbs      float64 `json:"amps_abs"`
	AmpsFiltered float64 `json:"amps_filtered"`
	Energized    bool    `json:"energized"`
	Reversed     bool    `json:"reversed"`
	DataLoss     bool    `json:"data_loss,omitempty"`

	Gap time.Duration `json:"-"`
}

// Pipeline turns raw notifications into readings: decode, current smoothing,
// unit conversion and the post-reset drop window. Owned by the tick goroutine.
type Pipeline struct {
	decoder      *probe.TelemetryDecoder
	amps         *filter.Filter
	stepsPerUnit float64
	logEvery     int

	dropRemaining int
	count         int

	lossLimiter *rate.Limiter
	logger      *logrus.Logger
	metrics     *metrics.Metrics
}

// NewPipeline creates a pipeline for a probe described by info.
func NewPipeline(info probe.ProbeInfo, cfg Config, logger *logrus.Logger, m *metrics.Metrics) (*Pipeline, error) {
	amps, err := filter.New(cfg.FilterAlpha)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Pipeline{
		decoder:      probe.NewTelemetryDecoder(info, cfg.DataLossThreshold),
		amps:         amps,
		stepsPerUnit: cfg.StepsPerUnit,
		logEvery:     cfg.SampleLogEvery,
		lossLimiter:  rate.NewLimiter(rate.Every(time.Second), 5),
		logger:       logger,
		metrics:      m,
	}, nil
}

// Process decodes one payload. It returns the reading and whether it should be
// shown: samples inside the post-reset drop window update the baseline and the
// filter but are not shown. Duplicates return errDuplicate.
func (p *Pipeline) Process(payload []byte) (Reading, bool, error) {
	t, err := p.decoder.Decode(payload)
	if err != nil {
		p.metrics.IncDecodeFailure("telemetry")
		return Reading{}, false, err
	}
	p.metrics.IncNotifications()

	if p.logEvery > 0 && p.count%p.logEvery == 0 {
		p.logger.WithFields(logrus.Fields{
			"n":              p.count,
			"timestamp_secs": t.Sample.TimestampSecs,
			"steps":          t.Sample.Steps,
			"amps_abs":       t.Sample.AmpsAbs,
			"energized":      t.Sample.Energized,
			"reversed":       t.Sample.Reversed,
		}).Info("Telemetry sample")
	}
	p.count++

	if t.DataLoss {
		p.metrics.IncDataLoss()
		if p.lossLimiter.Allow() {
			p.logger.WithField("gap_ms", t.Gap.Milliseconds()).Warn("Telemetry data loss")
		}
	}
	if t.Duplicate {
		p.metrics.IncDuplicates()
		p.logger.WithField("timestamp_secs", t.Sample.TimestampSecs).Debug("Duplicate telemetry timestamp")
		return Reading{}, false, errDuplicate
	}

	r := Reading{
		TimestampSecs: t.Sample.TimestampSecs,
		Steps:         t.Sample.Steps,
		Distance:      float64(t.Sample.Steps) / p.stepsPerUnit,
		HasSpeed:      t.HasSpeed,
		AmpsAbs:       t.Sample.AmpsAbs,
		AmpsFiltered:  p.amps.Update(t.Sample.AmpsAbs),
		Energized:     t.Sample.Energized,
		Reversed:      t.Sample.Reversed,
		DataLoss:      t.DataLoss,
		Gap:           t.Gap,
	}
	if t.HasSpeed {
		r.Speed = t.Speed / p.stepsPerUnit
		p.metrics.SetSpeed(r.Speed)
	}

	if p.dropRemaining > 0 {
		p.dropRemaining--
		return r, false, nil
	}
	return r, true, nil
}

// DropNext hides the next n accepted samples.
func (p *Pipeline) DropNext(n int) {
	p.dropRemaining = n
}

// Dropping reports whether the drop window is still open.
func (p *Pipeline) Dropping() bool {
	return p.dropRemaining > 0
}

// Count returns the number of decoded samples.
func (p *Pipeline) Count() int {
	return p.count
}
