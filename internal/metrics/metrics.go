// Package metrics exposes the stream health counters as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "stepprobe"

// Metrics holds every collector registered for one monitoring session.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Notifications   prometheus.Counter
	Dropped         prometheus.Counter
	DataLoss        prometheus.Counter
	Duplicates      prometheus.Counter
	Captures        prometheus.Counter
	DecodeFailures  *prometheus.CounterVec
	LinkErrors      *prometheus.CounterVec
	HistogramReads  *prometheus.CounterVec
	TickDuration    prometheus.Histogram
	BreakerOpen     prometheus.Gauge
	LastSampleSpeed prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Notifications: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Telemetry notifications received from the probe.",
		}),
		Dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_dropped_total",
			Help:      "Notifications overwritten because the queue was full.",
		}),
		DataLoss: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "data_loss_total",
			Help:      "Samples whose timestamp gap exceeded the data loss threshold.",
		}),
		Duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicate_samples_total",
			Help:      "Samples repeating the previous timestamp.",
		}),
		Captures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "captures_total",
			Help:      "Completed high-rate current captures.",
		}),
		DecodeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_failures_total",
			Help:      "Payloads that failed to decode, by payload kind.",
		}, []string{"kind"}),
		LinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "link_errors_total",
			Help:      "Failed link operations, by operation.",
		}, []string{"op"}),
		HistogramReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "histogram_reads_total",
			Help:      "Successful histogram reads, by histogram kind.",
		}, []string{"kind"}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Time spent in one scheduler tick.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1},
		}),
		BreakerOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "link_breaker_open",
			Help:      "1 while the link circuit breaker rejects operations.",
		}),
		LastSampleSpeed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "speed_units_per_second",
			Help:      "Most recent computed speed.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.Notifications, m.Dropped, m.DataLoss, m.Duplicates, m.Captures,
			m.DecodeFailures, m.LinkErrors, m.HistogramReads,
			m.TickDuration, m.BreakerOpen, m.LastSampleSpeed,
		)
	}
	return m
}

// Handler serves the metrics registered on gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

func (m *Metrics) IncNotifications() {
	if m != nil {
		m.Notifications.Inc()
	}
}

func (m *Metrics) AddDropped(n uint32) {
	if m != nil {
		m.Dropped.Add(float64(n))
	}
}

func (m *Metrics) IncDataLoss() {
	if m != nil {
		m.DataLoss.Inc()
	}
}

func (m *Metrics) IncDuplicates() {
	if m != nil {
		m.Duplicates.Inc()
	}
}

func (m *Metrics) IncCaptures() {
	if m != nil {
		m.Captures.Inc()
	}
}

func (m *Metrics) IncDecodeFailure(kind string) {
	if m != nil {
		m.DecodeFailures.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) IncLinkError(op string) {
	if m != nil {
		m.LinkErrors.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) IncHistogramRead(kind string) {
	if m != nil {
		m.HistogramReads.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) ObserveTick(d time.Duration) {
	if m != nil {
		m.TickDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) SetBreakerOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.BreakerOpen.Set(1)
	} else {
		m.BreakerOpen.Set(0)
	}
}

func (m *Metrics) SetSpeed(v float64) {
	if m != nil {
		m.LastSampleSpeed.Set(v)
	}
}
