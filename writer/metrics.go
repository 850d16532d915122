package writer

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the writer's prometheus collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	Writes             *prometheus.CounterVec
	Rows               *prometheus.CounterVec
	ValidationFailures prometheus.Counter
	WriteDuration      prometheus.Histogram
	AbandonedBytes     prometheus.Gauge
}

// NewMetrics creates the writer collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Writes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "rtdc",
				Subsystem: "writer",
				Name:      "writes_total",
				Help:      "Total number of completed write calls",
			},
			[]string{"mode"},
		),
		Rows: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "rtdc",
				Subsystem: "writer",
				Name:      "rows_total",
				Help:      "Total number of event rows written per feature kind",
			},
			[]string{"kind"},
		),
		ValidationFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "rtdc",
				Subsystem: "writer",
				Name:      "validation_failures_total",
				Help:      "Total number of write calls rejected before touching the container",
			},
		),
		WriteDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "rtdc",
				Subsystem: "writer",
				Name:      "write_seconds",
				Help:      "Duration of write calls in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),
		AbandonedBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "rtdc",
				Subsystem: "writer",
				Name:      "abandoned_bytes",
				Help:      "Object header bytes superseded by rewrites since the last container was opened",
			},
		),
	}

	for _, c := range []prometheus.Collector{m.Writes, m.Rows, m.ValidationFailures, m.WriteDuration, m.AbandonedBytes} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("registering writer metrics: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) write(mode Mode, d time.Duration, abandoned uint64) {
	if m == nil {
		return
	}
	m.Writes.WithLabelValues(mode.String()).Inc()
	m.WriteDuration.Observe(d.Seconds())
	m.AbandonedBytes.Set(float64(abandoned))
}

func (m *Metrics) rows(kind string, n int) {
	if m == nil {
		return
	}
	m.Rows.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) rejected() {
	if m == nil {
		return
	}
	m.ValidationFailures.Inc()
}
