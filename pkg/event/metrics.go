package event

import (
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/xerrors"
)

// MetricsListener exports transfer counters.
type MetricsListener struct {
	transfers *prometheus.CounterVec
	bytes     *prometheus.CounterVec
	duration  *prometheus.HistogramVec
}

func NewMetricsListener(reg prometheus.Registerer) (*MetricsListener, error) {
	m := &MetricsListener{
		transfers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "resolver_transfers_total",
				Help: "Number of finished transfers by repository and result.",
			},
			[]string{"repository", "result"},
		),
		bytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "resolver_transferred_bytes_total",
				Help: "Bytes downloaded by repository.",
			},
			[]string{"repository"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "resolver_transfer_duration_seconds",
				Help:    "Time taken by successful transfers.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"repository"},
		),
	}
	for _, c := range []prometheus.Collector{m.transfers, m.bytes, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, xerrors.Errorf("unable to register metrics: %w", err)
		}
	}
	return m, nil
}

func (m *MetricsListener) OnEvent(e Event) {
	switch e.Type {
	case Succeeded:
		m.transfers.WithLabelValues(e.Repository, "success").Inc()
		m.bytes.WithLabelValues(e.Repository).Add(float64(e.Transferred))
		m.duration.WithLabelValues(e.Repository).Observe(e.Elapsed.Seconds())
	case Failed:
		m.transfers.WithLabelValues(e.Repository, "failure").Inc()
	}
}
