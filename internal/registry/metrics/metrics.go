package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for registry operations.
type Metrics struct {
	Operations      *prometheus.CounterVec
	ReplayedEntries prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Operations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "certreg_registry_operations_total",
			Help: "Registry operations by name and outcome (ok or error code)",
		}, []string{"operation", "outcome"}),
		ReplayedEntries: f.NewGauge(prometheus.GaugeOpts{
			Name: "certreg_journal_replayed_entries",
			Help: "Journal entries applied during the last start-up replay",
		}),
	}
}

func (m *Metrics) RecordOperation(operation, outcome string) {
	m.Operations.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) SetReplayed(n int) {
	m.ReplayedEntries.Set(float64(n))
}
