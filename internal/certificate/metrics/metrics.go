package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the certificate ledger.
type Metrics struct {
	CertificatesIssued prometheus.Counter
	IssueDuration      prometheus.Histogram
	Unauthorized       prometheus.Counter
	JournalFailures    prometheus.Counter
	NextID             prometheus.Gauge
}

// New creates the ledger metrics and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CertificatesIssued: f.NewCounter(prometheus.CounterOpts{
			Name: "certreg_certificates_issued_total",
			Help: "Certificates issued since process start",
		}),
		IssueDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "certreg_issue_duration_seconds",
			Help:    "Duration of Issue including the journal write",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		Unauthorized: f.NewCounter(prometheus.CounterOpts{
			Name: "certreg_issue_unauthorized_total",
			Help: "Issue calls rejected because the caller is not an approved organization",
		}),
		JournalFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "certreg_issue_journal_failures_total",
			Help: "Issue calls that failed writing the journal",
		}),
		NextID: f.NewGauge(prometheus.GaugeOpts{
			Name: "certreg_next_certificate_id",
			Help: "Identifier the next issued certificate will receive",
		}),
	}
}

// ObserveIssue records the duration of an Issue call.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveIssue(start time.Time) {
	m.IssueDuration.Observe(time.Since(start).Seconds())
}

// RecordIssued counts one issuance and publishes the next id.
func (m *Metrics) RecordIssued(nextID uint64) {
	m.CertificatesIssued.Inc()
	m.NextID.Set(float64(nextID))
}

func (m *Metrics) SetNextID(nextID uint64) {
	m.NextID.Set(float64(nextID))
}

func (m *Metrics) IncUnauthorized() {
	m.Unauthorized.Inc()
}

func (m *Metrics) IncJournalFailures() {
	m.JournalFailures.Inc()
}
