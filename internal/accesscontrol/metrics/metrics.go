package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the access control module.
type Metrics struct {
	ApprovedOrganizations prometheus.Gauge
	ApprovalChanges       *prometheus.CounterVec
	Unauthorized          prometheus.Counter
}

// New creates the access control metrics and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ApprovedOrganizations: f.NewGauge(prometheus.GaugeOpts{
			Name: "certreg_approved_organizations",
			Help: "Number of organizations currently approved to issue",
		}),
		ApprovalChanges: f.NewCounterVec(prometheus.CounterOpts{
			Name: "certreg_approval_changes_total",
			Help: "State-changing approve and revoke operations",
		}, []string{"action"}),
		Unauthorized: f.NewCounter(prometheus.CounterOpts{
			Name: "certreg_access_control_unauthorized_total",
			Help: "Approve or revoke calls rejected because the caller is not the administrator",
		}),
	}
}

// RecordChange counts one approve or revoke and updates the approved gauge.
func (m *Metrics) RecordChange(approved bool, approvedCount int) {
	action := "revoke"
	if approved {
		action = "approve"
	}
	m.ApprovalChanges.WithLabelValues(action).Inc()
	m.ApprovedOrganizations.Set(float64(approvedCount))
}

// SetApproved sets the approved gauge, e.g. after replay.
func (m *Metrics) SetApproved(approvedCount int) {
	m.ApprovedOrganizations.Set(float64(approvedCount))
}

func (m *Metrics) IncUnauthorized() {
	m.Unauthorized.Inc()
}
