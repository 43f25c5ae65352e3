package audit

import (
	"context"
	"time"
)

// EventCategory classifies audit events by their primary purpose so sinks can
// route and retain them differently.
type EventCategory string

const (
	// CategoryCompliance covers changes to who may issue and what was issued.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers rejected privileged calls.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers lifecycle events such as journal replay.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	ID        string        `json:"id"`
	Category  EventCategory `json:"category"`
	Timestamp time.Time     `json:"timestamp"`
	Action    string        `json:"action"`
	// ActorID is the caller that performed the action.
	ActorID string `json:"actor_id,omitempty"`
	// Subject is the identity acted upon: an organization or a recipient.
	Subject string `json:"subject,omitempty"`
	// Resource names the record touched, e.g. a certificate id.
	Resource  string `json:"resource,omitempty"`
	Decision  string `json:"decision,omitempty"`
	Reason    string `json:"reason,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	ClientIP  string `json:"client_ip,omitempty"`
}

// Store persists or forwards audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
}

type AuditEvent string

const (
	// Access control events
	EventOrganizationApproved AuditEvent = "organization_approved"
	EventOrganizationRevoked  AuditEvent = "organization_revoked"

	// Ledger events
	EventCertificateIssued AuditEvent = "certificate_issued"

	// Rejected privileged calls
	EventUnauthorizedAttempt AuditEvent = "unauthorized_attempt"

	// Lifecycle
	EventJournalReplayed AuditEvent = "journal_replayed"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventOrganizationApproved: CategoryCompliance,
	EventOrganizationRevoked:  CategoryCompliance,
	EventCertificateIssued:    CategoryCompliance,
	EventUnauthorizedAttempt:  CategorySecurity,
	EventJournalReplayed:      CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}
