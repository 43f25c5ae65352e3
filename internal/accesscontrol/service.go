// Package accesscontrol holds the registry administrator and the set of
// organizations approved to issue certificates.
package accesscontrol

import (
	"context"
	"log/slog"
	"sync"

	"certreg/internal/accesscontrol/metrics"
	"certreg/internal/accesscontrol/models"
	id "certreg/pkg/domain"
	dErrors "certreg/pkg/domain-errors"
	audit "certreg/pkg/platform/audit"
	"certreg/pkg/requestcontext"
)

// Journal durably records approval changes before they take effect.
type Journal interface {
	AppendApproval(ctx context.Context, change models.ApprovalChange) error
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service answers "who is the administrator" and "is this organization
// approved", and lets the administrator change approvals.
type Service struct {
	admin id.Identity

	mu   sync.RWMutex
	orgs map[id.Identity]models.Organization

	journal        Journal
	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *metrics.Metrics
}

type Option func(*Service)

func WithJournal(journal Journal) Option {
	return func(s *Service) {
		s.journal = journal
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// New constructs a Service administered by admin. The administrator is fixed
// for the lifetime of the Service.
func New(admin id.Identity, opts ...Option) (*Service, error) {
	if admin.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvalidIdentity, "administrator must be a non-null address")
	}
	s := &Service{
		admin: admin,
		orgs:  make(map[id.Identity]models.Organization),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Owner returns the administrator.
func (s *Service) Owner() id.Identity {
	return s.admin
}

// IsApproved reports whether org may currently issue. Unknown and null
// identities are not approved.
func (s *Service) IsApproved(org id.Identity) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.orgs[org].Approved
}

// Organization returns the status of org, including when and by whom it last changed.
func (s *Service) Organization(org id.Identity) models.Organization {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orgs[org]
	if !ok {
		return models.Organization{Address: org}
	}
	return o
}

// ApprovedCount returns the number of currently approved organizations.
func (s *Service) ApprovedCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.approvedCountLocked()
}

// Approve lets org issue certificates. Only the administrator may call it;
// approving an approved organization is a no-op.
func (s *Service) Approve(ctx context.Context, caller, org id.Identity) error {
	return s.setApproval(ctx, caller, org, true)
}

// Revoke stops org from issuing further certificates. Certificates it already
// issued are untouched. Revoking an unapproved organization is a no-op.
func (s *Service) Revoke(ctx context.Context, caller, org id.Identity) error {
	return s.setApproval(ctx, caller, org, false)
}

func (s *Service) setApproval(ctx context.Context, caller, org id.Identity, approved bool) error {
	// Authorization precedes input validation so non-administrators learn
	// nothing about whether their input was well formed.
	if caller != s.admin {
		s.rejectUnauthorized(ctx, caller, org, approved)
		return dErrors.New(dErrors.CodeUnauthorized, "caller is not the administrator")
	}
	if org.IsZero() {
		return dErrors.New(dErrors.CodeInvalidIdentity, "organization must be a non-null address")
	}

	change, err := models.NewApprovalChange(org, approved, caller, requestcontext.Now(ctx))
	if err != nil {
		return err
	}

	changed, count, err := s.commit(ctx, change)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	if s.metrics != nil {
		s.metrics.RecordChange(approved, count)
	}
	event := audit.EventOrganizationApproved
	if !approved {
		event = audit.EventOrganizationRevoked
	}
	s.logAudit(ctx, event, caller, org)
	return nil
}

// commit journals and applies change under the write lock. No-op changes are
// neither journaled nor applied.
func (s *Service) commit(ctx context.Context, change models.ApprovalChange) (changed bool, approvedCount int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.orgs[change.Organization]
	if !current.CanTransitionTo(change.Approved) {
		return false, 0, nil
	}
	if s.journal != nil {
		if err := s.journal.AppendApproval(context.WithoutCancel(ctx), change); err != nil {
			return false, 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to journal approval change")
		}
	}
	s.orgs[change.Organization] = current.Apply(change)
	return true, s.approvedCountLocked(), nil
}

// Restore applies a journaled change without journaling it again. Used only
// while replaying the journal at start-up.
func (s *Service) Restore(change models.ApprovalChange) error {
	if change.Actor != s.admin {
		return dErrors.New(dErrors.CodeInvariantViolation, "journaled approval change was not made by the administrator")
	}
	if _, err := models.NewApprovalChange(change.Organization, change.Approved, change.Actor, change.At); err != nil {
		return err
	}

	s.mu.Lock()
	s.orgs[change.Organization] = s.orgs[change.Organization].Apply(change)
	count := s.approvedCountLocked()
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.SetApproved(count)
	}
	return nil
}

func (s *Service) approvedCountLocked() int {
	n := 0
	for _, o := range s.orgs {
		if o.Approved {
			n++
		}
	}
	return n
}

func (s *Service) rejectUnauthorized(ctx context.Context, caller, org id.Identity, approved bool) {
	if s.metrics != nil {
		s.metrics.IncUnauthorized()
	}
	reason := "approve_by_non_admin"
	if !approved {
		reason = "revoke_by_non_admin"
	}
	if s.logger != nil {
		s.logger.WarnContext(ctx, "access control change rejected",
			"event", string(audit.EventUnauthorizedAttempt),
			"log_type", "audit",
			"caller", caller,
			"organization", org,
			"reason", reason,
			"request_id", requestcontext.RequestID(ctx),
		)
	}
	if s.auditPublisher == nil {
		return
	}
	if err := s.auditPublisher.Emit(ctx, audit.Event{
		Action:    string(audit.EventUnauthorizedAttempt),
		ActorID:   caller.String(),
		Subject:   org.String(),
		Decision:  "denied",
		Reason:    reason,
		RequestID: requestcontext.RequestID(ctx),
		ClientIP:  requestcontext.ClientIP(ctx),
		Timestamp: requestcontext.Now(ctx),
	}); err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "audit publish failed",
			"event", string(audit.EventUnauthorizedAttempt),
			"error", err,
		)
	}
}

func (s *Service) logAudit(ctx context.Context, event audit.AuditEvent, caller, org id.Identity) {
	requestID := requestcontext.RequestID(ctx)
	if s.logger != nil {
		s.logger.InfoContext(ctx, string(event),
			"event", string(event),
			"log_type", "audit",
			"caller", caller,
			"organization", org,
			"request_id", requestID,
		)
	}
	if s.auditPublisher == nil {
		return
	}
	if err := s.auditPublisher.Emit(ctx, audit.Event{
		Action:    string(event),
		ActorID:   caller.String(),
		Subject:   org.String(),
		RequestID: requestID,
		ClientIP:  requestcontext.ClientIP(ctx),
		Timestamp: requestcontext.Now(ctx),
	}); err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "audit publish failed",
			"event", string(event),
			"error", err,
		)
	}
}
