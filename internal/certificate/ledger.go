// Package certificate is the append-only certificate ledger and its
// recipient and organization indices.
package certificate

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"certreg/internal/certificate/metrics"
	"certreg/internal/certificate/models"
	id "certreg/pkg/domain"
	dErrors "certreg/pkg/domain-errors"
	audit "certreg/pkg/platform/audit"
	"certreg/pkg/requestcontext"
)

// Authorizer answers whether an organization may issue.
type Authorizer interface {
	IsApproved(org id.Identity) bool
}

// Journal durably records an issuance before it becomes visible.
type Journal interface {
	AppendIssuance(ctx context.Context, cert *models.Certificate) error
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Ledger stores certificates under sequential ids starting at 1.
//
// One RWMutex guards nextID, the records and both indices, so an issuance
// is observed either completely or not at all.
type Ledger struct {
	mu      sync.RWMutex
	nextID  id.CertificateID
	records []*models.Certificate // records[i].ID == i+1
	index   *index

	authz          Authorizer
	journal        Journal
	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *metrics.Metrics
}

type Option func(*Ledger)

func WithJournal(journal Journal) Option {
	return func(l *Ledger) {
		l.journal = journal
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(l *Ledger) {
		l.auditPublisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Ledger) {
		l.metrics = m
	}
}

// NewLedger constructs an empty ledger whose issuers are vetted by authz.
func NewLedger(authz Authorizer, opts ...Option) *Ledger {
	l := &Ledger{
		nextID: 1,
		index:  newIndex(),
		authz:  authz,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Issue records a certificate from caller to req.Recipient and returns it.
// The caller must be an approved organization.
func (l *Ledger) Issue(ctx context.Context, caller id.Identity, req models.IssueRequest) (*models.Certificate, error) {
	start := time.Now()
	defer func() {
		if l.metrics != nil {
			l.metrics.ObserveIssue(start)
		}
	}()

	if caller.IsZero() || !l.authz.IsApproved(caller) {
		l.rejectUnauthorized(ctx, caller, req.Recipient)
		return nil, dErrors.New(dErrors.CodeUnauthorized, "caller is not an approved organization")
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	cert, next, err := l.append(ctx, caller, req, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}

	if l.metrics != nil {
		l.metrics.RecordIssued(uint64(next))
	}
	l.logAudit(ctx, cert)
	return cloneCertificate(cert), nil
}

// append allocates the next id, journals the record and publishes it to the
// records and indices, all inside one critical section.
func (l *Ledger) append(ctx context.Context, caller id.Identity, req models.IssueRequest, issuedAt time.Time) (*models.Certificate, id.CertificateID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cert, err := models.NewCertificate(l.nextID, caller, req.Recipient, req.Name, req.Course, issuedAt)
	if err != nil {
		return nil, 0, err
	}
	if l.journal != nil {
		// A disconnecting client must not abort a journal write that may
		// already be durable.
		if err := l.journal.AppendIssuance(context.WithoutCancel(ctx), cert); err != nil {
			if l.metrics != nil {
				l.metrics.IncJournalFailures()
			}
			return nil, 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to journal certificate")
		}
	}
	l.storeLocked(cert)
	return cert, l.nextID, nil
}

func (l *Ledger) storeLocked(cert *models.Certificate) {
	l.records = append(l.records, cert)
	l.index.recordIssuance(cert.ID, cert.Organization, cert.Recipient)
	l.nextID++
}

// Restore re-applies a journaled certificate during start-up replay. Records
// must arrive in id order; approval is not rechecked because issuance was
// authorized when it was journaled.
func (l *Ledger) Restore(cert *models.Certificate) error {
	if cert == nil {
		return dErrors.New(dErrors.CodeInvariantViolation, "nil certificate in journal")
	}
	restored, err := models.NewCertificate(cert.ID, cert.Organization, cert.Recipient, cert.Name, cert.Course, cert.IssuedAt)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if restored.ID != l.nextID {
		return dErrors.New(dErrors.CodeInvariantViolation,
			"journal out of order: expected certificate "+l.nextID.String()+", got "+restored.ID.String())
	}
	l.storeLocked(restored)
	if l.metrics != nil {
		l.metrics.SetNextID(uint64(l.nextID))
	}
	return nil
}

// Get returns the certificate with certID, or a not_found error.
func (l *Ledger) Get(certID id.CertificateID) (*models.Certificate, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	cert := l.lookupLocked(certID)
	if cert == nil {
		return nil, dErrors.New(dErrors.CodeNotFound, "certificate "+certID.String()+" not found")
	}
	return cert, nil
}

// GetMany resolves ids under a single read lock. The result has the same
// length and order as ids; missing entries are nil.
func (l *Ledger) GetMany(ids []id.CertificateID) []*models.Certificate {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*models.Certificate, len(ids))
	for i, certID := range ids {
		out[i] = l.lookupLocked(certID)
	}
	return out
}

func (l *Ledger) lookupLocked(certID id.CertificateID) *models.Certificate {
	if certID == 0 || certID >= l.nextID {
		return nil
	}
	return cloneCertificate(l.records[certID-1])
}

// Total returns the number of certificates issued.
func (l *Ledger) Total() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return uint64(l.nextID - 1)
}

// NextID returns the id the next issuance will receive.
func (l *Ledger) NextID() id.CertificateID {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.nextID
}

// RecipientIDs returns the ids issued to recipient in issuance order.
func (l *Ledger) RecipientIDs(recipient id.Identity) []id.CertificateID {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.index.recipientIDs(recipient)
}

// OrganizationIDs returns the ids issued by org in issuance order.
func (l *Ledger) OrganizationIDs(org id.Identity) []id.CertificateID {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.index.organizationIDs(org)
}

// RecipientCertificates resolves the recipient index and the records in one
// read-locked snapshot, so every listed id has its record.
func (l *Ledger) RecipientCertificates(recipient id.Identity) []*models.Certificate {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.resolveLocked(l.index.recipientIDs(recipient))
}

// OrganizationCertificates is RecipientCertificates keyed by issuer.
func (l *Ledger) OrganizationCertificates(org id.Identity) []*models.Certificate {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.resolveLocked(l.index.organizationIDs(org))
}

func (l *Ledger) resolveLocked(ids []id.CertificateID) []*models.Certificate {
	out := make([]*models.Certificate, 0, len(ids))
	for _, certID := range ids {
		if cert := l.lookupLocked(certID); cert != nil {
			out = append(out, cert)
		}
	}
	return out
}

// cloneCertificate hands out copies so stored certificates stay immutable.
func cloneCertificate(cert *models.Certificate) *models.Certificate {
	c := *cert
	return &c
}

func (l *Ledger) rejectUnauthorized(ctx context.Context, caller, recipient id.Identity) {
	if l.metrics != nil {
		l.metrics.IncUnauthorized()
	}
	if l.logger != nil {
		l.logger.WarnContext(ctx, "certificate issuance rejected",
			"event", string(audit.EventUnauthorizedAttempt),
			"log_type", "audit",
			"caller", caller,
			"recipient", recipient,
			"request_id", requestcontext.RequestID(ctx),
		)
	}
	if l.auditPublisher == nil {
		return
	}
	if err := l.auditPublisher.Emit(ctx, audit.Event{
		Action:    string(audit.EventUnauthorizedAttempt),
		ActorID:   caller.String(),
		Subject:   recipient.String(),
		Decision:  "denied",
		Reason:    "issue_by_unapproved_caller",
		RequestID: requestcontext.RequestID(ctx),
		ClientIP:  requestcontext.ClientIP(ctx),
		Timestamp: requestcontext.Now(ctx),
	}); err != nil && l.logger != nil {
		l.logger.WarnContext(ctx, "audit publish failed",
			"event", string(audit.EventUnauthorizedAttempt),
			"error", err,
		)
	}
}

func (l *Ledger) logAudit(ctx context.Context, cert *models.Certificate) {
	requestID := requestcontext.RequestID(ctx)
	if l.logger != nil {
		l.logger.InfoContext(ctx, string(audit.EventCertificateIssued),
			"event", string(audit.EventCertificateIssued),
			"log_type", "audit",
			"certificate_id", cert.ID,
			"organization", cert.Organization,
			"recipient", cert.Recipient,
			"request_id", requestID,
		)
	}
	if l.auditPublisher == nil {
		return
	}
	if err := l.auditPublisher.Emit(ctx, audit.Event{
		Action:    string(audit.EventCertificateIssued),
		ActorID:   cert.Organization.String(),
		Subject:   cert.Recipient.String(),
		Resource:  cert.ID.String(),
		RequestID: requestID,
		ClientIP:  requestcontext.ClientIP(ctx),
		Timestamp: cert.IssuedAt,
	}); err != nil && l.logger != nil {
		l.logger.WarnContext(ctx, "audit publish failed",
			"event", string(audit.EventCertificateIssued),
			"error", err,
		)
	}
}
