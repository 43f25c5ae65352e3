// Package registry is the single entry point for registry operations. It
// composes access control, the certificate ledger and verification, and
// rebuilds their state from the journal at start-up.
package registry

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"certreg/internal/accesscontrol"
	acmodels "certreg/internal/accesscontrol/models"
	"certreg/internal/certificate"
	certmodels "certreg/internal/certificate/models"
	"certreg/internal/journal"
	"certreg/internal/registry/metrics"
	"certreg/internal/verification"
	id "certreg/pkg/domain"
	dErrors "certreg/pkg/domain-errors"
	audit "certreg/pkg/platform/audit"
	"certreg/pkg/platform/sentinel"
	"certreg/pkg/requestcontext"
)

const tracerName = "certreg/internal/registry"

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Stats summarizes the registry for dashboards.
type Stats struct {
	Total         uint64           `json:"total"`
	Organizations int              `json:"organizations"`
	NextID        id.CertificateID `json:"next_id"`
}

// Registry exposes the registry operation set. Writes take the caller
// explicitly; reads are open to anyone.
type Registry struct {
	access   *accesscontrol.Service
	ledger   *certificate.Ledger
	verifier *verification.Service

	journal        *journal.Journal
	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *metrics.Metrics
	tracer         trace.Tracer
}

type Option func(*Registry)

// WithJournal enables Bootstrap and journal health reporting. The same
// journal must be wired into the access-control service and the ledger.
func WithJournal(j *journal.Journal) Option {
	return func(r *Registry) {
		r.journal = j
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(r *Registry) {
		r.auditPublisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(r *Registry) {
		r.tracer = tracer
	}
}

func New(access *accesscontrol.Service, ledger *certificate.Ledger, verifier *verification.Service, opts ...Option) *Registry {
	r := &Registry{
		access:   access,
		ledger:   ledger,
		verifier: verifier,
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Bootstrap replays the journal into the services. An empty journal gets a
// genesis entry naming the administrator; a journal whose genesis names a
// different administrator is refused.
func (r *Registry) Bootstrap(ctx context.Context) (err error) {
	ctx, span := r.tracer.Start(ctx, "registry.Bootstrap")
	defer func() { r.finish(span, "bootstrap", err) }()

	if r.journal == nil {
		return nil
	}
	owner := r.access.Owner()
	n, err := r.journal.Replay(ctx, func(e journal.Entry) error {
		switch e.Kind {
		case journal.KindGenesis:
			if e.Admin != owner {
				return dErrors.Wrap(sentinel.ErrConflict, dErrors.CodeConflict,
					fmt.Sprintf("journal belongs to administrator %s, configured administrator is %s", e.Admin, owner))
			}
			return nil
		case journal.KindApproval:
			return r.access.Restore(*e.Approval)
		case journal.KindIssuance:
			return r.ledger.Restore(e.Certificate)
		default:
			return dErrors.New(dErrors.CodeInvariantViolation, "unknown journal entry kind "+string(e.Kind))
		}
	})
	if err != nil {
		return err
	}
	if n == 0 {
		if err := r.journal.AppendGenesis(ctx, owner); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to write journal genesis")
		}
	}

	span.SetAttributes(attribute.Int("journal.entries", n))
	if r.metrics != nil {
		r.metrics.SetReplayed(n)
	}
	if r.logger != nil {
		r.logger.InfoContext(ctx, string(audit.EventJournalReplayed),
			"event", string(audit.EventJournalReplayed),
			"log_type", "audit",
			"entries", n,
			"certificates", r.ledger.Total(),
			"organizations", r.access.ApprovedCount(),
		)
	}
	if r.auditPublisher != nil {
		_ = r.auditPublisher.Emit(ctx, audit.Event{
			Action:    string(audit.EventJournalReplayed),
			ActorID:   owner.String(),
			Reason:    fmt.Sprintf("%d entries", n),
			Timestamp: requestcontext.Now(ctx),
		})
	}
	return nil
}

// Health reports journal reachability. Without a journal the registry is
// always healthy.
func (r *Registry) Health(ctx context.Context) error {
	if r.journal == nil {
		return nil
	}
	return r.journal.Health(ctx)
}

// Owner returns the administrator.
func (r *Registry) Owner(ctx context.Context) id.Identity {
	_, span := r.tracer.Start(ctx, "registry.Owner")
	defer span.End()
	return r.access.Owner()
}

// IsApproved reports whether org may issue.
func (r *Registry) IsApproved(ctx context.Context, org id.Identity) bool {
	_, span := r.tracer.Start(ctx, "registry.IsApproved", trace.WithAttributes(attribute.String("organization", org.String())))
	defer span.End()
	return r.access.IsApproved(org)
}

// Organization returns the approval status of org with its last change.
func (r *Registry) Organization(ctx context.Context, org id.Identity) acmodels.Organization {
	_, span := r.tracer.Start(ctx, "registry.Organization", trace.WithAttributes(attribute.String("organization", org.String())))
	defer span.End()
	return r.access.Organization(org)
}

func (r *Registry) ApproveOrganization(ctx context.Context, caller, org id.Identity) (err error) {
	ctx, span := r.tracer.Start(ctx, "registry.ApproveOrganization", trace.WithAttributes(attribute.String("organization", org.String())))
	defer func() { r.finish(span, "approve_organization", err) }()
	return r.access.Approve(ctx, caller, org)
}

func (r *Registry) RevokeOrganization(ctx context.Context, caller, org id.Identity) (err error) {
	ctx, span := r.tracer.Start(ctx, "registry.RevokeOrganization", trace.WithAttributes(attribute.String("organization", org.String())))
	defer func() { r.finish(span, "revoke_organization", err) }()
	return r.access.Revoke(ctx, caller, org)
}

// IssueCertificate records a certificate and returns it with its new id.
func (r *Registry) IssueCertificate(ctx context.Context, caller, recipient id.Identity, name, course string) (cert *certmodels.Certificate, err error) {
	ctx, span := r.tracer.Start(ctx, "registry.IssueCertificate", trace.WithAttributes(attribute.String("recipient", recipient.String())))
	defer func() { r.finish(span, "issue_certificate", err) }()

	cert, err = r.ledger.Issue(ctx, caller, certmodels.IssueRequest{Recipient: recipient, Name: name, Course: course})
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int64("certificate.id", int64(cert.ID)))
	return cert, nil
}

func (r *Registry) GetCertificate(ctx context.Context, certID id.CertificateID) (cert *certmodels.Certificate, err error) {
	_, span := r.tracer.Start(ctx, "registry.GetCertificate", trace.WithAttributes(attribute.Int64("certificate.id", int64(certID))))
	defer func() { r.finish(span, "get_certificate", err) }()
	return r.ledger.Get(certID)
}

func (r *Registry) GetCertificatesBatch(ctx context.Context, ids []id.CertificateID) []verification.BatchItem {
	_, span := r.tracer.Start(ctx, "registry.GetCertificatesBatch", trace.WithAttributes(attribute.Int("batch.size", len(ids))))
	defer span.End()
	return r.verifier.BatchGet(ids)
}

func (r *Registry) GetRecipientCertificates(ctx context.Context, recipient id.Identity) []id.CertificateID {
	_, span := r.tracer.Start(ctx, "registry.GetRecipientCertificates")
	defer span.End()
	return r.verifier.IDsOf(recipient)
}

func (r *Registry) GetOrganizationCertificates(ctx context.Context, org id.Identity) []id.CertificateID {
	_, span := r.tracer.Start(ctx, "registry.GetOrganizationCertificates")
	defer span.End()
	return r.verifier.IDsIssuedBy(org)
}

// ListRecipientCertificates resolves a recipient's certificates in issuance order.
func (r *Registry) ListRecipientCertificates(ctx context.Context, recipient id.Identity) []*certmodels.Certificate {
	_, span := r.tracer.Start(ctx, "registry.ListRecipientCertificates")
	defer span.End()
	certs := r.verifier.CertificatesOf(recipient)
	span.SetAttributes(attribute.Int("certificates.count", len(certs)))
	return certs
}

// ListOrganizationCertificates resolves an issuer's certificates in issuance order.
func (r *Registry) ListOrganizationCertificates(ctx context.Context, org id.Identity) []*certmodels.Certificate {
	_, span := r.tracer.Start(ctx, "registry.ListOrganizationCertificates")
	defer span.End()
	certs := r.verifier.CertificatesIssuedBy(org)
	span.SetAttributes(attribute.Int("certificates.count", len(certs)))
	return certs
}

// VerifyCertificate never fails; unknown ids verify as invalid.
func (r *Registry) VerifyCertificate(ctx context.Context, certID id.CertificateID) verification.Result {
	_, span := r.tracer.Start(ctx, "registry.VerifyCertificate", trace.WithAttributes(attribute.Int64("certificate.id", int64(certID))))
	defer span.End()
	res := r.verifier.Verify(certID)
	span.SetAttributes(attribute.Bool("certificate.valid", res.Valid))
	if r.metrics != nil {
		outcome := "valid"
		if !res.Valid {
			outcome = "invalid"
		}
		r.metrics.RecordOperation("verify_certificate", outcome)
	}
	return res
}

func (r *Registry) GetTotalCertificates(ctx context.Context) uint64 {
	_, span := r.tracer.Start(ctx, "registry.GetTotalCertificates")
	defer span.End()
	return r.verifier.TotalIssued()
}

// GetCurrentCertificateID returns the id the next issuance will receive.
func (r *Registry) GetCurrentCertificateID(ctx context.Context) id.CertificateID {
	_, span := r.tracer.Start(ctx, "registry.GetCurrentCertificateID")
	defer span.End()
	return r.ledger.NextID()
}

func (r *Registry) Stats(ctx context.Context) Stats {
	_, span := r.tracer.Start(ctx, "registry.Stats")
	defer span.End()
	return Stats{
		Total:         r.ledger.Total(),
		Organizations: r.access.ApprovedCount(),
		NextID:        r.ledger.NextID(),
	}
}

func (r *Registry) finish(span trace.Span, operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(dErrors.CodeOf(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	if r.metrics != nil {
		r.metrics.RecordOperation(operation, outcome)
	}
	span.End()
}
