// Package handler exposes registry operations over HTTP and JSON.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	acmodels "certreg/internal/accesscontrol/models"
	certmodels "certreg/internal/certificate/models"
	"certreg/internal/registry"
	"certreg/internal/verification"
	id "certreg/pkg/domain"
	dErrors "certreg/pkg/domain-errors"
	"certreg/pkg/platform/httputil"
	"certreg/pkg/requestcontext"
)

// Service is the registry operation set served by the handler.
type Service interface {
	Owner(ctx context.Context) id.Identity
	Organization(ctx context.Context, org id.Identity) acmodels.Organization
	ApproveOrganization(ctx context.Context, caller, org id.Identity) error
	RevokeOrganization(ctx context.Context, caller, org id.Identity) error
	IssueCertificate(ctx context.Context, caller, recipient id.Identity, name, course string) (*certmodels.Certificate, error)
	GetCertificate(ctx context.Context, certID id.CertificateID) (*certmodels.Certificate, error)
	GetCertificatesBatch(ctx context.Context, ids []id.CertificateID) []verification.BatchItem
	GetRecipientCertificates(ctx context.Context, recipient id.Identity) []id.CertificateID
	GetOrganizationCertificates(ctx context.Context, org id.Identity) []id.CertificateID
	ListRecipientCertificates(ctx context.Context, recipient id.Identity) []*certmodels.Certificate
	ListOrganizationCertificates(ctx context.Context, org id.Identity) []*certmodels.Certificate
	VerifyCertificate(ctx context.Context, certID id.CertificateID) verification.Result
	Stats(ctx context.Context) registry.Stats
	Health(ctx context.Context) error
}

// Handler wires registry endpoints to the registry service.
type Handler struct {
	service      Service
	logger       *slog.Logger
	maxBatchSize int
}

// New constructs a registry handler. maxBatchSize bounds batch lookups.
func New(service Service, logger *slog.Logger, maxBatchSize int) *Handler {
	return &Handler{
		service:      service,
		logger:       logger,
		maxBatchSize: maxBatchSize,
	}
}

// Register mounts the registry endpoints. requireCaller guards the write
// routes and must place the caller in the request context.
func (h *Handler) Register(r chi.Router, requireCaller func(http.Handler) http.Handler) {
	r.Get("/health", h.HandleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/owner", h.HandleOwner)
		r.Get("/stats", h.HandleStats)

		r.Get("/organizations/{address}", h.HandleOrganization)
		r.Get("/organizations/{address}/certificates", h.HandleOrganizationCertificates)
		r.Get("/recipients/{address}/certificates", h.HandleRecipientCertificates)

		r.Post("/certificates/batch", h.HandleBatch)
		r.Get("/certificates/{id}", h.HandleGetCertificate)
		r.Get("/certificates/{id}/verify", h.HandleVerify)

		r.Group(func(r chi.Router) {
			r.Use(requireCaller)
			r.Post("/organizations/{address}/approve", h.HandleApprove)
			r.Post("/organizations/{address}/revoke", h.HandleRevoke)
			r.Post("/certificates", h.HandleIssue)
		})
	})
}

// HandleHealth handles GET /health.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.service.Health(ctx); err != nil {
		h.logger.WarnContext(ctx, "health check failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unavailable", Error: "journal unreachable"})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// HandleOwner handles GET /v1/owner.
func (h *Handler) HandleOwner(w http.ResponseWriter, r *http.Request) {
	owner := h.service.Owner(r.Context())
	httputil.WriteJSON(w, http.StatusOK, OwnerResponse{Owner: owner.String(), OwnerChecksum: owner.Checksum()})
}

// HandleStats handles GET /v1/stats.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats := h.service.Stats(r.Context())
	httputil.WriteJSON(w, http.StatusOK, StatsResponse{
		Total:         stats.Total,
		Organizations: stats.Organizations,
		NextID:        stats.NextID.String(),
	})
}

// HandleOrganization handles GET /v1/organizations/{address}.
func (h *Handler) HandleOrganization(w http.ResponseWriter, r *http.Request) {
	org, ok := h.addressParam(w, r)
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toOrganizationResponse(h.service.Organization(r.Context(), org)))
}

// HandleApprove handles POST /v1/organizations/{address}/approve.
func (h *Handler) HandleApprove(w http.ResponseWriter, r *http.Request) {
	h.changeApproval(w, r, "approve", h.service.ApproveOrganization)
}

// HandleRevoke handles POST /v1/organizations/{address}/revoke.
func (h *Handler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	h.changeApproval(w, r, "revoke", h.service.RevokeOrganization)
}

func (h *Handler) changeApproval(w http.ResponseWriter, r *http.Request, action string,
	change func(ctx context.Context, caller, org id.Identity) error) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	caller := requestcontext.Caller(ctx)

	// Unparsable addresses are passed on as null so the administrator check
	// still decides first.
	raw := chi.URLParam(r, "address")
	org, parseErr := id.ParseIdentity(raw)

	if err := change(ctx, caller, org); err != nil {
		if parseErr != nil && dErrors.HasCode(err, dErrors.CodeInvalidIdentity) {
			err = parseErr
		}
		h.logger.WarnContext(ctx, "organization "+action+" failed",
			"request_id", requestID,
			"caller", caller,
			"organization", raw,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toOrganizationResponse(h.service.Organization(ctx, org)))
}

// HandleIssue handles POST /v1/certificates.
func (h *Handler) HandleIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	caller := requestcontext.Caller(ctx)

	req, ok := httputil.DecodeAndPrepare[IssueRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	cert, err := h.service.IssueCertificate(ctx, caller, req.parsedRecipient, req.Name, req.Course)
	if err != nil {
		if req.recipientErr != nil && dErrors.HasCode(err, dErrors.CodeInvalidInput) {
			err = req.recipientErr
		}
		h.logger.WarnContext(ctx, "certificate issuance failed",
			"request_id", requestID,
			"caller", caller,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "certificate issued",
		"request_id", requestID,
		"caller", caller,
		"certificate_id", cert.ID,
	)
	w.Header().Set("Location", "/v1/certificates/"+cert.ID.String())
	httputil.WriteJSON(w, http.StatusCreated, IssueResponse{ID: cert.ID.String()})
}

// HandleGetCertificate handles GET /v1/certificates/{id}.
func (h *Handler) HandleGetCertificate(w http.ResponseWriter, r *http.Request) {
	certID, err := id.ParseCertificateID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	cert, err := h.service.GetCertificate(r.Context(), certID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toCertificateResponse(cert))
}

// HandleVerify handles GET /v1/certificates/{id}/verify. It always answers
// 200; ids that do not parse verify as invalid.
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "id")
	certID, err := id.ParseCertificateID(raw)
	if err != nil {
		httputil.WriteJSON(w, http.StatusOK, VerifyResponse{ID: raw})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toVerifyResponse(raw, h.service.VerifyCertificate(r.Context(), certID)))
}

// HandleBatch handles POST /v1/certificates/batch.
func (h *Handler) HandleBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[BatchRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	if h.maxBatchSize > 0 && len(req.parsedIDs) > h.maxBatchSize {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput,
			"batch may contain at most "+strconv.Itoa(h.maxBatchSize)+" ids"))
		return
	}
	items := h.service.GetCertificatesBatch(ctx, req.parsedIDs)
	httputil.WriteJSON(w, http.StatusOK, toBatchResponse(req.rawIDs(), items))
}

// HandleRecipientCertificates handles GET /v1/recipients/{address}/certificates.
func (h *Handler) HandleRecipientCertificates(w http.ResponseWriter, r *http.Request) {
	h.listCertificates(w, r, h.service.GetRecipientCertificates, h.service.ListRecipientCertificates)
}

// HandleOrganizationCertificates handles GET /v1/organizations/{address}/certificates.
func (h *Handler) HandleOrganizationCertificates(w http.ResponseWriter, r *http.Request) {
	h.listCertificates(w, r, h.service.GetOrganizationCertificates, h.service.ListOrganizationCertificates)
}

// listCertificates answers with ids, or with ids and records for ?view=full.
// The full view derives both from one resolved snapshot.
func (h *Handler) listCertificates(w http.ResponseWriter, r *http.Request,
	listIDs func(ctx context.Context, address id.Identity) []id.CertificateID,
	listFull func(ctx context.Context, address id.Identity) []*certmodels.Certificate) {
	address, ok := h.addressParam(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	resp := CertificateListResponse{Address: address.String()}

	if r.URL.Query().Get("view") != "full" {
		resp.IDs = idStrings(listIDs(ctx, address))
		httputil.WriteJSON(w, http.StatusOK, resp)
		return
	}
	certs := listFull(ctx, address)
	resp.IDs = make([]string, len(certs))
	resp.Certificates = make([]CertificateResponse, len(certs))
	for i, cert := range certs {
		resp.IDs[i] = cert.ID.String()
		resp.Certificates[i] = toCertificateResponse(cert)
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) addressParam(w http.ResponseWriter, r *http.Request) (id.Identity, bool) {
	address, err := id.ParseIdentity(chi.URLParam(r, "address"))
	if err != nil {
		httputil.WriteError(w, err)
		return "", false
	}
	return address, true
}
