package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/hmapp/backend/internal/api"
	"github.com/hmapp/backend/internal/apperr"
	"github.com/hmapp/backend/internal/middleware"
	"github.com/hmapp/backend/internal/models"
)

// PartyResolver maps the authenticated user to its party row.
type PartyResolver interface {
	GetCustomerByUser(ctx context.Context, userID uuid.UUID) (*models.Customer, error)
	GetTechnicianByUser(ctx context.Context, userID uuid.UUID) (*models.Technician, error)
	GetCompanyByOwner(ctx context.Context, ownerUserID uuid.UUID) (*models.Company, error)
}

type Handler struct {
	svc     *Service
	parties PartyResolver
	log     *slog.Logger
}

func NewHandler(svc *Service, parties PartyResolver, log *slog.Logger) *Handler {
	return &Handler{svc: svc, parties: parties, log: log}
}

type createJobRequest struct {
	CategoryID  int          `json:"category_id"`
	Title       string       `json:"title"`
	Description *string      `json:"description,omitempty"`
	Location    models.Point `json:"location"`
	AutoPublish bool         `json:"auto_publish"`
}

// Create handles POST /api/v1/jobs.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	customer, ok := h.customer(w, r)
	if !ok {
		return
	}
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.FailCode(w, apperr.CodeValidation, "invalid JSON")
		return
	}
	job, err := h.svc.Create(r.Context(), customer.ID, req.CategoryID, req.Title, req.Description, req.Location, req.AutoPublish)
	if err != nil {
		api.Fail(w, err, h.log)
		return
	}
	api.Created(w, job)
}

// Get handles GET /api/v1/jobs/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathID(w, r)
	if !ok {
		return
	}
	job, err := h.svc.GetJob(r.Context(), jobID)
	if err != nil {
		api.Fail(w, err, h.log)
		return
	}
	api.OK(w, job)
}

// List handles GET /api/v1/jobs for the calling customer.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	customer, ok := h.customer(w, r)
	if !ok {
		return
	}
	list, err := h.svc.ListByCustomer(r.Context(), customer.ID)
	if err != nil {
		api.Fail(w, err, h.log)
		return
	}
	api.OK(w, list)
}

// Publish handles POST /api/v1/jobs/{id}/publish.
func (h *Handler) Publish(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathID(w, r)
	if !ok {
		return
	}
	customer, ok := h.customer(w, r)
	if !ok {
		return
	}
	if err := h.svc.Publish(r.Context(), jobID, customer.ID); err != nil {
		api.Fail(w, err, h.log)
		return
	}
	job, err := h.svc.GetJob(r.Context(), jobID)
	if err != nil {
		api.Fail(w, err, h.log)
		return
	}
	api.OK(w, job)
}

// Start handles POST /api/v1/jobs/{id}/start.
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathID(w, r)
	if !ok {
		return
	}
	p := middleware.PrincipalFromCtx(r.Context())
	tech, err := h.parties.GetTechnicianByUser(r.Context(), p.UserID)
	if err != nil {
		api.Fail(w, err, h.log)
		return
	}
	if err := h.svc.Start(r.Context(), jobID, tech.ID); err != nil {
		api.Fail(w, err, h.log)
		return
	}
	api.OK(w, map[string]string{"status": models.JobStatusInProgress})
}

// Complete handles POST /api/v1/jobs/{id}/complete.
func (h *Handler) Complete(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathID(w, r)
	if !ok {
		return
	}
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	if err := h.svc.Complete(r.Context(), jobID, actor); err != nil {
		api.Fail(w, err, h.log)
		return
	}
	api.OK(w, map[string]string{"status": models.JobStatusCompleted})
}

type cancelJobRequest struct {
	Reason *string `json:"reason,omitempty"`
}

// Cancel handles POST /api/v1/jobs/{id}/cancel.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathID(w, r)
	if !ok {
		return
	}
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req cancelJobRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if err := h.svc.Cancel(r.Context(), jobID, actor, req.Reason); err != nil {
		api.Fail(w, err, h.log)
		return
	}
	api.OK(w, map[string]string{"status": models.JobStatusCancelled})
}

func (h *Handler) customer(w http.ResponseWriter, r *http.Request) (*models.Customer, bool) {
	p := middleware.PrincipalFromCtx(r.Context())
	if p == nil {
		api.FailCode(w, apperr.CodeUnauthorized, "not authenticated")
		return nil, false
	}
	customer, err := h.parties.GetCustomerByUser(r.Context(), p.UserID)
	if err != nil {
		api.Fail(w, err, h.log)
		return nil, false
	}
	return customer, true
}

// actor resolves the principal into the party id the lifecycle authorizes on.
func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (Actor, bool) {
	p := middleware.PrincipalFromCtx(r.Context())
	if p == nil {
		api.FailCode(w, apperr.CodeUnauthorized, "not authenticated")
		return Actor{}, false
	}
	switch p.Role {
	case models.RoleCustomer:
		c, err := h.parties.GetCustomerByUser(r.Context(), p.UserID)
		if err != nil {
			api.Fail(w, err, h.log)
			return Actor{}, false
		}
		return Actor{ID: c.ID, Role: p.Role}, true
	case models.RoleTechnician:
		t, err := h.parties.GetTechnicianByUser(r.Context(), p.UserID)
		if err != nil {
			api.Fail(w, err, h.log)
			return Actor{}, false
		}
		return Actor{ID: t.ID, Role: p.Role}, true
	case models.RoleCompanyOwner:
		c, err := h.parties.GetCompanyByOwner(r.Context(), p.UserID)
		if err != nil {
			api.Fail(w, err, h.log)
			return Actor{}, false
		}
		return Actor{ID: c.ID, Role: p.Role}, true
	case models.RoleAdmin:
		return Actor{ID: p.UserID, Role: p.Role}, true
	}
	api.FailCode(w, apperr.CodeUnauthorized, "unknown role")
	return Actor{}, false
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		api.FailCode(w, apperr.CodeValidation, "invalid id")
		return uuid.Nil, false
	}
	return id, true
}
