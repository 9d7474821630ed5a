package offers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hmapp/backend/internal/api"
	"github.com/hmapp/backend/internal/apperr"
	"github.com/hmapp/backend/internal/middleware"
	"github.com/hmapp/backend/internal/models"
)

// PartyResolver maps the authenticated user to its party row.
type PartyResolver interface {
	GetCustomerByUser(ctx context.Context, userID uuid.UUID) (*models.Customer, error)
	GetTechnicianByUser(ctx context.Context, userID uuid.UUID) (*models.Technician, error)
}

type Handler struct {
	svc     *Service
	parties PartyResolver
	log     *slog.Logger
}

func NewHandler(svc *Service, parties PartyResolver, log *slog.Logger) *Handler {
	return &Handler{svc: svc, parties: parties, log: log}
}

type submitOfferRequest struct {
	Amount          decimal.Decimal `json:"amount"`
	Message         *string         `json:"message,omitempty"`
	DurationMinutes *int            `json:"duration_minutes,omitempty"`
}

// Submit handles POST /api/v1/jobs/{id}/offers.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		api.FailCode(w, apperr.CodeValidation, "invalid job id")
		return
	}
	p := middleware.PrincipalFromCtx(r.Context())
	tech, err := h.parties.GetTechnicianByUser(r.Context(), p.UserID)
	if err != nil {
		api.Fail(w, err, h.log)
		return
	}
	var req submitOfferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.FailCode(w, apperr.CodeValidation, "invalid JSON")
		return
	}
	offer, err := h.svc.Submit(r.Context(), jobID, tech.ID, req.Amount, req.Message, req.DurationMinutes)
	if err != nil {
		api.Fail(w, err, h.log)
		return
	}
	api.Created(w, offer)
}

// ListForJob handles GET /api/v1/jobs/{id}/offers.
func (h *Handler) ListForJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		api.FailCode(w, apperr.CodeValidation, "invalid job id")
		return
	}
	list, err := h.svc.ListByJob(r.Context(), jobID)
	if err != nil {
		api.Fail(w, err, h.log)
		return
	}
	api.OK(w, list)
}

// Accept handles POST /api/v1/offers/{id}/accept.
func (h *Handler) Accept(w http.ResponseWriter, r *http.Request) {
	offerID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		api.FailCode(w, apperr.CodeValidation, "invalid offer id")
		return
	}
	p := middleware.PrincipalFromCtx(r.Context())
	customer, err := h.parties.GetCustomerByUser(r.Context(), p.UserID)
	if err != nil {
		api.Fail(w, err, h.log)
		return
	}
	res, err := h.svc.Accept(r.Context(), offerID, customer.ID)
	if err != nil {
		api.Fail(w, err, h.log)
		return
	}
	api.OK(w, res)
}

// Reject handles POST /api/v1/offers/{id}/reject.
func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	offerID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		api.FailCode(w, apperr.CodeValidation, "invalid offer id")
		return
	}
	p := middleware.PrincipalFromCtx(r.Context())
	customer, err := h.parties.GetCustomerByUser(r.Context(), p.UserID)
	if err != nil {
		api.Fail(w, err, h.log)
		return
	}
	if err := h.svc.Reject(r.Context(), offerID, customer.ID); err != nil {
		api.Fail(w, err, h.log)
		return
	}
	api.OK(w, map[string]string{"status": models.OfferStatusRejected})
}

// Withdraw handles POST /api/v1/offers/{id}/withdraw.
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	offerID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		api.FailCode(w, apperr.CodeValidation, "invalid offer id")
		return
	}
	p := middleware.PrincipalFromCtx(r.Context())
	tech, err := h.parties.GetTechnicianByUser(r.Context(), p.UserID)
	if err != nil {
		api.Fail(w, err, h.log)
		return
	}
	if err := h.svc.Withdraw(r.Context(), offerID, tech.ID); err != nil {
		api.Fail(w, err, h.log)
		return
	}
	api.OK(w, map[string]string{"status": models.OfferStatusWithdrawn})
}
