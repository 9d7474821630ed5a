package batch

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/hmapp/backend/internal/api"
	"github.com/hmapp/backend/internal/apperr"
	"github.com/hmapp/backend/internal/middleware"
	"github.com/hmapp/backend/internal/models"
)

// CompanyResolver maps the authenticated owner to their company.
type CompanyResolver interface {
	GetCompanyByOwner(ctx context.Context, ownerUserID uuid.UUID) (*models.Company, error)
}

type Handler struct {
	svc       *Service
	companies CompanyResolver
	log       *slog.Logger
}

func NewHandler(svc *Service, companies CompanyResolver, log *slog.Logger) *Handler {
	return &Handler{svc: svc, companies: companies, log: log}
}

// List handles GET /api/v1/batches for the calling company owner.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromCtx(r.Context())
	if p == nil {
		api.FailCode(w, apperr.CodeUnauthorized, "not authenticated")
		return
	}
	company, err := h.companies.GetCompanyByOwner(r.Context(), p.UserID)
	if err != nil {
		api.Fail(w, err, h.log)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	list, err := h.svc.ListByCompany(r.Context(), company.ID, limit)
	if err != nil {
		api.Fail(w, err, h.log)
		return
	}
	api.OK(w, list)
}

// Withdraw handles POST /api/v1/batches/{id}/withdraw.
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	batchID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		api.FailCode(w, apperr.CodeValidation, "invalid batch id")
		return
	}
	p := middleware.PrincipalFromCtx(r.Context())
	if p == nil {
		api.FailCode(w, apperr.CodeUnauthorized, "not authenticated")
		return
	}
	b, err := h.svc.Withdraw(r.Context(), batchID, p.UserID)
	if err != nil {
		api.Fail(w, err, h.log)
		return
	}
	api.OK(w, b)
}
