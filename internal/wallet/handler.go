package wallet

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

// Reader is the read-only wallet surface the handler serves.
type Reader interface {
	GetByOwner(ctx context.Context, ownerType string, ownerID uuid.UUID) (*models.Wallet, error)
	ListTransactions(ctx context.Context, walletID uuid.UUID, limit int) ([]*models.WalletTransaction, error)
}

// PartyResolver maps the authenticated user to its party row.
type PartyResolver interface {
	GetCustomerByUser(ctx context.Context, userID uuid.UUID) (*models.Customer, error)
	GetTechnicianByUser(ctx context.Context, userID uuid.UUID) (*models.Technician, error)
	GetCompanyByOwner(ctx context.Context, ownerUserID uuid.UUID) (*models.Company, error)
}

type Handler struct {
	reader  Reader
	parties PartyResolver
	log     *slog.Logger
}

func NewHandler(reader Reader, parties PartyResolver, log *slog.Logger) *Handler {
	return &Handler{reader: reader, parties: parties, log: log}
}

type walletResponse struct {
	Wallet       *models.Wallet              `json:"wallet"`
	Transactions []*models.WalletTransaction `json:"transactions"`
}

// Get handles GET /api/v1/wallet: the caller's own wallet and its recent
// ledger entries.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	ownerType, ownerID, ok := h.owner(w, r)
	if !ok {
		return
	}
	wallet, err := h.reader.GetByOwner(r.Context(), ownerType, ownerID)
	if err != nil {
		api.Fail(w, err, h.log)
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	entries, err := h.reader.ListTransactions(r.Context(), wallet.ID, limit)
	if err != nil {
		api.Fail(w, err, h.log)
		return
	}
	api.OK(w, walletResponse{Wallet: wallet, Transactions: entries})
}

func (h *Handler) owner(w http.ResponseWriter, r *http.Request) (string, uuid.UUID, bool) {
	p := middleware.PrincipalFromCtx(r.Context())
	if p == nil {
		api.FailCode(w, apperr.CodeUnauthorized, "not authenticated")
		return "", uuid.Nil, false
	}
	switch p.Role {
	case models.RoleCustomer:
		c, err := h.parties.GetCustomerByUser(r.Context(), p.UserID)
		if err != nil {
			api.Fail(w, err, h.log)
			return "", uuid.Nil, false
		}
		return models.WalletOwnerCustomer, c.ID, true
	case models.RoleTechnician:
		t, err := h.parties.GetTechnicianByUser(r.Context(), p.UserID)
		if err != nil {
			api.Fail(w, err, h.log)
			return "", uuid.Nil, false
		}
		return models.WalletOwnerTechnician, t.ID, true
	case models.RoleCompanyOwner:
		c, err := h.parties.GetCompanyByOwner(r.Context(), p.UserID)
		if err != nil {
			api.Fail(w, err, h.log)
			return "", uuid.Nil, false
		}
		return models.WalletOwnerCompany, c.ID, true
	}
	api.FailCode(w, apperr.CodeUnauthorized, "role has no wallet")
	return "", uuid.Nil, false
}
