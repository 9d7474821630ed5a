package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/hmapp/backend/internal/api"
	"github.com/hmapp/backend/internal/apperr"
	"github.com/hmapp/backend/internal/models"
)

type RegisterRequest struct {
	Email       string  `json:"email"`
	Password    string  `json:"password"`
	FullName    string  `json:"full_name"`
	Phone       *string `json:"phone,omitempty"`
	Role        string  `json:"role"`
	CompanyName string  `json:"company_name,omitempty"`
	CompanyID   string  `json:"company_id,omitempty"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

type Handler struct {
	svc Service
	log *slog.Logger
}

func NewHandler(svc Service, log *slog.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.FailCode(w, apperr.CodeValidation, "invalid JSON")
		return
	}
	p := RegisterParams{
		Email:       req.Email,
		Password:    req.Password,
		FullName:    req.FullName,
		Phone:       req.Phone,
		Role:        req.Role,
		CompanyName: req.CompanyName,
	}
	if req.CompanyID != "" {
		id, err := uuid.Parse(req.CompanyID)
		if err != nil {
			api.FailCode(w, apperr.CodeValidation, "invalid company id")
			return
		}
		p.CompanyID = id
	}
	u, err := h.svc.Register(r.Context(), p)
	if err != nil {
		api.Fail(w, err, h.log)
		return
	}
	api.Created(w, u)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.FailCode(w, apperr.CodeValidation, "invalid JSON")
		return
	}
	if req.Email == "" || req.Password == "" {
		api.FailCode(w, apperr.CodeValidation, "missing email or password")
		return
	}
	token, u, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		api.Fail(w, err, h.log)
		return
	}
	api.OK(w, LoginResponse{Token: token, User: u})
}
