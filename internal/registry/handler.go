package registry

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/hmapp/backend/internal/api"
	"github.com/hmapp/backend/internal/apperr"
	"github.com/hmapp/backend/internal/middleware"
	"github.com/hmapp/backend/internal/models"
)

type Handler struct {
	svc *Service
	log *slog.Logger
}

func NewHandler(svc *Service, log *slog.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}

type updateLocationRequest struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// UpdateLocation handles POST /api/v1/technicians/location for the calling
// technician.
func (h *Handler) UpdateLocation(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromCtx(r.Context())
	tech, err := h.svc.GetTechnicianByUser(r.Context(), p.UserID)
	if err != nil {
		api.Fail(w, err, h.log)
		return
	}
	var req updateLocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.FailCode(w, apperr.CodeValidation, "invalid JSON")
		return
	}
	if err := h.svc.UpdateLocation(r.Context(), tech.ID, models.Point{Lat: req.Lat, Lng: req.Lng}); err != nil {
		api.Fail(w, err, h.log)
		return
	}
	api.OK(w, map[string]string{"message": "location updated"})
}

type presenceRequest struct {
	Online    bool `json:"online"`
	Available bool `json:"available"`
}

// SetPresence handles POST /api/v1/technicians/presence.
func (h *Handler) SetPresence(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromCtx(r.Context())
	tech, err := h.svc.GetTechnicianByUser(r.Context(), p.UserID)
	if err != nil {
		api.Fail(w, err, h.log)
		return
	}
	var req presenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.FailCode(w, apperr.CodeValidation, "invalid JSON")
		return
	}
	if err := h.svc.SetPresence(r.Context(), tech.ID, req.Online, req.Available); err != nil {
		api.Fail(w, err, h.log)
		return
	}
	api.OK(w, map[string]string{"message": "presence updated"})
}

// FindNearby handles GET /api/v1/technicians/nearby?lat=&lng=&radius_km=&category_id=&limit=.
func (h *Handler) FindNearby(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
	lng, errLng := strconv.ParseFloat(q.Get("lng"), 64)
	if errLat != nil || errLng != nil {
		api.FailCode(w, apperr.CodeValidation, "lat and lng are required")
		return
	}
	radiusKm, _ := strconv.ParseFloat(q.Get("radius_km"), 64)
	categoryID, _ := strconv.Atoi(q.Get("category_id"))
	limit, _ := strconv.Atoi(q.Get("limit"))

	list, err := h.svc.FindNearby(r.Context(), models.Point{Lat: lat, Lng: lng}, radiusKm, categoryID, limit)
	if err != nil {
		api.Fail(w, err, h.log)
		return
	}
	api.OK(w, list)
}

// Stats handles GET /api/v1/company/stats for the calling company owner.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromCtx(r.Context())
	company, err := h.svc.GetCompanyByOwner(r.Context(), p.UserID)
	if err != nil {
		api.Fail(w, err, h.log)
		return
	}
	stats, err := h.svc.Stats(r.Context(), company.ID, p.UserID)
	if err != nil {
		api.Fail(w, err, h.log)
		return
	}
	api.OK(w, stats)
}
