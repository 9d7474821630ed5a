// Package registry is the directory of marketplace parties: customers,
// companies, and technicians. It owns technician presence (location,
// online/available flags) and the nearby-technician lookup other services
// and clients build on.
package registry

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hmapp/backend/internal/apperr"
	"github.com/hmapp/backend/internal/geo"
	"github.com/hmapp/backend/internal/models"
)

// Store is the party storage interface.
type Store interface {
	GetTechnician(ctx context.Context, id uuid.UUID) (*models.Technician, error)
	GetTechnicianByUser(ctx context.Context, userID uuid.UUID) (*models.Technician, error)
	GetTechnicians(ctx context.Context, ids []uuid.UUID) ([]*models.Technician, error)
	GetCustomer(ctx context.Context, id uuid.UUID) (*models.Customer, error)
	GetCustomerByUser(ctx context.Context, userID uuid.UUID) (*models.Customer, error)
	GetCompany(ctx context.Context, id uuid.UUID) (*models.Company, error)
	GetCompanyByOwner(ctx context.Context, ownerUserID uuid.UUID) (*models.Company, error)
	HasVerifiedSkill(ctx context.Context, technicianID uuid.UUID, categoryID int) (bool, error)
	CustomerUserID(ctx context.Context, customerID uuid.UUID) (uuid.UUID, error)
	TechnicianUserID(ctx context.Context, technicianID uuid.UUID) (uuid.UUID, error)
	SaveLocation(ctx context.Context, technicianID uuid.UUID, loc models.Point) error
	SetPresence(ctx context.Context, technicianID uuid.UUID, online, available bool) error
	CompanyStats(ctx context.Context, companyID uuid.UUID) (*CompanyStats, error)
}

type Service struct {
	store Store
	index geo.Index
	log   *slog.Logger
}

func NewService(store Store, index geo.Index, log *slog.Logger) *Service {
	return &Service{store: store, index: index, log: log}
}

// ---
// Directory lookups. These back the narrow interfaces the jobs, offers,
// payments, and batch services declare.

func (s *Service) GetTechnician(ctx context.Context, id uuid.UUID) (*models.Technician, error) {
	return s.store.GetTechnician(ctx, id)
}

func (s *Service) GetTechnicianByUser(ctx context.Context, userID uuid.UUID) (*models.Technician, error) {
	return s.store.GetTechnicianByUser(ctx, userID)
}

func (s *Service) GetCustomerByUser(ctx context.Context, userID uuid.UUID) (*models.Customer, error) {
	return s.store.GetCustomerByUser(ctx, userID)
}

func (s *Service) GetCompany(ctx context.Context, id uuid.UUID) (*models.Company, error) {
	return s.store.GetCompany(ctx, id)
}

func (s *Service) GetCompanyByOwner(ctx context.Context, ownerUserID uuid.UUID) (*models.Company, error) {
	return s.store.GetCompanyByOwner(ctx, ownerUserID)
}

func (s *Service) HasVerifiedSkill(ctx context.Context, technicianID uuid.UUID, categoryID int) (bool, error) {
	return s.store.HasVerifiedSkill(ctx, technicianID, categoryID)
}

func (s *Service) CustomerUserID(ctx context.Context, customerID uuid.UUID) (uuid.UUID, error) {
	return s.store.CustomerUserID(ctx, customerID)
}

func (s *Service) TechnicianUserID(ctx context.Context, technicianID uuid.UUID) (uuid.UUID, error) {
	return s.store.TechnicianUserID(ctx, technicianID)
}

// ---
// Presence.

// UpdateLocation persists the technician's position and mirrors it into the
// spatial index. The database row is the system of record; an index write
// failure is logged, not fatal, since the next update self-heals it.
func (s *Service) UpdateLocation(ctx context.Context, technicianID uuid.UUID, loc models.Point) error {
	if loc.Lat < -90 || loc.Lat > 90 || loc.Lng < -180 || loc.Lng > 180 {
		return apperr.Validation("coordinates out of range")
	}
	t, err := s.store.GetTechnician(ctx, technicianID)
	if err != nil {
		return err
	}
	if t.Status != models.TechStatusActive {
		return apperr.Unauthorized("technician is not active")
	}
	if err := s.store.SaveLocation(ctx, technicianID, loc); err != nil {
		return err
	}
	if err := s.index.Upsert(ctx, technicianID.String(), loc); err != nil {
		s.log.Warn("spatial index upsert failed", "technician_id", technicianID, "error", err)
	}
	return nil
}

// SetPresence flips the online/available flags. Going offline removes the
// technician from the spatial index so nearby lookups stop returning them.
func (s *Service) SetPresence(ctx context.Context, technicianID uuid.UUID, online, available bool) error {
	if err := s.store.SetPresence(ctx, technicianID, online, available); err != nil {
		return err
	}
	if !online {
		if err := s.index.Remove(ctx, technicianID.String()); err != nil {
			s.log.Warn("spatial index remove failed", "technician_id", technicianID, "error", err)
		}
	}
	return nil
}

// NearbyTechnician is one find-nearby result.
type NearbyTechnician struct {
	Technician *models.Technician `json:"technician"`
	DistanceKm float64            `json:"distance_km"`
}

// FindNearby returns active, available technicians around loc, nearest
// first. When categoryID is nonzero only technicians with a verified skill
// in that category are returned. A technician whose own service radius is
// smaller than their distance from loc is filtered out.
func (s *Service) FindNearby(ctx context.Context, loc models.Point, radiusKm float64, categoryID, limit int) ([]NearbyTechnician, error) {
	if radiusKm <= 0 || radiusKm > 100 {
		radiusKm = 10
	}
	if limit <= 0 || limit > 50 {
		limit = 20
	}

	// Over-fetch from the index: eligibility filters below thin the set.
	members, err := s.index.Nearby(ctx, loc, radiusKm, limit*3)
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return []NearbyTechnician{}, nil
	}

	ids := make([]uuid.UUID, 0, len(members))
	distance := make(map[uuid.UUID]float64, len(members))
	for _, m := range members {
		id, err := uuid.Parse(m.ID)
		if err != nil {
			continue
		}
		ids = append(ids, id)
		distance[id] = m.DistanceKm
	}

	techs, err := s.store.GetTechnicians(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]*models.Technician, len(techs))
	for _, t := range techs {
		byID[t.ID] = t
	}

	out := make([]NearbyTechnician, 0, limit)
	for _, id := range ids {
		t, found := byID[id]
		if !found {
			continue
		}
		d := distance[id]
		if t.Status != models.TechStatusActive || !t.IsOnline || !t.IsAvailable {
			continue
		}
		if t.ServiceRadiusKm > 0 && d > t.ServiceRadiusKm {
			continue
		}
		if categoryID != 0 {
			skilled, err := s.store.HasVerifiedSkill(ctx, id, categoryID)
			if err != nil {
				return nil, err
			}
			if !skilled {
				continue
			}
		}
		out = append(out, NearbyTechnician{Technician: t, DistanceKm: d})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// ---
// Company stats.

// CompanyStats is the company dashboard projection.
type CompanyStats struct {
	CompanyID         uuid.UUID       `json:"company_id"`
	TotalTechnicians  int             `json:"total_technicians"`
	ActiveTechnicians int             `json:"active_technicians"`
	OnlineTechnicians int             `json:"online_technicians"`
	JobsCompleted     int             `json:"jobs_completed"`
	TotalRevenue      decimal.Decimal `json:"total_revenue"`
	ActiveBatches     int             `json:"active_batches"`
	ReadyBatches      int             `json:"ready_batches"`
	PendingShare      decimal.Decimal `json:"pending_share"`
}

// Stats returns the dashboard projection; only the company owner may read it.
func (s *Service) Stats(ctx context.Context, companyID, actorUserID uuid.UUID) (*CompanyStats, error) {
	company, err := s.store.GetCompany(ctx, companyID)
	if err != nil {
		return nil, err
	}
	if company.OwnerID != actorUserID {
		return nil, apperr.Unauthorized("only the company owner can view stats")
	}
	return s.store.CompanyStats(ctx, companyID)
}
