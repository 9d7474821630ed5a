package registry

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hmapp/backend/internal/apperr"
	"github.com/hmapp/backend/internal/models"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Store = (*Repository)(nil)

const technicianCols = `id, user_id, company_id, specialization, jobs_done, current_lat, current_lng,
	is_online, is_available, service_radius_km, status, location_updated_at`

func scanTechnician(row pgx.Row) (*models.Technician, error) {
	var t models.Technician
	var lat, lng *float64
	err := row.Scan(&t.ID, &t.UserID, &t.CompanyID, &t.Specialization, &t.JobsDone, &lat, &lng,
		&t.IsOnline, &t.IsAvailable, &t.ServiceRadiusKm, &t.Status, &t.LocationUpdated)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("technician not found")
	}
	if err != nil {
		return nil, err
	}
	if lat != nil && lng != nil {
		t.CurrentLocation = &models.Point{Lat: *lat, Lng: *lng}
	}
	return &t, nil
}

func (r *Repository) GetTechnician(ctx context.Context, id uuid.UUID) (*models.Technician, error) {
	return scanTechnician(r.pool.QueryRow(ctx, `SELECT `+technicianCols+` FROM technicians WHERE id = $1`, id))
}

func (r *Repository) GetTechnicianByUser(ctx context.Context, userID uuid.UUID) (*models.Technician, error) {
	return scanTechnician(r.pool.QueryRow(ctx, `SELECT `+technicianCols+` FROM technicians WHERE user_id = $1`, userID))
}

func (r *Repository) GetTechnicians(ctx context.Context, ids []uuid.UUID) ([]*models.Technician, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+technicianCols+` FROM technicians WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var techs []*models.Technician
	for rows.Next() {
		t, err := scanTechnician(rows)
		if err != nil {
			return nil, err
		}
		techs = append(techs, t)
	}
	return techs, rows.Err()
}

func (r *Repository) GetCustomer(ctx context.Context, id uuid.UUID) (*models.Customer, error) {
	return r.scanCustomer(r.pool.QueryRow(ctx, `
		SELECT id, user_id, total_jobs, completed_jobs, total_spent, is_blocked
		FROM customers WHERE id = $1`, id))
}

func (r *Repository) GetCustomerByUser(ctx context.Context, userID uuid.UUID) (*models.Customer, error) {
	return r.scanCustomer(r.pool.QueryRow(ctx, `
		SELECT id, user_id, total_jobs, completed_jobs, total_spent, is_blocked
		FROM customers WHERE user_id = $1`, userID))
}

func (r *Repository) scanCustomer(row pgx.Row) (*models.Customer, error) {
	var c models.Customer
	err := row.Scan(&c.ID, &c.UserID, &c.TotalJobs, &c.CompletedJobs, &c.TotalSpent, &c.IsBlocked)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("customer not found")
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

const companyCols = `id, owner_id, name, batch_size, commission_rate, total_technicians,
	active_technicians, total_revenue, status`

func scanCompany(row pgx.Row) (*models.Company, error) {
	var c models.Company
	err := row.Scan(&c.ID, &c.OwnerID, &c.Name, &c.BatchSize, &c.CommissionRate, &c.TotalTechnicians,
		&c.ActiveTechnicians, &c.TotalRevenue, &c.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("company not found")
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *Repository) GetCompany(ctx context.Context, id uuid.UUID) (*models.Company, error) {
	return scanCompany(r.pool.QueryRow(ctx, `SELECT `+companyCols+` FROM companies WHERE id = $1`, id))
}

func (r *Repository) GetCompanyByOwner(ctx context.Context, ownerUserID uuid.UUID) (*models.Company, error) {
	return scanCompany(r.pool.QueryRow(ctx, `SELECT `+companyCols+` FROM companies WHERE owner_id = $1`, ownerUserID))
}

func (r *Repository) HasVerifiedSkill(ctx context.Context, technicianID uuid.UUID, categoryID int) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM technician_skills
			WHERE technician_id = $1 AND category_id = $2 AND is_verified
		)`, technicianID, categoryID).Scan(&exists)
	return exists, err
}

func (r *Repository) CustomerUserID(ctx context.Context, customerID uuid.UUID) (uuid.UUID, error) {
	var userID uuid.UUID
	err := r.pool.QueryRow(ctx, `SELECT user_id FROM customers WHERE id = $1`, customerID).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, apperr.NotFound("customer not found")
	}
	return userID, err
}

func (r *Repository) TechnicianUserID(ctx context.Context, technicianID uuid.UUID) (uuid.UUID, error) {
	var userID uuid.UUID
	err := r.pool.QueryRow(ctx, `SELECT user_id FROM technicians WHERE id = $1`, technicianID).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, apperr.NotFound("technician not found")
	}
	return userID, err
}

func (r *Repository) SaveLocation(ctx context.Context, technicianID uuid.UUID, loc models.Point) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE technicians
		SET current_lat = $2, current_lng = $3, is_online = true, location_updated_at = now()
		WHERE id = $1
	`, technicianID, loc.Lat, loc.Lng)
	return err
}

func (r *Repository) SetPresence(ctx context.Context, technicianID uuid.UUID, online, available bool) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE technicians SET is_online = $2, is_available = $3 WHERE id = $1
	`, technicianID, online, available)
	return err
}

func (r *Repository) CompanyStats(ctx context.Context, companyID uuid.UUID) (*CompanyStats, error) {
	stats := &CompanyStats{CompanyID: companyID}
	err := r.pool.QueryRow(ctx, `
		SELECT
			(SELECT count(*) FROM technicians WHERE company_id = $1),
			(SELECT count(*) FROM technicians WHERE company_id = $1 AND status = 'active'),
			(SELECT count(*) FROM technicians WHERE company_id = $1 AND is_online),
			(SELECT coalesce(sum(jobs_completed), 0) FROM company_batches WHERE company_id = $1),
			(SELECT coalesce(sum(total_revenue), 0) FROM company_batches WHERE company_id = $1),
			(SELECT count(*) FROM company_batches WHERE company_id = $1 AND status = 'active'),
			(SELECT count(*) FROM company_batches WHERE company_id = $1 AND status = 'ready'),
			(SELECT coalesce(sum(company_share), 0) FROM company_batches WHERE company_id = $1 AND status IN ('active', 'ready'))
	`, companyID).Scan(&stats.TotalTechnicians, &stats.ActiveTechnicians, &stats.OnlineTechnicians,
		&stats.JobsCompleted, &stats.TotalRevenue, &stats.ActiveBatches, &stats.ReadyBatches, &stats.PendingShare)
	if err != nil {
		return nil, err
	}
	return stats, nil
}
