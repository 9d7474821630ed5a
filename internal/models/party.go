package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// User roles.
const (
	RoleCustomer     = "customer"
	RoleTechnician   = "technician"
	RoleCompanyOwner = "company_owner"
	RoleAdmin        = "admin"
)

// Technician status enum.
const (
	TechStatusPendingApproval = "pending_approval"
	TechStatusActive          = "active"
	TechStatusSuspended       = "suspended"
	TechStatusInactive        = "inactive"
	TechStatusBanned          = "banned"
)

// Company status enum.
const (
	CompanyStatusPendingVerification = "pending_verification"
	CompanyStatusActive              = "active"
	CompanyStatusSuspended           = "suspended"
	CompanyStatusInactive            = "inactive"
)

type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	FullName     string    `json:"full_name"`
	Phone        *string   `json:"phone,omitempty"`
	Role         string    `json:"role"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type Customer struct {
	ID            uuid.UUID       `json:"id"`
	UserID        uuid.UUID       `json:"user_id"`
	TotalJobs     int             `json:"total_jobs"`
	CompletedJobs int             `json:"completed_jobs"`
	TotalSpent    decimal.Decimal `json:"total_spent"`
	IsBlocked     bool            `json:"is_blocked"`
}

type Company struct {
	ID                uuid.UUID       `json:"id"`
	OwnerID           uuid.UUID       `json:"owner_id"`
	Name              string          `json:"name"`
	BatchSize         int             `json:"batch_size"`
	CommissionRate    decimal.Decimal `json:"commission_rate"`
	TotalTechnicians  int             `json:"total_technicians"`
	ActiveTechnicians int             `json:"active_technicians"`
	TotalRevenue      decimal.Decimal `json:"total_revenue"`
	Status            string          `json:"status"`
}

// Technician belongs to exactly one company.
type Technician struct {
	ID              uuid.UUID  `json:"id"`
	UserID          uuid.UUID  `json:"user_id"`
	CompanyID       uuid.UUID  `json:"company_id"`
	Specialization  *string    `json:"specialization,omitempty"`
	JobsDone        int        `json:"jobs_done"`
	CurrentLocation *Point     `json:"current_location,omitempty"`
	IsOnline        bool       `json:"is_online"`
	IsAvailable     bool       `json:"is_available"`
	ServiceRadiusKm float64    `json:"service_radius_km"`
	Status          string     `json:"status"`
	LocationUpdated *time.Time `json:"location_updated_at,omitempty"`
}
