package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CompanyBatch status enum.
const (
	BatchStatusActive     = "active"
	BatchStatusReady      = "ready"
	BatchStatusProcessing = "processing"
	BatchStatusCompleted  = "completed"
)

// CompanyBatch groups a technician's completed jobs into a withdrawable
// settlement unit for the parent company. Batches per technician are
// sequential and non-overlapping: completing one opens the next.
type CompanyBatch struct {
	ID                  uuid.UUID       `json:"id"`
	BatchNumber         string          `json:"batch_number"`
	CompanyID           uuid.UUID       `json:"company_id"`
	TechnicianID        uuid.UUID       `json:"technician_id"`
	JobsCompleted       int             `json:"jobs_completed"`
	TargetJobs          int             `json:"target_jobs"`
	Status              string          `json:"status"`
	TotalRevenue        decimal.Decimal `json:"total_revenue"`
	CompanyShare        decimal.Decimal `json:"company_share"`
	CanWithdraw         bool            `json:"can_withdraw"`
	WithdrawnAt         *time.Time      `json:"withdrawn_at,omitempty"`
	WithdrawalReference *string         `json:"withdrawal_reference,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}
