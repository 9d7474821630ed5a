package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Job status enum. Transitions are owned by the jobs service; see
// jobs.ValidTransition.
const (
	JobStatusDraft           = "draft"
	JobStatusWaitingOffers   = "waiting_for_offers"
	JobStatusOffersExpired   = "offers_expired"
	JobStatusAssigned        = "assigned"
	JobStatusPaymentPending  = "payment_pending"
	JobStatusPaymentExpired  = "payment_expired"
	JobStatusInProgress      = "in_progress"
	JobStatusCompleted       = "completed"
	JobStatusCancelled       = "cancelled"
	JobStatusDisputed        = "disputed"
)

// Point is a geographic coordinate pair.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type Job struct {
	ID                   uuid.UUID        `json:"id"`
	JobNumber            string           `json:"job_number"`
	CustomerID           uuid.UUID        `json:"customer_id"`
	TechnicianID         *uuid.UUID       `json:"technician_id,omitempty"`
	CompanyID            *uuid.UUID       `json:"company_id,omitempty"`
	CategoryID           int              `json:"category_id"`
	Title                string           `json:"title"`
	Description          *string          `json:"description,omitempty"`
	Status               string           `json:"status"`
	Location             Point            `json:"job_location"`
	OfferWindowExpiresAt *time.Time       `json:"offer_window_expires_at,omitempty"`
	PaymentExpiresAt     *time.Time       `json:"payment_expires_at,omitempty"`
	FinalPrice           *decimal.Decimal `json:"final_price,omitempty"`
	RewardDiscount       decimal.Decimal  `json:"reward_discount"`
	AmountToPay          *decimal.Decimal `json:"amount_to_pay,omitempty"`
	AmountPaid           *decimal.Decimal `json:"amount_paid,omitempty"`
	OffersCount          int              `json:"offers_count"`
	CancelledBy          *uuid.UUID       `json:"cancelled_by,omitempty"`
	CancellationReason   *string          `json:"cancellation_reason,omitempty"`
	StartedAt            *time.Time       `json:"started_at,omitempty"`
	CompletedAt          *time.Time       `json:"completed_at,omitempty"`
	CreatedAt            time.Time        `json:"created_at"`
	UpdatedAt            time.Time        `json:"updated_at"`
}

// Terminal reports whether the job can never transition again.
func (j *Job) Terminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusCancelled
}
