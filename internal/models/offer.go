package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Offer status enum.
const (
	OfferStatusPending   = "pending"
	OfferStatusAccepted  = "accepted"
	OfferStatusRejected  = "rejected"
	OfferStatusExpired   = "expired"
	OfferStatusWithdrawn = "withdrawn"
)

// Offer is a technician's priced bid on a job. At most one offer per
// (job, technician) is non-terminal at a time, and exactly one offer per job
// may ever reach accepted. Offers are retained permanently for audit.
type Offer struct {
	ID                       uuid.UUID       `json:"id"`
	JobID                    uuid.UUID       `json:"job_id"`
	TechnicianID             uuid.UUID       `json:"technician_id"`
	Amount                   decimal.Decimal `json:"amount"`
	Status                   string          `json:"status"`
	Message                  *string         `json:"message,omitempty"`
	EstimatedDurationMinutes *int            `json:"estimated_duration_minutes,omitempty"`
	ExpiresAt                time.Time       `json:"expires_at"`
	CreatedAt                time.Time       `json:"created_at"`
}

// OfferTerminal reports whether status is one the offer can never leave.
func OfferTerminal(status string) bool {
	return status != OfferStatusPending
}
