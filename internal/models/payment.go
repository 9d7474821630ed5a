package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentLink status enum.
const (
	PaymentStatusPending   = "pending"
	PaymentStatusPaid      = "paid"
	PaymentStatusExpired   = "expired"
	PaymentStatusCancelled = "cancelled"
	PaymentStatusFailed    = "failed"
	PaymentStatusRefunded  = "refunded"
)

// PaymentLink is a tokenized, time-boxed payable request, one-to-one with a
// job. The token is the sole credential the gateway echoes back in the
// webhook; it is never derivable from job data and never reused.
type PaymentLink struct {
	ID               uuid.UUID       `json:"id"`
	JobID            uuid.UUID       `json:"job_id"`
	CustomerID       uuid.UUID       `json:"customer_id"`
	TechnicianID     uuid.UUID       `json:"technician_id"`
	Subtotal         decimal.Decimal `json:"subtotal"`
	RewardDiscount   decimal.Decimal `json:"reward_discount"`
	PlatformFee      decimal.Decimal `json:"platform_fee"`
	VAT              decimal.Decimal `json:"vat"`
	Total            decimal.Decimal `json:"total"`
	PaymentURL       string          `json:"payment_url"`
	Token            string          `json:"token"`
	Status           string          `json:"status"`
	PaymentMethod    *string         `json:"payment_method,omitempty"`
	GatewayReference *string         `json:"gateway_reference,omitempty"`
	GatewayResponse  json.RawMessage `json:"gateway_response,omitempty"`
	ExpiresAt        time.Time       `json:"expires_at"`
	PaidAt           *time.Time      `json:"paid_at,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}
