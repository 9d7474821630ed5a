package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Wallet owner types.
const (
	WalletOwnerCustomer   = "customer"
	WalletOwnerTechnician = "technician"
	WalletOwnerCompany    = "company"
	WalletOwnerPlatform   = "platform"
)

// Transaction directions.
const (
	TxDirectionCredit = "credit"
	TxDirectionDebit  = "debit"
)

// Transaction types.
const (
	TxTypeJobPayment      = "job_payment"
	TxTypePlatformFee     = "platform_fee"
	TxTypeBatchWithdrawal = "batch_withdrawal"
	TxTypeRefund          = "refund"
	TxTypeAdjustment      = "adjustment"
)

// PlatformWalletID is the single wallet owned by the platform itself.
var PlatformWalletID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

// Wallet is a balance-holding account. Its balance is only ever mutated by
// the wallet service, together with an append-only WalletTransaction row in
// the same transaction.
type Wallet struct {
	ID             uuid.UUID       `json:"id"`
	OwnerType      string          `json:"owner_type"`
	OwnerID        uuid.UUID       `json:"owner_id"`
	Balance        decimal.Decimal `json:"balance"`
	PendingBalance decimal.Decimal `json:"pending_balance"`
	TotalEarned    decimal.Decimal `json:"total_earned"`
	TotalSpent     decimal.Decimal `json:"total_spent"`
	TotalWithdrawn decimal.Decimal `json:"total_withdrawn"`
	Currency       string          `json:"currency"`
	IsActive       bool            `json:"is_active"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// WalletTransaction is an immutable ledger entry. BalanceBefore/BalanceAfter
// snapshot the wallet's value at the instant of the mutation so the history
// can be audited without replaying it.
type WalletTransaction struct {
	ID            uuid.UUID       `json:"id"`
	WalletID      uuid.UUID       `json:"wallet_id"`
	Amount        decimal.Decimal `json:"amount"`
	Direction     string          `json:"direction"`
	BalanceBefore decimal.Decimal `json:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	Type          string          `json:"type"`
	JobID         *uuid.UUID      `json:"job_id,omitempty"`
	BatchID       *uuid.UUID      `json:"batch_id,omitempty"`
	Reference     string          `json:"reference"`
	CreatedAt     time.Time       `json:"created_at"`
}
