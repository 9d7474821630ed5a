// Package wallet is the ledger engine: the only code path permitted to
// mutate a wallet balance. Every balance change writes the updated wallet row
// and an immutable wallet_transactions row in the caller's transaction.
package wallet

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/hmapp/backend/internal/apperr"
	"github.com/hmapp/backend/internal/models"
)

// Store is the minimal wallet storage interface for the ledger engine.
type Store interface {
	GetForUpdate(ctx context.Context, tx pgx.Tx, walletID uuid.UUID) (*models.Wallet, error)
	GetByOwnerForUpdate(ctx context.Context, tx pgx.Tx, ownerType string, ownerID uuid.UUID) (*models.Wallet, error)
	Update(ctx context.Context, tx pgx.Tx, w *models.Wallet) error
	InsertTransaction(ctx context.Context, tx pgx.Tx, t *models.WalletTransaction) error
}

type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

// Apply describes one signed balance mutation.
type Apply struct {
	WalletID  uuid.UUID
	Amount    decimal.Decimal
	Direction string
	Type      string
	JobID     *uuid.UUID
	BatchID   *uuid.UUID
	Reference string
}

// ApplyTransaction reads the wallet under a row lock, computes the new
// balance, and writes both the wallet and the ledger row. A debit that would
// take the balance negative fails with InsufficientFunds; no wallet type in
// this domain permits overdraft.
func (s *Service) ApplyTransaction(ctx context.Context, tx pgx.Tx, a Apply) (*models.WalletTransaction, error) {
	if a.Amount.Sign() <= 0 {
		return nil, apperr.Validation("transaction amount must be positive")
	}
	if a.Amount.Exponent() < -2 {
		return nil, apperr.Validation("transaction amount has more than 2 decimal places")
	}
	if a.Direction != models.TxDirectionCredit && a.Direction != models.TxDirectionDebit {
		return nil, apperr.Validation("unknown transaction direction")
	}

	w, err := s.store.GetForUpdate(ctx, tx, a.WalletID)
	if err != nil {
		return nil, fmt.Errorf("lock wallet %s: %w", a.WalletID, err)
	}
	if !w.IsActive {
		return nil, apperr.InvalidState("wallet is not active")
	}

	before := w.Balance
	var after decimal.Decimal
	switch a.Direction {
	case models.TxDirectionCredit:
		after = before.Add(a.Amount)
		w.TotalEarned = w.TotalEarned.Add(a.Amount)
	case models.TxDirectionDebit:
		after = before.Sub(a.Amount)
		if after.IsNegative() {
			return nil, apperr.InsufficientFunds("wallet balance too low")
		}
		if a.Type == models.TxTypeBatchWithdrawal {
			w.TotalWithdrawn = w.TotalWithdrawn.Add(a.Amount)
		} else {
			w.TotalSpent = w.TotalSpent.Add(a.Amount)
		}
	}
	w.Balance = after

	if err := s.store.Update(ctx, tx, w); err != nil {
		return nil, fmt.Errorf("update wallet %s: %w", w.ID, err)
	}

	ref := a.Reference
	if ref == "" {
		ref = newReference()
	}
	entry := &models.WalletTransaction{
		ID:            uuid.New(),
		WalletID:      w.ID,
		Amount:        a.Amount,
		Direction:     a.Direction,
		BalanceBefore: before,
		BalanceAfter:  after,
		Type:          a.Type,
		JobID:         a.JobID,
		BatchID:       a.BatchID,
		Reference:     ref,
	}
	if err := s.store.InsertTransaction(ctx, tx, entry); err != nil {
		return nil, fmt.Errorf("insert wallet transaction: %w", err)
	}
	return entry, nil
}

// Transfer debits from and credits to in the caller's transaction. Both legs
// share a reference code so the pair is traceable; the transaction boundary
// guarantees no partial transfer.
func (s *Service) Transfer(ctx context.Context, tx pgx.Tx, fromID, toID uuid.UUID, amount decimal.Decimal, txType string, jobID *uuid.UUID) error {
	ref := newReference()
	if _, err := s.ApplyTransaction(ctx, tx, Apply{
		WalletID: fromID, Amount: amount, Direction: models.TxDirectionDebit,
		Type: txType, JobID: jobID, Reference: ref,
	}); err != nil {
		return err
	}
	if _, err := s.ApplyTransaction(ctx, tx, Apply{
		WalletID: toID, Amount: amount, Direction: models.TxDirectionCredit,
		Type: txType, JobID: jobID, Reference: ref,
	}); err != nil {
		return err
	}
	return nil
}

// CreditOwner resolves the owner's wallet under lock and credits it.
func (s *Service) CreditOwner(ctx context.Context, tx pgx.Tx, ownerType string, ownerID uuid.UUID, amount decimal.Decimal, txType string, jobID, batchID *uuid.UUID) (*models.WalletTransaction, error) {
	w, err := s.store.GetByOwnerForUpdate(ctx, tx, ownerType, ownerID)
	if err != nil {
		return nil, fmt.Errorf("lock wallet of %s %s: %w", ownerType, ownerID, err)
	}
	return s.ApplyTransaction(ctx, tx, Apply{
		WalletID: w.ID, Amount: amount, Direction: models.TxDirectionCredit,
		Type: txType, JobID: jobID, BatchID: batchID,
	})
}

func newReference() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return "TXN-" + hex.EncodeToString(b[:])
}
