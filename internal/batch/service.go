// Package batch rolls a technician's completed jobs into withdrawable
// settlement units for the parent company. Batches per technician are
// sequential: completing (withdrawing) one opens the next.
package batch

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/hmapp/backend/internal/apperr"
	"github.com/hmapp/backend/internal/models"
	"github.com/hmapp/backend/internal/notify"
)

// Store is the batch storage interface.
type Store interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	GetByID(ctx context.Context, batchID uuid.UUID) (*models.CompanyBatch, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, batchID uuid.UUID) (*models.CompanyBatch, error)
	// GetActiveForUpdate returns the technician's current active batch under a
	// row lock, or nil when none exists.
	GetActiveForUpdate(ctx context.Context, tx pgx.Tx, companyID, technicianID uuid.UUID) (*models.CompanyBatch, error)
	Create(ctx context.Context, tx pgx.Tx, b *models.CompanyBatch) error
	Update(ctx context.Context, tx pgx.Tx, b *models.CompanyBatch) error
	MarkCompleted(ctx context.Context, tx pgx.Tx, batchID uuid.UUID, reference string, at time.Time) (bool, error)
	ListByCompany(ctx context.Context, companyID uuid.UUID, limit int) ([]*models.CompanyBatch, error)
}

// Companies resolves the commission terms and ownership of a company.
type Companies interface {
	GetCompany(ctx context.Context, companyID uuid.UUID) (*models.Company, error)
}

// Ledger is the wallet engine surface used for batch payouts.
type Ledger interface {
	CreditOwner(ctx context.Context, tx pgx.Tx, ownerType string, ownerID uuid.UUID, amount decimal.Decimal, txType string, jobID, batchID *uuid.UUID) (*models.WalletTransaction, error)
}

type Service struct {
	store       Store
	companies   Companies
	ledger      Ledger
	enqueue     notify.EnqueueTxFunc
	batchTarget int
	log         *slog.Logger

	now func() time.Time
}

func NewService(store Store, companies Companies, ledger Ledger, enqueue notify.EnqueueTxFunc, batchTarget int, log *slog.Logger) *Service {
	return &Service{
		store:       store,
		companies:   companies,
		ledger:      ledger,
		enqueue:     enqueue,
		batchTarget: batchTarget,
		log:         log,
		now:         time.Now,
	}
}

// OnJobCompleted accumulates a completed job into the technician's active
// batch, creating one if needed, inside the completion transaction. The
// batch row lock serializes concurrent completions for the same technician.
// When the job target is reached the batch becomes ready and withdrawable.
func (s *Service) OnJobCompleted(ctx context.Context, tx pgx.Tx, job *models.Job) error {
	if job.TechnicianID == nil || job.CompanyID == nil {
		return apperr.InvalidState("completed job has no assignment")
	}
	if job.FinalPrice == nil {
		return apperr.InvalidState("completed job has no final price")
	}

	company, err := s.companies.GetCompany(ctx, *job.CompanyID)
	if err != nil {
		return fmt.Errorf("resolve company %s: %w", *job.CompanyID, err)
	}

	b, err := s.store.GetActiveForUpdate(ctx, tx, *job.CompanyID, *job.TechnicianID)
	if err != nil {
		return fmt.Errorf("lock active batch: %w", err)
	}
	if b == nil {
		b = s.newBatch(*job.CompanyID, *job.TechnicianID, company.BatchSize)
		if err := s.store.Create(ctx, tx, b); err != nil {
			return fmt.Errorf("open batch: %w", err)
		}
	}

	b.JobsCompleted++
	b.TotalRevenue = b.TotalRevenue.Add(*job.FinalPrice)
	b.CompanyShare = b.TotalRevenue.Mul(company.CommissionRate).Round(2)
	if b.JobsCompleted >= b.TargetJobs {
		b.Status = models.BatchStatusReady
		b.CanWithdraw = true
	}
	if err := s.store.Update(ctx, tx, b); err != nil {
		return fmt.Errorf("update batch %s: %w", b.ID, err)
	}

	if b.CanWithdraw {
		if err := s.enqueue(ctx, tx, notify.SendNotificationArgs{
			UserID: company.OwnerID,
			Title:  "Batch ready",
			Body:   "Batch " + b.BatchNumber + " reached its target and is ready to withdraw.",
			Type:   models.NotifyBatchReady,
			Data:   map[string]any{"batch_id": b.ID.String()},
		}); err != nil {
			return err
		}
	}
	return nil
}

// Withdraw pays out a ready batch to the company wallet and opens a fresh
// active batch for the same technician. It is one-shot per batch: the
// conditional ready-to-completed update makes a concurrent or repeated
// withdrawal fail with a conflict instead of double-crediting.
func (s *Service) Withdraw(ctx context.Context, batchID uuid.UUID, actorUserID uuid.UUID) (*models.CompanyBatch, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	b, err := s.store.GetForUpdate(ctx, tx, batchID)
	if err != nil {
		return nil, err
	}
	company, err := s.companies.GetCompany(ctx, b.CompanyID)
	if err != nil {
		return nil, fmt.Errorf("resolve company %s: %w", b.CompanyID, err)
	}
	if company.OwnerID != actorUserID {
		return nil, apperr.Unauthorized("only the company owner can withdraw a batch")
	}
	if b.Status != models.BatchStatusReady || !b.CanWithdraw {
		return nil, apperr.InvalidState("batch is not withdrawable")
	}

	ref := newWithdrawalReference()
	at := s.now()
	ok, err := s.store.MarkCompleted(ctx, tx, b.ID, ref, at)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.StateConflict("batch changed concurrently")
	}

	if b.CompanyShare.Sign() > 0 {
		batchRef := b.ID
		if _, err := s.ledger.CreditOwner(ctx, tx, models.WalletOwnerCompany, b.CompanyID, b.CompanyShare,
			models.TxTypeBatchWithdrawal, nil, &batchRef); err != nil {
			return nil, fmt.Errorf("credit company wallet: %w", err)
		}
	}

	next := s.newBatch(b.CompanyID, b.TechnicianID, company.BatchSize)
	if err := s.store.Create(ctx, tx, next); err != nil {
		return nil, fmt.Errorf("open next batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	b.Status = models.BatchStatusCompleted
	b.CanWithdraw = false
	b.WithdrawnAt = &at
	b.WithdrawalReference = &ref
	s.log.Info("batch withdrawn",
		"batch_id", b.ID, "company_id", b.CompanyID, "amount", b.CompanyShare)
	return b, nil
}

// ListByCompany returns the company's recent batches, newest first.
func (s *Service) ListByCompany(ctx context.Context, companyID uuid.UUID, limit int) ([]*models.CompanyBatch, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.store.ListByCompany(ctx, companyID, limit)
}

func (s *Service) newBatch(companyID, technicianID uuid.UUID, target int) *models.CompanyBatch {
	if target <= 0 {
		target = s.batchTarget
	}
	return &models.CompanyBatch{
		ID:           uuid.New(),
		CompanyID:    companyID,
		TechnicianID: technicianID,
		TargetJobs:   target,
		Status:       models.BatchStatusActive,
		TotalRevenue: decimal.Zero,
		CompanyShare: decimal.Zero,
	}
}

func newWithdrawalReference() string {
	var b [6]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return "WDR-" + hex.EncodeToString(b[:])
}
