// Package payments bridges accepted offers to external payment confirmation:
// payment link creation, webhook-driven settlement, and payment-window
// expiry. Settlement is idempotent by token; replayed webhook deliveries
// return the prior result without double-crediting.
package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/hmapp/backend/internal/apperr"
	"github.com/hmapp/backend/internal/config"
	"github.com/hmapp/backend/internal/models"
	"github.com/hmapp/backend/internal/notify"
)

// Store is the payment link storage interface.
type Store interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Create(ctx context.Context, tx pgx.Tx, l *models.PaymentLink) error
	GetByToken(ctx context.Context, token string) (*models.PaymentLink, error)
	GetByTokenForUpdate(ctx context.Context, tx pgx.Tx, token string) (*models.PaymentLink, error)
	MarkPaid(ctx context.Context, tx pgx.Tx, linkID uuid.UUID, method, reference string, response json.RawMessage) (bool, error)
	MarkFailed(ctx context.Context, tx pgx.Tx, linkID uuid.UUID, response json.RawMessage) (bool, error)
	MarkExpired(ctx context.Context, tx pgx.Tx, linkID uuid.UUID) (bool, error)
	ListDuePending(ctx context.Context, now time.Time, limit int) ([]*models.PaymentLink, error)
}

// Lifecycle is the slice of the job state machine the coordinator drives.
type Lifecycle interface {
	ConfirmPayment(ctx context.Context, tx pgx.Tx, jobID uuid.UUID, amountPaid decimal.Decimal) error
	ExpirePayment(ctx context.Context, tx pgx.Tx, jobID uuid.UUID) error
}

// Ledger is the wallet engine surface used for settlement.
type Ledger interface {
	CreditOwner(ctx context.Context, tx pgx.Tx, ownerType string, ownerID uuid.UUID, amount decimal.Decimal, txType string, jobID, batchID *uuid.UUID) (*models.WalletTransaction, error)
}

// Directory resolves notification recipients.
type Directory interface {
	CustomerUserID(ctx context.Context, customerID uuid.UUID) (uuid.UUID, error)
	TechnicianUserID(ctx context.Context, technicianID uuid.UUID) (uuid.UUID, error)
}

type Service struct {
	store     Store
	jobs      Lifecycle
	ledger    Ledger
	directory Directory
	enqueue   notify.EnqueueTxFunc
	cfg       config.Config
	log       *slog.Logger

	now func() time.Time
}

func NewService(store Store, jobs Lifecycle, ledger Ledger, directory Directory, enqueue notify.EnqueueTxFunc, cfg config.Config, log *slog.Logger) *Service {
	return &Service{
		store:     store,
		jobs:      jobs,
		ledger:    ledger,
		directory: directory,
		enqueue:   enqueue,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
	}
}

// CreatePaymentLink computes the payable total for an accepted offer and
// persists a pending link inside the caller's transaction.
//
//	subtotal = offer amount
//	discount = min(job reward discount, configured cap, subtotal)
//	fee      = (subtotal - discount) * platform fee rate
//	vat      = (subtotal - discount + fee) * VAT rate
//	total    = subtotal - discount + fee + vat
func (s *Service) CreatePaymentLink(ctx context.Context, tx pgx.Tx, job *models.Job, offer *models.Offer) (*models.PaymentLink, error) {
	subtotal := offer.Amount
	discount := job.RewardDiscount
	if cap := s.cfg.DiscountCap(); discount.GreaterThan(cap) {
		discount = cap
	}
	if discount.GreaterThan(subtotal) {
		discount = subtotal
	}
	base := subtotal.Sub(discount)
	fee := base.Mul(s.cfg.FeeRate()).Round(2)
	vat := base.Add(fee).Mul(s.cfg.VAT()).Round(2)
	total := base.Add(fee).Add(vat)

	token, err := NewToken()
	if err != nil {
		return nil, fmt.Errorf("generate payment token: %w", err)
	}
	link := &models.PaymentLink{
		ID:             uuid.New(),
		JobID:          job.ID,
		CustomerID:     job.CustomerID,
		TechnicianID:   offer.TechnicianID,
		Subtotal:       subtotal,
		RewardDiscount: discount,
		PlatformFee:    fee,
		VAT:            vat,
		Total:          total,
		Token:          token,
		PaymentURL:     "/pay/" + token,
		Status:         models.PaymentStatusPending,
		ExpiresAt:      s.now().Add(s.cfg.PaymentWindow),
	}
	if err := s.store.Create(ctx, tx, link); err != nil {
		return nil, fmt.Errorf("persist payment link: %w", err)
	}
	return link, nil
}

// Settlement is the result of a confirmed payment.
type Settlement struct {
	JobID       uuid.UUID       `json:"job_id"`
	Total       decimal.Decimal `json:"total"`
	AlreadyPaid bool            `json:"already_paid"`
}

// Confirm settles a payment looked up by token only, never by job id, so a
// compromised client cannot redirect another job's settlement. Atomically:
// link becomes paid, job moves to in_progress, the technician wallet is
// credited net of commission and the platform wallet is credited the
// commission share. The company's own cut accrues in its batch and pays out
// on batch withdrawal, not here. A replay on an already-paid link returns
// the prior result without mutating anything.
func (s *Service) Confirm(ctx context.Context, token, method, gatewayReference string, gatewayPayload json.RawMessage) (*Settlement, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	link, err := s.store.GetByTokenForUpdate(ctx, tx, token)
	if err != nil {
		return nil, err
	}
	switch link.Status {
	case models.PaymentStatusPaid:
		return &Settlement{JobID: link.JobID, Total: link.Total, AlreadyPaid: true}, nil
	case models.PaymentStatusPending:
		// proceed
	default:
		return nil, apperr.InvalidState("payment link is " + link.Status)
	}
	if !s.now().Before(link.ExpiresAt) {
		return nil, apperr.ExpiredWindow("payment link has expired")
	}

	ok, err := s.store.MarkPaid(ctx, tx, link.ID, method, gatewayReference, gatewayPayload)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.StateConflict("payment link changed concurrently")
	}

	if err := s.jobs.ConfirmPayment(ctx, tx, link.JobID, link.Total); err != nil {
		return nil, err
	}

	commission := link.PlatformFee.Add(link.VAT)
	technicianNet := link.Total.Sub(commission)
	jobRef := link.JobID

	if technicianNet.Sign() > 0 {
		if _, err := s.ledger.CreditOwner(ctx, tx, models.WalletOwnerTechnician, link.TechnicianID, technicianNet,
			models.TxTypeJobPayment, &jobRef, nil); err != nil {
			return nil, fmt.Errorf("credit technician wallet: %w", err)
		}
	}
	if commission.Sign() > 0 {
		if _, err := s.ledger.CreditOwner(ctx, tx, models.WalletOwnerPlatform, models.PlatformWalletID, commission,
			models.TxTypePlatformFee, &jobRef, nil); err != nil {
			return nil, fmt.Errorf("credit platform wallet: %w", err)
		}
	}

	techUser, err := s.directory.TechnicianUserID(ctx, link.TechnicianID)
	if err != nil {
		return nil, err
	}
	if err := s.enqueue(ctx, tx, notify.SendNotificationArgs{
		UserID: techUser,
		Title:  "Payment received",
		Body:   "Payment was received for your job. You can start now.",
		Type:   models.NotifyPaymentReceived,
		Data:   map[string]any{"job_id": link.JobID.String()},
	}); err != nil {
		return nil, err
	}
	custUser, err := s.directory.CustomerUserID(ctx, link.CustomerID)
	if err != nil {
		return nil, err
	}
	if err := s.enqueue(ctx, tx, notify.SendNotificationArgs{
		UserID: custUser,
		Title:  "Payment confirmed",
		Body:   "Your payment was confirmed. The technician is on the way.",
		Type:   models.NotifyPaymentConfirmed,
		Data:   map[string]any{"job_id": link.JobID.String()},
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &Settlement{JobID: link.JobID, Total: link.Total}, nil
}

// RecordFailure marks a pending link failed and stores the gateway response.
// Unknown tokens and non-pending links are a no-op: the gateway retries
// failure events freely.
func (s *Service) RecordFailure(ctx context.Context, token string, gatewayPayload json.RawMessage) error {
	link, err := s.store.GetByToken(ctx, token)
	if err != nil {
		if apperr.Is(err, apperr.CodeNotFound) {
			return nil
		}
		return err
	}
	if link.Status != models.PaymentStatusPending {
		return nil
	}
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if _, err := s.store.MarkFailed(ctx, tx, link.ID, gatewayPayload); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ExpireSweep expires pending links whose window lapsed and releases their
// jobs. Link and job are expired in the same transaction: if the job release
// fails the link stays pending and the next sweep picks it up again.
// Idempotent.
func (s *Service) ExpireSweep(ctx context.Context, limit int) error {
	due, err := s.store.ListDuePending(ctx, s.now(), limit)
	if err != nil {
		return err
	}
	for _, link := range due {
		if err := s.expireOne(ctx, link); err != nil {
			s.log.Error("expire payment link", "link_id", link.ID, "job_id", link.JobID, "error", err)
		}
	}
	return nil
}

func (s *Service) expireOne(ctx context.Context, link *models.PaymentLink) error {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := s.jobs.ExpirePayment(ctx, tx, link.JobID); err != nil {
		return err
	}
	if _, err := s.store.MarkExpired(ctx, tx, link.ID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
