// Package jobs owns the job lifecycle state machine. Every transition
// re-checks the persisted status under the same transaction that performs the
// mutation, so concurrent writers get exactly one winner and the loser a
// typed conflict error.
package jobs

import (
	"context"
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

// Store is the job storage interface used by the lifecycle service.
type Store interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Create(ctx context.Context, j *models.Job) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Job, error)
	MarkPublished(ctx context.Context, tx pgx.Tx, jobID uuid.UUID, from string, expiresAt time.Time) (bool, error)
	MarkOffersExpired(ctx context.Context, tx pgx.Tx, jobID uuid.UUID) (bool, error)
	MarkAssigned(ctx context.Context, tx pgx.Tx, jobID, technicianID, companyID uuid.UUID, finalPrice decimal.Decimal) (bool, error)
	MarkPaymentPending(ctx context.Context, tx pgx.Tx, jobID uuid.UUID, amountToPay decimal.Decimal, expiresAt time.Time) (bool, error)
	MarkPaid(ctx context.Context, tx pgx.Tx, jobID uuid.UUID, amountPaid decimal.Decimal) (bool, error)
	MarkPaymentExpired(ctx context.Context, tx pgx.Tx, jobID uuid.UUID) (bool, error)
	MarkStarted(ctx context.Context, tx pgx.Tx, jobID uuid.UUID) (bool, error)
	MarkCompleted(ctx context.Context, tx pgx.Tx, jobID uuid.UUID) (bool, error)
	MarkCancelled(ctx context.Context, tx pgx.Tx, jobID uuid.UUID, from string, cancelledBy uuid.UUID, reason *string) (bool, error)
	ListDueOfferWindows(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
	ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]*models.Job, error)
}

// Accumulator rolls a completed job into the technician's company batch.
// Implemented by the batch service; runs inside the completion transaction.
type Accumulator interface {
	OnJobCompleted(ctx context.Context, tx pgx.Tx, job *models.Job) error
}

// Directory resolves party rows to notification recipients.
type Directory interface {
	CustomerUserID(ctx context.Context, customerID uuid.UUID) (uuid.UUID, error)
	TechnicianUserID(ctx context.Context, technicianID uuid.UUID) (uuid.UUID, error)
}

// Actor identifies who is invoking a transition. ID is the party row id
// (customer id, technician id, or company id depending on Role).
type Actor struct {
	ID   uuid.UUID
	Role string
}

type Service struct {
	store       Store
	accumulator Accumulator
	directory   Directory
	enqueue     notify.EnqueueTxFunc
	offerWindow time.Duration
	log         *slog.Logger

	now func() time.Time
}

func NewService(store Store, accumulator Accumulator, directory Directory, enqueue notify.EnqueueTxFunc, offerWindow time.Duration, log *slog.Logger) *Service {
	return &Service{
		store:       store,
		accumulator: accumulator,
		directory:   directory,
		enqueue:     enqueue,
		offerWindow: offerWindow,
		log:         log,
		now:         time.Now,
	}
}

// Create persists a draft job owned by the customer. When autoPublish is set
// the job is published in the same call.
func (s *Service) Create(ctx context.Context, customerID uuid.UUID, categoryID int, title string, description *string, location models.Point, autoPublish bool) (*models.Job, error) {
	if title == "" {
		return nil, apperr.Validation("title is required")
	}
	if categoryID <= 0 {
		return nil, apperr.Validation("category is required")
	}
	j := &models.Job{
		ID:             uuid.New(),
		CustomerID:     customerID,
		CategoryID:     categoryID,
		Title:          title,
		Description:    description,
		Status:         models.JobStatusDraft,
		Location:       location,
		RewardDiscount: decimal.Zero,
	}
	if err := s.store.Create(ctx, j); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	if autoPublish {
		if err := s.Publish(ctx, j.ID, customerID); err != nil {
			return nil, err
		}
		return s.store.GetByID(ctx, j.ID)
	}
	return j, nil
}

// Publish opens the offer window: draft→waiting_for_offers. A job whose
// offer or payment window expired may be re-published by its customer.
func (s *Service) Publish(ctx context.Context, jobID, customerID uuid.UUID) error {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	job, err := s.store.GetForUpdate(ctx, tx, jobID)
	if err != nil {
		return err
	}
	if job.CustomerID != customerID {
		return apperr.Unauthorized("job belongs to another customer")
	}
	if !ValidTransition(job.Status, models.JobStatusWaitingOffers) {
		return apperr.InvalidState("job cannot be published from status " + job.Status)
	}
	ok, err := s.store.MarkPublished(ctx, tx, jobID, job.Status, s.now().Add(s.offerWindow))
	if err != nil {
		return err
	}
	if !ok {
		return apperr.StateConflict("job changed concurrently")
	}
	return tx.Commit(ctx)
}

// ExpireOffers closes an offer window that elapsed with zero accepted offers.
// Idempotent: a job that already transitioned is a no-op, not an error. When
// offers exist the job is left for the matching engine to resolve.
func (s *Service) ExpireOffers(ctx context.Context, jobID uuid.UUID) error {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	job, err := s.store.GetForUpdate(ctx, tx, jobID)
	if err != nil {
		return err
	}
	if job.Status != models.JobStatusWaitingOffers {
		return nil
	}
	if job.OfferWindowExpiresAt == nil || s.now().Before(*job.OfferWindowExpiresAt) {
		return nil
	}
	if job.OffersCount > 0 {
		return nil
	}
	if _, err := s.store.MarkOffersExpired(ctx, tx, jobID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ExpireDueOfferWindows sweeps jobs whose offer window elapsed.
func (s *Service) ExpireDueOfferWindows(ctx context.Context, limit int) error {
	due, err := s.store.ListDueOfferWindows(ctx, s.now(), limit)
	if err != nil {
		return err
	}
	for _, id := range due {
		if err := s.ExpireOffers(ctx, id); err != nil {
			s.log.Error("expire offer window", "job_id", id, "error", err)
		}
	}
	return nil
}

// Assign moves waiting_for_offers→assigned inside the matching engine's
// transaction, recording the winning technician, company, and price. The
// caller must hold the job row lock.
func (s *Service) Assign(ctx context.Context, tx pgx.Tx, job *models.Job, technicianID, companyID uuid.UUID, finalPrice decimal.Decimal) error {
	if job.Status != models.JobStatusWaitingOffers {
		return apperr.InvalidState("job is not accepting offers")
	}
	ok, err := s.store.MarkAssigned(ctx, tx, job.ID, technicianID, companyID, finalPrice)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.StateConflict("job was assigned concurrently")
	}
	return nil
}

// MarkPaymentPending moves assigned→payment_pending when the payment link is
// created, inside the caller's transaction.
func (s *Service) MarkPaymentPending(ctx context.Context, tx pgx.Tx, jobID uuid.UUID, amountToPay decimal.Decimal, expiresAt time.Time) error {
	ok, err := s.store.MarkPaymentPending(ctx, tx, jobID, amountToPay, expiresAt)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.StateConflict("job is not awaiting a payment link")
	}
	return nil
}

// ConfirmPayment moves payment_pending→in_progress inside the settlement
// coordinator's transaction.
func (s *Service) ConfirmPayment(ctx context.Context, tx pgx.Tx, jobID uuid.UUID, amountPaid decimal.Decimal) error {
	ok, err := s.store.MarkPaid(ctx, tx, jobID, amountPaid)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.StateConflict("job is not awaiting payment")
	}
	return nil
}

// ExpirePayment releases a job whose payment window lapsed unpaid: the
// technician slot is freed and the job may be re-published. It runs inside
// the caller's transaction so the release commits or rolls back together
// with whatever triggered it (the payment-link sweep). Idempotent.
func (s *Service) ExpirePayment(ctx context.Context, tx pgx.Tx, jobID uuid.UUID) error {
	job, err := s.store.GetForUpdate(ctx, tx, jobID)
	if err != nil {
		return err
	}
	if job.Status != models.JobStatusPaymentPending {
		return nil
	}
	if job.PaymentExpiresAt == nil || s.now().Before(*job.PaymentExpiresAt) {
		return nil
	}
	if _, err := s.store.MarkPaymentExpired(ctx, tx, jobID); err != nil {
		return err
	}
	return s.notifyCustomer(ctx, tx, job, "Payment window expired",
		"The payment window for job "+job.JobNumber+" has expired. You can publish the job again.",
		models.NotifySystemAlert)
}

// Start records the technician beginning work on an in_progress job.
func (s *Service) Start(ctx context.Context, jobID uuid.UUID, technicianID uuid.UUID) error {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	job, err := s.store.GetForUpdate(ctx, tx, jobID)
	if err != nil {
		return err
	}
	if job.TechnicianID == nil || *job.TechnicianID != technicianID {
		return apperr.Unauthorized("job is assigned to another technician")
	}
	if job.Status != models.JobStatusInProgress {
		return apperr.InvalidState("job is not in progress")
	}
	ok, err := s.store.MarkStarted(ctx, tx, jobID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.StateConflict("job work has already started")
	}
	if err := s.notifyCustomer(ctx, tx, job, "Work started",
		"The technician has started working on job "+job.JobNumber+".",
		models.NotifyJobStarted); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Complete moves in_progress→completed and rolls the job into the company
// batch in the same transaction. Customer or assigned technician may call it.
func (s *Service) Complete(ctx context.Context, jobID uuid.UUID, actor Actor) error {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	job, err := s.store.GetForUpdate(ctx, tx, jobID)
	if err != nil {
		return err
	}
	if err := authorizeCompletion(job, actor); err != nil {
		return err
	}
	if !ValidTransition(job.Status, models.JobStatusCompleted) {
		return apperr.InvalidState("job cannot be completed from status " + job.Status)
	}
	ok, err := s.store.MarkCompleted(ctx, tx, jobID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.StateConflict("job changed concurrently")
	}
	if err := s.accumulator.OnJobCompleted(ctx, tx, job); err != nil {
		return fmt.Errorf("accumulate completed job: %w", err)
	}
	if err := s.notifyCustomer(ctx, tx, job, "Job completed",
		"Job "+job.JobNumber+" is complete. You can now leave a review.",
		models.NotifyJobCompleted); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Cancel is permitted from any pre-in_progress state by the customer or the
// company; from in_progress only via the dispute path (admin).
func (s *Service) Cancel(ctx context.Context, jobID uuid.UUID, actor Actor, reason *string) error {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	job, err := s.store.GetForUpdate(ctx, tx, jobID)
	if err != nil {
		return err
	}
	if job.Terminal() {
		return apperr.InvalidState("job is already closed")
	}
	if err := authorizeCancellation(job, actor); err != nil {
		return err
	}
	ok, err := s.store.MarkCancelled(ctx, tx, jobID, job.Status, actor.ID, reason)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.StateConflict("job changed concurrently")
	}
	if job.TechnicianID != nil {
		if err := s.notifyTechnician(ctx, tx, job, "Job cancelled",
			"Job "+job.JobNumber+" was cancelled.",
			models.NotifyJobCancelled); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *Service) GetJob(ctx context.Context, jobID uuid.UUID) (*models.Job, error) {
	return s.store.GetByID(ctx, jobID)
}

// ListByCustomer returns the customer's jobs, newest first.
func (s *Service) ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]*models.Job, error) {
	return s.store.ListByCustomer(ctx, customerID)
}

func authorizeCompletion(job *models.Job, actor Actor) error {
	switch actor.Role {
	case models.RoleCustomer:
		if job.CustomerID == actor.ID {
			return nil
		}
	case models.RoleTechnician:
		if job.TechnicianID != nil && *job.TechnicianID == actor.ID {
			return nil
		}
	}
	return apperr.Unauthorized("actor may not complete this job")
}

func authorizeCancellation(job *models.Job, actor Actor) error {
	if job.Status == models.JobStatusInProgress || job.Status == models.JobStatusDisputed {
		if actor.Role != models.RoleAdmin {
			return apperr.Unauthorized("an in-progress job can only be cancelled through a dispute")
		}
		return nil
	}
	switch actor.Role {
	case models.RoleAdmin:
		return nil
	case models.RoleCustomer:
		if job.CustomerID == actor.ID {
			return nil
		}
	case models.RoleCompanyOwner:
		if job.CompanyID != nil && *job.CompanyID == actor.ID {
			return nil
		}
	}
	return apperr.Unauthorized("actor may not cancel this job")
}

func (s *Service) notifyCustomer(ctx context.Context, tx pgx.Tx, job *models.Job, title, body, kind string) error {
	userID, err := s.directory.CustomerUserID(ctx, job.CustomerID)
	if err != nil {
		return err
	}
	return s.enqueue(ctx, tx, notify.SendNotificationArgs{
		UserID: userID, Title: title, Body: body, Type: kind,
		Data: map[string]any{"job_id": job.ID.String()},
	})
}

func (s *Service) notifyTechnician(ctx context.Context, tx pgx.Tx, job *models.Job, title, body, kind string) error {
	userID, err := s.directory.TechnicianUserID(ctx, *job.TechnicianID)
	if err != nil {
		return err
	}
	return s.enqueue(ctx, tx, notify.SendNotificationArgs{
		UserID: userID, Title: title, Body: body, Type: kind,
		Data: map[string]any{"job_id": job.ID.String()},
	})
}
