// Package offers is the matching engine: intake and arbitration of
// competitive bids during a job's offer window. Offers are accepted
// explicitly by the customer; the engine never auto-selects a best price.
package offers

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

// Store is the offer storage interface used by the matching engine.
type Store interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Create(ctx context.Context, tx pgx.Tx, o *models.Offer) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Offer, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Offer, error)
	HasOpenOffer(ctx context.Context, tx pgx.Tx, jobID, technicianID uuid.UUID) (bool, error)
	MarkAccepted(ctx context.Context, tx pgx.Tx, offerID uuid.UUID) (bool, error)
	ExpireSiblings(ctx context.Context, tx pgx.Tx, jobID, acceptedID uuid.UUID) (int64, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, offerID uuid.UUID, from, to string) (bool, error)
	ExpireDue(ctx context.Context, now time.Time) (int64, error)
	ListByJob(ctx context.Context, jobID uuid.UUID) ([]*models.Offer, error)
}

// JobStore reads and locks jobs on behalf of the engine.
type JobStore interface {
	GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Job, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error)
	IncrementOffers(ctx context.Context, tx pgx.Tx, jobID uuid.UUID) error
}

// Lifecycle is the slice of the job state machine the engine drives.
type Lifecycle interface {
	Assign(ctx context.Context, tx pgx.Tx, job *models.Job, technicianID, companyID uuid.UUID, finalPrice decimal.Decimal) error
	MarkPaymentPending(ctx context.Context, tx pgx.Tx, jobID uuid.UUID, amountToPay decimal.Decimal, expiresAt time.Time) error
}

// PaymentLinker creates the payable settlement request on acceptance.
type PaymentLinker interface {
	CreatePaymentLink(ctx context.Context, tx pgx.Tx, job *models.Job, offer *models.Offer) (*models.PaymentLink, error)
}

// TechnicianStore checks bidder eligibility.
type TechnicianStore interface {
	GetTechnician(ctx context.Context, id uuid.UUID) (*models.Technician, error)
	HasVerifiedSkill(ctx context.Context, technicianID uuid.UUID, categoryID int) (bool, error)
	TechnicianUserID(ctx context.Context, technicianID uuid.UUID) (uuid.UUID, error)
	CustomerUserID(ctx context.Context, customerID uuid.UUID) (uuid.UUID, error)
}

type Service struct {
	store    Store
	jobStore JobStore
	jobs     Lifecycle
	payments PaymentLinker
	techs    TechnicianStore
	enqueue  notify.EnqueueTxFunc
	log      *slog.Logger

	now func() time.Time
}

func NewService(store Store, jobStore JobStore, jobs Lifecycle, payments PaymentLinker, techs TechnicianStore, enqueue notify.EnqueueTxFunc, log *slog.Logger) *Service {
	return &Service{
		store:    store,
		jobStore: jobStore,
		jobs:     jobs,
		payments: payments,
		techs:    techs,
		enqueue:  enqueue,
		log:      log,
		now:      time.Now,
	}
}

// Submit validates eligibility and records a bid. Fails with JobNotOpen-class
// errors (InvalidState/ExpiredWindow), TechnicianIneligible (Unauthorized),
// or DuplicateOffer.
func (s *Service) Submit(ctx context.Context, jobID, technicianID uuid.UUID, amount decimal.Decimal, message *string, durationMinutes *int) (*models.Offer, error) {
	if amount.Sign() <= 0 {
		return nil, apperr.Validation("offer amount must be positive")
	}
	if amount.Exponent() < -2 {
		return nil, apperr.Validation("offer amount has more than 2 decimal places")
	}

	tech, err := s.techs.GetTechnician(ctx, technicianID)
	if err != nil {
		return nil, err
	}
	if tech.Status != models.TechStatusActive {
		return nil, apperr.Unauthorized("technician is not active")
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	// The job row lock serializes concurrent submissions on the same job, so
	// the duplicate check below sees any offer a racing request committed.
	job, err := s.jobStore.GetForUpdate(ctx, tx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobStatusWaitingOffers {
		return nil, apperr.InvalidState("job is not open for offers")
	}
	if job.OfferWindowExpiresAt == nil || !s.now().Before(*job.OfferWindowExpiresAt) {
		return nil, apperr.ExpiredWindow("offer window has closed")
	}

	skilled, err := s.techs.HasVerifiedSkill(ctx, technicianID, job.CategoryID)
	if err != nil {
		return nil, err
	}
	if !skilled {
		return nil, apperr.Unauthorized("technician has no verified skill for this category")
	}

	open, err := s.store.HasOpenOffer(ctx, tx, jobID, technicianID)
	if err != nil {
		return nil, err
	}
	if open {
		return nil, apperr.DuplicateOffer("technician already has a pending offer on this job")
	}

	offer := &models.Offer{
		ID:                       uuid.New(),
		JobID:                    jobID,
		TechnicianID:             technicianID,
		Amount:                   amount,
		Status:                   models.OfferStatusPending,
		Message:                  message,
		EstimatedDurationMinutes: durationMinutes,
		ExpiresAt:                *job.OfferWindowExpiresAt,
	}
	if err := s.store.Create(ctx, tx, offer); err != nil {
		return nil, fmt.Errorf("create offer: %w", err)
	}
	if err := s.jobStore.IncrementOffers(ctx, tx, jobID); err != nil {
		return nil, fmt.Errorf("increment offers_count: %w", err)
	}

	customerUser, err := s.techs.CustomerUserID(ctx, job.CustomerID)
	if err != nil {
		return nil, err
	}
	if err := s.enqueue(ctx, tx, notify.SendNotificationArgs{
		UserID: customerUser,
		Title:  "New offer received",
		Body:   "A technician offered " + amount.StringFixed(2) + " for job " + job.JobNumber + ".",
		Type:   models.NotifyOfferReceived,
		Data:   map[string]any{"job_id": jobID.String(), "offer_id": offer.ID.String()},
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return offer, nil
}

// AcceptResult is returned to the customer on a successful acceptance.
type AcceptResult struct {
	Job        *models.Job         `json:"job"`
	Offer      *models.Offer       `json:"offer"`
	PaymentURL string              `json:"payment_url"`
	Token      string              `json:"token"`
	Link       *models.PaymentLink `json:"payment_link"`
}

// Accept is the single most contention-prone operation. It locks the job row
// for the whole transaction so two concurrent accepts on different offers of
// the same job cannot both succeed: the loser blocks on the lock, re-reads a
// job that already left waiting_for_offers, and fails with StateConflict.
// Atomically: offer→accepted, siblings→expired, job assigned, payment link
// created, job→payment_pending.
func (s *Service) Accept(ctx context.Context, offerID, customerID uuid.UUID) (*AcceptResult, error) {
	offer, err := s.store.GetByID(ctx, offerID)
	if err != nil {
		return nil, err
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	job, err := s.jobStore.GetForUpdate(ctx, tx, offer.JobID)
	if err != nil {
		return nil, err
	}
	if job.CustomerID != customerID {
		return nil, apperr.Unauthorized("job belongs to another customer")
	}
	switch job.Status {
	case models.JobStatusWaitingOffers:
		// proceed
	case models.JobStatusAssigned, models.JobStatusPaymentPending, models.JobStatusOffersExpired:
		return nil, apperr.StateConflict("job was resolved by a concurrent accept or expiry")
	default:
		return nil, apperr.InvalidState("job is not accepting offers")
	}

	offer, err = s.store.GetForUpdate(ctx, tx, offerID)
	if err != nil {
		return nil, err
	}
	if offer.Status != models.OfferStatusPending {
		return nil, apperr.InvalidState("offer is no longer pending")
	}

	ok, err := s.store.MarkAccepted(ctx, tx, offerID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.StateConflict("offer changed concurrently")
	}
	if _, err := s.store.ExpireSiblings(ctx, tx, job.ID, offerID); err != nil {
		return nil, fmt.Errorf("expire sibling offers: %w", err)
	}

	tech, err := s.techs.GetTechnician(ctx, offer.TechnicianID)
	if err != nil {
		return nil, err
	}
	if err := s.jobs.Assign(ctx, tx, job, tech.ID, tech.CompanyID, offer.Amount); err != nil {
		return nil, err
	}
	job.Status = models.JobStatusAssigned
	job.TechnicianID = &tech.ID
	job.CompanyID = &tech.CompanyID
	job.FinalPrice = &offer.Amount

	link, err := s.payments.CreatePaymentLink(ctx, tx, job, offer)
	if err != nil {
		return nil, fmt.Errorf("create payment link: %w", err)
	}
	if err := s.jobs.MarkPaymentPending(ctx, tx, job.ID, link.Total, link.ExpiresAt); err != nil {
		return nil, err
	}
	job.Status = models.JobStatusPaymentPending
	job.AmountToPay = &link.Total
	job.PaymentExpiresAt = &link.ExpiresAt

	techUser, err := s.techs.TechnicianUserID(ctx, offer.TechnicianID)
	if err != nil {
		return nil, err
	}
	if err := s.enqueue(ctx, tx, notify.SendNotificationArgs{
		UserID: techUser,
		Title:  "Offer accepted",
		Body:   "Your offer for job " + job.JobNumber + " was accepted. Awaiting payment.",
		Type:   models.NotifyOfferAccepted,
		Data:   map[string]any{"job_id": job.ID.String(), "offer_id": offerID.String()},
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	offer.Status = models.OfferStatusAccepted
	return &AcceptResult{
		Job:        job,
		Offer:      offer,
		PaymentURL: link.PaymentURL,
		Token:      link.Token,
		Link:       link,
	}, nil
}

// Reject is a customer-initiated terminal transition on one offer; the job is
// untouched.
func (s *Service) Reject(ctx context.Context, offerID, customerID uuid.UUID) error {
	offer, err := s.store.GetByID(ctx, offerID)
	if err != nil {
		return err
	}
	job, err := s.jobStore.GetByID(ctx, offer.JobID)
	if err != nil {
		return err
	}
	if job.CustomerID != customerID {
		return apperr.Unauthorized("job belongs to another customer")
	}
	return s.finalize(ctx, offer, models.OfferStatusRejected, models.NotifyOfferRejected,
		"Your offer for job "+job.JobNumber+" was declined.")
}

// Withdraw is the technician-initiated counterpart of Reject.
func (s *Service) Withdraw(ctx context.Context, offerID, technicianID uuid.UUID) error {
	offer, err := s.store.GetByID(ctx, offerID)
	if err != nil {
		return err
	}
	if offer.TechnicianID != technicianID {
		return apperr.Unauthorized("offer belongs to another technician")
	}
	return s.finalize(ctx, offer, models.OfferStatusWithdrawn, "", "")
}

func (s *Service) finalize(ctx context.Context, offer *models.Offer, to, notifyType, body string) error {
	if offer.Status != models.OfferStatusPending {
		return apperr.InvalidState("offer is no longer pending")
	}
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	ok, err := s.store.UpdateStatus(ctx, tx, offer.ID, models.OfferStatusPending, to)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.StateConflict("offer changed concurrently")
	}
	if notifyType != "" {
		techUser, err := s.techs.TechnicianUserID(ctx, offer.TechnicianID)
		if err != nil {
			return err
		}
		if err := s.enqueue(ctx, tx, notify.SendNotificationArgs{
			UserID: techUser,
			Title:  "Offer update",
			Body:   body,
			Type:   notifyType,
			Data:   map[string]any{"offer_id": offer.ID.String()},
		}); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// ExpireSweep marks due pending offers expired. Idempotent: re-running
// changes nothing further.
func (s *Service) ExpireSweep(ctx context.Context) error {
	n, err := s.store.ExpireDue(ctx, s.now())
	if err != nil {
		return err
	}
	if n > 0 {
		s.log.Info("expired pending offers", "count", n)
	}
	return nil
}

func (s *Service) ListByJob(ctx context.Context, jobID uuid.UUID) ([]*models.Offer, error) {
	return s.store.ListByJob(ctx, jobID)
}
