package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/hmapp/backend/internal/apperr"
	"github.com/hmapp/backend/internal/models"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Store = (*Repository)(nil)

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

const jobCols = `id, job_number, customer_id, technician_id, company_id, category_id, title, description,
	status, lat, lng, offer_window_expires_at, payment_expires_at, final_price, reward_discount,
	amount_to_pay, amount_paid, offers_count, cancelled_by, cancellation_reason, started_at, completed_at,
	created_at, updated_at`

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	err := row.Scan(&j.ID, &j.JobNumber, &j.CustomerID, &j.TechnicianID, &j.CompanyID, &j.CategoryID,
		&j.Title, &j.Description, &j.Status, &j.Location.Lat, &j.Location.Lng,
		&j.OfferWindowExpiresAt, &j.PaymentExpiresAt, &j.FinalPrice, &j.RewardDiscount,
		&j.AmountToPay, &j.AmountPaid, &j.OffersCount, &j.CancelledBy, &j.CancellationReason,
		&j.StartedAt, &j.CompletedAt, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("job not found")
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (r *Repository) Create(ctx context.Context, j *models.Job) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO jobs (id, job_number, customer_id, category_id, title, description, status, lat, lng, reward_discount)
		VALUES ($1, 'JOB-' || to_char(now(), 'YYMMDD') || '-' || lpad(nextval('job_number_seq')::text, 5, '0'),
			$2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING job_number, created_at, updated_at
	`, j.ID, j.CustomerID, j.CategoryID, j.Title, j.Description, j.Status, j.Location.Lat, j.Location.Lng, j.RewardDiscount).
		Scan(&j.JobNumber, &j.CreatedAt, &j.UpdatedAt)
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	return scanJob(r.pool.QueryRow(ctx, `SELECT `+jobCols+` FROM jobs WHERE id = $1`, id))
}

// GetForUpdate locks the job row; acceptOffer and window expiry serialize on
// this lock. Call within a transaction.
func (r *Repository) GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Job, error) {
	return scanJob(tx.QueryRow(ctx, `SELECT `+jobCols+` FROM jobs WHERE id = $1 FOR UPDATE`, id))
}

func (r *Repository) MarkPublished(ctx context.Context, tx pgx.Tx, jobID uuid.UUID, from string, expiresAt time.Time) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE jobs SET status = $3, offer_window_expires_at = $4, offers_count = 0,
			technician_id = NULL, company_id = NULL, final_price = NULL, payment_expires_at = NULL, updated_at = now()
		WHERE id = $1 AND status = $2
	`, jobID, from, models.JobStatusWaitingOffers, expiresAt)
	return tag.RowsAffected() == 1, err
}

func (r *Repository) MarkOffersExpired(ctx context.Context, tx pgx.Tx, jobID uuid.UUID) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE jobs SET status = $2, updated_at = now()
		WHERE id = $1 AND status = $3 AND offers_count = 0
	`, jobID, models.JobStatusOffersExpired, models.JobStatusWaitingOffers)
	return tag.RowsAffected() == 1, err
}

func (r *Repository) MarkAssigned(ctx context.Context, tx pgx.Tx, jobID, technicianID, companyID uuid.UUID, finalPrice decimal.Decimal) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE jobs SET status = $2, technician_id = $3, company_id = $4, final_price = $5, updated_at = now()
		WHERE id = $1 AND status = $6
	`, jobID, models.JobStatusAssigned, technicianID, companyID, finalPrice, models.JobStatusWaitingOffers)
	return tag.RowsAffected() == 1, err
}

func (r *Repository) MarkPaymentPending(ctx context.Context, tx pgx.Tx, jobID uuid.UUID, amountToPay decimal.Decimal, expiresAt time.Time) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE jobs SET status = $2, amount_to_pay = $3, payment_expires_at = $4, updated_at = now()
		WHERE id = $1 AND status = $5
	`, jobID, models.JobStatusPaymentPending, amountToPay, expiresAt, models.JobStatusAssigned)
	return tag.RowsAffected() == 1, err
}

func (r *Repository) MarkPaid(ctx context.Context, tx pgx.Tx, jobID uuid.UUID, amountPaid decimal.Decimal) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE jobs SET status = $2, amount_paid = $3, updated_at = now()
		WHERE id = $1 AND status = $4
	`, jobID, models.JobStatusInProgress, amountPaid, models.JobStatusPaymentPending)
	return tag.RowsAffected() == 1, err
}

// MarkPaymentExpired frees the technician slot so the job can be re-published.
func (r *Repository) MarkPaymentExpired(ctx context.Context, tx pgx.Tx, jobID uuid.UUID) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE jobs SET status = $2, technician_id = NULL, company_id = NULL, final_price = NULL,
			amount_to_pay = NULL, payment_expires_at = NULL, updated_at = now()
		WHERE id = $1 AND status = $3
	`, jobID, models.JobStatusPaymentExpired, models.JobStatusPaymentPending)
	return tag.RowsAffected() == 1, err
}

func (r *Repository) MarkStarted(ctx context.Context, tx pgx.Tx, jobID uuid.UUID) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE jobs SET started_at = now(), updated_at = now()
		WHERE id = $1 AND status = $2 AND started_at IS NULL
	`, jobID, models.JobStatusInProgress)
	return tag.RowsAffected() == 1, err
}

func (r *Repository) MarkCompleted(ctx context.Context, tx pgx.Tx, jobID uuid.UUID) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE jobs SET status = $2, completed_at = now(), updated_at = now()
		WHERE id = $1 AND status = $3
	`, jobID, models.JobStatusCompleted, models.JobStatusInProgress)
	return tag.RowsAffected() == 1, err
}

func (r *Repository) MarkCancelled(ctx context.Context, tx pgx.Tx, jobID uuid.UUID, from string, cancelledBy uuid.UUID, reason *string) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE jobs SET status = $2, cancelled_by = $3, cancellation_reason = $4, updated_at = now()
		WHERE id = $1 AND status = $5
	`, jobID, models.JobStatusCancelled, cancelledBy, reason, from)
	return tag.RowsAffected() == 1, err
}

func (r *Repository) IncrementOffers(ctx context.Context, tx pgx.Tx, jobID uuid.UUID) error {
	_, err := tx.Exec(ctx, `UPDATE jobs SET offers_count = offers_count + 1, updated_at = now() WHERE id = $1`, jobID)
	return err
}

func (r *Repository) ListDueOfferWindows(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM jobs
		WHERE status = $1 AND offer_window_expires_at <= $2
		ORDER BY offer_window_expires_at ASC LIMIT $3
	`, models.JobStatusWaitingOffers, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *Repository) ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]*models.Job, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+jobCols+` FROM jobs WHERE customer_id = $1 ORDER BY created_at DESC
	`, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, j)
	}
	return list, rows.Err()
}
