package offers

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

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

const offerCols = `id, job_id, technician_id, amount, status, message, estimated_duration_minutes, expires_at, created_at`

func scanOffer(row pgx.Row) (*models.Offer, error) {
	var o models.Offer
	err := row.Scan(&o.ID, &o.JobID, &o.TechnicianID, &o.Amount, &o.Status, &o.Message,
		&o.EstimatedDurationMinutes, &o.ExpiresAt, &o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("offer not found")
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *Repository) Create(ctx context.Context, tx pgx.Tx, o *models.Offer) error {
	return tx.QueryRow(ctx, `
		INSERT INTO offers (id, job_id, technician_id, amount, status, message, estimated_duration_minutes, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`, o.ID, o.JobID, o.TechnicianID, o.Amount, o.Status, o.Message, o.EstimatedDurationMinutes, o.ExpiresAt).Scan(&o.CreatedAt)
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Offer, error) {
	return scanOffer(r.pool.QueryRow(ctx, `SELECT `+offerCols+` FROM offers WHERE id = $1`, id))
}

func (r *Repository) GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Offer, error) {
	return scanOffer(tx.QueryRow(ctx, `SELECT `+offerCols+` FROM offers WHERE id = $1 FOR UPDATE`, id))
}

// HasOpenOffer runs on the caller's transaction so the duplicate check in
// Submit observes offers committed by racing requests once the job row lock
// is held. The offers table additionally carries a partial unique index on
// (job_id, technician_id) WHERE status = 'pending' as a hard backstop.
func (r *Repository) HasOpenOffer(ctx context.Context, tx pgx.Tx, jobID, technicianID uuid.UUID) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM offers WHERE job_id = $1 AND technician_id = $2 AND status = $3
		)
	`, jobID, technicianID, models.OfferStatusPending).Scan(&exists)
	return exists, err
}

func (r *Repository) MarkAccepted(ctx context.Context, tx pgx.Tx, offerID uuid.UUID) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE offers SET status = $2 WHERE id = $1 AND status = $3
	`, offerID, models.OfferStatusAccepted, models.OfferStatusPending)
	return tag.RowsAffected() == 1, err
}

// ExpireSiblings terminates every other pending offer on the job.
func (r *Repository) ExpireSiblings(ctx context.Context, tx pgx.Tx, jobID, acceptedID uuid.UUID) (int64, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE offers SET status = $3 WHERE job_id = $1 AND id <> $2 AND status = $4
	`, jobID, acceptedID, models.OfferStatusExpired, models.OfferStatusPending)
	return tag.RowsAffected(), err
}

func (r *Repository) UpdateStatus(ctx context.Context, tx pgx.Tx, offerID uuid.UUID, from, to string) (bool, error) {
	tag, err := tx.Exec(ctx, `UPDATE offers SET status = $3 WHERE id = $1 AND status = $2`, offerID, from, to)
	return tag.RowsAffected() == 1, err
}

// ExpireDue marks every pending offer whose expiry has passed.
func (r *Repository) ExpireDue(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE offers SET status = $1 WHERE status = $2 AND expires_at <= $3
	`, models.OfferStatusExpired, models.OfferStatusPending, now)
	return tag.RowsAffected(), err
}

func (r *Repository) ListByJob(ctx context.Context, jobID uuid.UUID) ([]*models.Offer, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+offerCols+` FROM offers WHERE job_id = $1 ORDER BY created_at ASC
	`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, o)
	}
	return list, rows.Err()
}
