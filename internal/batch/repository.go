package batch

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

const batchCols = `id, batch_number, company_id, technician_id, jobs_completed, target_jobs, status,
	total_revenue, company_share, can_withdraw, withdrawn_at, withdrawal_reference, created_at, updated_at`

func scanBatch(row pgx.Row) (*models.CompanyBatch, error) {
	var b models.CompanyBatch
	err := row.Scan(&b.ID, &b.BatchNumber, &b.CompanyID, &b.TechnicianID, &b.JobsCompleted, &b.TargetJobs,
		&b.Status, &b.TotalRevenue, &b.CompanyShare, &b.CanWithdraw, &b.WithdrawnAt, &b.WithdrawalReference,
		&b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("batch not found")
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *Repository) GetByID(ctx context.Context, batchID uuid.UUID) (*models.CompanyBatch, error) {
	return scanBatch(r.pool.QueryRow(ctx, `SELECT `+batchCols+` FROM company_batches WHERE id = $1`, batchID))
}

func (r *Repository) GetForUpdate(ctx context.Context, tx pgx.Tx, batchID uuid.UUID) (*models.CompanyBatch, error) {
	return scanBatch(tx.QueryRow(ctx, `SELECT `+batchCols+` FROM company_batches WHERE id = $1 FOR UPDATE`, batchID))
}

func (r *Repository) GetActiveForUpdate(ctx context.Context, tx pgx.Tx, companyID, technicianID uuid.UUID) (*models.CompanyBatch, error) {
	b, err := scanBatch(tx.QueryRow(ctx, `
		SELECT `+batchCols+` FROM company_batches
		WHERE company_id = $1 AND technician_id = $2 AND status = $3
		FOR UPDATE
	`, companyID, technicianID, models.BatchStatusActive))
	if apperr.Is(err, apperr.CodeNotFound) {
		return nil, nil
	}
	return b, err
}

func (r *Repository) Create(ctx context.Context, tx pgx.Tx, b *models.CompanyBatch) error {
	return tx.QueryRow(ctx, `
		INSERT INTO company_batches (id, batch_number, company_id, technician_id, jobs_completed, target_jobs, status, total_revenue, company_share, can_withdraw)
		VALUES ($1, 'BAT-' || to_char(now(), 'YYMMDD') || '-' || lpad(nextval('batch_number_seq')::text, 5, '0'),
			$2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING batch_number, created_at, updated_at
	`, b.ID, b.CompanyID, b.TechnicianID, b.JobsCompleted, b.TargetJobs, b.Status, b.TotalRevenue,
		b.CompanyShare, b.CanWithdraw).Scan(&b.BatchNumber, &b.CreatedAt, &b.UpdatedAt)
}

func (r *Repository) Update(ctx context.Context, tx pgx.Tx, b *models.CompanyBatch) error {
	_, err := tx.Exec(ctx, `
		UPDATE company_batches
		SET jobs_completed = $2, total_revenue = $3, company_share = $4, status = $5, can_withdraw = $6, updated_at = now()
		WHERE id = $1
	`, b.ID, b.JobsCompleted, b.TotalRevenue, b.CompanyShare, b.Status, b.CanWithdraw)
	return err
}

// MarkCompleted is the one-shot withdrawal guard: only a ready batch moves
// to completed, once.
func (r *Repository) MarkCompleted(ctx context.Context, tx pgx.Tx, batchID uuid.UUID, reference string, at time.Time) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE company_batches
		SET status = $2, can_withdraw = false, withdrawal_reference = $3, withdrawn_at = $4, updated_at = now()
		WHERE id = $1 AND status = $5 AND can_withdraw
	`, batchID, models.BatchStatusCompleted, reference, at, models.BatchStatusReady)
	return tag.RowsAffected() == 1, err
}

func (r *Repository) ListByCompany(ctx context.Context, companyID uuid.UUID, limit int) ([]*models.CompanyBatch, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+batchCols+` FROM company_batches
		WHERE company_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, companyID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var batches []*models.CompanyBatch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}
