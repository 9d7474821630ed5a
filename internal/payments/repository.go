package payments

import (
	"context"
	"encoding/json"
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

const linkCols = `id, job_id, customer_id, technician_id, subtotal, reward_discount, platform_fee, vat, total,
	payment_url, token, status, payment_method, gateway_reference, gateway_response, expires_at, paid_at, created_at`

func scanLink(row pgx.Row) (*models.PaymentLink, error) {
	var l models.PaymentLink
	err := row.Scan(&l.ID, &l.JobID, &l.CustomerID, &l.TechnicianID, &l.Subtotal, &l.RewardDiscount,
		&l.PlatformFee, &l.VAT, &l.Total, &l.PaymentURL, &l.Token, &l.Status, &l.PaymentMethod,
		&l.GatewayReference, &l.GatewayResponse, &l.ExpiresAt, &l.PaidAt, &l.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("payment link not found")
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *Repository) Create(ctx context.Context, tx pgx.Tx, l *models.PaymentLink) error {
	return tx.QueryRow(ctx, `
		INSERT INTO payment_links (id, job_id, customer_id, technician_id, subtotal, reward_discount, platform_fee, vat, total, payment_url, token, status, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at
	`, l.ID, l.JobID, l.CustomerID, l.TechnicianID, l.Subtotal, l.RewardDiscount, l.PlatformFee, l.VAT,
		l.Total, l.PaymentURL, l.Token, l.Status, l.ExpiresAt).Scan(&l.CreatedAt)
}

func (r *Repository) GetByToken(ctx context.Context, token string) (*models.PaymentLink, error) {
	return scanLink(r.pool.QueryRow(ctx, `SELECT `+linkCols+` FROM payment_links WHERE token = $1`, token))
}

// GetByTokenForUpdate locks the link row; webhook replays serialize here.
func (r *Repository) GetByTokenForUpdate(ctx context.Context, tx pgx.Tx, token string) (*models.PaymentLink, error) {
	return scanLink(tx.QueryRow(ctx, `SELECT `+linkCols+` FROM payment_links WHERE token = $1 FOR UPDATE`, token))
}

func (r *Repository) MarkPaid(ctx context.Context, tx pgx.Tx, linkID uuid.UUID, method, reference string, response json.RawMessage) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE payment_links
		SET status = $2, payment_method = $3, gateway_reference = $4, gateway_response = $5, paid_at = now()
		WHERE id = $1 AND status = $6
	`, linkID, models.PaymentStatusPaid, method, reference, response, models.PaymentStatusPending)
	return tag.RowsAffected() == 1, err
}

func (r *Repository) MarkFailed(ctx context.Context, tx pgx.Tx, linkID uuid.UUID, response json.RawMessage) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE payment_links SET status = $2, gateway_response = $3
		WHERE id = $1 AND status = $4
	`, linkID, models.PaymentStatusFailed, response, models.PaymentStatusPending)
	return tag.RowsAffected() == 1, err
}

func (r *Repository) MarkExpired(ctx context.Context, tx pgx.Tx, linkID uuid.UUID) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE payment_links SET status = $2 WHERE id = $1 AND status = $3
	`, linkID, models.PaymentStatusExpired, models.PaymentStatusPending)
	return tag.RowsAffected() == 1, err
}

func (r *Repository) ListDuePending(ctx context.Context, now time.Time, limit int) ([]*models.PaymentLink, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+linkCols+` FROM payment_links
		WHERE status = $1 AND expires_at <= $2
		ORDER BY expires_at ASC LIMIT $3
	`, models.PaymentStatusPending, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.PaymentLink
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, l)
	}
	return list, rows.Err()
}
