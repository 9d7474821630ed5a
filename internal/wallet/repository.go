package wallet

import (
	"context"
	"errors"

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

const walletCols = `id, owner_type, owner_id, balance, pending_balance, total_earned, total_spent, total_withdrawn, currency, is_active, created_at, updated_at`

func scanWallet(row pgx.Row) (*models.Wallet, error) {
	var w models.Wallet
	err := row.Scan(&w.ID, &w.OwnerType, &w.OwnerID, &w.Balance, &w.PendingBalance,
		&w.TotalEarned, &w.TotalSpent, &w.TotalWithdrawn, &w.Currency, &w.IsActive,
		&w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("wallet not found")
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *Repository) GetByID(ctx context.Context, walletID uuid.UUID) (*models.Wallet, error) {
	return scanWallet(r.pool.QueryRow(ctx, `SELECT `+walletCols+` FROM wallets WHERE id = $1`, walletID))
}

// GetForUpdate locks the wallet row. Call within a transaction.
func (r *Repository) GetForUpdate(ctx context.Context, tx pgx.Tx, walletID uuid.UUID) (*models.Wallet, error) {
	return scanWallet(tx.QueryRow(ctx, `SELECT `+walletCols+` FROM wallets WHERE id = $1 FOR UPDATE`, walletID))
}

func (r *Repository) GetByOwner(ctx context.Context, ownerType string, ownerID uuid.UUID) (*models.Wallet, error) {
	return scanWallet(r.pool.QueryRow(ctx, `
		SELECT `+walletCols+` FROM wallets WHERE owner_type = $1 AND owner_id = $2
	`, ownerType, ownerID))
}

func (r *Repository) GetByOwnerForUpdate(ctx context.Context, tx pgx.Tx, ownerType string, ownerID uuid.UUID) (*models.Wallet, error) {
	return scanWallet(tx.QueryRow(ctx, `
		SELECT `+walletCols+` FROM wallets WHERE owner_type = $1 AND owner_id = $2 FOR UPDATE
	`, ownerType, ownerID))
}

func (r *Repository) Update(ctx context.Context, tx pgx.Tx, w *models.Wallet) error {
	_, err := tx.Exec(ctx, `
		UPDATE wallets
		SET balance = $2, pending_balance = $3, total_earned = $4, total_spent = $5, total_withdrawn = $6, updated_at = now()
		WHERE id = $1
	`, w.ID, w.Balance, w.PendingBalance, w.TotalEarned, w.TotalSpent, w.TotalWithdrawn)
	return err
}

func (r *Repository) InsertTransaction(ctx context.Context, tx pgx.Tx, t *models.WalletTransaction) error {
	return tx.QueryRow(ctx, `
		INSERT INTO wallet_transactions (id, wallet_id, amount, direction, balance_before, balance_after, type, job_id, batch_id, reference)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at
	`, t.ID, t.WalletID, t.Amount, t.Direction, t.BalanceBefore, t.BalanceAfter, t.Type, t.JobID, t.BatchID, t.Reference).Scan(&t.CreatedAt)
}

// EnsureWallet creates the owner's wallet if it does not exist yet.
func (r *Repository) EnsureWallet(ctx context.Context, ownerType string, ownerID uuid.UUID) (*models.Wallet, error) {
	return scanWallet(r.pool.QueryRow(ctx, `
		INSERT INTO wallets (id, owner_type, owner_id, currency, is_active)
		VALUES ($1, $2, $3, 'SAR', true)
		ON CONFLICT (owner_type, owner_id) DO UPDATE SET updated_at = now()
		RETURNING `+walletCols+`
	`, uuid.New(), ownerType, ownerID))
}

func (r *Repository) ListTransactions(ctx context.Context, walletID uuid.UUID, limit int) ([]*models.WalletTransaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, wallet_id, amount, direction, balance_before, balance_after, type, job_id, batch_id, reference, created_at
		FROM wallet_transactions WHERE wallet_id = $1 ORDER BY created_at DESC LIMIT $2
	`, walletID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.WalletTransaction
	for rows.Next() {
		var t models.WalletTransaction
		if err := rows.Scan(&t.ID, &t.WalletID, &t.Amount, &t.Direction, &t.BalanceBefore, &t.BalanceAfter,
			&t.Type, &t.JobID, &t.BatchID, &t.Reference, &t.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &t)
	}
	return list, rows.Err()
}
