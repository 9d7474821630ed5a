package auth

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

// CreateUser inserts the user, its role-specific party row, and the party's
// wallet in one transaction, so a half-registered account can never exist.
func (r *Repository) CreateUser(ctx context.Context, p RegisterParams, passwordHash string) (*models.User, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	u := &models.User{
		ID:       uuid.New(),
		Email:    p.Email,
		FullName: p.FullName,
		Phone:    p.Phone,
		Role:     p.Role,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO users (id, email, full_name, phone, role, password_hash)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`, u.ID, u.Email, u.FullName, u.Phone, u.Role, passwordHash).Scan(&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}

	switch p.Role {
	case models.RoleCustomer:
		customerID := uuid.New()
		if _, err := tx.Exec(ctx, `
			INSERT INTO customers (id, user_id) VALUES ($1, $2)
		`, customerID, u.ID); err != nil {
			return nil, err
		}
		if err := ensureWallet(ctx, tx, models.WalletOwnerCustomer, customerID); err != nil {
			return nil, err
		}
	case models.RoleCompanyOwner:
		companyID := uuid.New()
		if _, err := tx.Exec(ctx, `
			INSERT INTO companies (id, owner_id, name, status)
			VALUES ($1, $2, $3, $4)
		`, companyID, u.ID, p.CompanyName, models.CompanyStatusPendingVerification); err != nil {
			return nil, err
		}
		if err := ensureWallet(ctx, tx, models.WalletOwnerCompany, companyID); err != nil {
			return nil, err
		}
	case models.RoleTechnician:
		technicianID := uuid.New()
		if _, err := tx.Exec(ctx, `
			INSERT INTO technicians (id, user_id, company_id, status)
			VALUES ($1, $2, $3, $4)
		`, technicianID, u.ID, p.CompanyID, models.TechStatusPendingApproval); err != nil {
			return nil, err
		}
		if err := ensureWallet(ctx, tx, models.WalletOwnerTechnician, technicianID); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return u, nil
}

func ensureWallet(ctx context.Context, tx pgx.Tx, ownerType string, ownerID uuid.UUID) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO wallets (id, owner_type, owner_id, currency, is_active)
		VALUES ($1, $2, $3, 'SAR', true)
		ON CONFLICT (owner_type, owner_id) DO NOTHING
	`, uuid.New(), ownerType, ownerID)
	return err
}

// GetByEmail returns the user and password hash for login.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*models.User, string, error) {
	var u models.User
	var hash string
	err := r.pool.QueryRow(ctx, `
		SELECT id, email, full_name, phone, role, password_hash, created_at, updated_at
		FROM users WHERE email = $1
	`, email).Scan(&u.ID, &u.Email, &u.FullName, &u.Phone, &u.Role, &hash, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, "", apperr.NotFound("user not found")
	}
	if err != nil {
		return nil, "", err
	}
	return &u, hash, nil
}
