// Package auth issues and validates the bearer tokens the API runs on, and
// registers the three marketplace roles with their party rows and wallets.
package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/bcrypt"

	"github.com/hmapp/backend/internal/apperr"
	"github.com/hmapp/backend/internal/models"
)

type Service interface {
	Register(ctx context.Context, p RegisterParams) (*models.User, error)
	Login(ctx context.Context, email, password string) (string, *models.User, error)
	ValidateToken(token string) (uuid.UUID, string, error)
}

// RegisterParams carries one registration. CompanyName is required for
// company owners; CompanyID is required for technicians.
type RegisterParams struct {
	Email       string
	Password    string
	FullName    string
	Phone       *string
	Role        string
	CompanyName string
	CompanyID   uuid.UUID
}

type service struct {
	repo   *Repository
	secret []byte
}

func NewService(repo *Repository, secret string) *service {
	return &service{repo: repo, secret: []byte(secret)}
}

var _ Service = (*service)(nil)

type claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

func (s *service) Register(ctx context.Context, p RegisterParams) (*models.User, error) {
	p.Email = strings.ToLower(strings.TrimSpace(p.Email))
	if p.Email == "" || !strings.Contains(p.Email, "@") {
		return nil, apperr.Validation("valid email is required")
	}
	if len(p.Password) < 8 {
		return nil, apperr.Validation("password must be at least 8 characters")
	}
	if p.FullName == "" {
		return nil, apperr.Validation("full name is required")
	}
	switch p.Role {
	case models.RoleCustomer:
	case models.RoleCompanyOwner:
		if p.CompanyName == "" {
			return nil, apperr.Validation("company name is required")
		}
	case models.RoleTechnician:
		if p.CompanyID == uuid.Nil {
			return nil, apperr.Validation("company id is required")
		}
	default:
		return nil, apperr.Validation("unknown role")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(p.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	u, err := s.repo.CreateUser(ctx, p, string(hash))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, apperr.Validation("email already registered")
		}
		return nil, err
	}
	return u, nil
}

func (s *service) Login(ctx context.Context, email, password string) (string, *models.User, error) {
	u, hash, err := s.repo.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if apperr.Is(err, apperr.CodeNotFound) {
			return "", nil, apperr.Unauthorized("invalid credentials")
		}
		return "", nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return "", nil, apperr.Unauthorized("invalid credentials")
	}
	token, err := s.issueToken(u.ID, u.Role)
	if err != nil {
		return "", nil, err
	}
	return token, u, nil
}

func (s *service) issueToken(userID uuid.UUID, role string) (string, error) {
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Role: role,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return tok.SignedString(s.secret)
}

func (s *service) ValidateToken(token string) (uuid.UUID, string, error) {
	tok, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return uuid.Nil, "", apperr.Unauthorized("invalid token")
	}
	c, ok := tok.Claims.(*claims)
	if !ok || !tok.Valid {
		return uuid.Nil, "", apperr.Unauthorized("invalid token")
	}
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return uuid.Nil, "", apperr.Unauthorized("invalid token")
	}
	return id, c.Role, nil
}
