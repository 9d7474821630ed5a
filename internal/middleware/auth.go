package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/hmapp/backend/internal/api"
	"github.com/hmapp/backend/internal/apperr"
)

type contextKey string

const ctxPrincipalKey contextKey = "principal"

// Principal is the authenticated caller: the user row id and role from the
// bearer token. Party-level resolution (customer id, technician id, company)
// happens in the handlers through the registry.
type Principal struct {
	UserID uuid.UUID
	Role   string
}

// TokenValidator validates a bearer token and returns the subject and role.
type TokenValidator interface {
	ValidateToken(token string) (uuid.UUID, string, error)
}

// Auth authenticates requests by validating the Bearer token and setting
// the principal into request context.
func Auth(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := extractBearer(r)
			if raw == "" {
				api.FailCode(w, apperr.CodeUnauthorized, "missing or malformed Authorization header")
				return
			}
			userID, role, err := validator.ValidateToken(raw)
			if err != nil {
				api.FailCode(w, apperr.CodeUnauthorized, "invalid token")
				return
			}
			ctx := context.WithValue(r.Context(), ctxPrincipalKey, &Principal{UserID: userID, Role: role})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects authenticated callers whose role is not in allowed.
func RequireRole(allowed ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := PrincipalFromCtx(r.Context())
			if p == nil {
				api.FailCode(w, apperr.CodeUnauthorized, "not authenticated")
				return
			}
			for _, role := range allowed {
				if p.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			api.FailCode(w, apperr.CodeUnauthorized, "role not permitted")
		})
	}
}

// PrincipalFromCtx returns the authenticated principal or nil.
func PrincipalFromCtx(ctx context.Context) *Principal {
	p, _ := ctx.Value(ctxPrincipalKey).(*Principal)
	return p
}

// WithPrincipal returns a context carrying the given principal.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, ctxPrincipalKey, p)
}

func extractBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
