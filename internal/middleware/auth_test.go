package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/hmapp/backend/internal/models"
)

type stubValidator struct {
	userID uuid.UUID
	role   string
	err    error
	seen   string
}

func (s *stubValidator) ValidateToken(token string) (uuid.UUID, string, error) {
	s.seen = token
	return s.userID, s.role, s.err
}

func authedRequest(token string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/wallet", nil)
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	return req
}

func TestAuth_SetsPrincipal(t *testing.T) {
	v := &stubValidator{userID: uuid.New(), role: models.RoleCustomer}
	var got *Principal
	h := Auth(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = PrincipalFromCtx(r.Context())
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, authedRequest("Bearer tok-abc"))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if v.seen != "tok-abc" {
		t.Errorf("validator saw %q, want tok-abc", v.seen)
	}
	if got == nil || got.UserID != v.userID || got.Role != models.RoleCustomer {
		t.Errorf("principal = %+v, want user %s role customer", got, v.userID)
	}
}

func TestAuth_RejectsMissingOrMalformedHeader(t *testing.T) {
	v := &stubValidator{userID: uuid.New(), role: models.RoleCustomer}
	called := false
	h := Auth(v)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))

	for _, header := range []string{"", "tok-abc", "Basic dXNlcg==", "Bearer"} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, authedRequest(header))
		if w.Code != http.StatusForbidden {
			t.Errorf("header %q: status = %d, want 403", header, w.Code)
		}
	}
	if called {
		t.Error("handler reached without valid credentials")
	}
}

func TestAuth_RejectsInvalidToken(t *testing.T) {
	v := &stubValidator{err: errors.New("expired")}
	h := Auth(v)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Error("handler reached with invalid token")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, authedRequest("Bearer tok-bad"))
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
}

func TestAuth_BearerPrefixCaseInsensitive(t *testing.T) {
	v := &stubValidator{userID: uuid.New(), role: models.RoleTechnician}
	h := Auth(v)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, authedRequest("bearer tok-abc"))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestRequireRole(t *testing.T) {
	allowed := RequireRole(models.RoleCompanyOwner, models.RoleAdmin)

	run := func(p *Principal) int {
		called := false
		h := allowed(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
		req := httptest.NewRequest(http.MethodGet, "/api/v1/company/stats", nil)
		if p != nil {
			req = req.WithContext(WithPrincipal(req.Context(), p))
		}
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if called != (w.Code == http.StatusOK) {
			t.Errorf("handler called = %v with status %d", called, w.Code)
		}
		return w.Code
	}

	if code := run(&Principal{UserID: uuid.New(), Role: models.RoleCompanyOwner}); code != http.StatusOK {
		t.Errorf("company owner: status = %d, want 200", code)
	}
	if code := run(&Principal{UserID: uuid.New(), Role: models.RoleAdmin}); code != http.StatusOK {
		t.Errorf("admin: status = %d, want 200", code)
	}
	if code := run(&Principal{UserID: uuid.New(), Role: models.RoleCustomer}); code != http.StatusForbidden {
		t.Errorf("customer: status = %d, want 403", code)
	}
	if code := run(nil); code != http.StatusForbidden {
		t.Errorf("unauthenticated: status = %d, want 403", code)
	}
}
