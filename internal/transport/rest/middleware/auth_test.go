package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"carelink/internal/model"
	"carelink/internal/repository"
	"carelink/internal/service"
)

func setup(t *testing.T) (*AuthMiddleware, string) {
	t.Helper()
	hash, err := service.HashPassword("pw")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	repo := seededRepo{u: &model.User{
		ID: "u1", Email: "u1@example.org", Role: model.RoleDoctor,
		HospitalIDs: []string{"hosp-a"}, PasswordHash: hash,
	}}
	svc := service.NewAuthService(repo, "test-secret")
	resp, err := svc.Login(context.Background(), "u1@example.org", "pw")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	return NewAuthMiddleware(svc), resp.Token
}

type seededRepo struct{ u *model.User }

func (r seededRepo) GetByID(_ context.Context, id string) (*model.User, error) {
	if id == r.u.ID {
		return r.u, nil
	}
	return nil, repository.ErrNotFound
}
func (r seededRepo) GetByEmail(_ context.Context, email string) (*model.User, error) {
	if email == r.u.Email {
		return r.u, nil
	}
	return nil, repository.ErrNotFound
}
func (r seededRepo) Create(context.Context, *model.User) error { return nil }

func protected(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetUserID(r.Context()) != "u1" {
			t.Error("user id missing from context")
		}
		if GetRole(r.Context()) != model.RoleDoctor {
			t.Error("role missing from context")
		}
		if h := GetHospitalIDs(r.Context()); len(h) != 1 || h[0] != "hosp-a" {
			t.Errorf("hospital scope = %v", h)
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestRequireAuthAcceptsBearerHeader(t *testing.T) {
	mw, token := setup(t)

	req := httptest.NewRequest("GET", "/v1/conversations", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	mw.RequireAuth(protected(t)).ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}
}

func TestRequireAuthAcceptsQueryToken(t *testing.T) {
	mw, token := setup(t)

	req := httptest.NewRequest("GET", "/v1/ws?token="+token, nil)
	rec := httptest.NewRecorder()

	mw.RequireAuth(protected(t)).ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}
}

func TestRequireAuthRejectsMissingAndBadTokens(t *testing.T) {
	mw, _ := setup(t)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run without valid auth")
	})

	req := httptest.NewRequest("GET", "/v1/conversations", nil)
	rec := httptest.NewRecorder()
	mw.RequireAuth(next).ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("missing token: status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest("GET", "/v1/conversations", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec = httptest.NewRecorder()
	mw.RequireAuth(next).ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad token: status = %d, want 401", rec.Code)
	}
}
