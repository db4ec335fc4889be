package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/kiwari-pos/kanban/internal/auth"
	"github.com/kiwari-pos/kanban/internal/enum"
	"github.com/kiwari-pos/kanban/internal/middleware"
	"github.com/kiwari-pos/kanban/internal/service"
)

const testSecret = "test-secret"

func serve(h http.Handler, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", "/", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestAuthMiddleware_ValidToken(t *testing.T) {
	userID := uuid.New()
	tenantID := uuid.New()
	companyID := uuid.New()
	token, _ := auth.GenerateToken(testSecret, userID, tenantID, companyID, enum.RolePurchaser)

	handler := middleware.Authenticate(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := middleware.ClaimsFromContext(r.Context())
		if claims == nil {
			t.Fatal("expected claims in context")
		}
		if claims.UserID != userID {
			t.Errorf("user ID: got %v, want %v", claims.UserID, userID)
		}

		scope, ok := service.ScopeFromContext(r.Context())
		if !ok {
			t.Fatal("expected scope in context")
		}
		if scope.TenantID != tenantID || scope.CompanyID != companyID || scope.UserID != userID {
			t.Errorf("scope: got %+v", scope)
		}
		w.WriteHeader(http.StatusOK)
	}))

	if rr := serve(handler, token); rr.Code != http.StatusOK {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	handler := middleware.Authenticate(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	if rr := serve(handler, ""); rr.Code != http.StatusUnauthorized {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestAuthMiddleware_InvalidFormat(t *testing.T) {
	handler := middleware.Authenticate(testSecret)(okHandler)

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Token abc")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestAuthMiddleware_InvalidToken(t *testing.T) {
	handler := middleware.Authenticate(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	if rr := serve(handler, "invalid-token"); rr.Code != http.StatusUnauthorized {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestRequireTenant(t *testing.T) {
	tenantID := uuid.New()
	own, _ := auth.GenerateToken(testSecret, uuid.New(), tenantID, uuid.New(), enum.RoleViewer)
	other, _ := auth.GenerateToken(testSecret, uuid.New(), uuid.New(), uuid.New(), enum.RoleOwner)

	handler := middleware.Authenticate(testSecret)(middleware.RequireTenant(tenantID)(okHandler))

	if rr := serve(handler, own); rr.Code != http.StatusOK {
		t.Errorf("own tenant: got %d, want %d", rr.Code, http.StatusOK)
	}
	if rr := serve(handler, other); rr.Code != http.StatusForbidden {
		t.Errorf("other tenant: got %d, want %d", rr.Code, http.StatusForbidden)
	}

	open := middleware.Authenticate(testSecret)(middleware.RequireTenant(uuid.Nil)(okHandler))
	if rr := serve(open, other); rr.Code != http.StatusOK {
		t.Errorf("unset tenant should accept any: got %d", rr.Code)
	}
}

func TestRequireTenant_NoClaims(t *testing.T) {
	handler := middleware.RequireTenant(uuid.New())(okHandler)
	if rr := serve(handler, ""); rr.Code != http.StatusUnauthorized {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestRequireRole(t *testing.T) {
	token, _ := auth.GenerateToken(testSecret, uuid.New(), uuid.New(), uuid.New(), enum.RoleViewer)

	// VIEWER trying to run a batch
	handler := middleware.Authenticate(testSecret)(middleware.RequireRole(enum.RoleOwner, enum.RoleManager, enum.RolePurchaser)(okHandler))

	if rr := serve(handler, token); rr.Code != http.StatusForbidden {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusForbidden)
	}

	purchaser, _ := auth.GenerateToken(testSecret, uuid.New(), uuid.New(), uuid.New(), enum.RolePurchaser)
	if rr := serve(handler, purchaser); rr.Code != http.StatusOK {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusOK)
	}
}
