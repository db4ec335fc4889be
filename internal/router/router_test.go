package router_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/kiwari-pos/kanban/internal/auth"
	"github.com/kiwari-pos/kanban/internal/config"
	"github.com/kiwari-pos/kanban/internal/enum"
	"github.com/kiwari-pos/kanban/internal/handler"
	"github.com/kiwari-pos/kanban/internal/kanban"
	"github.com/kiwari-pos/kanban/internal/lock"
	"github.com/kiwari-pos/kanban/internal/router"
	"github.com/kiwari-pos/kanban/internal/service"
	"github.com/kiwari-pos/kanban/internal/ws"
	"go.uber.org/zap"
)

const testSecret = "test-secret"

func strPtr(s string) *string { return &s }

// tenantStore holds cards for one tenant only and records transitions.
type tenantStore struct {
	owner uuid.UUID

	mu          sync.Mutex
	transitions []kanban.CardID
}

func (s *tenantStore) FetchCards(ctx context.Context, bucket string) ([]kanban.RawCard, error) {
	sc, _ := service.ScopeFromContext(ctx)
	if sc.TenantID != s.owner || bucket != enum.BucketRequesting {
		return nil, nil
	}
	return []kanban.RawCard{{
		ID:             strPtr("card-1"),
		Status:         strPtr("REQUESTING"),
		Name:           strPtr("Flour 25kg"),
		SupplierName:   strPtr("Acme"),
		OrderMechanism: strPtr("PHONE"),
	}}, nil
}

func (s *tenantStore) Transition(_ context.Context, id kanban.CardID, _ kanban.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transitions = append(s.transitions, id)
	return nil
}

func newTestServer(t *testing.T, store *tenantStore) *httptest.Server {
	t.Helper()
	cfg := &config.Config{JWTSecret: testSecret, AllowedOrigins: []string{"*"}}
	board := service.NewBoard(store, uuid.Nil, nil)
	proc := service.NewProcessor(store, nil, board, nil, nil)
	h := handler.NewKanbanHandler(board, proc, lock.NewMemoryGuard(), nil, nil)
	srv := httptest.NewServer(router.New(cfg, h, ws.NewHub(zap.NewNop()), zap.NewNop()))
	t.Cleanup(srv.Close)
	return srv
}

func tokenFor(t *testing.T, tenantID uuid.UUID) string {
	t.Helper()
	token, err := auth.GenerateToken(testSecret, uuid.New(), tenantID, uuid.New(), enum.RoleOwner)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return token
}

func do(t *testing.T, method, url, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

type boardBody struct {
	Groups []struct {
		Key   string `json:"key"`
		Items []struct {
			ID string `json:"id"`
		} `json:"items"`
	} `json:"groups"`
}

func listGroups(t *testing.T, baseURL, token string) boardBody {
	t.Helper()
	resp := do(t, http.MethodGet, baseURL+"/kanban/groups", token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list groups: expected 200, got %d", resp.StatusCode)
	}
	var body boardBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode groups: %v", err)
	}
	return body
}

func TestBoardIsIsolatedPerTenant(t *testing.T) {
	tenantA, tenantB := uuid.New(), uuid.New()
	store := &tenantStore{owner: tenantA}
	srv := newTestServer(t, store)
	tokenA, tokenB := tokenFor(t, tenantA), tokenFor(t, tenantB)

	if resp := do(t, http.MethodPost, srv.URL+"/kanban/refresh", tokenA); resp.StatusCode != http.StatusOK {
		t.Fatalf("tenant A refresh: expected 200, got %d", resp.StatusCode)
	}

	a := listGroups(t, srv.URL, tokenA)
	if len(a.Groups) != 1 || len(a.Groups[0].Items) != 1 || a.Groups[0].Items[0].ID != "card-1" {
		t.Fatalf("tenant A should see its card, got %+v", a)
	}

	b := listGroups(t, srv.URL, tokenB)
	if len(b.Groups) != 0 {
		t.Fatalf("tenant B sees another tenant's groups: %+v", b)
	}

	if resp := do(t, http.MethodGet, srv.URL+"/kanban/cards/card-1", tokenB); resp.StatusCode != http.StatusNotFound {
		t.Errorf("tenant B card lookup: expected 404, got %d", resp.StatusCode)
	}
	if resp := do(t, http.MethodPost, srv.URL+"/kanban/groups/supplier/Acme/order", tokenB); resp.StatusCode != http.StatusNotFound {
		t.Errorf("tenant B group order: expected 404, got %d", resp.StatusCode)
	}
	store.mu.Lock()
	n := len(store.transitions)
	store.mu.Unlock()
	if n != 0 {
		t.Errorf("expected no transitions from tenant B, got %d", n)
	}

	// Tenant B refreshing its own board leaves tenant A's snapshot intact.
	if resp := do(t, http.MethodPost, srv.URL+"/kanban/refresh", tokenB); resp.StatusCode != http.StatusOK {
		t.Fatalf("tenant B refresh: expected 200, got %d", resp.StatusCode)
	}
	if a := listGroups(t, srv.URL, tokenA); len(a.Groups) != 1 {
		t.Errorf("tenant A lost its snapshot after tenant B refreshed: %+v", a)
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, &tenantStore{})
	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("get health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}
