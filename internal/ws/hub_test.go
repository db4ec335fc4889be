package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/kiwari-pos/kanban/internal/auth"
	"github.com/kiwari-pos/kanban/internal/enum"
	"github.com/kiwari-pos/kanban/internal/service"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// mockClient creates a client without a real WebSocket connection
func mockClient(hub *Hub, tenantID uuid.UUID) *Client {
	return &Client{
		hub:      hub,
		tenantID: tenantID,
		send:     make(chan []byte, 256),
	}
}

func runHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

func receive(t *testing.T, c *Client) Event {
	t.Helper()
	select {
	case msg := <-c.send:
		var ev Event
		if err := json.Unmarshal(msg, &ev); err != nil {
			t.Fatalf("unmarshal event: %v", err)
		}
		return ev
	case <-time.After(200 * time.Millisecond):
		t.Fatal("client did not receive message")
	}
	return Event{}
}

func expectNothing(t *testing.T, c *Client) {
	t.Helper()
	select {
	case <-c.send:
		t.Fatal("client should not have received a message")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubRegistrationAndCleanup(t *testing.T) {
	hub := runHub(t)
	tenant := uuid.New()
	c1 := mockClient(hub, tenant)
	c2 := mockClient(hub, tenant)

	hub.register <- c1
	hub.register <- c2
	time.Sleep(10 * time.Millisecond)
	if got := hub.Clients(tenant); got != 2 {
		t.Fatalf("expected 2 clients, got %d", got)
	}

	hub.unregister <- c1
	time.Sleep(10 * time.Millisecond)
	if got := hub.Clients(tenant); got != 1 {
		t.Fatalf("expected 1 client after first unregister, got %d", got)
	}

	hub.unregister <- c2
	time.Sleep(10 * time.Millisecond)
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	if hub.rooms[tenant] != nil {
		t.Fatal("room should be deleted when last client unregisters")
	}
}

func TestBroadcast_TenantIsolation(t *testing.T) {
	hub := runHub(t)
	t1, t2 := uuid.New(), uuid.New()
	a1, a2 := mockClient(hub, t1), mockClient(hub, t1)
	b := mockClient(hub, t2)
	for _, c := range []*Client{a1, a2, b} {
		hub.register <- c
	}
	time.Sleep(10 * time.Millisecond)

	payload := json.RawMessage(`{"refreshed_at":"2026-01-01T00:00:00Z"}`)
	if !hub.Broadcast(t1, Event{Type: EventBoardRefreshed, Payload: payload}) {
		t.Fatal("broadcast should be queued")
	}

	for i, c := range []*Client{a1, a2} {
		ev := receive(t, c)
		if ev.Type != EventBoardRefreshed {
			t.Errorf("client%d: type got %q", i+1, ev.Type)
		}
		if string(ev.Payload) != string(payload) {
			t.Errorf("client%d: payload got %s", i+1, ev.Payload)
		}
	}
	expectNothing(t, b)
}

func TestBroadcast_NeverBlocks(t *testing.T) {
	hub := NewHub(nil) // not running, nothing drains the queue

	done := make(chan int)
	go func() {
		dropped := 0
		for i := 0; i < 300; i++ {
			if !hub.Broadcast(uuid.New(), Event{Type: EventNotification}) {
				dropped++
			}
		}
		done <- dropped
	}()

	select {
	case dropped := <-done:
		if dropped != 300-256 {
			t.Errorf("dropped: got %d, want %d", dropped, 300-256)
		}
	case <-time.After(time.Second):
		t.Fatal("Broadcast blocked on a full queue")
	}
}

func TestHub_SlowClientIsDropped(t *testing.T) {
	hub := runHub(t)
	tenant := uuid.New()
	slow := &Client{hub: hub, tenantID: tenant, send: make(chan []byte)} // unbuffered, never read
	hub.register <- slow
	time.Sleep(10 * time.Millisecond)

	hub.Broadcast(tenant, Event{Type: EventNotification})
	time.Sleep(20 * time.Millisecond)

	if got := hub.Clients(tenant); got != 0 {
		t.Fatalf("slow client should be removed, %d left", got)
	}
	if _, ok := <-slow.send; ok {
		t.Fatal("slow client's channel should be closed")
	}
}

func TestHub_StopClosesClients(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	c := mockClient(hub, uuid.New())
	hub.register <- c
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case _, ok := <-c.send:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("client not closed on hub stop")
	}
}

func TestNotifier_UsesScopeTenant(t *testing.T) {
	hub := runHub(t)
	def, scoped := uuid.New(), uuid.New()
	cDef, cScoped := mockClient(hub, def), mockClient(hub, scoped)
	hub.register <- cDef
	hub.register <- cScoped
	time.Sleep(10 * time.Millisecond)

	n := NewNotifier(hub, def)

	ctx := service.WithScope(context.Background(), service.Scope{TenantID: scoped})
	n.Report(ctx, enum.NotifyWarning, "Successfully processed 2 items. Failed to process 1 items")

	ev := receive(t, cScoped)
	if ev.Type != EventNotification {
		t.Fatalf("type: got %q", ev.Type)
	}
	var body notification
	if err := json.Unmarshal(ev.Payload, &body); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if body.Kind != enum.NotifyWarning || !strings.HasPrefix(body.Message, "Successfully processed 2 items") {
		t.Errorf("payload: got %+v", body)
	}
	expectNothing(t, cDef)

	n.Report(context.Background(), enum.NotifyInfo, "No items processed")
	if ev := receive(t, cDef); ev.Type != EventNotification {
		t.Errorf("default tenant: type got %q", ev.Type)
	}
}

func TestNotifier_UnencodablePayloadIsLoggedNotSent(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	hub := NewHub(zap.New(core))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	tenant := uuid.New()
	c := mockClient(hub, tenant)
	hub.register <- c
	time.Sleep(10 * time.Millisecond)

	n := NewNotifier(hub, tenant)
	n.send(context.Background(), EventNotification, make(chan int))

	expectNothing(t, c)
	if got := logs.FilterMessage("encode event payload").Len(); got != 1 {
		t.Errorf("expected 1 encode error log, got %d", got)
	}
}

func TestServeWS(t *testing.T) {
	const secret = "ws-secret"
	hub := runHub(t)
	tenant := uuid.New()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWS(hub, secret, tenant, w, r)
	}))
	defer srv.Close()
	base := "ws" + strings.TrimPrefix(srv.URL, "http")

	// missing and foreign tokens are rejected before upgrade
	if _, resp, err := websocket.DefaultDialer.Dial(base, nil); err == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("missing token: expected 401, got %v", resp)
	}
	foreign, _ := auth.GenerateToken(secret, uuid.New(), uuid.New(), uuid.New(), enum.RoleViewer)
	if _, resp, err := websocket.DefaultDialer.Dial(base+"?token="+foreign, nil); err == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("foreign tenant: expected 403, got %v", resp)
	}

	token, _ := auth.GenerateToken(secret, uuid.New(), tenant, uuid.New(), enum.RoleViewer)
	conn, _, err := websocket.DefaultDialer.Dial(base+"?token="+token, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(time.Second)
	for hub.Clients(tenant) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	NewNotifier(hub, tenant).Report(context.Background(), enum.NotifySuccess, "Successfully processed 1 items")

	conn.SetReadDeadline(time.Now().Add(time.Second))
	var ev Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read: %v", err)
	}
	if ev.Type != EventNotification {
		t.Errorf("type: got %q", ev.Type)
	}
}
