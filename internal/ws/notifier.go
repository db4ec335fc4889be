package ws

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/kiwari-pos/kanban/internal/service"
	"go.uber.org/zap"
)

type notification struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Notifier pushes batch notifications to the board clients of the request's
// tenant, or of the default tenant when the context carries no scope.
// Satisfies service.Notifier.
type Notifier struct {
	hub           *Hub
	defaultTenant uuid.UUID
}

func NewNotifier(hub *Hub, defaultTenant uuid.UUID) *Notifier {
	return &Notifier{hub: hub, defaultTenant: defaultTenant}
}

func (n *Notifier) Report(ctx context.Context, kind, message string) {
	n.send(ctx, EventNotification, notification{Kind: kind, Message: message})
}

// BoardRefreshed tells clients to reload the board.
func (n *Notifier) BoardRefreshed(ctx context.Context, at time.Time) {
	n.send(ctx, EventBoardRefreshed, map[string]time.Time{"refreshed_at": at})
}

func (n *Notifier) send(ctx context.Context, eventType string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		n.hub.logger.Error("encode event payload", zap.String("type", eventType), zap.Error(err))
		return
	}
	n.hub.Broadcast(n.tenant(ctx), Event{Type: eventType, Payload: payload})
}

func (n *Notifier) tenant(ctx context.Context) uuid.UUID {
	if s, ok := service.ScopeFromContext(ctx); ok && s.TenantID != uuid.Nil {
		return s.TenantID
	}
	return n.defaultTenant
}
