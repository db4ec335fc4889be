package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/kiwari-pos/kanban/internal/kanban"
	"github.com/shopspring/decimal"
)

// CardFetcher loads one bucket of raw card records from the card store.
// Satisfied by *cardstore.HTTPStore and *cardstore.PostgresStore.
type CardFetcher interface {
	FetchCards(ctx context.Context, bucket string) ([]kanban.RawCard, error)
}

// CardTransitioner applies one lifecycle event to one card on the card store.
// A rejection because of the card's current status must match
// kanban.ErrInvalidTransition; anything else is treated as a transport failure.
type CardTransitioner interface {
	Transition(ctx context.Context, id kanban.CardID, event kanban.Event) error
}

// CardStore is the full card store surface used by the engine.
type CardStore interface {
	CardFetcher
	CardTransitioner
}

// ComposeLine is one item line handed to the email composer.
type ComposeLine struct {
	Name     string          `json:"name"`
	Quantity decimal.Decimal `json:"quantity"`
	Unit     string          `json:"unit,omitempty"`
	Notes    string          `json:"notes,omitempty"`
}

// ComposeContext identifies who the email is composed on behalf of.
type ComposeContext struct {
	TenantID  uuid.UUID
	CompanyID uuid.UUID
}

// ComposeRequest is the input to the external email composition service.
type ComposeRequest struct {
	Supplier  string        `json:"supplier"`
	Lines     []ComposeLine `json:"items"`
	TenantID  uuid.UUID     `json:"tenant_id"`
	CompanyID uuid.UUID     `json:"company_id"`
}

// ComposeResult is the generated email.
type ComposeResult struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Composer generates an order email for one supplier.
type Composer interface {
	Compose(ctx context.Context, req ComposeRequest) (*ComposeResult, error)
}

// Notifier delivers user-visible messages. Report must not block.
type Notifier interface {
	Report(ctx context.Context, kind, message string)
}

// Refresher reloads the card collection after a batch.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// LinkOpener opens an item's external order link. Failures are never fatal.
type LinkOpener interface {
	Open(ctx context.Context, url string) error
}

// LinkOpenerFunc adapts a function to LinkOpener.
type LinkOpenerFunc func(ctx context.Context, url string) error

func (f LinkOpenerFunc) Open(ctx context.Context, url string) error { return f(ctx, url) }

// NoopOpener discards links. Used where there is no browser to open them in.
var NoopOpener LinkOpener = LinkOpenerFunc(func(context.Context, string) error { return nil })

// --- Request scope ---

type scopeKey struct{}

// Scope carries the tenant a request acts for through the engine.
type Scope struct {
	TenantID  uuid.UUID
	CompanyID uuid.UUID
	UserID    uuid.UUID
}

// WithScope returns a context carrying s.
func WithScope(ctx context.Context, s Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

// ScopeFromContext returns the scope stored by WithScope.
func ScopeFromContext(ctx context.Context) (Scope, bool) {
	s, ok := ctx.Value(scopeKey{}).(Scope)
	return s, ok
}
