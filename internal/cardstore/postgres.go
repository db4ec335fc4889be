package cardstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/kiwari-pos/kanban/internal/enum"
	"github.com/kiwari-pos/kanban/internal/kanban"
	"github.com/kiwari-pos/kanban/internal/service"
	"github.com/shopspring/decimal"
)

// ErrUnknownBucket is returned when fetching a bucket the store does not serve.
var ErrUnknownBucket = errors.New("unknown bucket")

// DBTX is the query surface of *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var bucketStatus = map[string]kanban.Status{
	enum.BucketRequesting: kanban.StatusRequesting,
	enum.BucketRequested:  kanban.StatusRequested,
	enum.BucketInProcess:  kanban.StatusInProcess,
}

// PostgresStore is a card store backed by the kanban_cards table. It serves
// the same contract as the remote card store.
type PostgresStore struct {
	db       DBTX
	tenantID uuid.UUID
}

// NewPostgresStore creates a store scoped to tenantID unless the request
// scope names another tenant.
func NewPostgresStore(db DBTX, tenantID uuid.UUID) *PostgresStore {
	return &PostgresStore{db: db, tenantID: tenantID}
}

func (s *PostgresStore) tenant(ctx context.Context) uuid.UUID {
	if sc, ok := service.ScopeFromContext(ctx); ok && sc.TenantID != uuid.Nil {
		return sc.TenantID
	}
	return s.tenantID
}

const fetchCardsSQL = `
SELECT id::text, status, name, supplier_name, order_mechanism, link_url,
       quantity::text, unit, unit_cost::text, notes, image_url
FROM kanban_cards
WHERE tenant_id = $1 AND status = $2
ORDER BY created_at, id`

// FetchCards returns the cards currently in bucket.
func (s *PostgresStore) FetchCards(ctx context.Context, bucket string) ([]kanban.RawCard, error) {
	status, ok := bucketStatus[bucket]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBucket, bucket)
	}

	rows, err := s.db.Query(ctx, fetchCardsSQL, s.tenant(ctx), string(status))
	if err != nil {
		return nil, &TransportError{Op: "fetch " + bucket, Err: err}
	}
	defer rows.Close()

	var cards []kanban.RawCard
	for rows.Next() {
		var (
			c            kanban.RawCard
			qty, unit    *string
			unitCost     *string
			id, st, name string
		)
		if err := rows.Scan(&id, &st, &name, &c.SupplierName, &c.OrderMechanism, &c.LinkURL,
			&qty, &unit, &unitCost, &c.Notes, &c.ImageURL); err != nil {
			return nil, fmt.Errorf("scan card: %w", err)
		}
		c.ID, c.Status, c.Name = &id, &st, &name
		if qty != nil || unit != nil {
			c.Quantity = &kanban.RawQuantity{Amount: parseDecimal(qty), Unit: unit}
		}
		c.UnitCost = parseDecimal(unitCost)
		cards = append(cards, c)
	}
	if err := rows.Err(); err != nil {
		return nil, &TransportError{Op: "fetch " + bucket, Err: err}
	}
	return cards, nil
}

func parseDecimal(s *string) *decimal.Decimal {
	if s == nil {
		return nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil
	}
	return &d
}

const transitionSQL = `
UPDATE kanban_cards SET status = $1, updated_at = now()
WHERE id = $2 AND tenant_id = $3 AND status = ANY($4)`

// Transition applies event with a conditional update, so a card that moved
// concurrently is rejected rather than overwritten.
func (s *PostgresStore) Transition(ctx context.Context, id kanban.CardID, event kanban.Event) error {
	sources := event.Sources()
	if len(sources) == 0 {
		return fmt.Errorf("%w: %q", kanban.ErrUnknownEvent, event)
	}
	cardID, err := uuid.Parse(string(id))
	if err != nil {
		return fmt.Errorf("%w: %s", ErrCardNotFound, id)
	}

	allowed := make([]string, len(sources))
	for i, st := range sources {
		allowed[i] = string(st)
	}
	tenantID := s.tenant(ctx)

	tag, err := s.db.Exec(ctx, transitionSQL, string(event.Target()), cardID, tenantID, allowed)
	if err != nil {
		return &TransportError{Op: event.Verb(), Err: err}
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var current string
	err = s.db.QueryRow(ctx, `SELECT status FROM kanban_cards WHERE id = $1 AND tenant_id = $2`, cardID, tenantID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrCardNotFound, id)
	}
	if err != nil {
		return &TransportError{Op: event.Verb(), Err: err}
	}
	return &kanban.TransitionError{CardID: id, From: kanban.Status(current), Event: event, Remote: true}
}

// NewCard is the input for InsertCard.
type NewCard struct {
	Name         string
	Status       kanban.Status
	SupplierName string
	Mechanism    kanban.Mechanism
	LinkURL      string
	Quantity     decimal.Decimal
	Unit         string
	UnitCost     decimal.Decimal
	Notes        string
}

const insertCardSQL = `
INSERT INTO kanban_cards (tenant_id, name, status, supplier_name, order_mechanism, link_url,
                          quantity, unit, unit_cost, notes)
VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), $7::numeric, NULLIF($8, ''), $9::numeric, NULLIF($10, ''))
RETURNING id`

// InsertCard creates a card. Used by seeding and tests.
func (s *PostgresStore) InsertCard(ctx context.Context, c NewCard) (kanban.CardID, error) {
	status := c.Status
	if status == "" {
		status = kanban.StatusAvailable
	}
	if _, ok := kanban.ParseStatus(string(status)); !ok {
		return "", fmt.Errorf("insert card %q: invalid status %q", c.Name, status)
	}

	var id uuid.UUID
	err := s.db.QueryRow(ctx, insertCardSQL,
		s.tenant(ctx), c.Name, string(status), c.SupplierName, string(c.Mechanism), c.LinkURL,
		c.Quantity.String(), c.Unit, c.UnitCost.String(), c.Notes,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("insert card %q: %w", c.Name, err)
	}
	return kanban.CardID(id.String()), nil
}
