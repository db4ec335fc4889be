package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiwari-pos/kanban/internal/enum"
	"github.com/kiwari-pos/kanban/internal/kanban"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Errors returned by the board.
var (
	ErrUnknownTab    = errors.New("unknown tab")
	ErrGroupNotFound = errors.New("group not found")
	ErrItemNotFound  = errors.New("item not found")
)

// snapshot is one tenant's classified view of the card store.
type snapshot struct {
	scope       Scope
	items       []kanban.OrderItem
	byID        map[kanban.CardID]kanban.OrderItem
	refreshedAt time.Time
}

// Board holds the latest classified snapshot of the card store per tenant.
// The tenant comes from the request scope, or is defaultTenant when the
// context carries none. Every Refresh replaces that tenant's snapshot
// wholesale; groups are always rebuilt from it.
type Board struct {
	fetcher       CardFetcher
	defaultTenant uuid.UUID
	logger        *zap.Logger
	now           func() time.Time

	mu        sync.RWMutex
	snapshots map[uuid.UUID]*snapshot
}

// NewBoard creates an empty Board. Call Refresh to load it.
func NewBoard(fetcher CardFetcher, defaultTenant uuid.UUID, logger *zap.Logger) *Board {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Board{
		fetcher:       fetcher,
		defaultTenant: defaultTenant,
		logger:        logger,
		now:           time.Now,
		snapshots:     make(map[uuid.UUID]*snapshot),
	}
}

func (b *Board) tenant(ctx context.Context) (uuid.UUID, Scope) {
	if s, ok := ScopeFromContext(ctx); ok && s.TenantID != uuid.Nil {
		return s.TenantID, s
	}
	return b.defaultTenant, Scope{TenantID: b.defaultTenant}
}

func (b *Board) snapshot(ctx context.Context) *snapshot {
	tenant, _ := b.tenant(ctx)
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.snapshots[tenant]
}

// Refresh fetches the three buckets concurrently and swaps in the new
// snapshot for the context's tenant. If any fetch fails the previous
// snapshot is kept.
func (b *Board) Refresh(ctx context.Context) error {
	tenant, scope := b.tenant(ctx)
	var requested, inProcess, requesting []kanban.RawCard

	g, gctx := errgroup.WithContext(ctx)
	fetch := func(bucket string, dst *[]kanban.RawCard) {
		g.Go(func() error {
			cards, err := b.fetcher.FetchCards(gctx, bucket)
			if err != nil {
				return fmt.Errorf("fetch %s cards: %w", bucket, err)
			}
			*dst = cards
			return nil
		})
	}
	fetch(enum.BucketRequested, &requested)
	fetch(enum.BucketInProcess, &inProcess)
	fetch(enum.BucketRequesting, &requesting)
	if err := g.Wait(); err != nil {
		return err
	}

	items, skipped := kanban.ClassifyAll(requested, inProcess, requesting)
	if skipped > 0 {
		b.logger.Warn("skipped card records without id", zap.Int("count", skipped))
	}

	snap := &snapshot{
		scope:       scope,
		items:       items,
		byID:        make(map[kanban.CardID]kanban.OrderItem, len(items)),
		refreshedAt: b.now(),
	}
	for _, it := range items {
		snap.byID[it.ID] = it
	}

	b.mu.Lock()
	b.snapshots[tenant] = snap
	b.mu.Unlock()

	b.logger.Debug("board refreshed", zap.Stringer("tenant_id", tenant), zap.Int("items", len(items)))
	return nil
}

// Scopes lists the scopes of every tenant loaded so far, other than the
// default tenant. Background refreshes walk these.
func (b *Board) Scopes() []Scope {
	b.mu.RLock()
	defer b.mu.RUnlock()
	scopes := make([]Scope, 0, len(b.snapshots))
	for tenant, snap := range b.snapshots {
		if tenant == b.defaultTenant {
			continue
		}
		scopes = append(scopes, snap.scope)
	}
	return scopes
}

// Items returns a copy of the context tenant's snapshot.
func (b *Board) Items(ctx context.Context) []kanban.OrderItem {
	snap := b.snapshot(ctx)
	if snap == nil {
		return nil
	}
	return append([]kanban.OrderItem(nil), snap.items...)
}

// Item looks up one card in the context tenant's snapshot.
func (b *Board) Item(ctx context.Context, id kanban.CardID) (kanban.OrderItem, error) {
	if snap := b.snapshot(ctx); snap != nil {
		if it, ok := snap.byID[id]; ok {
			return it, nil
		}
	}
	return kanban.OrderItem{}, fmt.Errorf("%w: %s", ErrItemNotFound, id)
}

// RefreshedAt is the time of the context tenant's last successful refresh.
func (b *Board) RefreshedAt(ctx context.Context) time.Time {
	if snap := b.snapshot(ctx); snap != nil {
		return snap.refreshedAt
	}
	return time.Time{}
}

// Groups builds the groups for mode and applies the tab and search filters.
func (b *Board) Groups(ctx context.Context, mode, tab, query string) ([]kanban.Group, error) {
	if !kanban.ValidTab(tab) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTab, tab)
	}
	groups, err := kanban.BuildGroups(b.Items(ctx), mode)
	if err != nil {
		return nil, err
	}
	return kanban.FilterGroups(groups, tab, query), nil
}

// Group returns one unfiltered group by key. Batch actions run against this.
func (b *Board) Group(ctx context.Context, mode, key string) (kanban.Group, error) {
	groups, err := kanban.BuildGroups(b.Items(ctx), mode)
	if err != nil {
		return kanban.Group{}, err
	}
	if mode == enum.GroupModeNone && len(groups) == 1 {
		return groups[0], nil
	}
	g, ok := kanban.FindGroup(groups, key)
	if !ok {
		return kanban.Group{}, fmt.Errorf("%w: %s %q", ErrGroupNotFound, mode, key)
	}
	return g, nil
}
