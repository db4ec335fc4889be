package service

import (
	"context"
	"errors"
	"sync"

	"github.com/kiwari-pos/kanban/internal/enum"
	"github.com/kiwari-pos/kanban/internal/kanban"
	"github.com/shopspring/decimal"
)

// --- Mock implementations ---

type transitionCall struct {
	ID    kanban.CardID
	Event kanban.Event
}

// mockStore implements CardStore. Calls are recorded under a mutex since the
// processor invokes Transition concurrently.
type mockStore struct {
	mu           sync.Mutex
	calls        []transitionCall
	transitionFn func(ctx context.Context, id kanban.CardID, event kanban.Event) error
	fetchFn      func(ctx context.Context, bucket string) ([]kanban.RawCard, error)
}

func (m *mockStore) Transition(ctx context.Context, id kanban.CardID, event kanban.Event) error {
	m.mu.Lock()
	m.calls = append(m.calls, transitionCall{ID: id, Event: event})
	m.mu.Unlock()
	if m.transitionFn != nil {
		return m.transitionFn(ctx, id, event)
	}
	return nil
}

func (m *mockStore) FetchCards(ctx context.Context, bucket string) ([]kanban.RawCard, error) {
	if m.fetchFn != nil {
		return m.fetchFn(ctx, bucket)
	}
	return nil, nil
}

func (m *mockStore) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *mockStore) calledIDs() map[kanban.CardID]kanban.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[kanban.CardID]kanban.Event, len(m.calls))
	for _, c := range m.calls {
		out[c.ID] = c.Event
	}
	return out
}

type mockComposer struct {
	mu        sync.Mutex
	requests  []ComposeRequest
	composeFn func(ctx context.Context, req ComposeRequest) (*ComposeResult, error)
}

func (m *mockComposer) Compose(ctx context.Context, req ComposeRequest) (*ComposeResult, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	if m.composeFn != nil {
		return m.composeFn(ctx, req)
	}
	return &ComposeResult{Subject: "Order", Body: "Please supply"}, nil
}

type notification struct {
	Kind    string
	Message string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (n *recordingNotifier) Report(_ context.Context, kind, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification{Kind: kind, Message: message})
}

type countingRefresher struct {
	mu    sync.Mutex
	count int
	err   error
}

func (r *countingRefresher) Refresh(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count++
	return r.err
}

var errNetwork = errors.New("connection reset by peer")

// --- Fixtures ---

func orderItem(id, supplier string, m kanban.Mechanism, link string, derived string) kanban.OrderItem {
	status := kanban.StatusAvailable
	switch derived {
	case enum.DerivedRequesting:
		status = kanban.StatusRequesting
	case enum.DerivedRequested:
		status = kanban.StatusRequested
	case enum.DerivedInProgress:
		status = kanban.StatusInProcess
	}
	return kanban.OrderItem{
		ID:            kanban.CardID(id),
		Name:          "item " + id,
		Status:        status,
		DerivedStatus: derived,
		SupplierName:  supplier,
		Mechanism:     m,
		LinkURL:       link,
		Quantity:      decimal.NewFromInt(1),
		UnitCost:      decimal.Zero,
	}
}

func groupOf(items ...kanban.OrderItem) kanban.Group {
	return kanban.Group{Mode: enum.GroupModeSupplier, Key: "g", Name: "g", Items: items}
}

type testDeps struct {
	store     *mockStore
	composer  *mockComposer
	notifier  *recordingNotifier
	refresher *countingRefresher
}

func newTestProcessor(opts ...ProcessorOption) (*Processor, *testDeps) {
	d := &testDeps{
		store:     &mockStore{},
		composer:  &mockComposer{},
		notifier:  &recordingNotifier{},
		refresher: &countingRefresher{},
	}
	gate := NewEmailGate(d.composer, d.store)
	p := NewProcessor(d.store, gate, d.refresher, d.notifier, nil, opts...)
	return p, d
}
