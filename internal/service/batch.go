package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kiwari-pos/kanban/internal/enum"
	"github.com/kiwari-pos/kanban/internal/kanban"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultConcurrency = 8

// OutcomeKind classifies how a batch invocation ended.
type OutcomeKind string

const (
	OutcomeNothingToDo       OutcomeKind = "nothing_to_do"
	OutcomeNeedsConfirmation OutcomeKind = "needs_confirmation"
	OutcomeProcessed         OutcomeKind = "processed"
)

// Failure records one card that did not transition.
type Failure struct {
	CardID kanban.CardID `json:"card_id"`
	Reason string        `json:"reason"`
	Class  string        `json:"class"`
	Err    error         `json:"-"`
}

// BatchResult tallies per-card outcomes. Successful+Failed equals the number
// of cards attempted.
type BatchResult struct {
	Successful int       `json:"successful"`
	Failed     int       `json:"failed"`
	Failures   []Failure `json:"failures,omitempty"`
}

// Total is the number of cards attempted.
func (r BatchResult) Total() int { return r.Successful + r.Failed }

// IsPartial reports whether some but not all cards succeeded.
func (r BatchResult) IsPartial() bool { return r.Successful > 0 && r.Failed > 0 }

func (r *BatchResult) add(o BatchResult) {
	r.Successful += o.Successful
	r.Failed += o.Failed
	r.Failures = append(r.Failures, o.Failures...)
}

// BatchOutcome is what a batch or single-card action returns to its caller.
// Result covers direct transitions only; email items are reported per
// supplier in Email.
type BatchOutcome struct {
	Action     string          `json:"action"`
	Kind       OutcomeKind     `json:"outcome"`
	Result     BatchResult     `json:"result"`
	Skipped    []kanban.CardID `json:"skipped,omitempty"`
	Email      []*EmailOutcome `json:"email,omitempty"`
	Refreshed  bool            `json:"refreshed"`
	RefreshErr error           `json:"-"`
}

// Totals combines the direct and email tallies.
func (o *BatchOutcome) Totals() BatchResult {
	total := BatchResult{}
	total.add(o.Result)
	for _, e := range o.Email {
		total.add(e.Result)
	}
	return total
}

// OrderOptions controls an order batch.
type OrderOptions struct {
	// Confirmed proceeds with the orderable subset when some eligible items
	// lack order information.
	Confirmed bool
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithConcurrency caps the number of in-flight card store calls per batch.
func WithConcurrency(n int) ProcessorOption {
	return func(p *Processor) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithLinkStagger delays the i-th link open by i*d.
func WithLinkStagger(d time.Duration) ProcessorOption {
	return func(p *Processor) {
		if d >= 0 {
			p.stagger = d
		}
	}
}

// WithLogger sets the processor's logger.
func WithLogger(l *zap.Logger) ProcessorOption {
	return func(p *Processor) {
		if l != nil {
			p.logger = l
		}
	}
}

// Processor executes order and complete actions across a group of cards.
// It does not serialize batches; callers must not start a batch for a group
// while a previous one for the same group is still running.
type Processor struct {
	store       CardTransitioner
	gate        *EmailGate
	refresher   Refresher
	notifier    Notifier
	opener      LinkOpener
	concurrency int
	stagger     time.Duration
	logger      *zap.Logger
}

// NewProcessor creates a Processor. A nil opener disables link opening. A
// nil gate has no composer, so every EMAIL item fails to compose.
func NewProcessor(store CardTransitioner, gate *EmailGate, refresher Refresher, notifier Notifier, opener LinkOpener, opts ...ProcessorOption) *Processor {
	if opener == nil {
		opener = NoopOpener
	}
	if gate == nil {
		gate = NewEmailGate(nil, store)
	}
	p := &Processor{
		store:       store,
		gate:        gate,
		refresher:   refresher,
		notifier:    notifier,
		opener:      opener,
		concurrency: defaultConcurrency,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	gate.concurrency = p.concurrency
	gate.logger = p.logger
	return p
}

// --- Batch actions ---

// Order transitions every Requesting item in the group via accept. Items
// without order information require opts.Confirmed; without it no call is made.
// EMAIL items go through the email gate, grouped by supplier, concurrently
// with the direct items.
func (p *Processor) Order(ctx context.Context, group kanban.Group, opts OrderOptions) *BatchOutcome {
	out := &BatchOutcome{Action: enum.BatchActionOrder}

	eligible := withDerived(group.Items, enum.DerivedRequesting)
	if len(eligible) == 0 {
		return p.nothingToDo(ctx, out, "No items to order")
	}

	var withInfo, withoutInfo []kanban.OrderItem
	for _, it := range eligible {
		if kanban.CanOrderItem(it) {
			withInfo = append(withInfo, it)
		} else {
			withoutInfo = append(withoutInfo, it)
		}
	}
	out.Skipped = ids(withoutInfo)

	if len(withoutInfo) > 0 && !opts.Confirmed {
		out.Kind = OutcomeNeedsConfirmation
		return out
	}
	if len(withInfo) == 0 {
		return p.nothingToDo(ctx, out, "No items with order information")
	}

	var email, direct []kanban.OrderItem
	for _, it := range withInfo {
		if it.Mechanism == kanban.MechanismEmail {
			email = append(email, it)
		} else {
			direct = append(direct, it)
		}
	}
	suppliers, bySupplier := partitionBySupplier(email)
	out.Email = make([]*EmailOutcome, len(suppliers))
	cc := composeContext(ctx)

	var g errgroup.Group
	g.Go(func() error {
		out.Result = p.fanOut(ctx, direct, kanban.EventAccept, p.openLink)
		return nil
	})
	for i, supplier := range suppliers {
		g.Go(func() error {
			out.Email[i] = p.gate.Submit(ctx, supplier, bySupplier[supplier], cc)
			return nil
		})
	}
	_ = g.Wait()

	return p.finish(ctx, out)
}

// Complete transitions every Requested item in the group via start-processing.
func (p *Processor) Complete(ctx context.Context, group kanban.Group) *BatchOutcome {
	out := &BatchOutcome{Action: enum.BatchActionComplete}

	eligible := withDerived(group.Items, enum.DerivedRequested)
	if len(eligible) == 0 {
		return p.nothingToDo(ctx, out, "No items to complete")
	}
	out.Result = p.fanOut(ctx, eligible, kanban.EventStartProcessing, nil)
	return p.finish(ctx, out)
}

// --- Single-card actions ---

// OrderOne orders a single card with the same rules as Order.
func (p *Processor) OrderOne(ctx context.Context, item kanban.OrderItem, opts OrderOptions) *BatchOutcome {
	return p.Order(ctx, single(item), opts)
}

// CompleteOne completes a single card with the same rules as Complete.
func (p *Processor) CompleteOne(ctx context.Context, item kanban.OrderItem) *BatchOutcome {
	return p.Complete(ctx, single(item))
}

// Request moves an available card into the requesting queue.
func (p *Processor) Request(ctx context.Context, item kanban.OrderItem) *BatchOutcome {
	out := &BatchOutcome{Action: enum.CardActionRequest}
	out.Result = p.fanOut(ctx, []kanban.OrderItem{item}, kanban.EventRequest, nil)
	return p.finish(ctx, out)
}

// Fulfill marks a card as received, from any non-terminal status.
func (p *Processor) Fulfill(ctx context.Context, item kanban.OrderItem) *BatchOutcome {
	out := &BatchOutcome{Action: enum.CardActionFulfill}
	out.Result = p.fanOut(ctx, []kanban.OrderItem{item}, kanban.EventFulfill, nil)
	return p.finish(ctx, out)
}

// --- Internals ---

// fanOut issues event for every item concurrently and waits for all of them.
// Each task writes only its own slot; one item's failure never cancels another.
func (p *Processor) fanOut(ctx context.Context, items []kanban.OrderItem, event kanban.Event, before func(ctx context.Context, i int, item kanban.OrderItem)) BatchResult {
	return fanOut(ctx, p.store, p.concurrency, p.logger, items, event, before)
}

func fanOut(ctx context.Context, store CardTransitioner, limit int, logger *zap.Logger, items []kanban.OrderItem, event kanban.Event, before func(ctx context.Context, i int, item kanban.OrderItem)) BatchResult {
	errs := make([]error, len(items))

	var g errgroup.Group
	g.SetLimit(limit)
	for i, it := range items {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					errs[i] = fmt.Errorf("%s card %s: panic: %v", event, it.ID, r)
				}
			}()
			if before != nil {
				before(ctx, i, it)
			}
			errs[i] = transitionCard(ctx, store, it, event)
			return nil
		})
	}
	_ = g.Wait()

	var res BatchResult
	for i, err := range errs {
		if err == nil {
			res.Successful++
			continue
		}
		class := errorClass(err)
		logger.Warn("card transition failed",
			zap.String("card_id", string(items[i].ID)),
			zap.String("event", string(event)),
			zap.String("class", class),
			zap.Error(err),
		)
		res.Failed++
		res.Failures = append(res.Failures, Failure{CardID: items[i].ID, Reason: err.Error(), Class: class, Err: err})
	}
	return res
}

// transitionCard validates locally before calling the card store. A local
// rejection never reaches the network.
func transitionCard(ctx context.Context, store CardTransitioner, item kanban.OrderItem, event kanban.Event) error {
	if _, err := kanban.ApplyCard(item, event); err != nil {
		return err
	}
	if err := store.Transition(ctx, item.ID, event); err != nil {
		return fmt.Errorf("%s card %s: %w", event.Verb(), item.ID, err)
	}
	return nil
}

func errorClass(err error) string {
	switch {
	case errors.Is(err, kanban.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrComposeFailed):
		return "compose"
	}
	return "transport"
}

// openLink waits for the item's stagger slot and opens its link. Errors are
// logged and otherwise ignored.
func (p *Processor) openLink(ctx context.Context, i int, item kanban.OrderItem) {
	if item.LinkURL == "" {
		return
	}
	if d := time.Duration(i) * p.stagger; d > 0 {
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
	if err := p.opener.Open(ctx, item.LinkURL); err != nil {
		p.logger.Debug("open link failed", zap.String("card_id", string(item.ID)), zap.Error(err))
	}
}

func (p *Processor) nothingToDo(ctx context.Context, out *BatchOutcome, message string) *BatchOutcome {
	out.Kind = OutcomeNothingToDo
	p.notify(ctx, enum.NotifyInfo, message)
	return out
}

// finish reports one summary for the invocation and refreshes once if
// anything succeeded.
func (p *Processor) finish(ctx context.Context, out *BatchOutcome) *BatchOutcome {
	out.Kind = OutcomeProcessed
	totals := out.Totals()

	kind, message := summary(totals)
	p.notify(ctx, kind, message)
	p.logger.Info("batch processed",
		zap.String("action", out.Action),
		zap.Int("successful", totals.Successful),
		zap.Int("failed", totals.Failed),
	)

	if totals.Successful > 0 && p.refresher != nil {
		if err := p.refresher.Refresh(ctx); err != nil {
			out.RefreshErr = err
			p.logger.Error("refresh after batch failed", zap.String("action", out.Action), zap.Error(err))
		} else {
			out.Refreshed = true
		}
	}
	return out
}

func (p *Processor) notify(ctx context.Context, kind, message string) {
	if p.notifier != nil {
		p.notifier.Report(ctx, kind, message)
	}
}

func withDerived(items []kanban.OrderItem, derived string) []kanban.OrderItem {
	var out []kanban.OrderItem
	for _, it := range items {
		if it.DerivedStatus == derived {
			out = append(out, it)
		}
	}
	return out
}

func ids(items []kanban.OrderItem) []kanban.CardID {
	if len(items) == 0 {
		return nil
	}
	out := make([]kanban.CardID, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

// partitionBySupplier groups email items per supplier in first-seen order.
func partitionBySupplier(items []kanban.OrderItem) ([]string, map[string][]kanban.OrderItem) {
	var order []string
	by := make(map[string][]kanban.OrderItem)
	for _, it := range items {
		s := kanban.NormalizeSupplier(it.SupplierName)
		if _, ok := by[s]; !ok {
			order = append(order, s)
		}
		by[s] = append(by[s], it)
	}
	return order, by
}

func single(item kanban.OrderItem) kanban.Group {
	return kanban.Group{
		Mode:                    enum.GroupModeNone,
		Key:                     string(item.ID),
		Name:                    item.Name,
		RepresentativeMechanism: item.Mechanism,
		Items:                   []kanban.OrderItem{item},
	}
}

func composeContext(ctx context.Context) ComposeContext {
	s, _ := ScopeFromContext(ctx)
	return ComposeContext{TenantID: s.TenantID, CompanyID: s.CompanyID}
}
