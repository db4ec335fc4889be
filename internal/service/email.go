package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/kiwari-pos/kanban/internal/kanban"
	"go.uber.org/zap"
)

// ErrComposeFailed is carried by an EmailOutcome whose compose step failed.
// No card in that outcome was transitioned.
var ErrComposeFailed = errors.New("email compose failed")

// EmailOutcome reports one supplier's pass through the email gate.
type EmailOutcome struct {
	Supplier string          `json:"supplier"`
	Composed bool            `json:"composed"`
	Email    *ComposeResult  `json:"email,omitempty"`
	Result   BatchResult     `json:"result"`
	CardIDs  []kanban.CardID `json:"card_ids"`
	Err      error           `json:"-"`
}

// EmailGate orders EMAIL items in two phases: compose one email for the
// supplier, then accept every card. If composing fails no accept is issued.
type EmailGate struct {
	composer    Composer
	store       CardTransitioner
	concurrency int
	logger      *zap.Logger
}

// NewEmailGate creates an EmailGate. NewProcessor aligns its concurrency and
// logger with the processor's.
func NewEmailGate(composer Composer, store CardTransitioner) *EmailGate {
	return &EmailGate{
		composer:    composer,
		store:       store,
		concurrency: defaultConcurrency,
		logger:      zap.NewNop(),
	}
}

// Submit runs the gate for one supplier's items.
func (g *EmailGate) Submit(ctx context.Context, supplier string, items []kanban.OrderItem, cc ComposeContext) *EmailOutcome {
	out := &EmailOutcome{Supplier: supplier, CardIDs: ids(items)}
	if len(items) == 0 {
		return out
	}

	req := ComposeRequest{
		Supplier:  supplier,
		Lines:     make([]ComposeLine, len(items)),
		TenantID:  cc.TenantID,
		CompanyID: cc.CompanyID,
	}
	for i, it := range items {
		req.Lines[i] = ComposeLine{Name: it.Name, Quantity: it.Quantity, Unit: it.Unit, Notes: it.Notes}
	}

	email, err := g.compose(ctx, req)
	if err != nil {
		out.Err = fmt.Errorf("%w for %s: %v", ErrComposeFailed, supplier, err)
		g.logger.Error("compose email failed",
			zap.String("supplier", supplier),
			zap.Int("items", len(items)),
			zap.Error(err),
		)
		for _, it := range items {
			out.Result.Failed++
			out.Result.Failures = append(out.Result.Failures, Failure{
				CardID: it.ID,
				Reason: out.Err.Error(),
				Class:  "compose",
				Err:    out.Err,
			})
		}
		return out
	}
	out.Composed = true
	out.Email = email

	out.Result = fanOut(ctx, g.store, g.concurrency, g.logger, items, kanban.EventAccept, nil)
	return out
}

func (g *EmailGate) compose(ctx context.Context, req ComposeRequest) (*ComposeResult, error) {
	if g.composer == nil {
		return nil, errors.New("no composer configured")
	}
	res, err := g.composer.Compose(ctx, req)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, errors.New("composer returned no email")
	}
	return res, nil
}
