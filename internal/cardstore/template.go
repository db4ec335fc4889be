package cardstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/kiwari-pos/kanban/internal/service"
	"github.com/shopspring/decimal"
)

// TemplateComposer builds order emails locally. It is used when no compose
// service is configured and never fails for a non-empty request.
type TemplateComposer struct {
	// Sender signs the email; defaults to "Purchasing".
	Sender string
}

// Compose implements service.Composer.
func (t TemplateComposer) Compose(_ context.Context, req service.ComposeRequest) (*service.ComposeResult, error) {
	if len(req.Lines) == 0 {
		return nil, fmt.Errorf("compose email for %s: no items", req.Supplier)
	}
	sender := t.Sender
	if sender == "" {
		sender = "Purchasing"
	}
	return &service.ComposeResult{
		Subject: fmt.Sprintf("Purchase order for %s (%d items)", req.Supplier, len(req.Lines)),
		Body:    buildOrderEmail(req, sender),
	}, nil
}

func buildOrderEmail(req service.ComposeRequest, sender string) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Hello %s,\n\n", req.Supplier))
	sb.WriteString("We would like to order the following items:\n\n")

	for _, l := range req.Lines {
		qtyUnit := formatQtyUnit(l.Quantity, l.Unit)
		if qtyUnit != "" {
			sb.WriteString(fmt.Sprintf("- %s × %s\n", l.Name, qtyUnit))
		} else {
			sb.WriteString(fmt.Sprintf("- %s\n", l.Name))
		}
		if notes := strings.TrimSpace(l.Notes); notes != "" {
			sb.WriteString(fmt.Sprintf("  Note: %s\n", notes))
		}
	}

	sb.WriteString("\nPlease confirm availability and expected delivery date.\n\n")
	sb.WriteString(fmt.Sprintf("Thank you,\n%s\n", sender))
	return sb.String()
}

func formatQtyUnit(qty decimal.Decimal, unit string) string {
	if qty.IsZero() {
		return ""
	}
	s := qty.String()
	if unit == "" {
		return s
	}
	return s + " " + unit
}
