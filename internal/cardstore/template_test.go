package cardstore

import (
	"context"
	"testing"

	"github.com/kiwari-pos/kanban/internal/service"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemplateComposer_Compose(t *testing.T) {
	res, err := TemplateComposer{Sender: "Kiwari Purchasing"}.Compose(context.Background(), service.ComposeRequest{
		Supplier: "Acme",
		Lines: []service.ComposeLine{
			{Name: "Nitrile gloves", Quantity: decimal.RequireFromString("2.5"), Unit: "box", Notes: "size M"},
			{Name: "Masking tape"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "Purchase order for Acme (2 items)", res.Subject)
	assert.Contains(t, res.Body, "Hello Acme,")
	assert.Contains(t, res.Body, "- Nitrile gloves × 2.5 box\n")
	assert.Contains(t, res.Body, "  Note: size M\n")
	assert.Contains(t, res.Body, "- Masking tape\n")
	assert.Contains(t, res.Body, "Kiwari Purchasing")
}

func TestTemplateComposer_NoItems(t *testing.T) {
	_, err := TemplateComposer{}.Compose(context.Background(), service.ComposeRequest{Supplier: "Acme"})
	assert.Error(t, err)
}

func TestFormatQtyUnit(t *testing.T) {
	assert.Equal(t, "", formatQtyUnit(decimal.Zero, "kg"))
	assert.Equal(t, "3", formatQtyUnit(decimal.NewFromInt(3), ""))
	assert.Equal(t, "1.25 l", formatQtyUnit(decimal.RequireFromString("1.25"), "l"))
}
