package lines

import (
	"math"
	"testing"
	"time"

	"github.com/fjod/go_cart/cart-engine/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func saleProduct(saleQty int) (domain.Product, domain.Variant) {
	v := domain.Variant{
		VariantID: "v1",
		Title:     "500ml",
		Pricing:   domain.Pricing{SellingPriceExcl: decimal.RequireFromString("10.00")},
		Sale: &domain.Sale{
			IsOnSale:      saleQty > 0,
			SalePriceExcl: decimal.RequireFromString("8.00"),
			QtyAvailable:  saleQty,
		},
	}
	p := domain.Product{ID: "p1", Name: "Cold Brew", Variants: []domain.Variant{v}}
	return p, v
}

func apply(t *testing.T, items []domain.LineItem, p domain.Product, v domain.Variant, req domain.MutationRequest) *Mutation {
	t.Helper()
	mut, err := Apply(Input{Kind: domain.KindCart, Items: items, Request: req, Product: p, Variant: v, Now: now})
	require.NoError(t, err)
	return mut
}

func lineByTier(t *testing.T, items []domain.LineItem, tier domain.PriceTier) domain.LineItem {
	t.Helper()
	for _, item := range items {
		if item.Tier == tier {
			return item
		}
	}
	t.Fatalf("no %s line", tier)
	return domain.LineItem{}
}

func sumQuantities(items []domain.LineItem) int {
	n := 0
	for _, item := range items {
		n += item.Quantity
	}
	return n
}

func TestApply_AddSplitsOverflowToRegularLine(t *testing.T) {
	p, v := saleProduct(3)
	mut := apply(t, nil, p, v, domain.MutationRequest{Mode: domain.ModeAdd, ProductID: "p1", VariantID: "v1", Quantity: 5})

	require.Len(t, mut.Items, 2)
	sale := lineByTier(t, mut.Items, domain.TierSale)
	regular := lineByTier(t, mut.Items, domain.TierRegular)

	assert.Equal(t, 3, sale.Quantity)
	assert.Equal(t, "24.00", sale.LineTotals.LineSubtotalExcl.StringFixed(2))
	assert.Equal(t, "3.60", sale.LineTotals.ItemVat.StringFixed(2))

	assert.Equal(t, 2, regular.Quantity)
	assert.Equal(t, "20.00", regular.LineTotals.LineSubtotalExcl.StringFixed(2))
	assert.Equal(t, "3.00", regular.LineTotals.ItemVat.StringFixed(2))
	assert.False(t, regular.VariantSnapshot.SaleActive(), "regular snapshot must not show the sale")
	assert.NotEqual(t, sale.CartItemKey, regular.CartItemKey)

	assert.Equal(t, domain.OutcomeWarning, mut.Outcome.Type)
	assert.Equal(t, "Sale stock unavailable; added 2 at regular price.", mut.Outcome.Message)
	assert.Equal(t, domain.StockDelta{Sale: 3}, mut.Delta)
	assert.Equal(t, 5, mut.ItemCount)
	assert.Equal(t, "44.00", mut.Totals.SubtotalExcl.StringFixed(2))
	assert.Equal(t, "6.00", mut.Totals.SaleSavingsExcl.StringFixed(2))
	assert.Equal(t, "6.60", mut.Totals.VatTotal.StringFixed(2))
	assert.Equal(t, "50.60", mut.Totals.FinalIncl.StringFixed(2))
	assert.True(t, mut.Changed)
}

func TestApply_AddMergesIntoExistingLine(t *testing.T) {
	p, v := saleProduct(10)
	first := apply(t, nil, p, v, domain.MutationRequest{Mode: domain.ModeAdd, ProductID: "p1", VariantID: "v1", Quantity: 2})
	second := apply(t, first.Items, p, v, domain.MutationRequest{Mode: domain.ModeAdd, ProductID: "p1", VariantID: "v1", Quantity: 3})

	require.Len(t, second.Items, 1)
	assert.Equal(t, first.Items[0].CartItemKey, second.Items[0].CartItemKey)
	assert.Equal(t, 5, second.Items[0].Quantity)
	assert.Equal(t, domain.OutcomeSuccess, second.Outcome.Type)
	assert.Equal(t, "Added 3 × Cold Brew (500ml) to your cart", second.Outcome.Message)
	assert.Equal(t, domain.StockDelta{Sale: 3}, second.Delta)
}

func TestApply_IncrementDepletedSaleLineSpills(t *testing.T) {
	p, v := saleProduct(2)
	first := apply(t, nil, p, v, domain.MutationRequest{Mode: domain.ModeAdd, ProductID: "p1", VariantID: "v1", Quantity: 2})
	saleKey := first.Items[0].CartItemKey

	// the ledger has since depleted the sale
	v.Sale.QtyAvailable = 0
	v.Sale.IsOnSale = false
	p.Variants[0] = v

	mut := apply(t, first.Items, p, v, domain.MutationRequest{Mode: domain.ModeIncrement, CartItemKey: saleKey, Quantity: 1})
	require.Len(t, mut.Items, 2)
	assert.Equal(t, 2, lineByTier(t, mut.Items, domain.TierSale).Quantity)
	assert.Equal(t, 1, lineByTier(t, mut.Items, domain.TierRegular).Quantity)
	assert.Equal(t, "Sale stock unavailable; added 1 at regular price.", mut.Outcome.Message)
	assert.Equal(t, domain.StockDelta{}, mut.Delta)

	// the frozen sale snapshot keeps its price
	assert.Equal(t, "16.00", lineByTier(t, mut.Items, domain.TierSale).LineTotals.LineSubtotalExcl.StringFixed(2))
}

func TestApply_SupplierOutOfStockVetoesIncrease(t *testing.T) {
	p, v := saleProduct(10)
	first := apply(t, nil, p, v, domain.MutationRequest{Mode: domain.ModeAdd, ProductID: "p1", VariantID: "v1", Quantity: 2})

	p.SupplierOutOfStock = true
	mut, err := Apply(Input{
		Kind:    domain.KindCart,
		Items:   first.Items,
		Request: domain.MutationRequest{Mode: domain.ModeIncrement, CartItemKey: first.Items[0].CartItemKey, Quantity: 1},
		Product: p,
		Variant: v,
		Now:     now,
	})
	assert.ErrorIs(t, err, domain.ErrSupplierOutOfStock)
	assert.Equal(t, domain.CodeSupplierUnavailable, domain.CodeOf(err))
	require.NotNil(t, mut)
	assert.Equal(t, domain.OutcomeError, mut.Outcome.Type)
	assert.False(t, mut.Changed)
	assert.True(t, mut.Delta.IsZero())
	assert.Equal(t, 2, mut.Items[0].Quantity)
}

func TestApply_SupplierOutOfStockAllowsDecrease(t *testing.T) {
	p, v := saleProduct(10)
	first := apply(t, nil, p, v, domain.MutationRequest{Mode: domain.ModeAdd, ProductID: "p1", VariantID: "v1", Quantity: 2})

	p.SupplierOutOfStock = true
	mut := apply(t, first.Items, p, v, domain.MutationRequest{Mode: domain.ModeDecrement, CartItemKey: first.Items[0].CartItemKey, Quantity: 1})
	assert.Equal(t, 1, mut.Items[0].Quantity)
	assert.Equal(t, domain.StockDelta{Sale: -1}, mut.Delta)
}

func TestApply_DecrementBeyondQuantityRemovesAndRestores(t *testing.T) {
	p, v := saleProduct(10)
	first := apply(t, nil, p, v, domain.MutationRequest{Mode: domain.ModeAdd, ProductID: "p1", VariantID: "v1", Quantity: 3})

	mut := apply(t, first.Items, p, v, domain.MutationRequest{Mode: domain.ModeDecrement, CartItemKey: first.Items[0].CartItemKey, Quantity: 10})
	assert.Empty(t, mut.Items)
	assert.Equal(t, domain.StockDelta{Sale: -3}, mut.Delta)
	assert.Equal(t, 0, mut.ItemCount)
	assert.Equal(t, "0.00", mut.Totals.FinalIncl.StringFixed(2))
	assert.Equal(t, "Item removed", mut.Outcome.Title)
}

func TestApply_RemoveMissingKeyIsNoop(t *testing.T) {
	p, v := saleProduct(10)
	first := apply(t, nil, p, v, domain.MutationRequest{Mode: domain.ModeAdd, ProductID: "p1", VariantID: "v1", Quantity: 3})

	mut := apply(t, first.Items, p, v, domain.MutationRequest{Mode: domain.ModeRemove, CartItemKey: "does-not-exist"})
	assert.False(t, mut.Changed)
	assert.Equal(t, domain.OutcomeInfo, mut.Outcome.Type)
	assert.Equal(t, first.Totals, mut.Totals)
	assert.Equal(t, first.Items, mut.Items)
	assert.True(t, mut.Delta.IsZero())
}

func TestApply_RemoveRegularLineRestoresNothing(t *testing.T) {
	p, v := saleProduct(1)
	first := apply(t, nil, p, v, domain.MutationRequest{Mode: domain.ModeAdd, ProductID: "p1", VariantID: "v1", Quantity: 3})
	regular := lineByTier(t, first.Items, domain.TierRegular)

	mut := apply(t, first.Items, p, v, domain.MutationRequest{Mode: domain.ModeRemove, CartItemKey: regular.CartItemKey})
	require.Len(t, mut.Items, 1)
	assert.Equal(t, domain.TierSale, mut.Items[0].Tier)
	assert.True(t, mut.Delta.IsZero())
}

func TestApply_SetSameQuantityReprices(t *testing.T) {
	p, v := saleProduct(0)
	first := apply(t, nil, p, v, domain.MutationRequest{Mode: domain.ModeAdd, ProductID: "p1", VariantID: "v1", Quantity: 2})

	stale := cloneItems(first.Items)
	stale[0].LineTotals = domain.LineTotals{}

	mut := apply(t, stale, p, v, domain.MutationRequest{Mode: domain.ModeSet, CartItemKey: stale[0].CartItemKey, Quantity: 2})
	assert.True(t, mut.Changed)
	assert.Equal(t, "Totals recalculated", mut.Outcome.Message)
	assert.Equal(t, "20.00", mut.Items[0].LineTotals.LineSubtotalExcl.StringFixed(2))
	assert.True(t, mut.Delta.IsZero())
}

func TestApply_SetSameQuantityIsNoop(t *testing.T) {
	p, v := saleProduct(0)
	first := apply(t, nil, p, v, domain.MutationRequest{Mode: domain.ModeAdd, ProductID: "p1", VariantID: "v1", Quantity: 2})

	mut := apply(t, first.Items, p, v, domain.MutationRequest{Mode: domain.ModeSet, CartItemKey: first.Items[0].CartItemKey, Quantity: 2})
	assert.False(t, mut.Changed)
	assert.Equal(t, domain.OutcomeInfo, mut.Outcome.Type)
	assert.Equal(t, "Quantity unchanged", mut.Outcome.Message)
	assert.Equal(t, 2, mut.ItemCount)
}

func TestApply_RejectsQuantityOverLineLimit(t *testing.T) {
	p, v := saleProduct(0)
	first := apply(t, nil, p, v, domain.MutationRequest{Mode: domain.ModeAdd, ProductID: "p1", VariantID: "v1", Quantity: 5})

	tests := []struct {
		name string
		req  domain.MutationRequest
	}{
		{"add max int", domain.MutationRequest{Mode: domain.ModeAdd, ProductID: "p1", VariantID: "v1", Quantity: math.MaxInt}},
		{"increment max int", domain.MutationRequest{Mode: domain.ModeIncrement, CartItemKey: first.Items[0].CartItemKey, Quantity: math.MaxInt}},
		{"add past limit", domain.MutationRequest{Mode: domain.ModeAdd, ProductID: "p1", VariantID: "v1", Quantity: domain.MaxLineQuantity - 4}},
		{"set past limit", domain.MutationRequest{Mode: domain.ModeSet, CartItemKey: first.Items[0].CartItemKey, Quantity: domain.MaxLineQuantity + 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mut, err := Apply(Input{Kind: domain.KindCart, Items: first.Items, Request: tt.req, Product: p, Variant: v, Now: now})
			require.Error(t, err)
			assert.Nil(t, mut)
			assert.ErrorIs(t, err, domain.ErrInvalidQuantity)
			assert.Equal(t, domain.CodeValidation, domain.CodeOf(err))
		})
	}

	mut := apply(t, first.Items, p, v, domain.MutationRequest{Mode: domain.ModeAdd, ProductID: "p1", VariantID: "v1", Quantity: domain.MaxLineQuantity - 5})
	assert.Equal(t, domain.MaxLineQuantity, mut.ItemCount)
}

func TestApply_SaleOverflowIntoFullRegularLineRejected(t *testing.T) {
	p, v := saleProduct(0)
	regular := apply(t, nil, p, v, domain.MutationRequest{Mode: domain.ModeAdd, ProductID: "p1", VariantID: "v1", Quantity: domain.MaxLineQuantity})

	p, v = saleProduct(2)
	sale := apply(t, regular.Items, p, v, domain.MutationRequest{Mode: domain.ModeAdd, ProductID: "p1", VariantID: "v1", Quantity: 2})
	require.Len(t, sale.Items, 2)

	p, v = saleProduct(1)
	_, err := Apply(Input{Kind: domain.KindCart, Items: sale.Items, Request: domain.MutationRequest{
		Mode: domain.ModeIncrement, CartItemKey: lineByTier(t, sale.Items, domain.TierSale).CartItemKey, Quantity: 5,
	}, Product: p, Variant: v, Now: now})
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)
}

func TestApply_SaleCapReportsSaleStock(t *testing.T) {
	p, v := saleProduct(2)
	v.Inventory = []domain.LocationStock{{LocationID: "a", Quantity: 0}}
	p.Variants[0] = v

	mut := apply(t, nil, p, v, domain.MutationRequest{Mode: domain.ModeAdd, ProductID: "p1", VariantID: "v1", Quantity: 5})
	require.Len(t, mut.Items, 1)
	assert.Equal(t, domain.TierSale, mut.Items[0].Tier)
	assert.Equal(t, domain.OutcomeWarning, mut.Outcome.Type)
	assert.Equal(t, "Quantity reduced to 2 due to limited sale stock", mut.Outcome.Message)
	assert.Equal(t, domain.StockDelta{Sale: 2}, mut.Delta)
}

func TestApply_SetZeroRemovesLine(t *testing.T) {
	p, v := saleProduct(10)
	first := apply(t, nil, p, v, domain.MutationRequest{Mode: domain.ModeAdd, ProductID: "p1", VariantID: "v1", Quantity: 4})

	mut := apply(t, first.Items, p, v, domain.MutationRequest{Mode: domain.ModeSet, CartItemKey: first.Items[0].CartItemKey, Quantity: 0})
	assert.Empty(t, mut.Items)
	assert.Equal(t, domain.StockDelta{Sale: -4}, mut.Delta)
}

func TestApply_CappedByRentalStock(t *testing.T) {
	v := domain.Variant{
		VariantID: "r1",
		Pricing:   domain.Pricing{SellingPriceExcl: decimal.NewFromInt(100)},
		Rental: &domain.Rental{
			IsRental:        true,
			RentalPriceExcl: decimal.RequireFromString("12.50"),
			LimitedStock:    true,
			QtyAvailable:    2,
		},
	}
	p := domain.Product{ID: "p9", Name: "Water Cooler", Variants: []domain.Variant{v}}

	mut := apply(t, nil, p, v, domain.MutationRequest{Mode: domain.ModeAdd, ProductID: "p9", VariantID: "r1", Quantity: 5})
	require.Len(t, mut.Items, 1)
	assert.Equal(t, domain.TierRental, mut.Items[0].Tier)
	assert.Equal(t, 2, mut.Items[0].Quantity)
	assert.Equal(t, "25.00", mut.Items[0].LineTotals.LineSubtotalExcl.StringFixed(2))
	assert.Equal(t, domain.OutcomeWarning, mut.Outcome.Type)
	assert.Equal(t, "Quantity reduced to 2 due to limited rental stock", mut.Outcome.Message)
	assert.Equal(t, domain.StockDelta{Rental: 2}, mut.Delta)
}

func TestApply_ZeroGrantIsStockUnavailableOutcome(t *testing.T) {
	v := domain.Variant{
		VariantID: "v1",
		Pricing:   domain.Pricing{SellingPriceExcl: decimal.NewFromInt(5)},
		Inventory: []domain.LocationStock{{LocationID: "a", Quantity: 2}},
	}
	p := domain.Product{ID: "p1", Name: "Cups", Variants: []domain.Variant{v}}

	first := apply(t, nil, p, v, domain.MutationRequest{Mode: domain.ModeAdd, ProductID: "p1", VariantID: "v1", Quantity: 2})
	mut := apply(t, first.Items, p, v, domain.MutationRequest{Mode: domain.ModeAdd, ProductID: "p1", VariantID: "v1", Quantity: 1})

	assert.Equal(t, domain.OutcomeError, mut.Outcome.Type)
	assert.Equal(t, "This item is out of stock", mut.Outcome.Message)
	assert.False(t, mut.Changed)
	assert.Equal(t, 2, mut.ItemCount)
}

func TestApply_SaleOverflowCappedByInventory(t *testing.T) {
	p, v := saleProduct(1)
	v.Inventory = []domain.LocationStock{{LocationID: "a", Quantity: 2}}
	p.Variants[0] = v

	mut := apply(t, nil, p, v, domain.MutationRequest{Mode: domain.ModeAdd, ProductID: "p1", VariantID: "v1", Quantity: 6})
	assert.Equal(t, 1, lineByTier(t, mut.Items, domain.TierSale).Quantity)
	assert.Equal(t, 2, lineByTier(t, mut.Items, domain.TierRegular).Quantity)
	assert.Equal(t, "Sale stock unavailable; added 2 at regular price.", mut.Outcome.Message)
	assert.Equal(t, "Only 3 could be added due to limited stock", mut.Outcome.Detail)
}

func TestApply_AdminDisabledSaleAddsAtRegular(t *testing.T) {
	p, v := saleProduct(5)
	v.Sale.DisabledByAdmin = true
	p.Variants[0] = v

	mut := apply(t, nil, p, v, domain.MutationRequest{Mode: domain.ModeAdd, ProductID: "p1", VariantID: "v1", Quantity: 7})
	require.Len(t, mut.Items, 1)
	assert.Equal(t, domain.TierRegular, mut.Items[0].Tier)
	assert.Equal(t, 7, mut.Items[0].Quantity)
	assert.True(t, mut.Delta.IsZero())
	assert.Equal(t, domain.OutcomeSuccess, mut.Outcome.Type)
}

func TestApply_Validation(t *testing.T) {
	p, v := saleProduct(5)
	cases := []struct {
		name string
		req  domain.MutationRequest
		want error
	}{
		{"missing mode", domain.MutationRequest{ProductID: "p1", VariantID: "v1", Quantity: 1}, domain.ErrInvalidMode},
		{"zero add", domain.MutationRequest{Mode: domain.ModeAdd, ProductID: "p1", VariantID: "v1"}, domain.ErrInvalidQuantity},
		{"negative increment", domain.MutationRequest{Mode: domain.ModeIncrement, CartItemKey: "k", Quantity: -1}, domain.ErrInvalidQuantity},
		{"zero decrement", domain.MutationRequest{Mode: domain.ModeDecrement, CartItemKey: "k"}, domain.ErrInvalidQuantity},
		{"negative set", domain.MutationRequest{Mode: domain.ModeSet, CartItemKey: "k", Quantity: -2}, domain.ErrInvalidQuantity},
		{"add without variant", domain.MutationRequest{Mode: domain.ModeAdd, ProductID: "p1", Quantity: 1}, domain.ErrInvalidRequest},
		{"no identity", domain.MutationRequest{Mode: domain.ModeRemove}, domain.ErrInvalidRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Apply(Input{Kind: domain.KindCart, Request: tc.req, Product: p, Variant: v, Now: now})
			assert.ErrorIs(t, err, tc.want)
			assert.Equal(t, domain.CodeValidation, domain.CodeOf(err))
		})
	}
}

func TestApply_IncrementUnknownKey(t *testing.T) {
	p, v := saleProduct(5)
	_, err := Apply(Input{
		Kind:    domain.KindOrder,
		Request: domain.MutationRequest{Mode: domain.ModeIncrement, CartItemKey: "ghost", Quantity: 1},
		Product: p,
		Variant: v,
		Now:     now,
	})
	assert.ErrorIs(t, err, domain.ErrItemNotFound)
}

func TestApply_DoesNotMutateInput(t *testing.T) {
	p, v := saleProduct(5)
	first := apply(t, nil, p, v, domain.MutationRequest{Mode: domain.ModeAdd, ProductID: "p1", VariantID: "v1", Quantity: 2})
	before := cloneItems(first.Items)

	_ = apply(t, first.Items, p, v, domain.MutationRequest{Mode: domain.ModeIncrement, CartItemKey: before[0].CartItemKey, Quantity: 2})
	assert.Equal(t, before, first.Items)
}

func TestApply_QuantityAndStockConservation(t *testing.T) {
	p, v := saleProduct(4)
	saleCounter := v.Sale.QtyAvailable

	var items []domain.LineItem
	requests := []domain.MutationRequest{
		{Mode: domain.ModeAdd, ProductID: "p1", VariantID: "v1", Quantity: 3},
		{Mode: domain.ModeAdd, ProductID: "p1", VariantID: "v1", Quantity: 3},
		{Mode: domain.ModeAdd, ProductID: "p1", VariantID: "v1", Quantity: 2},
	}
	for _, req := range requests {
		mut := apply(t, items, p, v, req)
		items = mut.Items
		saleCounter -= mut.Delta.Sale
		v.Sale.QtyAvailable = saleCounter
		v.Sale.IsOnSale = saleCounter > 0
		assert.Equal(t, sumQuantities(items), mut.ItemCount)
	}

	saleLine := lineByTier(t, items, domain.TierSale)
	assert.Equal(t, 4, saleLine.Quantity)
	assert.Equal(t, 4, lineByTier(t, items, domain.TierRegular).Quantity)
	assert.Equal(t, 0, saleCounter)

	mut := apply(t, items, p, v, domain.MutationRequest{Mode: domain.ModeRemove, CartItemKey: saleLine.CartItemKey})
	saleCounter -= mut.Delta.Sale
	assert.Equal(t, 4, saleCounter, "removing the sale line gives the allocation back")
	assert.Equal(t, 4, mut.ItemCount)
}
