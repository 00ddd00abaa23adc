// Package pricing computes line and aggregate totals. Every intermediate
// amount is rounded to cents before it is used in the next step so totals
// are reproducible from the stored snapshots alone.
package pricing

import (
	"github.com/fjod/go_cart/cart-engine/internal/domain"
	"github.com/shopspring/decimal"
)

// VATRate is applied separately to goods and deposits.
var VATRate = decimal.RequireFromString("0.15")

// Round2 rounds half away from zero to two decimal places.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// UnitPrice resolves the VAT-exclusive unit price: rental, then an active
// sale, then the regular selling price.
func UnitPrice(v domain.Variant) decimal.Decimal {
	switch v.ActiveTier() {
	case domain.TierRental:
		return Round2(v.Rental.RentalPriceExcl)
	case domain.TierSale:
		return Round2(v.Sale.SalePriceExcl)
	default:
		return Round2(v.Pricing.SellingPriceExcl)
	}
}

func LineTotals(v domain.Variant, quantity int) domain.LineTotals {
	qty := decimal.NewFromInt(int64(quantity))

	unit := UnitPrice(v)
	subtotal := Round2(unit.Mul(qty))

	returnable := decimal.Zero
	if v.Returnable != nil {
		returnableUnit := Round2(v.Returnable.FullReturnablePriceExcl)
		returnable = Round2(returnableUnit.Mul(qty))
	}

	itemVat := Round2(subtotal.Mul(VATRate))
	returnableVat := Round2(returnable.Mul(VATRate))
	totalVat := Round2(itemVat.Add(returnableVat))
	finalExcl := Round2(subtotal.Add(returnable))
	finalIncl := Round2(finalExcl.Add(totalVat))

	return domain.LineTotals{
		UnitPriceExcl:    unit,
		LineSubtotalExcl: subtotal,
		ReturnableExcl:   returnable,
		ReturnableVat:    returnableVat,
		ItemVat:          itemVat,
		TotalVat:         totalVat,
		FinalExcl:        finalExcl,
		FinalIncl:        finalIncl,
	}
}

// SaleSavings is what the customer saves on a line whose snapshot shows an
// active sale; zero otherwise.
func SaleSavings(item domain.LineItem) decimal.Decimal {
	v := item.VariantSnapshot
	if v.ActiveTier() != domain.TierSale {
		return decimal.Zero
	}
	regular := Round2(v.Pricing.SellingPriceExcl)
	sale := Round2(v.Sale.SalePriceExcl)
	perUnit := Round2(regular.Sub(sale))
	return Round2(perUnit.Mul(decimal.NewFromInt(int64(item.Quantity))))
}

func AggregateTotals(items []domain.LineItem) domain.Totals {
	t := domain.ZeroTotals()
	for _, item := range items {
		lt := item.LineTotals
		t.SubtotalExcl = Round2(t.SubtotalExcl.Add(lt.LineSubtotalExcl))
		t.DepositTotalExcl = Round2(t.DepositTotalExcl.Add(lt.ReturnableExcl))
		t.VatTotal = Round2(t.VatTotal.Add(lt.TotalVat))
		t.SaleSavingsExcl = Round2(t.SaleSavingsExcl.Add(SaleSavings(item)))
	}
	t.FinalExcl = Round2(t.SubtotalExcl.Add(t.DepositTotalExcl))
	t.FinalIncl = Round2(t.FinalExcl.Add(t.VatTotal))
	return t
}

// Reprice recomputes every line's totals from its snapshot and returns the
// aggregate totals together with the item count.
func Reprice(items []domain.LineItem) (domain.Totals, int) {
	count := 0
	for i := range items {
		items[i].LineTotals = LineTotals(items[i].VariantSnapshot, items[i].Quantity)
		count += items[i].Quantity
	}
	return AggregateTotals(items), count
}
