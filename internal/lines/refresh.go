package lines

import (
	"time"

	"github.com/fjod/go_cart/cart-engine/internal/domain"
	"github.com/fjod/go_cart/cart-engine/internal/pricing"
)

type Refreshed struct {
	Items     []domain.LineItem
	Totals    domain.Totals
	ItemCount int
	Outcomes  []domain.Outcome
	Changed   bool
}

// Refresh re-reads the live catalogue into every non-sale line. Sale lines
// keep the price they were added at. products holds the live records by id;
// a product missing from it is no longer sold.
func Refresh(agg *domain.Aggregate, products map[string]*domain.Product, now time.Time) *Refreshed {
	items := cloneItems(agg.Items)
	out := &Refreshed{}

	for i := range items {
		item := &items[i]
		if item.Tier == domain.TierSale {
			continue
		}

		name := snapshotName(*item)
		product, ok := products[item.ProductID]
		if !ok {
			out.Outcomes = append(out.Outcomes, domain.Warning("Item unavailable", "%s is no longer available", name))
			continue
		}
		variant, ok := product.Variant(item.VariantID)
		if !ok {
			out.Outcomes = append(out.Outcomes, domain.Warning("Item unavailable", "%s is no longer available", name))
			continue
		}

		fresh := variant.ForTier(item.Tier)
		oldPrice := pricing.UnitPrice(item.VariantSnapshot)
		newPrice := pricing.UnitPrice(fresh)
		snap := product.Snapshot()

		if !oldPrice.Equal(newPrice) {
			out.Outcomes = append(out.Outcomes, domain.Warning("Price changed", "Price of %s changed from %s to %s",
				name, oldPrice.StringFixed(2), newPrice.StringFixed(2)))
		}
		if !oldPrice.Equal(newPrice) || snap != item.ProductSnapshot || fresh.Title != item.VariantSnapshot.Title {
			out.Changed = true
			item.UpdatedAt = now
		}
		item.ProductSnapshot = snap
		item.VariantSnapshot = fresh
	}

	out.Totals, out.ItemCount = pricing.Reprice(items)
	if !out.Totals.FinalIncl.Equal(agg.Totals.FinalIncl) || out.ItemCount != agg.ItemCount {
		out.Changed = true
	}
	out.Items = items
	return out
}

func snapshotName(item domain.LineItem) string {
	name := item.ProductSnapshot.Name
	if name == "" {
		name = item.ProductID
	}
	if item.VariantSnapshot.Title == "" {
		return name
	}
	return name + " (" + item.VariantSnapshot.Title + ")"
}
