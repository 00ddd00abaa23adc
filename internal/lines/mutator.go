// Package lines turns a mutation request into a new line list. It is pure:
// callers pass snapshots of the aggregate and the live variant and persist
// whatever Apply returns.
package lines

import (
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/cart-engine/internal/domain"
	"github.com/fjod/go_cart/cart-engine/internal/pricing"
	"github.com/fjod/go_cart/cart-engine/internal/stock"
)

type Input struct {
	Kind    domain.Kind
	Items   []domain.LineItem
	Request domain.MutationRequest
	Product domain.Product
	Variant domain.Variant
	Now     time.Time
}

type Mutation struct {
	Items     []domain.LineItem
	Totals    domain.Totals
	ItemCount int
	Outcome   domain.Outcome
	Delta     domain.StockDelta
	// Changed is false when nothing must be written.
	Changed bool
}

// Apply computes the line list that results from in.Request.
//
// A supplier veto returns both a Mutation carrying the error outcome and a
// SupplierUnavailable error. Running out of stock is a business outcome and
// returns no error.
func Apply(in Input) (*Mutation, error) {
	req := in.Request
	if err := validate(req); err != nil {
		return nil, err
	}

	m := &mutator{in: in, items: cloneItems(in.Items)}

	liveTier := in.Variant.ActiveTier()
	key, idx, err := ResolveKey(m.items, req, liveTier)
	if err != nil {
		if req.Mode == domain.ModeRemove && errors.Is(err, domain.ErrItemNotFound) {
			return m.unchanged(domain.Info("No changes", "Nothing to remove")), nil
		}
		return nil, err
	}

	tier := liveTier
	current := 0
	if idx >= 0 {
		tier = m.items[idx].Tier
		current = m.items[idx].Quantity
	}

	var target int
	switch req.Mode {
	case domain.ModeAdd, domain.ModeIncrement:
		if req.Quantity > domain.MaxLineQuantity-current {
			return nil, tooMany(current)
		}
		target = current + req.Quantity
	case domain.ModeDecrement:
		target = max(0, current-req.Quantity)
	case domain.ModeSet:
		target = max(0, req.Quantity)
	case domain.ModeRemove:
		target = 0
	}

	delta := target - current
	switch {
	case delta > 0:
		return m.increase(key, idx, tier, current, delta)
	case delta < 0:
		return m.decrease(idx, tier, target, -delta), nil
	default:
		return m.repriceOnly(), nil
	}
}

func tooMany(current int) error {
	return domain.Validation(domain.ErrInvalidQuantity,
		"a line holds at most %d units (currently %d)", domain.MaxLineQuantity, current)
}

func validate(req domain.MutationRequest) error {
	if !req.Mode.Valid() {
		return domain.Validation(domain.ErrInvalidMode, "mode is required")
	}
	if req.Mode.RequiresPositiveDelta() && req.Quantity <= 0 {
		return domain.Validation(domain.ErrInvalidQuantity, "quantity must be greater than 0 for %s", req.Mode)
	}
	if req.Mode == domain.ModeSet && req.Quantity < 0 {
		return domain.Validation(domain.ErrInvalidQuantity, "quantity must not be negative")
	}
	if req.Quantity > domain.MaxLineQuantity {
		return domain.Validation(domain.ErrInvalidQuantity, "quantity must not exceed %d", domain.MaxLineQuantity)
	}
	if req.Mode == domain.ModeAdd && (req.ProductID == "" || req.VariantID == "") {
		return domain.Validation(domain.ErrInvalidRequest, "product_id and variant_id are required to add an item")
	}
	if req.ProductID == "" && req.CartItemKey == "" {
		return domain.Validation(domain.ErrInvalidRequest, "cart_item_key or product_id is required")
	}
	return nil
}

type mutator struct {
	in    Input
	items []domain.LineItem
}

func (m *mutator) increase(key string, idx int, tier domain.PriceTier, current, delta int) (*Mutation, error) {
	live := m.in.Variant
	supplierOut := m.in.Product.SupplierOutOfStock

	var (
		primaryAdd int
		regularAdd int
		capped     stock.Result
	)
	switch tier {
	case domain.TierSale:
		res := stock.Cap(live, delta, stock.Options{SupplierOutOfStock: supplierOut})
		if res.Reason == stock.ReasonSupplierOutOfStock {
			return m.supplierVeto()
		}
		if res.Reason == stock.ReasonSaleStock {
			primaryAdd = res.Quantity
		}
		if remaining := delta - primaryAdd; remaining > 0 {
			held := 0
			if regIdx := indexOfTier(m.items, m.in.Product.ID, live.VariantID, domain.TierRegular); regIdx >= 0 {
				held = m.items[regIdx].Quantity
			}
			if remaining > domain.MaxLineQuantity-held {
				return nil, tooMany(held)
			}
			regular := stock.Cap(live, remaining, stock.Options{IgnoreSale: true, Held: held})
			regularAdd = regular.Quantity
			if regular.Capped {
				capped = regular
			}
		}
		// Nothing spilled over, so the sale allocation was the binding limit.
		if regularAdd == 0 && res.Capped && res.Reason == stock.ReasonSaleStock {
			capped = res
		}
	default:
		res := stock.Cap(live, delta, stock.Options{
			IgnoreSale:         true,
			SupplierOutOfStock: supplierOut,
			Held:               current,
		})
		if res.Reason == stock.ReasonSupplierOutOfStock {
			return m.supplierVeto()
		}
		primaryAdd = res.Quantity
		if res.Capped {
			capped = res
		}
	}

	if primaryAdd+regularAdd == 0 {
		return m.unchanged(domain.Failure("Out of stock", "This item is out of stock").
			WithDetail("No %s available for %s", reasonText(capped.Reason), m.name())), nil
	}

	now := m.in.Now
	if idx >= 0 {
		m.items[idx].Quantity += primaryAdd
		m.items[idx].UpdatedAt = now
		if tier != domain.TierSale {
			m.refreshSnapshot(idx, tier)
		}
	} else if primaryAdd > 0 {
		m.items = append(m.items, m.newLine(key, tier, primaryAdd))
	}

	if regularAdd > 0 {
		if regIdx := indexOfTier(m.items, m.in.Product.ID, live.VariantID, domain.TierRegular); regIdx >= 0 {
			m.items[regIdx].Quantity += regularAdd
			m.items[regIdx].UpdatedAt = now
			m.refreshSnapshot(regIdx, domain.TierRegular)
		} else {
			regKey := MintKey(m.items, m.in.Product.ID, live.VariantID, domain.TierRegular)
			m.items = append(m.items, m.newLine(regKey, domain.TierRegular, regularAdd))
		}
	}

	committed := domain.StockDelta{}
	switch tier {
	case domain.TierSale:
		committed.Sale = primaryAdd
	case domain.TierRental:
		committed.Rental = primaryAdd
	}

	var outcome domain.Outcome
	switch {
	case regularAdd > 0:
		outcome = domain.Warning("Added at regular price", "Sale stock unavailable; added %d at regular price.", regularAdd)
		if capped.Capped {
			outcome = outcome.WithDetail("Only %d could be added due to limited %s", primaryAdd+regularAdd, reasonText(capped.Reason))
		}
	case capped.Capped:
		outcome = domain.Warning("Quantity adjusted", "Quantity reduced to %d due to limited %s", current+primaryAdd, reasonText(capped.Reason))
	case m.in.Request.Mode == domain.ModeAdd:
		outcome = domain.Success(m.title(), "Added %d × %s to your %s", primaryAdd, m.name(), m.in.Kind)
	default:
		outcome = domain.Success(m.title(), "%s quantity is now %d", m.name(), current+primaryAdd)
	}

	mut := m.reprice(outcome)
	mut.Delta = committed
	return mut, nil
}

func (m *mutator) decrease(idx int, tier domain.PriceTier, target, removed int) *Mutation {
	var outcome domain.Outcome
	if target == 0 {
		m.items = append(m.items[:idx], m.items[idx+1:]...)
		outcome = domain.Success("Item removed", "%s removed from your %s", m.name(), m.in.Kind)
	} else {
		m.items[idx].Quantity = target
		m.items[idx].UpdatedAt = m.in.Now
		if tier != domain.TierSale {
			m.refreshSnapshot(idx, tier)
		}
		outcome = domain.Success(m.title(), "%s quantity is now %d", m.name(), target)
	}

	mut := m.reprice(outcome)
	switch tier {
	case domain.TierSale:
		mut.Delta.Sale = -removed
	case domain.TierRental:
		mut.Delta.Rental = -removed
	}
	return mut
}

func (m *mutator) supplierVeto() (*Mutation, error) {
	mut := m.unchanged(domain.Failure("Unavailable", "This item is currently unavailable from the supplier"))
	return mut, domain.SupplierUnavailable(domain.ErrSupplierOutOfStock, "product %s", m.in.Product.ID)
}

// unchanged reports the original lines untouched.
func (m *mutator) unchanged(outcome domain.Outcome) *Mutation {
	items := cloneItems(m.in.Items)
	totals, count := pricing.Reprice(items)
	return &Mutation{Items: items, Totals: totals, ItemCount: count, Outcome: outcome}
}

func (m *mutator) reprice(outcome domain.Outcome) *Mutation {
	totals, count := pricing.Reprice(m.items)
	return &Mutation{
		Items:     m.items,
		Totals:    totals,
		ItemCount: count,
		Outcome:   outcome,
		Changed:   true,
	}
}

// repriceOnly recomputes totals for an unchanged quantity. It only reports a
// write when the stored line totals had drifted from their snapshots.
func (m *mutator) repriceOnly() *Mutation {
	mut := m.reprice(domain.Success(m.title(), "Totals recalculated"))
	for i, item := range mut.Items {
		if !lineTotalsEqual(item.LineTotals, m.in.Items[i].LineTotals) {
			return mut
		}
	}
	return m.unchanged(domain.Info("No changes", "Quantity unchanged"))
}

func lineTotalsEqual(a, b domain.LineTotals) bool {
	return a.UnitPriceExcl.Equal(b.UnitPriceExcl) &&
		a.LineSubtotalExcl.Equal(b.LineSubtotalExcl) &&
		a.ReturnableExcl.Equal(b.ReturnableExcl) &&
		a.ReturnableVat.Equal(b.ReturnableVat) &&
		a.ItemVat.Equal(b.ItemVat) &&
		a.TotalVat.Equal(b.TotalVat) &&
		a.FinalExcl.Equal(b.FinalExcl) &&
		a.FinalIncl.Equal(b.FinalIncl)
}

func (m *mutator) newLine(key string, tier domain.PriceTier, qty int) domain.LineItem {
	return domain.LineItem{
		CartItemKey:     key,
		ProductID:       m.in.Product.ID,
		VariantID:       m.in.Variant.VariantID,
		Tier:            tier,
		Quantity:        qty,
		ProductSnapshot: m.in.Product.Snapshot(),
		VariantSnapshot: m.in.Variant.ForTier(tier),
		AddedAt:         m.in.Now,
		UpdatedAt:       m.in.Now,
	}
}

func (m *mutator) refreshSnapshot(idx int, tier domain.PriceTier) {
	m.items[idx].ProductSnapshot = m.in.Product.Snapshot()
	m.items[idx].VariantSnapshot = m.in.Variant.ForTier(tier)
}

func (m *mutator) name() string {
	if m.in.Variant.Title == "" {
		return m.in.Product.Name
	}
	return fmt.Sprintf("%s (%s)", m.in.Product.Name, m.in.Variant.Title)
}

func (m *mutator) title() string {
	return m.in.Kind.Label() + " updated"
}

func reasonText(r stock.Reason) string {
	switch r {
	case stock.ReasonSaleStock:
		return "sale stock"
	case stock.ReasonRentalStock:
		return "rental stock"
	default:
		return "stock"
	}
}

func cloneItems(items []domain.LineItem) []domain.LineItem {
	out := make([]domain.LineItem, len(items))
	for i, item := range items {
		out[i] = item.Clone()
	}
	return out
}
