package stock

import "github.com/fjod/go_cart/cart-engine/internal/domain"

// Reason names the stock signal that bounded a request.
type Reason string

const (
	ReasonNone               Reason = ""
	ReasonSupplierOutOfStock Reason = "supplier_out_of_stock"
	ReasonRentalStock        Reason = "rental stock"
	ReasonSaleStock          Reason = "sale stock"
	ReasonInventory          Reason = "inventory"
)

type Options struct {
	// IgnoreSale skips the sale allocation, used when pricing at regular.
	IgnoreSale bool
	// SupplierOutOfStock vetoes any increase.
	SupplierOutOfStock bool
	// Held is the quantity this line already holds against per-location
	// inventory, which carts do not decrement.
	Held int
}

type Result struct {
	Quantity  int
	Capped    bool
	Available *int
	Reason    Reason
}

// Cap bounds desired by the strongest live stock signal of v. It never
// returns more than desired, nor more than Available when that is known.
func Cap(v domain.Variant, desired int, opts Options) Result {
	if opts.SupplierOutOfStock && desired > 0 {
		zero := 0
		return Result{Quantity: 0, Capped: true, Available: &zero, Reason: ReasonSupplierOutOfStock}
	}

	var (
		available *int
		reason    Reason
	)
	switch {
	case v.IsLimitedRental():
		n := max(0, v.Rental.QtyAvailable)
		available, reason = &n, ReasonRentalStock
	case !opts.IgnoreSale && v.SaleActive():
		n := max(0, v.Sale.QtyAvailable)
		available, reason = &n, ReasonSaleStock
	case len(v.Inventory) > 0:
		total := 0
		for _, row := range v.Inventory {
			total += row.Quantity
		}
		n := max(0, total-opts.Held)
		available, reason = &n, ReasonInventory
	}

	qty := desired
	if available != nil && *available < qty {
		qty = *available
	}
	return Result{
		Quantity:  qty,
		Capped:    qty != desired,
		Available: available,
		Reason:    reason,
	}
}
