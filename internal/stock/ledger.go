package stock

import "github.com/fjod/go_cart/cart-engine/internal/domain"

// ApplyDelta returns a copy of v with the committed deltas applied to its
// sale and rental counters. Positive deltas consume stock, negative deltas
// restore it; counters never drop below zero. changed reports whether the
// record needs to be written back.
//
// The sale flag follows the counter (depleted disables, replenished
// re-enables) unless an admin disabled the sale, in which case the counter
// still moves but the flag is left alone.
func ApplyDelta(v domain.Variant, deltaSale, deltaRental int) (domain.Variant, bool) {
	out := v.Clone()
	changed := false

	if deltaSale != 0 && out.Sale != nil {
		s := out.Sale
		qty := max(0, s.QtyAvailable-deltaSale)
		if qty != s.QtyAvailable {
			s.QtyAvailable = qty
			changed = true
		}
		if !s.DisabledByAdmin {
			onSale := qty > 0
			if onSale != s.IsOnSale {
				s.IsOnSale = onSale
				changed = true
			}
		}
	}

	if deltaRental != 0 && out.IsLimitedRental() {
		r := out.Rental
		qty := max(0, r.QtyAvailable-deltaRental)
		if qty != r.QtyAvailable {
			r.QtyAvailable = qty
			changed = true
		}
	}

	return out, changed
}
