package domain

import "github.com/shopspring/decimal"

// PriceTier is the price mode a line item is charged at.
type PriceTier string

const (
	TierRegular PriceTier = "regular"
	TierSale    PriceTier = "sale"
	TierRental  PriceTier = "rental"
)

type Product struct {
	ID                 string    `bson:"product_id" json:"product_id"`
	Name               string    `bson:"name" json:"name"`
	SupplierOutOfStock bool      `bson:"supplier_out_of_stock" json:"supplier_out_of_stock"`
	Variants           []Variant `bson:"variants" json:"variants"`
}

// Variant returns the variant with the given id.
func (p *Product) Variant(variantID string) (Variant, bool) {
	for _, v := range p.Variants {
		if v.VariantID == variantID {
			return v, true
		}
	}
	return Variant{}, false
}

// Snapshot copies the product fields a line item keeps as its charge record.
func (p *Product) Snapshot() ProductSnapshot {
	return ProductSnapshot{
		ProductID:          p.ID,
		Name:               p.Name,
		SupplierOutOfStock: p.SupplierOutOfStock,
	}
}

type ProductSnapshot struct {
	ProductID          string `bson:"product_id" json:"product_id"`
	Name               string `bson:"name" json:"name"`
	SupplierOutOfStock bool   `bson:"supplier_out_of_stock" json:"supplier_out_of_stock"`
}

type Variant struct {
	VariantID  string          `bson:"variant_id" json:"variant_id"`
	Title      string          `bson:"title" json:"title"`
	SKU        string          `bson:"sku,omitempty" json:"sku,omitempty"`
	Pricing    Pricing         `bson:"pricing" json:"pricing"`
	Sale       *Sale           `bson:"sale,omitempty" json:"sale,omitempty"`
	Rental     *Rental         `bson:"rental,omitempty" json:"rental,omitempty"`
	Returnable *Returnable     `bson:"returnable,omitempty" json:"returnable,omitempty"`
	Inventory  []LocationStock `bson:"inventory,omitempty" json:"inventory,omitempty"`
}

type Pricing struct {
	SellingPriceExcl decimal.Decimal `bson:"selling_price_excl" json:"selling_price_excl"`
}

// Sale is a discounted price tier with its own finite allocation.
// DisabledByAdmin wins over every automatic flip of IsOnSale.
type Sale struct {
	IsOnSale        bool            `bson:"is_on_sale" json:"is_on_sale"`
	SalePriceExcl   decimal.Decimal `bson:"sale_price_excl" json:"sale_price_excl"`
	QtyAvailable    int             `bson:"qty_available" json:"qty_available"`
	DisabledByAdmin bool            `bson:"disabled_by_admin" json:"disabled_by_admin"`
}

type Rental struct {
	IsRental        bool            `bson:"is_rental" json:"is_rental"`
	RentalPriceExcl decimal.Decimal `bson:"rental_price_excl" json:"rental_price_excl"`
	LimitedStock    bool            `bson:"limited_stock" json:"limited_stock"`
	QtyAvailable    int             `bson:"qty_available" json:"qty_available"`
}

type Returnable struct {
	FullReturnablePriceExcl decimal.Decimal `bson:"full_returnable_price_excl" json:"full_returnable_price_excl"`
}

type LocationStock struct {
	LocationID string `bson:"location_id" json:"location_id"`
	Quantity   int    `bson:"quantity" json:"quantity"`
}

func (v Variant) SaleActive() bool {
	return v.Sale != nil && v.Sale.IsOnSale && !v.Sale.DisabledByAdmin
}

func (v Variant) IsRental() bool {
	return v.Rental != nil && v.Rental.IsRental
}

func (v Variant) IsLimitedRental() bool {
	return v.IsRental() && v.Rental.LimitedStock
}

// ActiveTier resolves the live price tier: rental, then sale, then regular.
func (v Variant) ActiveTier() PriceTier {
	switch {
	case v.IsRental():
		return TierRental
	case v.SaleActive():
		return TierSale
	default:
		return TierRegular
	}
}

// ForTier returns a deep copy of the variant normalised so that ActiveTier
// reports tier. A regular copy shows its sale as inactive.
func (v Variant) ForTier(tier PriceTier) Variant {
	out := v.Clone()
	switch tier {
	case TierRegular:
		if out.Sale != nil {
			out.Sale.IsOnSale = false
		}
		if out.Rental != nil {
			out.Rental.IsRental = false
		}
	case TierSale:
		if out.Rental != nil {
			out.Rental.IsRental = false
		}
	}
	return out
}

func (v Variant) Clone() Variant {
	out := v
	if v.Sale != nil {
		s := *v.Sale
		out.Sale = &s
	}
	if v.Rental != nil {
		r := *v.Rental
		out.Rental = &r
	}
	if v.Returnable != nil {
		r := *v.Returnable
		out.Returnable = &r
	}
	if v.Inventory != nil {
		out.Inventory = append([]LocationStock(nil), v.Inventory...)
	}
	return out
}
