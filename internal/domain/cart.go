package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Kind selects which aggregate a mutation targets. Carts and orders share the
// same line engine and differ only in storage and editability.
type Kind string

const (
	KindCart  Kind = "cart"
	KindOrder Kind = "order"
)

const (
	CartStatusActive     = "active"
	CartStatusCheckedOut = "checked_out"

	OrderStatusPending    = "pending"
	OrderStatusProcessing = "processing"
	OrderStatusCompleted  = "completed"
	OrderStatusShipped    = "shipped"
	OrderStatusCancelled  = "cancelled"
)

func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindCart, KindOrder:
		return Kind(s), nil
	}
	return "", Validation(ErrInvalidKind, "unknown aggregate kind %q", s)
}

// Editable reports whether lines of an aggregate in the given status may change.
func (k Kind) Editable(status string) bool {
	switch k {
	case KindCart:
		return status == "" || status == CartStatusActive
	case KindOrder:
		return status == OrderStatusPending || status == OrderStatusProcessing
	}
	return false
}

// CreatedOnDemand reports whether a missing aggregate is treated as empty
// instead of not found. Carts spring into existence on first write.
func (k Kind) CreatedOnDemand() bool {
	return k == KindCart
}

// ErrNotFound is the sentinel reported when an aggregate of this kind is missing.
func (k Kind) ErrNotFound() error {
	if k == KindOrder {
		return ErrOrderNotFound
	}
	return ErrCartNotFound
}

// Label is the kind as it appears at the start of a user-facing title.
func (k Kind) Label() string {
	if k == KindOrder {
		return "Order"
	}
	return "Cart"
}

func (k Kind) DefaultStatus() string {
	if k == KindOrder {
		return OrderStatusPending
	}
	return CartStatusActive
}

type Aggregate struct {
	AggregateID string     `bson:"aggregate_id" json:"aggregate_id"`
	Kind        Kind       `bson:"kind" json:"kind"`
	Status      string     `bson:"status" json:"status"`
	Items       []LineItem `bson:"items" json:"items"`
	Totals      Totals     `bson:"totals" json:"totals"`
	ItemCount   int        `bson:"item_count" json:"item_count"`
	CreatedAt   time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `bson:"updated_at" json:"updated_at"`
}

// NewAggregate returns an empty aggregate in its kind's initial status.
func NewAggregate(kind Kind, aggregateID string, now time.Time) *Aggregate {
	return &Aggregate{
		AggregateID: aggregateID,
		Kind:        kind,
		Status:      kind.DefaultStatus(),
		Items:       []LineItem{},
		Totals:      ZeroTotals(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (a *Aggregate) Editable() bool {
	return a.Kind.Editable(a.Status)
}

// Clone deep-copies the aggregate so callers can mutate it freely.
func (a *Aggregate) Clone() *Aggregate {
	out := *a
	out.Items = make([]LineItem, len(a.Items))
	for i, item := range a.Items {
		out.Items[i] = item.Clone()
	}
	return &out
}

func (a *Aggregate) Item(key string) (LineItem, bool) {
	for _, item := range a.Items {
		if item.CartItemKey == key {
			return item, true
		}
	}
	return LineItem{}, false
}

type LineItem struct {
	CartItemKey     string          `bson:"cart_item_key" json:"cart_item_key"`
	ProductID       string          `bson:"product_id" json:"product_id"`
	VariantID       string          `bson:"variant_id" json:"variant_id"`
	Tier            PriceTier       `bson:"price_tier" json:"price_tier"`
	Quantity        int             `bson:"quantity" json:"quantity"`
	ProductSnapshot ProductSnapshot `bson:"product_snapshot" json:"product_snapshot"`
	VariantSnapshot Variant         `bson:"selected_variant_snapshot" json:"selected_variant_snapshot"`
	LineTotals      LineTotals      `bson:"line_totals" json:"line_totals"`
	AddedAt         time.Time       `bson:"added_at" json:"added_at"`
	UpdatedAt       time.Time       `bson:"updated_at" json:"updated_at"`
}

func (l LineItem) Clone() LineItem {
	l.VariantSnapshot = l.VariantSnapshot.Clone()
	return l
}

type LineTotals struct {
	UnitPriceExcl    decimal.Decimal `bson:"unit_price_excl" json:"unit_price_excl"`
	LineSubtotalExcl decimal.Decimal `bson:"line_subtotal_excl" json:"line_subtotal_excl"`
	ReturnableExcl   decimal.Decimal `bson:"returnable_excl" json:"returnable_excl"`
	ReturnableVat    decimal.Decimal `bson:"returnable_vat" json:"returnable_vat"`
	ItemVat          decimal.Decimal `bson:"item_vat" json:"item_vat"`
	TotalVat         decimal.Decimal `bson:"total_vat" json:"total_vat"`
	FinalExcl        decimal.Decimal `bson:"final_excl" json:"final_excl"`
	FinalIncl        decimal.Decimal `bson:"final_incl" json:"final_incl"`
}

type Totals struct {
	SubtotalExcl     decimal.Decimal `bson:"subtotal_excl" json:"subtotal_excl"`
	SaleSavingsExcl  decimal.Decimal `bson:"sale_savings_excl" json:"sale_savings_excl"`
	DepositTotalExcl decimal.Decimal `bson:"deposit_total_excl" json:"deposit_total_excl"`
	VatTotal         decimal.Decimal `bson:"vat_total" json:"vat_total"`
	FinalExcl        decimal.Decimal `bson:"final_excl" json:"final_excl"`
	FinalIncl        decimal.Decimal `bson:"final_incl" json:"final_incl"`
}

func ZeroTotals() Totals {
	return Totals{
		SubtotalExcl:     decimal.Zero,
		SaleSavingsExcl:  decimal.Zero,
		DepositTotalExcl: decimal.Zero,
		VatTotal:         decimal.Zero,
		FinalExcl:        decimal.Zero,
		FinalIncl:        decimal.Zero,
	}
}
