package domain

import "strings"

// Mode is the closed set of line mutations.
type Mode int

const (
	ModeUnknown Mode = iota
	ModeAdd
	ModeIncrement
	ModeDecrement
	ModeSet
	ModeRemove
)

var modeNames = map[Mode]string{
	ModeAdd:       "add",
	ModeIncrement: "increment",
	ModeDecrement: "decrement",
	ModeSet:       "set",
	ModeRemove:    "remove",
}

func ParseMode(s string) (Mode, error) {
	needle := strings.ToLower(strings.TrimSpace(s))
	for m, name := range modeNames {
		if name == needle {
			return m, nil
		}
	}
	return ModeUnknown, Validation(ErrInvalidMode, "unknown mode %q", s)
}

func (m Mode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return "unknown"
}

func (m Mode) Valid() bool {
	_, ok := modeNames[m]
	return ok
}

// RequiresPositiveDelta reports whether Quantity is a strictly positive delta.
func (m Mode) RequiresPositiveDelta() bool {
	return m == ModeAdd || m == ModeIncrement || m == ModeDecrement
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// MaxLineQuantity bounds a single line so quantities and totals stay far from
// integer overflow.
const MaxLineQuantity = 9999

// MutationRequest is a requested quantity change against one aggregate.
// Either CartItemKey or the product/variant pair identifies the line.
type MutationRequest struct {
	Mode        Mode   `json:"mode"`
	ProductID   string `json:"product_id,omitempty" validate:"required_without=CartItemKey"`
	VariantID   string `json:"variant_id,omitempty" validate:"required_with=ProductID"`
	Quantity    int    `json:"quantity" validate:"gte=0,lte=9999"`
	CartItemKey string `json:"cart_item_key,omitempty"`
}
