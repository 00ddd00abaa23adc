package lines

import (
	"fmt"

	"github.com/fjod/go_cart/cart-engine/internal/domain"
	"github.com/google/uuid"
)

// newSuffix is swapped in tests to force key collisions.
var newSuffix = func() string {
	return uuid.NewString()[:8]
}

// ResolveKey returns the key a request operates on and the index of the line
// holding it, or -1 when an add will insert a new line. tier is the live
// price tier used to pick the line an add merges into.
func ResolveKey(items []domain.LineItem, req domain.MutationRequest, tier domain.PriceTier) (string, int, error) {
	if req.CartItemKey != "" {
		idx := indexOfKey(items, req.CartItemKey)
		if idx < 0 {
			if req.Mode == domain.ModeAdd {
				return req.CartItemKey, -1, nil
			}
			return "", -1, domain.NotFound(domain.ErrItemNotFound, "no line with key %q", req.CartItemKey)
		}
		line := items[idx]
		if req.ProductID != "" && (line.ProductID != req.ProductID || line.VariantID != req.VariantID) {
			return "", -1, domain.Validation(domain.ErrKeyMismatch, "line %q holds %s/%s", req.CartItemKey, line.ProductID, line.VariantID)
		}
		return req.CartItemKey, idx, nil
	}

	if req.Mode == domain.ModeAdd {
		if idx := indexOfTier(items, req.ProductID, req.VariantID, tier); idx >= 0 {
			return items[idx].CartItemKey, idx, nil
		}
		return MintKey(items, req.ProductID, req.VariantID, tier), -1, nil
	}

	match := -1
	for i, item := range items {
		if item.ProductID != req.ProductID || item.VariantID != req.VariantID {
			continue
		}
		if match >= 0 {
			return "", -1, domain.Conflict(domain.ErrAmbiguousItem, "variant %s has several price tiers, pass cart_item_key", req.VariantID)
		}
		match = i
	}
	if match < 0 {
		return "", -1, domain.NotFound(domain.ErrItemNotFound, "variant %s has no line", req.VariantID)
	}
	return items[match].CartItemKey, match, nil
}

// MintKey derives a key from the line identity plus a random suffix that is
// distinct from every key already present.
func MintKey(items []domain.LineItem, productID, variantID string, tier domain.PriceTier) string {
	for {
		key := fmt.Sprintf("%s:%s:%s:%s", productID, variantID, tier, newSuffix())
		if indexOfKey(items, key) < 0 {
			return key
		}
	}
}

func indexOfKey(items []domain.LineItem, key string) int {
	for i, item := range items {
		if item.CartItemKey == key {
			return i
		}
	}
	return -1
}

func indexOfTier(items []domain.LineItem, productID, variantID string, tier domain.PriceTier) int {
	for i, item := range items {
		if item.ProductID == productID && item.VariantID == variantID && item.Tier == tier {
			return i
		}
	}
	return -1
}

// Identify returns the product and variant a request refers to, reading them
// from the keyed line when the request only carries a key. ok is false when
// the key does not exist.
func Identify(items []domain.LineItem, req domain.MutationRequest) (productID, variantID string, ok bool) {
	if req.ProductID != "" {
		return req.ProductID, req.VariantID, true
	}
	idx := indexOfKey(items, req.CartItemKey)
	if idx < 0 {
		return "", "", false
	}
	return items[idx].ProductID, items[idx].VariantID, true
}
