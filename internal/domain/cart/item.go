// Package cart holds the line-item model shared by guest and account carts
// and the merge arithmetic the backend applies.
package cart

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/storefront/cartsync/internal/domain/shared"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ItemKey identifies a line item. Two lines with the same key are the same
// line and their quantities are summed.
type ItemKey struct {
	ProductID  string
	VariantKey string
}

// String returns "productId" or "productId/variantKey"
func (k ItemKey) String() string {
	if k.VariantKey == "" {
		return k.ProductID
	}
	return k.ProductID + "/" + k.VariantKey
}

// LineItem is one product/variant with a quantity. An empty VariantKey means
// the product has no color/size variant.
type LineItem struct {
	ProductID  string `json:"productId" validate:"required,max=128"`
	VariantKey string `json:"variantKey" validate:"max=128"`
	Quantity   int    `json:"quantity" validate:"gt=0,lte=10000"`
}

// Key returns the identity key of the line
func (i LineItem) Key() ItemKey {
	return ItemKey{ProductID: i.ProductID, VariantKey: i.VariantKey}
}

// Validate checks the line item invariants
func (i LineItem) Validate() error {
	if err := validate.Struct(i); err != nil {
		return fmt.Errorf("%w: line item %s: %v", shared.ErrInvalidInput, i.Key(), err)
	}
	return nil
}

// lineItemJSON is the wire form; a missing variant is encoded as null
type lineItemJSON struct {
	ProductID  string  `json:"productId"`
	VariantKey *string `json:"variantKey"`
	Quantity   int     `json:"quantity"`
}

// MarshalJSON encodes an empty VariantKey as null
func (i LineItem) MarshalJSON() ([]byte, error) {
	w := lineItemJSON{ProductID: i.ProductID, Quantity: i.Quantity}
	if i.VariantKey != "" {
		v := i.VariantKey
		w.VariantKey = &v
	}
	return json.Marshal(w)
}

// UnmarshalJSON accepts null, a missing field or a string for variantKey
func (i *LineItem) UnmarshalJSON(data []byte) error {
	var w lineItemJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	i.ProductID = w.ProductID
	i.Quantity = w.Quantity
	i.VariantKey = ""
	if w.VariantKey != nil {
		i.VariantKey = *w.VariantKey
	}
	return nil
}
