package dto

import (
	"time"

	"github.com/storefront/cartsync/internal/domain/cart"
	"github.com/storefront/cartsync/internal/domain/wishlist"
)

// LineItemRequest is a cart line in a request body
type LineItemRequest struct {
	ProductID  string  `json:"productId" binding:"required,max=128"`
	VariantKey *string `json:"variantKey" binding:"omitempty,max=128"`
	Quantity   int     `json:"quantity" binding:"gt=0,lte=10000"`
}

// ToLineItem converts the request line to the domain type
func (r LineItemRequest) ToLineItem() cart.LineItem {
	item := cart.LineItem{ProductID: r.ProductID, Quantity: r.Quantity}
	if r.VariantKey != nil {
		item.VariantKey = *r.VariantKey
	}
	return item
}

// CartItemsRequest is the body of POST /cart/merge and PUT /cart
type CartItemsRequest struct {
	Items []LineItemRequest `json:"items" binding:"omitempty,dive"`
}

// LineItems converts the request lines to domain types
func (r CartItemsRequest) LineItems() []cart.LineItem {
	items := make([]cart.LineItem, 0, len(r.Items))
	for _, item := range r.Items {
		items = append(items, item.ToLineItem())
	}
	return items
}

// CartResponse is an account cart
type CartResponse struct {
	Items []cart.LineItem `json:"items"`
}

// WishlistItemRequest is the body of POST /wishlist
type WishlistItemRequest struct {
	ProductID  string `json:"productId" binding:"required,max=128"`
	VariantKey string `json:"variantKey" binding:"max=128"`
}

// WishlistResponse is an account wishlist
type WishlistResponse struct {
	Items []wishlist.Item `json:"items"`
}

// LoginRequest is the body of POST /auth/login
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,max=72"`
}

// LoginResponse carries the issued credential
type LoginResponse struct {
	Token     string        `json:"token"`
	ExpiresAt time.Time     `json:"expires_at"`
	User      *UserResponse `json:"user"`
}

// UserResponse is the identity behind a credential
type UserResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}
