// Package wishlist models the shopper's saved products. Only the account
// wishlist exists; a guest has an empty wishlist.
package wishlist

import (
	"context"
	"time"

	"github.com/storefront/cartsync/internal/domain/shared"
)

// Source tells where the effective wishlist came from
type Source string

const (
	SourceNone    Source = "none"
	SourceAccount Source = "account"
)

// Item is a saved product
type Item struct {
	ProductID  string `json:"productId"`
	VariantKey string `json:"variantKey,omitempty"`
}

// Dedupe drops repeated items, keeping the first occurrence
func Dedupe(items []Item) []Item {
	seen := make(map[Item]struct{}, len(items))
	out := make([]Item, 0, len(items))
	for _, item := range items {
		if item.ProductID == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}

// Snapshot is an immutable view of the effective wishlist
type Snapshot struct {
	Source    Source    `json:"source"`
	Items     []Item    `json:"items"`
	Revision  uint64    `json:"revision"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EmptySnapshot is the anonymous wishlist
func EmptySnapshot() Snapshot {
	return Snapshot{Source: SourceNone, Items: []Item{}}
}

// Gateway reaches the backend wishlist of the authenticated identity
type Gateway interface {
	Fetch(ctx context.Context) ([]Item, error)
}

// Event types
const (
	AggregateType            = "EffectiveWishlist"
	EventTypeWishlistChanged = "wishlist.changed"
)

// WishlistChangedEvent carries the new effective wishlist snapshot
type WishlistChangedEvent struct {
	shared.BaseDomainEvent
	Snapshot Snapshot `json:"snapshot"`
}

// NewWishlistChangedEvent creates a WishlistChangedEvent
func NewWishlistChangedEvent(snapshot Snapshot) *WishlistChangedEvent {
	return &WishlistChangedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeWishlistChanged, AggregateType),
		Snapshot:        snapshot,
	}
}
