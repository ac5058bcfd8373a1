package gateway

import (
	"context"
	"net/http"

	"github.com/storefront/cartsync/internal/domain/wishlist"
)

// WishlistGateway implements wishlist.Gateway
type WishlistGateway struct {
	client *Client
}

// NewWishlistGateway creates the gateway
func NewWishlistGateway(client *Client) *WishlistGateway {
	return &WishlistGateway{client: client}
}

// Fetch implements wishlist.Gateway (GET /wishlist)
func (g *WishlistGateway) Fetch(ctx context.Context) ([]wishlist.Item, error) {
	resp, err := g.client.Do(ctx, Request{Method: http.MethodGet, Path: "/wishlist"})
	if err != nil {
		return nil, transportError("fetch wishlist", err)
	}
	if !isSuccess(resp.StatusCode) {
		return nil, classifyStatus(resp)
	}
	items, err := decodeList[wishlist.Item](resp.Body, "items")
	if err != nil {
		return nil, err
	}
	return wishlist.Dedupe(items), nil
}

var _ wishlist.Gateway = (*WishlistGateway)(nil)
