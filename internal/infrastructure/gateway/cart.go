package gateway

import (
	"context"
	"net/http"

	"github.com/storefront/cartsync/internal/domain/cart"
)

// CartGateway implements cart.AccountCartGateway
type CartGateway struct {
	client *Client
}

// NewCartGateway creates the gateway
func NewCartGateway(client *Client) *CartGateway {
	return &CartGateway{client: client}
}

type mergeRequest struct {
	Items []cart.LineItem `json:"items"`
}

// Fetch implements cart.AccountCartGateway (GET /cart)
func (g *CartGateway) Fetch(ctx context.Context) ([]cart.LineItem, error) {
	resp, err := g.client.Do(ctx, Request{Method: http.MethodGet, Path: "/cart"})
	if err != nil {
		return nil, transportError("fetch account cart", err)
	}
	if !isSuccess(resp.StatusCode) {
		return nil, classifyStatus(resp)
	}
	items, err := decodeList[cart.LineItem](resp.Body, "items")
	if err != nil {
		return nil, err
	}
	return cart.Normalize(items), nil
}

// Merge implements cart.AccountCartGateway (POST /cart/merge)
func (g *CartGateway) Merge(ctx context.Context, idempotencyKey string, items []cart.LineItem) ([]cart.LineItem, error) {
	resp, err := g.client.Do(ctx, Request{
		Method:         http.MethodPost,
		Path:           "/cart/merge",
		Body:           mergeRequest{Items: cart.Normalize(items)},
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		return nil, transportError("merge guest cart", err)
	}
	if !isSuccess(resp.StatusCode) {
		return nil, classifyMergeStatus(resp)
	}
	merged, err := decodeList[cart.LineItem](resp.Body, "items")
	if err != nil {
		return nil, err
	}
	return cart.Normalize(merged), nil
}

var _ cart.AccountCartGateway = (*CartGateway)(nil)
