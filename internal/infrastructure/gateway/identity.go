package gateway

import (
	"context"
	"fmt"
	"net/http"

	"github.com/storefront/cartsync/internal/domain/session"
	"github.com/storefront/cartsync/internal/domain/shared"
)

// IdentityGateway implements session.IdentityGateway
type IdentityGateway struct {
	client *Client
}

// NewIdentityGateway creates the gateway
func NewIdentityGateway(client *Client) *IdentityGateway {
	return &IdentityGateway{client: client}
}

// Confirm implements session.IdentityGateway (GET /auth/me)
func (g *IdentityGateway) Confirm(ctx context.Context) (*session.Identity, error) {
	resp, err := g.client.Do(ctx, Request{Method: http.MethodGet, Path: "/auth/me"})
	if err != nil {
		return nil, transportError("confirm identity", err)
	}
	if !isSuccess(resp.StatusCode) {
		return nil, classifyStatus(resp)
	}
	var identity session.Identity
	if err := decodeObject(resp.Body, &identity); err != nil {
		return nil, err
	}
	if identity.UserID == "" {
		return nil, fmt.Errorf("%w: identity response without id", shared.ErrNetworkFailure)
	}
	return &identity, nil
}

// LoginResult is the response of POST /auth/login
type LoginResult struct {
	Token string            `json:"token"`
	User  *session.Identity `json:"user,omitempty"`
}

// Login exchanges email and password for a credential. 401 means the
// credentials were rejected.
func (g *IdentityGateway) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	resp, err := g.client.Do(ctx, Request{
		Method:    http.MethodPost,
		Path:      "/auth/login",
		Body:      map[string]string{"email": email, "password": password},
		Anonymous: true,
	})
	if err != nil {
		return nil, transportError("login", err)
	}
	if !isSuccess(resp.StatusCode) {
		return nil, classifyStatus(resp)
	}
	var result LoginResult
	if err := decodeObject(resp.Body, &result); err != nil {
		return nil, err
	}
	if result.Token == "" {
		return nil, fmt.Errorf("%w: login response without token", shared.ErrNetworkFailure)
	}
	return &result, nil
}

// Logout asks the backend to revoke the current credential. A credential the
// backend already refuses counts as logged out.
func (g *IdentityGateway) Logout(ctx context.Context) error {
	resp, err := g.client.Do(ctx, Request{Method: http.MethodPost, Path: "/auth/logout"})
	if err != nil {
		return transportError("logout", err)
	}
	if isSuccess(resp.StatusCode) || resp.StatusCode == http.StatusUnauthorized {
		return nil
	}
	return classifyStatus(resp)
}

var _ session.IdentityGateway = (*IdentityGateway)(nil)
