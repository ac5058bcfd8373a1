// Package session models the persisted credential and the authentication
// flag derived from it.
package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
)

// State is the observable session state. Authenticated implies TokenPresent;
// TokenPresent without Authenticated is a valid transient state (stale token
// or verification pending).
type State struct {
	TokenPresent  bool `json:"token_present"`
	Authenticated bool `json:"authenticated"`
}

// Valid reports whether the state honors the invariant
func (s State) Valid() bool {
	return !s.Authenticated || s.TokenPresent
}

// Identity is a server-confirmed user
type Identity struct {
	UserID string `json:"id"`
	Email  string `json:"email,omitempty"`
}

// Change is delivered to observers whenever the session state changes
type Change struct {
	Previous State
	Current  State
}

// AuthFlipped reports whether the authenticated flag changed
func (c Change) AuthFlipped() bool {
	return c.Previous.Authenticated != c.Current.Authenticated
}

// Observer receives session changes
type Observer func(Change)

// Holder owns the persisted credential. The engine receives it injected and
// never reads a global.
type Holder interface {
	// State returns the current session state
	State() State
	// Credential returns the stored token, empty if none
	Credential() string
	// Identity returns the confirmed identity, nil if not authenticated
	Identity() *Identity
	// SignIn persists a server-issued token and marks the session authenticated
	SignIn(ctx context.Context, token string, identity *Identity) error
	// Confirm marks the current token as server-validated. It is a no-op if
	// token no longer matches the stored credential.
	Confirm(token string, identity Identity) bool
	// Invalidate clears the stored credential
	Invalidate(ctx context.Context) error
	// Subscribe registers an observer and returns a function that removes it
	Subscribe(observer Observer) (unsubscribe func())
}

// IdentityGateway confirms the identity behind a presented credential
type IdentityGateway interface {
	// Confirm returns the identity or an error matching shared.ErrInvalidCredential
	// when the credential is rejected
	Confirm(ctx context.Context) (*Identity, error)
}

// Fingerprint returns a short stable digest of a credential, used to key
// in-flight work without keeping the token itself around
func Fingerprint(token string) string {
	if token == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:8])
}
