package gateway

import (
	"fmt"
	"time"

	domain "github.com/storefront/cartsync/internal/domain/session"
	"github.com/storefront/cartsync/internal/domain/shared"
	"github.com/storefront/cartsync/internal/infrastructure/session"
)

// HolderTokenSource reads the bearer credential from a session holder
type HolderTokenSource struct {
	holder domain.Holder
	now    func() time.Time
}

// NewHolderTokenSource creates a token source over holder
func NewHolderTokenSource(holder domain.Holder) *HolderTokenSource {
	return &HolderTokenSource{holder: holder, now: time.Now}
}

// Token returns the current credential. It fails with ErrInvalidCredential
// when no credential is stored or the stored JWT has already expired, so no
// request is sent with it.
func (s *HolderTokenSource) Token() (string, error) {
	token := s.holder.Credential()
	if token == "" {
		return "", fmt.Errorf("%w: no credential", shared.ErrInvalidCredential)
	}
	if session.LocallyExpired(token, s.now()) {
		return "", fmt.Errorf("%w: credential expired", shared.ErrInvalidCredential)
	}
	return token, nil
}

// StaticToken is a fixed credential
type StaticToken string

// Token implements TokenSource
func (t StaticToken) Token() (string, error) {
	if t == "" {
		return "", fmt.Errorf("%w: no credential", shared.ErrInvalidCredential)
	}
	return string(t), nil
}
