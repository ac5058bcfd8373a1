package gateway

import (
	"context"

	"github.com/storefront/cartsync/internal/domain/session"
)

// fakeHolder is a minimal session.Holder for token source tests
type fakeHolder struct {
	token string
}

func (h *fakeHolder) State() session.State {
	return session.State{TokenPresent: h.token != ""}
}
func (h *fakeHolder) Credential() string          { return h.token }
func (h *fakeHolder) Identity() *session.Identity { return nil }
func (h *fakeHolder) SignIn(_ context.Context, token string, _ *session.Identity) error {
	h.token = token
	return nil
}
func (h *fakeHolder) Confirm(string, session.Identity) bool { return false }
func (h *fakeHolder) Invalidate(context.Context) error {
	h.token = ""
	return nil
}
func (h *fakeHolder) Subscribe(session.Observer) func() { return func() {} }
