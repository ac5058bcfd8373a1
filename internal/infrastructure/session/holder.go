// Package session holds the persisted storefront credential and notifies
// observers when the derived session state changes.
package session

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	domain "github.com/storefront/cartsync/internal/domain/session"
	"github.com/storefront/cartsync/internal/infrastructure/localstore"
)

// TokenHolder implements session.Holder over a localstore.Blob. A token read
// from storage starts unconfirmed; it becomes authenticated through Confirm
// or SignIn.
type TokenHolder struct {
	blob   *localstore.Blob
	logger *zap.Logger

	mu            sync.Mutex
	token         string
	identity      *domain.Identity
	authenticated bool
	observers     map[int]domain.Observer
	order         []int
	nextID        int
}

// NewTokenHolder loads the persisted credential, if any
func NewTokenHolder(ctx context.Context, blob *localstore.Blob, logger *zap.Logger) (*TokenHolder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &TokenHolder{
		blob:      blob,
		logger:    logger,
		observers: make(map[int]domain.Observer),
	}

	data, ok, err := blob.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load session credential: %w", err)
	}
	if ok {
		h.token = strings.TrimSpace(string(data))
	}
	if h.token != "" {
		logger.Debug("loaded persisted credential", zap.String("fingerprint", domain.Fingerprint(h.token)))
	}
	return h, nil
}

// State implements session.Holder
func (h *TokenHolder) State() domain.State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stateLocked()
}

func (h *TokenHolder) stateLocked() domain.State {
	return domain.State{TokenPresent: h.token != "", Authenticated: h.authenticated}
}

// Credential implements session.Holder
func (h *TokenHolder) Credential() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.token
}

// Identity implements session.Holder
func (h *TokenHolder) Identity() *domain.Identity {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.identity == nil {
		return nil
	}
	id := *h.identity
	return &id
}

// SignIn implements session.Holder. The token is persisted before the state
// changes.
func (h *TokenHolder) SignIn(ctx context.Context, token string, identity *domain.Identity) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("sign in: empty token")
	}
	if err := h.blob.Save(ctx, []byte(token)); err != nil {
		return fmt.Errorf("persist session credential: %w", err)
	}

	h.mu.Lock()
	prev := h.stateLocked()
	h.token = token
	h.authenticated = true
	if identity != nil {
		id := *identity
		h.identity = &id
	} else {
		h.identity = nil
	}
	change := domain.Change{Previous: prev, Current: h.stateLocked()}
	observers := h.snapshotObserversLocked()
	h.mu.Unlock()

	h.logger.Info("session signed in", zap.String("fingerprint", domain.Fingerprint(token)))
	notify(observers, change)
	return nil
}

// Confirm implements session.Holder
func (h *TokenHolder) Confirm(token string, identity domain.Identity) bool {
	h.mu.Lock()
	if token == "" || token != h.token {
		h.mu.Unlock()
		return false
	}
	prev := h.stateLocked()
	h.authenticated = true
	h.identity = &identity
	change := domain.Change{Previous: prev, Current: h.stateLocked()}
	observers := h.snapshotObserversLocked()
	h.mu.Unlock()

	if change.Previous != change.Current {
		notify(observers, change)
	}
	return true
}

// Invalidate implements session.Holder. In-memory state is cleared even if
// removing the persisted copy fails.
func (h *TokenHolder) Invalidate(ctx context.Context) error {
	h.mu.Lock()
	prev := h.stateLocked()
	fp := domain.Fingerprint(h.token)
	h.token = ""
	h.authenticated = false
	h.identity = nil
	change := domain.Change{Previous: prev, Current: h.stateLocked()}
	observers := h.snapshotObserversLocked()
	h.mu.Unlock()

	err := h.blob.Clear(ctx)
	if err != nil {
		err = fmt.Errorf("clear session credential: %w", err)
	}
	if prev.TokenPresent {
		h.logger.Info("session invalidated", zap.String("fingerprint", fp))
	}
	if change.Previous != change.Current {
		notify(observers, change)
	}
	return err
}

// Subscribe implements session.Holder. Observers run synchronously on the
// goroutine that changed the state, in subscription order.
func (h *TokenHolder) Subscribe(observer domain.Observer) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	h.observers[id] = observer
	h.order = append(h.order, id)

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.observers, id)
			for i, v := range h.order {
				if v == id {
					h.order = append(h.order[:i], h.order[i+1:]...)
					break
				}
			}
		})
	}
}

func (h *TokenHolder) snapshotObserversLocked() []domain.Observer {
	out := make([]domain.Observer, 0, len(h.order))
	for _, id := range h.order {
		out = append(out, h.observers[id])
	}
	return out
}

func notify(observers []domain.Observer, change domain.Change) {
	for _, o := range observers {
		o(change)
	}
}

var _ domain.Holder = (*TokenHolder)(nil)
