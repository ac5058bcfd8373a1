package reconcile

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/storefront/cartsync/internal/domain/cart"
	"github.com/storefront/cartsync/internal/domain/session"
	"github.com/storefront/cartsync/internal/domain/wishlist"
	"github.com/storefront/cartsync/internal/infrastructure/event"
	"github.com/storefront/cartsync/internal/infrastructure/localstore"
	infsession "github.com/storefront/cartsync/internal/infrastructure/session"
)

// fakeBackend plays the account side. Merge applies the same union the real
// backend does and replays a remembered result for a repeated key.
type fakeBackend struct {
	mu          sync.Mutex
	account     []cart.LineItem
	wishlist    []wishlist.Item
	identity    session.Identity
	confirmErr  error
	fetchErr    error
	mergeErr    error
	wishlistErr error

	confirmCalls  int
	fetchCalls    int
	mergeCalls    int
	wishlistCalls int
	mergeKeys     []string
	byKey         map[string][]cart.LineItem

	// mergeStarted receives once per Merge call when set
	mergeStarted chan struct{}
	// mergeRelease blocks Merge until closed when set
	mergeRelease chan struct{}
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		account:  []cart.LineItem{},
		identity: session.Identity{UserID: "u-1", Email: "shopper@example.com"},
		byKey:    make(map[string][]cart.LineItem),
	}
}

func (b *fakeBackend) calls() (confirm, fetch, merge, wish int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.confirmCalls, b.fetchCalls, b.mergeCalls, b.wishlistCalls
}

func (b *fakeBackend) accountCart() []cart.LineItem {
	b.mu.Lock()
	defer b.mu.Unlock()
	return cart.Clone(b.account)
}

type fakeIdentity struct{ b *fakeBackend }

func (f fakeIdentity) Confirm(context.Context) (*session.Identity, error) {
	f.b.mu.Lock()
	defer f.b.mu.Unlock()
	f.b.confirmCalls++
	if f.b.confirmErr != nil {
		return nil, f.b.confirmErr
	}
	id := f.b.identity
	return &id, nil
}

type fakeCarts struct{ b *fakeBackend }

func (f fakeCarts) Fetch(context.Context) ([]cart.LineItem, error) {
	f.b.mu.Lock()
	defer f.b.mu.Unlock()
	f.b.fetchCalls++
	if f.b.fetchErr != nil {
		return nil, f.b.fetchErr
	}
	return cart.Clone(f.b.account), nil
}

func (f fakeCarts) Merge(ctx context.Context, key string, items []cart.LineItem) ([]cart.LineItem, error) {
	f.b.mu.Lock()
	f.b.mergeCalls++
	f.b.mergeKeys = append(f.b.mergeKeys, key)
	started, release := f.b.mergeStarted, f.b.mergeRelease
	f.b.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.b.mu.Lock()
	defer f.b.mu.Unlock()
	if f.b.mergeErr != nil {
		return nil, f.b.mergeErr
	}
	if prior, ok := f.b.byKey[key]; ok {
		return cart.Clone(prior), nil
	}
	f.b.account = cart.Merge(f.b.account, items)
	f.b.byKey[key] = cart.Clone(f.b.account)
	return cart.Clone(f.b.account), nil
}

type fakeWishlists struct{ b *fakeBackend }

func (f fakeWishlists) Fetch(context.Context) ([]wishlist.Item, error) {
	f.b.mu.Lock()
	defer f.b.mu.Unlock()
	f.b.wishlistCalls++
	if f.b.wishlistErr != nil {
		return nil, f.b.wishlistErr
	}
	return append([]wishlist.Item(nil), f.b.wishlist...), nil
}

type harness struct {
	ctx       context.Context
	backend   *fakeBackend
	store     *localstore.MemoryStore
	tokenBlob *localstore.Blob
	guest     *localstore.GuestCartRepository
	holder    *infsession.TokenHolder
	bus       *event.InMemoryEventBus
	engine    *Engine
}

type harnessConfig struct {
	storedToken string
	guest       []cart.LineItem
}

type harnessOption func(*harnessConfig)

// withStoredToken persists a credential before the holder loads it, so the
// session starts with a token present but unconfirmed
func withStoredToken(token string) harnessOption {
	return func(c *harnessConfig) { c.storedToken = token }
}

func withGuest(items ...cart.LineItem) harnessOption {
	return func(c *harnessConfig) { c.guest = items }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	cfg := &harnessConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	ctx := context.Background()
	store := localstore.NewMemoryStore()
	tokenBlob := localstore.NewBlob(store, "storefront.session_token")
	if cfg.storedToken != "" {
		require.NoError(t, tokenBlob.Save(ctx, []byte(cfg.storedToken)))
	}
	guest := localstore.NewGuestCartRepository(localstore.NewBlob(store, "storefront.guest_cart"), nil)
	if len(cfg.guest) > 0 {
		require.NoError(t, guest.Save(ctx, cfg.guest))
	}

	holder, err := infsession.NewTokenHolder(ctx, tokenBlob, nil)
	require.NoError(t, err)

	backend := newFakeBackend()
	bus := event.NewInMemoryEventBus(nil)
	engine, err := NewEngine(Dependencies{
		Session:    holder,
		Identity:   fakeIdentity{backend},
		Carts:      fakeCarts{backend},
		Wishlists:  fakeWishlists{backend},
		GuestCarts: guest,
	}, WithPublisher(bus))
	require.NoError(t, err)

	return &harness{
		ctx:       ctx,
		backend:   backend,
		store:     store,
		tokenBlob: tokenBlob,
		guest:     guest,
		holder:    holder,
		bus:       bus,
		engine:    engine,
	}
}

// login signs in with a server-issued identity and notifies the engine the
// way the initializer would
func (h *harness) login(t *testing.T, token string) error {
	t.Helper()
	id := h.backend.identity
	require.NoError(t, h.holder.SignIn(h.ctx, token, &id))
	return h.engine.OnAuthStateChanged(h.ctx, true)
}

func (h *harness) storedGuest(t *testing.T) []cart.LineItem {
	t.Helper()
	items, err := h.guest.Load(h.ctx)
	require.NoError(t, err)
	return items
}

func item(product string, qty int) cart.LineItem {
	return cart.LineItem{ProductID: product, Quantity: qty}
}
