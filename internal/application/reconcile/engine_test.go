package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storefront/cartsync/internal/domain/cart"
	"github.com/storefront/cartsync/internal/domain/session"
	"github.com/storefront/cartsync/internal/domain/shared"
	"github.com/storefront/cartsync/internal/domain/wishlist"
	"github.com/storefront/cartsync/internal/infrastructure/event"
	"github.com/storefront/cartsync/internal/infrastructure/localstore"
)

func TestNewEngine_RequiresDependencies(t *testing.T) {
	_, err := NewEngine(Dependencies{})
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestState_Transitions(t *testing.T) {
	assert.True(t, StateUnstarted.CanTransitionTo(StateGuestLoaded))
	assert.True(t, StateGuestLoaded.CanTransitionTo(StateAuthenticating))
	assert.True(t, StateAuthenticating.CanTransitionTo(StateMerging))
	assert.True(t, StateMerging.CanTransitionTo(StateMergeFailed))
	assert.True(t, StateMergeFailed.CanTransitionTo(StateMerging))
	assert.True(t, StateLoggedOut.CanTransitionTo(StateGuestLoaded))
	assert.False(t, StateUnstarted.CanTransitionTo(StateAccountReady))
	assert.False(t, StateGuestLoaded.CanTransitionTo(StateAccountReady))
	assert.False(t, StateLoggedOut.CanTransitionTo(StateAccountReady))
	assert.False(t, StateAccountReady.CanTransitionTo(StateGuestLoaded))
	assert.False(t, StateMergeFailed.CanTransitionTo(StateGuestLoaded))

	for from := range transitions {
		assert.True(t, from.CanTransitionTo(StateLoggedOut), "%s must reach logged_out", from)
	}
}

func TestEngine_InitializeWithoutToken(t *testing.T) {
	h := newHarness(t, withGuest(item("P1", 2)))
	assert.Equal(t, cart.SourceNone, h.engine.EffectiveCart().Source)

	require.NoError(t, h.engine.Initialize(h.ctx))

	assert.Equal(t, StateGuestLoaded, h.engine.State())
	snap := h.engine.EffectiveCart()
	assert.Equal(t, cart.SourceGuest, snap.Source)
	assert.Equal(t, StateGuestLoaded.String(), snap.State)
	assert.Equal(t, []cart.LineItem{item("P1", 2)}, snap.Items)
	confirm, fetch, merge, _ := h.backend.calls()
	assert.Zero(t, confirm+fetch+merge)
}

func TestEngine_InitializeRunsOnce(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.engine.Initialize(h.ctx))
	rev := h.engine.EffectiveCart().Revision
	require.NoError(t, h.engine.Initialize(h.ctx))
	assert.Equal(t, rev, h.engine.EffectiveCart().Revision)
}

// Guest P1x2 logs in to account P1x1: merged P1x3, local store cleared
func TestEngine_LoginMergesGuestCart(t *testing.T) {
	h := newHarness(t, withGuest(item("P1", 2)))
	h.backend.account = []cart.LineItem{item("P1", 1)}
	require.NoError(t, h.engine.Initialize(h.ctx))

	require.NoError(t, h.login(t, "tok-1"))

	assert.Equal(t, StateAccountReady, h.engine.State())
	snap := h.engine.EffectiveCart()
	assert.Equal(t, cart.SourceAccount, snap.Source)
	assert.Equal(t, []cart.LineItem{item("P1", 3)}, snap.Items)
	assert.Empty(t, h.storedGuest(t))
	assert.Empty(t, h.engine.GuestCart())

	_, _, merge, _ := h.backend.calls()
	assert.Equal(t, 1, merge)
	require.Len(t, h.backend.mergeKeys, 1)
	assert.NotEmpty(t, h.backend.mergeKeys[0])
}

// Empty guest cart logs in to account P2x5: account cart adopted, no merge call
func TestEngine_LoginWithEmptyGuestCartSkipsMerge(t *testing.T) {
	h := newHarness(t)
	h.backend.account = []cart.LineItem{item("P2", 5)}
	require.NoError(t, h.engine.Initialize(h.ctx))

	require.NoError(t, h.login(t, "tok-1"))

	assert.Equal(t, StateAccountReady, h.engine.State())
	assert.Equal(t, []cart.LineItem{item("P2", 5)}, h.engine.EffectiveCart().Items)
	_, fetch, merge, _ := h.backend.calls()
	assert.Equal(t, 1, fetch)
	assert.Zero(t, merge)
}

// Stored token rejected by identity confirmation: credential cleared, guest cart unchanged
func TestEngine_InitializeWithRejectedToken(t *testing.T) {
	h := newHarness(t, withStoredToken("stale-token"), withGuest(item("P1", 2), item("P3", 1)))
	h.backend.confirmErr = fmt.Errorf("%w: status 401", shared.ErrInvalidCredential)
	require.True(t, h.holder.State().TokenPresent)

	err := h.engine.Initialize(h.ctx)
	assert.ErrorIs(t, err, shared.ErrInvalidCredential)

	assert.Equal(t, StateGuestLoaded, h.engine.State())
	assert.Equal(t, []cart.LineItem{item("P1", 2), item("P3", 1)}, h.engine.EffectiveCart().Items)
	assert.Empty(t, h.holder.Credential())
	_, ok, err := h.tokenBlob.Load(h.ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []cart.LineItem{item("P1", 2), item("P3", 1)}, h.storedGuest(t))
	_, fetch, merge, _ := h.backend.calls()
	assert.Zero(t, fetch+merge)
}

func TestEngine_InitializeWithUnreachableIdentityClearsToken(t *testing.T) {
	h := newHarness(t, withStoredToken("tok-1"), withGuest(item("P1", 1)))
	h.backend.confirmErr = fmt.Errorf("%w: connection refused", shared.ErrNetworkFailure)

	err := h.engine.Initialize(h.ctx)
	assert.ErrorIs(t, err, shared.ErrNetworkFailure)
	assert.Equal(t, StateGuestLoaded, h.engine.State())
	assert.Empty(t, h.holder.Credential())
	assert.Equal(t, []cart.LineItem{item("P1", 1)}, h.engine.EffectiveCart().Items)
}

func TestEngine_InitializeWithValidStoredToken(t *testing.T) {
	h := newHarness(t, withStoredToken("tok-1"), withGuest(item("P1", 1)))
	h.backend.account = []cart.LineItem{item("P2", 1)}

	require.NoError(t, h.engine.Initialize(h.ctx))

	assert.Equal(t, StateAccountReady, h.engine.State())
	assert.True(t, h.holder.State().Authenticated)
	require.NotNil(t, h.holder.Identity())
	assert.Equal(t, "u-1", h.holder.Identity().UserID)
	assert.ElementsMatch(t, []cart.LineItem{item("P2", 1), item("P1", 1)}, h.engine.EffectiveCart().Items)
}

func TestEngine_SignedInSessionToleratesUnreachableIdentity(t *testing.T) {
	h := newHarness(t, withGuest(item("P1", 1)))
	h.backend.confirmErr = fmt.Errorf("%w: timeout", shared.ErrNetworkFailure)
	require.NoError(t, h.engine.Initialize(h.ctx))

	require.NoError(t, h.holder.SignIn(h.ctx, "tok-1", nil))
	require.NoError(t, h.engine.OnAuthStateChanged(h.ctx, true))

	assert.Equal(t, StateAccountReady, h.engine.State())
	assert.Equal(t, "tok-1", h.holder.Credential())
	confirm, _, merge, _ := h.backend.calls()
	assert.Equal(t, 1, confirm)
	assert.Equal(t, 1, merge)
}

// Merge times out: pre-merge account cart effective, guest items retained
func TestEngine_MergeTimeoutKeepsGuestCart(t *testing.T) {
	guest := []cart.LineItem{item("P1", 2), item("P4", 1)}
	h := newHarness(t, withGuest(guest...))
	h.backend.account = []cart.LineItem{item("P2", 1)}
	h.backend.mergeErr = fmt.Errorf("%w: context deadline exceeded", shared.ErrNetworkFailure)
	require.NoError(t, h.engine.Initialize(h.ctx))

	err := h.login(t, "tok-1")
	assert.ErrorIs(t, err, shared.ErrNetworkFailure)

	assert.Equal(t, StateMergeFailed, h.engine.State())
	snap := h.engine.EffectiveCart()
	assert.Equal(t, cart.SourceAccount, snap.Source)
	assert.Equal(t, []cart.LineItem{item("P2", 1)}, snap.Items)
	assert.Equal(t, guest, h.storedGuest(t))
	assert.Equal(t, guest, h.engine.GuestCart())
}

func TestEngine_MergeConflictThenRetry(t *testing.T) {
	h := newHarness(t, withGuest(item("P1", 2)))
	h.backend.account = []cart.LineItem{item("P1", 1)}
	h.backend.mergeErr = fmt.Errorf("%w: status 409", shared.ErrMergeConflict)
	require.NoError(t, h.engine.Initialize(h.ctx))

	err := h.login(t, "tok-1")
	assert.ErrorIs(t, err, shared.ErrMergeConflict)
	assert.Equal(t, StateMergeFailed, h.engine.State())
	assert.Equal(t, []cart.LineItem{item("P1", 1)}, h.engine.EffectiveCart().Items)
	assert.Equal(t, []cart.LineItem{item("P1", 2)}, h.storedGuest(t))

	h.backend.mu.Lock()
	h.backend.mergeErr = nil
	h.backend.mu.Unlock()

	op, err := h.engine.MergeGuestIntoAccount(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, cart.MergeOutcomeMerged, op.Outcome)
	assert.Equal(t, StateAccountReady, h.engine.State())
	assert.Equal(t, []cart.LineItem{item("P1", 3)}, h.engine.EffectiveCart().Items)
	assert.Empty(t, h.storedGuest(t))
	// the unchanged guest lines are resent under the key of the failed attempt
	require.Len(t, h.backend.mergeKeys, 2)
	assert.Equal(t, h.backend.mergeKeys[0], h.backend.mergeKeys[1])
}

func TestEngine_MergeIsIdempotentAfterSuccess(t *testing.T) {
	h := newHarness(t, withGuest(item("P1", 2)))
	h.backend.account = []cart.LineItem{item("P1", 1)}
	require.NoError(t, h.engine.Initialize(h.ctx))
	require.NoError(t, h.login(t, "tok-1"))

	for range 2 {
		op, err := h.engine.MergeGuestIntoAccount(h.ctx)
		require.NoError(t, err)
		assert.Equal(t, cart.MergeOutcomeSkipped, op.Outcome)
	}

	_, fetch, merge, _ := h.backend.calls()
	assert.Equal(t, 3, fetch)
	assert.Equal(t, 1, merge)
	assert.Equal(t, []cart.LineItem{item("P1", 3)}, h.backend.accountCart())
	assert.Equal(t, []cart.LineItem{item("P1", 3)}, h.engine.EffectiveCart().Items)
}

func TestEngine_MergeRequiresAccountSession(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.engine.Initialize(h.ctx))

	_, err := h.engine.MergeGuestIntoAccount(h.ctx)
	assert.ErrorIs(t, err, shared.ErrInvalidCredential)

	// credential stored but the sequence has not run yet
	require.NoError(t, h.holder.SignIn(h.ctx, "tok-1", nil))
	_, err = h.engine.MergeGuestIntoAccount(h.ctx)
	assert.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestEngine_FetchFailureWithEmptyGuestCart(t *testing.T) {
	h := newHarness(t)
	h.backend.fetchErr = fmt.Errorf("%w: status 503", shared.ErrNetworkFailure)
	require.NoError(t, h.engine.Initialize(h.ctx))

	err := h.login(t, "tok-1")
	assert.ErrorIs(t, err, shared.ErrNetworkFailure)
	assert.Equal(t, StateMergeFailed, h.engine.State())
	snap := h.engine.EffectiveCart()
	assert.Equal(t, cart.SourceAccount, snap.Source)
	assert.Empty(t, snap.Items)
	_, _, merge, _ := h.backend.calls()
	assert.Zero(t, merge)
}

func TestEngine_FetchFailureStillMergesGuestCart(t *testing.T) {
	h := newHarness(t, withGuest(item("P1", 2)))
	h.backend.account = []cart.LineItem{item("P1", 1)}
	h.backend.fetchErr = fmt.Errorf("%w: status 502", shared.ErrNetworkFailure)
	require.NoError(t, h.engine.Initialize(h.ctx))

	require.NoError(t, h.login(t, "tok-1"))
	assert.Equal(t, StateAccountReady, h.engine.State())
	assert.Equal(t, []cart.LineItem{item("P1", 3)}, h.engine.EffectiveCart().Items)
	assert.Empty(t, h.storedGuest(t))
}

func TestEngine_RejectedDuringFetchFallsBackToGuest(t *testing.T) {
	h := newHarness(t, withGuest(item("P1", 2)))
	h.backend.fetchErr = fmt.Errorf("%w: status 401", shared.ErrInvalidCredential)
	require.NoError(t, h.engine.Initialize(h.ctx))

	err := h.login(t, "tok-1")
	assert.ErrorIs(t, err, shared.ErrInvalidCredential)
	assert.Equal(t, StateGuestLoaded, h.engine.State())
	assert.Empty(t, h.holder.Credential())
	assert.Equal(t, []cart.LineItem{item("P1", 2)}, h.engine.EffectiveCart().Items)
	assert.Equal(t, []cart.LineItem{item("P1", 2)}, h.storedGuest(t))
}

func TestEngine_LogoutShowsNoAccountItems(t *testing.T) {
	h := newHarness(t)
	h.backend.account = []cart.LineItem{item("P9", 4)}
	h.backend.wishlist = []wishlist.Item{{ProductID: "W1"}}
	require.NoError(t, h.engine.Initialize(h.ctx))
	require.NoError(t, h.login(t, "tok-1"))
	require.Equal(t, StateAccountReady, h.engine.State())
	require.Len(t, h.engine.EffectiveWishlist().Items, 1)

	require.NoError(t, h.holder.Invalidate(h.ctx))
	require.NoError(t, h.engine.OnAuthStateChanged(h.ctx, false))

	assert.Equal(t, StateGuestLoaded, h.engine.State())
	snap := h.engine.EffectiveCart()
	assert.Equal(t, cart.SourceGuest, snap.Source)
	assert.Empty(t, snap.Items)
	wish := h.engine.EffectiveWishlist()
	assert.Equal(t, wishlist.SourceNone, wish.Source)
	assert.Empty(t, wish.Items)

	require.NoError(t, h.engine.AddGuestItem(h.ctx, item("P5", 1)))
	assert.Equal(t, []cart.LineItem{item("P5", 1)}, h.engine.EffectiveCart().Items)
}

func TestEngine_StaleMergeAfterLogoutIsDiscarded(t *testing.T) {
	h := newHarness(t, withGuest(item("P1", 2)))
	h.backend.account = []cart.LineItem{item("P9", 1)}
	h.backend.mergeStarted = make(chan struct{}, 1)
	h.backend.mergeRelease = make(chan struct{})
	require.NoError(t, h.engine.Initialize(h.ctx))

	id := h.backend.identity
	require.NoError(t, h.holder.SignIn(h.ctx, "tok-1", &id))
	done := make(chan error, 1)
	go func() { done <- h.engine.OnAuthStateChanged(h.ctx, true) }()

	<-h.backend.mergeStarted
	assert.Equal(t, StateMerging, h.engine.State())
	require.NoError(t, h.holder.Invalidate(h.ctx))
	require.NoError(t, h.engine.OnAuthStateChanged(h.ctx, false))
	require.Equal(t, StateGuestLoaded, h.engine.State())

	close(h.backend.mergeRelease)
	assert.ErrorIs(t, <-done, ErrSuperseded)

	assert.Equal(t, StateGuestLoaded, h.engine.State())
	snap := h.engine.EffectiveCart()
	assert.Equal(t, cart.SourceGuest, snap.Source)
	for _, line := range snap.Items {
		assert.NotEqual(t, "P9", line.ProductID)
	}
	_, _, _, wish := h.backend.calls()
	assert.Zero(t, wish)
	assert.Equal(t, wishlist.SourceNone, h.engine.EffectiveWishlist().Source)
}

func TestEngine_ConcurrentTriggersCoalesce(t *testing.T) {
	h := newHarness(t, withGuest(item("P1", 2)))
	h.backend.account = []cart.LineItem{item("P1", 1)}
	h.backend.mergeStarted = make(chan struct{}, 4)
	h.backend.mergeRelease = make(chan struct{})

	id := h.backend.identity
	require.NoError(t, h.holder.SignIn(h.ctx, "tok-1", &id))

	var wg sync.WaitGroup
	errs := make(chan error, 3)
	wg.Add(1)
	go func() {
		defer wg.Done()
		errs <- h.engine.Initialize(h.ctx)
	}()
	<-h.backend.mergeStarted

	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- h.engine.OnAuthStateChanged(h.ctx, true)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = h.engine.MergeGuestIntoAccount(h.ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	close(h.backend.mergeRelease)
	wg.Wait()
	close(errs)
	for err := range errs {
		// a trigger that missed the flight starts its own sequence and
		// supersedes the earlier one
		if err != nil {
			assert.ErrorIs(t, err, ErrSuperseded)
		}
	}

	_, _, merge, _ := h.backend.calls()
	assert.Equal(t, 1, merge)
	assert.Equal(t, []cart.LineItem{item("P1", 3)}, h.backend.accountCart())
	assert.Equal(t, StateAccountReady, h.engine.State())
	assert.Equal(t, []cart.LineItem{item("P1", 3)}, h.engine.EffectiveCart().Items)
	assert.Empty(t, h.storedGuest(t))
}

func TestEngine_GuestAdditionDuringMergeIsKept(t *testing.T) {
	h := newHarness(t, withGuest(item("P1", 2)))
	h.backend.mergeStarted = make(chan struct{}, 1)
	h.backend.mergeRelease = make(chan struct{})
	require.NoError(t, h.engine.Initialize(h.ctx))

	id := h.backend.identity
	require.NoError(t, h.holder.SignIn(h.ctx, "tok-1", &id))
	done := make(chan error, 1)
	go func() { done <- h.engine.OnAuthStateChanged(h.ctx, true) }()

	<-h.backend.mergeStarted
	require.NoError(t, h.engine.AddGuestItem(h.ctx, item("P1", 1)))
	require.NoError(t, h.engine.AddGuestItem(h.ctx, item("P2", 1)))
	close(h.backend.mergeRelease)
	require.NoError(t, <-done)

	assert.Equal(t, StateAccountReady, h.engine.State())
	assert.Equal(t, []cart.LineItem{item("P1", 2)}, h.engine.EffectiveCart().Items)
	assert.Equal(t, []cart.LineItem{item("P1", 1), item("P2", 1)}, h.storedGuest(t))
}

func TestEngine_AddGuestItem(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.engine.Initialize(h.ctx))

	require.NoError(t, h.engine.AddGuestItem(h.ctx, item("P1", 1)))
	require.NoError(t, h.engine.AddGuestItem(h.ctx, cart.LineItem{ProductID: "P1", VariantKey: "red", Quantity: 1}))
	require.NoError(t, h.engine.AddGuestItem(h.ctx, item("P1", 2)))

	want := []cart.LineItem{item("P1", 3), {ProductID: "P1", VariantKey: "red", Quantity: 1}}
	assert.Equal(t, want, h.engine.EffectiveCart().Items)
	assert.Equal(t, want, h.storedGuest(t))

	err := h.engine.AddGuestItem(h.ctx, item("", 1))
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
	err = h.engine.AddGuestItem(h.ctx, item("P1", 0))
	assert.ErrorIs(t, err, shared.ErrInvalidInput)

	require.NoError(t, h.login(t, "tok-1"))
	err = h.engine.AddGuestItem(h.ctx, item("P2", 1))
	assert.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestEngine_WishlistFollowsAccount(t *testing.T) {
	h := newHarness(t)
	h.backend.wishlist = []wishlist.Item{{ProductID: "W1"}, {ProductID: "W1"}, {ProductID: "W2", VariantKey: "blue"}}
	require.NoError(t, h.engine.Initialize(h.ctx))
	assert.Equal(t, wishlist.SourceNone, h.engine.EffectiveWishlist().Source)

	require.NoError(t, h.login(t, "tok-1"))

	wish := h.engine.EffectiveWishlist()
	assert.Equal(t, wishlist.SourceAccount, wish.Source)
	assert.Equal(t, []wishlist.Item{{ProductID: "W1"}, {ProductID: "W2", VariantKey: "blue"}}, wish.Items)
}

func TestEngine_WishlistFetchedAfterFailedMerge(t *testing.T) {
	h := newHarness(t, withGuest(item("P1", 1)))
	h.backend.mergeErr = fmt.Errorf("%w: status 422", shared.ErrMergeConflict)
	h.backend.wishlist = []wishlist.Item{{ProductID: "W1"}}
	require.NoError(t, h.engine.Initialize(h.ctx))

	_ = h.login(t, "tok-1")
	assert.Equal(t, StateMergeFailed, h.engine.State())
	assert.Len(t, h.engine.EffectiveWishlist().Items, 1)
}

func TestEngine_WishlistFailureKeepsCart(t *testing.T) {
	h := newHarness(t)
	h.backend.account = []cart.LineItem{item("P1", 1)}
	h.backend.wishlistErr = fmt.Errorf("%w: status 500", shared.ErrNetworkFailure)
	require.NoError(t, h.engine.Initialize(h.ctx))

	require.NoError(t, h.login(t, "tok-1"))
	assert.Equal(t, StateAccountReady, h.engine.State())
	assert.Equal(t, wishlist.SourceNone, h.engine.EffectiveWishlist().Source)
}

func TestEngine_PublishesSnapshots(t *testing.T) {
	h := newHarness(t, withGuest(item("P1", 2)))
	h.backend.account = []cart.LineItem{item("P1", 1)}
	h.backend.wishlist = []wishlist.Item{{ProductID: "W1"}}
	carts := event.NewChannelHandler(64, cart.EventTypeCartChanged)
	wishes := event.NewChannelHandler(64, wishlist.EventTypeWishlistChanged)
	settled := event.NewChannelHandler(8, cart.EventTypeMergeSettled)
	h.bus.Subscribe(carts)
	h.bus.Subscribe(wishes)
	h.bus.Subscribe(settled)

	require.NoError(t, h.engine.Initialize(h.ctx))
	require.NoError(t, h.login(t, "tok-1"))

	var last cart.Snapshot
	var prevRev uint64
	for len(carts.C()) > 0 {
		e := (<-carts.C()).(*cart.CartChangedEvent)
		assert.Greater(t, e.Snapshot.Revision, prevRev)
		prevRev = e.Snapshot.Revision
		last = e.Snapshot
	}
	assert.Equal(t, cart.SourceAccount, last.Source)
	assert.Equal(t, []cart.LineItem{item("P1", 3)}, last.Items)
	assert.Equal(t, h.engine.EffectiveCart(), last)

	require.Len(t, wishes.C(), 1)
	w := (<-wishes.C()).(*wishlist.WishlistChangedEvent)
	assert.Equal(t, []wishlist.Item{{ProductID: "W1"}}, w.Snapshot.Items)

	require.Len(t, settled.C(), 1)
	s := (<-settled.C()).(*cart.MergeSettledEvent)
	assert.Equal(t, cart.MergeOutcomeMerged, s.Outcome)
	assert.Equal(t, 1, s.GuestLines)
}

func TestEngine_MergeSumsQuantities(t *testing.T) {
	faker := gofakeit.New(7)
	products := []string{"P1", "P2", "P3", "P4"}
	variants := []string{"", "red", "xl"}
	randomCart := func() []cart.LineItem {
		n := faker.IntRange(0, 5)
		items := make([]cart.LineItem, 0, n)
		for range n {
			items = append(items, cart.LineItem{
				ProductID:  faker.RandomString(products),
				VariantKey: faker.RandomString(variants),
				Quantity:   faker.IntRange(1, 9),
			})
		}
		return cart.Normalize(items)
	}

	for i := range 40 {
		guest, account := randomCart(), randomCart()
		t.Run(fmt.Sprintf("case_%d", i), func(t *testing.T) {
			h := newHarness(t, withGuest(guest...))
			h.backend.account = account
			require.NoError(t, h.engine.Initialize(h.ctx))
			require.NoError(t, h.login(t, "tok-1"))

			want := cart.Quantities(account)
			for k, q := range cart.Quantities(guest) {
				want[k] += q
			}
			assert.Equal(t, want, cart.Quantities(h.engine.EffectiveCart().Items))
			assert.Empty(t, h.storedGuest(t))

			_, _, merge, _ := h.backend.calls()
			if len(guest) == 0 {
				assert.Zero(t, merge)
			} else {
				assert.Equal(t, 1, merge)
			}
		})
	}
}

func TestEngine_CancelledMergeKeepsGuestCart(t *testing.T) {
	h := newHarness(t, withGuest(item("P1", 2)))
	h.backend.mergeStarted = make(chan struct{}, 1)
	h.backend.mergeRelease = make(chan struct{})
	require.NoError(t, h.engine.Initialize(h.ctx))

	id := h.backend.identity
	require.NoError(t, h.holder.SignIn(h.ctx, "tok-1", &id))
	ctx, cancel := context.WithCancel(h.ctx)
	done := make(chan error, 1)
	go func() { done <- h.engine.OnAuthStateChanged(ctx, true) }()

	<-h.backend.mergeStarted
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, StateMergeFailed, h.engine.State())
	assert.Equal(t, []cart.LineItem{item("P1", 2)}, h.storedGuest(t))
}

func TestEngine_ReconcileAdoptsReplacedCredential(t *testing.T) {
	h := newHarness(t)
	h.backend.account = []cart.LineItem{item("A1", 1)}
	h.backend.wishlist = []wishlist.Item{{ProductID: "W1"}}
	require.NoError(t, h.engine.Initialize(h.ctx))
	require.NoError(t, h.login(t, "tok-a"))
	require.Equal(t, []cart.LineItem{item("A1", 1)}, h.engine.EffectiveCart().Items)

	h.backend.mu.Lock()
	h.backend.account = []cart.LineItem{item("B9", 7)}
	h.backend.wishlist = nil
	h.backend.mu.Unlock()

	// the session stays authenticated, so no flip reaches the engine
	other := session.Identity{UserID: "u-2", Email: "other@example.com"}
	require.NoError(t, h.holder.SignIn(h.ctx, "tok-b", &other))
	require.NoError(t, h.engine.Reconcile(h.ctx))
	_, fetch, _, _ := h.backend.calls()
	assert.Equal(t, 2, fetch)
	assert.Equal(t, StateAccountReady, h.engine.State())
	assert.Equal(t, []cart.LineItem{item("B9", 7)}, h.engine.EffectiveCart().Items)
	assert.Empty(t, h.engine.EffectiveWishlist().Items)
}

func TestEngine_AuthFlipForSettledCredentialIsIgnored(t *testing.T) {
	h := newHarness(t, withStoredToken("tok-1"), withGuest(item("P1", 2)))
	h.backend.account = []cart.LineItem{item("P1", 1)}
	require.NoError(t, h.engine.Initialize(h.ctx))
	require.Equal(t, StateAccountReady, h.engine.State())

	carts := event.NewChannelHandler(16, cart.EventTypeCartChanged)
	h.bus.Subscribe(carts)
	require.NoError(t, h.engine.OnAuthStateChanged(h.ctx, true))

	confirm, fetch, merge, wish := h.backend.calls()
	assert.Equal(t, 1, confirm)
	assert.Equal(t, 1, fetch)
	assert.Equal(t, 1, merge)
	assert.Equal(t, 1, wish)
	assert.Zero(t, len(carts.C()))
	assert.Equal(t, []cart.LineItem{item("P1", 3)}, h.engine.EffectiveCart().Items)
}

func TestEngine_MergeRunsOneAtATimeAcrossCredentials(t *testing.T) {
	h := newHarness(t, withGuest(item("P1", 2)))
	h.backend.mergeStarted = make(chan struct{}, 4)
	h.backend.mergeRelease = make(chan struct{})
	require.NoError(t, h.engine.Initialize(h.ctx))

	id := h.backend.identity
	require.NoError(t, h.holder.SignIn(h.ctx, "tok-a", &id))
	first := make(chan error, 1)
	go func() { first <- h.engine.OnAuthStateChanged(h.ctx, true) }()
	<-h.backend.mergeStarted

	require.NoError(t, h.holder.SignIn(h.ctx, "tok-b", &id))
	second := make(chan error, 1)
	go func() { second <- h.engine.Reconcile(h.ctx) }()
	require.Eventually(t, func() bool {
		return h.engine.State() == StateAuthenticating
	}, time.Second, time.Millisecond)

	select {
	case <-h.backend.mergeStarted:
		t.Fatal("merge call for tok-b started while the tok-a merge was in flight")
	case <-time.After(50 * time.Millisecond):
	}
	close(h.backend.mergeRelease)

	assert.ErrorIs(t, <-first, ErrSuperseded)
	require.NoError(t, <-second)

	_, _, merge, _ := h.backend.calls()
	assert.Equal(t, 1, merge)
	assert.Equal(t, []cart.LineItem{item("P1", 2)}, h.backend.accountCart())
	assert.Equal(t, StateAccountReady, h.engine.State())
	assert.Equal(t, []cart.LineItem{item("P1", 2)}, h.engine.EffectiveCart().Items)
	assert.Empty(t, h.storedGuest(t))
}

// unclearableGuestCarts fails Clear while err is set
type unclearableGuestCarts struct {
	*localstore.GuestCartRepository
	mu  sync.Mutex
	err error
}

func (g *unclearableGuestCarts) Clear(ctx context.Context) error {
	g.mu.Lock()
	err := g.err
	g.mu.Unlock()
	if err != nil {
		return err
	}
	return g.GuestCartRepository.Clear(ctx)
}

func (g *unclearableGuestCarts) setErr(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.err = err
}

func TestEngine_UnclearedGuestCartIsResentUnderSameKey(t *testing.T) {
	h := newHarness(t, withGuest(item("P1", 2)))
	h.backend.account = []cart.LineItem{item("P1", 1)}
	guest := &unclearableGuestCarts{GuestCartRepository: h.guest, err: errors.New("disk full")}
	engine, err := NewEngine(Dependencies{
		Session:    h.holder,
		Identity:   fakeIdentity{h.backend},
		Carts:      fakeCarts{h.backend},
		Wishlists:  fakeWishlists{h.backend},
		GuestCarts: guest,
	})
	require.NoError(t, err)
	h.engine = engine

	require.NoError(t, h.engine.Initialize(h.ctx))
	require.NoError(t, h.login(t, "tok-1"))
	assert.Equal(t, []cart.LineItem{item("P1", 3)}, h.backend.accountCart())
	assert.Equal(t, []cart.LineItem{item("P1", 2)}, h.storedGuest(t))

	require.NoError(t, h.holder.Invalidate(h.ctx))
	require.NoError(t, h.engine.OnAuthStateChanged(h.ctx, false))
	guest.setErr(nil)
	require.NoError(t, h.login(t, "tok-2"))

	require.Len(t, h.backend.mergeKeys, 2)
	assert.Equal(t, h.backend.mergeKeys[0], h.backend.mergeKeys[1])
	assert.Equal(t, []cart.LineItem{item("P1", 3)}, h.backend.accountCart())
	assert.Equal(t, []cart.LineItem{item("P1", 3)}, h.engine.EffectiveCart().Items)
	assert.Empty(t, h.storedGuest(t))
}
