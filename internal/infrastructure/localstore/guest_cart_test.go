package localstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/storefront/cartsync/internal/domain/cart"
)

func TestGuestCartRepository_RoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := NewGuestCartRepository(NewBlob(NewMemoryStore(), "storefront.guest_cart"), nil)

	items, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.NotNil(t, items)

	require.NoError(t, repo.Save(ctx, []cart.LineItem{
		{ProductID: "A", VariantKey: "red", Quantity: 1},
		{ProductID: "B", Quantity: 2},
		{ProductID: "A", VariantKey: "red", Quantity: 2},
	}))

	items, err = repo.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []cart.LineItem{
		{ProductID: "A", VariantKey: "red", Quantity: 3},
		{ProductID: "B", Quantity: 2},
	}, items)

	require.NoError(t, repo.Clear(ctx))
	items, err = repo.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestGuestCartRepository_LegacyArray(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Put(ctx, "k", []byte(`[{"productId":"A","variantKey":null,"quantity":2}]`)))

	items, err := NewGuestCartRepository(NewBlob(store, "k"), nil).Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []cart.LineItem{{ProductID: "A", Quantity: 2}}, items)
}

func TestGuestCartRepository_UnreadableDocument(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Put(ctx, "k", []byte("{not json")))

	core, logs := observer.New(zapcore.WarnLevel)
	items, err := NewGuestCartRepository(NewBlob(store, "k"), zap.New(core)).Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Equal(t, 1, logs.FilterMessage("discarding unreadable guest cart").Len())
}

func TestGuestCartRepository_FutureVersion(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Put(ctx, "k", []byte(`{"version":9,"items":[]}`)))

	items, err := NewGuestCartRepository(NewBlob(store, "k"), nil).Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestGuestCartRepository_MergeKey(t *testing.T) {
	ctx := context.Background()
	repo := NewGuestCartRepository(NewBlob(NewMemoryStore(), "storefront.guest_cart"), nil)

	// nothing to remember for an empty cart
	require.NoError(t, repo.RememberMergeKey(ctx, "k-0"))
	key, err := repo.PendingMergeKey(ctx)
	require.NoError(t, err)
	assert.Empty(t, key)

	require.NoError(t, repo.Save(ctx, []cart.LineItem{{ProductID: "A", Quantity: 2}}))
	require.NoError(t, repo.RememberMergeKey(ctx, "k-1"))
	key, err = repo.PendingMergeKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, "k-1", key)

	items, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []cart.LineItem{{ProductID: "A", Quantity: 2}}, items)

	require.NoError(t, repo.Save(ctx, []cart.LineItem{{ProductID: "A", Quantity: 3}}))
	key, err = repo.PendingMergeKey(ctx)
	require.NoError(t, err)
	assert.Empty(t, key, "a changed cart forgets the key")

	require.NoError(t, repo.RememberMergeKey(ctx, "k-2"))
	require.NoError(t, repo.Clear(ctx))
	key, err = repo.PendingMergeKey(ctx)
	require.NoError(t, err)
	assert.Empty(t, key)
}
