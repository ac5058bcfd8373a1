// Package localstore persists small byte blobs on the local device. The guest
// cart and the session credential each live under one fixed key.
package localstore

import (
	"context"
	"errors"

	"github.com/storefront/cartsync/internal/domain/shared"
)

// ErrNotFound is returned by Store.Get for a key that holds no value
var ErrNotFound = shared.NewDomainError("LOCAL_KEY_NOT_FOUND", "local store key not found")

// Store is a key/value byte-blob store
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Blob binds a Store to a single fixed key
type Blob struct {
	store Store
	key   string
}

// NewBlob returns a blob stored under key
func NewBlob(store Store, key string) *Blob {
	return &Blob{store: store, key: key}
}

// Key returns the storage key
func (b *Blob) Key() string {
	return b.key
}

// Load returns the stored bytes. ok is false when nothing is stored.
func (b *Blob) Load(ctx context.Context) (data []byte, ok bool, err error) {
	data, err = b.store.Get(ctx, b.key)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// Save replaces the stored bytes
func (b *Blob) Save(ctx context.Context, data []byte) error {
	return b.store.Put(ctx, b.key, data)
}

// Clear removes the stored bytes. Clearing an empty blob is not an error.
func (b *Blob) Clear(ctx context.Context) error {
	return b.store.Delete(ctx, b.key)
}
