package localstore

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/storefront/cartsync/internal/domain/cart"
)

const guestCartVersion = 1

type guestCartDocument struct {
	Version  int             `json:"version"`
	Items    []cart.LineItem `json:"items"`
	MergeKey string          `json:"merge_key,omitempty"`
}

// GuestCartRepository implements cart.GuestCartRepository as a JSON
// document in a Blob
type GuestCartRepository struct {
	blob   *Blob
	logger *zap.Logger
}

// NewGuestCartRepository creates the repository
func NewGuestCartRepository(blob *Blob, logger *zap.Logger) *GuestCartRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GuestCartRepository{blob: blob, logger: logger}
}

// Load implements cart.GuestCartRepository. An unreadable document is
// logged and treated as an empty cart.
func (r *GuestCartRepository) Load(ctx context.Context) ([]cart.LineItem, error) {
	doc, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	return doc.Items, nil
}

// PendingMergeKey implements cart.GuestCartRepository
func (r *GuestCartRepository) PendingMergeKey(ctx context.Context) (string, error) {
	doc, err := r.load(ctx)
	if err != nil {
		return "", err
	}
	return doc.MergeKey, nil
}

// RememberMergeKey implements cart.GuestCartRepository. Nothing is recorded
// for an empty cart.
func (r *GuestCartRepository) RememberMergeKey(ctx context.Context, key string) error {
	doc, err := r.load(ctx)
	if err != nil {
		return err
	}
	if len(doc.Items) == 0 {
		return nil
	}
	doc.MergeKey = key
	return r.save(ctx, doc)
}

func (r *GuestCartRepository) load(ctx context.Context) (guestCartDocument, error) {
	empty := guestCartDocument{Version: guestCartVersion, Items: []cart.LineItem{}}
	data, ok, err := r.blob.Load(ctx)
	if err != nil {
		return empty, fmt.Errorf("load guest cart: %w", err)
	}
	if !ok || len(data) == 0 {
		return empty, nil
	}

	doc, err := decodeGuestCart(data)
	if err != nil {
		r.logger.Warn("discarding unreadable guest cart",
			zap.String("key", r.blob.Key()),
			zap.Error(err),
		)
		return empty, nil
	}
	doc.Items = cart.Normalize(doc.Items)
	return doc, nil
}

func decodeGuestCart(data []byte) (guestCartDocument, error) {
	// bare arrays were written before the versioned document
	if len(data) > 0 && data[0] == '[' {
		var items []cart.LineItem
		if err := json.Unmarshal(data, &items); err != nil {
			return guestCartDocument{}, err
		}
		return guestCartDocument{Version: guestCartVersion, Items: items}, nil
	}
	var doc guestCartDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return guestCartDocument{}, err
	}
	if doc.Version > guestCartVersion {
		return guestCartDocument{}, fmt.Errorf("unsupported guest cart version %d", doc.Version)
	}
	return doc, nil
}

// Save implements cart.GuestCartRepository
func (r *GuestCartRepository) Save(ctx context.Context, items []cart.LineItem) error {
	return r.save(ctx, guestCartDocument{Version: guestCartVersion, Items: cart.Normalize(items)})
}

func (r *GuestCartRepository) save(ctx context.Context, doc guestCartDocument) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode guest cart: %w", err)
	}
	if err := r.blob.Save(ctx, data); err != nil {
		return fmt.Errorf("save guest cart: %w", err)
	}
	return nil
}

// Clear implements cart.GuestCartRepository
func (r *GuestCartRepository) Clear(ctx context.Context) error {
	if err := r.blob.Clear(ctx); err != nil {
		return fmt.Errorf("clear guest cart: %w", err)
	}
	return nil
}
