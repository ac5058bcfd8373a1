package cart

import "context"

// GuestCartRepository persists the anonymous cart on the local device
type GuestCartRepository interface {
	// Load returns the stored guest cart, empty if none was stored
	Load(ctx context.Context) ([]LineItem, error)
	// Save replaces the stored guest cart
	Save(ctx context.Context, items []LineItem) error
	// Clear removes the stored guest cart
	Clear(ctx context.Context) error
	// PendingMergeKey returns the idempotency key remembered for the stored
	// lines, empty if none. Save and Clear forget it.
	PendingMergeKey(ctx context.Context) (string, error)
	// RememberMergeKey records the idempotency key of a merge sent for the
	// stored lines
	RememberMergeKey(ctx context.Context, key string) error
}

// AccountCartGateway reaches the backend cart of the authenticated identity
type AccountCartGateway interface {
	// Fetch returns the current account cart
	Fetch(ctx context.Context) ([]LineItem, error)
	// Merge sends guest items to the backend merge endpoint and returns the
	// merged account cart. idempotencyKey identifies the merge attempt.
	Merge(ctx context.Context, idempotencyKey string, items []LineItem) ([]LineItem, error)
}
