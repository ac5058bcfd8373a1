package cart

import "github.com/storefront/cartsync/internal/domain/shared"

// Event types
const (
	AggregateType         = "EffectiveCart"
	EventTypeCartChanged  = "cart.changed"
	EventTypeMergeSettled = "cart.merge_settled"
)

// CartChangedEvent carries the new effective cart snapshot
type CartChangedEvent struct {
	shared.BaseDomainEvent
	Snapshot Snapshot `json:"snapshot"`
}

// NewCartChangedEvent creates a CartChangedEvent
func NewCartChangedEvent(snapshot Snapshot) *CartChangedEvent {
	return &CartChangedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeCartChanged, AggregateType),
		Snapshot:        snapshot,
	}
}

// MergeSettledEvent reports the outcome of a merge attempt that was committed
type MergeSettledEvent struct {
	shared.BaseDomainEvent
	OperationID string       `json:"operation_id"`
	Outcome     MergeOutcome `json:"outcome"`
	GuestLines  int          `json:"guest_lines"`
}

// NewMergeSettledEvent creates a MergeSettledEvent from an operation
func NewMergeSettledEvent(op *MergeOperation) *MergeSettledEvent {
	return &MergeSettledEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeMergeSettled, AggregateType),
		OperationID:     op.ID.String(),
		Outcome:         op.Outcome,
		GuestLines:      len(op.Guest),
	}
}
