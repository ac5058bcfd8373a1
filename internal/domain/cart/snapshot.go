package cart

import "time"

// Source tells which cart is effective
type Source string

const (
	SourceNone    Source = "none"
	SourceGuest   Source = "guest"
	SourceAccount Source = "account"
)

// String returns the string representation of Source
func (s Source) String() string {
	return string(s)
}

// Snapshot is an immutable view of the effective cart
type Snapshot struct {
	Source    Source     `json:"source"`
	State     string     `json:"state"`
	Items     []LineItem `json:"items"`
	Revision  uint64     `json:"revision"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// EmptySnapshot is the snapshot before initialization
func EmptySnapshot() Snapshot {
	return Snapshot{Source: SourceNone, Items: []LineItem{}}
}

// IsEmpty reports whether the snapshot has no lines
func (s Snapshot) IsEmpty() bool {
	return len(s.Items) == 0
}

// TotalQuantity returns the number of units in the snapshot
func (s Snapshot) TotalQuantity() int {
	return TotalQuantity(s.Items)
}
