package cart

import (
	"time"

	"github.com/google/uuid"
)

// MergeOutcome is the result of one reconciliation attempt
type MergeOutcome string

const (
	MergeOutcomeMerged  MergeOutcome = "merged"
	MergeOutcomeSkipped MergeOutcome = "skipped-empty-guest-cart"
	MergeOutcomeFailed  MergeOutcome = "failed"
)

// String returns the string representation of MergeOutcome
func (o MergeOutcome) String() string {
	return string(o)
}

// MergeOperation describes one guest-to-account merge attempt. It exists only
// for the duration of the attempt; only its ID is kept with the guest cart
// until the sent lines are cleared.
type MergeOperation struct {
	// ID doubles as the Idempotency-Key of the merge request
	ID uuid.UUID
	// Guest is the local cart snapshot that was sent
	Guest []LineItem
	// Account is the account cart fetched before merging; nil if the fetch failed
	Account []LineItem
	// Result is the account cart to adopt; nil if no account state is available
	Result  []LineItem
	Outcome MergeOutcome
	// Err is the cause of a failed outcome
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// NewMergeOperation starts a merge operation for a guest snapshot
func NewMergeOperation(guest []LineItem) *MergeOperation {
	return &MergeOperation{
		ID:        uuid.New(),
		Guest:     Clone(guest),
		StartedAt: time.Now(),
	}
}

// Succeed records a merged or skipped outcome
func (m *MergeOperation) Succeed(outcome MergeOutcome, result []LineItem) {
	m.Outcome = outcome
	m.Result = Normalize(result)
	m.FinishedAt = time.Now()
}

// Fail records a failed outcome. fallback is the best account state known,
// usually the pre-merge account cart.
func (m *MergeOperation) Fail(err error, fallback []LineItem) {
	m.Outcome = MergeOutcomeFailed
	m.Err = err
	if fallback != nil {
		m.Result = Normalize(fallback)
	}
	m.FinishedAt = time.Now()
}

// Duration returns how long the operation took
func (m *MergeOperation) Duration() time.Duration {
	if m.FinishedAt.IsZero() {
		return time.Since(m.StartedAt)
	}
	return m.FinishedAt.Sub(m.StartedAt)
}
