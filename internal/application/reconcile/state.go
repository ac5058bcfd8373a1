// Package reconcile decides which cart and wishlist are effective for the
// shopper and merges the guest cart into the account cart on login.
package reconcile

// State is the reconciliation engine state
type State string

const (
	StateUnstarted      State = "unstarted"
	StateGuestLoaded    State = "guest_loaded"
	StateAuthenticating State = "authenticating"
	StateMerging        State = "merging"
	StateAccountReady   State = "account_ready"
	StateMergeFailed    State = "merge_failed"
	StateLoggedOut      State = "logged_out"
)

// String returns the string representation of State
func (s State) String() string {
	return string(s)
}

// A new credential may supersede a sequence in flight, so Authenticating is
// reachable from every state. LoggedOut is reachable from every state.
var transitions = map[State][]State{
	StateUnstarted:      {StateGuestLoaded, StateAuthenticating, StateLoggedOut},
	StateGuestLoaded:    {StateGuestLoaded, StateAuthenticating, StateLoggedOut},
	StateAuthenticating: {StateMerging, StateGuestLoaded, StateAuthenticating, StateLoggedOut},
	StateMerging:        {StateAccountReady, StateMergeFailed, StateAuthenticating, StateLoggedOut},
	StateAccountReady:   {StateMerging, StateAuthenticating, StateLoggedOut},
	StateMergeFailed:    {StateMerging, StateAuthenticating, StateLoggedOut},
	StateLoggedOut:      {StateGuestLoaded, StateAuthenticating, StateLoggedOut},
}

// CanTransitionTo checks if the state can transition to the target state
func (s State) CanTransitionTo(target State) bool {
	for _, next := range transitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// AccountEffective reports whether the account cart is shown in this state
func (s State) AccountEffective() bool {
	return s == StateAccountReady || s == StateMergeFailed
}

// Settled reports whether no reconciliation work is pending in this state
func (s State) Settled() bool {
	switch s {
	case StateGuestLoaded, StateAccountReady, StateMergeFailed:
		return true
	default:
		return false
	}
}
