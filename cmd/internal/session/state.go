package session

import "shule/cmd/internal/account"

// State is the lifecycle phase of the portal session. Exactly one
// variant holds at any time; Uninitialized and Resolving are transient,
// Authenticated and Anonymous are stable until the credential changes.
type State int8

const (
	StateUninitialized State = iota
	StateResolving
	StateAuthenticated
	StateAnonymous
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateResolving:
		return "resolving"
	case StateAuthenticated:
		return "authenticated"
	case StateAnonymous:
		return "anonymous"
	default:
		return "unknown"
	}
}

// Snapshot is an immutable view of the session at one point in time.
// Principal is non-nil exactly when State is StateAuthenticated.
type Snapshot struct {
	State     State
	Principal *account.Principal
}

// Authenticated reports whether the snapshot carries a resolved
// principal.
func (s Snapshot) Authenticated() bool {
	return s.State == StateAuthenticated && s.Principal != nil
}
