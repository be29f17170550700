// Package account defines the resolved principal and the closed role set
// that drives portal gating.
package account

import (
	"strings"
	"time"
)

// Role is one of a closed set. Anything the backend returns outside that
// set collapses to RoleUnspecified, which no gate allow-list contains.
type Role string

const (
	RoleAdmin       Role = "admin"
	RoleTeacher     Role = "teacher"
	RoleStudent     Role = "student"
	RoleUnspecified Role = "unspecified"
)

// ParseRole normalizes a backend-provided role string.
func ParseRole(s string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleAdmin:
		return RoleAdmin
	case RoleTeacher:
		return RoleTeacher
	case RoleStudent:
		return RoleStudent
	default:
		return RoleUnspecified
	}
}

// Known reports whether the role belongs to the closed set of portal roles.
func (r Role) Known() bool {
	return r == RoleAdmin || r == RoleTeacher || r == RoleStudent
}

// UnmarshalJSON normalizes the role at decode time so no raw backend
// string ever reaches gating logic.
func (r *Role) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	*r = ParseRole(s)
	return nil
}

// Principal is the identity resolved from a bearer credential.
// It exists only while that credential resolves successfully; it is
// replaced wholesale on every resolution.
type Principal struct {
	ID             int64     `json:"id"`
	Username       string    `json:"username"`
	Name           string    `json:"name,omitempty"`
	Role           Role      `json:"role"`
	IsOnline       bool      `json:"isOnline"`
	LastActivityAt time.Time `json:"lastActivityAt"`
}

// OnlineWithin is the single derived liveness predicate. The stored
// IsOnline flag alone is a display hint; consumers that care about
// freshness must pair it with LastActivityAt through this method.
func (p Principal) OnlineWithin(window time.Duration, now time.Time) bool {
	if !p.IsOnline {
		return false
	}
	if p.LastActivityAt.IsZero() {
		return false
	}
	return now.Sub(p.LastActivityAt) <= window
}
