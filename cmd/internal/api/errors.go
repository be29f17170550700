package api

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized is the sentinel behind every AuthError.
	ErrUnauthorized = errors.New("credential rejected")

	// ErrPresenceWrite marks a failed presence write. Callers log it and
	// move on; it never blocks the action that triggered the write.
	ErrPresenceWrite = errors.New("presence write failed")
)

// AuthError carries the server-provided reason for a rejected sign-in
// or credential resolution. It is the only backend failure surfaced to
// the user.
type AuthError struct {
	Status  int
	Message string
}

func (e *AuthError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s (status %d)", ErrUnauthorized.Error(), e.Status)
	}
	return e.Message
}

func (e *AuthError) Unwrap() error { return ErrUnauthorized }
