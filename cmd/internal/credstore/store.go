// Package credstore persists the bearer credential across process
// restarts.
//
// The store is the single source of truth for "do we have a token".
// Tokens are opaque pass-through strings; nothing here inspects or
// validates their contents. The only mutation paths are sign-in (Set)
// and sign-out (Clear).
package credstore

import (
	"context"
	"errors"
)

// ErrNoCredential is returned by Get when no credential is stored.
var ErrNoCredential = errors.New("no stored credential")

// Store is a durable single-slot credential holder.
type Store interface {
	// Get returns the stored credential or ErrNoCredential.
	Get(ctx context.Context) (string, error)
	// Set replaces the stored credential.
	Set(ctx context.Context, token string) error
	// Clear removes the stored credential. Clearing an empty slot is not
	// an error.
	Clear(ctx context.Context) error
}
