// Package v1 defines the Shule push protocol v1 contract.
//
// This package is intentionally stable and dependency-light.
// It is shared between the engine and push-feed consumers to keep the
// wire protocol authoritative.
package v1

import (
	"errors"
	"fmt"
	"time"
)

const (
	Version = 1

	// TypeUserActivityUpdate announces a presence change for one user.
	// It is published after every successful presence write while the
	// session is authenticated.
	TypeUserActivityUpdate = "user_activity_update"
)

var AllowedTypes = map[string]struct{}{
	TypeUserActivityUpdate: {},
}

// UserActivityUpdate is the only event the engine produces on the push
// channel. Field names are wire-stable.
type UserActivityUpdate struct {
	V            int       `json:"v"`
	Type         string    `json:"type"`
	ID           string    `json:"id,omitempty"`
	UserID       int64     `json:"user_id"`
	IsOnline     bool      `json:"is_online"`
	LastActivity time.Time `json:"last_activity"`
}

// NewUserActivityUpdate builds a valid v1 event. The id is optional and
// exists for tracing and log ordering only.
func NewUserActivityUpdate(id string, userID int64, online bool, lastActivity time.Time) UserActivityUpdate {
	return UserActivityUpdate{
		V:            Version,
		Type:         TypeUserActivityUpdate,
		ID:           id,
		UserID:       userID,
		IsOnline:     online,
		LastActivity: lastActivity,
	}
}

// Validate performs strict structural validation.
func (e UserActivityUpdate) Validate() error {
	if e.V != Version {
		return fmt.Errorf("invalid protocol version: got=%d want=%d", e.V, Version)
	}
	if e.Type == "" {
		return errors.New("missing type")
	}
	if _, ok := AllowedTypes[e.Type]; !ok {
		return fmt.Errorf("unsupported type: %s", e.Type)
	}
	if e.UserID <= 0 {
		return errors.New("missing user_id")
	}
	if e.LastActivity.IsZero() {
		return errors.New("missing last_activity")
	}
	return nil
}
