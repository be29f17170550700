package push

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewEventID returns a ULID used as push event id.
// ULID is preferable to random hex for tracing and ordering in logs.
func NewEventID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
