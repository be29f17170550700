// Package push publishes presence events over the portal push channel.
//
// The channel is optional by contract: publishers must tolerate an
// absent, closed, or failing channel. Every failure here surfaces as
// ErrUnavailable and carries no further obligation for the caller;
// presence writes never depend on channel availability.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	v1 "shule/shared/contracts/push/v1"

	"github.com/coder/websocket"
)

const (
	// Subprotocol selected during the websocket handshake.
	Subprotocol = "shule.push.v1"

	defaultWriteTimeout = 5 * time.Second
	defaultDialTimeout  = 5 * time.Second
)

// ErrUnavailable is returned for every publish that could not reach the
// channel. Callers swallow it.
var ErrUnavailable = errors.New("push channel unavailable")

// Channel is the publisher seam. The websocket implementation is the
// production one; tests substitute fakes.
type Channel interface {
	Publish(ctx context.Context, ev v1.UserActivityUpdate) error
	Close()
}

// WSChannel publishes events as JSON text frames over one lazily dialed
// websocket connection. A failed write drops the connection; the next
// publish re-dials.
type WSChannel struct {
	url string
	log *slog.Logger

	writeTimeout time.Duration
	dialTimeout  time.Duration

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewWSChannel(wsURL string, log *slog.Logger) *WSChannel {
	return &WSChannel{
		url:          wsURL,
		log:          log,
		writeTimeout: defaultWriteTimeout,
		dialTimeout:  defaultDialTimeout,
	}
}

// Publish sends one event. Any handshake or write failure is mapped to
// ErrUnavailable; the event is lost, which the contract allows.
func (c *WSChannel) Publish(ctx context.Context, ev v1.UserActivityUpdate) error {
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("invalid push event: %w", err)
	}

	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode push event: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		if err := c.dialLocked(ctx); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	wctx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()

	if err := c.conn.Write(wctx, websocket.MessageText, b); err != nil {
		c.dropLocked(websocket.StatusAbnormalClosure, "write failed")
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (c *WSChannel) dialLocked(ctx context.Context) error {
	dctx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dctx, c.url, &websocket.DialOptions{
		Subprotocols: []string{Subprotocol},
	})
	if err != nil {
		return err
	}

	c.conn = conn
	c.log.Debug("push.channel.open", "url", c.url, "subprotocol", conn.Subprotocol())
	return nil
}

func (c *WSChannel) dropLocked(code websocket.StatusCode, reason string) {
	if c.conn == nil {
		return
	}
	_ = c.conn.Close(code, reason)
	c.conn = nil
}

// Close releases the connection if one is open. Idempotent.
func (c *WSChannel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropLocked(websocket.StatusNormalClosure, "bye")
}
