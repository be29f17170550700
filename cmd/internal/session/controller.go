package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"shule/cmd/internal/account"
	"shule/cmd/internal/credstore"
)

// Backend resolves credentials against the REST API. *api.Client
// satisfies it; tests substitute fakes.
type Backend interface {
	Login(ctx context.Context, username, password string) (string, error)
	CurrentPrincipal(ctx context.Context) (account.Principal, error)
	SetToken(token string)
	ClearToken()
}

// Presence is the slice of the presence synchronizer the controller
// drives. Start and Stop must be cheap and non-blocking; MarkOffline
// performs the best-effort offline write and never returns an error.
type Presence interface {
	Start(p account.Principal)
	Stop()
	MarkOffline(ctx context.Context)
}

// Controller owns the session state machine. All mutation goes through
// it; consumers read via Snapshot or Watch.
type Controller struct {
	log      *slog.Logger
	store    *credstore.Notifying
	backend  Backend
	presence Presence

	mu        sync.Mutex
	state     State
	principal *account.Principal
	// cred is the credential the current state was derived from. It is
	// the dedupe key for change notifications and stays set on a failed
	// resolution so the stored token is not re-resolved in a loop.
	cred string
	// gen increments on every credential transition; a resolution
	// completing under an older gen is discarded.
	gen uint64

	watchers    map[int]chan Snapshot
	nextWatcher int

	done      chan struct{}
	closeOnce sync.Once
}

func NewController(log *slog.Logger, store *credstore.Notifying, backend Backend, presence Presence) *Controller {
	return &Controller{
		log:      log,
		store:    store,
		backend:  backend,
		presence: presence,
		state:    StateUninitialized,
		watchers: make(map[int]chan Snapshot),
		done:     make(chan struct{}),
	}
}

// Start performs the initial resolution from the stored credential and
// begins watching for credential changes. It blocks until the initial
// resolution settles so callers observe a stable state afterwards.
func (c *Controller) Start(ctx context.Context) {
	// A signal for a mutation that happened before Start describes the
	// credential the initial read below already observes.
	select {
	case <-c.store.Changes():
	default:
	}
	go c.watchChanges(ctx)

	tok, err := c.store.Get(ctx)
	if err != nil {
		if !errors.Is(err, credstore.ErrNoCredential) {
			c.log.Warn("session.start.read_credential", "err", err)
		}
		c.dropSession()
		return
	}

	if _, err := c.resolve(ctx, tok); err != nil {
		c.log.Info("session.start.resolve_failed", "err", err)
	}
}

// SignIn exchanges credentials for a token, persists it, and resolves
// the principal inline so the caller can make its role redirect
// decision. On failure the state stays anonymous and the error carries
// the server's reason.
func (c *Controller) SignIn(ctx context.Context, username, password string) (account.Principal, error) {
	tok, err := c.backend.Login(ctx, username, password)
	if err != nil {
		return account.Principal{}, err
	}

	// Claim the token before persisting it so the store signal for this
	// write dedupes against c.cred instead of racing the inline
	// resolution below. If Set fails the claim is harmless: cred is only
	// a dedupe key and the next change re-resolves regardless.
	c.mu.Lock()
	c.cred = tok
	c.mu.Unlock()

	if err := c.store.Set(ctx, tok); err != nil {
		return account.Principal{}, err
	}

	// Resolving inline keeps sign-in synchronous for the caller, who
	// needs the principal for its role redirect.
	return c.resolve(ctx, tok)
}

// SignOut tears the session down. Ordering matters: the offline
// presence transition goes first because it needs the Authorization
// header that the rest of the teardown removes. Presence failures are
// logged inside the synchronizer and never block sign-out.
func (c *Controller) SignOut(ctx context.Context) error {
	c.mu.Lock()
	wasAuthenticated := c.state == StateAuthenticated && c.principal != nil
	c.gen++
	c.mu.Unlock()

	if wasAuthenticated {
		c.presence.MarkOffline(ctx)
	}
	c.presence.Stop()

	if err := c.store.Clear(ctx); err != nil {
		c.log.Warn("session.signout.clear_credential", "err", err)
	}
	c.backend.ClearToken()

	c.mu.Lock()
	c.state = StateAnonymous
	c.principal = nil
	c.cred = ""
	c.notifyLocked()
	c.mu.Unlock()

	c.log.Info("session.signout")
	return nil
}

// Refresh re-reads the stored credential and re-resolves even when the
// token is unchanged. It is the entry point for credential mutations
// the notifying store cannot observe (another process touching the
// slot).
func (c *Controller) Refresh(ctx context.Context) {
	tok, err := c.store.Get(ctx)
	if err != nil {
		if !errors.Is(err, credstore.ErrNoCredential) {
			c.log.Warn("session.refresh.read_credential", "err", err)
		}
		c.dropSession()
		return
	}

	if _, err := c.resolve(ctx, tok); err != nil {
		c.log.Info("session.refresh.resolve_failed", "err", err)
	}
}

// Snapshot returns the current state. Safe to call on every request.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Watch returns a buffered snapshot feed primed with the current state.
// The latest snapshot wins: a slow receiver observes the most recent
// state, never a backlog. The returned cancel must be called to release
// the watcher.
func (c *Controller) Watch() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	c.mu.Lock()
	id := c.nextWatcher
	c.nextWatcher++
	c.watchers[id] = ch
	ch <- c.snapshotLocked()
	c.mu.Unlock()

	cancel := func() {
		c.mu.Lock()
		delete(c.watchers, id)
		c.mu.Unlock()
	}
	return ch, cancel
}

// Close stops the change watcher and the presence synchronizer.
// Idempotent.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	c.presence.Stop()
}

// resolve transitions to Resolving and fetches the principal for tok.
// A credential change during the fetch supersedes this call: the stale
// result is discarded without touching state.
func (c *Controller) resolve(ctx context.Context, tok string) (account.Principal, error) {
	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.cred = tok
	c.state = StateResolving
	if c.principal != nil {
		c.principal = nil
		c.presence.Stop()
	}
	// Header and stored credential move together: no window where a
	// stale header outlives a fresh credential.
	c.backend.SetToken(tok)
	c.notifyLocked()
	c.mu.Unlock()

	p, err := c.backend.CurrentPrincipal(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.gen != gen {
		resolutions.WithLabelValues("stale").Inc()
		return account.Principal{}, ErrSuperseded
	}

	if err != nil {
		resolutions.WithLabelValues("failed").Inc()
		// Stored credential stays put; the session is anonymous for
		// gating purposes until a later resolution succeeds.
		c.state = StateAnonymous
		c.principal = nil
		c.notifyLocked()
		return account.Principal{}, err
	}

	resolutions.WithLabelValues("ok").Inc()
	cp := p
	c.state = StateAuthenticated
	c.principal = &cp
	c.notifyLocked()
	c.presence.Start(cp)

	c.log.Info("session.resolve.ok", "user_id", p.ID, "role", string(p.Role))
	return p, nil
}

// dropSession moves to anonymous with no credential: header cleared,
// presence stopped, any in-flight resolution superseded.
func (c *Controller) dropSession() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++
	if c.principal != nil {
		c.presence.Stop()
	}
	c.state = StateAnonymous
	c.principal = nil
	c.cred = ""
	c.backend.ClearToken()
	c.notifyLocked()
}

// watchChanges re-resolves on every credential store mutation. The
// latest credential wins; a signal for the token the controller already
// acted on is skipped (that is the sign-in path notifying about its own
// write).
func (c *Controller) watchChanges(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-c.store.Changes():
			tok, err := c.store.Get(ctx)
			if err != nil {
				if !errors.Is(err, credstore.ErrNoCredential) {
					c.log.Warn("session.watch.read_credential", "err", err)
					continue
				}
				c.mu.Lock()
				hadCred := c.cred != ""
				c.mu.Unlock()
				if hadCred {
					c.dropSession()
				}
				continue
			}

			c.mu.Lock()
			current := c.cred
			c.mu.Unlock()
			if tok == current {
				continue
			}

			if _, err := c.resolve(ctx, tok); err != nil && !errors.Is(err, ErrSuperseded) {
				c.log.Info("session.watch.resolve_failed", "err", err)
			}
		}
	}
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{State: c.state}
	if c.principal != nil {
		p := *c.principal
		snap.Principal = &p
	}
	return snap
}

// notifyLocked pushes the current snapshot to every watcher with
// latest-wins semantics: a full buffer is drained before the new value
// goes in, so nobody blocks and nobody reads stale state.
func (c *Controller) notifyLocked() {
	snap := c.snapshotLocked()
	for _, ch := range c.watchers {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}
