// Package presence keeps the authenticated principal's liveness signal
// in sync with the backend and the push channel.
//
// One synchronizer run per authenticated session: the lifecycle
// controller starts it on entering the authenticated state and stops it
// on leaving. No presence mutation ever happens outside that window;
// there is no principal to attach it to.
//
// Failure policy: every write and publish here is background
// synchronization. Failures are counted and logged, never propagated,
// and never block the action that triggered them.
package presence

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"shule/cmd/internal/account"
	"shule/cmd/internal/push"
	v1 "shule/shared/contracts/push/v1"
)

const (
	defaultHeartbeatInterval = 60 * time.Second
	defaultActivityQuiet     = 2 * time.Second
	defaultWriteTimeout      = 5 * time.Second

	activityQueueSize = 16
)

// Writer performs the backend presence writes. *api.Client satisfies
// it.
type Writer interface {
	UpdatePresence(ctx context.Context, online bool, at time.Time) error
	OfflineBeacon(userID int64)
}

// Config carries the synchronizer timing knobs.
type Config struct {
	// HeartbeatInterval is the fixed cadence of periodic online writes.
	HeartbeatInterval time.Duration
	// ActivityQuiet is the trailing debounce window for input-driven
	// writes: one write per quiet window, stamped from the last event.
	ActivityQuiet time.Duration
	// WriteTimeout bounds every individual presence write.
	WriteTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = defaultHeartbeatInterval
	}
	if c.ActivityQuiet <= 0 {
		c.ActivityQuiet = defaultActivityQuiet
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	return c
}

// Synchronizer owns the timers of one authenticated session: the
// heartbeat ticker and the activity debounce. Both live inside a single
// run goroutine, started and stopped as a unit.
type Synchronizer struct {
	log     *slog.Logger
	writer  Writer
	channel push.Channel // optional; nil means no push feed
	cfg     Config

	activity chan time.Time

	mu        sync.Mutex
	running   bool
	principal account.Principal
	stop      chan struct{}
}

// NewSynchronizer wires the synchronizer. The channel may be nil; the
// push feed is optional by contract.
func NewSynchronizer(log *slog.Logger, writer Writer, channel push.Channel, cfg Config) *Synchronizer {
	return &Synchronizer{
		log:      log,
		writer:   writer,
		channel:  channel,
		cfg:      cfg.withDefaults(),
		activity: make(chan time.Time, activityQueueSize),
	}
}

// Start begins synchronizing presence for p. The first write goes out
// immediately: resolution success is what marks the principal online.
// Starting while already running restarts for the new principal.
func (s *Synchronizer) Start(p account.Principal) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.stopLocked()
	}
	s.principal = p
	s.running = true
	s.stop = make(chan struct{})
	go s.run(p, s.stop)
}

// Stop releases the run goroutine and both timers. Idempotent. No new
// write starts after Stop returns; a write already in flight may still
// complete.
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Synchronizer) stopLocked() {
	if !s.running {
		return
	}
	s.running = false
	close(s.stop)
}

// Activity records a user-input event. Cheap, safe from any goroutine,
// and a no-op while not authenticated. Events inside one quiet window
// coalesce into a single write stamped from the last event; when the
// queue is momentarily full the event is dropped, which only shortens
// the stamp by microseconds.
func (s *Synchronizer) Activity() {
	s.activityAt(time.Now().UTC())
}

func (s *Synchronizer) activityAt(at time.Time) {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if !running {
		return
	}

	select {
	case s.activity <- at:
	default:
	}
}

// MarkOffline writes the offline transition synchronously. It is called
// by sign-out before credential teardown, while the authorization
// header still exists. Errors are logged and swallowed; sign-out
// proceeds regardless.
func (s *Synchronizer) MarkOffline(ctx context.Context) {
	s.mu.Lock()
	running := s.running
	p := s.principal
	s.mu.Unlock()
	if !running {
		return
	}

	now := time.Now().UTC()
	wctx, cancel := context.WithTimeout(ctx, s.cfg.WriteTimeout)
	defer cancel()

	if err := s.writer.UpdatePresence(wctx, false, now); err != nil {
		writeFailures.Inc()
		s.log.Warn("presence.offline.fail", "user_id", p.ID, "err", err)
		return
	}
	writes.WithLabelValues("signout").Inc()
	s.publish(wctx, p.ID, false, now)
}

// Shutdown fires the advisory offline beacon for process teardown. The
// write is fire-and-forget: delivery is not guaranteed and failures are
// not reported, the process is going away.
func (s *Synchronizer) Shutdown() {
	s.mu.Lock()
	running := s.running
	p := s.principal
	s.mu.Unlock()
	if !running {
		return
	}

	s.writer.OfflineBeacon(p.ID)
	s.log.Info("presence.shutdown.beacon", "user_id", p.ID)
}

func (s *Synchronizer) run(p account.Principal, stop <-chan struct{}) {
	// Immediate mark-online for the freshly resolved principal.
	s.beat(p, "start", time.Now().UTC())

	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	var (
		debounce  *time.Timer
		debounceC <-chan time.Time
		lastAt    time.Time
	)
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-stop:
			return

		case <-ticker.C:
			s.beat(p, "interval", time.Now().UTC())

		case at := <-s.activity:
			lastAt = at
			if debounce == nil {
				debounce = time.NewTimer(s.cfg.ActivityQuiet)
				debounceC = debounce.C
			} else {
				if !debounce.Stop() {
					<-debounceC
				}
				debounce.Reset(s.cfg.ActivityQuiet)
			}

		case <-debounceC:
			debounce = nil
			debounceC = nil
			s.beat(p, "activity", lastAt)
		}
	}
}

// beat performs one online write and, on success, publishes the
// matching push event. The presence pair travels together.
func (s *Synchronizer) beat(p account.Principal, trigger string, at time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.WriteTimeout)
	defer cancel()

	if err := s.writer.UpdatePresence(ctx, true, at); err != nil {
		writeFailures.Inc()
		s.log.Warn("presence.beat.fail", "user_id", p.ID, "trigger", trigger, "err", err)
		return
	}
	writes.WithLabelValues(trigger).Inc()
	s.publish(ctx, p.ID, true, at)
}

// publish pushes one event to the channel if one is wired. The channel
// is optional by contract: failures are counted at debug level and
// swallowed.
func (s *Synchronizer) publish(ctx context.Context, userID int64, online bool, at time.Time) {
	if s.channel == nil {
		return
	}

	id, err := push.NewEventID(time.Now().UTC())
	if err != nil {
		id = ""
	}
	ev := v1.NewUserActivityUpdate(id, userID, online, at)
	if err := s.channel.Publish(ctx, ev); err != nil {
		publishFailures.Inc()
		s.log.Debug("presence.publish.drop", "user_id", userID, "err", err)
	}
}
