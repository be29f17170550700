package presence

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"shule/cmd/internal/account"
	"shule/cmd/internal/push"
	v1 "shule/shared/contracts/push/v1"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordedWrite struct {
	online bool
	at     time.Time
}

type fakeWriter struct {
	mu       sync.Mutex
	writes   []recordedWrite
	attempts int
	err      error
	beacons  []int64
}

func (w *fakeWriter) UpdatePresence(_ context.Context, online bool, at time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.attempts++
	if w.err != nil {
		return w.err
	}
	w.writes = append(w.writes, recordedWrite{online: online, at: at})
	return nil
}

func (w *fakeWriter) OfflineBeacon(userID int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.beacons = append(w.beacons, userID)
}

func (w *fakeWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.writes)
}

func (w *fakeWriter) last() recordedWrite {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writes[len(w.writes)-1]
}

type fakeChannel struct {
	mu     sync.Mutex
	events []v1.UserActivityUpdate
	err    error
}

func (c *fakeChannel) Publish(_ context.Context, ev v1.UserActivityUpdate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.events = append(c.events, ev)
	return nil
}

func (c *fakeChannel) Close() {}

func (c *fakeChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func (c *fakeChannel) last() v1.UserActivityUpdate {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events[len(c.events)-1]
}

var testPrincipal = account.Principal{ID: 42, Username: "amina", Role: account.RoleTeacher}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not reached: %s", msg)
}

func TestStart_ImmediateOnlineWrite(t *testing.T) {
	w := &fakeWriter{}
	ch := &fakeChannel{}
	s := NewSynchronizer(testLogger(), w, ch, Config{HeartbeatInterval: 10 * time.Second, ActivityQuiet: 30 * time.Millisecond})
	defer s.Stop()

	s.Start(testPrincipal)

	waitFor(t, func() bool { return w.count() == 1 }, "initial mark-online write")
	if got := w.last(); !got.online {
		t.Fatalf("initial write=%+v, want online", got)
	}

	waitFor(t, func() bool { return ch.count() == 1 }, "push event for initial write")
	ev := ch.last()
	if ev.Type != v1.TypeUserActivityUpdate || ev.UserID != 42 || !ev.IsOnline {
		t.Fatalf("event=%+v", ev)
	}
}

func TestActivity_DebounceCoalesces(t *testing.T) {
	w := &fakeWriter{}
	ch := &fakeChannel{}
	s := NewSynchronizer(testLogger(), w, ch, Config{HeartbeatInterval: 10 * time.Second, ActivityQuiet: 30 * time.Millisecond})
	defer s.Stop()

	s.Start(testPrincipal)
	waitFor(t, func() bool { return w.count() == 1 }, "initial write")

	// Ten events inside one quiet window.
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	var lastEvent time.Time
	for i := 0; i < 10; i++ {
		lastEvent = base.Add(time.Duration(i) * time.Millisecond)
		s.activityAt(lastEvent)
	}

	waitFor(t, func() bool { return w.count() == 2 }, "debounced activity write")
	if got := w.last(); !got.online || !got.at.Equal(lastEvent) {
		t.Fatalf("activity write=%+v, want online stamped from last event %s", got, lastEvent)
	}

	// No further writes after the window: the burst coalesced into one.
	time.Sleep(100 * time.Millisecond)
	if n := w.count(); n != 2 {
		t.Fatalf("writes=%d, want exactly 2 (initial + one coalesced)", n)
	}
}

func TestActivity_NewBurstOpensNewWindow(t *testing.T) {
	w := &fakeWriter{}
	s := NewSynchronizer(testLogger(), w, nil, Config{HeartbeatInterval: 10 * time.Second, ActivityQuiet: 25 * time.Millisecond})
	defer s.Stop()

	s.Start(testPrincipal)
	waitFor(t, func() bool { return w.count() == 1 }, "initial write")

	s.activityAt(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
	waitFor(t, func() bool { return w.count() == 2 }, "first window write")

	s.activityAt(time.Date(2026, 3, 2, 10, 0, 5, 0, time.UTC))
	waitFor(t, func() bool { return w.count() == 3 }, "second window write")
}

func TestHeartbeat_PeriodicWrites(t *testing.T) {
	w := &fakeWriter{}
	s := NewSynchronizer(testLogger(), w, nil, Config{HeartbeatInterval: 25 * time.Millisecond, ActivityQuiet: time.Second})
	defer s.Stop()

	s.Start(testPrincipal)

	waitFor(t, func() bool { return w.count() >= 4 }, "periodic heartbeats")
	if got := w.last(); !got.online {
		t.Fatalf("heartbeat write=%+v, want online", got)
	}
}

func TestStop_ReleasesTimers(t *testing.T) {
	w := &fakeWriter{}
	s := NewSynchronizer(testLogger(), w, nil, Config{HeartbeatInterval: 20 * time.Millisecond, ActivityQuiet: 20 * time.Millisecond})

	s.Start(testPrincipal)
	waitFor(t, func() bool { return w.count() >= 1 }, "initial write")

	s.Stop()
	s.Stop() // idempotent

	n := w.count()
	time.Sleep(120 * time.Millisecond)
	if got := w.count(); got != n {
		t.Fatalf("writes after Stop: %d -> %d; timers kept firing", n, got)
	}

	// Activity after Stop is a no-op.
	s.Activity()
	time.Sleep(60 * time.Millisecond)
	if got := w.count(); got != n {
		t.Fatalf("activity after Stop issued a write")
	}
}

func TestMarkOffline_WritesAndPublishes(t *testing.T) {
	w := &fakeWriter{}
	ch := &fakeChannel{}
	s := NewSynchronizer(testLogger(), w, ch, Config{HeartbeatInterval: 10 * time.Second, ActivityQuiet: time.Second})
	defer s.Stop()

	s.Start(testPrincipal)
	waitFor(t, func() bool { return w.count() == 1 }, "initial write")

	s.MarkOffline(context.Background())

	if got := w.last(); got.online {
		t.Fatalf("offline transition wrote %+v", got)
	}
	waitFor(t, func() bool { return ch.count() == 2 }, "offline push event")
	if ev := ch.last(); ev.IsOnline {
		t.Fatalf("offline event=%+v", ev)
	}
}

func TestMarkOffline_NotRunningIsNoop(t *testing.T) {
	w := &fakeWriter{}
	s := NewSynchronizer(testLogger(), w, nil, Config{})

	s.MarkOffline(context.Background())
	if w.count() != 0 {
		t.Fatalf("offline write without an authenticated session")
	}
}

func TestWriteFailure_SwallowedAndNotPublished(t *testing.T) {
	w := &fakeWriter{err: errors.New("backend down")}
	ch := &fakeChannel{}
	s := NewSynchronizer(testLogger(), w, ch, Config{HeartbeatInterval: 10 * time.Second, ActivityQuiet: time.Second})
	defer s.Stop()

	s.Start(testPrincipal)
	waitFor(t, func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		return w.attempts >= 1
	}, "write attempted")

	s.MarkOffline(context.Background())

	if ch.count() != 0 {
		t.Fatalf("push event published for a failed write")
	}
}

func TestChannelFailure_DoesNotBlockWrites(t *testing.T) {
	w := &fakeWriter{}
	ch := &fakeChannel{err: push.ErrUnavailable}
	s := NewSynchronizer(testLogger(), w, ch, Config{HeartbeatInterval: 10 * time.Second, ActivityQuiet: 25 * time.Millisecond})
	defer s.Stop()

	s.Start(testPrincipal)
	waitFor(t, func() bool { return w.count() == 1 }, "initial write despite dead channel")

	s.activityAt(time.Now().UTC())
	waitFor(t, func() bool { return w.count() == 2 }, "activity write despite dead channel")
}

func TestNilChannel_IsOptional(t *testing.T) {
	w := &fakeWriter{}
	s := NewSynchronizer(testLogger(), w, nil, Config{HeartbeatInterval: 10 * time.Second, ActivityQuiet: time.Second})
	defer s.Stop()

	s.Start(testPrincipal)
	waitFor(t, func() bool { return w.count() == 1 }, "write with no channel wired")
}

func TestShutdown_FiresBeaconOnlyWhileRunning(t *testing.T) {
	w := &fakeWriter{}
	s := NewSynchronizer(testLogger(), w, nil, Config{HeartbeatInterval: 10 * time.Second, ActivityQuiet: time.Second})

	s.Shutdown()
	w.mu.Lock()
	if len(w.beacons) != 0 {
		t.Fatalf("beacon fired without a session")
	}
	w.mu.Unlock()

	s.Start(testPrincipal)
	defer s.Stop()
	s.Shutdown()

	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.beacons) != 1 || w.beacons[0] != 42 {
		t.Fatalf("beacons=%v, want [42]", w.beacons)
	}
}
