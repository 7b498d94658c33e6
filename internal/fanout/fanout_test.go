package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// fakeConn records frames in order and can be flipped dead.
type fakeConn struct {
	mu     sync.Mutex
	frames [][]byte
	dead   bool
	failed bool
	closed bool
}

func (f *fakeConn) Write(frame []byte, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failed {
		return errors.New("broken pipe")
	}
	cp := make([]byte, len(frame))
	copy(cp, frame)
	f.frames = append(f.frames, cp)
	return nil
}

func (f *fakeConn) Alive(_ time.Time) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.dead
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) types(t *testing.T) []string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, raw := range f.frames {
		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("bad frame: %v", err)
		}
		out = append(out, env.Type)
	}
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not reached in time")
}

func newTestHub(t *testing.T, opts ...Option) (*Hub, context.CancelFunc) {
	t.Helper()
	h := NewHub(slog.Default(), opts...)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(cancel)
	return h, cancel
}

func TestAttachSendsGreeting(t *testing.T) {
	h, _ := newTestHub(t)
	c := &fakeConn{}
	h.Attach(c)
	got := c.types(t)
	if len(got) != 1 || got[0] != EventConnectionEstablished {
		t.Fatalf("expected greeting, got %v", got)
	}
	if h.Subscribers() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", h.Subscribers())
	}
}

func TestBroadcastOrderPerSubscriber(t *testing.T) {
	h, _ := newTestHub(t)
	c := &fakeConn{}
	h.Attach(c)
	h.Broadcast(EventCardCreated, map[string]string{"id": "CARD1"})
	h.Broadcast(EventStatusUpdated, map[string]string{"id": "CARD1"})
	h.Broadcast(EventNewInsights, nil)
	waitFor(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.frames) == 4
	})
	want := []string{EventConnectionEstablished, EventCardCreated, EventStatusUpdated, EventNewInsights}
	got := c.types(t)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order mismatch at %d: got %v", i, got)
		}
	}
}

func TestFailedWriteRemovesSubscriber(t *testing.T) {
	h, _ := newTestHub(t)
	good := &fakeConn{}
	bad := &fakeConn{}
	h.Attach(good)
	h.Attach(bad)
	bad.mu.Lock()
	bad.failed = true
	bad.mu.Unlock()

	h.Broadcast(EventStatusUpdated, nil)
	waitFor(t, func() bool { return h.Subscribers() == 1 })
	bad.mu.Lock()
	closed := bad.closed
	bad.mu.Unlock()
	if !closed {
		t.Fatalf("removed subscriber must be closed")
	}
	// the healthy subscriber still got the event
	waitFor(t, func() bool {
		good.mu.Lock()
		defer good.mu.Unlock()
		return len(good.frames) == 2
	})
}

func TestSweepRemovesSilentlyDeadHandles(t *testing.T) {
	h, _ := newTestHub(t, WithSweepInterval(20*time.Millisecond))
	c := &fakeConn{}
	h.Attach(c)
	c.mu.Lock()
	c.dead = true
	c.mu.Unlock()
	waitFor(t, func() bool { return h.Subscribers() == 0 })
}

func TestShutdownClosesAll(t *testing.T) {
	h, cancel := newTestHub(t)
	c := &fakeConn{}
	h.Attach(c)
	cancel()
	waitFor(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.closed
	})
	if h.Subscribers() != 0 {
		t.Fatalf("expected empty registry after shutdown")
	}
}
