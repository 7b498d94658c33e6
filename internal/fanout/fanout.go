package fanout

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/cardflow/internal/metrics"
)

// Event types pushed to subscribers.
const (
	EventConnectionEstablished = "connection_established"
	EventCardCreated           = "card_created"
	EventStatusUpdated         = "status_updated"
	EventAnalysisComplete      = "bottleneck_analysis_complete"
	EventNewInsights           = "new_insights"
)

// Envelope is the wire shape pushed to every subscriber.
type Envelope struct {
	Type      string    `json:"type"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Conn is one subscriber transport handle. Implementations must tolerate
// concurrent Close; Write is only ever called from the hub loop.
type Conn interface {
	// Write sends one serialized frame and must give up at deadline.
	Write(frame []byte, deadline time.Time) error
	// Alive probes the transport without sending payload; false means the
	// handle should be swept.
	Alive(deadline time.Time) bool
	Close() error
}

const defaultQueueDepth = 256

// Hub owns the subscriber registry and fans broadcast events out to every
// attached handle. Delivery is at-most-once: a failed or timed-out write
// removes the subscriber, nothing is queued per subscriber or retried. A
// single loop drains the broadcast queue so each subscriber observes events
// in broadcast order.
type frame struct {
	eventType string
	payload   []byte
}

type Hub struct {
	mu     sync.Mutex
	subs   map[Conn]struct{}
	queue  chan frame
	logger *slog.Logger

	writeTimeout time.Duration
	sweepEvery   time.Duration
}

type Option func(*Hub)

// WithWriteTimeout bounds each subscriber write (default 5s).
func WithWriteTimeout(d time.Duration) Option {
	return func(h *Hub) { h.writeTimeout = d }
}

// WithSweepInterval sets the dead-handle sweep cadence (default 30s).
func WithSweepInterval(d time.Duration) Option {
	return func(h *Hub) { h.sweepEvery = d }
}

func NewHub(logger *slog.Logger, opts ...Option) *Hub {
	h := &Hub{
		subs:         make(map[Conn]struct{}),
		queue:        make(chan frame, defaultQueueDepth),
		logger:       logger,
		writeTimeout: 5 * time.Second,
		sweepEvery:   30 * time.Second,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Attach registers a subscriber and sends the greeting frame.
func (h *Hub) Attach(c Conn) {
	greeting, err := json.Marshal(Envelope{
		Type:      EventConnectionEstablished,
		Data:      map[string]string{"message": "connected to cardflow updates"},
		Timestamp: time.Now().UTC(),
	})
	if err == nil {
		if werr := c.Write(greeting, time.Now().Add(h.writeTimeout)); werr != nil {
			_ = c.Close()
			return
		}
	}
	h.mu.Lock()
	h.subs[c] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()
	metrics.SetSubscribers(n)
	h.logger.Debug("subscriber attached", "subscribers", n)
}

// Detach removes a subscriber and closes its transport.
func (h *Hub) Detach(c Conn) {
	h.mu.Lock()
	_, ok := h.subs[c]
	delete(h.subs, c)
	n := len(h.subs)
	h.mu.Unlock()
	if ok {
		_ = c.Close()
		metrics.SetSubscribers(n)
	}
}

// Broadcast serializes the event once and enqueues it for the fanout loop.
// When the queue is full the event is dropped: delivery is best-effort and
// memory stays bounded.
func (h *Hub) Broadcast(eventType string, data any) {
	payload, err := json.Marshal(Envelope{Type: eventType, Data: data, Timestamp: time.Now().UTC()})
	if err != nil {
		h.logger.Warn("broadcast marshal failed", "type", eventType, "error", err)
		return
	}
	select {
	case h.queue <- frame{eventType: eventType, payload: payload}:
	default:
		h.logger.Warn("broadcast queue full, dropping event", "type", eventType)
	}
}

// Run drains the broadcast queue and sweeps dead handles until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	sweep := time.NewTicker(h.sweepEvery)
	defer sweep.Stop()
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case f := <-h.queue:
			h.deliver(f.payload)
			metrics.IncBroadcast(f.eventType)
		case <-sweep.C:
			h.sweepDead()
		}
	}
}

// deliver writes one frame to a snapshot of the registry so the lock is not
// held during I/O.
func (h *Hub) deliver(payload []byte) {
	h.mu.Lock()
	snapshot := make([]Conn, 0, len(h.subs))
	for c := range h.subs {
		snapshot = append(snapshot, c)
	}
	h.mu.Unlock()

	deadline := time.Now().Add(h.writeTimeout)
	for _, c := range snapshot {
		if err := c.Write(payload, deadline); err != nil {
			h.logger.Debug("subscriber write failed, removing", "error", err)
			h.Detach(c)
			metrics.IncDroppedSubscriber()
		}
	}
}

// sweepDead drops handles whose transport reports non-open even without a
// failed write, bounding memory under silent disconnects.
func (h *Hub) sweepDead() {
	h.mu.Lock()
	snapshot := make([]Conn, 0, len(h.subs))
	for c := range h.subs {
		snapshot = append(snapshot, c)
	}
	h.mu.Unlock()

	deadline := time.Now().Add(h.writeTimeout)
	for _, c := range snapshot {
		if !c.Alive(deadline) {
			h.Detach(c)
			metrics.IncDroppedSubscriber()
		}
	}
}

// Subscribers returns the current registry size.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	for c := range h.subs {
		_ = c.Close()
		delete(h.subs, c)
	}
	h.mu.Unlock()
	metrics.SetSubscribers(0)
}
