// Package live fans out graph-change and device-connectivity events to
// subscribed clients.
//
// The subscriber registry is owned by a single run loop: producers —
// request handlers and background monitors alike — hand events over a
// command channel that only the loop drains, so the registry is never
// mutated from another goroutine. Delivery is best-effort with no retry
// and no cross-subscriber ordering guarantee; a subscriber that cannot
// keep up is dropped without affecting the others.
package live

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"
)

// Event types pushed on the live channel.
const (
	TypeGraphUpdated = "graph_updated"
	TypeADBStatus    = "adb_status"
)

// Event is one push message. Fields are flattened next to "type" when
// marshalled, matching the wire shape {"type": "adb_status", "status": ...}.
type Event struct {
	Type   string
	Fields map[string]any
}

// MarshalJSON flattens Fields alongside the type discriminator.
func (e Event) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(e.Fields)+1)
	for k, v := range e.Fields {
		m[k] = v
	}
	m["type"] = e.Type
	return json.Marshal(m)
}

// GraphUpdated builds a graph_updated event for a node.
func GraphUpdated(nodeID string) Event {
	return Event{Type: TypeGraphUpdated, Fields: map[string]any{"node_id": nodeID}}
}

// ADBStatus builds an adb_status event.
func ADBStatus(status, device string) Event {
	return Event{Type: TypeADBStatus, Fields: map[string]any{"status": status, "device": device}}
}

// publishTimeout bounds how long a producer may wait for the run loop.
// If the loop is wedged or not yet running the event is dropped with a log
// line instead of blocking the caller.
const publishTimeout = time.Second

type command struct {
	publish *Event
	sub     *Subscriber
	remove  bool
}

// Subscriber is one live client. Events arrive on C until the subscriber
// is dropped or the hub shuts down, at which point C is closed.
type Subscriber struct {
	C  chan Event
	id int64
}

// Hub routes events to subscribers. Create with NewHub, start Run in its
// own goroutine, then Publish/Subscribe from anywhere.
type Hub struct {
	logger   *slog.Logger
	commands chan command
	bufSize  int

	running atomic.Bool
	nextID  atomic.Int64
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) HubOption {
	return func(h *Hub) { h.logger = l }
}

// WithBufferSize sets the per-subscriber event buffer. Default: 16.
func WithBufferSize(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.bufSize = n
		}
	}
}

// NewHub creates a Hub. Run must be started before events flow.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		logger:   slog.Default(),
		commands: make(chan command, 64),
		bufSize:  16,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Run owns the subscriber registry. It blocks until ctx is cancelled,
// then closes every subscriber channel.
func (h *Hub) Run(ctx context.Context) {
	registry := make(map[int64]*Subscriber)
	h.running.Store(true)
	defer h.running.Store(false)

	h.logger.Info("live: hub started")

	for {
		select {
		case <-ctx.Done():
			for _, sub := range registry {
				close(sub.C)
			}
			h.logger.Info("live: hub stopped", "subscribers", len(registry))
			return

		case cmd := <-h.commands:
			switch {
			case cmd.publish != nil:
				h.fanout(registry, *cmd.publish)
			case cmd.remove:
				if _, ok := registry[cmd.sub.id]; ok {
					delete(registry, cmd.sub.id)
					close(cmd.sub.C)
				}
			case cmd.sub != nil:
				registry[cmd.sub.id] = cmd.sub
				h.logger.Debug("live: subscribed", "subscribers", len(registry))
			}
		}
	}
}

// fanout attempts delivery to every current subscriber. A subscriber whose
// buffer is full is removed from the registry; the failure is scoped to
// that subscriber and delivery to the rest continues.
func (h *Hub) fanout(registry map[int64]*Subscriber, ev Event) {
	for id, sub := range registry {
		select {
		case sub.C <- ev:
		default:
			delete(registry, id)
			close(sub.C)
			h.logger.Warn("live: slow subscriber dropped", "event", ev.Type)
		}
	}
}

// Publish hands an event to the run loop. It never blocks its caller
// indefinitely: when the loop is unavailable the event is dropped after
// publishTimeout (live updates carry no delivery guarantee for
// disconnected or wedged consumers).
func (h *Hub) Publish(ctx context.Context, ev Event) {
	if !h.running.Load() {
		h.logger.Debug("live: hub not running, event dropped", "event", ev.Type)
		return
	}

	timer := time.NewTimer(publishTimeout)
	defer timer.Stop()

	select {
	case h.commands <- command{publish: &ev}:
	case <-ctx.Done():
		h.logger.Debug("live: publish cancelled", "event", ev.Type)
	case <-timer.C:
		h.logger.Warn("live: publish timed out, event dropped", "event", ev.Type)
	}
}

// Subscribe registers a new live client and returns it. Call Unsubscribe
// when the client disconnects.
func (h *Hub) Subscribe(ctx context.Context) *Subscriber {
	sub := &Subscriber{
		C:  make(chan Event, h.bufSize),
		id: h.nextID.Add(1),
	}
	select {
	case h.commands <- command{sub: sub}:
	case <-ctx.Done():
	}
	return sub
}

// Unsubscribe removes a subscriber from the registry. Safe to call after
// the subscriber was already dropped.
func (h *Hub) Unsubscribe(ctx context.Context, sub *Subscriber) {
	select {
	case h.commands <- command{sub: sub, remove: true}:
	case <-ctx.Done():
	}
}
