package live

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// heartbeatInterval keeps intermediaries from timing out idle streams.
const heartbeatInterval = 15 * time.Second

// ServeSSE streams hub events to one client as Server-Sent Events.
// The subscription lasts until the client disconnects or the hub drops it.
func (h *Hub) ServeSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := h.Subscribe(r.Context())
	// Unsubscribe must not use the request context: it is already
	// cancelled by the time the client disconnects.
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		h.Unsubscribe(ctx, sub)
	}()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()

		case ev, ok := <-sub.C:
			if !ok {
				// Dropped by the hub (slow consumer) or hub shutdown.
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				h.logger.Error("live: marshal event", "event", ev.Type, "error", err)
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}
