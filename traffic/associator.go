package traffic

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/appgraph/graph"
)

// Recorder persists tagged traffic entries. *graph.Store satisfies it.
type Recorder interface {
	InsertTraffic(ctx context.Context, entries []graph.TrafficEntry) error
}

// Window is a pending association request: traffic captured inside
// [Start, End] (inclusive both ends) belongs to EdgeID.
type Window struct {
	EdgeID string
	Start  float64
	End    float64
}

// Associator tags proxy history entries with graph edges by time window.
type Associator struct {
	source Source
	rec    Recorder
	logger *slog.Logger

	mu      sync.Mutex
	pending []Window
}

// NewAssociator creates an Associator. logger may be nil.
func NewAssociator(source Source, rec Recorder, logger *slog.Logger) *Associator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Associator{source: source, rec: rec, logger: logger}
}

// AssociateWindow fetches the proxy history, selects every entry whose
// timestamp falls in [start, end] — inclusive at both boundaries — tags it
// with edgeID, and persists the result.
//
// A failing traffic source yields an empty list and a log line, never an
// error: traffic is an enrichment, not a dependency of the capture flow.
func (a *Associator) AssociateWindow(ctx context.Context, edgeID string, start, end float64) ([]graph.TrafficEntry, error) {
	history, err := a.source.History(ctx)
	if err != nil {
		a.logger.Warn("traffic: history fetch failed", "edge_id", edgeID, "error", err)
		return []graph.TrafficEntry{}, nil
	}

	tagged := make([]graph.TrafficEntry, 0)
	for _, e := range history {
		if e.Timestamp < start || e.Timestamp > end {
			continue
		}
		tagged = append(tagged, graph.TrafficEntry{
			EdgeID:     edgeID,
			ProxyRefID: e.RefID,
			Method:     e.Method,
			URL:        e.URL,
			StatusCode: e.StatusCode,
			Timestamp:  e.Timestamp,
		})
	}

	if err := a.rec.InsertTraffic(ctx, tagged); err != nil {
		return nil, err
	}

	a.logger.Debug("traffic: window associated",
		"edge_id", edgeID, "entries", len(tagged), "start", start, "end", end)
	return tagged, nil
}

// Enqueue registers a window for background association. Used when an
// action's window has not yet closed at edge-creation time.
func (a *Associator) Enqueue(w Window) {
	a.mu.Lock()
	a.pending = append(a.pending, w)
	a.mu.Unlock()
}

// Run drains pending windows on a ticker until ctx is cancelled. A window
// is resolved once its end has passed; source failures leave it pending
// for the next cycle.
func (a *Associator) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.resolvePending(ctx)
		}
	}
}

func (a *Associator) resolvePending(ctx context.Context) {
	now := float64(time.Now().UnixNano()) / 1e9

	a.mu.Lock()
	var due, rest []Window
	for _, w := range a.pending {
		if w.End <= now {
			due = append(due, w)
		} else {
			rest = append(rest, w)
		}
	}
	a.pending = rest
	a.mu.Unlock()

	if len(due) == 0 {
		return
	}

	history, err := a.source.History(ctx)
	if err != nil {
		// Re-queue everything; the source may recover.
		a.logger.Warn("traffic: history fetch failed, windows re-queued",
			"windows", len(due), "error", err)
		a.mu.Lock()
		a.pending = append(a.pending, due...)
		a.mu.Unlock()
		return
	}

	for _, w := range due {
		tagged := make([]graph.TrafficEntry, 0)
		for _, e := range history {
			if e.Timestamp < w.Start || e.Timestamp > w.End {
				continue
			}
			tagged = append(tagged, graph.TrafficEntry{
				EdgeID:     w.EdgeID,
				ProxyRefID: e.RefID,
				Method:     e.Method,
				URL:        e.URL,
				StatusCode: e.StatusCode,
				Timestamp:  e.Timestamp,
			})
		}
		if err := a.rec.InsertTraffic(ctx, tagged); err != nil {
			a.logger.Error("traffic: persist failed", "edge_id", w.EdgeID, "error", err)
			continue
		}
		a.logger.Debug("traffic: pending window resolved",
			"edge_id", w.EdgeID, "entries", len(tagged))
	}
}

// PendingCount reports the number of unresolved windows.
func (a *Associator) PendingCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}
