package device

import (
	"context"
	"log/slog"
	"time"

	"github.com/hazyhaar/appgraph/live"
)

// StatusSource is the slice of Controller the monitor needs.
type StatusSource interface {
	Status(ctx context.Context) StatusInfo
}

// Broadcaster publishes connectivity events. *live.Hub satisfies it.
type Broadcaster interface {
	Publish(ctx context.Context, ev live.Event)
}

// DefaultPollInterval is the monitor's polling frequency. 2.5s keeps the
// UI responsive to cable pulls without hammering the adb server.
const DefaultPollInterval = 2500 * time.Millisecond

// Monitor polls device connectivity and broadcasts transitions.
//
// Broadcasts are edge-triggered: only a change of status produces an
// event, so subscribers are not flooded with a repeated "still connected"
// signal. The loop terminates cooperatively on context cancellation, and
// shutdown latency never exceeds one poll interval.
type Monitor struct {
	src      StatusSource
	hub      Broadcaster
	interval time.Duration
	logger   *slog.Logger
}

// NewMonitor creates a Monitor. interval <= 0 selects DefaultPollInterval;
// logger may be nil.
func NewMonitor(src StatusSource, hub Broadcaster, interval time.Duration, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{src: src, hub: hub, interval: interval, logger: logger}
}

// Run polls until ctx is cancelled. The first observation always
// broadcasts (transition from the unknown state).
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("device: monitor started", "interval", m.interval)

	var last string
	poll := func() {
		info := m.src.Status(ctx)
		if info.Status == last {
			return
		}
		m.logger.Info("device: status transition",
			"from", last, "to", info.Status, "device", info.Device)
		last = info.Status
		m.hub.Publish(ctx, live.ADBStatus(info.Status, info.Device))
	}

	poll()
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("device: monitor stopped")
			return
		case <-ticker.C:
			poll()
		}
	}
}
