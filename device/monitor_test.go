package device_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/appgraph/device"
	"github.com/hazyhaar/appgraph/live"
)

type scriptedSource struct {
	mu       sync.Mutex
	statuses []device.StatusInfo
	i        int
}

func (s *scriptedSource) Status(ctx context.Context) device.StatusInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := s.statuses[s.i]
	if s.i < len(s.statuses)-1 {
		s.i++
	}
	return info
}

type capturingHub struct {
	mu     sync.Mutex
	events []live.Event
}

func (h *capturingHub) Publish(ctx context.Context, ev live.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
}

func (h *capturingHub) all() []live.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]live.Event(nil), h.events...)
}

func TestMonitor_EdgeTriggered(t *testing.T) {
	src := &scriptedSource{statuses: []device.StatusInfo{
		{Status: device.StatusDisconnected},
		{Status: device.StatusDisconnected},
		{Status: device.StatusConnected, Device: "emulator-5554"},
		{Status: device.StatusConnected, Device: "emulator-5554"},
	}}
	hub := &capturingHub{}
	m := device.NewMonitor(src, hub, 5*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for len(hub.all()) < 2 {
		select {
		case <-deadline:
			t.Fatal("expected two transitions")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done

	events := hub.all()
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2 (repeated statuses suppressed)", len(events))
	}
	if events[0].Fields["status"] != device.StatusDisconnected {
		t.Fatalf("first event = %+v", events[0].Fields)
	}
	if events[1].Fields["status"] != device.StatusConnected ||
		events[1].Fields["device"] != "emulator-5554" {
		t.Fatalf("second event = %+v", events[1].Fields)
	}
	for _, ev := range events {
		if ev.Type != live.TypeADBStatus {
			t.Fatalf("Type = %q, want %q", ev.Type, live.TypeADBStatus)
		}
	}
}

func TestMonitor_StopsOnCancel(t *testing.T) {
	src := &scriptedSource{statuses: []device.StatusInfo{{Status: device.StatusConnected}}}
	m := device.NewMonitor(src, &capturingHub{}, 5*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop on cancellation")
	}
}
