package graph_test

import (
	"context"
	"testing"

	"github.com/hazyhaar/appgraph/graph"
)

func TestInsertTraffic_AssignsIDs(t *testing.T) {
	s := newStore(t)
	a := mustCreateNode(t, s, "a")
	b := mustCreateNode(t, s, "b")
	e := mustCreateEdge(t, s, a.ID, b.ID)

	entries := []graph.TrafficEntry{
		{EdgeID: e.ID, Method: "GET", URL: "https://x/1", StatusCode: 200, Timestamp: 1},
		{EdgeID: e.ID, Method: "POST", URL: "https://x/2", StatusCode: 201, Timestamp: 2},
	}
	if err := s.InsertTraffic(context.Background(), entries); err != nil {
		t.Fatalf("InsertTraffic: %v", err)
	}
	for i, e := range entries {
		if e.ID == 0 {
			t.Errorf("entries[%d].ID not assigned", i)
		}
	}
}

func TestInsertTraffic_Empty(t *testing.T) {
	s := newStore(t)
	if err := s.InsertTraffic(context.Background(), nil); err != nil {
		t.Fatalf("InsertTraffic(nil): %v", err)
	}
}

func TestTrafficByEdge_Ordering(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	a := mustCreateNode(t, s, "a")
	b := mustCreateNode(t, s, "b")
	e := mustCreateEdge(t, s, a.ID, b.ID)

	if err := s.InsertTraffic(ctx, []graph.TrafficEntry{
		{EdgeID: e.ID, URL: "https://x/old", Timestamp: 100},
		{EdgeID: e.ID, URL: "https://x/new", Timestamp: 300},
		{EdgeID: e.ID, URL: "https://x/mid", Timestamp: 200},
	}); err != nil {
		t.Fatalf("InsertTraffic: %v", err)
	}

	got, err := s.TrafficByEdge(ctx, e.ID)
	if err != nil {
		t.Fatalf("TrafficByEdge: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d entries, want 3", len(got))
	}
	want := []string{"https://x/new", "https://x/mid", "https://x/old"}
	for i, url := range want {
		if got[i].URL != url {
			t.Errorf("entries[%d].URL = %q, want %q (most recent first)", i, got[i].URL, url)
		}
	}
}

func TestTrafficByNode_UnionOfOutgoingEdges(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	a := mustCreateNode(t, s, "a")
	b := mustCreateNode(t, s, "b")
	c := mustCreateNode(t, s, "c")

	ab := mustCreateEdge(t, s, a.ID, b.ID)
	ac := mustCreateEdge(t, s, a.ID, c.ID)
	ba := mustCreateEdge(t, s, b.ID, a.ID) // incoming, must not count

	if err := s.InsertTraffic(ctx, []graph.TrafficEntry{
		{EdgeID: ab.ID, URL: "https://x/ab", Timestamp: 1},
		{EdgeID: ac.ID, URL: "https://x/ac", Timestamp: 2},
		{EdgeID: ba.ID, URL: "https://x/ba", Timestamp: 3},
	}); err != nil {
		t.Fatalf("InsertTraffic: %v", err)
	}

	got, err := s.TrafficByNode(ctx, a.ID)
	if err != nil {
		t.Fatalf("TrafficByNode: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d entries, want 2 (outgoing edges only)", len(got))
	}
	if got[0].URL != "https://x/ac" || got[1].URL != "https://x/ab" {
		t.Fatalf("order = [%s, %s]", got[0].URL, got[1].URL)
	}
}

func TestInsertTraffic_UnassociatedVisibleInNoBucket(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	a := mustCreateNode(t, s, "a")
	b := mustCreateNode(t, s, "b")
	e := mustCreateEdge(t, s, a.ID, b.ID)

	// One entry without an edge: stored, but attached to nothing.
	if err := s.InsertTraffic(ctx, []graph.TrafficEntry{
		{URL: "https://x/orphan", Timestamp: 5},
	}); err != nil {
		t.Fatalf("InsertTraffic: %v", err)
	}

	byEdge, err := s.TrafficByEdge(ctx, e.ID)
	if err != nil {
		t.Fatalf("TrafficByEdge: %v", err)
	}
	if len(byEdge) != 0 {
		t.Fatalf("edge traffic = %+v, want none", byEdge)
	}
	byNode, err := s.TrafficByNode(ctx, a.ID)
	if err != nil {
		t.Fatalf("TrafficByNode: %v", err)
	}
	if len(byNode) != 0 {
		t.Fatalf("node traffic = %+v, want none", byNode)
	}
}
