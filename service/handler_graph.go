package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/appgraph/graph"
	"github.com/hazyhaar/appgraph/live"
	"github.com/hazyhaar/appgraph/traffic"
)

// nodeView is the graph API node shape consumed by the flow frontend.
type nodeView struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Position map[string]int `json:"position"`
	Data     nodeData       `json:"data"`
}

type nodeData struct {
	Label               string              `json:"label"`
	Description         string              `json:"description"`
	Screenshot          string              `json:"screenshot,omitempty"`
	AnnotatedScreenshot string              `json:"annotatedScreenshot,omitempty"`
	Traffic             []trafficView       `json:"traffic"`
	Parser              *graph.ParserOutput `json:"parser,omitempty"`
}

type edgeView struct {
	graph.Edge
	Traffic []trafficView `json:"traffic"`
}

// trafficView decorates a traffic entry with display metadata.
type trafficView struct {
	graph.TrafficEntry
	CapturedAt string `json:"capturedAt,omitempty"`
	Age        string `json:"age,omitempty"`
}

// handleGraph returns the full graph with screenshot URLs, reconciliation
// payloads, and traffic.
// GET /api/graph
func (s *Service) handleGraph(w http.ResponseWriter, r *http.Request) {
	snap, err := s.store.Snapshot(r.Context())
	if err != nil {
		s.logger.Error("service: graph snapshot", "error", err)
		s.respondError(w, http.StatusInternalServerError, "graph query failed")
		return
	}

	now := time.Now()
	nodes := make([]nodeView, 0, len(snap.Nodes))
	for _, n := range snap.Nodes {
		nodes = append(nodes, nodeView{
			ID:       n.ID,
			Type:     "screenshotNode",
			Position: map[string]int{"x": 0, "y": 0},
			Data: nodeData{
				Label:               n.Label,
				Description:         n.Description,
				Screenshot:          s.staticURL("/screenshots", n.ScreenshotPath),
				AnnotatedScreenshot: s.staticURL("/annotated-screenshots", n.AnnotatedScreenshotPath),
				Traffic:             decorateTraffic(n.Traffic, now),
				Parser:              n.Parser,
			},
		})
	}

	edges := make([]edgeView, 0, len(snap.Edges))
	for _, e := range snap.Edges {
		edges = append(edges, edgeView{Edge: e.Edge, Traffic: decorateTraffic(e.Traffic, now)})
	}

	s.respond(w, http.StatusOK, map[string]any{"nodes": nodes, "edges": edges})
}

// handleDeleteNode removes a node and everything cascading from it.
// DELETE /api/nodes/{id}
func (s *Service) handleDeleteNode(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	err := s.store.DeleteNode(r.Context(), id)
	if errors.Is(err, graph.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "node not found")
		return
	}
	if err != nil {
		s.logger.Error("service: delete node", "node_id", id, "error", err)
		s.respondError(w, http.StatusInternalServerError, "delete failed")
		return
	}

	s.hub.Publish(r.Context(), live.Event{
		Type:   live.TypeGraphUpdated,
		Fields: map[string]any{"deleted_node_id": id},
	})
	s.respond(w, http.StatusOK, map[string]string{"deleted": id})
}

type createEdgeRequest struct {
	Source   string  `json:"source"`
	Target   string  `json:"target"`
	Label    string  `json:"label"`
	Animated bool    `json:"animated"`
	Window   *window `json:"window,omitempty"`
}

type window struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// handleCreateEdge records a transition between two captured screens,
// optionally correlating traffic captured in the action's time window.
// POST /api/edges
func (s *Service) handleCreateEdge(w http.ResponseWriter, r *http.Request) {
	var req createEdgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Source == "" || req.Target == "" {
		s.respondError(w, http.StatusBadRequest, "source and target required")
		return
	}

	e := &graph.Edge{
		SourceNodeID: req.Source,
		TargetNodeID: req.Target,
		Label:        req.Label,
		Animated:     req.Animated,
	}
	if err := s.store.CreateEdge(r.Context(), e); err != nil {
		if errors.Is(err, graph.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, err.Error())
			return
		}
		s.logger.Error("service: create edge", "error", err)
		s.respondError(w, http.StatusInternalServerError, "create edge failed")
		return
	}

	if req.Window != nil {
		now := float64(time.Now().UnixNano()) / 1e9
		if req.Window.End <= now {
			if _, err := s.assoc.AssociateWindow(r.Context(), e.ID, req.Window.Start, req.Window.End); err != nil {
				s.logger.Error("service: associate window", "edge_id", e.ID, "error", err)
			}
		} else {
			s.assoc.Enqueue(traffic.Window{EdgeID: e.ID, Start: req.Window.Start, End: req.Window.End})
		}
	}

	s.hub.Publish(r.Context(), live.Event{
		Type:   live.TypeGraphUpdated,
		Fields: map[string]any{"edge_id": e.ID},
	})
	s.respond(w, http.StatusCreated, e)
}

type associateRequest struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// handleAssociateTraffic tags proxy traffic in [start, end] with an edge.
// POST /api/edges/{id}/traffic
func (s *Service) handleAssociateTraffic(w http.ResponseWriter, r *http.Request) {
	edgeID := chi.URLParam(r, "id")

	var req associateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.End < req.Start {
		s.respondError(w, http.StatusBadRequest, "end before start")
		return
	}

	entries, err := s.assoc.AssociateWindow(r.Context(), edgeID, req.Start, req.End)
	if err != nil {
		s.logger.Error("service: associate traffic", "edge_id", edgeID, "error", err)
		s.respondError(w, http.StatusInternalServerError, "association failed")
		return
	}

	s.respond(w, http.StatusOK, map[string]any{"edge_id": edgeID, "entries": entries})
}

// decorateTraffic adds an ISO capture time and a human-readable age to each
// entry.
func decorateTraffic(entries []graph.TrafficEntry, now time.Time) []trafficView {
	views := make([]trafficView, 0, len(entries))
	for _, e := range entries {
		v := trafficView{TrafficEntry: e}
		if e.Timestamp > 0 {
			captured := time.Unix(0, int64(e.Timestamp*1e9)).UTC()
			v.CapturedAt = captured.Format(time.RFC3339)
			v.Age = humanAge(now.Sub(captured))
		}
		views = append(views, v)
	}
	return views
}

func humanAge(d time.Duration) string {
	secs := int(d.Seconds())
	switch {
	case secs <= 0:
		return "just now"
	case secs < 60:
		return fmt.Sprintf("%ds ago", secs)
	case secs < 3600:
		return fmt.Sprintf("%dm ago", secs/60)
	case secs < 86400:
		return fmt.Sprintf("%dh ago", secs/3600)
	default:
		return fmt.Sprintf("%dd ago", secs/86400)
	}
}
