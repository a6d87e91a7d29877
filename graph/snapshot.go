package graph

import (
	"context"
	"encoding/json"
	"fmt"
)

// NodeView is a node with its reconciliation payload and the traffic
// observed while acting from it.
type NodeView struct {
	Node
	Parser  *ParserOutput  `json:"parser,omitempty"`
	Traffic []TrafficEntry `json:"traffic"`
}

// EdgeView is an edge with its associated traffic.
type EdgeView struct {
	Edge
	Traffic []TrafficEntry `json:"traffic"`
}

// Snapshot is the full graph query result.
type Snapshot struct {
	Nodes []NodeView `json:"nodes"`
	Edges []EdgeView `json:"edges"`
}

// Snapshot loads the whole graph: every node with parser payload and
// traffic, every edge with traffic.
func (s *Store) Snapshot(ctx context.Context) (*Snapshot, error) {
	nodes, err := s.ListNodes(ctx)
	if err != nil {
		return nil, err
	}
	edges, err := s.ListEdges(ctx)
	if err != nil {
		return nil, err
	}
	byNode, byEdge, err := s.trafficMaps(ctx)
	if err != nil {
		return nil, err
	}
	parsers, err := s.parserOutputs(ctx)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		Nodes: make([]NodeView, 0, len(nodes)),
		Edges: make([]EdgeView, 0, len(edges)),
	}
	for _, n := range nodes {
		nv := NodeView{Node: n, Parser: parsers[n.ID], Traffic: byNode[n.ID]}
		if nv.Traffic == nil {
			nv.Traffic = []TrafficEntry{}
		}
		snap.Nodes = append(snap.Nodes, nv)
	}
	for _, e := range edges {
		ev := EdgeView{Edge: e, Traffic: byEdge[e.ID]}
		if ev.Traffic == nil {
			ev.Traffic = []TrafficEntry{}
		}
		snap.Edges = append(snap.Edges, ev)
	}
	return snap, nil
}

// parserOutputs loads all reconciliation payloads keyed by node id.
func (s *Store) parserOutputs(ctx context.Context) (map[string]*ParserOutput, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT node_id, elements, screen_state FROM parser_outputs`)
	if err != nil {
		return nil, fmt.Errorf("graph: parser outputs: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*ParserOutput)
	for rows.Next() {
		var nodeID, elements, state string
		if err := rows.Scan(&nodeID, &elements, &state); err != nil {
			return nil, fmt.Errorf("graph: scan parser output: %w", err)
		}
		po := &ParserOutput{NodeID: nodeID}
		if err := json.Unmarshal([]byte(elements), &po.Elements); err != nil {
			return nil, fmt.Errorf("graph: decode elements for %s: %w", nodeID, err)
		}
		if err := json.Unmarshal([]byte(state), &po.ScreenState); err != nil {
			return nil, fmt.Errorf("graph: decode screen state for %s: %w", nodeID, err)
		}
		out[nodeID] = po
	}
	return out, rows.Err()
}
