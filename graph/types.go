package graph

import "github.com/hazyhaar/appgraph/reconcile"

// Node is one captured application screen. The id is assigned by the
// creator before the write, is immutable, and is never reused after
// deletion (UUIDv7).
type Node struct {
	ID                      string `json:"id"`
	Label                   string `json:"label"`
	Description             string `json:"description"`
	ScreenshotPath          string `json:"screenshot_path"`
	AnnotatedScreenshotPath string `json:"annotated_screenshot_path"`
	CreatedAt               int64  `json:"created_at"`
}

// Edge is a directed transition between two captured screens. Lifecycle is
// managed by the caller except for cascading deletion with its nodes.
type Edge struct {
	ID           string `json:"id"`
	SourceNodeID string `json:"source"`
	TargetNodeID string `json:"target"`
	Label        string `json:"label"`
	Animated     bool   `json:"animated"`
}

// TrafficEntry is one observed network request. EdgeID is empty until the
// entry is associated with an edge; an entry belongs to at most one edge.
type TrafficEntry struct {
	ID         int64   `json:"id"`
	EdgeID     string  `json:"edge_id,omitempty"`
	ProxyRefID string  `json:"proxy_ref_id"`
	Method     string  `json:"method"`
	URL        string  `json:"url"`
	StatusCode int     `json:"status"`
	Timestamp  float64 `json:"timestamp"`
}

// ParserOutput is the reconciliation payload persisted alongside a node.
type ParserOutput struct {
	NodeID      string                `json:"node_id"`
	Elements    []reconcile.Element   `json:"elements"`
	ScreenState reconcile.ScreenState `json:"screen_state"`
}
