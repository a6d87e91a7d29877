// Package reconcile merges vision-detected UI elements with a device
// accessibility dump into one consistent per-screen element list.
//
// The strategy is vision-first: detections are authoritative for what
// exists on screen (they see custom-drawn UI that carries no accessibility
// metadata), and accessibility nodes only correct OCR noise and enrich
// matched elements with automation-relevant identifiers. Matching is a
// cheap single-pass greedy IoU scan — per-screen element counts are small
// and a locally-good match is sufficient downstream, so no attempt is made
// at a globally-optimal assignment.
package reconcile

import "strings"

// Detection element types produced by the vision collaborator.
const (
	TypeText = "text"
	TypeIcon = "icon"
)

// Element sources.
const (
	SourceVisionOnly     = "vision_only"
	SourceVisionEnriched = "vision_enriched"
)

// iouThreshold is the acceptance floor for a spatial match. A candidate
// must exceed it strictly; 0.3 is sufficient because vision and
// accessibility boxes for the same widget overlap heavily while unrelated
// widgets on a phone screen rarely do.
const iouThreshold = 0.3

// Detection is one element reported by the vision collaborator. Order is
// significant: it defines the output element ordering and uid assignment.
type Detection struct {
	Type    string     `json:"type"`
	BBox    [4]float64 `json:"bbox"`
	Content string     `json:"content"`
}

// Attributes is the accessibility enrichment bundle attached to a matched
// element. Present only when Source is vision_enriched.
type Attributes struct {
	Text        string `json:"text"`
	ResourceID  string `json:"resource_id"`
	ContentDesc string `json:"content_desc"`
	Class       string `json:"class"`
	Clickable   bool   `json:"clickable"`
	Scrollable  bool   `json:"scrollable"`
	Editable    bool   `json:"editable"`
	Checked     bool   `json:"checked"`
	Selected    bool   `json:"selected"`
	Enabled     bool   `json:"enabled"`
}

// Element is the unified per-screen output element. Exactly one Element is
// produced per Detection; unmatched accessibility nodes never become
// elements of their own.
type Element struct {
	UID        int         `json:"uid"`
	Source     string      `json:"source"`
	Type       string      `json:"type"`
	Content    string      `json:"content"`
	Bounds     Bounds      `json:"bounds"`
	Attributes *Attributes `json:"adb_attributes,omitempty"`
}

// Output is the reconciliation result for one capture.
type Output struct {
	ScreenState ScreenState `json:"screen_state"`
	Elements    []Element   `json:"elements"`
}

// Reconcile merges the ordered detection list with the accessibility dump
// for a screen of the given pixel dimensions.
//
// Detections are processed strictly in input order and assigned sequential
// 1-based uids. Each detection greedily claims the unmatched pool node with
// the highest IoU above the threshold; ties keep the first candidate in
// pool order, and a claimed node is excluded from all later detections.
// Earlier assignments are never revisited, even if a later detection would
// have matched the node better.
func Reconcile(dump []byte, detections []Detection, width, height int) *Output {
	out := &Output{
		ScreenState: AnalyzeScreenState(dump),
		Elements:    make([]Element, 0, len(detections)),
	}

	pool := ExtractNodes(dump)
	matched := make([]bool, len(pool))

	for i, det := range detections {
		el := Element{
			UID:     i + 1,
			Source:  SourceVisionOnly,
			Type:    det.Type,
			Content: det.Content,
			Bounds:  toPixels(det.BBox, width, height),
		}

		best := -1
		bestIoU := 0.0
		for j := range pool {
			if matched[j] {
				continue
			}
			iou := IoU(el.Bounds, pool[j].Bounds)
			if iou > iouThreshold && iou > bestIoU {
				bestIoU = iou
				best = j
			}
		}

		if best >= 0 {
			matched[best] = true
			node := &pool[best]
			el.Source = SourceVisionEnriched
			el.Content = resolveContent(pool, node, det.Content)
			el.Attributes = &Attributes{
				Text:        node.Text,
				ResourceID:  node.ResourceID,
				ContentDesc: node.Description,
				Class:       node.Class,
				Clickable:   node.Flags.Clickable,
				Scrollable:  node.Flags.Scrollable,
				Editable:    node.Flags.Editable,
				Checked:     node.Flags.Checked,
				Selected:    node.Flags.Selected,
				Enabled:     node.Flags.Enabled,
			}
		}

		out.Elements = append(out.Elements, el)
	}

	return out
}

// resolveContent picks the element content for a matched node, in priority
// order: the node's own text, its content description, text harvested from
// spatially contained pool nodes, and finally the original vision content.
//
// Harvesting covers the entire pool regardless of match state — a common
// layout is a clickable container whose label lives in a child TextView,
// and that child may itself be matched to another detection.
func resolveContent(pool []AccessibilityNode, node *AccessibilityNode, visionContent string) string {
	if node.Text != "" {
		return node.Text
	}
	if node.Description != "" {
		return node.Description
	}

	var parts []string
	for i := range pool {
		child := &pool[i]
		if child == node {
			continue
		}
		if !Contains(node.Bounds, child.Bounds) {
			continue
		}
		txt := child.Text
		if txt == "" {
			txt = child.Description
		}
		if txt != "" {
			parts = append(parts, txt)
		}
	}
	if len(parts) > 0 {
		return strings.Join(parts, " ")
	}
	return visionContent
}
