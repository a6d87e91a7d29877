package reconcile

import (
	"bytes"
	"encoding/xml"
	"io"
	"strings"
)

// Flags are the interaction capabilities of an accessibility node, as
// reported by the uiautomator dump ("true"/"false" string attributes).
// Editable is derived: uiautomator has no editable attribute, so the class
// name is checked for the edit-field marker instead.
type Flags struct {
	Clickable  bool `json:"clickable"`
	Scrollable bool `json:"scrollable"`
	Editable   bool `json:"editable"`
	Checked    bool `json:"checked"`
	Selected   bool `json:"selected"`
	Enabled    bool `json:"enabled"`
}

// AccessibilityNode is one entry in the flattened accessibility pool.
// Nodes are ephemeral: the pool is rebuilt from scratch on every capture.
type AccessibilityNode struct {
	Text        string
	Description string
	ResourceID  string
	Class       string
	Bounds      Bounds
	Flags       Flags
}

// ScreenState holds global screen properties derived from the dump.
type ScreenState struct {
	CanScrollVertical bool     `json:"can_scroll_vertical"`
	ScrollableAreas   []Bounds `json:"scrollable_areas"`
}

// AnalyzeScreenState scans every node of an accessibility dump for
// scrollable regions. Malformed or unparseable input yields the default
// state (not scrollable, no areas) — never an error.
func AnalyzeScreenState(dump []byte) ScreenState {
	state := ScreenState{ScrollableAreas: []Bounds{}}

	walkDump(dump, func(attrs map[string]string) {
		if attrs["scrollable"] != "true" {
			return
		}
		if b, ok := ParseBounds(attrs["bounds"]); ok {
			state.CanScrollVertical = true
			state.ScrollableAreas = append(state.ScrollableAreas, b)
		}
	})
	return state
}

// ExtractNodes flattens an accessibility dump into a pre-order pool of
// nodes. Every node with parseable bounds is retained — including
// non-interactive containers — because containment-based text harvesting
// during reconciliation needs the full pool, not just interactive leaves.
// A node whose bounds cannot be parsed is dropped, and malformed input
// yields an empty pool.
func ExtractNodes(dump []byte) []AccessibilityNode {
	var nodes []AccessibilityNode

	walkDump(dump, func(attrs map[string]string) {
		b, ok := ParseBounds(attrs["bounds"])
		if !ok {
			return
		}
		cls := attrs["class"]
		nodes = append(nodes, AccessibilityNode{
			Text:        attrs["text"],
			Description: attrs["content-desc"],
			ResourceID:  attrs["resource-id"],
			Class:       cls,
			Bounds:      b,
			Flags: Flags{
				Clickable:  attrs["clickable"] == "true",
				Scrollable: attrs["scrollable"] == "true",
				Editable:   strings.Contains(cls, "EditText"),
				Checked:    attrs["checked"] == "true",
				Selected:   attrs["selected"] == "true",
				Enabled:    attrs["enabled"] == "true",
			},
		})
	})
	return nodes
}

// walkDump streams the XML dump and calls visit with the attribute map of
// each element, in document (pre-order) order. The whole document is
// decoded before any visit fires: a decode error anywhere means the dump
// is untrusted, so nothing is emitted.
func walkDump(dump []byte, visit func(attrs map[string]string)) {
	dec := xml.NewDecoder(bytes.NewReader(dump))

	var pending []map[string]string
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		attrs := make(map[string]string, len(start.Attr))
		for _, a := range start.Attr {
			attrs[a.Name.Local] = a.Value
		}
		pending = append(pending, attrs)
	}

	for _, attrs := range pending {
		visit(attrs)
	}
}
