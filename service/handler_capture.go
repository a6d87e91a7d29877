package service

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/hazyhaar/appgraph/graph"
	"github.com/hazyhaar/appgraph/live"
	"github.com/hazyhaar/appgraph/reconcile"
)

// handleADBStatus reports device connectivity.
// GET /api/adb/status
func (s *Service) handleADBStatus(w http.ResponseWriter, r *http.Request) {
	info := s.dev.Status(r.Context())
	s.respond(w, http.StatusOK, map[string]any{
		"connected": info.Connected(),
		"status":    info.Status,
		"message":   info.Message,
		"device":    info.Device,
	})
}

// handleAnalyzeScreen captures the current screen, runs vision analysis and
// the accessibility reconciliation, and persists the result as a new graph
// node.
//
// Capture and inference are blocking work; they run on this request
// goroutine, which is independent of the hub's serving loop, so live
// subscribers are never stalled. The operation is not cancellable
// mid-flight — callers wait for completion or their own timeout.
// POST /api/analyze-screen
func (s *Service) handleAnalyzeScreen(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	info := s.dev.Status(ctx)
	if !info.Connected() {
		s.respondError(w, http.StatusServiceUnavailable, "device not connected: "+info.Message)
		return
	}

	png, err := s.dev.Screenshot(ctx)
	if err != nil {
		s.logger.Error("service: screenshot", "error", err)
		s.respondError(w, http.StatusBadGateway, "screenshot failed")
		return
	}

	filename := fmt.Sprintf("screen_%d.png", time.Now().Unix())
	if err := os.WriteFile(filepath.Join(s.cfg.Screenshot.Dir, filename), png, 0o644); err != nil {
		s.logger.Error("service: save screenshot", "file", filename, "error", err)
		s.respondError(w, http.StatusInternalServerError, "save screenshot failed")
		return
	}

	detections, err := s.vis.Analyze(ctx, png)
	if err != nil {
		s.logger.Error("service: vision analysis", "error", err)
		s.respondError(w, http.StatusBadGateway, "vision analysis failed")
		return
	}

	// The dump and screen size are enrichment inputs: when they fail the
	// reconciliation degrades to vision-only output instead of aborting.
	dump, err := s.dev.DumpHierarchy(ctx)
	if err != nil {
		s.logger.Warn("service: hierarchy dump failed, vision-only capture", "error", err)
		dump = ""
	}
	width, height, err := s.dev.ScreenSize(ctx)
	if err != nil {
		s.logger.Warn("service: screen size probe failed, using configured fallback", "error", err)
		width, height = s.cfg.Device.ScreenWidth, s.cfg.Device.ScreenHeight
	}

	out := reconcile.Reconcile([]byte(dump), detections, width, height)

	label := filename
	if pkg, err := s.dev.CurrentPackage(ctx); err == nil && pkg != "" && pkg != "unknown" {
		label = pkg
	}

	node := &graph.Node{Label: label, ScreenshotPath: filename}
	po := &graph.ParserOutput{Elements: out.Elements, ScreenState: out.ScreenState}
	if err := s.store.CreateNode(ctx, node, po); err != nil {
		s.logger.Error("service: persist node", "error", err)
		s.respondError(w, http.StatusInternalServerError, "persist failed")
		return
	}

	s.logger.Info("service: screen captured",
		"node_id", node.ID, "elements", len(out.Elements),
		"enriched", countEnriched(out.Elements))

	s.hub.Publish(ctx, live.GraphUpdated(node.ID))

	s.respond(w, http.StatusOK, map[string]any{
		"node_id":        node.ID,
		"screenshot_url": s.staticURL("/screenshots", filename),
		"screen_state":   out.ScreenState,
		"elements":       out.Elements,
	})
}

func countEnriched(elements []reconcile.Element) int {
	n := 0
	for _, el := range elements {
		if el.Source == reconcile.SourceVisionEnriched {
			n++
		}
	}
	return n
}
