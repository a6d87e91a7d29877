// Package service exposes the appgraph HTTP surface: graph queries, screen
// capture and analysis, device status, and the live event stream.
package service

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/appgraph/config"
	"github.com/hazyhaar/appgraph/device"
	"github.com/hazyhaar/appgraph/graph"
	"github.com/hazyhaar/appgraph/live"
	"github.com/hazyhaar/appgraph/traffic"
	"github.com/hazyhaar/appgraph/vision"
)

// Service wires the appgraph components behind the HTTP API. All
// collaborators are injected once at startup; there are no lazily
// initialized singletons.
type Service struct {
	store  *graph.Store
	hub    *live.Hub
	dev    device.Controller
	vis    vision.Engine
	assoc  *traffic.Associator
	cfg    *config.Config
	logger *slog.Logger
}

// New creates a Service. logger may be nil.
func New(store *graph.Store, hub *live.Hub, dev device.Controller, vis vision.Engine,
	assoc *traffic.Associator, cfg *config.Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		hub:    hub,
		dev:    dev,
		vis:    vis,
		assoc:  assoc,
		cfg:    cfg,
		logger: logger,
	}
}

// RegisterHTTP mounts the API on a chi router.
func (s *Service) RegisterHTTP(r chi.Router) {
	r.Get("/", s.handleRoot)

	r.Route("/api", func(r chi.Router) {
		r.Get("/adb/status", s.handleADBStatus)
		r.Get("/graph", s.handleGraph)
		r.Post("/analyze-screen", s.handleAnalyzeScreen)
		r.Delete("/nodes/{id}", s.handleDeleteNode)
		r.Post("/edges", s.handleCreateEdge)
		r.Post("/edges/{id}/traffic", s.handleAssociateTraffic)
		r.Get("/events", s.hub.ServeSSE)

		r.Post("/device/tap", s.handleTap)
		r.Post("/device/input", s.handleInputText)
		r.Post("/device/key", s.handlePressKey)
		r.Post("/device/swipe", s.handleSwipe)
	})

	// Static screenshot mounts so the frontend can load captures directly.
	r.Handle("/screenshots/*", http.StripPrefix("/screenshots/",
		http.FileServer(http.Dir(s.cfg.Screenshot.Dir))))
	r.Handle("/annotated-screenshots/*", http.StripPrefix("/annotated-screenshots/",
		http.FileServer(http.Dir(s.cfg.Screenshot.AnnotatedDir))))
}

func (s *Service) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.respond(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (s *Service) respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("service: encode response", "error", err)
	}
}

func (s *Service) respondError(w http.ResponseWriter, status int, msg string) {
	s.respond(w, status, map[string]string{"error": msg})
}

// staticURL builds the absolute URL for a screenshot filename, or "" when
// the node has none.
func (s *Service) staticURL(mount, filename string) string {
	if filename == "" {
		return ""
	}
	return s.cfg.BaseURL + mount + "/" + filename
}
