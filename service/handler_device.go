package service

import (
	"encoding/json"
	"net/http"
)

// Device action handlers drive the connected device so a frontend (or a
// future exploration agent) can navigate the app between captures.

type tapRequest struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// POST /api/device/tap
func (s *Service) handleTap(w http.ResponseWriter, r *http.Request) {
	var req tapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.dev.Tap(r.Context(), req.X, req.Y); err != nil {
		s.logger.Error("service: tap", "x", req.X, "y", req.Y, "error", err)
		s.respondError(w, http.StatusBadGateway, "tap failed")
		return
	}
	s.respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

type inputTextRequest struct {
	Text string `json:"text"`
}

// POST /api/device/input
func (s *Service) handleInputText(w http.ResponseWriter, r *http.Request) {
	var req inputTextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		s.respondError(w, http.StatusBadRequest, "text required")
		return
	}
	if err := s.dev.InputText(r.Context(), req.Text); err != nil {
		s.logger.Error("service: input text", "error", err)
		s.respondError(w, http.StatusBadGateway, "input failed")
		return
	}
	s.respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

type pressKeyRequest struct {
	Keycode string `json:"keycode"`
}

// POST /api/device/key
func (s *Service) handlePressKey(w http.ResponseWriter, r *http.Request) {
	var req pressKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Keycode == "" {
		s.respondError(w, http.StatusBadRequest, "keycode required")
		return
	}
	if err := s.dev.PressKey(r.Context(), req.Keycode); err != nil {
		s.logger.Error("service: press key", "keycode", req.Keycode, "error", err)
		s.respondError(w, http.StatusBadGateway, "keyevent failed")
		return
	}
	s.respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

type swipeRequest struct {
	X1         int `json:"x1"`
	Y1         int `json:"y1"`
	X2         int `json:"x2"`
	Y2         int `json:"y2"`
	DurationMs int `json:"duration_ms"`
}

// POST /api/device/swipe
func (s *Service) handleSwipe(w http.ResponseWriter, r *http.Request) {
	var req swipeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.DurationMs <= 0 {
		req.DurationMs = 300
	}
	if err := s.dev.Swipe(r.Context(), req.X1, req.Y1, req.X2, req.Y2, req.DurationMs); err != nil {
		s.logger.Error("service: swipe", "error", err)
		s.respondError(w, http.StatusBadGateway, "swipe failed")
		return
	}
	s.respond(w, http.StatusOK, map[string]string{"status": "ok"})
}
