// Package vision is the contract with the external vision collaborator —
// an OmniParser-style model that detects UI elements in a screenshot.
// Only the output shape matters here; inference is someone else's problem.
package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hazyhaar/appgraph/reconcile"
)

// Engine analyzes a screenshot and returns the ordered detection list.
// Detection order is significant: it defines reconciliation output order.
type Engine interface {
	Analyze(ctx context.Context, png []byte) ([]reconcile.Detection, error)
}

// HTTPEngine posts screenshots to a vision inference endpoint.
type HTTPEngine struct {
	endpoint string
	client   *http.Client
}

// NewHTTPEngine creates an HTTPEngine for the given inference URL.
// Inference is accelerator-bound and slow; the default timeout is generous.
func NewHTTPEngine(endpoint string, client *http.Client) *HTTPEngine {
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}
	return &HTTPEngine{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   client,
	}
}

type analyzeRequest struct {
	ImageBase64 string `json:"image_base64"`
}

type analyzeResponse struct {
	Elements []reconcile.Detection `json:"elements"`
}

// Analyze sends the PNG to the inference endpoint and decodes the ordered
// detection list.
func (e *HTTPEngine) Analyze(ctx context.Context, png []byte) ([]reconcile.Detection, error) {
	body, err := json.Marshal(analyzeRequest{
		ImageBase64: base64.StdEncoding.EncodeToString(png),
	})
	if err != nil {
		return nil, fmt.Errorf("vision: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint+"/parse", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("vision: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vision: inference call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("vision: inference status %d", resp.StatusCode)
	}

	var out analyzeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("vision: decode response: %w", err)
	}
	return out.Elements, nil
}

// MockEngine returns canned detections, for development without a model
// and for pipeline tests.
type MockEngine struct {
	Detections []reconcile.Detection
}

// Analyze returns the configured detections regardless of input.
func (e *MockEngine) Analyze(ctx context.Context, png []byte) ([]reconcile.Detection, error) {
	if e.Detections != nil {
		return e.Detections, nil
	}
	return []reconcile.Detection{
		{Type: reconcile.TypeText, BBox: [4]float64{0.10, 0.20, 0.30, 0.25}, Content: "Login"},
		{Type: reconcile.TypeText, BBox: [4]float64{0.10, 0.10, 0.30, 0.15}, Content: "Username"},
		{Type: reconcile.TypeIcon, BBox: [4]float64{0.02, 0.02, 0.08, 0.06}, Content: "Menu"},
	}, nil
}
