// Package traffic correlates externally-observed network requests with
// graph edges by time window.
//
// Correlation is purely temporal: an entry whose capture timestamp falls
// inside an action's window is attributed to that action's edge, with no
// causal tracing to the originating UI event. Concurrent unrelated requests
// inside the same window are therefore misattributed — a known, accepted
// approximation.
package traffic

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Entry is one raw proxy history record, already reduced to the fields
// appgraph indexes.
type Entry struct {
	RefID      string
	Method     string
	URL        string
	StatusCode int
	Timestamp  float64
}

// Source supplies proxy history. The concrete implementation polls an
// intercepting-proxy REST API; tests use a canned source.
type Source interface {
	// History returns every available history entry. A temporarily
	// unreachable source returns an error; callers degrade to an empty
	// list and log.
	History(ctx context.Context) ([]Entry, error)
}

// ProxyClient fetches proxy history from a burp-rest-api style endpoint.
type ProxyClient struct {
	baseURL string
	client  *http.Client
}

// NewProxyClient creates a ProxyClient for the given API base URL
// (e.g. "http://127.0.0.1:8090").
func NewProxyClient(baseURL string, client *http.Client) *ProxyClient {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &ProxyClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

// historyEntry mirrors the proxy API response shape.
type historyEntry struct {
	ID   string  `json:"id"`
	Time float64 `json:"time"`

	Request struct {
		Method string `json:"method"`
		URL    string `json:"url"`
	} `json:"request"`

	Response struct {
		StatusCode int `json:"statusCode"`
	} `json:"response"`
}

// History fetches the full proxy history.
func (c *ProxyClient) History(ctx context.Context) ([]Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/burp/proxy/history", nil)
	if err != nil {
		return nil, fmt.Errorf("traffic: build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("traffic: fetch history: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("traffic: proxy API status %d", resp.StatusCode)
	}

	var raw []historyEntry
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("traffic: decode history: %w", err)
	}

	entries := make([]Entry, 0, len(raw))
	for _, h := range raw {
		entries = append(entries, Entry{
			RefID:      h.ID,
			Method:     h.Request.Method,
			URL:        h.Request.URL,
			StatusCode: h.Response.StatusCode,
			Timestamp:  h.Time,
		})
	}
	return entries, nil
}

// Ping verifies the proxy API is reachable.
func (c *ProxyClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/burp/versions", nil)
	if err != nil {
		return fmt.Errorf("traffic: build request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("traffic: ping proxy: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("traffic: proxy API status %d", resp.StatusCode)
	}
	return nil
}
