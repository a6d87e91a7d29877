package service_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/appgraph/config"
	"github.com/hazyhaar/appgraph/dbopen"
	"github.com/hazyhaar/appgraph/device"
	"github.com/hazyhaar/appgraph/graph"
	"github.com/hazyhaar/appgraph/live"
	"github.com/hazyhaar/appgraph/service"
	"github.com/hazyhaar/appgraph/traffic"
	"github.com/hazyhaar/appgraph/vision"
)

// fakeController is a scripted device.Controller.
type fakeController struct {
	status  device.StatusInfo
	png     []byte
	dump    string
	dumpErr error
	width   int
	height  int
	sizeErr error
	pkg     string

	actions   []string
	actionErr error
}

func (f *fakeController) Status(ctx context.Context) device.StatusInfo   { return f.status }
func (f *fakeController) Screenshot(ctx context.Context) ([]byte, error) { return f.png, nil }
func (f *fakeController) DumpHierarchy(ctx context.Context) (string, error) {
	return f.dump, f.dumpErr
}
func (f *fakeController) ScreenSize(ctx context.Context) (int, int, error) {
	return f.width, f.height, f.sizeErr
}
func (f *fakeController) Tap(ctx context.Context, x, y int) error {
	f.actions = append(f.actions, fmt.Sprintf("tap %d %d", x, y))
	return f.actionErr
}
func (f *fakeController) InputText(ctx context.Context, text string) error {
	f.actions = append(f.actions, "input "+text)
	return f.actionErr
}
func (f *fakeController) PressKey(ctx context.Context, keycode string) error {
	f.actions = append(f.actions, "key "+keycode)
	return f.actionErr
}
func (f *fakeController) Swipe(ctx context.Context, x1, y1, x2, y2, d int) error {
	f.actions = append(f.actions, fmt.Sprintf("swipe %d %d %d %d %d", x1, y1, x2, y2, d))
	return f.actionErr
}
func (f *fakeController) CurrentPackage(ctx context.Context) (string, error) { return f.pkg, nil }

type fakeSource struct {
	entries []traffic.Entry
	err     error
}

func (f *fakeSource) History(ctx context.Context) ([]traffic.Entry, error) {
	return f.entries, f.err
}

type env struct {
	store  *graph.Store
	router chi.Router
	dev    *fakeController
	src    *fakeSource
	cfg    *config.Config
}

func newEnv(t *testing.T) *env {
	t.Helper()

	db := dbopen.OpenMemory(t, dbopen.WithSchema(graph.Schema))
	cfg := config.Default()
	cfg.Screenshot.Dir = t.TempDir()
	cfg.Screenshot.AnnotatedDir = t.TempDir()

	store := graph.New(db, graph.WithScreenshotDirs(cfg.Screenshot.Dir, cfg.Screenshot.AnnotatedDir))
	dev := &fakeController{
		status: device.StatusInfo{Status: device.StatusConnected, Device: "emulator-5554"},
		png:    []byte("png bytes"),
		width:  1000,
		height: 2000,
		pkg:    "com.example.app",
	}
	src := &fakeSource{}
	svc := service.New(store, live.NewHub(), dev, &vision.MockEngine{},
		traffic.NewAssociator(src, store, nil), cfg, nil)

	r := chi.NewRouter()
	svc.RegisterHTTP(r)
	return &env{store: store, router: r, dev: dev, src: src, cfg: cfg}
}

func (e *env) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(data)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
}

func TestADBStatus(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, http.MethodGet, "/api/adb/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var resp struct {
		Connected bool   `json:"connected"`
		Status    string `json:"status"`
		Device    string `json:"device"`
	}
	decode(t, w, &resp)
	if !resp.Connected || resp.Status != "connected" || resp.Device != "emulator-5554" {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestAnalyzeScreen(t *testing.T) {
	e := newEnv(t)
	e.dev.dump = `<hierarchy>
	  <node text="Login" class="android.widget.TextView" enabled="true" bounds="[100,400][300,500]"/>
	</hierarchy>`

	w := e.do(t, http.MethodPost, "/api/analyze-screen", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var resp struct {
		NodeID        string `json:"node_id"`
		ScreenshotURL string `json:"screenshot_url"`
		Elements      []struct {
			UID     int    `json:"uid"`
			Source  string `json:"source"`
			Content string `json:"content"`
		} `json:"elements"`
	}
	decode(t, w, &resp)

	if !strings.HasPrefix(resp.NodeID, "nd_") {
		t.Fatalf("node_id = %q", resp.NodeID)
	}
	if !strings.Contains(resp.ScreenshotURL, "/screenshots/screen_") {
		t.Fatalf("screenshot_url = %q", resp.ScreenshotURL)
	}
	// The default mock detects three elements; the first overlaps the
	// dumped Login node ([0.1,0.2,0.3,0.25] on 1000x2000 = [100,400][300,500]).
	if len(resp.Elements) != 3 {
		t.Fatalf("elements: got %d, want 3", len(resp.Elements))
	}
	if resp.Elements[0].Source != "vision_enriched" || resp.Elements[0].Content != "Login" {
		t.Fatalf("elements[0] = %+v", resp.Elements[0])
	}
	if resp.Elements[1].Source != "vision_only" {
		t.Fatalf("elements[1] = %+v", resp.Elements[1])
	}

	// Screenshot landed on disk.
	files, err := os.ReadDir(e.cfg.Screenshot.Dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 || !strings.HasPrefix(files[0].Name(), "screen_") {
		t.Fatalf("screenshot dir = %v", files)
	}
	data, err := os.ReadFile(filepath.Join(e.cfg.Screenshot.Dir, files[0].Name()))
	if err != nil || string(data) != "png bytes" {
		t.Fatalf("screenshot content: %v %q", err, data)
	}

	// Node and payload persisted, labeled with the foreground package.
	node, err := e.store.GetNode(context.Background(), resp.NodeID)
	if err != nil {
		t.Fatalf("GetNode: %v", err)
	}
	if node.Label != "com.example.app" {
		t.Fatalf("Label = %q", node.Label)
	}
	po, err := e.store.GetParserOutput(context.Background(), resp.NodeID)
	if err != nil || po == nil {
		t.Fatalf("GetParserOutput: %v %v", po, err)
	}
	if len(po.Elements) != 3 {
		t.Fatalf("persisted elements: got %d, want 3", len(po.Elements))
	}
}

func TestAnalyzeScreen_Disconnected(t *testing.T) {
	e := newEnv(t)
	e.dev.status = device.StatusInfo{Status: device.StatusDisconnected, Message: "no devices found"}

	w := e.do(t, http.MethodPost, "/api/analyze-screen", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
}

func TestAnalyzeScreen_DumpFailureDegrades(t *testing.T) {
	e := newEnv(t)
	e.dev.dumpErr = errors.New("uiautomator crashed")

	w := e.do(t, http.MethodPost, "/api/analyze-screen", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (vision-only degradation)", w.Code)
	}

	var resp struct {
		Elements []struct {
			Source string `json:"source"`
		} `json:"elements"`
	}
	decode(t, w, &resp)
	for i, el := range resp.Elements {
		if el.Source != "vision_only" {
			t.Fatalf("elements[%d].Source = %q, want vision_only", i, el.Source)
		}
	}
}

func TestGraphEndpoint(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	a := &graph.Node{Label: "login", ScreenshotPath: "screen_1.png"}
	if err := e.store.CreateNode(ctx, a, nil); err != nil {
		t.Fatal(err)
	}
	b := &graph.Node{Label: "home"}
	if err := e.store.CreateNode(ctx, b, nil); err != nil {
		t.Fatal(err)
	}
	edge := &graph.Edge{SourceNodeID: a.ID, TargetNodeID: b.ID, Label: "tap login"}
	if err := e.store.CreateEdge(ctx, edge); err != nil {
		t.Fatal(err)
	}

	w := e.do(t, http.MethodGet, "/api/graph", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var resp struct {
		Nodes []struct {
			ID   string `json:"id"`
			Type string `json:"type"`
			Data struct {
				Label      string `json:"label"`
				Screenshot string `json:"screenshot"`
			} `json:"data"`
		} `json:"nodes"`
		Edges []struct {
			ID     string `json:"id"`
			Source string `json:"source"`
			Target string `json:"target"`
		} `json:"edges"`
	}
	decode(t, w, &resp)

	if len(resp.Nodes) != 2 || len(resp.Edges) != 1 {
		t.Fatalf("graph: %d nodes %d edges", len(resp.Nodes), len(resp.Edges))
	}
	if resp.Nodes[0].Type != "screenshotNode" {
		t.Fatalf("node type = %q", resp.Nodes[0].Type)
	}
	var login *struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Data struct {
			Label      string `json:"label"`
			Screenshot string `json:"screenshot"`
		} `json:"data"`
	}
	for i := range resp.Nodes {
		if resp.Nodes[i].ID == a.ID {
			login = &resp.Nodes[i]
		}
	}
	if login == nil {
		t.Fatal("login node missing from graph")
	}
	if !strings.HasSuffix(login.Data.Screenshot, "/screenshots/screen_1.png") {
		t.Fatalf("screenshot URL = %q", login.Data.Screenshot)
	}
	if resp.Edges[0].Source != a.ID || resp.Edges[0].Target != b.ID {
		t.Fatalf("edge = %+v", resp.Edges[0])
	}
}

func TestDeleteNode(t *testing.T) {
	e := newEnv(t)
	n := &graph.Node{Label: "x"}
	if err := e.store.CreateNode(context.Background(), n, nil); err != nil {
		t.Fatal(err)
	}

	w := e.do(t, http.MethodDelete, "/api/nodes/"+n.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	w = e.do(t, http.MethodDelete, "/api/nodes/"+n.ID, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("second delete: status = %d, want 404", w.Code)
	}
}

func TestCreateEdge_WithClosedWindow(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	a := &graph.Node{Label: "a"}
	b := &graph.Node{Label: "b"}
	for _, n := range []*graph.Node{a, b} {
		if err := e.store.CreateNode(ctx, n, nil); err != nil {
			t.Fatal(err)
		}
	}

	now := float64(time.Now().UnixNano()) / 1e9
	e.src.entries = []traffic.Entry{
		{RefID: "1", Method: "POST", URL: "https://api/login", StatusCode: 200, Timestamp: now - 5},
		{RefID: "2", Method: "GET", URL: "https://api/other", StatusCode: 200, Timestamp: now - 500},
	}

	w := e.do(t, http.MethodPost, "/api/edges", map[string]any{
		"source": a.ID,
		"target": b.ID,
		"label":  "tap login",
		"window": map[string]float64{"start": now - 10, "end": now - 1},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var edge graph.Edge
	decode(t, w, &edge)
	if !strings.HasPrefix(edge.ID, "ed_") {
		t.Fatalf("edge id = %q", edge.ID)
	}

	// The window was already closed, so traffic is associated inline.
	entries, err := e.store.TrafficByEdge(ctx, edge.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].ProxyRefID != "1" {
		t.Fatalf("traffic = %+v", entries)
	}
}

func TestCreateEdge_MissingEndpoint(t *testing.T) {
	e := newEnv(t)
	a := &graph.Node{Label: "a"}
	if err := e.store.CreateNode(context.Background(), a, nil); err != nil {
		t.Fatal(err)
	}

	w := e.do(t, http.MethodPost, "/api/edges", map[string]any{
		"source": a.ID,
		"target": "nd_missing",
	})
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestCreateEdge_BadBody(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, http.MethodPost, "/api/edges", map[string]any{"source": ""})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestDeviceActions(t *testing.T) {
	e := newEnv(t)

	cases := []struct {
		path string
		body any
		want string
	}{
		{"/api/device/tap", map[string]int{"x": 540, "y": 1200}, "tap 540 1200"},
		{"/api/device/input", map[string]string{"text": "hello world"}, "input hello world"},
		{"/api/device/key", map[string]string{"keycode": "KEYCODE_BACK"}, "key KEYCODE_BACK"},
		{"/api/device/swipe", map[string]int{"x1": 540, "y1": 1800, "x2": 540, "y2": 600}, "swipe 540 1800 540 600 300"},
	}
	for _, tc := range cases {
		w := e.do(t, http.MethodPost, tc.path, tc.body)
		if w.Code != http.StatusOK {
			t.Fatalf("%s: status = %d, body %s", tc.path, w.Code, w.Body.String())
		}
	}
	for i, tc := range cases {
		if e.dev.actions[i] != tc.want {
			t.Errorf("actions[%d] = %q, want %q", i, e.dev.actions[i], tc.want)
		}
	}
}

func TestDeviceActions_Validation(t *testing.T) {
	e := newEnv(t)

	if w := e.do(t, http.MethodPost, "/api/device/input", map[string]string{"text": ""}); w.Code != http.StatusBadRequest {
		t.Fatalf("empty text: status = %d, want 400", w.Code)
	}
	if w := e.do(t, http.MethodPost, "/api/device/key", map[string]string{}); w.Code != http.StatusBadRequest {
		t.Fatalf("missing keycode: status = %d, want 400", w.Code)
	}

	e.dev.actionErr = errors.New("device gone")
	if w := e.do(t, http.MethodPost, "/api/device/tap", map[string]int{"x": 1, "y": 1}); w.Code != http.StatusBadGateway {
		t.Fatalf("failing tap: status = %d, want 502", w.Code)
	}
}

func TestAssociateTraffic_InvalidWindow(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, http.MethodPost, "/api/edges/ed_x/traffic", map[string]float64{
		"start": 200, "end": 100,
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}
