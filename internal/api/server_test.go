package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/OhmegaStar/nbe-blackstar-homeassistant/internal/bridges/nbe"
	"github.com/OhmegaStar/nbe-blackstar-homeassistant/internal/infrastructure/config"
	"github.com/OhmegaStar/nbe-blackstar-homeassistant/internal/infrastructure/logging"
	"github.com/OhmegaStar/nbe-blackstar-homeassistant/internal/infrastructure/mqtt"
	"github.com/OhmegaStar/nbe-blackstar-homeassistant/internal/resource"
	"github.com/OhmegaStar/nbe-blackstar-homeassistant/internal/schema"
	"github.com/OhmegaStar/nbe-blackstar-homeassistant/internal/state"
)

// =============================================================================
// Fakes
// =============================================================================

const testSchema = `op.temp,get,sensor,Temperature,mdi:thermometer,measurement,temperature,°C
op.setpoint,set,climate,Setpoint,mdi:fire,op.temp,85,°C
misc.start,set,switch,Burner,mdi:power,,,
`

type fakeBridge struct {
	registry *resource.Registry

	mu        sync.Mutex
	values    map[string]nbe.Value
	listeners []func(string, nbe.Value)
}

func (b *fakeBridge) Registry() *resource.Registry { return b.registry }

func (b *fakeBridge) Value(key string) (nbe.Value, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.values[key]
	return v, ok
}

func (b *fakeBridge) OnValueChange(fn func(string, nbe.Value)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, fn)
}

func (b *fakeBridge) GetMetrics() nbe.BridgeMetrics {
	return nbe.BridgeMetrics{
		Connected:        true,
		ControllerOK:     true,
		Status:           nbe.HealthHealthy,
		ResourcesManaged: b.registry.Len(),
		Statistics:       nbe.BridgeStatistics{RefreshCycles: 7},
	}
}

type fakeHistory struct {
	entries []state.Entry
	err     error
	limit   int
}

func (h *fakeHistory) History(_ context.Context, _ string, limit int) ([]state.Entry, error) {
	h.limit = limit
	return h.entries, h.err
}

func testServer(t *testing.T, history HistoryReader) (*Server, *fakeBridge) {
	t.Helper()

	entries, err := schema.Parse(strings.NewReader(testSchema))
	if err != nil {
		t.Fatalf("schema.Parse() error = %v", err)
	}
	reg, err := resource.NewRegistry(entries, resource.Device{ID: "dev123", Name: "Boiler"}, mqtt.NewTopics("dev123", ""), nil)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	bridge := &fakeBridge{
		registry: reg,
		values: map[string]nbe.Value{
			"op.temp": {Value: "55", Source: nbe.SourceRefresh, UpdatedAt: time.Now().UTC()},
		},
	}

	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
	srv, err := New(Deps{
		Logger:  log,
		Bridge:  bridge,
		History: history,
		Version: "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return srv, bridge
}

func doGet(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
}

// =============================================================================
// Server
// =============================================================================

func TestNew_Validation(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Error("New() without logger error = nil")
	}
	log := logging.New(config.LoggingConfig{Level: "error"}, "test")
	if _, err := New(Deps{Logger: log}); err == nil {
		t.Error("New() without bridge error = nil")
	}
}

func TestHealth(t *testing.T) {
	srv, _ := testServer(t, nil)

	w := doGet(t, srv, "/api/v1/health")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var body map[string]any
	decode(t, w, &body)
	if body["status"] != "healthy" || body["version"] != "test" || body["mqtt"] != true {
		t.Errorf("body = %v", body)
	}
}

// fakeChecker reports a fixed health result.
type fakeChecker struct {
	err error
}

func (f fakeChecker) HealthCheck(ctx context.Context) error {
	if f.err != nil {
		return f.err
	}
	return ctx.Err()
}

func TestHealthBackendChecks(t *testing.T) {
	tests := []struct {
		name       string
		checks     map[string]HealthChecker
		wantStatus string
		wantChecks map[string]any
	}{
		{
			name:       "all ok",
			checks:     map[string]HealthChecker{"mqtt": fakeChecker{}, "database": fakeChecker{}},
			wantStatus: "healthy",
			wantChecks: map[string]any{"mqtt": "ok", "database": "ok"},
		},
		{
			name: "one failing",
			checks: map[string]HealthChecker{
				"mqtt":     fakeChecker{},
				"influxdb": fakeChecker{err: errors.New("influxdb unreachable")},
			},
			wantStatus: "degraded",
			wantChecks: map[string]any{"mqtt": "ok", "influxdb": "influxdb unreachable"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := testServer(t, nil)
			srv.checks = tt.checks

			w := doGet(t, srv, "/api/v1/health")
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", w.Code)
			}

			var body map[string]any
			decode(t, w, &body)
			if body["status"] != tt.wantStatus {
				t.Errorf("status = %v, want %s", body["status"], tt.wantStatus)
			}
			checks, ok := body["checks"].(map[string]any)
			if !ok {
				t.Fatalf("checks = %v, want object", body["checks"])
			}
			if len(checks) != len(tt.wantChecks) {
				t.Errorf("checks = %v, want %v", checks, tt.wantChecks)
			}
			for name, want := range tt.wantChecks {
				if checks[name] != want {
					t.Errorf("checks[%s] = %v, want %v", name, checks[name], want)
				}
			}
		})
	}
}

func TestHealthWithoutChecksOmitsField(t *testing.T) {
	srv, _ := testServer(t, nil)

	var body map[string]any
	decode(t, doGet(t, srv, "/api/v1/health"), &body)
	if _, ok := body["checks"]; ok {
		t.Errorf("checks present without configured checkers: %v", body)
	}
}

func TestRequestID(t *testing.T) {
	srv, _ := testServer(t, nil)

	w := doGet(t, srv, "/api/v1/health")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID not generated")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-id")
	w = httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got != "client-id" {
		t.Errorf("X-Request-ID = %q, want client-id", got)
	}
}

func TestNotFound(t *testing.T) {
	srv, _ := testServer(t, nil)
	if w := doGet(t, srv, "/api/v1/nonexistent"); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

// =============================================================================
// Resources
// =============================================================================

func TestListResources(t *testing.T) {
	srv, _ := testServer(t, nil)

	w := doGet(t, srv, "/api/v1/resources")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var body struct {
		DeviceID  string         `json:"device_id"`
		Resources []resourceView `json:"resources"`
		Count     int            `json:"count"`
	}
	decode(t, w, &body)

	if body.DeviceID != "dev123" || body.Count != 3 || len(body.Resources) != 3 {
		t.Fatalf("body = %+v", body)
	}

	temp := body.Resources[0]
	if temp.ResourceKey != "op.temp" || temp.Kind != "sensor" || temp.StateTopic != "dev123/temperature/state" {
		t.Errorf("resources[0] = %+v", temp)
	}
	if temp.Value == nil || *temp.Value != "55" || temp.Source != nbe.SourceRefresh {
		t.Errorf("resources[0] value = %v source = %q", temp.Value, temp.Source)
	}
	if temp.CommandTopic != "" {
		t.Errorf("sensor command topic = %q, want empty", temp.CommandTopic)
	}

	sw := body.Resources[2]
	if sw.CommandTopic != "dev123/burner/set" || sw.Value != nil {
		t.Errorf("resources[2] = %+v", sw)
	}
}

func TestGetResource(t *testing.T) {
	srv, _ := testServer(t, nil)

	w := doGet(t, srv, "/api/v1/resources/op.setpoint")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var v resourceView
	decode(t, w, &v)
	if v.Name != "Setpoint" || v.Kind != "climate" || v.Method != "set" {
		t.Errorf("resource = %+v", v)
	}

	if w := doGet(t, srv, "/api/v1/resources/nope"); w.Code != http.StatusNotFound {
		t.Errorf("unknown key status = %d, want 404", w.Code)
	}
}

func TestGetResourceHistory(t *testing.T) {
	history := &fakeHistory{entries: []state.Entry{
		{ID: 2, ResourceKey: "op.setpoint", Value: "72", Source: state.SourceCommand, CommandID: "c1"},
		{ID: 1, ResourceKey: "op.setpoint", Value: "68", Source: state.SourceRefresh},
	}}
	srv, _ := testServer(t, history)

	w := doGet(t, srv, "/api/v1/resources/op.setpoint/history?limit=500")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if history.limit != maxHistoryLimit {
		t.Errorf("limit passed = %d, want %d", history.limit, maxHistoryLimit)
	}

	var body struct {
		Count   int           `json:"count"`
		History []state.Entry `json:"history"`
	}
	decode(t, w, &body)
	if body.Count != 2 || body.History[0].Value != "72" {
		t.Errorf("body = %+v", body)
	}
}

func TestGetResourceHistory_Errors(t *testing.T) {
	tests := []struct {
		name    string
		history HistoryReader
		path    string
		want    int
	}{
		{"no database", nil, "/api/v1/resources/op.temp/history", http.StatusServiceUnavailable},
		{"bad limit", &fakeHistory{}, "/api/v1/resources/op.temp/history?limit=abc", http.StatusBadRequest},
		{"zero limit", &fakeHistory{}, "/api/v1/resources/op.temp/history?limit=0", http.StatusBadRequest},
		{"unknown key", &fakeHistory{}, "/api/v1/resources/nope/history", http.StatusNotFound},
		{"query failure", &fakeHistory{err: errors.New("disk full")}, "/api/v1/resources/op.temp/history", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := testServer(t, tt.history)
			if w := doGet(t, srv, tt.path); w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestParseHistoryLimit(t *testing.T) {
	tests := []struct {
		raw     string
		want    int
		wantErr bool
	}{
		{"", 0, false},
		{"10", 10, false},
		{"999", maxHistoryLimit, false},
		{"-1", 0, true},
		{"x", 0, true},
	}
	for _, tt := range tests {
		got, err := parseHistoryLimit(tt.raw)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("parseHistoryLimit(%q) = %d, %v", tt.raw, got, err)
		}
	}
}

// =============================================================================
// Metrics
// =============================================================================

func TestMetrics(t *testing.T) {
	srv, _ := testServer(t, nil)

	w := doGet(t, srv, "/api/v1/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var m SystemMetrics
	decode(t, w, &m)
	if m.Version != "test" || m.Runtime.Goroutines == 0 {
		t.Errorf("metrics = %+v", m)
	}
	if m.Bridge.ResourcesManaged != 3 || m.Bridge.Statistics.RefreshCycles != 7 {
		t.Errorf("bridge metrics = %+v", m.Bridge)
	}
	if m.Database != nil {
		t.Errorf("database metrics = %+v, want omitted", m.Database)
	}
}

// =============================================================================
// WebSocket
// =============================================================================

func TestWebSocket_ValueChanged(t *testing.T) {
	srv, bridge := testServer(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.hub.Run(ctx)
	bridge.OnValueChange(srv.broadcastValue)

	ts := httptest.NewServer(srv.buildRouter())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second)) //nolint:errcheck // test deadline

	sub := WSMessage{Type: WSTypeSubscribe, ID: "1", Payload: WSSubscribePayload{Channels: []string{ChannelValueChanged}}}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}

	var resp WSMessage
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if resp.Type != WSTypeResponse || resp.ID != "1" {
		t.Fatalf("subscribe response = %+v", resp)
	}

	bridge.mu.Lock()
	listeners := bridge.listeners
	bridge.mu.Unlock()
	for _, fn := range listeners {
		fn("op.setpoint", nbe.Value{Value: "72", Source: nbe.SourceCommand})
	}

	var event struct {
		Type      string     `json:"type"`
		EventType string     `json:"event_type"`
		Payload   valueEvent `json:"payload"`
	}
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("ReadJSON() event error = %v", err)
	}
	if event.Type != WSTypeEvent || event.EventType != ChannelValueChanged {
		t.Errorf("event = %+v", event)
	}
	if event.Payload.ResourceKey != "op.setpoint" || event.Payload.Value != "72" {
		t.Errorf("payload = %+v", event.Payload)
	}
}

func TestWebSocket_UnknownMessageType(t *testing.T) {
	srv, _ := testServer(t, nil)
	ts := httptest.NewServer(srv.buildRouter())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second)) //nolint:errcheck // test deadline

	if err := conn.WriteJSON(WSMessage{Type: "bogus", ID: "9"}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	var resp WSMessage
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if resp.Type != WSTypeError || resp.ID != "9" {
		t.Errorf("response = %+v", resp)
	}
}

func TestStartAndClose(t *testing.T) {
	srv, _ := testServer(t, nil)
	srv.cfg = config.APIConfig{Host: "127.0.0.1", Port: 0, Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5}}

	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	resp, err := http.Get("http://" + srv.Addr() + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	if err := srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
