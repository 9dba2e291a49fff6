package nbe

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/OhmegaStar/nbe-blackstar-homeassistant/internal/infrastructure/config"
	"github.com/OhmegaStar/nbe-blackstar-homeassistant/internal/infrastructure/mqtt"
	"github.com/OhmegaStar/nbe-blackstar-homeassistant/internal/resource"
	"github.com/OhmegaStar/nbe-blackstar-homeassistant/internal/schema"
)

// =============================================================================
// MQTT
// =============================================================================

// MockMQTTClient implements MQTTClient for testing.
type MockMQTTClient struct {
	mu            sync.Mutex
	published     []mockPublish
	subscriptions []mockSubscription
	connected     bool
	disconnects   int
	handlers      map[string]mqtt.MessageHandler
	publishErr    error
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

type mockSubscription struct {
	Topic string
	QoS   byte
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{
		connected: true,
		handlers:  make(map[string]mqtt.MessageHandler),
	}
}

func (m *MockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return m.publishErr
	}
	m.published = append(m.published, mockPublish{
		Topic:    topic,
		Payload:  payload,
		QoS:      qos,
		Retained: retained,
	})
	return nil
}

func (m *MockMQTTClient) Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = append(m.subscriptions, mockSubscription{Topic: topic, QoS: qos})
	m.handlers[topic] = handler
	return nil
}

func (m *MockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockMQTTClient) Disconnect(uint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	m.disconnects++
}

func (m *MockMQTTClient) GetPublished() []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]mockPublish, len(m.published))
	copy(out, m.published)
	return out
}

func (m *MockMQTTClient) GetSubscriptions() []mockSubscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subscriptions
}

func (m *MockMQTTClient) ClearPublished() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = nil
}

// PublishedTo returns payloads published to topic, in order.
func (m *MockMQTTClient) PublishedTo(topic string) []string {
	var out []string
	for _, p := range m.GetPublished() {
		if p.Topic == topic {
			out = append(out, string(p.Payload))
		}
	}
	return out
}

// SimulateMessage delivers a message to the handler subscribed on pattern.
func (m *MockMQTTClient) SimulateMessage(pattern, topic string, payload []byte) error {
	m.mu.Lock()
	handler, ok := m.handlers[pattern]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("no handler for %s", pattern)
	}
	return handler(topic, payload)
}

// =============================================================================
// Device protocol
// =============================================================================

// MockProtocol implements Protocol for testing. When block is set, Query
// and Write signal entered and wait for block to be closed.
type MockProtocol struct {
	mu sync.Mutex

	lines     []string
	queryErr  error
	confirmed bool
	writeErr  error
	openErr   error
	panicMsg  string

	entered chan struct{}
	block   chan struct{}

	opens   int
	closes  int
	queries [][]string
	writes  []mockWrite
}

type mockWrite struct {
	Key   string
	Value string
}

func NewMockProtocol(lines ...string) *MockProtocol {
	return &MockProtocol{lines: lines, confirmed: true}
}

func (m *MockProtocol) Open(context.Context) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.openErr != nil {
		return nil, m.openErr
	}
	m.opens++
	return &mockSession{p: m}, nil
}

func (m *MockProtocol) setLines(lines ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lines = lines
}

func (m *MockProtocol) setConfirmed(ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.confirmed = ok
}

func (m *MockProtocol) getWrites() []mockWrite {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]mockWrite, len(m.writes))
	copy(out, m.writes)
	return out
}

func (m *MockProtocol) counts() (opens, closes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens, m.closes
}

// wait blocks the calling operation if the mock is gated.
func (m *MockProtocol) wait() {
	m.mu.Lock()
	entered, block := m.entered, m.block
	m.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if block != nil {
		<-block
	}
}

type mockSession struct {
	p *MockProtocol
}

func (s *mockSession) Query(_ context.Context, groups []string) ([]string, error) {
	s.p.wait()

	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	if s.p.panicMsg != "" {
		panic(s.p.panicMsg)
	}
	s.p.queries = append(s.p.queries, groups)
	if s.p.queryErr != nil {
		return nil, s.p.queryErr
	}
	out := make([]string, len(s.p.lines))
	copy(out, s.p.lines)
	return out, nil
}

func (s *mockSession) Write(_ context.Context, key, value string) (bool, error) {
	s.p.wait()

	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	if s.p.panicMsg != "" {
		panic(s.p.panicMsg)
	}
	s.p.writes = append(s.p.writes, mockWrite{Key: key, Value: value})
	if s.p.writeErr != nil {
		return false, s.p.writeErr
	}
	return s.p.confirmed, nil
}

func (s *mockSession) Close() error {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	s.p.closes++
	return nil
}

// =============================================================================
// Logger and sinks
// =============================================================================

type mockLogger struct {
	mu      sync.Mutex
	entries []string
}

func (l *mockLogger) log(level, msg string, kv ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, level+" "+msg+" "+fmt.Sprint(kv...))
}

func (l *mockLogger) Debug(msg string, kv ...any) { l.log("DEBUG", msg, kv...) }
func (l *mockLogger) Info(msg string, kv ...any)  { l.log("INFO", msg, kv...) }
func (l *mockLogger) Warn(msg string, kv ...any)  { l.log("WARN", msg, kv...) }
func (l *mockLogger) Error(msg string, kv ...any) { l.log("ERROR", msg, kv...) }

func (l *mockLogger) contains(substr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if strings.Contains(e, substr) {
			return true
		}
	}
	return false
}

type mockHistory struct {
	mu      sync.Mutex
	records []historyRecord
}

type historyRecord struct {
	Key, Value, Source, CommandID string
}

func (h *mockHistory) RecordValue(_ context.Context, key, value, source, commandID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, historyRecord{key, value, source, commandID})
	return nil
}

func (h *mockHistory) get() []historyRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]historyRecord, len(h.records))
	copy(out, h.records)
	return out
}

type mockTelemetry struct {
	mu       sync.Mutex
	values   map[string]float64
	counters int
}

func (m *mockTelemetry) WriteResourceValue(_, key, _ string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.values == nil {
		m.values = make(map[string]float64)
	}
	m.values[key] = value
}

func (m *mockTelemetry) WriteBridgeCounters(string, map[string]uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters++
}

// =============================================================================
// Fixtures
// =============================================================================

// testSchema is a sensor and a climate sharing a device, plus a switch.
const testSchema = `# resource,method,kind,name,icon,state/current,device/max,unit
op.temp,get,sensor,Temperature,mdi:thermometer,measurement,temperature,°C
op.setpoint,set,climate,Setpoint,mdi:fire,op.temp,85,°C
misc.start,set,switch,Burner,mdi:power,,,
`

func testRegistry(t *testing.T) *resource.Registry {
	t.Helper()
	entries, err := schema.Parse(strings.NewReader(testSchema))
	if err != nil {
		t.Fatalf("schema.Parse() error = %v", err)
	}
	dev := resource.Device{ID: "dev123", Name: "Boiler"}
	reg, err := resource.NewRegistry(entries, dev, mqtt.NewTopics("dev123", "homeassistant"), nil)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	return reg
}

func testConfig() *config.Config {
	return &config.Config{
		Device: config.DeviceConfig{
			Serial:      "12345",
			QueryGroups: []string{"operating_data", "settings/boiler"},
		},
		Bridge: config.BridgeConfig{
			RefreshInterval:  60,
			HealthInterval:   60,
			CommandQueueSize: 4,
			DiscoveryPrefix:  "homeassistant",
		},
	}
}
