package nbe

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// defaultHealthInterval applies when HealthReporterConfig.Interval is zero.
const defaultHealthInterval = 30 * time.Second

// HealthReporter periodically publishes the bridge health message.
type HealthReporter struct {
	deviceID  string
	version   string
	topic     string
	startTime time.Time
	interval  time.Duration
	publisher Publisher
	telemetry TelemetryWriter

	// source snapshots the counters and controller state at publish time.
	source func() (BridgeStatistics, *ControllerStatus, int)

	// controllerOK reports whether the last device operation succeeded.
	controllerOK func() bool

	logger   Logger
	loggerMu sync.RWMutex
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	DeviceID string
	Version  string
	Topic    string

	// Interval is how often to publish health status.
	// Default: 30 seconds.
	Interval time.Duration

	Publisher Publisher

	// Telemetry, if set, receives the bridge counters on every report.
	Telemetry TelemetryWriter
}

// NewHealthReporter creates a health reporter. The bridge wires the
// statistics source before Run is called.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultHealthInterval
	}
	return &HealthReporter{
		deviceID:  cfg.DeviceID,
		version:   cfg.Version,
		topic:     cfg.Topic,
		startTime: time.Now(),
		interval:  interval,
		publisher: cfg.Publisher,
		telemetry: cfg.Telemetry,
	}
}

// Run publishes health immediately and then on every tick until ctx is
// cancelled.
func (h *HealthReporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		if err := h.PublishNow(); err != nil {
			h.logError("failed to publish health", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// PublishStarting publishes a "starting" status.
func (h *HealthReporter) PublishStarting() error {
	return h.publishStatus(HealthStarting, "bridge starting")
}

// PublishStopping publishes a "stopping" status.
func (h *HealthReporter) PublishStopping() error {
	return h.publishStatus(HealthStopping, "bridge stopping")
}

// PublishNow publishes the current health status immediately.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.determineStatus()
	return h.publishStatus(status, reason)
}

func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if h.publisher == nil || !h.publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}
	if h.controllerOK != nil && !h.controllerOK() {
		return HealthDegraded, "controller unreachable"
	}
	return HealthHealthy, ""
}

// Message builds the health message for status.
func (h *HealthReporter) Message(status HealthStatus, reason string) HealthMessage {
	msg := HealthMessage{
		DeviceID:      h.deviceID,
		Timestamp:     time.Now().UTC(),
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Reason:        reason,
	}
	if h.source != nil {
		stats, controller, resources := h.source()
		msg.Statistics = &stats
		msg.Controller = controller
		msg.ResourcesManaged = resources
	}
	return msg
}

func (h *HealthReporter) publishStatus(status HealthStatus, reason string) error {
	if h.publisher == nil {
		return nil
	}

	msg := h.Message(status, reason)
	if h.telemetry != nil && msg.Statistics != nil {
		h.telemetry.WriteBridgeCounters(h.deviceID, msg.Statistics.Counters())
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	// QoS 1, retained
	return h.publisher.Publish(h.topic, payload, 1, true)
}

// SetLogger sets the logger for this reporter.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

func (h *HealthReporter) logError(msg string, err error) {
	h.loggerMu.RLock()
	logger := h.logger
	h.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
