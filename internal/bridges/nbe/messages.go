package nbe

import (
	"time"

	"github.com/google/uuid"
)

// CommandEvent is one inbound bus message queued for the dispatcher.
type CommandEvent struct {
	// ID correlates log lines and history rows of one command.
	ID string

	Topic    string
	Payload  []byte
	Received time.Time
}

// NewCommandEvent stamps an inbound message with an id and receive time.
// The payload is copied; the transport may reuse its buffer.
func NewCommandEvent(topic string, payload []byte) CommandEvent {
	p := make([]byte, len(payload))
	copy(p, payload)
	return CommandEvent{
		ID:       uuid.NewString(),
		Topic:    topic,
		Payload:  p,
		Received: time.Now().UTC(),
	}
}

// Source values recorded with each observed value.
const (
	SourceRefresh = "refresh"
	SourceCommand = "command"
)

// Value is the last value observed for a resource key.
type Value struct {
	Value     string    `json:"value"`
	Source    string    `json:"source"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	// HealthHealthy indicates the bridge is operating normally.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates the broker or controller is unreachable.
	HealthDegraded HealthStatus = "degraded"

	// HealthStarting indicates the bridge is starting up.
	HealthStarting HealthStatus = "starting"

	// HealthStopping indicates the bridge is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is the retained payload of the bridge health topic.
type HealthMessage struct {
	DeviceID         string            `json:"device_id"`
	Timestamp        time.Time         `json:"timestamp"`
	Status           HealthStatus      `json:"status"`
	Version          string            `json:"version"`
	UptimeSeconds    int64             `json:"uptime_seconds"`
	Controller       *ControllerStatus `json:"controller,omitempty"`
	Statistics       *BridgeStatistics `json:"statistics,omitempty"`
	ResourcesManaged int               `json:"resources_managed"`
	Reason           string            `json:"reason,omitempty"`
}

// ControllerStatus describes the last exchange with the controller.
type ControllerStatus struct {
	Address      string     `json:"address,omitempty"`
	LastActivity *time.Time `json:"last_activity,omitempty"`
}

// BridgeStatistics contains operational counters.
type BridgeStatistics struct {
	RefreshCycles    uint64 `json:"refresh_cycles"`
	RefreshFailures  uint64 `json:"refresh_failures"`
	ValuesPublished  uint64 `json:"values_published"`
	CommandsApplied  uint64 `json:"commands_applied"`
	CommandsFailed   uint64 `json:"commands_failed"`
	CommandsDropped  uint64 `json:"commands_dropped"`
	GuardBusy        uint64 `json:"guard_busy"`
	DeviceRequests   uint64 `json:"device_requests"`
	DeviceResponses  uint64 `json:"device_responses"`
	DeviceErrors     uint64 `json:"device_errors"`
	DeviceTimeouts   uint64 `json:"device_timeouts"`
	DeviceOperations uint64 `json:"device_operations"`
}

// Counters flattens the statistics for telemetry.
func (s BridgeStatistics) Counters() map[string]uint64 {
	return map[string]uint64{
		"refresh_cycles":    s.RefreshCycles,
		"refresh_failures":  s.RefreshFailures,
		"values_published":  s.ValuesPublished,
		"commands_applied":  s.CommandsApplied,
		"commands_failed":   s.CommandsFailed,
		"commands_dropped":  s.CommandsDropped,
		"guard_busy":        s.GuardBusy,
		"device_requests":   s.DeviceRequests,
		"device_responses":  s.DeviceResponses,
		"device_errors":     s.DeviceErrors,
		"device_timeouts":   s.DeviceTimeouts,
		"device_operations": s.DeviceOperations,
	}
}
