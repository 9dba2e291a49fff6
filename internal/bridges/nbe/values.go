package nbe

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// Publisher is the subset of the MQTT client used to publish state.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// HistoryRecorder persists observed values. Optional.
type HistoryRecorder interface {
	RecordValue(ctx context.Context, resourceKey, value, source, commandID string) error
}

// TelemetryWriter receives numeric values and bridge counters. Optional.
type TelemetryWriter interface {
	WriteResourceValue(deviceID, resourceKey, kind string, value float64)
	WriteBridgeCounters(deviceID string, counters map[string]uint64)
}

// stateQoS is used for every retained entity state publish.
const stateQoS byte = 1

// ValueCache holds the last value seen per resource key, for change
// detection and the status API. It is shared by the refresher and the
// dispatcher.
type ValueCache struct {
	mu        sync.RWMutex
	values    map[string]Value
	listeners []func(key string, v Value)
}

// NewValueCache returns an empty cache.
func NewValueCache() *ValueCache {
	return &ValueCache{values: make(map[string]Value)}
}

// Update stores value and reports whether it differs from the cached one.
// Listeners run after the cache lock is released, only on change.
func (c *ValueCache) Update(key, value, source string) bool {
	v := Value{Value: value, Source: source, UpdatedAt: time.Now().UTC()}

	c.mu.Lock()
	prev, ok := c.values[key]
	c.values[key] = v
	listeners := c.listeners
	c.mu.Unlock()

	changed := !ok || prev.Value != value
	if changed {
		for _, fn := range listeners {
			fn(key, v)
		}
	}
	return changed
}

// OnChange registers fn to be called whenever a key takes a new value.
func (c *ValueCache) OnChange(fn func(key string, v Value)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Get returns the cached value of key.
func (c *ValueCache) Get(key string) (Value, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[key]
	return v, ok
}

// Snapshot returns a copy of all cached values.
func (c *ValueCache) Snapshot() map[string]Value {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Value, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// sink fans a changed value out to the optional history and telemetry
// backends. Failures there never affect the bus.
type sink struct {
	deviceID  string
	history   HistoryRecorder
	telemetry TelemetryWriter
	logger    func() Logger
}

func (s sink) record(ctx context.Context, key, kind, value, source, commandID string) {
	if s.history != nil {
		if err := s.history.RecordValue(ctx, key, value, source, commandID); err != nil {
			if logger := s.logger(); logger != nil {
				logger.Warn("failed to record value history", "resource_key", key, "error", err)
			}
		}
	}
	if s.telemetry != nil {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			s.telemetry.WriteResourceValue(s.deviceID, key, kind, f)
		}
	}
}
