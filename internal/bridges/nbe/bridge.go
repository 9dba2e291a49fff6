package nbe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/OhmegaStar/nbe-blackstar-homeassistant/internal/infrastructure/config"
	"github.com/OhmegaStar/nbe-blackstar-homeassistant/internal/infrastructure/mqtt"
	"github.com/OhmegaStar/nbe-blackstar-homeassistant/internal/resource"
)

// Bridge operation constants.
const (
	// announceQoS is used for discovery and availability publishes.
	announceQoS byte = 1

	// disconnectQuiesce is how long (ms) the MQTT client may flush on stop.
	disconnectQuiesce uint = 250
)

// MQTTClient is the interface for MQTT operations.
// This allows mocking in tests; *mqtt.Client satisfies it.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
	Disconnect(quiesce uint)
}

// Options holds everything needed to create a bridge.
type Options struct {
	Config     *config.Config
	Registry   *resource.Registry
	MQTTClient MQTTClient
	Protocol   Protocol

	// History is optional value persistence.
	History HistoryRecorder

	// Telemetry is optional time-series output.
	Telemetry TelemetryWriter

	Logger  Logger
	Version string
}

// Bridge keeps the Home Assistant view of one controller in sync.
//
// Start announces entities and subscribes to command topics. Run drives
// the refresh cycle, the command dispatcher and health reporting until
// the context is cancelled. Stop publishes offline availability and
// disconnects.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	cfg      *config.Config
	registry *resource.Registry
	topics   mqtt.Topics
	mqtt     MQTTClient
	protocol Protocol

	guard      *Guard
	cache      *ValueCache
	refresher  *Refresher
	dispatcher *Dispatcher
	health     *HealthReporter

	started  atomic.Bool
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// NewBridge creates a new bridge instance.
// Call Start() to begin operation.
func NewBridge(opts Options) (*Bridge, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Protocol == nil {
		return nil, fmt.Errorf("device protocol is required")
	}

	topics := opts.Registry.Topics()
	guard := NewGuard(opts.Protocol)
	cache := NewValueCache()

	b := &Bridge{
		cfg:      opts.Config,
		registry: opts.Registry,
		topics:   topics,
		mqtt:     opts.MQTTClient,
		protocol: opts.Protocol,
		guard:    guard,
		cache:    cache,
	}

	b.refresher = NewRefresher(RefresherConfig{
		Registry:  opts.Registry,
		Guard:     guard,
		Publisher: opts.MQTTClient,
		Groups:    opts.Config.Device.QueryGroups,
		Interval:  opts.Config.GetRefreshInterval(),
		Cache:     cache,
		History:   opts.History,
		Telemetry: opts.Telemetry,
	})

	b.dispatcher = NewDispatcher(DispatcherConfig{
		Registry:  opts.Registry,
		Guard:     guard,
		Publisher: opts.MQTTClient,
		QueueSize: opts.Config.Bridge.CommandQueueSize,
		Cache:     cache,
		History:   opts.History,
		Telemetry: opts.Telemetry,
	})

	b.health = NewHealthReporter(HealthReporterConfig{
		DeviceID:  opts.Registry.Device().ID,
		Version:   opts.Version,
		Topic:     topics.Health(),
		Interval:  opts.Config.GetHealthInterval(),
		Publisher: opts.MQTTClient,
		Telemetry: opts.Telemetry,
	})
	b.health.source = b.snapshot
	b.health.controllerOK = guard.Healthy

	if opts.Logger != nil {
		b.SetLogger(opts.Logger)
	}

	return b, nil
}

// Start subscribes to command topics and announces every entity.
func (b *Bridge) Start(_ context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	commandTopic := b.topics.AllEntityCommands()
	if err := b.mqtt.Subscribe(commandTopic, 1, b.dispatcher.HandleMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", commandTopic)

	if err := b.Announce(); err != nil {
		return err
	}
	b.started.Store(true)

	b.logInfo("bridge started",
		"device_id", b.registry.Device().ID,
		"resources", b.registry.Len())

	return nil
}

// Announce publishes discovery for every entity in registration order,
// then marks the device online and publishes the static climate mode.
// It is repeated after every broker reconnect.
func (b *Bridge) Announce() error {
	var errs []error
	for _, res := range b.registry.All() {
		topic, cfg := res.Discovery()
		payload, err := json.Marshal(cfg)
		if err != nil {
			errs = append(errs, fmt.Errorf("marshal discovery for %s: %w", res.ResourceKey(), err))
			continue
		}
		if err := b.mqtt.Publish(topic, payload, announceQoS, true); err != nil {
			errs = append(errs, fmt.Errorf("publish discovery for %s: %w", res.ResourceKey(), err))
			continue
		}
		b.logDebug("published discovery", "topic", topic)
	}

	if err := b.mqtt.Publish(b.topics.Availability(), []byte(mqtt.PayloadOnline), announceQoS, true); err != nil {
		errs = append(errs, fmt.Errorf("publish availability: %w", err))
	}
	if err := b.mqtt.Publish(b.topics.StaticAutoState(), []byte(mqtt.PayloadAuto), announceQoS, true); err != nil {
		errs = append(errs, fmt.Errorf("publish static mode: %w", err))
	}

	return errors.Join(errs...)
}

// HandleReconnect re-announces after the broker connection is restored.
// It is a no-op before Start.
func (b *Bridge) HandleReconnect() {
	if !b.started.Load() {
		return
	}
	if err := b.Announce(); err != nil {
		b.logError("re-announce after reconnect failed", err)
		return
	}
	b.logInfo("re-announced after reconnect")
}

// Run drives the refresh cycle, the command dispatcher and health
// reporting until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.refresher.Run(gctx) })
	g.Go(func() error { return b.dispatcher.Run(gctx) })
	g.Go(func() error { return b.health.Run(gctx) })
	return g.Wait()
}

// Stop marks the device unavailable and disconnects from the broker.
// Safe to call multiple times.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		if err := b.health.PublishStopping(); err != nil {
			b.logError("failed to publish stopping status", err)
		}
		if err := b.mqtt.Publish(b.topics.StaticAutoState(), []byte(mqtt.PayloadOff), announceQoS, true); err != nil {
			b.logError("failed to publish static mode", err)
		}
		if err := b.mqtt.Publish(b.topics.Availability(), []byte(mqtt.PayloadOffline), announceQoS, true); err != nil {
			b.logError("failed to publish offline availability", err)
		}
		b.mqtt.Disconnect(disconnectQuiesce)

		b.logInfo("bridge stopped")
	})
}

// Refresher returns the refresh cycle.
func (b *Bridge) Refresher() *Refresher { return b.refresher }

// Dispatcher returns the command dispatcher.
func (b *Bridge) Dispatcher() *Dispatcher { return b.dispatcher }

// Registry returns the entity registry.
func (b *Bridge) Registry() *resource.Registry { return b.registry }

// Values returns the last observed value of every resource key.
func (b *Bridge) Values() map[string]Value { return b.cache.Snapshot() }

// Value returns the last observed value of one resource key.
func (b *Bridge) Value(key string) (Value, bool) { return b.cache.Get(key) }

// OnValueChange registers fn to run whenever a resource takes a new value,
// from either a refresh or a confirmed command.
func (b *Bridge) OnValueChange(fn func(key string, v Value)) { b.cache.OnChange(fn) }

// deviceStats is implemented by protocols that track traffic.
type deviceStats interface {
	Stats() ClientStats
	Address() string
}

// snapshot gathers counters for health and metrics.
func (b *Bridge) snapshot() (BridgeStatistics, *ControllerStatus, int) {
	rs := b.refresher.Stats()
	ds := b.dispatcher.Stats()
	gs := b.guard.Stats()

	stats := BridgeStatistics{
		RefreshCycles:    rs.Cycles,
		RefreshFailures:  rs.Failures,
		ValuesPublished:  rs.Published,
		CommandsApplied:  ds.Applied,
		CommandsFailed:   ds.Failed,
		CommandsDropped:  ds.Dropped,
		GuardBusy:        gs.Busy,
		DeviceOperations: gs.Acquired,
	}

	var controller *ControllerStatus
	if dev, ok := b.protocol.(deviceStats); ok {
		cs := dev.Stats()
		stats.DeviceRequests = cs.RequestsTx
		stats.DeviceResponses = cs.ResponsesRx
		stats.DeviceErrors = cs.ErrorsTotal
		stats.DeviceTimeouts = cs.Timeouts

		controller = &ControllerStatus{Address: dev.Address()}
		if !cs.LastActivity.IsZero() {
			last := cs.LastActivity.UTC()
			controller.LastActivity = &last
		}
	}

	return stats, controller, b.registry.Len()
}

// BridgeMetrics contains metrics data for the API metrics endpoint.
type BridgeMetrics struct {
	Connected        bool             `json:"connected"`
	ControllerOK     bool             `json:"controller_ok"`
	Status           HealthStatus     `json:"status"`
	ResourcesManaged int              `json:"resources_managed"`
	Statistics       BridgeStatistics `json:"statistics"`
}

// GetMetrics returns current bridge metrics for the API metrics endpoint.
func (b *Bridge) GetMetrics() BridgeMetrics {
	stats, _, resources := b.snapshot()
	status, _ := b.health.determineStatus()
	return BridgeMetrics{
		Connected:        b.mqtt.IsConnected(),
		ControllerOK:     b.guard.Healthy(),
		Status:           status,
		ResourcesManaged: resources,
		Statistics:       stats,
	}
}

// SetLogger sets the logger for the bridge and its tasks.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()

	b.guard.SetLogger(logger)
	b.refresher.SetLogger(logger)
	b.dispatcher.SetLogger(logger)
	b.health.SetLogger(logger)
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

// logInfo logs an info message if logger is set.
func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (b *Bridge) logError(msg string, err error) {
	if logger := b.getLogger(); logger != nil {
		logger.Error(msg, "error", err)
	}
}

// logDebug logs a debug message if logger is set.
func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}
