package nbe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/OhmegaStar/nbe-blackstar-homeassistant/internal/resource"
)

// defaultCommandQueueSize applies when DispatcherConfig.QueueSize is zero.
const defaultCommandQueueSize = 32

// DispatcherConfig holds dependencies of the command dispatcher.
type DispatcherConfig struct {
	Registry  *resource.Registry
	Guard     *Guard
	Publisher Publisher

	// QueueSize bounds pending command events. Default: 32.
	QueueSize int

	// Cache receives confirmed values. Required.
	Cache *ValueCache

	History   HistoryRecorder
	Telemetry TelemetryWriter
}

// Dispatcher applies bus commands to the controller. The transport
// callback only enqueues; Run consumes the queue on its own goroutine.
type Dispatcher struct {
	registry  *resource.Registry
	guard     *Guard
	publisher Publisher
	queue     chan CommandEvent
	cache     *ValueCache
	sink      sink

	applied atomic.Uint64
	failed  atomic.Uint64
	dropped atomic.Uint64

	logger   Logger
	loggerMu sync.RWMutex
}

// NewDispatcher creates a command dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	size := cfg.QueueSize
	if size <= 0 {
		size = defaultCommandQueueSize
	}
	d := &Dispatcher{
		registry:  cfg.Registry,
		guard:     cfg.Guard,
		publisher: cfg.Publisher,
		queue:     make(chan CommandEvent, size),
		cache:     cfg.Cache,
	}
	d.sink = sink{
		deviceID:  cfg.Registry.Device().ID,
		history:   cfg.History,
		telemetry: cfg.Telemetry,
		logger:    d.getLogger,
	}
	return d
}

// HandleMessage is the transport callback. It never blocks: when the
// queue is full the command is dropped and ErrQueueFull returned.
func (d *Dispatcher) HandleMessage(topic string, payload []byte) error {
	return d.Enqueue(NewCommandEvent(topic, payload))
}

// Enqueue adds ev to the command queue without blocking.
func (d *Dispatcher) Enqueue(ev CommandEvent) error {
	select {
	case d.queue <- ev:
		return nil
	default:
		d.dropped.Add(1)
		d.logWarn("command queue full, dropping command",
			"command_id", ev.ID,
			"topic", ev.Topic)
		return ErrQueueFull
	}
}

// Run consumes command events until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-d.queue:
			if err := d.Handle(ctx, ev); err != nil && !errors.Is(err, resource.ErrNotFound) {
				d.logWarn("command not applied",
					"command_id", ev.ID,
					"topic", ev.Topic,
					"error", err)
			}
		}
	}
}

// Handle applies one command.
//
// The payload is published verbatim to the resource's state topic only
// after the controller confirms the write. Topics matching no resource
// return resource.ErrNotFound and are otherwise ignored.
func (d *Dispatcher) Handle(ctx context.Context, ev CommandEvent) error {
	res, err := d.registry.FindByCommandTopic(ev.Topic)
	if err != nil {
		d.logDebug("ignoring message on unknown topic", "topic", ev.Topic)
		return err
	}

	value, err := res.ApplyIncomingValue(ev.Payload)
	if err != nil {
		d.failed.Add(1)
		return err
	}

	d.logInfo("applying command",
		"command_id", ev.ID,
		"resource_key", res.ResourceKey(),
		"value", value)

	var confirmed bool
	err = d.guard.WithDevice(ctx, "write "+res.ResourceKey(), func(ctx context.Context, s Session) error {
		var werr error
		confirmed, werr = s.Write(ctx, res.ResourceKey(), value)
		return werr
	})
	if err != nil {
		d.failed.Add(1)
		return err
	}
	if !confirmed {
		d.failed.Add(1)
		return fmt.Errorf("%w: %s=%s", ErrNotConfirmed, res.ResourceKey(), value)
	}

	topic := res.Topics().State
	if err := d.publisher.Publish(topic, ev.Payload, stateQoS, true); err != nil {
		d.failed.Add(1)
		return fmt.Errorf("publish confirmed state: %w", err)
	}
	d.applied.Add(1)

	if d.cache.Update(res.ResourceKey(), value, SourceCommand) {
		d.sink.record(ctx, res.ResourceKey(), string(res.Kind()), value, SourceCommand, ev.ID)
	}

	d.logInfo("command confirmed",
		"command_id", ev.ID,
		"resource_key", res.ResourceKey(),
		"state_topic", topic)

	return nil
}

// DispatchStats counts command outcomes.
type DispatchStats struct {
	Applied uint64
	Failed  uint64
	Dropped uint64
	Pending int
}

// Stats returns dispatcher counters.
func (d *Dispatcher) Stats() DispatchStats {
	return DispatchStats{
		Applied: d.applied.Load(),
		Failed:  d.failed.Load(),
		Dropped: d.dropped.Load(),
		Pending: len(d.queue),
	}
}

// SetLogger sets the logger for the dispatcher.
func (d *Dispatcher) SetLogger(logger Logger) {
	d.loggerMu.Lock()
	d.logger = logger
	d.loggerMu.Unlock()
}

func (d *Dispatcher) getLogger() Logger {
	d.loggerMu.RLock()
	defer d.loggerMu.RUnlock()
	return d.logger
}

func (d *Dispatcher) logInfo(msg string, keysAndValues ...any) {
	if logger := d.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (d *Dispatcher) logWarn(msg string, keysAndValues ...any) {
	if logger := d.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (d *Dispatcher) logDebug(msg string, keysAndValues ...any) {
	if logger := d.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}
