package nbe

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/OhmegaStar/nbe-blackstar-homeassistant/internal/resource"
)

// defaultRefreshInterval applies when RefresherConfig.Interval is zero.
const defaultRefreshInterval = 30 * time.Second

// RefresherConfig holds dependencies of the refresh cycle.
type RefresherConfig struct {
	Registry  *resource.Registry
	Guard     *Guard
	Publisher Publisher

	// Groups are the logical query groups fetched in one batch.
	Groups []string

	// Interval between cycles. Default: 30 seconds.
	Interval time.Duration

	// Cache receives every published value. Required.
	Cache *ValueCache

	History   HistoryRecorder
	Telemetry TelemetryWriter
}

// Refresher periodically queries the controller and republishes the
// values of polled resources.
type Refresher struct {
	registry  *resource.Registry
	guard     *Guard
	publisher Publisher
	groups    []string
	interval  time.Duration
	cache     *ValueCache
	sink      sink

	cycles    atomic.Uint64
	failures  atomic.Uint64
	published atomic.Uint64

	logger   Logger
	loggerMu sync.RWMutex
}

// NewRefresher creates a refresh cycle.
func NewRefresher(cfg RefresherConfig) *Refresher {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultRefreshInterval
	}
	r := &Refresher{
		registry:  cfg.Registry,
		guard:     cfg.Guard,
		publisher: cfg.Publisher,
		groups:    cfg.Groups,
		interval:  interval,
		cache:     cfg.Cache,
	}
	r.sink = sink{
		deviceID:  cfg.Registry.Device().ID,
		history:   cfg.History,
		telemetry: cfg.Telemetry,
		logger:    r.getLogger,
	}
	return r
}

// Run refreshes once immediately and then on every tick until ctx is
// cancelled. Failed cycles are logged and retried on the next tick.
func (r *Refresher) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if _, err := r.RefreshOnce(ctx); err != nil {
			r.logWarn("refresh cycle skipped", "error", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RefreshOnce runs a single query/publish cycle and returns the number of
// values published. A query failure (ErrGuardBusy or *DeviceError)
// publishes nothing.
//
// A key whose cached value came from a command confirmed after the query
// started is left alone: the queried value is older than its echo.
func (r *Refresher) RefreshOnce(ctx context.Context) (int, error) {
	r.cycles.Add(1)

	queryStart := time.Now().UTC()
	var lines []string
	err := r.guard.WithDevice(ctx, "query", func(ctx context.Context, s Session) error {
		var qerr error
		lines, qerr = s.Query(ctx, r.groups)
		return qerr
	})
	if err != nil {
		r.failures.Add(1)
		return 0, err
	}

	result := parseQueryResult(lines)

	published := 0
	for _, res := range r.registry.Polled() {
		value, ok := result[res.ResourceKey()]
		if !ok {
			continue
		}
		if r.commandedSince(res.ResourceKey(), queryStart) {
			r.logDebug("keeping newer command value",
				"resource_key", res.ResourceKey(),
				"queried", value)
			continue
		}

		topic := res.Topics().State
		if err := r.publisher.Publish(topic, []byte(value), stateQoS, true); err != nil {
			r.logWarn("failed to publish state", "topic", topic, "error", err)
			continue
		}
		published++

		if r.cache.Update(res.ResourceKey(), value, SourceRefresh) {
			r.sink.record(ctx, res.ResourceKey(), string(res.Kind()), value, SourceRefresh, "")
		}
	}
	r.published.Add(uint64(published))

	r.logDebug("refresh cycle complete",
		"lines", len(lines),
		"published", published)

	return published, nil
}

func (r *Refresher) commandedSince(key string, since time.Time) bool {
	v, ok := r.cache.Get(key)
	return ok && v.Source == SourceCommand && v.UpdatedAt.After(since)
}

// parseQueryResult splits each "key=value" line on the first "=". Lines
// without one are ignored. A later duplicate key wins.
func parseQueryResult(lines []string) map[string]string {
	result := make(map[string]string, len(lines))
	for _, line := range lines {
		key, value, ok := strings.Cut(line, "=")
		if !ok || key == "" {
			continue
		}
		result[key] = value
	}
	return result
}

// RefreshStats counts refresh outcomes.
type RefreshStats struct {
	Cycles    uint64
	Failures  uint64
	Published uint64
}

// Stats returns refresh counters.
func (r *Refresher) Stats() RefreshStats {
	return RefreshStats{
		Cycles:    r.cycles.Load(),
		Failures:  r.failures.Load(),
		Published: r.published.Load(),
	}
}

// SetLogger sets the logger for the refresher.
func (r *Refresher) SetLogger(logger Logger) {
	r.loggerMu.Lock()
	r.logger = logger
	r.loggerMu.Unlock()
}

func (r *Refresher) getLogger() Logger {
	r.loggerMu.RLock()
	defer r.loggerMu.RUnlock()
	return r.logger
}

func (r *Refresher) logWarn(msg string, keysAndValues ...any) {
	if logger := r.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (r *Refresher) logDebug(msg string, keysAndValues ...any) {
	if logger := r.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}
