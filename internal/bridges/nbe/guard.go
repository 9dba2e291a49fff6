package nbe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// Guard serializes access to the controller. At most one operation holds
// a session at a time; a second caller gets ErrGuardBusy immediately
// instead of waiting.
//
// Thread Safety: All methods are safe for concurrent use.
type Guard struct {
	protocol Protocol
	mu       sync.Mutex

	acquired atomic.Uint64
	rejected atomic.Uint64
	failures atomic.Uint64
	healthy  atomic.Bool

	logger   Logger
	loggerMu sync.RWMutex
}

// GuardStats counts guard outcomes.
type GuardStats struct {
	Acquired uint64
	Busy     uint64
	Failures uint64
}

// NewGuard wraps protocol in a single-flight guard.
func NewGuard(protocol Protocol) *Guard {
	g := &Guard{protocol: protocol}
	g.healthy.Store(true)
	return g
}

// WithDevice opens a session, runs op with it and closes the session.
//
// Returns ErrGuardBusy if another operation is in flight. Any failure
// while the session is held, including a panic, is logged and returned
// as a *DeviceError. The guard is released on every path.
func (g *Guard) WithDevice(ctx context.Context, opName string, op func(context.Context, Session) error) (err error) {
	if !g.mu.TryLock() {
		g.rejected.Add(1)
		return ErrGuardBusy
	}
	defer g.mu.Unlock()
	g.acquired.Add(1)

	defer func() {
		if r := recover(); r != nil {
			err = &DeviceError{Op: opName, Kind: fmt.Sprintf("panic(%T)", r), Err: panicError{value: r}}
		}
		if err != nil {
			var devErr *DeviceError
			if !errors.As(err, &devErr) {
				err = newDeviceError(opName, err)
				errors.As(err, &devErr)
			}
			g.failures.Add(1)
			g.logError("device operation failed",
				"op", devErr.Op,
				"kind", devErr.Kind,
				"message", devErr.Err.Error())
		}
		g.healthy.Store(err == nil)
	}()

	sess, err := g.protocol.Open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			g.logDebug("session close failed", "error", cerr)
		}
	}()

	return op(ctx, sess)
}

// Healthy reports whether the most recent operation succeeded. It is true
// before the first operation.
func (g *Guard) Healthy() bool {
	return g.healthy.Load()
}

// Stats returns guard counters.
func (g *Guard) Stats() GuardStats {
	return GuardStats{
		Acquired: g.acquired.Load(),
		Busy:     g.rejected.Load(),
		Failures: g.failures.Load(),
	}
}

// SetLogger sets the logger for the guard.
func (g *Guard) SetLogger(logger Logger) {
	g.loggerMu.Lock()
	g.logger = logger
	g.loggerMu.Unlock()
}

func (g *Guard) getLogger() Logger {
	g.loggerMu.RLock()
	defer g.loggerMu.RUnlock()
	return g.logger
}

func (g *Guard) logError(msg string, keysAndValues ...any) {
	if logger := g.getLogger(); logger != nil {
		logger.Error(msg, keysAndValues...)
	}
}

func (g *Guard) logDebug(msg string, keysAndValues ...any) {
	if logger := g.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

// panicError carries a recovered panic value.
type panicError struct {
	value any
}

func (p panicError) Error() string {
	return fmt.Sprintf("panic: %v", p.value)
}
