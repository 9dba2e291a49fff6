package nbe

import (
	"errors"
	"fmt"
)

// Domain errors for the NBE bridge package.
var (
	// ErrGuardBusy is returned when a device operation is requested while
	// another one is in flight. Callers treat it like a failed operation.
	ErrGuardBusy = errors.New("nbe: device busy")

	// ErrDevice is matched by every *DeviceError.
	ErrDevice = errors.New("nbe: device error")

	// ErrNotConfirmed is returned when the controller answers a write with
	// a non-zero status.
	ErrNotConfirmed = errors.New("nbe: write not confirmed")

	// ErrInvalidFrame is returned when a response frame cannot be decoded.
	ErrInvalidFrame = errors.New("nbe: invalid frame")

	// ErrUnknownGroup is returned for a query group the protocol does not
	// know how to request.
	ErrUnknownGroup = errors.New("nbe: unknown query group")

	// ErrTimeout is returned when the controller does not answer in time.
	ErrTimeout = errors.New("nbe: request timed out")

	// ErrQueueFull is returned when the command queue cannot take another
	// event.
	ErrQueueFull = errors.New("nbe: command queue full")
)

// DeviceError wraps any failure raised while a session was held, including
// recovered panics. Kind is the Go type of the underlying failure.
type DeviceError struct {
	Op   string
	Kind string
	Err  error
}

func newDeviceError(op string, err error) *DeviceError {
	return &DeviceError{Op: op, Kind: fmt.Sprintf("%T", err), Err: err}
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("nbe: %s failed (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrDevice) match any DeviceError.
func (e *DeviceError) Is(target error) bool {
	return target == ErrDevice
}
