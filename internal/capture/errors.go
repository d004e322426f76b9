package capture

import (
	"fmt"

	"github.com/pkg/errors"
)

// Sentinel causes reported by backends.
var (
	// ErrCameraNotOpen is returned when trying to read from a camera that is not open.
	ErrCameraNotOpen = errors.New("camera is not open")
	ErrDisconnected  = errors.New("camera disconnected")
	ErrTimeout       = errors.New("timed out waiting for frame")
	ErrEmptyFrame    = errors.New("captured frame is empty")
)

// AvailabilityError means the requested kind is not supported by this build.
type AvailabilityError struct {
	Kind Kind
}

func (e *AvailabilityError) Error() string {
	return fmt.Sprintf("camera backend %s is not available in this build", e.Kind)
}

// InitError means a device could not be opened.
type InitError struct {
	Kind   Kind
	Device int
	Err    error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("failed to initialize %s device %d: %v", e.Kind, e.Device, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

// CaptureError is returned by CaptureNext. A fatal error ends the capture
// loop; a recoverable one is skipped.
type CaptureError struct {
	Fatal bool
	Err   error
}

func (e *CaptureError) Error() string {
	if e.Fatal {
		return "fatal capture error: " + e.Err.Error()
	}
	return "capture error: " + e.Err.Error()
}

func (e *CaptureError) Unwrap() error { return e.Err }

// Recoverable wraps err as a CaptureError that the loop may retry.
func Recoverable(err error) error {
	return &CaptureError{Err: err}
}

// Fatal wraps err as a CaptureError that stops the loop.
func Fatal(err error) error {
	return &CaptureError{Fatal: true, Err: err}
}

// IsFatal reports whether err should end a capture loop. Errors that are not
// CaptureErrors are treated as fatal so an unknown failure can not spin.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var ce *CaptureError
	if errors.As(err, &ce) {
		return ce.Fatal
	}
	return true
}

// LifecycleError reports API misuse, such as starting a thread twice or
// capturing before Init.
type LifecycleError struct {
	Op    string
	State string
}

func (e *LifecycleError) Error() string {
	return fmt.Sprintf("%s: invalid in state %s", e.Op, e.State)
}
