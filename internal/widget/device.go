package widget

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/iamfarzad/FBC-masterV5--sub003/pkg/types"
)

// Reason categorizes a device failure.
type Reason string

const (
	ReasonPermissionDenied Reason = "permission-denied"
	ReasonDeviceAbsent     Reason = "device-absent"
	ReasonDeviceBusy       Reason = "device-busy"
	ReasonUnsupported      Reason = "unsupported"
	ReasonDeviceError      Reason = "device-error"
)

// DeviceError is a categorized acquisition or runtime failure.
type DeviceError struct {
	Reason Reason
	Err    error
}

func (e *DeviceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return string(e.Reason)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// Message returns the user-facing text for the failure on a device of type t.
func (e *DeviceError) Message(t types.WidgetType) string {
	noun := DeviceNoun(t)
	switch e.Reason {
	case ReasonPermissionDenied:
		return fmt.Sprintf("Permission to use the %s was denied.", noun)
	case ReasonDeviceAbsent:
		return fmt.Sprintf("No %s was found.", noun)
	case ReasonDeviceBusy:
		return fmt.Sprintf("The %s is already in use by another application.", noun)
	case ReasonUnsupported:
		return fmt.Sprintf("This client does not support %s capture.", noun)
	default:
		return fmt.Sprintf("The %s stopped unexpectedly.", noun)
	}
}

// AsDeviceError categorizes any error as a DeviceError.
func AsDeviceError(err error) *DeviceError {
	var de *DeviceError
	if errors.As(err, &de) {
		return de
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &DeviceError{Reason: ReasonDeviceAbsent, Err: err}
	}
	return &DeviceError{Reason: ReasonDeviceError, Err: err}
}

// DeviceNoun names the hardware behind a widget type.
func DeviceNoun(t types.WidgetType) string {
	switch t {
	case types.WidgetVoice:
		return "microphone"
	case types.WidgetWebcam:
		return "camera"
	case types.WidgetScreen:
		return "screen share"
	}
	return string(t)
}

// Constraints are passed to Device.Acquire.
type Constraints struct {
	// Fallback asks for the most permissive settings after a first failure.
	Fallback bool
}

// Device acquires exclusive hardware for one widget type.
type Device interface {
	Acquire(ctx context.Context, t types.WidgetType, c Constraints) (Handle, error)
}

// Handle is an acquired device resource. Exactly one widget owns it.
type Handle interface {
	// Size is the negotiated capture resolution; zero for audio.
	Size() (width, height int)
	// Done is closed when the device ends on its own.
	Done() <-chan struct{}
	// Err explains why Done closed; nil for a normal end.
	Err() error
	// Release stops every track. It must be safe to call more than once.
	Release() error
}

// FrameSource is implemented by handles that can produce video frames.
type FrameSource interface {
	Frame(ctx context.Context) (image.Image, error)
}
