package model

import (
	"context"
	"errors"
	"fmt"
)

// DeviceErrorKind discriminates fatal I/O failures below the block reader.
type DeviceErrorKind int

// Device error kinds.
const (
	DeviceNotFound DeviceErrorKind = iota
	DevicePermissionDenied
	DeviceNotABlockDevice
	DeviceUnreadable
)

func (k DeviceErrorKind) String() string {
	switch k {
	case DeviceNotFound:
		return "not found"
	case DevicePermissionDenied:
		return "permission denied"
	case DeviceNotABlockDevice:
		return "not a block device"
	case DeviceUnreadable:
		return "unreadable"
	}

	return "unknown"
}

// DeviceError is a fatal source-device failure. It aborts the current
// pass and surfaces to the caller.
type DeviceError struct {
	Kind   DeviceErrorKind
	Path   string
	Offset ByteOffset
	Err    error
}

func (e *DeviceError) Error() string {
	if e.Kind == DeviceUnreadable {
		return fmt.Sprintf("device %s: %s at offset %d", e.Path, e.Kind, e.Offset)
	}

	return fmt.Sprintf("device %s: %s", e.Path, e.Kind)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// ConfigError reports an invalid option. It is raised before any I/O
// starts.
type ConfigError struct {
	Option string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid option %s: %s", e.Option, e.Reason)
}

// ResourceError reports output-side exhaustion, such as a full or
// write-protected output directory. Fatal.
type ResourceError struct {
	Path string
	Err  error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("output %s: %v", e.Path, e.Err)
}

func (e *ResourceError) Unwrap() error {
	return e.Err
}

// IsCancelled reports whether err stems from cooperative cancellation.
// Cancellation is not a failure; the engine transitions to Aborted.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
