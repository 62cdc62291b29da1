// Package audio defines the frame type, PCM helpers, the anti-aliasing
// resampler and the device interfaces used by the voice session pipeline.
//
// The two device abstractions are:
//
//   - [Microphone] opens an [InputStream] of raw PCM at a requested format.
//   - [Speaker] opens an [OutputStream] that accepts raw PCM for playback.
//
// Implementations live in adapter packages (e.g. audio/ffmpeg). The
// interfaces are intentionally narrow so the capture and playback layers
// stay independent of how the operating system exposes devices.
//
// This package lives under pkg/ because external code is expected to
// implement [Microphone] and [Speaker] for other platforms.
package audio

import (
	"context"
	"errors"
	"fmt"
)

// InputStream is an open capture device. Read blocks until PCM is available
// in the stream's [InputStream.Format]. Close releases the device and
// unblocks a pending Read.
type InputStream interface {
	Format() Format
	Read(p []byte) (int, error)
	Close() error
}

// Microphone opens capture streams.
//
// Open requests want from the device. Implementations that cannot honour the
// requested rate return a stream reporting the rate actually delivered; the
// caller resamples. Failures to acquire the device are reported as
// [*DeviceUnavailableError].
type Microphone interface {
	Open(ctx context.Context, want Format) (InputStream, error)
}

// OutputStream is an open playback device. Write blocks while the device
// buffer is full.
type OutputStream interface {
	Write(p []byte) (int, error)
	Close() error
}

// Speaker opens playback streams.
type Speaker interface {
	Open(ctx context.Context, f Format) (OutputStream, error)
}

// UnavailableReason classifies why a device could not be acquired.
type UnavailableReason int

const (
	// ReasonNotFound means no matching device exists.
	ReasonNotFound UnavailableReason = iota

	// ReasonPermissionDenied means the device exists but access was refused.
	ReasonPermissionDenied
)

// String returns the human-readable name of the reason.
func (r UnavailableReason) String() string {
	switch r {
	case ReasonNotFound:
		return "not found"
	case ReasonPermissionDenied:
		return "permission denied"
	default:
		return "unknown"
	}
}

var (
	// ErrDeviceNotFound matches a [*DeviceUnavailableError] with ReasonNotFound.
	ErrDeviceNotFound = errors.New("audio: device not found")

	// ErrPermissionDenied matches a [*DeviceUnavailableError] with
	// ReasonPermissionDenied.
	ErrPermissionDenied = errors.New("audio: device permission denied")
)

// DeviceUnavailableError is returned when a capture or playback device cannot
// be acquired.
type DeviceUnavailableError struct {
	Reason UnavailableReason
	Device string
	Err    error
}

func (e *DeviceUnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("audio: device %q unavailable (%s): %v", e.Device, e.Reason, e.Err)
	}
	return fmt.Sprintf("audio: device %q unavailable (%s)", e.Device, e.Reason)
}

// Unwrap exposes the underlying cause.
func (e *DeviceUnavailableError) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel matching e.Reason.
func (e *DeviceUnavailableError) Is(target error) bool {
	switch target {
	case ErrDeviceNotFound:
		return e.Reason == ReasonNotFound
	case ErrPermissionDenied:
		return e.Reason == ReasonPermissionDenied
	}
	return false
}

// Remediation returns user-facing guidance for the failure.
func (e *DeviceUnavailableError) Remediation() string {
	if e.Reason == ReasonPermissionDenied {
		return "Microphone access was denied. Grant this program access to the microphone and try again."
	}
	return "No microphone was found. Connect a microphone and try again."
}
