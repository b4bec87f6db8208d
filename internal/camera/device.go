// Package camera grabs single frames from an imaging device and stores them
// as JPEG files named after the capture time and screen point.
package camera

import (
	"errors"
	"fmt"
	"image"
)

var (
	// ErrFrameUnavailable means the device produced no frame for a capture.
	ErrFrameUnavailable = errors.New("failed to capture image from camera")
	// ErrDeviceUnavailable means the device could not be opened at all.
	ErrDeviceUnavailable = errors.New("camera unavailable")
)

// Device is a source of frames.
type Device interface {
	Read() (image.Image, error)
	Close() error
	Name() string
}

type unavailable struct {
	cause error
}

// Unavailable returns a Device that fails every Read with cause. It stands
// in for a device that could not be opened when the collector runs degraded.
func Unavailable(cause error) Device {
	return &unavailable{cause: cause}
}

func (d *unavailable) Read() (image.Image, error) {
	return nil, fmt.Errorf("%w: %w", ErrFrameUnavailable, d.cause)
}

func (d *unavailable) Close() error { return nil }

func (d *unavailable) Name() string { return "unavailable" }

// IsUnavailable reports whether d is a placeholder from Unavailable.
func IsUnavailable(d Device) bool {
	_, ok := d.(*unavailable)
	return ok
}
