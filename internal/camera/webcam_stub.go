//go:build !cgo || nocamera

package camera

import "fmt"

// Open always fails: this build has no video capture support.
func Open(index int) (Device, error) {
	return nil, fmt.Errorf("%w: device %d: built without video capture", ErrDeviceUnavailable, index)
}
