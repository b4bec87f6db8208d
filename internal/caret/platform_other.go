//go:build !linux && !windows

package caret

import "runtime"

// NewPlatform returns a pointer-only platform; there is no caret surface
// wired up for this OS.
func NewPlatform(opts PlatformOptions) (Platform, error) {
	opts.logger().Warn("caret lookup not available, using pointer position only",
		"os", runtime.GOOS,
	)
	return NewPointerPlatform(opts.Pointer), nil
}
