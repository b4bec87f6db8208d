//go:build !cgo

package input

import (
	"context"
	"log/slog"
)

// NewHookSource returns a Source that fails immediately: the global input
// hook needs cgo.
func NewHookSource(*slog.Logger) Source {
	return SourceFunc(func(context.Context, func(Event) error) error {
		return ErrNotAvailable
	})
}
