package caret

import (
	"log/slog"
)

// Platform is the operating system surface the chain queries. All methods
// must return promptly; none of them may block on user interaction.
type Platform interface {
	// ForegroundWindow returns the window that currently has focus, or
	// ErrNoForegroundWindow.
	ForegroundWindow() (Window, error)

	// GUIThreadCaret returns the caret state of the thread owning w.
	GUIThreadCaret(w Window) (CaretInfo, error)

	// ClientToScreen converts a point in w's client area to screen coordinates.
	ClientToScreen(w Window, p Point) (Point, error)

	// CaretPos returns the caret position owned by the calling thread,
	// in client coordinates.
	CaretPos() (Point, error)

	// CursorPos returns the mouse cursor position in screen coordinates.
	CursorPos() (Point, error)
}

// WindowNotifier is implemented by platforms that learn when a window is
// destroyed. NewResolver registers Resolver.Forget with it.
type WindowNotifier interface {
	OnWindowClosed(fn func(Window))
}

// PlatformOptions configures NewPlatform.
type PlatformOptions struct {
	// Pointer supplies the cursor position on platforms without a
	// cursor query. May be nil.
	Pointer *Pointer
	Logger  *slog.Logger
}

func (o PlatformOptions) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default().With("component", "caret_platform")
}

// pointerCursor answers CursorPos from the last observed pointer event.
func pointerCursor(p *Pointer) (Point, error) {
	if p == nil {
		return Point{}, ErrNoPointer
	}
	pt, _, err := p.Position()
	return pt, err
}
