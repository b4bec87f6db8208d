// Package input delivers mouse and keyboard events to the collector.
package input

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotAvailable is returned when no global input hook exists in this build.
var ErrNotAvailable = errors.New("input hook not available")

// Kind is the type of an input event.
type Kind int

const (
	MouseDown Kind = iota + 1
	KeyDown
	MouseMove
)

func (k Kind) String() string {
	switch k {
	case MouseDown:
		return "mouse_down"
	case KeyDown:
		return "key_down"
	case MouseMove:
		return "mouse_move"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Event is a single press or pointer movement. X and Y are screen
// coordinates and are set for mouse events only. Char is set for key
// presses that produce a character.
type Event struct {
	Kind      Kind
	X, Y      int
	Button    string
	Char      rune
	Timestamp time.Time
}

// NewMouseDown builds a button press event.
func NewMouseDown(x, y int, button string, at time.Time) Event {
	return Event{Kind: MouseDown, X: x, Y: y, Button: button, Timestamp: at}
}

// NewKeyDown builds a key press event.
func NewKeyDown(char rune, at time.Time) Event {
	return Event{Kind: KeyDown, Char: char, Timestamp: at}
}

// NewMouseMove builds a pointer movement event.
func NewMouseMove(x, y int, at time.Time) Event {
	return Event{Kind: MouseMove, X: x, Y: y, Timestamp: at}
}

// Source streams input events until ctx is done or the source is exhausted.
// An error returned by emit stops the stream and is returned.
type Source interface {
	Stream(ctx context.Context, emit func(Event) error) error
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context, emit func(Event) error) error

// Stream calls f.
func (f SourceFunc) Stream(ctx context.Context, emit func(Event) error) error {
	return f(ctx, emit)
}

// Replay returns a Source that emits events in order and then ends.
func Replay(events ...Event) Source {
	return SourceFunc(func(ctx context.Context, emit func(Event) error) error {
		for _, ev := range events {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := emit(ev); err != nil {
				return err
			}
		}
		return nil
	})
}
