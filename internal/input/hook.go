//go:build cgo

package input

import (
	"context"
	"log/slog"
	"time"
	"unicode"

	hook "github.com/robotn/gohook"
)

type hookSource struct {
	logger *slog.Logger
}

// NewHookSource returns a Source backed by the global OS input hook. Only
// one hook source may stream at a time.
func NewHookSource(logger *slog.Logger) Source {
	if logger == nil {
		logger = slog.Default().With("component", "input")
	}
	return &hookSource{logger: logger}
}

func (s *hookSource) Stream(ctx context.Context, emit func(Event) error) error {
	events := hook.Start()
	defer hook.End()
	s.logger.Info("input hook started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-events:
			if !ok {
				return nil
			}
			ev, ok := translate(raw)
			if !ok {
				continue
			}
			if err := emit(ev); err != nil {
				return err
			}
		}
	}
}

// translate maps a raw hook event to an Event. Releases, wheel events and
// keys without a printable character are dropped.
func translate(raw hook.Event) (Event, bool) {
	at := raw.When
	if at.IsZero() {
		at = time.Now()
	}
	switch raw.Kind {
	case hook.MouseHold:
		return NewMouseDown(int(raw.X), int(raw.Y), buttonName(raw.Button), at), true
	case hook.MouseMove, hook.MouseDrag:
		return NewMouseMove(int(raw.X), int(raw.Y), at), true
	case hook.KeyDown:
		if raw.Keychar == hook.CharUndefined || !unicode.IsPrint(raw.Keychar) {
			return Event{}, false
		}
		return NewKeyDown(raw.Keychar, at), true
	default:
		return Event{}, false
	}
}

func buttonName(code uint16) string {
	for name, c := range hook.MouseMap {
		if c == code {
			return name
		}
	}
	return "unknown"
}
