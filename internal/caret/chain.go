package caret

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// chain runs the configured strategies in order and stops at the first
// success. It holds no lock; the Resolver serializes calls.
type chain struct {
	platform   Platform
	caps       *Capabilities
	strategies []Strategy
	anchor     Anchor
	logger     *slog.Logger
}

func (c *chain) needsForeground() bool {
	for _, s := range c.strategies {
		if s == StrategyGUIThread || s == StrategyCaretPos {
			return true
		}
	}
	return false
}

// query performs one fresh lookup cycle.
func (c *chain) query(now time.Time) Result {
	var (
		fg    Window
		fgErr error
	)
	if c.needsForeground() {
		fg, fgErr = c.platform.ForegroundWindow()
		if fgErr == nil && fg == 0 {
			fgErr = ErrNoForegroundWindow
		}
	}

	errs := []error{ErrAllStrategiesFailed}
	for _, s := range c.strategies {
		var (
			pt  Point
			err error
		)
		switch s {
		case StrategyGUIThread:
			pt, err = c.guiThread(fg, fgErr)
		case StrategyCaretPos:
			pt, err = c.caretPos(fg, fgErr)
		case StrategyCursor:
			pt, err = c.platform.CursorPos()
		default:
			err = fmt.Errorf("%w: %s", ErrUnsupported, s)
		}
		if err == nil {
			return Result{Point: pt, Strategy: s, Window: fg, ObservedAt: now}
		}
		c.logger.Debug("caret strategy failed",
			"strategy", s.String(),
			"window", fg.String(),
			"error", err,
		)
		errs = append(errs, fmt.Errorf("%s: %w", s, err))
	}

	return Result{Window: fg, ObservedAt: now, Err: errors.Join(errs...)}
}

// guiThread reads the caret rectangle from the foreground window's GUI
// thread. The outcome is remembered per window; a window known to have no
// caret is not queried again until it is evicted or forgotten.
func (c *chain) guiThread(fg Window, fgErr error) (Point, error) {
	if fgErr != nil {
		return Point{}, fgErr
	}
	if capable, known := c.caps.Lookup(fg); known && !capable {
		return Point{}, ErrCapabilityDisabled
	}

	info, err := c.platform.GUIThreadCaret(fg)
	if err != nil {
		c.caps.Record(fg, false)
		return Point{}, err
	}
	if !info.Usable() {
		c.caps.Record(fg, false)
		return Point{}, fmt.Errorf("%w: rect=%v owner=%s", ErrNoCaret, info.Rect, info.Owner)
	}

	pt, err := c.platform.ClientToScreen(info.Owner, c.anchor.origin(info.Rect))
	if err != nil {
		c.caps.Record(fg, false)
		return Point{}, fmt.Errorf("client to screen: %w", err)
	}
	c.caps.Record(fg, true)
	return pt, nil
}

// caretPos asks for the calling thread's own caret and converts it
// relative to the foreground window.
func (c *chain) caretPos(fg Window, fgErr error) (Point, error) {
	if fgErr != nil {
		return Point{}, fgErr
	}
	p, err := c.platform.CaretPos()
	if err != nil {
		return Point{}, err
	}
	pt, err := c.platform.ClientToScreen(fg, p)
	if err != nil {
		return Point{}, fmt.Errorf("client to screen: %w", err)
	}
	return pt, nil
}
