// Package caret resolves the screen position where typed text would appear.
//
// A Resolver combines a short-lived cache of the last successful answer with
// an ordered chain of platform lookups: the foreground window's GUI-thread
// caret rectangle, the raw caret-position primitive, and finally the mouse
// cursor. Windows that never expose a caret are remembered so the expensive
// GUI-thread query is not repeated for them.
package caret

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Errors returned in Result.Err. A chain failure joins ErrAllStrategiesFailed
// with the per-strategy reasons so errors.Is works for each of them.
var (
	ErrNoForegroundWindow  = errors.New("no foreground window")
	ErrCapabilityDisabled  = errors.New("caret lookup disabled for window")
	ErrNoCaret             = errors.New("no caret rectangle")
	ErrUnsupported         = errors.New("not supported on this platform")
	ErrNoPointer           = errors.New("pointer position unknown")
	ErrAllStrategiesFailed = errors.New("all caret strategies failed")
)

// DefaultThrottle is the window within which a cached point is reused.
const DefaultThrottle = 100 * time.Millisecond

// Point is a position in screen (or, before conversion, client) coordinates.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (p Point) String() string {
	return fmt.Sprintf("(%d, %d)", p.X, p.Y)
}

// Window is an opaque OS window identifier. Zero means no window.
type Window uint64

func (w Window) String() string {
	return fmt.Sprintf("0x%x", uint64(w))
}

// Rect is a caret rectangle in client coordinates of its owning window.
type Rect struct {
	Left, Top, Right, Bottom int32
}

// Valid reports whether the rectangle has positive width and height.
func (r Rect) Valid() bool {
	return r.Right > r.Left && r.Bottom > r.Top
}

// CaretInfo is what a GUI-thread query reports about the caret.
type CaretInfo struct {
	Rect  Rect
	Owner Window
}

// Usable reports whether the caret rectangle can be turned into a point.
// A zero-area rectangle or a missing owner means there is no caret.
func (c CaretInfo) Usable() bool {
	return c.Rect.Valid() && c.Owner != 0
}

// Strategy identifies one step of the resolution chain.
type Strategy int

const (
	StrategyNone Strategy = iota
	StrategyGUIThread
	StrategyCaretPos
	StrategyCursor
)

var strategyNames = map[Strategy]string{
	StrategyNone:      "none",
	StrategyGUIThread: "gui-thread",
	StrategyCaretPos:  "caret-pos",
	StrategyCursor:    "cursor",
}

func (s Strategy) String() string {
	if name, ok := strategyNames[s]; ok {
		return name
	}
	return fmt.Sprintf("strategy(%d)", int(s))
}

// ParseStrategy converts a configuration name into a Strategy.
func ParseStrategy(name string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "gui-thread", "guithread", "gui_thread":
		return StrategyGUIThread, nil
	case "caret-pos", "caretpos", "caret_pos":
		return StrategyCaretPos, nil
	case "cursor":
		return StrategyCursor, nil
	default:
		return StrategyNone, fmt.Errorf("unknown caret strategy %q", name)
	}
}

// ParseStrategies parses a list of names. The result is always in chain
// order with duplicates removed, whatever order the names were given in.
func ParseStrategies(names []string) ([]Strategy, error) {
	seen := make(map[Strategy]bool, len(names))
	for _, name := range names {
		s, err := ParseStrategy(name)
		if err != nil {
			return nil, err
		}
		seen[s] = true
	}
	var out []Strategy
	for _, s := range DefaultStrategies() {
		if seen[s] {
			out = append(out, s)
		}
	}
	return out, nil
}

// DefaultStrategies returns the full three-step chain.
func DefaultStrategies() []Strategy {
	return []Strategy{StrategyGUIThread, StrategyCaretPos, StrategyCursor}
}

// Anchor selects which point of the caret rectangle is reported.
type Anchor int

const (
	// AnchorTop reports the rectangle's top-left corner.
	AnchorTop Anchor = iota
	// AnchorMiddle reports the left edge at half the rectangle's height.
	AnchorMiddle
)

func (a Anchor) String() string {
	if a == AnchorMiddle {
		return "middle"
	}
	return "top"
}

// ParseAnchor converts "top" or "middle" into an Anchor.
func ParseAnchor(name string) (Anchor, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "top":
		return AnchorTop, nil
	case "middle", "mid":
		return AnchorMiddle, nil
	default:
		return AnchorTop, fmt.Errorf("unknown caret anchor %q", name)
	}
}

func (a Anchor) origin(r Rect) Point {
	p := Point{X: int(r.Left), Y: int(r.Top)}
	if a == AnchorMiddle {
		p.Y += (int(r.Bottom) - int(r.Top)) / 2
	}
	return p
}

// Result is the outcome of one resolution. Either Err is nil and Point is
// meaningful, or Err says why no point could be found.
type Result struct {
	Point      Point
	Strategy   Strategy
	Window     Window
	Cached     bool
	ObservedAt time.Time
	Err        error
}

// OK reports whether the result carries a point.
func (r Result) OK() bool {
	return r.Err == nil
}
