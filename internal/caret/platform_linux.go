//go:build linux

package caret

import (
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"

	"github.com/godbus/dbus/v5"
)

const (
	a11yBusName       = "org.a11y.Bus"
	a11yBusPath       = "/org/a11y/bus"
	atspiRegistryName = "org.a11y.atspi.Registry"
	atspiRegistryPath = "/org/a11y/atspi/registry"
	atspiObjectEvents = "org.a11y.atspi.Event.Object"
	atspiStateChanged = atspiObjectEvents + ".StateChanged"
	atspiText         = "org.a11y.atspi.Text"

	// coordTypeScreen asks AT-SPI for extents in screen coordinates.
	coordTypeScreen uint32 = 0
)

// accessible addresses one AT-SPI object.
type accessible struct {
	sender string
	path   dbus.ObjectPath
}

func (a accessible) window() Window {
	h := fnv.New64a()
	h.Write([]byte(a.sender))
	h.Write([]byte{0})
	h.Write([]byte(a.path))
	return Window(h.Sum64())
}

// atspiPlatform tracks the focused accessible through state-changed
// signals on the accessibility bus and reads the caret from its Text
// interface. Extents are already in screen coordinates.
type atspiPlatform struct {
	conn    *dbus.Conn
	signals chan *dbus.Signal
	pointer *Pointer
	logger  *slog.Logger

	mu       sync.RWMutex
	focused  accessible
	hasFocus bool
	onClosed func(Window)
}

// NewPlatform connects to the AT-SPI accessibility bus. When the bus is
// not reachable the returned platform serves the pointer position only.
func NewPlatform(opts PlatformOptions) (Platform, error) {
	logger := opts.logger()
	p, err := newATSPIPlatform(opts.Pointer, logger)
	if err != nil {
		logger.Warn("accessibility bus unavailable, using pointer position only", "error", err)
		return NewPointerPlatform(opts.Pointer), nil
	}
	logger.Info("caret lookup via AT-SPI")
	return p, nil
}

func newATSPIPlatform(pointer *Pointer, logger *slog.Logger) (*atspiPlatform, error) {
	session, err := dbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}

	var addr string
	if err := session.Object(a11yBusName, a11yBusPath).
		Call(a11yBusName+".GetAddress", 0).Store(&addr); err != nil {
		return nil, fmt.Errorf("failed to get accessibility bus address: %w", err)
	}

	conn, err := dbus.Connect(addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to accessibility bus: %w", err)
	}

	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface(atspiObjectEvents),
		dbus.WithMatchMember("StateChanged"),
	); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to add match rule: %w", err)
	}

	registry := conn.Object(atspiRegistryName, atspiRegistryPath)
	for _, event := range []string{"object:state-changed:focused", "object:state-changed:defunct"} {
		if call := registry.Call(atspiRegistryName+".RegisterEvent", 0, event); call.Err != nil {
			// Toolkits that broadcast unconditionally still deliver the signal.
			logger.Debug("register event failed", "event", event, "error", call.Err)
		}
	}

	p := &atspiPlatform{
		conn:    conn,
		signals: make(chan *dbus.Signal, 32),
		pointer: pointer,
		logger:  logger,
	}
	conn.Signal(p.signals)
	go p.trackFocus()
	return p, nil
}

// trackFocus runs until the connection is closed, which closes the channel.
func (p *atspiPlatform) trackFocus() {
	for sig := range p.signals {
		if sig.Name != atspiStateChanged || len(sig.Body) < 2 {
			continue
		}
		kind, _ := sig.Body[0].(string)
		gained, _ := sig.Body[1].(int32)
		if gained != 1 {
			continue
		}
		a := accessible{sender: sig.Sender, path: sig.Path}
		switch kind {
		case "focused":
			p.mu.Lock()
			p.focused = a
			p.hasFocus = true
			p.mu.Unlock()
		case "defunct":
			p.closed(a)
		}
	}
}

// closed drops a destroyed accessible and tells the resolver to forget it.
func (p *atspiPlatform) closed(a accessible) {
	p.mu.Lock()
	if p.hasFocus && p.focused == a {
		p.hasFocus = false
	}
	fn := p.onClosed
	p.mu.Unlock()
	if fn != nil {
		fn(a.window())
	}
}

// OnWindowClosed registers fn for accessibles that turn defunct.
func (p *atspiPlatform) OnWindowClosed(fn func(Window)) {
	p.mu.Lock()
	p.onClosed = fn
	p.mu.Unlock()
}

func (p *atspiPlatform) current() (accessible, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.focused, p.hasFocus
}

func (p *atspiPlatform) ForegroundWindow() (Window, error) {
	a, ok := p.current()
	if !ok {
		return 0, ErrNoForegroundWindow
	}
	return a.window(), nil
}

func (p *atspiPlatform) GUIThreadCaret(w Window) (CaretInfo, error) {
	a, ok := p.current()
	if !ok || a.window() != w {
		return CaretInfo{}, fmt.Errorf("%w: focus moved from %s", ErrNoCaret, w)
	}
	obj := p.conn.Object(a.sender, a.path)

	v, err := obj.GetProperty(atspiText + ".CaretOffset")
	if err != nil {
		return CaretInfo{}, fmt.Errorf("caret offset: %w", err)
	}
	offset, ok := v.Value().(int32)
	if !ok || offset < 0 {
		return CaretInfo{}, ErrNoCaret
	}

	var x, y, width, height int32
	if err := obj.Call(atspiText+".GetCharacterExtents", 0, offset, coordTypeScreen).
		Store(&x, &y, &width, &height); err != nil {
		return CaretInfo{}, fmt.Errorf("character extents: %w", err)
	}
	// An insertion point at the end of the text has zero width.
	if width <= 0 {
		width = 1
	}
	return CaretInfo{
		Rect:  Rect{Left: x, Top: y, Right: x + width, Bottom: y + height},
		Owner: w,
	}, nil
}

func (p *atspiPlatform) ClientToScreen(_ Window, pt Point) (Point, error) {
	return pt, nil
}

func (p *atspiPlatform) CaretPos() (Point, error) {
	return Point{}, ErrUnsupported
}

func (p *atspiPlatform) CursorPos() (Point, error) {
	return pointerCursor(p.pointer)
}

// Close disconnects from the accessibility bus. Closing the connection also
// closes the signal channel, which ends trackFocus.
func (p *atspiPlatform) Close() error {
	return p.conn.Close()
}
