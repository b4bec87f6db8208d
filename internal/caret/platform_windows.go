//go:build windows

package caret

import (
	"fmt"
	"log/slog"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	user32               = windows.NewLazySystemDLL("user32.dll")
	procGetGUIThreadInfo = user32.NewProc("GetGUIThreadInfo")
	procClientToScreen   = user32.NewProc("ClientToScreen")
	procGetCaretPos      = user32.NewProc("GetCaretPos")
	procGetCursorPos     = user32.NewProc("GetCursorPos")
)

// guiThreadInfo mirrors GUITHREADINFO.
type guiThreadInfo struct {
	cbSize        uint32
	flags         uint32
	hwndActive    windows.HWND
	hwndFocus     windows.HWND
	hwndCapture   windows.HWND
	hwndMenuOwner windows.HWND
	hwndMoveSize  windows.HWND
	hwndCaret     windows.HWND
	rcCaret       Rect
}

type point32 struct {
	x, y int32
}

// windowsPlatform queries user32 directly.
type windowsPlatform struct {
	logger *slog.Logger
}

// NewPlatform returns the user32-backed platform.
func NewPlatform(opts PlatformOptions) (Platform, error) {
	if err := user32.Load(); err != nil {
		return nil, fmt.Errorf("load user32: %w", err)
	}
	return &windowsPlatform{logger: opts.logger()}, nil
}

func (p *windowsPlatform) ForegroundWindow() (Window, error) {
	hwnd := windows.GetForegroundWindow()
	if hwnd == 0 {
		return 0, ErrNoForegroundWindow
	}
	return Window(hwnd), nil
}

func (p *windowsPlatform) GUIThreadCaret(w Window) (CaretInfo, error) {
	var pid uint32
	tid, err := windows.GetWindowThreadProcessId(windows.HWND(w), &pid)
	if err != nil || tid == 0 {
		return CaretInfo{}, fmt.Errorf("window thread for %s: %w", w, err)
	}

	info := guiThreadInfo{}
	info.cbSize = uint32(unsafe.Sizeof(info))
	r1, _, callErr := procGetGUIThreadInfo.Call(uintptr(tid), uintptr(unsafe.Pointer(&info)))
	if r1 == 0 {
		return CaretInfo{}, fmt.Errorf("GetGUIThreadInfo(%d): %w", tid, callErr)
	}
	return CaretInfo{Rect: info.rcCaret, Owner: Window(info.hwndCaret)}, nil
}

func (p *windowsPlatform) ClientToScreen(w Window, pt Point) (Point, error) {
	in := point32{x: int32(pt.X), y: int32(pt.Y)}
	r1, _, callErr := procClientToScreen.Call(uintptr(w), uintptr(unsafe.Pointer(&in)))
	if r1 == 0 {
		return Point{}, fmt.Errorf("ClientToScreen(%s): %w", w, callErr)
	}
	return Point{X: int(in.x), Y: int(in.y)}, nil
}

func (p *windowsPlatform) CaretPos() (Point, error) {
	var pt point32
	r1, _, callErr := procGetCaretPos.Call(uintptr(unsafe.Pointer(&pt)))
	if r1 == 0 {
		return Point{}, fmt.Errorf("GetCaretPos: %w", callErr)
	}
	return Point{X: int(pt.x), Y: int(pt.y)}, nil
}

func (p *windowsPlatform) CursorPos() (Point, error) {
	var pt point32
	r1, _, callErr := procGetCursorPos.Call(uintptr(unsafe.Pointer(&pt)))
	if r1 == 0 {
		return Point{}, fmt.Errorf("GetCursorPos: %w", callErr)
	}
	return Point{X: int(pt.x), Y: int(pt.y)}, nil
}
