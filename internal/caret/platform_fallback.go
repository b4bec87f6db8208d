package caret

// pointerPlatform has no caret surface at all. Only the cursor strategy can
// succeed, using the last position the input listener observed.
type pointerPlatform struct {
	pointer *Pointer
}

// NewPointerPlatform returns a Platform whose caret queries always fail
// with ErrUnsupported and whose cursor comes from p.
func NewPointerPlatform(p *Pointer) Platform {
	return &pointerPlatform{pointer: p}
}

func (p *pointerPlatform) ForegroundWindow() (Window, error) {
	return 0, ErrUnsupported
}

func (p *pointerPlatform) GUIThreadCaret(Window) (CaretInfo, error) {
	return CaretInfo{}, ErrUnsupported
}

func (p *pointerPlatform) ClientToScreen(Window, Point) (Point, error) {
	return Point{}, ErrUnsupported
}

func (p *pointerPlatform) CaretPos() (Point, error) {
	return Point{}, ErrUnsupported
}

func (p *pointerPlatform) CursorPos() (Point, error) {
	return pointerCursor(p.pointer)
}
