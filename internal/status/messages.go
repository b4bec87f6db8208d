package status

import (
	"fmt"
	"strings"
	"time"

	"gazecollect/internal/camera"
)

// Banner is printed once before the collector starts listening.
var Banner = strings.Join([]string{
	"Gaze, Mouse, and Keyboard Data Collector",
	"----------------------------------------",
	"Click anywhere to capture camera image and cursor position.",
	"Type in any application to capture camera image and caret position.",
	"Press Ctrl+C in the terminal to stop the program.",
}, "\n")

const (
	CameraFailed      = "Failed to capture image from camera"
	CameraFailedOnKey = "Failed to capture image from camera on key press"
	Terminated        = "\nProgram terminated by user"
	CameraReleased    = "Camera released"
	redactedKey       = "<redacted>"
)

func position(x, y int) string {
	return fmt.Sprintf("(%d, %d)", x, y)
}

// MouseCaptured reports a stored click frame.
func MouseCaptured(at time.Time, x, y int) string {
	return fmt.Sprintf("Mouse click captured at %s - Position: %s", camera.Timestamp(at), position(x, y))
}

// KeyCaptured reports a stored key press frame. The character is shown only
// when showKey is set.
func KeyCaptured(at time.Time, x, y int, key rune, showKey bool) string {
	return fmt.Sprintf("Key press captured at %s - Position: %s - Key: %s",
		camera.Timestamp(at), position(x, y), keyText(key, showKey))
}

// NoCaret reports a key press for which no position could be found.
func NoCaret(key rune, showKey bool) string {
	return "Failed to detect caret position for key: " + keyText(key, showKey)
}

// HandlerError reports an event dropped by an unexpected failure in the
// named handler ("mouse" or "keyboard").
func HandlerError(handler string, err error) string {
	return fmt.Sprintf("Error in %s handler: %v", handler, err)
}

func keyText(key rune, show bool) string {
	if !show {
		return redactedKey
	}
	return string(key)
}
