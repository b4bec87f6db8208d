package store

import (
	"time"
)

// Status is the outcome of one capture attempt.
type Status string

const (
	// StatusStored means a frame was written to disk.
	StatusStored Status = "stored"
	// StatusDeviceFailed means a point was resolved but the camera produced
	// no frame.
	StatusDeviceFailed Status = "device_failed"
	// StatusNoPoint means no caret or cursor position could be resolved.
	StatusNoPoint Status = "no_point"
)

// Capture kinds.
const (
	KindMouse    = "mouse"
	KindKeyboard = "keyboard"
)

// Capture is one row of the capture index.
type Capture struct {
	ID        int64     `json:"id"`
	SessionID int64     `json:"session_id,omitempty"`
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	X         int       `json:"x"`
	Y         int       `json:"y"`
	Strategy  string    `json:"strategy,omitempty"`
	Cached    bool      `json:"cached"`
	Window    uint64    `json:"window,omitempty"`
	Button    string    `json:"button,omitempty"`
	Key       string    `json:"key,omitempty"`
	Path      string    `json:"path,omitempty"`
	Digest    string    `json:"digest,omitempty"`
	Width     int       `json:"width,omitempty"`
	Height    int       `json:"height,omitempty"`
	Bytes     int64     `json:"bytes,omitempty"`
	Status    Status    `json:"status"`
	Reason    string    `json:"reason,omitempty"`
}

// Session is one run of the collector.
type Session struct {
	ID         int64
	StartedAt  time.Time
	EndedAt    time.Time
	Host       string
	Platform   string
	Camera     string
	Strategies string
}

// Summary aggregates the capture index.
type Summary struct {
	Total      int64
	Sessions   int64
	ByKind     map[string]int64
	ByStatus   map[Status]int64
	ByStrategy map[string]int64
	First      time.Time
	Last       time.Time
}
