package caret

import (
	"sync"
	"time"
)

// Pointer holds the last pointer position reported by the input listener.
type Pointer struct {
	mu    sync.RWMutex
	pos   Point
	at    time.Time
	known bool
}

// NewPointer returns a Pointer with no known position.
func NewPointer() *Pointer {
	return &Pointer{}
}

// Observe records a pointer position seen at the given time. Observations
// older than the current one are ignored.
func (p *Pointer) Observe(pt Point, at time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.known && at.Before(p.at) {
		return
	}
	p.pos = pt
	p.at = at
	p.known = true
}

// Position returns the last observed position and when it was seen.
func (p *Pointer) Position() (Point, time.Time, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.known {
		return Point{}, time.Time{}, ErrNoPointer
	}
	return p.pos, p.at, nil
}
