package caret

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCapabilityCacheSize bounds the number of windows remembered.
const DefaultCapabilityCacheSize = 1024

// Capabilities remembers, per window, whether the GUI-thread query produced
// a caret. The least recently used window is evicted once the cache is full,
// so an evicted window simply gets probed again.
//
// Capabilities is not safe for concurrent use on its own; the Resolver
// serializes access under its mutex.
type Capabilities struct {
	cache *lru.Cache[Window, bool]
}

// NewCapabilities creates a capability map holding at most size windows.
// A non-positive size selects DefaultCapabilityCacheSize.
func NewCapabilities(size int) *Capabilities {
	if size <= 0 {
		size = DefaultCapabilityCacheSize
	}
	cache, err := lru.New[Window, bool](size)
	if err != nil {
		// Only returned for a non-positive size.
		panic(err)
	}
	return &Capabilities{cache: cache}
}

// Lookup returns the recorded capability and whether one exists.
func (c *Capabilities) Lookup(w Window) (capable, known bool) {
	return c.cache.Get(w)
}

// Record stores the capability for w.
func (c *Capabilities) Record(w Window, capable bool) {
	c.cache.Add(w, capable)
}

// Forget drops the entry for w, e.g. after the window is destroyed.
func (c *Capabilities) Forget(w Window) {
	c.cache.Remove(w)
}

// Len returns the number of windows currently remembered.
func (c *Capabilities) Len() int {
	return c.cache.Len()
}

// Disabled returns the number of windows marked as lacking a caret.
func (c *Capabilities) Disabled() int {
	n := 0
	for _, w := range c.cache.Keys() {
		if v, ok := c.cache.Peek(w); ok && !v {
			n++
		}
	}
	return n
}
