package caret

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Options configures a Resolver.
type Options struct {
	Platform Platform

	// Throttle is how long a successful answer is reused. Zero selects
	// DefaultThrottle.
	Throttle time.Duration

	Anchor Anchor

	// Strategies is the active chain. Empty selects DefaultStrategies.
	// Order is always normalized to gui-thread, caret-pos, cursor.
	Strategies []Strategy

	// CapabilityCacheSize bounds the per-window capability map.
	CapabilityCacheSize int

	Logger *slog.Logger
}

// Stats counts resolver activity since construction.
type Stats struct {
	Hits       uint64
	Queries    uint64
	Failures   uint64
	ByStrategy map[Strategy]uint64

	// Windows is the number of windows in the capability map, Disabled
	// the subset known to have no GUI-thread caret.
	Windows  int
	Disabled int
}

// Resolver answers "where is the caret now". It is safe for concurrent use;
// a single mutex guards the cached answer, the capability map and the
// counters.
type Resolver struct {
	mu        sync.Mutex
	chain     chain
	throttle  time.Duration
	cache     Result
	hasCache  bool
	lastQuery time.Time
	stats     Stats
}

// ErrNoPlatform is returned by NewResolver when Options.Platform is nil.
var ErrNoPlatform = errors.New("caret: platform is required")

// NewResolver creates a Resolver. No cache entry exists until the first
// successful resolution.
func NewResolver(opts Options) (*Resolver, error) {
	if opts.Platform == nil {
		return nil, ErrNoPlatform
	}
	if opts.Throttle <= 0 {
		opts.Throttle = DefaultThrottle
	}
	strategies := opts.Strategies
	if len(strategies) == 0 {
		strategies = DefaultStrategies()
	} else {
		names := make([]string, 0, len(strategies))
		for _, s := range strategies {
			names = append(names, s.String())
		}
		var err error
		if strategies, err = ParseStrategies(names); err != nil {
			return nil, err
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default().With("component", "caret")
	}

	r := &Resolver{
		chain: chain{
			platform:   opts.Platform,
			caps:       NewCapabilities(opts.CapabilityCacheSize),
			strategies: strategies,
			anchor:     opts.Anchor,
			logger:     logger,
		},
		throttle: opts.Throttle,
		stats:    Stats{ByStrategy: make(map[Strategy]uint64)},
	}
	if n, ok := opts.Platform.(WindowNotifier); ok {
		n.OnWindowClosed(r.Forget)
	}
	return r, nil
}

// Resolve returns the caret position at now. A successful answer younger
// than the throttle interval is returned unchanged with Cached set;
// otherwise the strategy chain runs exactly once. Failures are never cached.
func (r *Resolver) Resolve(now time.Time) Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.hasCache {
		age := now.Sub(r.cache.ObservedAt)
		if age >= 0 && age < r.throttle {
			r.stats.Hits++
			res := r.cache
			res.Cached = true
			return res
		}
	}

	r.lastQuery = now
	r.stats.Queries++

	res := r.chain.query(now)
	if !res.OK() {
		r.stats.Failures++
		return res
	}
	r.stats.ByStrategy[res.Strategy]++
	r.cache = res
	r.hasCache = true
	return res
}

// SetThrottle changes the cache window. Non-positive values select
// DefaultThrottle.
func (r *Resolver) SetThrottle(d time.Duration) {
	if d <= 0 {
		d = DefaultThrottle
	}
	r.mu.Lock()
	r.throttle = d
	r.mu.Unlock()
}

// Throttle returns the current cache window.
func (r *Resolver) Throttle() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.throttle
}

// SetAnchor changes which point of the caret rectangle is reported.
func (r *Resolver) SetAnchor(a Anchor) {
	r.mu.Lock()
	r.chain.anchor = a
	r.mu.Unlock()
}

// Strategies returns the active chain.
func (r *Resolver) Strategies() []Strategy {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Strategy(nil), r.chain.strategies...)
}

// Forget removes w from the capability map so the next lookup for it
// probes the GUI thread again. Platforms implementing WindowNotifier call
// it when w is destroyed.
func (r *Resolver) Forget(w Window) {
	r.mu.Lock()
	r.chain.caps.Forget(w)
	r.mu.Unlock()
}

// LastQuery returns when the strategy chain last ran.
func (r *Resolver) LastQuery() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastQuery
}

// Stats returns a snapshot of the counters.
func (r *Resolver) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.stats
	s.ByStrategy = make(map[Strategy]uint64, len(r.stats.ByStrategy))
	for k, v := range r.stats.ByStrategy {
		s.ByStrategy[k] = v
	}
	s.Windows = r.chain.caps.Len()
	s.Disabled = r.chain.caps.Disabled()
	return s
}
