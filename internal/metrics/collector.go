package metrics

import "time"

// CollectorMetrics holds the series the capture pipeline updates.
type CollectorMetrics struct {
	registry *Registry
	started  time.Time

	Uptime            *Gauge
	CapabilityWindows *Gauge
	DisabledWindows   *Gauge
	CaretCacheHits    *Counter
	CaretQueries      *Counter
	CaretFailures     *Counter
	CaretLatency      *Histogram
	CaptureLatency    *Histogram
	FrameBytes        *Histogram
	StoreErrors       *Counter
	Panics            *Counter
}

// NewCollectorMetrics registers the collector series in registry.
func NewCollectorMetrics(registry *Registry) *CollectorMetrics {
	return &CollectorMetrics{
		registry: registry,
		started:  time.Now(),

		Uptime: registry.Gauge("uptime_seconds",
			"Seconds since the collector started", nil),
		CapabilityWindows: registry.Gauge("caret_capability_windows",
			"Windows with a remembered caret capability", nil),
		DisabledWindows: registry.Gauge("caret_disabled_windows",
			"Windows for which the GUI thread lookup is disabled", nil),
		CaretCacheHits: registry.Counter("caret_cache_hits_total",
			"Caret lookups answered from the throttle cache", nil),
		CaretQueries: registry.Counter("caret_queries_total",
			"Caret lookups that ran the strategy chain", nil),
		CaretFailures: registry.Counter("caret_failures_total",
			"Caret lookups where every strategy failed", nil),
		CaretLatency: registry.Histogram("caret_resolve_seconds",
			"Time spent resolving the caret position", nil, DurationBuckets),
		CaptureLatency: registry.Histogram("capture_seconds",
			"Time spent reading, encoding and writing one frame", nil, DurationBuckets),
		FrameBytes: registry.Histogram("frame_bytes",
			"Encoded frame size", nil, SizeBuckets),
		StoreErrors: registry.Counter("store_errors_total",
			"Capture records that could not be written to the index", nil),
		Panics: registry.Counter("panics_total",
			"Event handlers that panicked and were recovered", nil),
	}
}

// Registry returns the underlying registry.
func (m *CollectorMetrics) Registry() *Registry {
	return m.registry
}

// Event counts one input event of the given kind.
func (m *CollectorMetrics) Event(kind string) {
	m.registry.Counter("events_total", "Input events received",
		Labels{"kind": kind}).Inc()
}

// Capture counts one capture outcome.
func (m *CollectorMetrics) Capture(kind, status string) {
	m.registry.Counter("captures_total", "Captures by kind and outcome",
		Labels{"kind": kind, "status": status}).Inc()
}

// Resolved counts a successful caret resolution by strategy.
func (m *CollectorMetrics) Resolved(strategy string) {
	m.registry.Counter("caret_resolutions_total", "Caret positions resolved by strategy",
		Labels{"strategy": strategy}).Inc()
}

// UpdateUptime stamps the uptime gauge.
func (m *CollectorMetrics) UpdateUptime() {
	m.Uptime.Set(int64(time.Since(m.started).Seconds()))
}
