// Package metrics provides Prometheus-compatible metrics for gazecollect.
//
// Series are keyed by name and label set, so one family (for example
// gazecollect_captures_total) can carry a counter per kind and status.
// Output is sorted, which keeps scrapes diffable.
package metrics

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MetricType represents the type of metric.
type MetricType int

const (
	TypeCounter MetricType = iota
	TypeGauge
	TypeHistogram
)

func (t MetricType) String() string {
	switch t {
	case TypeCounter:
		return "counter"
	case TypeGauge:
		return "gauge"
	case TypeHistogram:
		return "histogram"
	default:
		return "unknown"
	}
}

// Labels represents metric labels.
type Labels map[string]string

// String renders labels in Prometheus form with sorted keys.
func (l Labels) String() string {
	if len(l) == 0 {
		return ""
	}
	return "{" + l.pairs() + "}"
}

func (l Labels) pairs() string {
	keys := make([]string, 0, len(l))
	for k := range l {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(l))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf(`%s=%q`, k, l[k]))
	}
	return strings.Join(parts, ",")
}

func (l Labels) with(key, value string) string {
	if len(l) == 0 {
		return fmt.Sprintf(`{%s=%q}`, key, value)
	}
	return "{" + l.pairs() + fmt.Sprintf(`,%s=%q}`, key, value)
}

func (l Labels) clone() Labels {
	if len(l) == 0 {
		return nil
	}
	out := make(Labels, len(l))
	for k, v := range l {
		out[k] = v
	}
	return out
}

// Counter is a monotonically increasing counter.
type Counter struct {
	name   string
	labels Labels
	value  atomic.Uint64
}

// Inc increments the counter by 1.
func (c *Counter) Inc() { c.value.Add(1) }

// Add adds v to the counter.
func (c *Counter) Add(v uint64) { c.value.Add(v) }

// Value returns the current value.
func (c *Counter) Value() uint64 { return c.value.Load() }

// Gauge is a value that can go up and down.
type Gauge struct {
	name   string
	labels Labels
	value  atomic.Int64
}

func (g *Gauge) Set(v int64) { g.value.Store(v) }
func (g *Gauge) Inc()        { g.value.Add(1) }
func (g *Gauge) Dec()        { g.value.Add(-1) }
func (g *Gauge) Add(v int64) { g.value.Add(v) }
func (g *Gauge) Value() int64 {
	return g.value.Load()
}

// Histogram tracks the distribution of values.
type Histogram struct {
	name    string
	labels  Labels
	buckets []float64

	mu     sync.Mutex
	counts []uint64 // per bucket, last entry is +Inf
	sum    float64
	count  uint64
}

// DurationBuckets are buckets for latency histograms, in seconds.
var DurationBuckets = []float64{
	0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5,
}

// SizeBuckets are buckets for encoded frame sizes, in bytes.
var SizeBuckets = []float64{
	1 << 12, 1 << 14, 1 << 16, 1 << 17, 1 << 18, 1 << 19, 1 << 20, 1 << 22,
}

func newHistogram(name string, labels Labels, buckets []float64) *Histogram {
	if buckets == nil {
		buckets = DurationBuckets
	}
	sorted := append([]float64(nil), buckets...)
	sort.Float64s(sorted)
	return &Histogram{
		name:    name,
		labels:  labels,
		buckets: sorted,
		counts:  make([]uint64, len(sorted)+1),
	}
}

// Observe records a value. A value equal to a bound lands in that bucket.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.sum += v
	h.count++
	h.counts[sort.SearchFloat64s(h.buckets, v)]++
}

// ObserveDuration records a duration in seconds.
func (h *Histogram) ObserveDuration(d time.Duration) {
	h.Observe(d.Seconds())
}

// Since records the time elapsed since start.
func (h *Histogram) Since(start time.Time) {
	h.ObserveDuration(time.Since(start))
}

// Count returns the number of observations.
func (h *Histogram) Count() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Sum returns the sum of observed values.
func (h *Histogram) Sum() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sum
}

// Cumulative returns the cumulative count per bucket, +Inf last.
func (h *Histogram) Cumulative() []uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]uint64, len(h.counts))
	var total uint64
	for i, n := range h.counts {
		total += n
		out[i] = total
	}
	return out
}

type family struct {
	name   string
	help   string
	typ    MetricType
	series map[string]any
}

// Registry holds all registered metrics.
type Registry struct {
	mu        sync.RWMutex
	families  map[string]*family
	namespace string
}

// NewRegistry creates a registry whose metric names are prefixed with
// namespace.
func NewRegistry(namespace string) *Registry {
	return &Registry{
		families:  make(map[string]*family),
		namespace: namespace,
	}
}

func (r *Registry) fullName(name string) string {
	if r.namespace == "" {
		return name
	}
	return r.namespace + "_" + name
}

// lookup returns the existing series for name and labels, or stores the
// one built by create. Registering a name under a second type panics.
func (r *Registry) lookup(name, help string, typ MetricType, labels Labels, create func(string, Labels) any) any {
	full := r.fullName(name)
	key := labels.String()

	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.families[full]
	if !ok {
		f = &family{name: full, help: help, typ: typ, series: make(map[string]any)}
		r.families[full] = f
	} else if f.typ != typ {
		panic(fmt.Sprintf("metrics: %s registered as %s and %s", full, f.typ, typ))
	}
	if s, ok := f.series[key]; ok {
		return s
	}
	s := create(full, labels.clone())
	f.series[key] = s
	return s
}

// Counter returns the counter for name and labels, creating it if needed.
func (r *Registry) Counter(name, help string, labels Labels) *Counter {
	return r.lookup(name, help, TypeCounter, labels, func(full string, l Labels) any {
		return &Counter{name: full, labels: l}
	}).(*Counter)
}

// Gauge returns the gauge for name and labels, creating it if needed.
func (r *Registry) Gauge(name, help string, labels Labels) *Gauge {
	return r.lookup(name, help, TypeGauge, labels, func(full string, l Labels) any {
		return &Gauge{name: full, labels: l}
	}).(*Gauge)
}

// Histogram returns the histogram for name and labels, creating it with
// buckets if needed.
func (r *Registry) Histogram(name, help string, labels Labels, buckets []float64) *Histogram {
	return r.lookup(name, help, TypeHistogram, labels, func(full string, l Labels) any {
		return newHistogram(full, l, buckets)
	}).(*Histogram)
}

func (r *Registry) sortedFamilies() []*family {
	out := make([]*family, 0, len(r.families))
	for _, f := range r.families {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

func (f *family) sortedKeys() []string {
	keys := make([]string, 0, len(f.series))
	for k := range f.series {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// WritePrometheus writes metrics in Prometheus text exposition format.
func (r *Registry) WritePrometheus(w io.Writer) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var b strings.Builder
	for _, f := range r.sortedFamilies() {
		fmt.Fprintf(&b, "# HELP %s %s\n", f.name, f.help)
		fmt.Fprintf(&b, "# TYPE %s %s\n", f.name, f.typ)
		for _, key := range f.sortedKeys() {
			switch s := f.series[key].(type) {
			case *Counter:
				fmt.Fprintf(&b, "%s%s %d\n", f.name, key, s.Value())
			case *Gauge:
				fmt.Fprintf(&b, "%s%s %d\n", f.name, key, s.Value())
			case *Histogram:
				cum := s.Cumulative()
				for i, bound := range s.buckets {
					fmt.Fprintf(&b, "%s_bucket%s %d\n", f.name, s.labels.with("le", formatFloat(bound)), cum[i])
				}
				fmt.Fprintf(&b, "%s_bucket%s %d\n", f.name, s.labels.with("le", "+Inf"), cum[len(cum)-1])
				fmt.Fprintf(&b, "%s_sum%s %s\n", f.name, key, formatFloat(s.Sum()))
				fmt.Fprintf(&b, "%s_count%s %d\n", f.name, key, s.Count())
			}
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func formatFloat(v float64) string {
	return fmt.Sprintf("%g", v)
}

// Snapshot returns every series value keyed by name plus labels.
// Histograms contribute _count and _sum entries.
func (r *Registry) Snapshot() map[string]float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]float64)
	for _, f := range r.families {
		for key, s := range f.series {
			switch s := s.(type) {
			case *Counter:
				out[f.name+key] = float64(s.Value())
			case *Gauge:
				out[f.name+key] = float64(s.Value())
			case *Histogram:
				out[f.name+"_count"+key] = float64(s.Count())
				out[f.name+"_sum"+key] = s.Sum()
			}
		}
	}
	return out
}

// WriteJSON writes Snapshot as an indented JSON object.
func (r *Registry) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r.Snapshot())
}

// Reset zeroes every series.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, f := range r.families {
		for _, s := range f.series {
			switch s := s.(type) {
			case *Counter:
				s.value.Store(0)
			case *Gauge:
				s.value.Store(0)
			case *Histogram:
				s.mu.Lock()
				s.sum, s.count = 0, 0
				clear(s.counts)
				s.mu.Unlock()
			}
		}
	}
}

// HTTPHandler serves the registry in text format, or JSON when the client
// asks for application/json.
func (r *Registry) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if strings.Contains(req.Header.Get("Accept"), "application/json") {
			w.Header().Set("Content-Type", "application/json")
			_ = r.WriteJSON(w)
			return
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_ = r.WritePrometheus(w)
	})
}
