package metrics

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLabelsString(t *testing.T) {
	assert.Equal(t, "", Labels(nil).String())
	assert.Equal(t, `{a="1",b="2"}`, Labels{"b": "2", "a": "1"}.String())
	assert.Equal(t, `{a="1",le="0.5"}`, Labels{"a": "1"}.with("le", "0.5"))
	assert.Equal(t, `{le="+Inf"}`, Labels(nil).with("le", "+Inf"))
}

func TestSeriesAreKeyedByLabels(t *testing.T) {
	r := NewRegistry("gc")
	a := r.Counter("captures_total", "help", Labels{"kind": "mouse"})
	b := r.Counter("captures_total", "help", Labels{"kind": "keyboard"})
	again := r.Counter("captures_total", "help", Labels{"kind": "mouse"})

	assert.NotSame(t, a, b)
	assert.Same(t, a, again)

	a.Inc()
	a.Add(2)
	b.Inc()
	snap := r.Snapshot()
	assert.Equal(t, 3.0, snap[`gc_captures_total{kind="mouse"}`])
	assert.Equal(t, 1.0, snap[`gc_captures_total{kind="keyboard"}`])
}

func TestTypeConflictPanics(t *testing.T) {
	r := NewRegistry("")
	r.Counter("x", "", nil)
	assert.Panics(t, func() { r.Gauge("x", "", nil) })
}

func TestHistogramBuckets(t *testing.T) {
	r := NewRegistry("")
	h := r.Histogram("latency", "", nil, []float64{1, 0.1})

	h.Observe(0.05)
	h.Observe(0.1)
	h.Observe(0.5)
	h.Observe(3)

	assert.Equal(t, []uint64{2, 3, 4}, h.Cumulative())
	assert.Equal(t, uint64(4), h.Count())
	assert.InDelta(t, 3.65, h.Sum(), 1e-9)
}

func TestWritePrometheus(t *testing.T) {
	r := NewRegistry("gc")
	r.Counter("events_total", "Input events", Labels{"kind": "key_down"}).Add(4)
	r.Gauge("windows", "Known windows", nil).Set(2)
	h := r.Histogram("resolve_seconds", "Resolve time", nil, []float64{0.3})
	h.Observe(0.25)
	h.Observe(0.5)

	var buf bytes.Buffer
	require.NoError(t, r.WritePrometheus(&buf))
	want := strings.Join([]string{
		"# HELP gc_events_total Input events",
		"# TYPE gc_events_total counter",
		`gc_events_total{kind="key_down"} 4`,
		"# HELP gc_resolve_seconds Resolve time",
		"# TYPE gc_resolve_seconds histogram",
		`gc_resolve_seconds_bucket{le="0.3"} 1`,
		`gc_resolve_seconds_bucket{le="+Inf"} 2`,
		"gc_resolve_seconds_sum 0.75",
		"gc_resolve_seconds_count 2",
		"# HELP gc_windows Known windows",
		"# TYPE gc_windows gauge",
		"gc_windows 2",
		"",
	}, "\n")
	assert.Equal(t, want, buf.String())
}

func TestReset(t *testing.T) {
	r := NewRegistry("")
	c := r.Counter("c", "", nil)
	g := r.Gauge("g", "", nil)
	h := r.Histogram("h", "", nil, nil)
	c.Inc()
	g.Set(5)
	h.Observe(1)

	r.Reset()
	assert.Zero(t, c.Value())
	assert.Zero(t, g.Value())
	assert.Zero(t, h.Count())
	assert.Equal(t, uint64(0), h.Cumulative()[len(h.Cumulative())-1])
}

func TestHTTPHandler(t *testing.T) {
	r := NewRegistry("gc")
	r.Counter("events_total", "Input events", nil).Inc()
	srv := httptest.NewServer(r.HTTPHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/plain")

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "application/json")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()

	var got map[string]float64
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&got))
	assert.Equal(t, 1.0, got["gc_events_total"])
}

func TestCollectorMetrics(t *testing.T) {
	r := NewRegistry("gazecollect")
	m := NewCollectorMetrics(r)

	m.Event("mouse_down")
	m.Event("mouse_down")
	m.Capture("keyboard", "no_point")
	m.Resolved("gui-thread")
	m.CaretLatency.ObserveDuration(2 * time.Millisecond)
	m.UpdateUptime()

	snap := r.Snapshot()
	assert.Equal(t, 2.0, snap[`gazecollect_events_total{kind="mouse_down"}`])
	assert.Equal(t, 1.0, snap[`gazecollect_captures_total{kind="keyboard",status="no_point"}`])
	assert.Equal(t, 1.0, snap[`gazecollect_caret_resolutions_total{strategy="gui-thread"}`])
	assert.Equal(t, 1.0, snap["gazecollect_caret_resolve_seconds_count"])
	assert.Same(t, r, m.Registry())
}

func TestConcurrentRegistration(t *testing.T) {
	r := NewRegistry("")
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.Counter("hits", "", Labels{"k": "v"}).Inc()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(800), r.Counter("hits", "", Labels{"k": "v"}).Value())
}
