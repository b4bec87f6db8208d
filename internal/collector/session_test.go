package collector

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gazecollect/internal/camera"
	"gazecollect/internal/caret"
	"gazecollect/internal/config"
	"gazecollect/internal/input"
	"gazecollect/internal/metrics"
	"gazecollect/internal/status"
	"gazecollect/internal/store"
)

// textPlatform reports a caret at (100, 200) in a window whose client
// origin is (10, 30), so the resolved screen point is (110, 230).
type textPlatform struct {
	mu       sync.Mutex
	noCaret  bool
	guiCalls int
	closed   bool
}

func (p *textPlatform) ForegroundWindow() (caret.Window, error) { return 0x10, nil }

func (p *textPlatform) GUIThreadCaret(w caret.Window) (caret.CaretInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.guiCalls++
	if p.noCaret {
		return caret.CaretInfo{}, caret.ErrNoCaret
	}
	return caret.CaretInfo{
		Rect:  caret.Rect{Left: 100, Top: 200, Right: 102, Bottom: 220},
		Owner: w,
	}, nil
}

func (p *textPlatform) ClientToScreen(_ caret.Window, pt caret.Point) (caret.Point, error) {
	return caret.Point{X: pt.X + 10, Y: pt.Y + 30}, nil
}

func (p *textPlatform) CaretPos() (caret.Point, error) { return caret.Point{}, caret.ErrUnsupported }

func (p *textPlatform) CursorPos() (caret.Point, error) { return caret.Point{}, caret.ErrNoPointer }

func (p *textPlatform) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

type frameDevice struct {
	mu     sync.Mutex
	err    error
	panics int
	reads  int
	closed bool
}

func (d *frameDevice) Read() (image.Image, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reads++
	if d.panics > 0 {
		d.panics--
		panic("driver fault")
	}
	if d.err != nil {
		return nil, d.err
	}
	return image.NewRGBA(image.Rect(0, 0, 16, 12)), nil
}

func (d *frameDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *frameDevice) Name() string { return "test camera" }

type harness struct {
	session  *Session
	platform caret.Platform
	device   *frameDevice
	index    *store.Store
	lines    *status.Recorder
	registry *metrics.Registry
	outDir   string
}

type harnessOpts struct {
	platform   caret.Platform
	pointer    *caret.Pointer
	strategies []caret.Strategy
	recordKeys bool
	device     *frameDevice
}

func newHarness(t *testing.T, o harnessOpts) *harness {
	t.Helper()
	dir := t.TempDir()

	if o.pointer == nil {
		o.pointer = caret.NewPointer()
	}
	if o.platform == nil {
		o.platform = &textPlatform{}
	}
	if o.device == nil {
		o.device = &frameDevice{}
	}

	resolver, err := caret.NewResolver(caret.Options{
		Platform:   o.platform,
		Strategies: o.strategies,
	})
	require.NoError(t, err)

	sink, err := camera.NewSink(o.device, camera.SinkOptions{OutputDir: dir})
	require.NoError(t, err)

	index, err := store.Open(filepath.Join(dir, "captures.db"))
	require.NoError(t, err)
	t.Cleanup(func() { index.Close() })

	lines := &status.Recorder{}
	registry := metrics.NewRegistry("gazecollect")
	s, err := New(Options{
		Resolver:   resolver,
		Pointer:    o.pointer,
		Sink:       sink,
		Platform:   o.platform,
		Index:      index,
		Reporter:   lines,
		Metrics:    metrics.NewCollectorMetrics(registry),
		RecordKeys: o.recordKeys,
	})
	require.NoError(t, err)

	return &harness{
		session:  s,
		platform: o.platform,
		device:   o.device,
		index:    index,
		lines:    lines,
		registry: registry,
		outDir:   dir,
	}
}

func (h *harness) run(t *testing.T, events ...input.Event) {
	t.Helper()
	require.NoError(t, h.session.Run(context.Background(), input.Replay(events...)))
}

func (h *harness) captures(t *testing.T) []store.Capture {
	t.Helper()
	all, err := h.index.Range(time.Unix(0, 0), time.Now().Add(time.Hour))
	require.NoError(t, err)
	return all
}

var t0 = time.Date(2024, 3, 9, 14, 5, 7, 250000000, time.UTC)

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestClickCapturesFrameAtEventPoint(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	h.run(t, input.NewMouseDown(640, 360, "left", t0))

	assert.Equal(t, []string{
		status.MouseCaptured(t0, 640, 360),
		status.CameraReleased,
	}, h.lines.Lines())

	caps := h.captures(t)
	require.Len(t, caps, 1)
	c := caps[0]
	assert.Equal(t, store.KindMouse, c.Kind)
	assert.Equal(t, store.StatusStored, c.Status)
	assert.Equal(t, StrategyEvent, c.Strategy)
	assert.Equal(t, "left", c.Button)
	assert.Equal(t, h.session.ID(), c.SessionID)
	assert.Equal(t, filepath.Join(h.outDir, camera.DefaultMouseDir, camera.FileName(t0, image.Pt(640, 360))), c.Path)
	assert.FileExists(t, c.Path)
	assert.Len(t, c.Digest, 64)
	assert.Equal(t, 16, c.Width)

	assert.Zero(t, h.platform.(*textPlatform).guiCalls, "clicks never query the caret")
	assert.True(t, h.device.closed)
	assert.True(t, h.platform.(*textPlatform).closed)

	sess, err := h.index.GetSession(h.session.ID())
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.False(t, sess.EndedAt.IsZero())
	assert.Equal(t, "test camera", sess.Camera)
}

func TestKeyPressCapturesAtCaret(t *testing.T) {
	h := newHarness(t, harnessOpts{recordKeys: true})
	h.run(t, input.NewKeyDown('a', t0))

	assert.Equal(t, status.KeyCaptured(t0, 110, 230, 'a', true), h.lines.Lines()[0])

	caps := h.captures(t)
	require.Len(t, caps, 1)
	assert.Equal(t, store.KindKeyboard, caps[0].Kind)
	assert.Equal(t, "gui-thread", caps[0].Strategy)
	assert.Equal(t, "a", caps[0].Key)
	assert.Equal(t, uint64(0x10), caps[0].Window)
	assert.Equal(t, 110, caps[0].X)
	assert.Equal(t, 230, caps[0].Y)
	assert.True(t, strings.HasPrefix(caps[0].Path, filepath.Join(h.outDir, camera.DefaultKeyboardDir)))
}

func TestKeyIsRedactedUnlessRecorded(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	h.run(t, input.NewKeyDown('s', t0))

	assert.Equal(t, status.KeyCaptured(t0, 110, 230, 's', false), h.lines.Lines()[0])
	assert.NotContains(t, h.lines.Lines()[0], "Key: s")
	assert.Empty(t, h.captures(t)[0].Key)
}

func TestBurstOfKeysReusesCaret(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	h.run(t,
		input.NewKeyDown('a', t0),
		input.NewKeyDown('b', t0.Add(30*time.Millisecond)),
		input.NewKeyDown('c', t0.Add(250*time.Millisecond)),
	)

	caps := h.captures(t)
	require.Len(t, caps, 3)
	assert.False(t, caps[0].Cached)
	assert.True(t, caps[1].Cached)
	assert.False(t, caps[2].Cached)
	assert.Equal(t, 2, h.platform.(*textPlatform).guiCalls)

	snap := h.registry.Snapshot()
	assert.Equal(t, 1.0, snap["gazecollect_caret_cache_hits_total"])
	assert.Equal(t, 2.0, snap["gazecollect_caret_queries_total"])
	assert.Equal(t, 2.0, snap[`gazecollect_caret_resolutions_total{strategy="gui-thread"}`])
}

func TestNoCaretSkipsCapture(t *testing.T) {
	h := newHarness(t, harnessOpts{
		platform:   &textPlatform{noCaret: true},
		strategies: []caret.Strategy{caret.StrategyGUIThread},
		recordKeys: true,
	})
	h.run(t, input.NewKeyDown('x', t0))

	assert.Equal(t, []string{
		"Failed to detect caret position for key: x",
		status.CameraReleased,
	}, h.lines.Lines())
	assert.Zero(t, h.device.reads)

	entries, err := os.ReadDir(filepath.Join(h.outDir, camera.DefaultKeyboardDir))
	require.NoError(t, err)
	assert.Empty(t, entries)

	caps := h.captures(t)
	require.Len(t, caps, 1)
	assert.Equal(t, store.StatusNoPoint, caps[0].Status)
	assert.Contains(t, caps[0].Reason, caret.ErrAllStrategiesFailed.Error())
	assert.Equal(t, 1.0, h.registry.Snapshot()["gazecollect_caret_failures_total"])
}

func TestDeviceFailureIsRecordedNotRetried(t *testing.T) {
	h := newHarness(t, harnessOpts{device: &frameDevice{err: errors.New("no frame")}})
	h.run(t,
		input.NewMouseDown(1, 2, "left", t0),
		input.NewKeyDown('k', t0.Add(time.Second)),
	)

	assert.Equal(t, []string{
		status.CameraFailed,
		status.CameraFailedOnKey,
		status.CameraReleased,
	}, h.lines.Lines())
	assert.Equal(t, 2, h.device.reads)

	caps := h.captures(t)
	require.Len(t, caps, 2)
	for _, c := range caps {
		assert.Equal(t, store.StatusDeviceFailed, c.Status)
		assert.Contains(t, c.Reason, camera.ErrFrameUnavailable.Error())
		assert.Empty(t, c.Path)
	}
	assert.Equal(t, 1.0,
		h.registry.Snapshot()[`gazecollect_captures_total{kind="keyboard",status="device_failed"}`])
}

func TestPointerFeedsCursorStrategy(t *testing.T) {
	pointer := caret.NewPointer()
	h := newHarness(t, harnessOpts{
		platform:   caret.NewPointerPlatform(pointer),
		pointer:    pointer,
		strategies: []caret.Strategy{caret.StrategyCursor},
	})
	h.run(t,
		input.NewMouseMove(5, 6, t0),
		input.NewKeyDown('q', t0.Add(time.Millisecond)),
	)

	caps := h.captures(t)
	require.Len(t, caps, 1, "moves are not captured")
	assert.Equal(t, "cursor", caps[0].Strategy)
	assert.Equal(t, 5, caps[0].X)
	assert.Equal(t, 6, caps[0].Y)
	assert.Equal(t, t0.Add(time.Millisecond).UnixNano(), h.session.LastEvent().UnixNano())
}

func TestPanicDropsOnlyThatEvent(t *testing.T) {
	h := newHarness(t, harnessOpts{device: &frameDevice{panics: 1}})
	h.run(t,
		input.NewMouseDown(1, 1, "left", t0),
		input.NewMouseDown(2, 2, "left", t0.Add(time.Second)),
	)

	lines := h.lines.Lines()
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "Error in mouse handler: "))
	assert.Contains(t, lines[0], "driver fault")
	assert.Equal(t, status.MouseCaptured(t0.Add(time.Second), 2, 2), lines[1])
	assert.Equal(t, 1.0, h.registry.Snapshot()["gazecollect_panics_total"])
	assert.Len(t, h.captures(t), 1)
}

func TestKeyPanicNamesKeyboardHandler(t *testing.T) {
	h := newHarness(t, harnessOpts{device: &frameDevice{panics: 1}})
	h.run(t, input.NewKeyDown('a', t0))

	lines := h.lines.Lines()
	require.NotEmpty(t, lines)
	assert.True(t, strings.HasPrefix(lines[0], "Error in keyboard handler: "))
	assert.Contains(t, lines[0], "driver fault")
}

func TestCancelledRunReportsTermination(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan struct{})
	src := input.SourceFunc(func(ctx context.Context, emit func(input.Event) error) error {
		if err := emit(input.NewMouseDown(3, 4, "left", t0)); err != nil {
			return err
		}
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})

	done := make(chan error, 1)
	go func() { done <- h.session.Run(ctx, src) }()
	<-started
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	lines := h.lines.Lines()
	require.Len(t, lines, 3)
	assert.Equal(t, status.Terminated, lines[1])
	assert.Equal(t, status.CameraReleased, lines[2])
	assert.True(t, h.device.closed)
}

func TestSourceErrorIsReturned(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	err := h.session.Run(context.Background(), input.SourceFunc(
		func(context.Context, func(input.Event) error) error { return input.ErrNotAvailable },
	))
	require.Error(t, err)
	assert.True(t, errors.Is(err, input.ErrNotAvailable))
	assert.Equal(t, []string{status.CameraReleased}, h.lines.Lines())
}

func TestApplyConfigDisablesTriggers(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	cfg := config.DefaultConfig()
	cfg.Caret.ThrottleMs = 40
	cfg.Caret.Anchor = "middle"
	cfg.Capture.Clicks = false
	h.session.ApplyConfig(cfg)

	h.run(t,
		input.NewMouseDown(9, 9, "left", t0),
		input.NewKeyDown('z', t0),
	)

	caps := h.captures(t)
	require.Len(t, caps, 1)
	assert.Equal(t, store.KindKeyboard, caps[0].Kind)
	// Middle anchor: 200 + (220-200)/2 = 210, plus the client origin.
	assert.Equal(t, 240, caps[0].Y)
	assert.Equal(t, 40*time.Millisecond, h.session.resolver.Throttle())
}

func TestCloseIsIdempotent(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	require.NoError(t, h.session.Close())
	require.NoError(t, h.session.Close())
	assert.Equal(t, []string{status.CameraReleased}, h.lines.Lines())
}
