// Package collector wires the input source, caret resolver, capture sink,
// capture index and status channel into one running session.
package collector

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gazecollect/internal/camera"
	"gazecollect/internal/caret"
	"gazecollect/internal/config"
	"gazecollect/internal/input"
	"gazecollect/internal/logging"
	"gazecollect/internal/metrics"
	"gazecollect/internal/status"
	"gazecollect/internal/store"
)

// StrategyEvent marks clicks, whose position comes from the event itself.
const StrategyEvent = "event"

// FrameSink stores one frame per capture.
type FrameSink interface {
	Capture(t camera.Target, pt image.Point, at time.Time) (camera.Artifact, error)
	Device() camera.Device
	Close() error
}

// Index records every capture attempt.
type Index interface {
	StartSession(sess *store.Session) (int64, error)
	EndSession(id int64, at time.Time) error
	Insert(c *store.Capture) (int64, error)
}

// Options configures a Session. Resolver, Pointer and Sink are required.
type Options struct {
	Resolver *caret.Resolver
	Pointer  *caret.Pointer
	Sink     FrameSink

	// Platform is closed when the session ends if it implements io.Closer.
	Platform caret.Platform

	Index    Index
	Reporter status.Reporter
	Metrics  *metrics.CollectorMetrics
	Crash    *logging.CrashHandler
	Logger   *slog.Logger

	// RecordKeys stores typed characters and shows them in status lines.
	RecordKeys bool

	// DisableClicks and DisableKeys switch off one trigger.
	DisableClicks bool
	DisableKeys   bool
}

// Session handles input events for one run of the collector.
type Session struct {
	resolver *caret.Resolver
	pointer  *caret.Pointer
	sink     FrameSink
	platform caret.Platform
	index    Index
	reporter status.Reporter
	metrics  *metrics.CollectorMetrics
	crash    *logging.CrashHandler
	logger   *slog.Logger

	recordKeys atomic.Bool
	clicks     atomic.Bool
	keys       atomic.Bool

	id        int64
	lastEvent atomic.Int64
	closeOnce sync.Once
}

// New validates opts and returns a Session.
func New(opts Options) (*Session, error) {
	switch {
	case opts.Resolver == nil:
		return nil, errors.New("collector: resolver is required")
	case opts.Pointer == nil:
		return nil, errors.New("collector: pointer is required")
	case opts.Sink == nil:
		return nil, errors.New("collector: sink is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	reporter := opts.Reporter
	if reporter == nil {
		reporter = status.Discard
	}
	crash := opts.Crash
	if crash == nil {
		crash = logging.NewCrashHandler(&logging.CrashHandlerConfig{
			Component: "collector",
			Logger:    logger,
		})
	}

	s := &Session{
		resolver: opts.Resolver,
		pointer:  opts.Pointer,
		sink:     opts.Sink,
		platform: opts.Platform,
		index:    opts.Index,
		reporter: reporter,
		metrics:  opts.Metrics,
		crash:    crash,
		logger:   logger,
	}
	s.recordKeys.Store(opts.RecordKeys)
	s.clicks.Store(!opts.DisableClicks)
	s.keys.Store(!opts.DisableKeys)
	return s, nil
}

// ID returns the index session ID, or 0 before Run or without an index.
func (s *Session) ID() int64 {
	return s.id
}

// LastEvent returns the timestamp of the most recent input event.
func (s *Session) LastEvent() time.Time {
	ns := s.lastEvent.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// ApplyConfig pushes the reloadable settings into the running session.
func (s *Session) ApplyConfig(cfg *config.Config) {
	s.resolver.SetThrottle(cfg.Throttle())
	if anchor, err := caret.ParseAnchor(cfg.Caret.Anchor); err == nil {
		s.resolver.SetAnchor(anchor)
	}
	s.recordKeys.Store(cfg.Capture.RecordKeys)
	s.clicks.Store(cfg.Capture.Clicks)
	s.keys.Store(cfg.Capture.Keys)
	s.logger.Info("configuration applied",
		"throttle", cfg.Throttle(),
		"anchor", cfg.Caret.Anchor,
		"clicks", cfg.Capture.Clicks,
		"keys", cfg.Capture.Keys,
	)
}

// Run starts an index session, streams events from src until ctx is
// cancelled or src ends, and then releases the device.
func (s *Session) Run(ctx context.Context, src input.Source) error {
	if err := s.begin(); err != nil {
		return err
	}
	defer s.Close()

	err := src.Stream(ctx, func(ev input.Event) error {
		if err := s.HandleEvent(ctx, ev); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		return nil
	})
	if ctx.Err() != nil {
		s.reporter.Report(status.Terminated)
		return nil
	}
	if err != nil {
		return fmt.Errorf("input source: %w", err)
	}
	return nil
}

func (s *Session) begin() error {
	if s.index == nil {
		return nil
	}
	host, _ := os.Hostname()
	names := make([]string, 0, 3)
	for _, st := range s.resolver.Strategies() {
		names = append(names, st.String())
	}
	id, err := s.index.StartSession(&store.Session{
		StartedAt:  time.Now(),
		Host:       host,
		Platform:   runtime.GOOS + "/" + runtime.GOARCH,
		Camera:     s.sink.Device().Name(),
		Strategies: strings.Join(names, ","),
	})
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	s.id = id
	s.crash.SetSessionID(id)
	s.logger.Info("session started", "session_id", id)
	return nil
}

// Close releases the device and the platform and closes the index session.
// It is safe to call more than once.
func (s *Session) Close() error {
	var errs []error
	s.closeOnce.Do(func() {
		if err := s.sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("release camera: %w", err))
		}
		s.reporter.Report(status.CameraReleased)

		if c, ok := s.platform.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close platform: %w", err))
			}
		}
		if s.index != nil && s.id != 0 {
			if err := s.index.EndSession(s.id, time.Now()); err != nil {
				errs = append(errs, err)
			}
		}
	})
	err := errors.Join(errs...)
	if err != nil {
		s.logger.Warn("session close", "error", err)
	}
	return err
}

// HandleEvent processes one event. A failure inside the handler, including
// a panic, drops this event only: it is reported on the status channel and
// returned, and the session keeps running.
func (s *Session) HandleEvent(ctx context.Context, ev input.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !ev.Timestamp.IsZero() {
		s.lastEvent.Store(ev.Timestamp.UnixNano())
	}
	if s.metrics != nil {
		s.metrics.Event(ev.Kind.String())
	}

	err := s.crash.Guard("handle "+ev.Kind.String(), map[string]any{"kind": ev.Kind.String()}, func() error {
		return s.handle(ev)
	})
	if err != nil {
		if s.metrics != nil && errors.Is(err, logging.ErrPanic) {
			s.metrics.Panics.Inc()
		}
		s.logger.Error("event dropped", "kind", ev.Kind.String(), "error", err)
		s.reporter.Report(status.HandlerError(handlerName(ev.Kind), err))
	}
	return err
}

// handlerName names the listener an event kind belongs to.
func handlerName(k input.Kind) string {
	if k == input.KeyDown {
		return "keyboard"
	}
	return "mouse"
}

func (s *Session) handle(ev input.Event) error {
	switch ev.Kind {
	case input.MouseMove:
		s.pointer.Observe(caret.Point{X: ev.X, Y: ev.Y}, ev.Timestamp)
		return nil
	case input.MouseDown:
		s.pointer.Observe(caret.Point{X: ev.X, Y: ev.Y}, ev.Timestamp)
		if !s.clicks.Load() {
			return nil
		}
		s.handleClick(ev)
		return nil
	case input.KeyDown:
		if !s.keys.Load() {
			return nil
		}
		s.handleKey(ev)
		return nil
	default:
		return fmt.Errorf("unknown event kind %s", ev.Kind)
	}
}

func (s *Session) handleClick(ev input.Event) {
	rec := &store.Capture{
		Kind:      store.KindMouse,
		Timestamp: ev.Timestamp,
		X:         ev.X,
		Y:         ev.Y,
		Strategy:  StrategyEvent,
		Button:    ev.Button,
	}
	if s.capture(camera.TargetMouse, rec) {
		s.reporter.Report(status.MouseCaptured(ev.Timestamp, ev.X, ev.Y))
	} else {
		s.reporter.Report(status.CameraFailed)
	}
}

func (s *Session) handleKey(ev input.Event) {
	showKey := s.recordKeys.Load()
	rec := &store.Capture{
		Kind:      store.KindKeyboard,
		Timestamp: ev.Timestamp,
	}
	if showKey {
		rec.Key = string(ev.Char)
	}

	res := s.resolve(ev.Timestamp)
	rec.Window = uint64(res.Window)
	if !res.OK() {
		s.logger.Debug("no caret position", "error", res.Err)
		rec.Status = store.StatusNoPoint
		rec.Reason = res.Err.Error()
		s.record(rec)
		s.reporter.Report(status.NoCaret(ev.Char, showKey))
		return
	}

	rec.X, rec.Y = res.Point.X, res.Point.Y
	rec.Strategy = res.Strategy.String()
	rec.Cached = res.Cached
	if s.capture(camera.TargetKeyboard, rec) {
		s.reporter.Report(status.KeyCaptured(ev.Timestamp, rec.X, rec.Y, ev.Char, showKey))
	} else {
		s.reporter.Report(status.CameraFailedOnKey)
	}
}

func (s *Session) resolve(at time.Time) caret.Result {
	start := time.Now()
	res := s.resolver.Resolve(at)
	if s.metrics == nil {
		return res
	}

	s.metrics.CaretLatency.Since(start)
	if res.Cached {
		s.metrics.CaretCacheHits.Inc()
		return res
	}
	s.metrics.CaretQueries.Inc()
	if res.OK() {
		s.metrics.Resolved(res.Strategy.String())
	} else {
		s.metrics.CaretFailures.Inc()
	}
	stats := s.resolver.Stats()
	s.metrics.CapabilityWindows.Set(int64(stats.Windows))
	s.metrics.DisabledWindows.Set(int64(stats.Disabled))
	return res
}

// capture grabs a frame for rec, fills in the outcome and indexes it. It
// reports whether a frame was stored.
func (s *Session) capture(t camera.Target, rec *store.Capture) bool {
	start := time.Now()
	art, err := s.sink.Capture(t, image.Pt(rec.X, rec.Y), rec.Timestamp)
	if s.metrics != nil {
		s.metrics.CaptureLatency.Since(start)
	}

	if err != nil {
		s.logger.Warn("capture failed", "target", t.String(), "error", err)
		rec.Status = store.StatusDeviceFailed
		rec.Reason = err.Error()
		s.record(rec)
		return false
	}

	rec.Status = store.StatusStored
	rec.Path = art.Path
	rec.Digest = hex.EncodeToString(art.Digest[:])
	rec.Width, rec.Height, rec.Bytes = art.Width, art.Height, art.Bytes
	if s.metrics != nil {
		s.metrics.FrameBytes.Observe(float64(art.Bytes))
	}
	s.record(rec)
	return true
}

func (s *Session) record(rec *store.Capture) {
	if s.metrics != nil {
		s.metrics.Capture(rec.Kind, string(rec.Status))
	}
	if s.index == nil {
		return
	}
	rec.SessionID = s.id
	if _, err := s.index.Insert(rec); err != nil {
		if s.metrics != nil {
			s.metrics.StoreErrors.Inc()
		}
		s.logger.Warn("index capture", "kind", rec.Kind, "error", err)
	}
}
