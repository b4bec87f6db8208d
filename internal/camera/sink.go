package camera

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sunshineplan/imgconv"
	"golang.org/x/crypto/blake2b"
)

// Target selects the directory a capture is filed under.
type Target int

const (
	TargetMouse Target = iota
	TargetKeyboard
)

func (t Target) String() string {
	if t == TargetKeyboard {
		return "keyboard"
	}
	return "mouse"
}

// Default sink settings.
const (
	DefaultMouseDir    = "mouse_data"
	DefaultKeyboardDir = "keyboard_data"
	DefaultJPEGQuality = 90
)

// SinkOptions configures a Sink.
type SinkOptions struct {
	// OutputDir is the parent of MouseDir and KeyboardDir.
	OutputDir   string
	MouseDir    string
	KeyboardDir string

	JPEGQuality int

	// MaxWidth downsizes wider frames, keeping the aspect ratio. Zero keeps
	// the original size.
	MaxWidth int
}

// Artifact describes one stored frame.
type Artifact struct {
	Path      string
	Point     image.Point
	Timestamp time.Time
	Width     int
	Height    int
	Bytes     int64
	Digest    [blake2b.Size256]byte
}

// Sink turns (point, time) pairs into JPEG files.
type Sink struct {
	device  Device
	opts    SinkOptions
	mu      sync.Mutex
	stored  atomic.Uint64
	failed  atomic.Uint64
	lastErr atomic.Pointer[error]
}

// NewSink creates the output directories and returns a Sink reading from
// device.
func NewSink(device Device, opts SinkOptions) (*Sink, error) {
	if device == nil {
		return nil, errors.New("camera: device is required")
	}
	if opts.MouseDir == "" {
		opts.MouseDir = DefaultMouseDir
	}
	if opts.KeyboardDir == "" {
		opts.KeyboardDir = DefaultKeyboardDir
	}
	if opts.JPEGQuality <= 0 || opts.JPEGQuality > 100 {
		opts.JPEGQuality = DefaultJPEGQuality
	}
	s := &Sink{device: device, opts: opts}
	for _, dir := range []string{s.dir(TargetMouse), s.dir(TargetKeyboard)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create capture directory: %w", err)
		}
	}
	return s, nil
}

func (s *Sink) dir(t Target) string {
	if t == TargetKeyboard {
		return filepath.Join(s.opts.OutputDir, s.opts.KeyboardDir)
	}
	return filepath.Join(s.opts.OutputDir, s.opts.MouseDir)
}

// Capture reads one frame and stores it as
// {dir}/{timestamp}_{x}_{y}.jpg. It never retries; a device failure is
// returned wrapped in ErrFrameUnavailable.
func (s *Sink) Capture(t Target, pt image.Point, at time.Time) (Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	art, err := s.capture(t, pt, at)
	if err != nil {
		s.failed.Add(1)
		s.lastErr.Store(&err)
		return Artifact{}, err
	}
	s.stored.Add(1)
	s.lastErr.Store(nil)
	return art, nil
}

func (s *Sink) capture(t Target, pt image.Point, at time.Time) (Artifact, error) {
	img, err := s.device.Read()
	if err != nil {
		if errors.Is(err, ErrFrameUnavailable) {
			return Artifact{}, err
		}
		return Artifact{}, fmt.Errorf("%w: %w", ErrFrameUnavailable, err)
	}
	if img == nil {
		return Artifact{}, ErrFrameUnavailable
	}

	if s.opts.MaxWidth > 0 && img.Bounds().Dx() > s.opts.MaxWidth {
		img = imgconv.Resize(img, &imgconv.ResizeOption{Width: s.opts.MaxWidth})
	}

	var buf bytes.Buffer
	if err := imgconv.Write(&buf, img, &imgconv.FormatOption{
		Format:       imgconv.JPEG,
		EncodeOption: []imgconv.EncodeOption{imgconv.Quality(s.opts.JPEGQuality)},
	}); err != nil {
		return Artifact{}, fmt.Errorf("encode frame: %w", err)
	}

	path := filepath.Join(s.dir(t), FileName(at, pt))
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return Artifact{}, fmt.Errorf("write frame: %w", err)
	}

	b := img.Bounds()
	return Artifact{
		Path:      path,
		Point:     pt,
		Timestamp: at,
		Width:     b.Dx(),
		Height:    b.Dy(),
		Bytes:     int64(buf.Len()),
		Digest:    blake2b.Sum256(buf.Bytes()),
	}, nil
}

// Stats returns the number of stored and failed captures.
func (s *Sink) Stats() (stored, failed uint64) {
	return s.stored.Load(), s.failed.Load()
}

// LastError returns the error of the most recent capture, or nil if it
// succeeded.
func (s *Sink) LastError() error {
	if p := s.lastErr.Load(); p != nil {
		return *p
	}
	return nil
}

// Device returns the underlying device.
func (s *Sink) Device() Device {
	return s.device
}

// Close releases the device.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.device.Close()
}

// Timestamp formats t as YYYYMMDD_HHMMSS_ffffff.
func Timestamp(t time.Time) string {
	return t.Format("20060102_150405") + fmt.Sprintf("_%06d", t.Nanosecond()/1000)
}

// FileName returns the file name for a capture at t and pt.
func FileName(t time.Time, pt image.Point) string {
	return fmt.Sprintf("%s_%d_%d.jpg", Timestamp(t), pt.X, pt.Y)
}
