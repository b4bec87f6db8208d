package camera

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/blake2b"
)

type fakeDevice struct {
	width, height int
	err           error
	reads         int
	closed        bool
}

func (d *fakeDevice) Read() (image.Image, error) {
	d.reads++
	if d.err != nil {
		return nil, d.err
	}
	img := image.NewRGBA(image.Rect(0, 0, d.width, d.height))
	for x := 0; x < d.width; x++ {
		img.Set(x, d.height/2, color.RGBA{R: 200, A: 255})
	}
	return img, nil
}

func (d *fakeDevice) Close() error {
	d.closed = true
	return nil
}

func (d *fakeDevice) Name() string { return "fake" }

func TestTimestamp(t *testing.T) {
	at := time.Date(2024, 3, 9, 14, 5, 7, 123456789, time.UTC)
	assert.Equal(t, "20240309_140507_123456", Timestamp(at))
	assert.Equal(t, "20240309_140507_123456_512_300.jpg", FileName(at, image.Pt(512, 300)))
	assert.Equal(t, "20240309_140507_000000_-5_0.jpg", FileName(at.Truncate(time.Second), image.Pt(-5, 0)))
}

func TestNewSinkCreatesDirectories(t *testing.T) {
	dir := t.TempDir()
	_, err := NewSink(&fakeDevice{width: 4, height: 4}, SinkOptions{OutputDir: dir})
	require.NoError(t, err)

	for _, sub := range []string{DefaultMouseDir, DefaultKeyboardDir} {
		info, err := os.Stat(filepath.Join(dir, sub))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestCaptureWritesJPEG(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewSink(&fakeDevice{width: 64, height: 48}, SinkOptions{OutputDir: dir})
	require.NoError(t, err)

	at := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)
	art, err := sink.Capture(TargetKeyboard, image.Pt(110, 230), at)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, DefaultKeyboardDir, "20240309_140507_000000_110_230.jpg"), art.Path)
	assert.Equal(t, 64, art.Width)
	assert.Equal(t, 48, art.Height)

	data, err := os.ReadFile(art.Path)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), art.Bytes)
	assert.Equal(t, blake2b.Sum256(data), art.Digest)

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.Width)

	stored, failed := sink.Stats()
	assert.Equal(t, uint64(1), stored)
	assert.Equal(t, uint64(0), failed)
	assert.NoError(t, sink.LastError())
}

func TestCaptureDownsizes(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewSink(&fakeDevice{width: 64, height: 48}, SinkOptions{OutputDir: dir, MaxWidth: 32})
	require.NoError(t, err)

	art, err := sink.Capture(TargetMouse, image.Pt(1, 2), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 32, art.Width)
	assert.Equal(t, 24, art.Height)
	assert.Equal(t, filepath.Join(dir, DefaultMouseDir), filepath.Dir(art.Path))
}

func TestCaptureDeviceFailure(t *testing.T) {
	dir := t.TempDir()
	dev := &fakeDevice{err: errors.New("timeout")}
	sink, err := NewSink(dev, SinkOptions{OutputDir: dir})
	require.NoError(t, err)

	_, err = sink.Capture(TargetMouse, image.Pt(1, 2), time.Now())
	assert.ErrorIs(t, err, ErrFrameUnavailable)
	assert.ErrorIs(t, sink.LastError(), ErrFrameUnavailable)
	assert.Equal(t, 1, dev.reads)

	entries, err := os.ReadDir(filepath.Join(dir, DefaultMouseDir))
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, failed := sink.Stats()
	assert.Equal(t, uint64(1), failed)
}

func TestUnavailableDevice(t *testing.T) {
	cause := errors.New("no such device")
	dev := Unavailable(cause)
	assert.True(t, IsUnavailable(dev))

	_, err := dev.Read()
	assert.ErrorIs(t, err, ErrFrameUnavailable)
	assert.ErrorIs(t, err, cause)

	sink, err := NewSink(dev, SinkOptions{OutputDir: t.TempDir()})
	require.NoError(t, err)
	_, err = sink.Capture(TargetKeyboard, image.Pt(0, 0), time.Now())
	assert.ErrorIs(t, err, cause)
}

func TestSinkCloseReleasesDevice(t *testing.T) {
	dev := &fakeDevice{width: 1, height: 1}
	sink, err := NewSink(dev, SinkOptions{OutputDir: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, sink.Close())
	assert.True(t, dev.closed)
}
