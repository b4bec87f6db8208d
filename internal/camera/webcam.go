//go:build cgo && !nocamera

package camera

import (
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// webcam reads frames through OpenCV.
type webcam struct {
	mu    sync.Mutex
	index int
	vc    *gocv.VideoCapture
	frame gocv.Mat
}

// Open opens the video device with the given index.
func Open(index int) (Device, error) {
	vc, err := gocv.OpenVideoCapture(index)
	if err != nil {
		return nil, fmt.Errorf("%w: device %d: %w", ErrDeviceUnavailable, index, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("%w: device %d not opened", ErrDeviceUnavailable, index)
	}
	return &webcam{index: index, vc: vc, frame: gocv.NewMat()}, nil
}

func (w *webcam) Read() (image.Image, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if ok := w.vc.Read(&w.frame); !ok || w.frame.Empty() {
		return nil, ErrFrameUnavailable
	}
	img, err := w.frame.ToImage()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFrameUnavailable, err)
	}
	return img, nil
}

func (w *webcam) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.frame.Close()
	return w.vc.Close()
}

func (w *webcam) Name() string {
	return fmt.Sprintf("video%d", w.index)
}
