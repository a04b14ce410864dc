// Package webcam captures frames from a local camera through OpenCV.
package webcam

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/teslashibe/go-envision/pkg/camera"
	"gocv.io/x/gocv"
)

// Source reads still frames from a V4L2/AVFoundation device.
// Captures are serialized; OpenCV capture handles are not safe for concurrent use.
type Source struct {
	device int
	vc     *gocv.VideoCapture
	mat    gocv.Mat
	mu     sync.Mutex
	closed bool
	logger *slog.Logger
}

// Open binds the camera at device index.
func Open(device, width, height int, logger *slog.Logger) (*Source, error) {
	if logger == nil {
		logger = slog.Default()
	}

	vc, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, fmt.Errorf("open camera %d: %w", device, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("open camera %d: device not available", device)
	}

	// Keep the driver queue short so Capture sees the current scene.
	vc.Set(gocv.VideoCaptureBufferSize, 1)
	if width > 0 && height > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(width))
		vc.Set(gocv.VideoCaptureFrameHeight, float64(height))
	}

	s := &Source{
		device: device,
		vc:     vc,
		mat:    gocv.NewMat(),
		logger: logger.With("component", "camera.webcam", "device", device),
	}
	s.logger.Info("camera bound",
		"width", int(vc.Get(gocv.VideoCaptureFrameWidth)),
		"height", int(vc.Get(gocv.VideoCaptureFrameHeight)),
	)
	return s, nil
}

// Capture grabs one frame and converts it to an RGBA image.
func (s *Source) Capture(ctx context.Context) (*camera.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, camera.ErrClosed
	}

	// Drop whatever the driver buffered before this call.
	s.vc.Grab(1)
	if ok := s.vc.Read(&s.mat); !ok || s.mat.Empty() {
		return nil, fmt.Errorf("camera %d: read failed", s.device)
	}

	img, err := s.mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", camera.ErrUnsupportedFormat, err)
	}
	return camera.NewImageFrame(img), nil
}

// Close releases the device.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.mat.Close()
	return s.vc.Close()
}

var _ camera.FrameSource = (*Source)(nil)
