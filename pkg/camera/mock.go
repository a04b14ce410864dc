package camera

import (
	"context"
	"image"
	"image/color"
	"sync"
	"sync/atomic"
)

// Mock implements FrameSource for testing.
type Mock struct {
	// CaptureFunc is called when Capture is invoked.
	// If nil, returns a solid gray 1280x720 frame.
	CaptureFunc func(ctx context.Context) (*Frame, error)

	captures atomic.Int64
	released atomic.Int64
	closed   atomic.Bool
	mu       sync.Mutex
}

// NewMock creates a mock source that returns solid frames.
func NewMock() *Mock {
	return &Mock{}
}

// Capture calls CaptureFunc and counts the call.
func (m *Mock) Capture(ctx context.Context) (*Frame, error) {
	m.captures.Add(1)

	m.mu.Lock()
	fn := m.CaptureFunc
	m.mu.Unlock()

	var f *Frame
	var err error
	if fn != nil {
		f, err = fn(ctx)
	} else {
		f = NewImageFrame(SolidImage(1280, 720, color.RGBA{R: 128, G: 128, B: 128, A: 255}))
	}
	if f != nil {
		prev := f.release
		f.release = func() {
			m.released.Add(1)
			if prev != nil {
				prev()
			}
		}
	}
	return f, err
}

// Close marks the mock closed.
func (m *Mock) Close() error {
	m.closed.Store(true)
	return nil
}

// Captures returns the number of Capture calls.
func (m *Mock) Captures() int { return int(m.captures.Load()) }

// Released returns how many captured frames were released.
func (m *Mock) Released() int { return int(m.released.Load()) }

// Closed reports whether Close was called.
func (m *Mock) Closed() bool { return m.closed.Load() }

// SolidImage returns a w x h image filled with c.
func SolidImage(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	r, g, b, a := c.RGBA()
	px := []byte{byte(r >> 8), byte(g >> 8), byte(b >> 8), byte(a >> 8)}
	for i := 0; i < len(img.Pix); i += 4 {
		copy(img.Pix[i:i+4], px)
	}
	return img
}

var _ FrameSource = (*Mock)(nil)
