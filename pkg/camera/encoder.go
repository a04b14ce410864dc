package camera

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"
)

// MIMEType is the content type of every encoded upload.
const MIMEType = "image/jpeg"

// Encoded is a frame ready for upload.
type Encoded struct {
	JPEG    []byte
	Base64  string
	Width   int
	Height  int
	Quality int
}

// Encoder downscales frames to a fixed size and compresses them as JPEG.
type Encoder struct {
	settings func() Config
}

// NewEncoder returns an encoder with fixed settings.
func NewEncoder(cfg Config) *Encoder {
	return &Encoder{settings: func() Config { return cfg }}
}

// Config returns the settings the next Encode call will use. Sizes outside
// 1..MaxWidth and 1..MaxHeight are replaced by the maximum.
func (e *Encoder) Config() Config {
	if e == nil || e.settings == nil {
		return DefaultConfig()
	}
	cfg := e.settings()
	if cfg.Width <= 0 || cfg.Width > MaxWidth {
		cfg.Width = MaxWidth
	}
	if cfg.Height <= 0 || cfg.Height > MaxHeight {
		cfg.Height = MaxHeight
	}
	return cfg
}

// Encode converts f to pixels, scales it to exactly the configured size,
// and JPEG/base64 encodes it at JPEGQuality. The frame is not released.
func (e *Encoder) Encode(f *Frame) (*Encoded, error) {
	if f == nil {
		return nil, fmt.Errorf("%w: nil frame", ErrCorruptFrame)
	}
	cfg := e.Config()

	src, err := f.Decode()
	if err != nil {
		return nil, err
	}

	dst := Scale(src, cfg.Width, cfg.Height)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, fmt.Errorf("jpeg encode: %w", err)
	}

	return &Encoded{
		JPEG:    buf.Bytes(),
		Base64:  base64.StdEncoding.EncodeToString(buf.Bytes()),
		Width:   cfg.Width,
		Height:  cfg.Height,
		Quality: JPEGQuality,
	}, nil
}

// Scale resizes src to w x h with bilinear filtering, ignoring aspect ratio.
func Scale(src image.Image, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}
