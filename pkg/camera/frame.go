package camera

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"time"
)

// PixelFormat identifies how a Frame's bytes are laid out.
type PixelFormat int

const (
	FormatUnknown PixelFormat = iota
	FormatJPEG                // Data holds a complete JPEG file
	FormatNV21                // Y plane, then interleaved V/U at quarter resolution
	FormatI420                // Y plane, then U plane, then V plane
	FormatRGBA                // 4 bytes per pixel, row-major, no padding
	FormatImage               // Image holds an already decoded image
)

func (f PixelFormat) String() string {
	switch f {
	case FormatJPEG:
		return "jpeg"
	case FormatNV21:
		return "nv21"
	case FormatI420:
		return "i420"
	case FormatRGBA:
		return "rgba"
	case FormatImage:
		return "image"
	default:
		return fmt.Sprintf("unknown(%d)", int(f))
	}
}

// Frame is a single captured image. It is owned by whoever called Capture
// and must be released once encoded.
type Frame struct {
	Format    PixelFormat
	Width     int
	Height    int
	Data      []byte
	Image     image.Image
	Timestamp time.Time

	release func()
}

// NewFrame wraps raw bytes. onRelease, if non-nil, runs once on Release.
func NewFrame(format PixelFormat, width, height int, data []byte, onRelease func()) *Frame {
	return &Frame{
		Format:    format,
		Width:     width,
		Height:    height,
		Data:      data,
		Timestamp: time.Now(),
		release:   onRelease,
	}
}

// NewImageFrame wraps a decoded image.
func NewImageFrame(img image.Image) *Frame {
	b := img.Bounds()
	return &Frame{
		Format:    FormatImage,
		Width:     b.Dx(),
		Height:    b.Dy(),
		Image:     img,
		Timestamp: time.Now(),
	}
}

// Release drops the frame's buffers and returns them to the source.
// It is safe to call more than once.
func (f *Frame) Release() {
	if f == nil {
		return
	}
	if f.release != nil {
		f.release()
		f.release = nil
	}
	f.Data = nil
	f.Image = nil
}

// Decode converts the frame to an image.Image.
func (f *Frame) Decode() (image.Image, error) {
	switch f.Format {
	case FormatImage:
		if f.Image == nil {
			return nil, fmt.Errorf("%w: image frame without image", ErrCorruptFrame)
		}
		return f.Image, nil

	case FormatJPEG:
		img, err := jpeg.Decode(bytes.NewReader(f.Data))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptFrame, err)
		}
		return img, nil

	case FormatNV21:
		return decodeNV21(f.Data, f.Width, f.Height)

	case FormatI420:
		return decodeI420(f.Data, f.Width, f.Height)

	case FormatRGBA:
		if err := checkSize(f.Data, f.Width, f.Height, f.Width*f.Height*4); err != nil {
			return nil, err
		}
		return &image.RGBA{
			Pix:    f.Data,
			Stride: f.Width * 4,
			Rect:   image.Rect(0, 0, f.Width, f.Height),
		}, nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, f.Format)
	}
}

// DecodeBytes decodes an encoded image file (JPEG or PNG) into a Frame.
func DecodeBytes(data []byte) (*Frame, error) {
	if len(data) >= 2 && data[0] == 0xFF && data[1] == 0xD8 {
		cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptFrame, err)
		}
		return NewFrame(FormatJPEG, cfg.Width, cfg.Height, data, nil), nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	return NewImageFrame(img), nil
}

func checkSize(data []byte, w, h, want int) error {
	if w <= 0 || h <= 0 {
		return fmt.Errorf("%w: invalid dimensions %dx%d", ErrCorruptFrame, w, h)
	}
	if len(data) < want {
		return fmt.Errorf("%w: %dx%d needs %d bytes, got %d", ErrCorruptFrame, w, h, want, len(data))
	}
	return nil
}

func chromaSize(w, h int) (cw, ch int) {
	return (w + 1) / 2, (h + 1) / 2
}

// decodeNV21 builds a YCbCr image from the Android camera layout:
// a full Y plane followed by interleaved V,U pairs.
func decodeNV21(data []byte, w, h int) (image.Image, error) {
	cw, ch := chromaSize(w, h)
	ySize := w * h
	if err := checkSize(data, w, h, ySize+cw*ch*2); err != nil {
		return nil, err
	}

	img := image.NewYCbCr(image.Rect(0, 0, w, h), image.YCbCrSubsampleRatio420)
	copy(img.Y, data[:ySize])

	vu := data[ySize:]
	for i := 0; i < cw*ch; i++ {
		img.Cr[i] = vu[2*i]
		img.Cb[i] = vu[2*i+1]
	}
	return img, nil
}

// decodeI420 builds a YCbCr image from three consecutive planes.
func decodeI420(data []byte, w, h int) (image.Image, error) {
	cw, ch := chromaSize(w, h)
	ySize, cSize := w*h, cw*ch
	if err := checkSize(data, w, h, ySize+2*cSize); err != nil {
		return nil, err
	}

	img := image.NewYCbCr(image.Rect(0, 0, w, h), image.YCbCrSubsampleRatio420)
	copy(img.Y, data[:ySize])
	copy(img.Cb, data[ySize:ySize+cSize])
	copy(img.Cr, data[ySize+cSize:ySize+2*cSize])
	return img, nil
}
