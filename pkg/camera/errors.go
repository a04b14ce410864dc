package camera

import "errors"

var (
	// ErrUnsupportedFormat is returned when a frame's pixel format cannot be converted.
	ErrUnsupportedFormat = errors.New("camera: unsupported pixel format")

	// ErrCorruptFrame is returned when frame bytes do not match the declared format.
	ErrCorruptFrame = errors.New("camera: corrupt frame")

	// ErrNoFrame is returned by sources that have nothing to hand out yet.
	ErrNoFrame = errors.New("camera: no frame available")

	// ErrClosed is returned when capturing from a closed source.
	ErrClosed = errors.New("camera: source closed")
)

// IsUnconvertible reports whether err means the frame could not be turned
// into pixels at all, as opposed to a failure while compressing it.
func IsUnconvertible(err error) bool {
	return errors.Is(err, ErrUnsupportedFormat) || errors.Is(err, ErrCorruptFrame)
}
