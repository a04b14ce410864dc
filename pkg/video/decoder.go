package video

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// Decoder turns an Annex-B H.264 stream into a JPEG of its last picture.
type Decoder interface {
	DecodeLast(ctx context.Context, h264 []byte) ([]byte, error)
}

// FFmpeg decodes by piping the stream through an ffmpeg process.
type FFmpeg struct {
	// Path to the ffmpeg binary. Defaults to "ffmpeg" on $PATH.
	Path string

	// Timeout bounds a single decode. Defaults to 3s.
	Timeout time.Duration
}

// DecodeLast runs ffmpeg once, emitting every picture as MJPEG, and returns
// the final one.
func (d FFmpeg) DecodeLast(ctx context.Context, h264 []byte) ([]byte, error) {
	path := d.Path
	if path == "" {
		path = "ffmpeg"
	}
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, path,
		"-loglevel", "error",
		"-f", "h264", // Input format
		"-i", "pipe:0", // Read from stdin
		"-f", "image2pipe", // Output as pipe
		"-vcodec", "mjpeg", // One JPEG per picture
		"-q:v", "3", // Quality (1-31, lower is better)
		"pipe:1",
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdin = bytes.NewReader(h264)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil && stdout.Len() == 0 {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("ffmpeg: %w", ctx.Err())
		}
		return nil, fmt.Errorf("ffmpeg: %w: %s", err, bytes.TrimSpace(stderr.Bytes()))
	}

	jpg := lastJPEG(stdout.Bytes())
	if jpg == nil {
		return nil, errors.New("ffmpeg: no picture decoded")
	}
	return jpg, nil
}

// lastJPEG returns the last complete JPEG in a concatenated MJPEG stream.
func lastJPEG(stream []byte) []byte {
	end := bytes.LastIndex(stream, []byte{0xFF, 0xD9})
	if end < 0 {
		return nil
	}
	start := bytes.LastIndex(stream[:end], []byte{0xFF, 0xD8, 0xFF})
	if start < 0 {
		return nil
	}
	return append([]byte(nil), stream[start:end+2]...)
}
