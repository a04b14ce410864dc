package camera

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func jpegBytes(t testing.TB, w, h int) []byte {
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, SolidImage(w, h, color.RGBA{R: 200, A: 255}), nil))
	return buf.Bytes()
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, Config{Width: 640, Height: 480}, cfg)
	assert.Empty(t, cfg.Validate())
}

func TestEncodeDefaultSizeAndQuality(t *testing.T) {
	src := SolidImage(1920, 1080, color.RGBA{G: 90, B: 200, A: 255})
	enc, err := NewEncoder(DefaultConfig()).Encode(NewImageFrame(src))
	require.NoError(t, err)

	assert.Equal(t, 640, enc.Width)
	assert.Equal(t, 480, enc.Height)
	assert.Equal(t, 80, enc.Quality)

	var want bytes.Buffer
	require.NoError(t, jpeg.Encode(&want, Scale(src, 640, 480), &jpeg.Options{Quality: 80}))
	assert.Equal(t, want.Bytes(), enc.JPEG, "output is the quality-80 JPEG of the scaled frame")

	raw, err := base64.StdEncoding.DecodeString(enc.Base64)
	require.NoError(t, err)
	assert.Equal(t, enc.JPEG, raw)
	assert.NotContains(t, enc.Base64, "\n")

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(enc.JPEG))
	require.NoError(t, err)
	assert.Equal(t, 640, cfg.Width)
	assert.Equal(t, 480, cfg.Height)
}

func TestEncodeNeverExceedsTarget(t *testing.T) {
	presets := []Config{*GetPreset(PresetDefault), *GetPreset(PresetLow)}

	rapid.Check(t, func(rt *rapid.T) {
		w := rapid.IntRange(1, 1600).Draw(rt, "w")
		h := rapid.IntRange(1, 1600).Draw(rt, "h")

		// Whatever a caller asks for, through a Manager or directly.
		m := NewManager(DefaultConfig())
		switch rapid.IntRange(0, 3).Draw(rt, "via") {
		case 1:
			_ = m.SetConfig(rapid.SampledFrom(presets).Draw(rt, "preset"))
		case 2:
			_ = m.UpdateConfig(map[string]interface{}{
				"width":   float64(rapid.IntRange(-10, 4000).Draw(rt, "cw")),
				"height":  float64(rapid.IntRange(-10, 4000).Draw(rt, "ch")),
				"quality": float64(rapid.IntRange(0, 100).Draw(rt, "q")),
			})
		}
		enc := m.Encoder()
		if rapid.Bool().Draw(rt, "direct") {
			enc = NewEncoder(Config{
				Width:  rapid.IntRange(-10, 4000).Draw(rt, "dw"),
				Height: rapid.IntRange(-10, 4000).Draw(rt, "dh"),
			})
		}

		out, err := enc.Encode(NewImageFrame(image.NewRGBA(image.Rect(0, 0, w, h))))
		if err != nil {
			rt.Fatalf("encode %dx%d: %v", w, h, err)
		}
		cfg, err := jpeg.DecodeConfig(bytes.NewReader(out.JPEG))
		if err != nil {
			rt.Fatalf("decode: %v", err)
		}
		if cfg.Width > 640 || cfg.Height > 480 {
			rt.Fatalf("%dx%d input encoded to %dx%d", w, h, cfg.Width, cfg.Height)
		}
		if out.Quality != 80 {
			rt.Fatalf("quality %d", out.Quality)
		}
	})
}

func TestManagerRejectsLargerOrLossier(t *testing.T) {
	m := NewManager(DefaultConfig())

	assert.Error(t, m.UpdateConfig(map[string]interface{}{"preset": "detail"}))
	assert.Error(t, m.UpdateConfig(map[string]interface{}{"width": float64(1024), "height": float64(768)}))
	assert.Error(t, m.UpdateConfig(map[string]interface{}{"quality": float64(85)}))
	assert.Error(t, m.SetConfig(Config{Width: 1920, Height: 1080}))
	assert.Equal(t, DefaultConfig(), m.GetConfig())

	assert.NoError(t, m.UpdateConfig(map[string]interface{}{"quality": float64(80)}))
	for name, p := range Presets() {
		assert.Empty(t, p.Validate(), name)
	}
}

func TestDecodeFormats(t *testing.T) {
	const w, h = 4, 2
	y := []byte{10, 20, 30, 40, 50, 60, 70, 80}

	t.Run("nv21", func(t *testing.T) {
		data := append(append([]byte{}, y...), 200, 100, 210, 110) // V,U pairs
		img, err := NewFrame(FormatNV21, w, h, data, nil).Decode()
		require.NoError(t, err)

		ycc := img.(*image.YCbCr)
		assert.Equal(t, y, ycc.Y)
		assert.Equal(t, []byte{100, 110}, ycc.Cb)
		assert.Equal(t, []byte{200, 210}, ycc.Cr)
	})

	t.Run("i420", func(t *testing.T) {
		data := append(append([]byte{}, y...), 100, 110, 200, 210)
		img, err := NewFrame(FormatI420, w, h, data, nil).Decode()
		require.NoError(t, err)

		ycc := img.(*image.YCbCr)
		assert.Equal(t, []byte{100, 110}, ycc.Cb)
		assert.Equal(t, []byte{200, 210}, ycc.Cr)
	})

	t.Run("rgba", func(t *testing.T) {
		img, err := NewFrame(FormatRGBA, 2, 1, []byte{1, 2, 3, 255, 4, 5, 6, 255}, nil).Decode()
		require.NoError(t, err)
		assert.Equal(t, color.RGBA{4, 5, 6, 255}, img.At(1, 0))
	})

	t.Run("jpeg", func(t *testing.T) {
		img, err := NewFrame(FormatJPEG, 0, 0, jpegBytes(t, 32, 16), nil).Decode()
		require.NoError(t, err)
		assert.Equal(t, image.Rect(0, 0, 32, 16), img.Bounds())
	})

	t.Run("short buffer", func(t *testing.T) {
		_, err := NewFrame(FormatNV21, w, h, y, nil).Decode()
		assert.ErrorIs(t, err, ErrCorruptFrame)
		assert.True(t, IsUnconvertible(err))
	})

	t.Run("unknown format", func(t *testing.T) {
		_, err := NewFrame(FormatUnknown, w, h, y, nil).Decode()
		assert.ErrorIs(t, err, ErrUnsupportedFormat)
		assert.True(t, IsUnconvertible(err))
	})

	t.Run("garbage jpeg", func(t *testing.T) {
		_, err := NewEncoder(DefaultConfig()).Encode(NewFrame(FormatJPEG, 1, 1, []byte{0xFF, 0xD8, 0}, nil))
		assert.True(t, IsUnconvertible(err))
	})
}

func TestFrameRelease(t *testing.T) {
	calls := 0
	f := NewFrame(FormatJPEG, 1, 1, []byte{1}, func() { calls++ })
	f.Release()
	f.Release()

	assert.Equal(t, 1, calls)
	assert.Nil(t, f.Data)

	var nilFrame *Frame
	nilFrame.Release()
}

func TestDecodeBytes(t *testing.T) {
	f, err := DecodeBytes(jpegBytes(t, 20, 10))
	require.NoError(t, err)
	assert.Equal(t, FormatJPEG, f.Format)
	assert.Equal(t, 20, f.Width)
	assert.Equal(t, 10, f.Height)

	var pngBuf bytes.Buffer
	require.NoError(t, png.Encode(&pngBuf, SolidImage(3, 5, color.White)))
	f, err = DecodeBytes(pngBuf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, FormatImage, f.Format)
	assert.Equal(t, 3, f.Width)

	_, err = DecodeBytes([]byte("not an image"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestFileSource(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.jpg"), jpegBytes(t, 8, 8), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.jpg"), jpegBytes(t, 16, 16), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	src, err := NewFileSource(dir)
	require.NoError(t, err)
	assert.Len(t, src.Files(), 2)

	ctx := context.Background()
	widths := []int{}
	for i := 0; i < 3; i++ {
		f, err := src.Capture(ctx)
		require.NoError(t, err)
		widths = append(widths, f.Width)
		f.Release()
	}
	assert.Equal(t, []int{16, 8, 16}, widths, "name order, wrapping around")

	require.NoError(t, src.Close())
	_, err = src.Capture(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestFileSourceEmptyDir(t *testing.T) {
	_, err := NewFileSource(t.TempDir())
	assert.Error(t, err)
}

func TestHTTPSource(t *testing.T) {
	body := jpegBytes(t, 12, 6)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/broken" {
			http.Error(w, "nope", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(body)
	}))
	defer srv.Close()

	src := NewHTTPSource(srv.URL+"/snapshot", nil)
	defer src.Close()

	f, err := src.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 12, f.Width)

	_, err = NewHTTPSource(srv.URL+"/broken", nil).Capture(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestManager(t *testing.T) {
	m := NewManager(Config{})
	assert.Equal(t, DefaultConfig(), m.GetConfig(), "invalid initial config falls back to default")

	var applied Config
	m.OnConfigChange = func(cfg Config) error {
		applied = cfg
		return nil
	}

	require.NoError(t, m.UpdateConfig(map[string]interface{}{"preset": PresetLow, "height": float64(200)}))
	assert.Equal(t, Config{Width: 320, Height: 200}, m.GetConfig())
	assert.Equal(t, m.GetConfig(), applied)

	assert.Error(t, m.UpdateConfig(map[string]interface{}{"preset": "8k"}))
	assert.Error(t, m.UpdateConfig(map[string]interface{}{"width": 0}))
	assert.Equal(t, 200, m.GetConfig().Height, "rejected updates leave config alone")

	enc := m.Encoder()
	out, err := enc.Encode(NewImageFrame(SolidImage(800, 600, color.Black)))
	require.NoError(t, err)
	assert.Equal(t, 320, out.Width)

	m.OnConfigChange = func(Config) error { return errors.New("camera busy") }
	assert.Error(t, m.SetConfig(DefaultConfig()))
}

func TestMockSource(t *testing.T) {
	m := NewMock()
	f, err := m.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1280, f.Width)
	f.Release()

	assert.Equal(t, 1, m.Captures())
	assert.Equal(t, 1, m.Released())
}
