// Package camera captures still frames and prepares them for upload.
//
// A FrameSource hands out one Frame per Capture call. The Encoder turns any
// supported frame into a downscaled JPEG and its base64 form, ready to be
// inlined into an inference request.
package camera

import "fmt"

// JPEGQuality is the compression quality of every upload.
const JPEGQuality = 80

// Config holds the upload size. It can be lowered at runtime through a
// Manager but never raised above MaxWidth x MaxHeight.
type Config struct {
	Width  int `json:"width"`  // Target width in pixels
	Height int `json:"height"` // Target height in pixels
}

// Upload limits. The maximum is also the default.
const (
	MinWidth  = 64
	MinHeight = 48
	MaxWidth  = 640
	MaxHeight = 480
)

// DefaultConfig returns 640x480, light enough to upload every few seconds
// over a mobile link.
func DefaultConfig() Config {
	return Config{
		Width:  MaxWidth,
		Height: MaxHeight,
	}
}

// Validate checks if the config values are within valid ranges.
// Returns a list of validation errors, or nil if valid.
func (c *Config) Validate() []string {
	var errors []string

	if c.Width < MinWidth || c.Width > MaxWidth {
		errors = append(errors, fmt.Sprintf("width must be between %d and %d", MinWidth, MaxWidth))
	}
	if c.Height < MinHeight || c.Height > MaxHeight {
		errors = append(errors, fmt.Sprintf("height must be between %d and %d", MinHeight, MaxHeight))
	}

	return errors
}

// Preset names for common configurations
const (
	PresetDefault = "default"
	PresetLow     = "low"
)

// Presets returns all available preset configurations.
func Presets() map[string]Config {
	return map[string]Config{
		PresetDefault: DefaultConfig(),
		// Slow or metered links.
		PresetLow: {Width: 320, Height: 240},
	}
}

// GetPreset returns a preset config by name, or nil if not found.
func GetPreset(name string) *Config {
	if cfg, ok := Presets()[name]; ok {
		return &cfg
	}
	return nil
}
