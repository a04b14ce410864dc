// Package config loads go-envision configuration from an optional YAML file,
// environment variables and command-line flags, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-envision/pkg/camera"
)

// Default configuration values.
const (
	DefaultInterval = 5 * time.Second
	DefaultPrompt   = "Describe this image briefly for a person with low vision."
	DefaultBaseURL  = "https://generativelanguage.googleapis.com/v1beta"
	DefaultModel    = "gemini-2.5-flash"
	DefaultLanguage = "en-US"
)

// Config is the full daemon configuration.
type Config struct {
	Interval time.Duration `yaml:"interval"`
	Prompt   string        `yaml:"prompt"`

	// RequestsPerMinute caps inference calls; 0 means unlimited.
	RequestsPerMinute int `yaml:"requests_per_minute"`

	Gemini  Gemini  `yaml:"gemini"`
	Camera  Camera  `yaml:"camera"`
	Speech  Speech  `yaml:"speech"`
	Haptics Haptics `yaml:"haptics"`
	Web     Web     `yaml:"web"`
	Log     Log     `yaml:"log"`
}

// Gemini configures the inference endpoint.
type Gemini struct {
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
	APIKey  string `yaml:"api_key"`

	// Auth is "key" (query parameter) or "adc" (OAuth2 application default credentials).
	Auth string `yaml:"auth"`

	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
}

// Camera selects and tunes the frame source.
type Camera struct {
	// Source is one of "file", "http", "webcam", "webrtc".
	Source string `yaml:"source"`

	Path    string `yaml:"path"`     // file: image file or directory
	URL     string `yaml:"url"`      // http: snapshot URL
	Device  int    `yaml:"device"`   // webcam: device index
	RobotIP string `yaml:"robot_ip"` // webrtc: signalling host

	// Upload size, at most 640x480. JPEG quality is fixed at 80.
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// Speech selects the speech engine and its audio output.
type Speech struct {
	// Engine is one of "espeak", "openai", "elevenlabs".
	Engine   string `yaml:"engine"`
	Language string `yaml:"language"`
	Voice    string `yaml:"voice"`

	OpenAIKey     string `yaml:"openai_api_key"`
	ElevenLabsKey string `yaml:"elevenlabs_api_key"`

	// Sink is "command" (local player) or "rtp" (Opus over RTP/UDP).
	Sink    string   `yaml:"sink"`
	Player  []string `yaml:"player"`
	RTPAddr string   `yaml:"rtp_addr"`
}

// Haptics selects the vibration driver.
type Haptics struct {
	// Driver is "sysfs" or "none".
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

// Web configures the optional dashboard.
type Web struct {
	Addr string `yaml:"addr"`
}

// Log configures the global logger.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Interval: DefaultInterval,
		Prompt:   DefaultPrompt,
		Gemini: Gemini{
			BaseURL:        DefaultBaseURL,
			Model:          DefaultModel,
			Auth:           "key",
			ConnectTimeout: 30 * time.Second,
			ReadTimeout:    60 * time.Second,
			WriteTimeout:   60 * time.Second,
		},
		Camera: Camera{
			Source: "webcam",
			Width:  camera.MaxWidth,
			Height: camera.MaxHeight,
		},
		Speech: Speech{
			Engine:   "espeak",
			Language: DefaultLanguage,
			Sink:     "command",
			Player:   []string{"ffplay", "-nodisp", "-autoexit", "-loglevel", "quiet"},
			RTPAddr:  "127.0.0.1:5000",
		},
		Haptics: Haptics{
			Driver: "none",
		},
		Log: Log{
			Level: "info",
		},
	}
}

// Load returns Default overlaid with the YAML file at path (if non-empty)
// and then with environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays environment variables using lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("GEMINI_API_KEY"); ok && v != "" {
		c.Gemini.APIKey = v
	} else if v, ok := lookup("GOOGLE_API_KEY"); ok && v != "" && c.Gemini.APIKey == "" {
		c.Gemini.APIKey = v
	}
	if v, ok := lookup("ENVISION_INTERVAL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("ENVISION_INTERVAL: %w", err)
		}
		c.Interval = d
	}
	if v, ok := lookup("ROBOT_IP"); ok && v != "" {
		c.Camera.RobotIP = v
	}
	if v, ok := lookup("OPENAI_API_KEY"); ok && v != "" {
		c.Speech.OpenAIKey = v
	}
	if v, ok := lookup("ELEVENLABS_API_KEY"); ok && v != "" {
		c.Speech.ElevenLabsKey = v
	}
	if v, ok := lookup("ELEVENLABS_VOICE_ID"); ok && v != "" && c.Speech.Engine == "elevenlabs" {
		c.Speech.Voice = v
	}
	return nil
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Interval <= 0 {
		errs = append(errs, errors.New("interval must be positive"))
	}
	if strings.TrimSpace(c.Prompt) == "" {
		errs = append(errs, errors.New("prompt must not be empty"))
	}
	if c.RequestsPerMinute < 0 {
		errs = append(errs, errors.New("requests_per_minute must not be negative"))
	}

	switch c.Gemini.Auth {
	case "key":
		if c.Gemini.APIKey == "" {
			errs = append(errs, errors.New("gemini api key required (set GEMINI_API_KEY)"))
		}
	case "adc":
	default:
		errs = append(errs, fmt.Errorf("gemini.auth must be key or adc, got %q", c.Gemini.Auth))
	}
	if c.Gemini.Model == "" {
		errs = append(errs, errors.New("gemini.model must not be empty"))
	}

	switch c.Camera.Source {
	case "file":
		if c.Camera.Path == "" {
			errs = append(errs, errors.New("camera.path required for file source"))
		}
	case "http":
		if c.Camera.URL == "" {
			errs = append(errs, errors.New("camera.url required for http source"))
		}
	case "webrtc":
		if c.Camera.RobotIP == "" {
			errs = append(errs, errors.New("camera.robot_ip required for webrtc source (or set ROBOT_IP)"))
		}
	case "webcam":
	default:
		errs = append(errs, fmt.Errorf("unknown camera.source %q", c.Camera.Source))
	}
	size := camera.Config{Width: c.Camera.Width, Height: c.Camera.Height}
	for _, msg := range size.Validate() {
		errs = append(errs, errors.New("camera."+msg))
	}

	switch c.Speech.Engine {
	case "espeak":
	case "openai":
		if c.Speech.OpenAIKey == "" {
			errs = append(errs, errors.New("openai api key required for openai speech (set OPENAI_API_KEY)"))
		}
	case "elevenlabs":
		if c.Speech.ElevenLabsKey == "" {
			errs = append(errs, errors.New("elevenlabs api key required (set ELEVENLABS_API_KEY)"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown speech.engine %q", c.Speech.Engine))
	}
	switch c.Speech.Sink {
	case "command":
		// espeak-ng plays through its own audio output.
		if c.Speech.Engine != "espeak" && len(c.Speech.Player) == 0 {
			errs = append(errs, errors.New("speech.player required for command sink"))
		}
	case "rtp":
		if c.Speech.RTPAddr == "" {
			errs = append(errs, errors.New("speech.rtp_addr required for rtp sink"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown speech.sink %q", c.Speech.Sink))
	}

	switch c.Haptics.Driver {
	case "sysfs", "none":
	default:
		errs = append(errs, fmt.Errorf("unknown haptics.driver %q", c.Haptics.Driver))
	}

	return errors.Join(errs...)
}
