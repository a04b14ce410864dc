package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 5*time.Second, cfg.Interval)
	assert.Equal(t, DefaultPrompt, cfg.Prompt)
	assert.Equal(t, 640, cfg.Camera.Width)
	assert.Equal(t, 480, cfg.Camera.Height)
	assert.Equal(t, 30*time.Second, cfg.Gemini.ConnectTimeout)
	assert.Equal(t, 60*time.Second, cfg.Gemini.ReadTimeout)
	assert.Equal(t, 60*time.Second, cfg.Gemini.WriteTimeout)
	assert.Equal(t, "en-US", cfg.Speech.Language)
}

func TestDefaultNeedsAPIKey(t *testing.T) {
	cfg := Default()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GEMINI_API_KEY")

	cfg.Gemini.APIKey = "k"
	assert.NoError(t, cfg.Validate())
}

func TestApplyEnv(t *testing.T) {
	t.Run("gemini key wins over google key", func(t *testing.T) {
		cfg := Default()
		require.NoError(t, cfg.ApplyEnv(env(map[string]string{
			"GEMINI_API_KEY": "gem",
			"GOOGLE_API_KEY": "goo",
		})))
		assert.Equal(t, "gem", cfg.Gemini.APIKey)
	})

	t.Run("google key as fallback", func(t *testing.T) {
		cfg := Default()
		require.NoError(t, cfg.ApplyEnv(env(map[string]string{"GOOGLE_API_KEY": "goo"})))
		assert.Equal(t, "goo", cfg.Gemini.APIKey)
	})

	t.Run("interval", func(t *testing.T) {
		cfg := Default()
		require.NoError(t, cfg.ApplyEnv(env(map[string]string{"ENVISION_INTERVAL": "2s"})))
		assert.Equal(t, 2*time.Second, cfg.Interval)
	})

	t.Run("bad interval", func(t *testing.T) {
		cfg := Default()
		assert.Error(t, cfg.ApplyEnv(env(map[string]string{"ENVISION_INTERVAL": "soon"})))
	})

	t.Run("robot ip", func(t *testing.T) {
		cfg := Default()
		require.NoError(t, cfg.ApplyEnv(env(map[string]string{"ROBOT_IP": "10.0.0.2"})))
		assert.Equal(t, "10.0.0.2", cfg.Camera.RobotIP)
	})
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "envision.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
interval: 3s
requests_per_minute: 10
gemini:
  model: gemini-2.0-flash
  api_key: from-file
camera:
  source: file
  path: /tmp/frames
speech:
  engine: openai
  openai_api_key: sk-test
  sink: rtp
haptics:
  driver: sysfs
`), 0o644))

	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")
	t.Setenv("ENVISION_INTERVAL", "")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 3*time.Second, cfg.Interval)
	assert.Equal(t, 10, cfg.RequestsPerMinute)
	assert.Equal(t, "gemini-2.0-flash", cfg.Gemini.Model)
	assert.Equal(t, "from-file", cfg.Gemini.APIKey)
	assert.Equal(t, DefaultBaseURL, cfg.Gemini.BaseURL, "unset keys keep defaults")
	assert.Equal(t, "file", cfg.Camera.Source)
	assert.Equal(t, 640, cfg.Camera.Width)
	assert.Equal(t, "rtp", cfg.Speech.Sink)
	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidateReportsEverything(t *testing.T) {
	cfg := Default()
	cfg.Interval = 0
	cfg.Camera.Source = "floppy"
	cfg.Camera.Width = 1024
	cfg.Speech.Engine = "morse"
	cfg.Haptics.Driver = "rumble"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"interval", "floppy", "camera.width", "morse", "rumble", "api key"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidateUploadSize(t *testing.T) {
	tests := []struct {
		name          string
		width, height int
		ok            bool
	}{
		{"default", 640, 480, true},
		{"smaller", 320, 240, true},
		{"too wide", 1024, 480, false},
		{"too tall", 640, 768, false},
		{"zero", 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Gemini.APIKey = "k"
			cfg.Camera.Width, cfg.Camera.Height = tt.width, tt.height
			if tt.ok {
				assert.NoError(t, cfg.Validate())
			} else {
				assert.Error(t, cfg.Validate())
			}
		})
	}
}

func TestValidateRTPSinkForEveryEngine(t *testing.T) {
	for _, engine := range []string{"espeak", "openai"} {
		t.Run(engine, func(t *testing.T) {
			cfg := Default()
			cfg.Gemini.APIKey = "k"
			cfg.Speech.OpenAIKey = "sk"
			cfg.Speech.Engine = engine
			cfg.Speech.Sink = "rtp"
			cfg.Speech.RTPAddr = ""

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "rtp_addr")
		})
	}

	cfg := Default()
	cfg.Gemini.APIKey = "k"
	cfg.Speech.Player = nil
	assert.NoError(t, cfg.Validate(), "espeak plays without an external player")
}

func TestRequestsPerMinuteMustBeWhole(t *testing.T) {
	path := filepath.Join(t.TempDir(), "envision.yaml")
	require.NoError(t, os.WriteFile(path, []byte("requests_per_minute: 0.5\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err, "a fractional quota must not silently disable the limit")
}
