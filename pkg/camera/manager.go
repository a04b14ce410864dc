package camera

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Manager holds the current encoding configuration and handles updates.
type Manager struct {
	config Config
	mu     sync.RWMutex

	// Callback when config changes
	OnConfigChange func(cfg Config) error
}

// NewManager creates a new manager with cfg, falling back to DefaultConfig
// if cfg is invalid.
func NewManager(cfg Config) *Manager {
	if len(cfg.Validate()) > 0 {
		cfg = DefaultConfig()
	}
	return &Manager{config: cfg}
}

// GetConfig returns the current configuration.
func (m *Manager) GetConfig() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// SetConfig validates and stores cfg.
func (m *Manager) SetConfig(cfg Config) error {
	if errors := cfg.Validate(); len(errors) > 0 {
		return fmt.Errorf("validation failed: %v", errors)
	}

	m.mu.Lock()
	m.config = cfg
	callback := m.OnConfigChange
	m.mu.Unlock()

	if callback != nil {
		if err := callback(cfg); err != nil {
			return fmt.Errorf("failed to apply config: %w", err)
		}
	}

	return nil
}

// UpdateConfig updates specific fields of the configuration.
// Accepts a map of field names to values; "preset" is applied first.
func (m *Manager) UpdateConfig(params map[string]interface{}) error {
	cfg := m.GetConfig()

	if name, ok := params["preset"].(string); ok {
		preset := GetPreset(name)
		if preset == nil {
			return fmt.Errorf("unknown preset: %s", name)
		}
		cfg = *preset
	}

	for key, value := range params {
		v, ok := toInt(value)
		if !ok {
			continue
		}
		switch key {
		case "width":
			cfg.Width = v
		case "height":
			cfg.Height = v
		case "quality":
			if v != JPEGQuality {
				return fmt.Errorf("quality is fixed at %d", JPEGQuality)
			}
		}
	}

	return m.SetConfig(cfg)
}

// Encoder returns an Encoder that reads the current configuration on every
// call, so updates apply from the next frame on.
func (m *Manager) Encoder() *Encoder {
	return &Encoder{settings: m.GetConfig}
}

func toInt(v interface{}) (int, bool) {
	switch val := v.(type) {
	case int:
		return val, true
	case int64:
		return int(val), true
	case float64:
		return int(val), true
	case json.Number:
		i, err := val.Int64()
		if err == nil {
			return int(i), true
		}
	}
	return 0, false
}
