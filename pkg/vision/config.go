package vision

import (
	"log/slog"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/teslashibe/go-envision/internal/httpc"
)

// Defaults for the Gemini endpoint.
const (
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	DefaultModel   = "gemini-2.5-flash"

	// ScopeGenerativeLanguage is the OAuth2 scope for application-default credentials.
	ScopeGenerativeLanguage = "https://www.googleapis.com/auth/generative-language"
)

// Config holds client settings.
type Config struct {
	BaseURL string
	Model   string

	// APIKey is sent as the key query parameter.
	APIKey string

	// TokenSource, when set, replaces the API key with a bearer token.
	TokenSource oauth2.TokenSource

	Timeouts httpc.Timeouts

	// HTTPClient overrides the client built from Timeouts.
	HTTPClient *http.Client

	Logger *slog.Logger
}

// Option configures the client.
type Option func(*Config)

// DefaultConfig returns the default Gemini settings.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:  DefaultBaseURL,
		Model:    DefaultModel,
		Timeouts: httpc.DefaultTimeouts(),
		Logger:   slog.Default(),
	}
}

// Apply applies options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate checks the config is usable.
func (c *Config) Validate() error {
	if c.APIKey == "" && c.TokenSource == nil {
		return ErrNoCredentials
	}
	if c.Model == "" {
		return ErrNoModel
	}
	return nil
}

// WithBaseURL overrides the API root, for proxies and tests.
func WithBaseURL(url string) Option {
	return func(c *Config) { c.BaseURL = url }
}

// WithModel sets the model name.
func WithModel(model string) Option {
	return func(c *Config) { c.Model = model }
}

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(c *Config) { c.APIKey = key }
}

// WithTokenSource authenticates with OAuth2 bearer tokens instead of a key.
func WithTokenSource(ts oauth2.TokenSource) Option {
	return func(c *Config) { c.TokenSource = ts }
}

// WithTimeouts sets connect, read and write timeouts.
func WithTimeouts(t httpc.Timeouts) Option {
	return func(c *Config) { c.Timeouts = t }
}

// WithHTTPClient uses client as-is.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Config) { c.HTTPClient = client }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		if logger != nil {
			c.Logger = logger
		}
	}
}
