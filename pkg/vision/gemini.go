package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"

	"github.com/teslashibe/go-envision/internal/httpc"
)

// maxBody bounds how much of a response is read.
const maxBody = 4 << 20

// Gemini calls the generateContent endpoint.
type Gemini struct {
	config *Config
	client *http.Client
	logger *slog.Logger
}

// NewGemini creates a Gemini client.
func NewGemini(opts ...Option) (*Gemini, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	client := cfg.HTTPClient
	if client == nil {
		client = httpc.NewClient(cfg.Timeouts)
	}
	if cfg.TokenSource != nil {
		base := client.Transport
		if base == nil {
			base = http.DefaultTransport
		}
		client = &http.Client{
			Transport: &oauth2.Transport{Source: cfg.TokenSource, Base: base},
			Timeout:   client.Timeout,
		}
	}

	return &Gemini{
		config: cfg,
		client: client,
		logger: cfg.Logger.With("component", "vision.gemini"),
	}, nil
}

// Model returns the configured model name.
func (g *Gemini) Model() string {
	return g.config.Model
}

// Describe sends the prompt and image and returns the first candidate text.
func (g *Gemini) Describe(ctx context.Context, r Request) (*Response, error) {
	start := time.Now()

	body, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("vision: marshal request: %w", err)
	}

	g.logger.Debug("sending request",
		"model", g.config.Model,
		"payload_chars", len(r.Image),
		"body_bytes", len(body),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint(":generateContent"), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("vision: create request: %w", redact(err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vision: generateContent: %w", redact(err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("vision: read response: %w", redact(err))
	}
	latency := time.Since(start).Milliseconds()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newHTTPError(resp.StatusCode, resp.Header, raw)
	}

	text, err := ParseResponse(raw)
	if err != nil {
		return nil, err
	}

	g.logger.Debug("response received",
		"status", resp.StatusCode,
		"chars", len(text),
		"latency_ms", latency,
	)

	return &Response{
		Text:         text,
		Model:        g.config.Model,
		StatusCode:   resp.StatusCode,
		PayloadChars: len(r.Image),
		LatencyMs:    latency,
	}, nil
}

// Health checks that the model exists and the credentials are accepted.
func (g *Gemini) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoint(""), nil)
	if err != nil {
		return fmt.Errorf("vision: create request: %w", redact(err))
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("vision: health check: %w", redact(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxBody))
		return newHTTPError(resp.StatusCode, resp.Header, raw)
	}
	return nil
}

// Close releases idle connections.
func (g *Gemini) Close() error {
	g.client.CloseIdleConnections()
	return nil
}

// endpoint builds {base}/models/{model}{suffix}, adding the key when no
// token source is configured.
func (g *Gemini) endpoint(suffix string) string {
	u := g.config.BaseURL + "/models/" + url.PathEscape(g.config.Model) + suffix
	if g.config.TokenSource == nil {
		u += "?key=" + url.QueryEscape(g.config.APIKey)
	}
	return u
}

// ParseResponse extracts candidates[0].content.parts[0].text, trimmed.
// Missing fields yield "" and no error; a body that is not a JSON object
// yields a *ParseError.
func ParseResponse(body []byte) (string, error) {
	var root map[string]any
	if err := json.Unmarshal(body, &root); err != nil {
		return "", &ParseError{Err: err, Body: truncate(string(body), 512)}
	}
	if root == nil {
		return "", &ParseError{Err: errors.New("null body"), Body: "null"}
	}

	candidate := firstObject(root["candidates"])
	if candidate == nil {
		return "", nil
	}
	content, _ := candidate["content"].(map[string]any)
	if content == nil {
		return "", nil
	}
	part := firstObject(content["parts"])
	if part == nil {
		return "", nil
	}
	text, _ := part["text"].(string)
	return strings.TrimSpace(text), nil
}

func firstObject(v any) map[string]any {
	list, _ := v.([]any)
	if len(list) == 0 {
		return nil
	}
	obj, _ := list[0].(map[string]any)
	return obj
}

// newHTTPError decodes Google's error envelope from an already read body.
func newHTTPError(status int, header http.Header, body []byte) *HTTPError {
	e := &HTTPError{StatusCode: status, Body: truncate(string(body), 1024)}

	err := googleapi.CheckResponse(&http.Response{
		StatusCode: status,
		Header:     header,
		Body:       io.NopCloser(bytes.NewReader(body)),
	})
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		e.Message = gerr.Message
		if e.Message == "" && len(gerr.Errors) > 0 {
			e.Message = gerr.Errors[0].Message
		}
	}
	return e
}

// redact strips the query string from *url.Error so the API key never
// appears in error text.
func redact(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		if u, perr := url.Parse(ue.URL); perr == nil {
			u.RawQuery = ""
			ue.URL = u.String()
		} else {
			ue.URL = "<redacted>"
		}
	}
	return err
}
