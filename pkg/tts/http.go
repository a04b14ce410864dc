package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// maxAudio bounds a single synthesized utterance.
const maxAudio = 32 << 20

// poster sends JSON requests for one provider, retrying 429 and 5xx.
type poster struct {
	provider string
	client   *http.Client
	config   *Config
	logger   *slog.Logger
	header   func(*http.Request)
}

// post sends payload to url and returns the body of a 200 reply.
func (p *poster) post(ctx context.Context, url string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, WrapError(p.provider, fmt.Errorf("marshal payload: %w", err))
	}

	var lastErr error
	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.config.RetryDelay * time.Duration(attempt)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, WrapError(p.provider, fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		p.header(req)

		resp, err := p.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = WrapError(p.provider, err)
			continue
		}

		if resp.StatusCode == http.StatusOK {
			audio, err := io.ReadAll(io.LimitReader(resp.Body, maxAudio))
			resp.Body.Close()
			if err != nil {
				return nil, WrapError(p.provider, fmt.Errorf("read response: %w", err))
			}
			return audio, nil
		}

		apiErr := p.parseError(resp)
		resp.Body.Close()
		if !apiErr.IsRetryable() {
			return nil, apiErr
		}
		lastErr = apiErr
		p.logger.Warn("retrying request",
			"attempt", attempt+1,
			"status", resp.StatusCode,
		)
	}

	return nil, lastErr
}

// get issues a GET used for health checks.
func (p *poster) get(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return WrapError(p.provider, err)
	}
	p.header(req)

	resp, err := p.client.Do(req)
	if err != nil {
		return WrapError(p.provider, fmt.Errorf("health check: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return p.parseError(resp)
	}
	return nil
}

// parseError reads an error body in either the OpenAI or ElevenLabs shape.
func (p *poster) parseError(resp *http.Response) *APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Code    string `json:"code"`
		} `json:"error"`
		Detail struct {
			Status  string `json:"status"`
			Message string `json:"message"`
		} `json:"detail"`
	}

	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Message:    string(body),
		Provider:   p.provider,
	}
	if json.Unmarshal(body, &errResp) == nil {
		switch {
		case errResp.Error.Message != "":
			apiErr.Message = errResp.Error.Message
			apiErr.Code = errResp.Error.Code
		case errResp.Detail.Message != "":
			apiErr.Message = errResp.Detail.Message
			apiErr.Code = errResp.Detail.Status
		}
	}
	return apiErr
}
