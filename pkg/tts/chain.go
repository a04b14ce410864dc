package tts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/text/language"
)

// Chain implements Provider by trying multiple providers in order.
// The first successful provider wins; if all fail, returns a ChainError.
type Chain struct {
	providers []Provider
	logger    *slog.Logger
}

// NewChain creates a provider chain that tries providers in order.
func NewChain(logger *slog.Logger, providers ...Provider) (*Chain, error) {
	if len(providers) == 0 {
		return nil, ErrProviderUnavailable
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{
		providers: providers,
		logger:    logger.With("component", "tts.chain"),
	}, nil
}

// Synthesize tries each provider until one succeeds.
func (c *Chain) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	var errs []error

	for i, p := range c.providers {
		result, err := p.Synthesize(ctx, text)
		if err == nil {
			if i > 0 {
				c.logger.Info("fallback provider succeeded",
					"provider_index", i,
					"chars", len(text),
				)
			}
			return result, nil
		}

		errs = append(errs, err)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Warn("provider failed, trying next",
			"provider_index", i,
			"error", err,
		)
	}

	return nil, &ChainError{Errors: errs}
}

// SetLanguage forwards tag to every provider that takes a language.
// It fails only if no provider accepts the tag.
func (c *Chain) SetLanguage(tag language.Tag) error {
	var accepted int
	var lastErr error
	for _, p := range c.providers {
		ls, ok := p.(LanguageSetter)
		if !ok {
			accepted++
			continue
		}
		if err := ls.SetLanguage(tag); err != nil {
			lastErr = err
			continue
		}
		accepted++
	}
	if accepted == 0 {
		return lastErr
	}
	return nil
}

// Health returns an error only if every provider is unhealthy.
func (c *Chain) Health(ctx context.Context) error {
	var healthy int
	var lastErr error

	for _, p := range c.providers {
		if err := p.Health(ctx); err != nil {
			lastErr = err
		} else {
			healthy++
		}
	}

	if healthy == 0 {
		return fmt.Errorf("all %d providers unhealthy: %w", len(c.providers), lastErr)
	}
	return nil
}

// Close closes all providers.
func (c *Chain) Close() error {
	var errs []error
	for _, p := range c.providers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ChainError aggregates errors from all providers in a chain.
type ChainError struct {
	Errors []error
}

// Error implements the error interface.
func (e *ChainError) Error() string {
	if len(e.Errors) == 0 {
		return "tts chain: no errors recorded"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("tts chain: %v", e.Errors[0])
	}
	return fmt.Sprintf("tts chain: all %d providers failed, last error: %v", len(e.Errors), e.Errors[len(e.Errors)-1])
}

// Unwrap returns all provider errors.
func (e *ChainError) Unwrap() []error {
	return e.Errors
}

var (
	_ Provider       = (*Chain)(nil)
	_ LanguageSetter = (*Chain)(nil)
)
