// Package llm provides completion clients for the hosted language
// model providers used by the answer pipeline.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultTimeout     = 60 * time.Second
	defaultMaxRetries  = 3
	defaultBaseBackoff = 1 * time.Second
	defaultRateLimit   = 2 // requests per second
	defaultBurst       = 4
	defaultMaxTokens   = 2048
)

var (
	// ErrInvalidConfig indicates a misconfigured client.
	ErrInvalidConfig = errors.New("invalid llm config")

	// ErrCompletionFailed indicates the provider call failed after retries.
	ErrCompletionFailed = errors.New("completion failed")

	// ErrEmptyResponse indicates the provider returned no content.
	ErrEmptyResponse = errors.New("empty completion response")
)

// Client produces a completion for a prompt.
type Client interface {
	// Complete sends the prompt and returns the model's text response.
	Complete(ctx context.Context, prompt string) (string, error)
}

// Config configures a completion client.
type Config struct {
	// Provider selects the implementation: anthropic or openai.
	Provider string `koanf:"provider"`

	// Model is the provider model identifier.
	Model string `koanf:"model"`

	// BaseURL overrides the provider endpoint. Empty uses the default.
	BaseURL string `koanf:"base_url"`

	// APIKey authenticates with the provider.
	APIKey string `koanf:"api_key"`

	// MaxTokens caps the completion length.
	MaxTokens int `koanf:"max_tokens"`

	// Temperature controls sampling. Grounded answers want it low.
	Temperature float64 `koanf:"temperature"`

	// Timeout bounds a single provider request.
	Timeout time.Duration `koanf:"timeout"`

	// MaxRetries bounds retry attempts for transient failures.
	MaxRetries int `koanf:"max_retries"`

	// RateLimit is the sustained request rate per second.
	RateLimit float64 `koanf:"rate_limit"`

	// Burst is the rate limiter burst size.
	Burst int `koanf:"burst"`
}

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.RateLimit <= 0 {
		c.RateLimit = defaultRateLimit
	}
	if c.Burst <= 0 {
		c.Burst = defaultBurst
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = defaultMaxTokens
	}
}

// New builds a client for the configured provider.
func New(config Config) (Client, error) {
	config.applyDefaults()
	switch config.Provider {
	case "anthropic":
		return NewAnthropicClient(config)
	case "openai":
		return NewOpenAIClient(config)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, config.Provider)
	}
}

// retryableError marks an error as safe to retry.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

func retryable(err error) error {
	return &retryableError{err: err}
}

// withRetry runs fn with exponential backoff, retrying only errors
// wrapped as retryable.
func withRetry(ctx context.Context, maxRetries int, limiter *rate.Limiter, fn func() error) error {
	var lastErr error
	backoff := defaultBaseBackoff

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		if err := limiter.Wait(ctx); err != nil {
			return err
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		var re *retryableError
		if !errors.As(err, &re) {
			return err
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrCompletionFailed, maxRetries+1, lastErr)
}

// ExtractJSON pulls a JSON object out of a model response that may be
// wrapped in markdown fences or surrounded by prose.
func ExtractJSON(raw string) (string, error) {
	s := strings.TrimSpace(raw)

	if idx := strings.Index(s, "```json"); idx >= 0 {
		s = s[idx+len("```json"):]
		if end := strings.Index(s, "```"); end >= 0 {
			s = s[:end]
		}
		s = strings.TrimSpace(s)
	} else if idx := strings.Index(s, "```"); idx >= 0 {
		s = s[idx+len("```"):]
		if end := strings.Index(s, "```"); end >= 0 {
			s = s[:end]
		}
		s = strings.TrimSpace(s)
	}

	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return "", fmt.Errorf("no JSON object found in response")
	}
	return s[start : end+1], nil
}
