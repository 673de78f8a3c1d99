// Package embeddings provides a client for an OpenAI-compatible
// embedding service.
package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("embedding generation failed")

	// ErrDimensionMismatch indicates the service returned vectors of an
	// unexpected dimension. Not retried: retrying cannot fix a model
	// misconfiguration.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Config holds configuration for the embedding client.
type Config struct {
	// BaseURL is the base URL for the embedding API.
	BaseURL string `koanf:"base_url"`

	// Model is the embedding model to request.
	Model string `koanf:"model"`

	// APIKey authenticates against hosted providers (optional for
	// self-hosted services).
	APIKey string `koanf:"api_key"`

	// Dimension is the expected vector dimension. Responses with a
	// different dimension are rejected.
	Dimension int `koanf:"dimension"`

	// MaxRetries is the number of attempts per request. Default: 3.
	MaxRetries int `koanf:"max_retries"`

	// Timeout is the per-request HTTP timeout. Default: 30s.
	Timeout time.Duration `koanf:"timeout"`
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "http://localhost:8080"
	}
	if c.Model == "" {
		c.Model = "text-embedding-3-small"
	}
	if c.Dimension == 0 {
		c.Dimension = 1536
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	return nil
}

// Client generates embeddings via an OpenAI-compatible /v1/embeddings
// endpoint.
type Client struct {
	config  Config
	client  *http.Client
	logger  *zap.Logger
	metrics *Metrics
}

// NewClient creates an embedding client with the given configuration.
func NewClient(config Config, logger *zap.Logger) (*Client, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		config:  config,
		client:  &http.Client{Timeout: config.Timeout},
		logger:  logger,
		metrics: NewMetrics(logger),
	}, nil
}

// Dimension returns the configured vector dimension.
func (c *Client) Dimension() int {
	return c.config.Dimension
}

// ZeroVector returns an all-zero vector of the configured dimension.
// Stored for empty chunks so vector IDs stay aligned with chunk indices.
func (c *Client) ZeroVector() []float32 {
	return make([]float32, c.config.Dimension)
}

type embedRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

type embedErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// EmbedQuery generates an embedding for a single query text.
// An empty query yields the zero vector without a service call.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedDocuments generates embeddings for multiple texts.
//
// The result is order-preserving and length-preserving: vector i
// corresponds to texts[i]. Empty texts map to zero vectors and are not
// sent to the service.
func (c *Client) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	var genErr error
	defer func() {
		c.metrics.RecordGeneration(ctx, c.config.Model, "embed_documents", time.Since(start), len(texts), genErr)
	}()

	if len(texts) == 0 {
		genErr = fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
		return nil, genErr
	}

	vectors := make([][]float32, len(texts))

	// Collect non-empty texts; empty entries get zero vectors.
	nonEmpty := make([]string, 0, len(texts))
	positions := make([]int, 0, len(texts))
	for i, t := range texts {
		if t == "" {
			vectors[i] = c.ZeroVector()
			continue
		}
		nonEmpty = append(nonEmpty, t)
		positions = append(positions, i)
	}

	if len(nonEmpty) == 0 {
		return vectors, nil
	}

	embedded, err := c.requestWithRetry(ctx, nonEmpty)
	if err != nil {
		genErr = err
		return nil, err
	}

	for i, vec := range embedded {
		if len(vec) != c.config.Dimension {
			genErr = fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, c.config.Dimension, len(vec))
			return nil, genErr
		}
		vectors[positions[i]] = vec
	}

	return vectors, nil
}

// requestWithRetry calls the embedding endpoint with exponential
// backoff on transient failures.
func (c *Client) requestWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error
	backoff := time.Second

	for attempt := 1; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 1 {
			c.logger.Warn("retrying embedding request",
				zap.Int("attempt", attempt),
				zap.Int("batch_size", len(texts)),
				zap.Error(lastErr),
			)
			select {
			case <-time.After(backoff):
				backoff *= 2
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		vectors, err := c.doRequest(ctx, texts)
		if err == nil {
			return vectors, nil
		}

		lastErr = err
		var retryable *retryableError
		if !errors.As(err, &retryable) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("%w: max retries exceeded: %v", ErrEmbeddingFailed, lastErr)
}

func (c *Client) doRequest(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Input: texts, Model: c.config.Model})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/v1/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, &retryableError{err: fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &retryableError{err: fmt.Errorf("rate limited (429)")}
	}
	if resp.StatusCode >= 500 {
		return nil, &retryableError{err: fmt.Errorf("server error (%d): %s", resp.StatusCode, string(respBody))}
	}
	if resp.StatusCode != http.StatusOK {
		var errResp embedErrorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error.Message != "" {
			return nil, fmt.Errorf("%w: status %d: %s", ErrEmbeddingFailed, resp.StatusCode, errResp.Error.Message)
		}
		return nil, fmt.Errorf("%w: status %d: %s", ErrEmbeddingFailed, resp.StatusCode, string(respBody))
	}

	var parsed embedResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d vectors, got %d", ErrEmbeddingFailed, len(texts), len(parsed.Data))
	}

	// The API reports an index per item; order by it rather than
	// trusting response order.
	vectors := make([][]float32, len(texts))
	for _, item := range parsed.Data {
		if item.Index < 0 || item.Index >= len(texts) {
			return nil, fmt.Errorf("%w: out-of-range index %d", ErrEmbeddingFailed, item.Index)
		}
		vectors[item.Index] = item.Embedding
	}
	for i, vec := range vectors {
		if vec == nil {
			return nil, fmt.Errorf("%w: missing vector for input %d", ErrEmbeddingFailed, i)
		}
	}

	return vectors, nil
}

// retryableError marks transient failures for the retry loop.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }
