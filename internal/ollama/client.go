// Package ollama is an HTTP client for an Ollama-compatible
// embedding/generation service with retry-with-backoff on transient
// failures.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/phuslu/log"

	"ragengine/internal/domain"
	"ragengine/internal/retry"
)

// Default configuration values.
const (
	DefaultBaseURL        = "http://localhost:11434"
	DefaultEmbeddingModel = "nomic-embed-text"
	DefaultChatModel      = "gemma3:270m"
	DefaultTimeout        = 30 * time.Second
)

// Config configures the client.
type Config struct {
	BaseURL        string
	EmbeddingModel string
	ChatModel      string
	Timeout        time.Duration
	Retry          retry.Policy
	Logger         *log.Logger
}

// Client calls the Ollama HTTP API. Embed and Generate are retried per
// the configured policy; only transient failures (connection errors,
// timeouts, 429/5xx) are retried.
type Client struct {
	httpc      *http.Client
	baseURL    string
	embedModel string
	chatModel  string
	policy     retry.Policy
	dimension  atomic.Int64
	logger     *log.Logger
}

// statusError is a non-2xx response. Whether it is retryable depends on
// the status class.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("ollama returned status %d: %s", e.status, e.body)
}

// transient reports whether err is worth retrying. Malformed-request
// responses (4xx other than 429) and interrupted streams are permanent.
func transient(err error) bool {
	if errors.Is(err, errStreamInterrupted) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.status == http.StatusTooManyRequests || se.status >= 500
	}
	// Connection refused, timeouts, truncated bodies.
	return true
}

// NewClient creates a client with defaults applied.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = DefaultEmbeddingModel
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = DefaultChatModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retry.Retryable == nil {
		cfg.Retry.Retryable = transient
	}
	logger := cfg.Logger
	if logger == nil {
		logger = &log.DefaultLogger
	}
	return &Client{
		httpc:      &http.Client{Timeout: cfg.Timeout},
		baseURL:    cfg.BaseURL,
		embedModel: cfg.EmbeddingModel,
		chatModel:  cfg.ChatModel,
		policy:     cfg.Retry,
		logger:     logger,
	}
}

// Model returns the embedding model identifier.
func (c *Client) Model() string { return c.embedModel }

// ChatModel returns the generation model identifier.
func (c *Client) ChatModel() string { return c.chatModel }

// Dimension returns the embedding dimension observed on the first
// successful Embed, or 0 before that. Safe under concurrent callers.
func (c *Client) Dimension() int { return int(c.dimension.Load()) }

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float64 `json:"embedding"`
}

// Embed returns the vector for a single text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, attempts, err := retry.Do(ctx, c.policy, func(ctx context.Context) ([]float32, error) {
		return c.embedOnce(ctx, text)
	})
	if err != nil {
		c.logger.Error().Err(err).Int("attempts", attempts).Str("model", c.embedModel).Msg("embedding failed")
		return nil, &domain.ServiceError{Op: "embed", Attempts: attempts, Err: err}
	}
	c.dimension.CompareAndSwap(0, int64(len(vec)))
	return vec, nil
}

func (c *Client) embedOnce(ctx context.Context, text string) ([]float32, error) {
	payload, err := json.Marshal(embedRequest{Model: c.embedModel, Prompt: text})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &statusError{status: resp.StatusCode, body: string(body)}
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	if len(out.Embedding) == 0 {
		return nil, errors.New("no embedding returned")
	}
	vec := make([]float32, len(out.Embedding))
	for i, v := range out.Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}

// BatchEmbed embeds texts one by one, preserving order. The service has
// no batch endpoint, and sequential calls keep the chunk-to-vector
// mapping deterministic. Progress events are sent non-blocking after
// each item.
func (c *Client) BatchEmbed(ctx context.Context, texts []string, progress chan<- domain.Progress) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := c.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed item %d of %d: %w", i+1, len(texts), err)
		}
		vectors[i] = vec
		if progress != nil {
			select {
			case progress <- domain.Progress{Completed: i + 1, Total: len(texts)}:
			default:
			}
		}
	}
	return vectors, nil
}

type chatRequest struct {
	Model    string           `json:"model"`
	Messages []domain.Message `json:"messages"`
	Stream   bool             `json:"stream"`
}

type chatResponse struct {
	Message domain.Message `json:"message"`
	Done    bool           `json:"done"`
}

// Generate produces a completion for the chat messages. With a non-nil
// sink the request streams and every fragment is forwarded as it
// arrives; the aggregated text is returned in both modes. Once a
// fragment has been delivered to the sink a mid-stream failure is not
// retried, so the sink never sees duplicated output.
func (c *Client) Generate(ctx context.Context, messages []domain.Message, sink func(string)) (string, error) {
	text, attempts, err := retry.Do(ctx, c.policy, func(ctx context.Context) (string, error) {
		return c.generateOnce(ctx, messages, sink)
	})
	if err != nil {
		c.logger.Error().Err(err).Int("attempts", attempts).Str("model", c.chatModel).Msg("generation failed")
		return "", &domain.ServiceError{Op: "generate", Attempts: attempts, Err: err}
	}
	return text, nil
}

// errStreamInterrupted marks a failure after fragments were already
// delivered; it is treated as permanent by the retry predicate via
// wrapping in the client below.
var errStreamInterrupted = errors.New("stream interrupted after partial delivery")

func (c *Client) generateOnce(ctx context.Context, messages []domain.Message, sink func(string)) (string, error) {
	stream := sink != nil
	payload, err := json.Marshal(chatRequest{Model: c.chatModel, Messages: messages, Stream: stream})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &statusError{status: resp.StatusCode, body: string(body)}
	}

	if !stream {
		var out chatResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return "", fmt.Errorf("decode chat response: %w", err)
		}
		return out.Message.Content, nil
	}
	return c.consumeStream(resp.Body, sink)
}

// consumeStream reads line-delimited partial responses until done.
func (c *Client) consumeStream(body io.Reader, sink func(string)) (string, error) {
	var (
		full     bytes.Buffer
		emitted  bool
		scanner  = bufio.NewScanner(body)
		maxToken = 1024 * 1024
	)
	scanner.Buffer(make([]byte, 0, 64*1024), maxToken)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var part chatResponse
		if err := json.Unmarshal(line, &part); err != nil {
			return "", c.permanentIfEmitted(emitted, fmt.Errorf("decode stream fragment: %w", err))
		}
		if part.Message.Content != "" {
			full.WriteString(part.Message.Content)
			sink(part.Message.Content)
			emitted = true
		}
		if part.Done {
			return full.String(), nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", c.permanentIfEmitted(emitted, err)
	}
	return full.String(), nil
}

// permanentIfEmitted prevents a retry from replaying fragments the sink
// already consumed.
func (c *Client) permanentIfEmitted(emitted bool, err error) error {
	if emitted {
		return fmt.Errorf("%w: %w", errStreamInterrupted, err)
	}
	return err
}
