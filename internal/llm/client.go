// Package llm provides a minimal Ollama text-generation client.
//
// The retrieval pipeline uses it for three things: query expansion, rerank
// judgments, and answer synthesis. All three are plain prompt-in/text-out
// calls against /api/generate with streaming disabled. A circuit breaker
// wraps the endpoint so a dead Ollama fails fast into the pipeline's
// soft-degradation paths instead of burning a timeout per call.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	rerrors "github.com/recallhq/recall/internal/errors"
)

// DefaultHost is the standard local Ollama endpoint.
const DefaultHost = "http://localhost:11434"

// Generator is the opaque text-generation collaborator consumed by the
// expander, reranker, and answer packages.
type Generator interface {
	// Generate sends a prompt to the given model and returns the trimmed
	// response text. The context carries the caller's timeout.
	Generate(ctx context.Context, model, prompt string) (string, error)
}

// HTTPStatusError reports a non-2xx response from Ollama.
type HTTPStatusError struct {
	Operation  string
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if strings.TrimSpace(e.Body) == "" {
		return fmt.Sprintf("ollama %s status: %s", e.Operation, e.Status)
	}
	return fmt.Sprintf("ollama %s status: %s: %s", e.Operation, e.Status, strings.TrimSpace(e.Body))
}

// Client talks to the Ollama HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[string]
}

// Verify interface implementation at compile time.
var _ Generator = (*Client)(nil)

// Option configures the client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client (used by tests).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// BreakerSettings tunes the circuit breaker around generation calls.
type BreakerSettings struct {
	// ConsecutiveFailures opens the breaker once reached.
	ConsecutiveFailures int
	// Cooldown is how long the breaker stays open before probing.
	Cooldown time.Duration
}

// NewClient creates a client for the given Ollama host.
// An empty host uses DefaultHost.
func NewClient(host string, breakerCfg BreakerSettings, opts ...Option) *Client {
	if host == "" {
		host = DefaultHost
	}
	if breakerCfg.ConsecutiveFailures <= 0 {
		breakerCfg.ConsecutiveFailures = 3
	}
	if breakerCfg.Cooldown <= 0 {
		breakerCfg.Cooldown = 30 * time.Second
	}

	c := &Client{
		baseURL: strings.TrimRight(host, "/"),
		httpClient: &http.Client{
			// Per-call deadlines come from the request context; this is a
			// hard ceiling against a wedged connection.
			Timeout: 5 * time.Minute,
		},
	}

	failures := uint32(breakerCfg.ConsecutiveFailures)
	c.breaker = gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:    "ollama-generate",
		Timeout: breakerCfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			// Caller-side cancellation is not an Ollama failure.
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Generate implements Generator via /api/generate with stream disabled.
func (c *Client) Generate(ctx context.Context, model, prompt string) (string, error) {
	text, err := c.breaker.Execute(func() (string, error) {
		reqBody := map[string]any{
			"model":  model,
			"prompt": prompt,
			"stream": false,
		}

		var response struct {
			Response string `json:"response"`
		}
		if err := c.postJSON(ctx, "/api/generate", reqBody, &response, "generate"); err != nil {
			return "", err
		}
		return strings.TrimSpace(response.Response), nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", rerrors.New(rerrors.ErrCodeOllamaUnavailable, "ollama circuit open", err)
		}
		return "", rerrors.Wrap(rerrors.ErrCodeGenerationFailed, err)
	}
	return text, nil
}

// Available reports whether the Ollama endpoint answers at all.
func (c *Client) Available(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// postJSON posts a JSON body and decodes a JSON response.
func (c *Client) postJSON(ctx context.Context, path string, reqBody any, out any, operation string) error {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", operation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send %s request: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &HTTPStatusError{
			Operation:  operation,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(body),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}
