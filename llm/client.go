// Package llm provides a provider-agnostic chat-completion client with retry
// support, tool declarations, and helpers for digging structured JSON out of
// model output.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"time"
)

// maxResponseSize limits the model response body to prevent memory exhaustion.
const maxResponseSize = 10 * 1024 * 1024 // 10MB

// Message is one chat turn. ImageURLs attaches images to a user turn for
// vision requests. ToolCalls records an assistant turn that requested tools;
// ToolCallID marks a tool-result turn answering one of those requests.
type Message struct {
	Role       string     `json:"role"` // "system", "user", "assistant", or "tool"
	Content    string     `json:"content"`
	ImageURLs  []string   `json:"imageUrls,omitempty"`
	ToolCalls  []ToolCall `json:"toolCalls,omitempty"`
	ToolCallID string     `json:"toolCallId,omitempty"`
}

// ToolDefinition declares a callable tool to the model.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolCall is a tool invocation requested by the model. Arguments is the raw
// JSON object the model produced; callers validate it against the tool's own
// argument schema before dispatch.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Request defines a chat completion request.
type Request struct {
	// Messages is the conversation to send.
	Messages []Message

	// Temperature controls randomness. nil uses the endpoint default.
	Temperature *float64

	// MaxTokens limits response length. 0 uses the endpoint default.
	MaxTokens int

	// Tools declares callable tools for this request.
	Tools []ToolDefinition

	// ToolChoice is the provider tool-choice mode ("auto" when empty and
	// tools are declared).
	ToolChoice string
}

// TokenUsage reports token consumption for one call.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the model's reply. Exactly one of Content and ToolCalls is
// normally populated; some models return both.
type Response struct {
	Content      string
	ToolCalls    []ToolCall
	Model        string
	Usage        TokenUsage
	FinishReason string
}

// Endpoint identifies the model endpoint the client talks to.
type Endpoint struct {
	// Provider names a registered provider ("openai" covers any
	// OpenAI-compatible server).
	Provider string

	// BaseURL is the API base URL. Empty uses the provider default.
	BaseURL string

	// Model is the model identifier sent with every request.
	Model string
}

// Client sends chat completions to a single endpoint with retry on transient
// failures.
type Client struct {
	endpoint    Endpoint
	provider    Provider
	httpClient  *http.Client
	retryConfig RetryConfig
	logger      *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithTimeout sets the per-call HTTP timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(client *Client) {
		client.httpClient.Timeout = d
	}
}

// WithRetryConfig sets the retry configuration.
func WithRetryConfig(cfg RetryConfig) ClientOption {
	return func(client *Client) {
		client.retryConfig = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(client *Client) {
		client.logger = logger
	}
}

// NewClient creates a client for the given endpoint.
func NewClient(endpoint Endpoint, opts ...ClientOption) (*Client, error) {
	provider := GetProvider(endpoint.Provider)
	if provider == nil {
		return nil, fmt.Errorf("unknown provider %q", endpoint.Provider)
	}
	if endpoint.Model == "" {
		return nil, fmt.Errorf("endpoint model is required")
	}

	c := &Client{
		endpoint:    endpoint,
		provider:    provider,
		retryConfig: DefaultRetryConfig(),
		httpClient: &http.Client{
			Timeout: 180 * time.Second, // Allow time for model responses
		},
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Complete sends a completion request, retrying transient failures.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("at least one message is required")
	}
	if len(req.Tools) > 0 && req.ToolChoice == "" {
		req.ToolChoice = "auto"
	}

	var lastErr error
	for attempt := 1; attempt <= c.retryConfig.MaxAttempts; attempt++ {
		resp, err := c.doRequest(ctx, req)
		if err == nil {
			return resp, nil
		}

		lastErr = err
		if IsFatal(err) {
			return nil, err
		}

		if attempt < c.retryConfig.MaxAttempts {
			backoff := c.calculateBackoff(attempt)
			c.logger.Debug("model request failed, retrying",
				"attempt", attempt,
				"max_attempts", c.retryConfig.MaxAttempts,
				"backoff", backoff,
				"error", err)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return nil, fmt.Errorf("model request failed after %d attempts: %w", c.retryConfig.MaxAttempts, lastErr)
}

func (c *Client) doRequest(ctx context.Context, req Request) (*Response, error) {
	body, err := c.provider.BuildRequestBody(c.endpoint.Model, req)
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("build request body: %w", err))
	}

	url := c.provider.BuildURL(c.endpoint.BaseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.provider.SetHeaders(httpReq)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, NewTransientError(fmt.Errorf("send request: %w", err))
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, NewTransientError(fmt.Errorf("read response: %w", err))
	}

	if httpResp.StatusCode != http.StatusOK {
		err := fmt.Errorf("endpoint returned %d: %s", httpResp.StatusCode, truncateBody(respBody, 500))
		if isRetryableStatus(httpResp.StatusCode) {
			return nil, NewTransientError(err)
		}
		return nil, NewFatalError(err)
	}

	resp, err := c.provider.ParseResponse(respBody, c.endpoint.Model)
	if err != nil {
		return nil, NewTransientError(fmt.Errorf("parse response: %w", err))
	}
	return resp, nil
}

// isRetryableStatus reports whether an HTTP status is worth retrying.
func isRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// calculateBackoff returns the delay before the next attempt with jitter.
func (c *Client) calculateBackoff(attempt int) time.Duration {
	backoff := c.retryConfig.BackoffBase
	for i := 1; i < attempt; i++ {
		backoff = time.Duration(float64(backoff) * c.retryConfig.BackoffMultiplier)
	}
	if backoff > c.retryConfig.MaxBackoff {
		backoff = c.retryConfig.MaxBackoff
	}
	// Up to 25% jitter to avoid synchronized retries.
	jitter := time.Duration(rand.Float64() * 0.25 * float64(backoff))
	return backoff + jitter
}

func truncateBody(body []byte, maxLen int) string {
	if len(body) <= maxLen {
		return string(body)
	}
	return string(body[:maxLen]) + "..."
}
