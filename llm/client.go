// Package llm provides a chat-completions client with streaming,
// retry classification, tool binding and structured-output support.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"
)

// maxResponseSize limits the LLM response body to prevent memory exhaustion.
const maxResponseSize = 10 * 1024 * 1024 // 10MB

// Endpoint describes the upstream chat-completions endpoint.
type Endpoint struct {
	// APIKey is sent as a bearer token when non-empty.
	APIKey string
	// BaseURL is normalized via NormalizeBaseURL before use.
	BaseURL string
	// Model is the model name sent upstream.
	Model string
}

// Client is a chat-completions client. It is safe for concurrent use;
// the only state besides configuration is the shared http.Client.
type Client struct {
	endpoint    Endpoint
	httpClient  *http.Client
	retryConfig RetryConfig
	logger      *slog.Logger
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant" or "tool"
	Content string `json:"content"`
}

// ToolDefinition describes a tool the model may call.
type ToolDefinition struct {
	Name        string
	Description string
	// Parameters is a JSON Schema object for the tool arguments.
	Parameters json.RawMessage
}

// ToolCall is a tool invocation returned by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // raw JSON
}

// Request defines an LLM completion request.
type Request struct {
	// Messages is the chat history to send to the LLM.
	Messages []Message

	// Temperature controls randomness. nil uses the endpoint default.
	Temperature *float64

	// MaxTokens limits response length. 0 uses the endpoint default.
	MaxTokens int

	// Tools are offered to the model when non-empty.
	Tools []ToolDefinition

	// ForceTool names a tool the model must call. Requires Tools.
	ForceTool string
}

// TokenUsage represents token consumption for an LLM call.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response contains the completion result.
type Response struct {
	// Content is the generated text (empty for pure tool-call turns).
	Content string

	// ToolCalls holds the tool invocations the model decided on.
	ToolCalls []ToolCall

	// Model is the model that produced the response.
	Model string

	// Usage contains token consumption metrics when reported.
	Usage TokenUsage

	// FinishReason indicates why generation stopped.
	FinishReason string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.httpClient = c
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
	if endpoint.Model == "" {
		return nil, NewFatalKind(KindConfig, fmt.Errorf("model is required"))
	}
	if endpoint.BaseURL == "" {
		return nil, NewFatalKind(KindConfig, fmt.Errorf("base URL is required"))
	}
	endpoint.BaseURL = NormalizeBaseURL(endpoint.BaseURL)

	c := &Client{
		endpoint:    endpoint,
		retryConfig: DefaultRetryConfig(),
		httpClient: &http.Client{
			Timeout: 180 * time.Second, // Allow time for LLM responses
		},
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.endpoint.Model
}

// Complete sends a non-streaming completion request with retry.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	var lastErr error

	for attempt := 1; attempt <= c.retryConfig.MaxAttempts; attempt++ {
		resp, err := c.doRequest(ctx, req, false, nil)
		if err == nil {
			return resp, nil
		}

		lastErr = err
		if IsFatal(err) {
			return nil, err
		}

		if attempt < c.retryConfig.MaxAttempts {
			backoff := c.calculateBackoff(attempt)
			c.logger.Debug("Request failed, retrying",
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

	return nil, fmt.Errorf("all attempts failed: %w", lastErr)
}

// Stream sends a streaming completion request. fn is invoked for every
// delta in arrival order; returning an error aborts the stream. The
// assembled response is returned once the stream finishes.
//
// Retry applies only before the first delta is delivered: once output
// reached the caller the stream is not restarted.
func (c *Client) Stream(ctx context.Context, req Request, fn func(StreamEvent) error) (*Response, error) {
	var lastErr error

	for attempt := 1; attempt <= c.retryConfig.MaxAttempts; attempt++ {
		delivered := false
		wrapped := func(ev StreamEvent) error {
			delivered = true
			if fn == nil {
				return nil
			}
			return fn(ev)
		}

		resp, err := c.doRequest(ctx, req, true, wrapped)
		if err == nil {
			return resp, nil
		}

		lastErr = err
		if IsFatal(err) || delivered {
			return nil, err
		}

		if attempt < c.retryConfig.MaxAttempts {
			backoff := c.calculateBackoff(attempt)
			c.logger.Debug("Stream failed before first delta, retrying",
				"attempt", attempt,
				"backoff", backoff,
				"error", err)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return nil, fmt.Errorf("all attempts failed: %w", lastErr)
}

// calculateBackoff computes exponential backoff duration with jitter.
// Jitter prevents thundering herd when concurrent turns retry together.
func (c *Client) calculateBackoff(attempt int) time.Duration {
	multiplier := 1.0
	for i := 1; i < attempt; i++ {
		multiplier *= c.retryConfig.BackoffMultiplier
	}

	backoff := time.Duration(float64(c.retryConfig.BackoffBase) * multiplier)
	if backoff > c.retryConfig.MaxBackoff {
		backoff = c.retryConfig.MaxBackoff
	}

	// Add jitter: +/- 25%
	jitter := float64(backoff) * 0.25 * (rand.Float64()*2 - 1)
	return backoff + time.Duration(jitter)
}

// chatRequest is the chat-completions wire request.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []Message     `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream"`
	Tools       []wireTool    `json:"tools,omitempty"`
	ToolChoice  any           `json:"tool_choice,omitempty"`
}

type wireTool struct {
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

func (c *Client) buildBody(req Request, stream bool) ([]byte, error) {
	body := chatRequest{
		Model:       c.endpoint.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      stream,
	}
	for _, t := range req.Tools {
		body.Tools = append(body.Tools, wireTool{
			Type: "function",
			Function: wireFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	if req.ForceTool != "" {
		body.ToolChoice = map[string]any{
			"type":     "function",
			"function": map[string]string{"name": req.ForceTool},
		}
	}
	return json.Marshal(body)
}

// doRequest executes a single HTTP request to the endpoint.
func (c *Client) doRequest(ctx context.Context, req Request, stream bool, fn func(StreamEvent) error) (*Response, error) {
	if len(req.Messages) == 0 {
		return nil, NewFatalError(fmt.Errorf("at least one message is required"))
	}
	if req.ForceTool != "" && len(req.Tools) == 0 {
		return nil, NewFatalError(fmt.Errorf("force tool %q requires tool definitions", req.ForceTool))
	}

	body, err := c.buildBody(req, stream)
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("build request body: %w", err))
	}

	url := CompletionsURL(c.endpoint.BaseURL)
	c.logger.Debug("Sending LLM request",
		"model", c.endpoint.Model,
		"url", url,
		"stream", stream,
		"messages", len(req.Messages))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("create HTTP request: %w", err))
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if c.endpoint.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.endpoint.APIKey)
	}
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// Network errors are transient
		return nil, NewTransientError(fmt.Errorf("HTTP request failed: %w", err))
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
		return nil, classifyHTTPError(httpResp.StatusCode, respBody)
	}

	if stream {
		return readStream(httpResp.Body, fn)
	}

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, NewTransientError(fmt.Errorf("read response body: %w", err))
	}
	return parseResponse(respBody)
}

// chatResponse is the non-streaming chat-completions wire response.
type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage TokenUsage `json:"usage"`
}

func parseResponse(body []byte) (*Response, error) {
	var wire chatResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, NewFatalKind(KindBadOutput, fmt.Errorf("parse response: %w", err))
	}
	if len(wire.Choices) == 0 {
		return nil, NewFatalKind(KindBadOutput, fmt.Errorf("response has no choices"))
	}

	choice := wire.Choices[0]
	resp := &Response{
		Content:      choice.Message.Content,
		Model:        wire.Model,
		Usage:        wire.Usage,
		FinishReason: choice.FinishReason,
	}
	for _, tc := range choice.Message.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return resp, nil
}

// classifyHTTPError maps an HTTP error status onto the retry taxonomy.
// Rate limiting and quota exhaustion surface without retry so callers
// see them immediately instead of after a blind backoff cycle.
func classifyHTTPError(statusCode int, body []byte) error {
	bodyStr := string(body)
	if len(bodyStr) > 200 {
		bodyStr = bodyStr[:200] + "..."
	}

	err := fmt.Errorf("LLM API error (status %d): %s", statusCode, bodyStr)

	switch {
	case statusCode == http.StatusTooManyRequests:
		return NewFatalKind(KindRateLimit, err)
	case statusCode == http.StatusPaymentRequired:
		// Quota exhaustion on some providers
		return NewFatalKind(KindRateLimit, err)
	case statusCode == http.StatusServiceUnavailable,
		statusCode == http.StatusBadGateway,
		statusCode == http.StatusGatewayTimeout:
		return NewTransientError(err)
	case statusCode >= 500:
		return NewTransientError(err)
	case statusCode == http.StatusUnauthorized,
		statusCode == http.StatusForbidden:
		return NewFatalKind(KindAuth, err)
	default:
		return NewFatalError(err)
	}
}
