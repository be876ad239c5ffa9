package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://openrouter.ai/api/v1"
	defaultTimeout = 90 * time.Second

	// maxBodyExcerpt bounds how much of an upstream error body is kept.
	maxBodyExcerpt = 200
)

// ErrMissingCredential is returned when no API key is configured. This is
// a configuration problem, never retried.
var ErrMissingCredential = errors.New("gateway: no API credential configured")

// ErrMalformedResponse is returned when the completion API answered 200
// but the payload carried no usable content. Not a transient condition.
var ErrMalformedResponse = errors.New("gateway: response contained no completion content")

// UpstreamError is a non-200 answer from the completion API.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("gateway: upstream status %d: %s", e.Status, e.Body)
}

// IsRetryable reports whether err is a transient failure worth retrying:
// timeouts, network errors, rate limiting, and 5xx upstream answers.
// Configuration and malformed-response errors are permanent.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrMissingCredential) || errors.Is(err, ErrMalformedResponse) {
		return false
	}
	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		return upstream.Status == http.StatusTooManyRequests || upstream.Status >= 500
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	// url.Error wraps transport-level failures (connection refused, DNS).
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "no such host")
}

// Config carries the externally-supplied gateway settings. Injected at
// construction so tests can substitute endpoint and credential.
type Config struct {
	BaseURL string
	Model   string
	APIKey  string
	Timeout time.Duration
	Referer string
	Title   string
}

// Client sends single-message chat-completion requests to the configured
// endpoint. Retry policy deliberately lives with the caller: how a failure
// is reported back onto an entry differs per enrichment kind.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{},
	}
}

// CallOptions tune a single completion request.
type CallOptions struct {
	MaxTokens   int
	Temperature float64
	JSONObject  bool          // request strict JSON output
	Timeout     time.Duration // overrides the client default when > 0
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends prompt as a single user message and returns the first
// completion's text content.
func (c *Client) Complete(ctx context.Context, prompt string, opts CallOptions) (string, error) {
	if c.cfg.APIKey == "" {
		return "", ErrMissingCredential
	}

	payload := chatRequest{
		Model:       c.cfg.Model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	}
	if opts.JSONObject {
		payload.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	timeout := c.cfg.Timeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if c.cfg.Referer != "" {
		httpReq.Header.Set("HTTP-Referer", c.cfg.Referer)
	}
	if c.cfg.Title != "" {
		httpReq.Header.Set("X-Title", c.cfg.Title)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if reqCtx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("executing request: %w", context.DeadlineExceeded)
		}
		return "", fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyExcerpt))
		return "", &UpstreamError{Status: resp.StatusCode, Body: string(excerpt)}
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decoding response: %w", ErrMalformedResponse)
	}
	if len(parsed.Choices) == 0 {
		if parsed.Error.Message != "" {
			return "", fmt.Errorf("%s: %w", parsed.Error.Message, ErrMalformedResponse)
		}
		return "", ErrMalformedResponse
	}
	content := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if content == "" {
		return "", ErrMalformedResponse
	}

	if opts.JSONObject {
		content = stripCodeFence(content)
	}
	return content, nil
}

// stripCodeFence removes a surrounding markdown code fence. Some models
// wrap JSON answers in ```json ... ``` even when a strict format was
// requested.
func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	trimmed := strings.TrimPrefix(s, "```")
	if idx := strings.Index(trimmed, "\n"); idx >= 0 {
		// Drop the fence line itself, which may carry a language hint.
		trimmed = trimmed[idx+1:]
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
