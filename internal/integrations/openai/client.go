package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"wa-relay/internal/domain"
)

const (
	defaultBaseURL     = "https://api.openai.com/v1"
	defaultTemperature = 0.2
	defaultMaxTokens   = 350
)

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	Message    string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("openai: unexpected status %d: %s", e.StatusCode, e.Message)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req goopenai.ChatCompletionRequest) (goopenai.ChatCompletionResponse, error)
}

// Client is a focused chat-completions client.
type Client struct {
	api         chatCompleter
	baseURL     string
	httpClient  *http.Client
	temperature float32
	maxTokens   int
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithTemperature(t float32) Option {
	return func(c *Client) {
		c.temperature = t
	}
}

func WithMaxTokens(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

// NewClient creates a Client authenticated with apiKey.
func NewClient(apiKey string, opts ...Option) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("openai: api key must not be empty")
	}
	c := &Client{
		baseURL:     defaultBaseURL,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		temperature: defaultTemperature,
		maxTokens:   defaultMaxTokens,
	}
	for _, opt := range opts {
		opt(c)
	}

	cfg := goopenai.DefaultConfig(apiKey)
	cfg.BaseURL = apiBaseURL(c.baseURL)
	if c.httpClient != nil {
		cfg.HTTPClient = c.httpClient
	}
	c.api = goopenai.NewClientWithConfig(cfg)
	return c, nil
}

// apiBaseURL makes sure the base URL ends in /v1, as the SDK appends
// resource paths directly.
func apiBaseURL(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		return defaultBaseURL
	}
	if strings.HasSuffix(base, "/v1") {
		return base
	}
	return base + "/v1"
}

// Chat sends one chat completion request and returns the first choice.
func (c *Client) Chat(ctx context.Context, model string, messages []domain.ChatMessage) (string, error) {
	if model == "" {
		return "", errors.New("openai: model must not be empty")
	}
	if len(messages) == 0 {
		return "", errors.New("openai: messages must not be empty")
	}

	req := goopenai.ChatCompletionRequest{
		Model:       model,
		Messages:    toSDKMessages(messages),
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}
	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("openai: request failed: %w", classify(err))
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: no choices in response")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func toSDKMessages(messages []domain.ChatMessage) []goopenai.ChatCompletionMessage {
	out := make([]goopenai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, goopenai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

// classify turns SDK errors carrying an HTTP status into HTTPStatusError so
// callers can branch on the status without importing the SDK.
func classify(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return &HTTPStatusError{StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message}
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		msg := ""
		if reqErr.Err != nil {
			msg = reqErr.Err.Error()
		}
		return &HTTPStatusError{StatusCode: reqErr.HTTPStatusCode, Message: msg}
	}
	return err
}
