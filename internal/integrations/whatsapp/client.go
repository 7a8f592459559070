package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL    = "https://graph.facebook.com"
	DefaultAPIVersion = "v20.0"
	DefaultSendRPS    = 20
	defaultTimeout    = 10 * time.Second
	maxAttempts       = 3
)

// HTTPStatusError captures non-2xx Graph API responses.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("whatsapp: unexpected status %d: %s", e.StatusCode, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Config configures the Graph API client.
type Config struct {
	Token         string
	PhoneNumberID string
	BaseURL       string
	APIVersion    string
	Timeout       time.Duration
	// SendRPS caps outbound requests per second. Zero uses DefaultSendRPS.
	SendRPS    float64
	HTTPClient *http.Client
}

// Client sends messages through the WhatsApp Cloud API.
type Client struct {
	token      string
	graphURL   string
	phoneID    string
	httpClient *http.Client
	limiter    *rate.Limiter
	newBackOff func() backoff.BackOff
}

// NewClient validates cfg and builds a Client.
func NewClient(cfg Config) (*Client, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("whatsapp: token is required")
	}
	phoneID := strings.TrimSpace(cfg.PhoneNumberID)
	if phoneID == "" {
		return nil, errors.New("whatsapp: phone number id is required")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	version := strings.Trim(strings.TrimSpace(cfg.APIVersion), "/")
	if version == "" {
		version = DefaultAPIVersion
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}
	rps := cfg.SendRPS
	if rps <= 0 {
		rps = DefaultSendRPS
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}

	return &Client{
		token:      token,
		graphURL:   base + "/" + version,
		phoneID:    phoneID,
		httpClient: hc,
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		newBackOff: defaultBackOff,
	}, nil
}

// Waits of 1s, 2s, 4s... capped at 10s.
func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = 10 * time.Second
	return b
}

type textBody struct {
	Body string `json:"body"`
}

type sendTextRequest struct {
	MessagingProduct string   `json:"messaging_product"`
	RecipientType    string   `json:"recipient_type"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             textBody `json:"text"`
}

type markReadRequest struct {
	MessagingProduct string `json:"messaging_product"`
	Status           string `json:"status"`
	MessageID        string `json:"message_id"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// messagesURL is the messages endpoint of phone number id from, or of the
// configured number when from is empty.
func (c *Client) messagesURL(from string) string {
	from = strings.TrimSpace(from)
	if from == "" {
		from = c.phoneID
	}
	return fmt.Sprintf("%s/%s/messages", c.graphURL, url.PathEscape(from))
}

// SendText delivers a plain text message from business number from and
// returns the WhatsApp message id.
func (c *Client) SendText(ctx context.Context, from, to, body string) (string, error) {
	to = strings.TrimSpace(to)
	if to == "" {
		return "", errors.New("whatsapp: recipient is required")
	}
	if strings.TrimSpace(body) == "" {
		return "", errors.New("whatsapp: body is required")
	}
	raw, err := c.post(ctx, from, sendTextRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "text",
		Text:             textBody{Body: body},
	})
	if err != nil {
		return "", fmt.Errorf("whatsapp: send text: %w", err)
	}
	var out sendResponse
	if err := json.Unmarshal(raw, &out); err != nil || len(out.Messages) == 0 {
		// Delivery was accepted; the id is informational only.
		return "", nil
	}
	return out.Messages[0].ID, nil
}

// MarkRead flags an inbound message received on business number from as read.
func (c *Client) MarkRead(ctx context.Context, from, messageID string) error {
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return errors.New("whatsapp: message id is required")
	}
	if _, err := c.post(ctx, from, markReadRequest{
		MessagingProduct: "whatsapp",
		Status:           "read",
		MessageID:        messageID,
	}); err != nil {
		return fmt.Errorf("whatsapp: mark read: %w", err)
	}
	return nil
}

// post sends payload with up to maxAttempts tries on 429, 5xx and network errors.
func (c *Client) post(ctx context.Context, from string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := c.messagesURL(from)
	var out []byte
	op := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		raw, err := c.do(ctx, endpoint, body)
		if err != nil {
			if isRetryable(ctx, err) {
				return err
			}
			return backoff.Permanent(err)
		}
		out = raw
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), maxAttempts-1), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, endpoint string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, &HTTPStatusError{StatusCode: res.StatusCode, Body: truncate(string(raw), 500)}
	}
	return raw, nil
}

func isRetryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == http.StatusTooManyRequests || statusErr.StatusCode >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
