package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	goopenai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"

	"wa-relay/internal/domain"
)

func TestAPIBaseURL(t *testing.T) {
	cases := []struct {
		base string
		want string
	}{
		{"https://api.openai.com/v1", "https://api.openai.com/v1"},
		{"https://api.openai.com/v1/", "https://api.openai.com/v1"},
		{"http://localhost:8080", "http://localhost:8080/v1"},
		{"", "https://api.openai.com/v1"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, apiBaseURL(tc.base), "base=%q", tc.base)
	}
}

func TestNewClient_EmptyKey(t *testing.T) {
	_, err := NewClient("  ")
	require.Error(t, err)
}

func TestChat_HappyPath(t *testing.T) {
	var got goopenai.ChatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(raw, &got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o-mini",
			"choices":[{"index":0,"message":{"role":"assistant","content":"  Resposta.  "},"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	c, err := NewClient("sk-test", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()), WithMaxTokens(200))
	require.NoError(t, err)

	out, err := c.Chat(context.Background(), "gpt-4o-mini", []domain.ChatMessage{
		{Role: "system", Content: "sys"},
		{Role: "user", Content: "pergunta"},
	})
	require.NoError(t, err)
	require.Equal(t, "Resposta.", out)
	require.Equal(t, "gpt-4o-mini", got.Model)
	require.Equal(t, 200, got.MaxTokens)
	require.Len(t, got.Messages, 2)
	require.Equal(t, "pergunta", got.Messages[1].Content)
}

func TestChat_StatusErrorsAreClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":{"message":"slow down","type":"rate_limit_error"}}`)
	}))
	defer srv.Close()

	c, err := NewClient("sk-test", WithBaseURL(srv.URL))
	require.NoError(t, err)

	_, err = c.Chat(context.Background(), "gpt-4o-mini", []domain.ChatMessage{{Role: "user", Content: "x"}})
	require.Error(t, err)
	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusTooManyRequests, statusErr.HTTPStatusCode())
}

func TestChat_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"c1","choices":[]}`)
	}))
	defer srv.Close()

	c, err := NewClient("sk-test", WithBaseURL(srv.URL))
	require.NoError(t, err)
	_, err = c.Chat(context.Background(), "gpt-4o-mini", []domain.ChatMessage{{Role: "user", Content: "x"}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "no choices")
}

func TestChat_ValidatesArguments(t *testing.T) {
	c, err := NewClient("sk-test")
	require.NoError(t, err)

	_, err = c.Chat(context.Background(), "", []domain.ChatMessage{{Role: "user", Content: "x"}})
	require.Error(t, err)

	_, err = c.Chat(context.Background(), "gpt-4o-mini", nil)
	require.Error(t, err)
}

func TestClassify_PassesThroughPlainErrors(t *testing.T) {
	base := errors.New("dial tcp: refused")
	require.Same(t, base, classify(base))
}
