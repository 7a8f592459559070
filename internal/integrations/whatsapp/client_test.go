package whatsapp

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := NewClient(Config{
		Token:         "wa-token",
		PhoneNumberID: "1234",
		BaseURL:       srv.URL,
		APIVersion:    "v21.0",
		HTTPClient:    srv.Client(),
		SendRPS:       1000,
	})
	require.NoError(t, err)
	c.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return c
}

func TestSendText_HappyPath(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v21.0/1234/messages", r.URL.Path)
		require.Equal(t, "Bearer wa-token", r.Header.Get("Authorization"))
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &got))
		_, _ = w.Write([]byte(`{"messaging_product":"whatsapp","messages":[{"id":"wamid.out"}]}`))
	}))
	defer srv.Close()

	id, err := newTestClient(t, srv).SendText(context.Background(), "", "5511999999999", "Olá")
	require.NoError(t, err)
	require.Equal(t, "wamid.out", id)
	require.Equal(t, "whatsapp", got["messaging_product"])
	require.Equal(t, "5511999999999", got["to"])
	require.Equal(t, "text", got["type"])
	require.Equal(t, map[string]any{"body": "Olá"}, got["text"])
}

func TestSendText_RetriesOnTransientStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			w.WriteHeader(http.StatusTooManyRequests)
		case 2:
			w.WriteHeader(http.StatusBadGateway)
		default:
			_, _ = w.Write([]byte(`{"messages":[{"id":"wamid.ok"}]}`))
		}
	}))
	defer srv.Close()

	id, err := newTestClient(t, srv).SendText(context.Background(), "", "55", "oi")
	require.NoError(t, err)
	require.Equal(t, "wamid.ok", id)
	require.EqualValues(t, 3, calls.Load())
}

func TestSendText_GivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"down"}}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv).SendText(context.Background(), "", "55", "oi")
	require.Error(t, err)
	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusServiceUnavailable, statusErr.HTTPStatusCode())
	require.EqualValues(t, maxAttempts, calls.Load())
}

func TestSendText_NoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid recipient"}}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv).SendText(context.Background(), "", "55", "oi")
	require.ErrorContains(t, err, "invalid recipient")
	require.EqualValues(t, 1, calls.Load())
}

func TestSendText_Validation(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	c := newTestClient(t, srv)

	_, err := c.SendText(context.Background(), "", " ", "oi")
	require.ErrorContains(t, err, "recipient")
	_, err = c.SendText(context.Background(), "", "55", "  ")
	require.ErrorContains(t, err, "body")
}

func TestMarkRead(t *testing.T) {
	var got markReadRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	err := newTestClient(t, srv).MarkRead(context.Background(), "", "wamid.in")
	require.NoError(t, err)
	require.Equal(t, markReadRequest{MessagingProduct: "whatsapp", Status: "read", MessageID: "wamid.in"}, got)
}

func TestMarkRead_EmptyID(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	require.Error(t, newTestClient(t, srv).MarkRead(context.Background(), "", ""))
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(Config{PhoneNumberID: "1"})
	require.ErrorContains(t, err, "token")
	_, err = NewClient(Config{Token: "t"})
	require.ErrorContains(t, err, "phone number id")

	c, err := NewClient(Config{Token: "t", PhoneNumberID: "99"})
	require.NoError(t, err)
	require.Equal(t, "https://graph.facebook.com/v20.0/99/messages", c.messagesURL(""))
	require.Equal(t, "https://graph.facebook.com/v20.0/777/messages", c.messagesURL(" 777 "))
}

func TestSendText_RepliesFromInboundNumber(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		_, _ = w.Write([]byte(`{"messages":[{"id":"wamid.out"}]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.SendText(context.Background(), "5678", "55", "oi")
	require.NoError(t, err)
	require.NoError(t, c.MarkRead(context.Background(), "5678", "wamid.in"))
	require.Equal(t, []string{"/v21.0/5678/messages", "/v21.0/5678/messages"}, paths)
}

func TestPost_CanceledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestClient(t, srv).SendText(ctx, "", "55", "oi")
	require.Error(t, err)
}
