package handler

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"wa-relay/internal/metrics"
)

func TestServer_RoutesThroughHandler(t *testing.T) {
	uc := &stubUseCase{}
	app := NewServer(newTestHandler(t, uc, ""), discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=42", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	require.Equal(t, "42", string(body))
	require.NotEmpty(t, resp.Header.Get("X-Correlation-Id"))

	req = httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(textEvent))
	req.Header.Set("Content-Type", "application/json")
	resp, err = app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, uc.handled, 1)
	require.Equal(t, "wamid.A", uc.handled[0].ID)
}

func TestServer_Metrics(t *testing.T) {
	metrics.Init()
	metrics.RecordInbound("answered")
	app := NewServer(newTestHandler(t, &stubUseCase{}, ""), discardLogger())

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	require.Contains(t, string(body), "relay_inbound_events_total")
}
