package retrieval

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewAutoRAGClient_RequiresBaseURL(t *testing.T) {
	_, err := NewAutoRAGClient(AutoRAGConfig{})
	require.Error(t, err)
}

func TestAutoRAGQuery_HappyPath(t *testing.T) {
	var got autoRAGSearch
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/search", r.URL.Path)
		require.Equal(t, "Bearer cf-token", r.Header.Get("Authorization"))
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &got))
		_, _ = io.WriteString(w, `[
			{"snippet":"Férias anuais...","source_uri":"s3://p45","score":0.87,"meta":{"title":"Portaria 45","number":"45","subject":"férias","date":"10/03/2023"}},
			{"text":"Outro trecho","url":"https://doc","score":0.5,"title":"Portaria 12","number":"12","subject":"escala","date":"2022-07-01"},
			{"snippet":"third","score":0.1}
		]`)
	}))
	defer srv.Close()

	c, err := NewAutoRAGClient(AutoRAGConfig{BaseURL: srv.URL + "/", APIToken: "cf-token"})
	require.NoError(t, err)

	out, err := c.Query(context.Background(), "férias", 2)
	require.NoError(t, err)
	require.Equal(t, autoRAGSearch{Query: "férias", Limit: 2, TopK: 2}, got)
	require.Len(t, out, 2)
	require.Equal(t, "Portaria 45", out[0].DocName)
	require.Equal(t, "45", out[0].DocNumber)
	require.Equal(t, "férias", out[0].Subject)
	require.Equal(t, "10/03/2023", out[0].Date)
	require.Equal(t, "s3://p45", out[0].SourceURI)
	require.Equal(t, "Outro trecho", out[1].Text)
	require.Equal(t, "https://doc", out[1].SourceURI)
	require.Equal(t, "Portaria 12", out[1].DocName)
}

func TestAutoRAGQuery_TruncatesLongPassages(t *testing.T) {
	long := strings.Repeat("é", maxPassageRunes+50)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode([]map[string]any{{"snippet": long}})
	}))
	defer srv.Close()

	c, err := NewAutoRAGClient(AutoRAGConfig{BaseURL: srv.URL})
	require.NoError(t, err)
	out, err := c.Query(context.Background(), "x", 5)
	require.NoError(t, err)
	require.Len(t, []rune(out[0].Text), maxPassageRunes)
}

func TestAutoRAGQuery_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c, err := NewAutoRAGClient(AutoRAGConfig{BaseURL: srv.URL})
	require.NoError(t, err)
	_, err = c.Query(context.Background(), "x", 5)
	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
}

func TestAutoRAGReindex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/reindex", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		_, _ = io.WriteString(w, `{"job":"job-1","status":"queued"}`)
	}))
	defer srv.Close()

	c, err := NewAutoRAGClient(AutoRAGConfig{BaseURL: srv.URL})
	require.NoError(t, err)
	st, err := c.Reindex(context.Background())
	require.NoError(t, err)
	require.Equal(t, ReindexStatus{Job: "job-1", Status: "queued"}, st)
}
