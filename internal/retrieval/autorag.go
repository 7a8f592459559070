package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"wa-relay/internal/domain"
)

const (
	BackendAutoRAG = "autorag"

	maxPassageRunes = 1200
)

// AutoRAGConfig configures the managed RAG client.
type AutoRAGConfig struct {
	BaseURL    string
	APIToken   string
	HTTPClient *http.Client
}

// AutoRAGClient talks to a managed retrieval-augmented-generation service
// whose ranking is opaque to us.
type AutoRAGClient struct {
	baseURL    string
	apiToken   string
	httpClient *http.Client
}

type autoRAGSearch struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
	TopK  int    `json:"top_k"`
}

type autoRAGMeta struct {
	Title   string `json:"title"`
	Number  string `json:"number"`
	Subject string `json:"subject"`
	Date    string `json:"date"`
}

type autoRAGPassage struct {
	ID        string       `json:"id"`
	Snippet   string       `json:"snippet"`
	Text      string       `json:"text"`
	SourceURI string       `json:"source_uri"`
	URL       string       `json:"url"`
	Score     float64      `json:"score"`
	Meta      *autoRAGMeta `json:"meta"`
	Title     string       `json:"title"`
	Number    string       `json:"number"`
	Subject   string       `json:"subject"`
	Date      string       `json:"date"`
}

// NewAutoRAGClient validates cfg and builds a client.
func NewAutoRAGClient(cfg AutoRAGConfig) (*AutoRAGClient, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("retrieval: autorag base url must not be empty")
	}
	return &AutoRAGClient{
		baseURL:    base,
		apiToken:   strings.TrimSpace(cfg.APIToken),
		httpClient: cfg.HTTPClient,
	}, nil
}

func (c *AutoRAGClient) Name() string { return BackendAutoRAG }

func (c *AutoRAGClient) headers() map[string]string {
	if c.apiToken == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + c.apiToken}
}

// Query posts to {base}/search and keeps the service's order.
func (c *AutoRAGClient) Query(ctx context.Context, text string, k int) ([]domain.Snippet, error) {
	raw, err := postJSON(ctx, c.httpClient, c.baseURL+"/search", c.headers(), autoRAGSearch{Query: text, Limit: k, TopK: k})
	if err != nil {
		return nil, fmt.Errorf("retrieval: autorag search: %w", err)
	}
	var passages []autoRAGPassage
	if err := json.Unmarshal(raw, &passages); err != nil {
		return nil, fmt.Errorf("retrieval: decode autorag response: %w", err)
	}

	out := make([]domain.Snippet, 0, len(passages))
	for _, p := range passages {
		if k > 0 && len(out) == k {
			break
		}
		out = append(out, passageToSnippet(p))
	}
	return out, nil
}

// Reindex asks the service to refresh its index.
func (c *AutoRAGClient) Reindex(ctx context.Context) (ReindexStatus, error) {
	raw, err := postJSON(ctx, c.httpClient, c.baseURL+"/reindex", c.headers(), struct{}{})
	if err != nil {
		return ReindexStatus{}, fmt.Errorf("retrieval: autorag reindex: %w", err)
	}
	var st ReindexStatus
	if len(strings.TrimSpace(string(raw))) == 0 {
		return st, nil
	}
	if err := json.Unmarshal(raw, &st); err != nil {
		return ReindexStatus{}, fmt.Errorf("retrieval: decode autorag reindex response: %w", err)
	}
	return st, nil
}

func passageToSnippet(p autoRAGPassage) domain.Snippet {
	meta := autoRAGMeta{Title: p.Title, Number: p.Number, Subject: p.Subject, Date: p.Date}
	if p.Meta != nil {
		meta = *p.Meta
	}
	text := p.Snippet
	if text == "" {
		text = p.Text
	}
	src := p.SourceURI
	if src == "" {
		src = p.URL
	}
	return domain.Snippet{
		DocID:     p.ID,
		DocName:   meta.Title,
		DocNumber: meta.Number,
		Subject:   meta.Subject,
		Date:      meta.Date,
		Text:      truncateRunes(text, maxPassageRunes),
		SourceURI: src,
		Score:     p.Score,
	}
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
