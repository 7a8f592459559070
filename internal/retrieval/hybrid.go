package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"

	"wa-relay/internal/domain"
)

const (
	BackendHybrid = "hybrid"

	DefaultSemanticWeight = 0.7
	DefaultLexicalWeight  = 0.3
)

// Per-field weights of the semantic component.
const (
	weightText    = 0.6
	weightCaput   = 0.25
	weightSummary = 0.15
)

var numberPattern = regexp.MustCompile(`\b(\d{2,6})\b`)

// HybridConfig configures the hybrid (semantic + BM25) index client.
type HybridConfig struct {
	APIKey         string
	Region         string
	Collection     string
	BaseURL        string
	SemanticWeight float64
	LexicalWeight  float64
	HTTPClient     *http.Client
}

// HybridClient queries a hosted hybrid-search collection and ranks rows by
// SemanticWeight*semantic + LexicalWeight*bm25.
type HybridClient struct {
	apiKey     string
	baseURL    string
	collection string
	semWeight  float64
	lexWeight  float64
	httpClient *http.Client
}

type hybridQuery struct {
	Query      string   `json:"query"`
	Match      []string `json:"match"`
	K          int      `json:"k"`
	NumberHint string   `json:"number_hint,omitempty"`
	Fields     []string `json:"semantic_fields"`
}

type hybridRow struct {
	DocID      string   `json:"doc_id"`
	Title      string   `json:"titulo"`
	Number     string   `json:"numero_portaria"`
	Article    string   `json:"artigo_numero"`
	Subject    string   `json:"assunto"`
	Date       string   `json:"data"`
	Text       string   `json:"texto"`
	Caput      string   `json:"caput"`
	Summary    string   `json:"ementa"`
	URL        string   `json:"url"`
	SimText    *float64 `json:"sim_texto"`
	SimCaput   *float64 `json:"sim_caput"`
	SimSummary *float64 `json:"sim_ementa"`
	Semantic   *float64 `json:"semantic_score"`
	BM25       float64  `json:"text_score"`
}

type hybridResponse struct {
	Results []hybridRow `json:"results"`
}

// NewHybridClient validates cfg and builds a client. BaseURL defaults to the
// regional endpoint derived from Region.
func NewHybridClient(cfg HybridConfig) (*HybridClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("retrieval: hybrid api key must not be empty")
	}
	if strings.TrimSpace(cfg.Collection) == "" {
		return nil, errors.New("retrieval: hybrid collection must not be empty")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		region := strings.TrimSpace(cfg.Region)
		if region == "" {
			return nil, errors.New("retrieval: hybrid region or base url is required")
		}
		base = fmt.Sprintf("https://%s.api.topk.io", region)
	}
	semW, lexW := cfg.SemanticWeight, cfg.LexicalWeight
	if semW <= 0 && lexW <= 0 {
		semW, lexW = DefaultSemanticWeight, DefaultLexicalWeight
	}
	return &HybridClient{
		apiKey:     cfg.APIKey,
		baseURL:    base,
		collection: cfg.Collection,
		semWeight:  semW,
		lexWeight:  lexW,
		httpClient: cfg.HTTPClient,
	}, nil
}

func (c *HybridClient) Name() string { return BackendHybrid }

func (c *HybridClient) queryURL() string {
	return fmt.Sprintf("%s/v1/collections/%s/query", c.baseURL, c.collection)
}

// Query runs one hybrid query and returns the rows ranked by combined score.
func (c *HybridClient) Query(ctx context.Context, text string, k int) ([]domain.Snippet, error) {
	q := normalizeSpaces(text)
	if q == "" {
		return nil, nil
	}
	match := []string{q}
	if a := foldASCII(q); a != q {
		match = append(match, a)
	}
	in := hybridQuery{
		Query:  q,
		Match:  match,
		K:      k,
		Fields: []string{"texto", "caput", "ementa"},
	}
	if m := numberPattern.FindStringSubmatch(q); m != nil {
		in.NumberHint = m[1]
	}

	raw, err := postJSON(ctx, c.httpClient, c.queryURL(), map[string]string{
		"Authorization": "Bearer " + c.apiKey,
	}, in)
	if err != nil {
		return nil, fmt.Errorf("retrieval: hybrid query: %w", err)
	}
	var out hybridResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("retrieval: decode hybrid response: %w", err)
	}

	snippets := make([]domain.Snippet, 0, len(out.Results))
	for _, row := range out.Results {
		snippets = append(snippets, c.toSnippet(row))
	}
	sort.SliceStable(snippets, func(i, j int) bool { return snippets[i].Score > snippets[j].Score })
	return snippets, nil
}

func (c *HybridClient) toSnippet(row hybridRow) domain.Snippet {
	name := strings.TrimSpace(row.Title)
	if name == "" && row.Number != "" {
		name = "Portaria " + row.Number
	}
	subject := row.Subject
	if subject == "" {
		subject = row.Summary
	}
	return domain.Snippet{
		DocID:     row.DocID,
		DocName:   name,
		DocNumber: row.Number,
		Subject:   subject,
		Date:      row.Date,
		Article:   strings.TrimSpace(row.Article),
		Text:      mergeCaput(row.Caput, row.Text),
		SourceURI: row.URL,
		Score:     c.semWeight*semanticScore(row) + c.lexWeight*row.BM25,
	}
}

func semanticScore(row hybridRow) float64 {
	if row.SimText == nil && row.SimCaput == nil && row.SimSummary == nil {
		if row.Semantic != nil {
			return *row.Semantic
		}
		return 0
	}
	return weightText*deref(row.SimText) + weightCaput*deref(row.SimCaput) + weightSummary*deref(row.SimSummary)
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}

// mergeCaput prefixes the article heading unless the body already starts with it.
func mergeCaput(caput, text string) string {
	caput = strings.TrimSpace(caput)
	text = strings.TrimSpace(text)
	if caput != "" && text != "" && strings.HasPrefix(text, caput) {
		return text
	}
	return strings.TrimSpace(strings.Join([]string{caput, text}, " "))
}
