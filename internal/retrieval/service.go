package retrieval

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"wa-relay/internal/domain"
	"wa-relay/internal/metrics"
	"wa-relay/internal/telemetry"
)

const (
	DefaultTopK    = 5
	DefaultTimeout = 8 * time.Second
)

// ServiceConfig tunes how a Service drives its backend.
type ServiceConfig struct {
	TopK          int
	Timeout       time.Duration
	ExpandQueries bool
}

// Service wraps a Backend with query expansion, a per-query timeout and
// snippet normalization. Backend failures never reach the caller: they are
// logged and reported as zero snippets.
type Service struct {
	backend Backend
	topK    int
	timeout time.Duration
	expand  bool
	logger  *slog.Logger
}

func NewService(b Backend, cfg ServiceConfig, logger *slog.Logger) (*Service, error) {
	if b == nil {
		return nil, errors.New("retrieval: backend must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Service{
		backend: b,
		topK:    cfg.TopK,
		timeout: cfg.Timeout,
		expand:  cfg.ExpandQueries,
		logger:  logger.With("backend", b.Name()),
	}, nil
}

// Query returns up to TopK snippets, most relevant first. An empty result
// means either nothing matched or the backend failed.
func (s *Service) Query(ctx context.Context, text string) []domain.Snippet {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if s.expand {
		text = ExpandQuery(text)
	}

	ctx, span := telemetry.StartSpan(ctx, "retrieval.query")
	defer span.End()
	span.SetAttributes(attribute.String("retrieval.backend", s.backend.Name()))

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	raw, err := s.backend.Query(ctx, text, s.topK)
	elapsed := time.Since(start)
	if err != nil {
		outcome := "error"
		if errors.Is(err, context.DeadlineExceeded) {
			outcome = "timeout"
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		metrics.RecordRetrieval(s.backend.Name(), outcome, elapsed)
		s.logger.Warn("retrieval failed, continuing without snippets", "outcome", outcome, "elapsed", elapsed, "err", err)
		return nil
	}

	snippets := normalizeSnippets(raw, s.topK)
	outcome := "hit"
	if len(snippets) == 0 {
		outcome = "empty"
	}
	span.SetAttributes(attribute.Int("retrieval.snippets", len(snippets)))
	metrics.RecordRetrieval(s.backend.Name(), outcome, elapsed)
	s.logger.Debug("retrieval done", "snippets", len(snippets), "raw", len(raw), "elapsed", elapsed)
	return snippets
}

// Reindex forwards to the backend when it supports reindexing.
func (s *Service) Reindex(ctx context.Context) (ReindexStatus, error) {
	r, ok := s.backend.(Reindexer)
	if !ok {
		return ReindexStatus{}, ErrReindexUnsupported
	}
	return r.Reindex(ctx)
}

// BackendName reports the configured backend.
func (s *Service) BackendName() string {
	return s.backend.Name()
}
