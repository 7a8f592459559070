package usecase

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"wa-relay/internal/domain"
	"wa-relay/internal/metrics"
	"wa-relay/internal/telemetry"
)

const (
	DefaultNotFoundMessage   = "Não encontrei informações sobre esse assunto no acervo atual. Pode reformular a pergunta?"
	DefaultFallbackMessage   = "Não consegui gerar uma resposta agora. Pode tentar reformular a pergunta?"
	DefaultCompletionTimeout = 20 * time.Second
	completionAttempts       = 2
)

type LLMClient interface {
	Chat(ctx context.Context, model string, messages []domain.ChatMessage) (string, error)
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

type ComposerConfig struct {
	Model           string
	Timeout         time.Duration
	NotFoundMessage string
	FallbackMessage string
}

// Composer turns a question plus retrieved snippets into the reply text.
type Composer struct {
	llm    LLMClient
	cfg    ComposerConfig
	logger *slog.Logger
}

func NewComposer(llm LLMClient, cfg ComposerConfig, logger *slog.Logger) (*Composer, error) {
	if llm == nil {
		return nil, errors.New("usecase: llm client must not be nil")
	}
	cfg.Model = strings.TrimSpace(cfg.Model)
	if cfg.Model == "" {
		return nil, errors.New("usecase: model must not be empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultCompletionTimeout
	}
	cfg.NotFoundMessage = orDefault(cfg.NotFoundMessage, DefaultNotFoundMessage)
	cfg.FallbackMessage = orDefault(cfg.FallbackMessage, DefaultFallbackMessage)
	if logger == nil {
		logger = slog.Default()
	}
	return &Composer{llm: llm, cfg: cfg, logger: logger}, nil
}

// Compose never fails: without snippets it returns the not-found message,
// and when the model cannot answer it returns the fallback message.
func (c *Composer) Compose(ctx context.Context, message string, snippets []domain.Snippet, history []domain.Turn) string {
	if len(snippets) == 0 {
		metrics.RecordCompletion("skipped")
		return truncate(c.cfg.NotFoundMessage, MaxReplyRunes)
	}

	ctx, span := telemetry.StartSpan(ctx, "composer.compose")
	defer span.End()

	msgs := buildPromptMessages(message, snippets, history)
	var lastErr error
	for attempt := 1; attempt <= completionAttempts; attempt++ {
		raw, err := c.complete(ctx, msgs)
		if err == nil {
			metrics.RecordCompletion("ok")
			return finalize(raw, snippets)
		}
		lastErr = err
		if !isTransient(ctx, err) {
			break
		}
		c.logger.Warn("completion failed, retrying", "err", err, "attempt", attempt)
	}

	span.RecordError(lastErr)
	metrics.RecordCompletion("error")
	c.logger.Error("completion failed", "err", lastErr)
	return truncate(c.cfg.FallbackMessage, MaxReplyRunes)
}

func (c *Composer) complete(ctx context.Context, msgs []domain.ChatMessage) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	raw, err := c.llm.Chat(callCtx, c.cfg.Model, msgs)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(stripCitations(raw)) == "" {
		return "", errors.New("usecase: empty completion")
	}
	return raw, nil
}

// isTransient reports 429, 5xx and per-call timeouts. A canceled parent
// context is never retried.
func isTransient(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if status, ok := upstreamStatusCode(err); ok {
		return status == http.StatusTooManyRequests || status >= 500
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}
