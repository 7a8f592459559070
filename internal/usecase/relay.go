package usecase

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"strings"

	"wa-relay/internal/domain"
	"wa-relay/internal/metrics"
	"wa-relay/internal/retrieval"
	"wa-relay/internal/telemetry"
)

type Memory interface {
	Append(userID string, role domain.Role, text string)
	Recent(userID string) []domain.Turn
}

type Retriever interface {
	Query(ctx context.Context, text string) []domain.Snippet
	Reindex(ctx context.Context) (retrieval.ReindexStatus, error)
}

type Responder interface {
	Compose(ctx context.Context, message string, snippets []domain.Snippet, history []domain.Turn) string
}

type Dispatcher interface {
	Send(ctx context.Context, out domain.OutboundMessage) error
	MarkRead(ctx context.Context, from, messageID string) error
}

type Deduper interface {
	Seen(ctx context.Context, messageID string) (bool, error)
}

// Outcome describes what happened to one inbound message.
type Outcome string

const (
	OutcomeAnswered  Outcome = "answered"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeFailed    Outcome = "dispatch_failed"
)

type RelayDeps struct {
	Memory     Memory
	Retriever  Retriever
	Responder  Responder
	Dispatcher Dispatcher
	// Deduper is optional.
	Deduper    Deduper
	AdminToken string
	Logger     *slog.Logger
}

// RelayService runs the per-message pipeline:
// memory -> retrieval -> composer -> dispatch -> memory -> mark read.
type RelayService struct {
	memory     Memory
	retriever  Retriever
	responder  Responder
	dispatcher Dispatcher
	deduper    Deduper
	adminToken string
	logger     *slog.Logger
}

func NewRelayService(d RelayDeps) (*RelayService, error) {
	if d.Memory == nil {
		return nil, errors.New("usecase: memory must not be nil")
	}
	if d.Retriever == nil {
		return nil, errors.New("usecase: retriever must not be nil")
	}
	if d.Responder == nil {
		return nil, errors.New("usecase: responder must not be nil")
	}
	if d.Dispatcher == nil {
		return nil, errors.New("usecase: dispatcher must not be nil")
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &RelayService{
		memory:     d.Memory,
		retriever:  d.Retriever,
		responder:  d.Responder,
		dispatcher: d.Dispatcher,
		deduper:    d.Deduper,
		adminToken: strings.TrimSpace(d.AdminToken),
		logger:     d.Logger,
	}, nil
}

// HandleMessage answers a single inbound message. Only a failed send is
// returned as an error; every other degradation is absorbed.
func (s *RelayService) HandleMessage(ctx context.Context, msg domain.InboundMessage) (Outcome, error) {
	if !msg.HasText() {
		metrics.RecordInbound(string(OutcomeIgnored))
		s.logger.Info("inbound message ignored", "type", msg.Type, "message_id", msg.ID)
		return OutcomeIgnored, nil
	}

	ctx, span := telemetry.StartSpan(ctx, "relay.handle_message")
	defer span.End()

	if s.deduper != nil && msg.ID != "" {
		seen, err := s.deduper.Seen(ctx, msg.ID)
		if err != nil {
			s.logger.Warn("dedup lookup failed", "err", err, "message_id", msg.ID)
		} else if seen {
			metrics.RecordInbound(string(OutcomeDuplicate))
			s.logger.Info("duplicate message skipped", "message_id", msg.ID)
			return OutcomeDuplicate, nil
		}
	}

	s.logger.Debug("inbound message", "message_id", msg.ID, "text", msg.Text)

	history := s.memory.Recent(msg.From)
	s.memory.Append(msg.From, domain.RoleUser, msg.Text)

	snippets := s.retriever.Query(ctx, msg.Text)
	reply := s.responder.Compose(ctx, msg.Text, snippets, history)

	out := domain.OutboundMessage{From: msg.PhoneNumberID, To: msg.From, Body: reply}
	if err := s.dispatcher.Send(ctx, out); err != nil {
		span.RecordError(err)
		metrics.RecordInbound(string(OutcomeFailed))
		return OutcomeFailed, newError(ErrorUpstream, "dispatch_error", err)
	}
	s.memory.Append(msg.From, domain.RoleBot, reply)

	if msg.ID != "" {
		// Read receipts are cosmetic; the dispatcher already logs failures.
		_ = s.dispatcher.MarkRead(ctx, msg.PhoneNumberID, msg.ID)
	}

	metrics.RecordInbound(string(OutcomeAnswered))
	s.logger.Info("inbound message answered", "message_id", msg.ID, "snippets", len(snippets))
	return OutcomeAnswered, nil
}

// Reindex asks the retrieval backend to rebuild its index.
func (s *RelayService) Reindex(ctx context.Context, token string) (retrieval.ReindexStatus, error) {
	if s.adminToken == "" {
		return retrieval.ReindexStatus{}, newError(ErrorUnauthorized, "admin_disabled", nil)
	}
	if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(s.adminToken)) != 1 {
		return retrieval.ReindexStatus{}, newError(ErrorUnauthorized, "invalid_admin_token", nil)
	}
	status, err := s.retriever.Reindex(ctx)
	if errors.Is(err, retrieval.ErrReindexUnsupported) {
		return retrieval.ReindexStatus{}, newError(ErrorNotSupported, "reindex_unsupported", err)
	}
	if err != nil {
		return retrieval.ReindexStatus{}, newError(ErrorUpstream, "reindex_error", err)
	}
	return status, nil
}
