package handler

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"wa-relay/internal/domain"
	"wa-relay/internal/integrations/whatsapp"
	"wa-relay/internal/retrieval"
	"wa-relay/internal/usecase"
)

const (
	correlationHeader = "X-Correlation-Id"
	adminTokenHeader  = "X-Admin-Token"
)

type RelayUseCase interface {
	HandleMessage(ctx context.Context, msg domain.InboundMessage) (usecase.Outcome, error)
	Reindex(ctx context.Context, token string) (retrieval.ReindexStatus, error)
}

type Config struct {
	VerifyToken string
	// AppSecret enables X-Hub-Signature-256 checks when set.
	AppSecret string
	Service   string
}

type Handler struct {
	relay  RelayUseCase
	cfg    Config
	logger *slog.Logger
}

type statusResponse struct {
	OK      bool   `json:"ok"`
	Service string `json:"service,omitempty"`
}

type webhookResponse struct {
	OK        bool `json:"ok"`
	Ignored   bool `json:"ignored,omitempty"`
	Processed int  `json:"processed"`
	Failed    int  `json:"failed,omitempty"`
}

type reindexResponse struct {
	OK     bool   `json:"ok"`
	Job    string `json:"job,omitempty"`
	Status string `json:"status,omitempty"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func NewHandler(relay RelayUseCase, cfg Config, logger *slog.Logger) (*Handler, error) {
	if relay == nil {
		return nil, errors.New("handler: relay use case must not be nil")
	}
	if strings.TrimSpace(cfg.VerifyToken) == "" {
		return nil, errors.New("handler: verify token must not be empty")
	}
	if cfg.Service == "" {
		cfg.Service = "wa-relay"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{relay: relay, cfg: cfg, logger: logger}, nil
}

// Handle routes an API Gateway proxy request. It is the single entry point
// for both the Lambda and the HTTP server runtimes.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := header(req.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	logger := h.logger.With("correlation_id", correlationID, "method", req.HTTPMethod, "path", req.Path)

	var resp events.APIGatewayProxyResponse
	switch path := strings.TrimRight(req.Path, "/"); path {
	case "", "/health":
		if req.HTTPMethod != http.MethodGet {
			resp = methodNotAllowed()
			break
		}
		svc := ""
		if path == "" {
			svc = h.cfg.Service
		}
		resp = jsonResponse(http.StatusOK, statusResponse{OK: true, Service: svc})
	case "/webhook":
		switch req.HTTPMethod {
		case http.MethodGet:
			resp = h.verify(req, logger)
		case http.MethodPost:
			resp = h.webhook(ctx, req, logger)
		default:
			resp = methodNotAllowed()
		}
	case "/admin/reindex":
		if req.HTTPMethod != http.MethodPost {
			resp = methodNotAllowed()
			break
		}
		resp = h.reindex(ctx, req, logger)
	default:
		resp = jsonResponse(http.StatusNotFound, errorResponse{Error: "NOT_FOUND"})
	}

	if resp.Headers == nil {
		resp.Headers = map[string]string{}
	}
	resp.Headers[correlationHeader] = correlationID
	return resp, nil
}

func (h *Handler) verify(req events.APIGatewayProxyRequest, logger *slog.Logger) events.APIGatewayProxyResponse {
	q := req.QueryStringParameters
	if q["hub.mode"] == "subscribe" && tokenMatches(q["hub.verify_token"], h.cfg.VerifyToken) {
		logger.Info("webhook verified")
		return textResponse(http.StatusOK, q["hub.challenge"])
	}
	logger.Warn("webhook verification rejected", "mode", q["hub.mode"])
	return textResponse(http.StatusForbidden, "forbidden")
}

func tokenMatches(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func (h *Handler) webhook(ctx context.Context, req events.APIGatewayProxyRequest, logger *slog.Logger) events.APIGatewayProxyResponse {
	body, err := rawBody(req)
	if err != nil {
		logger.Warn("webhook body not decodable", "err", err)
		return jsonResponse(http.StatusOK, webhookResponse{OK: true, Ignored: true})
	}

	if h.cfg.AppSecret != "" {
		if err := whatsapp.VerifySignature(h.cfg.AppSecret, body, header(req.Headers, whatsapp.SignatureHeader)); err != nil {
			logger.Warn("webhook signature rejected", "err", err)
			return jsonResponse(http.StatusUnauthorized, errorResponse{Error: string(usecase.ErrorUnauthorized), Reason: "invalid_signature"})
		}
	}

	msgs, err := whatsapp.ParseWebhook(body)
	if err != nil {
		logger.Warn("webhook payload ignored", "err", err)
		return jsonResponse(http.StatusOK, webhookResponse{OK: true, Ignored: true})
	}
	if len(msgs) == 0 {
		logger.Debug("webhook without messages ignored")
		return jsonResponse(http.StatusOK, webhookResponse{OK: true, Ignored: true})
	}

	out := webhookResponse{OK: true}
	for _, msg := range msgs {
		outcome, err := h.relay.HandleMessage(ctx, msg)
		if err != nil {
			out.Failed++
			logger.Error("message processing failed", "err", err, "message_id", msg.ID)
			continue
		}
		if outcome == usecase.OutcomeAnswered {
			out.Processed++
		}
	}
	// Meta retries anything but 2xx, so failures are only reported in the body.
	out.OK = out.Failed == 0
	return jsonResponse(http.StatusOK, out)
}

func (h *Handler) reindex(ctx context.Context, req events.APIGatewayProxyRequest, logger *slog.Logger) events.APIGatewayProxyResponse {
	status, err := h.relay.Reindex(ctx, header(req.Headers, adminTokenHeader))
	if err != nil {
		code, reason, httpStatus := mapError(err)
		if httpStatus >= http.StatusInternalServerError && httpStatus != http.StatusNotImplemented {
			logger.Error("reindex failed", "err", err, "code", code, "reason", reason)
		} else {
			logger.Warn("reindex rejected", "code", code, "reason", reason)
		}
		return jsonResponse(httpStatus, errorResponse{Error: code, Reason: reason})
	}
	logger.Info("reindex requested", "job", status.Job, "status", status.Status)
	return jsonResponse(http.StatusAccepted, reindexResponse{OK: true, Job: status.Job, Status: status.Status})
}

func mapError(err error) (code, reason string, status int) {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		return string(usecase.ErrorInternal), "", http.StatusInternalServerError
	}
	switch ucErr.Code {
	case usecase.ErrorInvalidInput:
		status = http.StatusBadRequest
	case usecase.ErrorUnauthorized:
		status = http.StatusUnauthorized
	case usecase.ErrorUpstream:
		status = http.StatusBadGateway
	case usecase.ErrorNotSupported:
		status = http.StatusNotImplemented
	default:
		status = http.StatusInternalServerError
	}
	return string(ucErr.Code), ucErr.Reason, status
}

func rawBody(req events.APIGatewayProxyRequest) ([]byte, error) {
	if req.IsBase64Encoded {
		return base64.StdEncoding.DecodeString(req.Body)
	}
	return []byte(req.Body), nil
}

// header looks a header up case-insensitively.
func header(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return strings.TrimSpace(v)
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func methodNotAllowed() events.APIGatewayProxyResponse {
	return jsonResponse(http.StatusMethodNotAllowed, errorResponse{Error: "METHOD_NOT_ALLOWED"})
}

func jsonResponse(status int, v any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"INTERNAL_ERROR"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(body),
	}
}

func textResponse(status int, body string) events.APIGatewayProxyResponse {
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "text/plain; charset=utf-8"},
		Body:       body,
	}
}
