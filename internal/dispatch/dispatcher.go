// Package dispatch delivers composed replies to WhatsApp users.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"unicode"

	"wa-relay/internal/domain"
	"wa-relay/internal/metrics"
	"wa-relay/internal/telemetry"
)

// MaxMessageRunes is the WhatsApp text body limit.
const MaxMessageRunes = 4096

// Sender is the transport the dispatcher writes to.
type Sender interface {
	SendText(ctx context.Context, from, to, body string) (string, error)
	MarkRead(ctx context.Context, from, messageID string) error
}

// Dispatcher splits and sends outbound text.
type Dispatcher struct {
	sender Sender
	logger *slog.Logger
}

func New(sender Sender, logger *slog.Logger) (*Dispatcher, error) {
	if sender == nil {
		return nil, errors.New("dispatch: sender must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{sender: sender, logger: logger}, nil
}

// Send delivers out, splitting its body into sequential messages when it
// exceeds MaxMessageRunes. It stops at the first failed part.
func (d *Dispatcher) Send(ctx context.Context, out domain.OutboundMessage) error {
	ctx, span := telemetry.StartSpan(ctx, "dispatch.send")
	defer span.End()

	parts := Split(out.To, out.Body, MaxMessageRunes)
	if len(parts) == 0 {
		return errors.New("dispatch: nothing to send")
	}
	for i, msg := range parts {
		id, err := d.sender.SendText(ctx, out.From, msg.To, msg.Body)
		if err != nil {
			metrics.RecordDispatch("send", "error")
			span.RecordError(err)
			d.logger.Error("dispatch send failed", "err", err, "part", i+1, "parts", len(parts))
			return err
		}
		metrics.RecordDispatch("send", "ok")
		d.logger.Debug("dispatch part sent", "part", i+1, "parts", len(parts), "wamid", id)
	}
	return nil
}

// MarkRead acknowledges an inbound message received on business number from.
func (d *Dispatcher) MarkRead(ctx context.Context, from, messageID string) error {
	if err := d.sender.MarkRead(ctx, from, messageID); err != nil {
		metrics.RecordDispatch("mark_read", "error")
		d.logger.Warn("dispatch mark read failed", "err", err, "message_id", messageID)
		return err
	}
	metrics.RecordDispatch("mark_read", "ok")
	return nil
}

// Split cuts text into messages of at most limit runes, preferring a
// newline, then a space, in the second half of each window.
func Split(to, text string, limit int) []domain.OutboundMessage {
	text = strings.TrimSpace(text)
	if text == "" || limit <= 0 {
		return nil
	}
	var out []domain.OutboundMessage
	rest := []rune(text)
	for len(rest) > 0 {
		if len(rest) <= limit {
			out = append(out, domain.OutboundMessage{To: to, Body: string(rest)})
			break
		}
		cut := breakPoint(rest[:limit])
		body := strings.TrimRightFunc(string(rest[:cut]), unicode.IsSpace)
		if body != "" {
			out = append(out, domain.OutboundMessage{To: to, Body: body})
		}
		rest = []rune(strings.TrimLeftFunc(string(rest[cut:]), unicode.IsSpace))
	}
	return out
}

func breakPoint(window []rune) int {
	floor := len(window) / 2
	for i := len(window) - 1; i >= floor; i-- {
		if window[i] == '\n' {
			return i + 1
		}
	}
	for i := len(window) - 1; i >= floor; i-- {
		if unicode.IsSpace(window[i]) {
			return i + 1
		}
	}
	return len(window)
}
