package whatsapp

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"wa-relay/internal/domain"
)

// Payload is the webhook body posted by the WhatsApp Cloud API.
type Payload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

type Change struct {
	Field string `json:"field"`
	Value Value  `json:"value"`
}

type Value struct {
	MessagingProduct string    `json:"messaging_product"`
	Metadata         Metadata  `json:"metadata"`
	Contacts         []Contact `json:"contacts"`
	Messages         []Message `json:"messages"`
	Statuses         []Status  `json:"statuses"`
}

type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type Contact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

// Status is a delivery receipt for a message the bot sent.
type Status struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	RecipientID string `json:"recipient_id"`
}

type Message struct {
	ID          string       `json:"id"`
	From        string       `json:"from"`
	Timestamp   string       `json:"timestamp"`
	Type        string       `json:"type"`
	Text        *Text        `json:"text,omitempty"`
	Button      *Button      `json:"button,omitempty"`
	Interactive *Interactive `json:"interactive,omitempty"`
}

type Text struct {
	Body string `json:"body"`
}

type Button struct {
	Text    string `json:"text"`
	Payload string `json:"payload"`
}

type Interactive struct {
	Type        string       `json:"type"`
	ButtonReply *ReplyOption `json:"button_reply,omitempty"`
	ListReply   *ReplyOption `json:"list_reply,omitempty"`
}

type ReplyOption struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// ParseWebhook decodes body and flattens every user message in it, in
// delivery order. Status callbacks are dropped. Messages whose type carries
// no text are still returned, with an empty Text.
func ParseWebhook(body []byte) ([]domain.InboundMessage, error) {
	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("whatsapp: decode webhook: %w", err)
	}

	var out []domain.InboundMessage
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			for _, m := range change.Value.Messages {
				out = append(out, domain.InboundMessage{
					ID:            m.ID,
					From:          strings.TrimSpace(m.From),
					PhoneNumberID: change.Value.Metadata.PhoneNumberID,
					Type:          m.Type,
					Text:          strings.TrimSpace(messageText(m)),
					Timestamp:     parseUnix(m.Timestamp),
				})
			}
		}
	}
	return out, nil
}

func messageText(m Message) string {
	switch m.Type {
	case domain.MessageTypeText:
		if m.Text != nil {
			return m.Text.Body
		}
	case domain.MessageTypeButton:
		if m.Button != nil {
			return m.Button.Text
		}
	case domain.MessageTypeInteractive:
		if m.Interactive == nil {
			return ""
		}
		if m.Interactive.ButtonReply != nil {
			return m.Interactive.ButtonReply.Title
		}
		if m.Interactive.ListReply != nil {
			return m.Interactive.ListReply.Title
		}
	}
	return ""
}

func parseUnix(s string) time.Time {
	sec, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
