package domain

import "time"

// Message types delivered by the WhatsApp Cloud API that carry user text.
const (
	MessageTypeText        = "text"
	MessageTypeButton      = "button"
	MessageTypeInteractive = "interactive"
)

// InboundMessage is a single user message extracted from a webhook event.
type InboundMessage struct {
	ID            string
	From          string
	PhoneNumberID string
	Type          string
	Text          string
	Timestamp     time.Time
}

// HasText reports whether the message carries text the pipeline can answer.
func (m InboundMessage) HasText() bool {
	return m.From != "" && m.Text != ""
}

// OutboundMessage is a reply addressed to a WhatsApp user. From is the
// business phone number id it is sent from; empty uses the configured one.
type OutboundMessage struct {
	From string
	To   string
	Body string
}
