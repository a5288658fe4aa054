package models

import "strings"

// MessageKind discriminates inbound chat messages.
type MessageKind string

const (
	MessageKindText  MessageKind = "text"
	MessageKindImage MessageKind = "image"
	MessageKindAudio MessageKind = "audio"
)

// WhatsAppBusinessObject is the top-level object discriminator sent by the WhatsApp Cloud API.
const WhatsAppBusinessObject = "whatsapp_business_account"

// InboundMessage is a transport-neutral chat message received from a farmer.
// Kind keeps the raw discriminator so unsupported kinds can be reported back.
type InboundMessage struct {
	From    string      `json:"from"`
	Kind    MessageKind `json:"kind"`
	Text    string      `json:"text,omitempty"`
	ImageID string      `json:"image_id,omitempty"`
	Caption string      `json:"caption,omitempty"`
}

// WebhookPayload is the body POSTed by the WhatsApp Cloud API.
type WebhookPayload struct {
	Object string         `json:"object"`
	Entry  []WebhookEntry `json:"entry"`
}

// WebhookEntry groups the changes for one business account.
type WebhookEntry struct {
	ID      string          `json:"id"`
	Changes []WebhookChange `json:"changes"`
}

// WebhookChange carries one field update; messages live under Value.
type WebhookChange struct {
	Field string       `json:"field"`
	Value WebhookValue `json:"value"`
}

// WebhookValue holds the messages of a change, if any.
type WebhookValue struct {
	MessagingProduct string           `json:"messaging_product"`
	Messages         []WebhookMessage `json:"messages,omitempty"`
}

// WebhookMessage is one message object in the Cloud API format.
type WebhookMessage struct {
	From      string        `json:"from"`
	ID        string        `json:"id"`
	Timestamp string        `json:"timestamp"`
	Type      string        `json:"type"`
	Text      *WebhookText  `json:"text,omitempty"`
	Image     *WebhookImage `json:"image,omitempty"`
	Audio     *WebhookMedia `json:"audio,omitempty"`
}

// WebhookText is the payload of a text message.
type WebhookText struct {
	Body string `json:"body"`
}

// WebhookImage is the payload of an image message.
type WebhookImage struct {
	ID       string `json:"id"`
	Caption  string `json:"caption,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

// WebhookMedia is the payload of other media messages such as audio.
type WebhookMedia struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type,omitempty"`
}

// Messages flattens every message of the payload in arrival order.
// Payloads for any object other than a WhatsApp business account yield nothing.
func (p WebhookPayload) Messages() []WebhookMessage {
	if p.Object != WhatsAppBusinessObject {
		return nil
	}
	var out []WebhookMessage
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			out = append(out, change.Value.Messages...)
		}
	}
	return out
}

// ToInbound converts a Cloud API message into an InboundMessage.
func (m WebhookMessage) ToInbound() InboundMessage {
	in := InboundMessage{
		From: m.From,
		Kind: MessageKind(strings.ToLower(strings.TrimSpace(m.Type))),
	}
	switch in.Kind {
	case MessageKindText:
		if m.Text != nil {
			in.Text = m.Text.Body
		}
	case MessageKindImage:
		if m.Image != nil {
			in.ImageID = m.Image.ID
			in.Caption = m.Image.Caption
		}
	}
	return in
}
