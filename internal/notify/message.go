// Package notify delivers SLA alert messages to chat webhooks.
package notify

import "context"

// Transport posts one message to a webhook target. Implementations return an
// error for every failed delivery; they never retry.
type Transport interface {
	PostMessage(ctx context.Context, target, channel string, msg Message) error
}

// Message is a Slack incoming-webhook payload.
type Message struct {
	Channel     string       `json:"channel,omitempty"`
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Attachment is a legacy Slack attachment block.
type Attachment struct {
	Color  string  `json:"color"`
	Fields []Field `json:"fields"`
	Footer string  `json:"footer,omitempty"`
	TS     int64   `json:"ts,omitempty"`
}

// Field is one title/value pair inside an attachment.
type Field struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}
