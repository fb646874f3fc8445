// ABOUTME: Webhook notification payload types
// ABOUTME: Only the fields the relay reads are decoded

package whatsapp

import "strings"

// Notification is the body of a webhook POST.
type Notification struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry groups the changes for one business account.
type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

// Change is one field update; messages arrive under field "messages".
type Change struct {
	Field string `json:"field"`
	Value Value  `json:"value"`
}

// Value carries the messages (and delivery statuses, which are ignored).
type Value struct {
	MessagingProduct string         `json:"messaging_product"`
	Metadata         Metadata       `json:"metadata"`
	Messages         []Message      `json:"messages"`
	Statuses         []StatusUpdate `json:"statuses"`
}

// Metadata identifies the receiving business number.
type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

// Message is an inbound user message.
type Message struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *Text  `json:"text,omitempty"`
}

// Text is the body of a text message.
type Text struct {
	Body string `json:"body"`
}

// StatusUpdate is a delivery receipt for an outbound message.
type StatusUpdate struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// IsPing reports whether n is a dashboard test notification without entries.
func (n *Notification) IsPing() bool {
	return n.Object != "" && len(n.Entry) == 0
}

// FirstMessage returns the first message of the first change, if any.
func (n *Notification) FirstMessage() (Message, bool) {
	if len(n.Entry) == 0 || len(n.Entry[0].Changes) == 0 {
		return Message{}, false
	}
	msgs := n.Entry[0].Changes[0].Value.Messages
	if len(msgs) == 0 {
		return Message{}, false
	}
	return msgs[0], true
}

// TextBody returns the trimmed text of a text message, or "" for anything else.
func (m Message) TextBody() string {
	if m.Type != "text" || m.Text == nil {
		return ""
	}
	return strings.TrimSpace(m.Text.Body)
}
