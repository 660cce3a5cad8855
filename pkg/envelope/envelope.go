// Package envelope defines the unit carried over the live event channel
// between the server and its clients, and the codec that reads and writes it.
package envelope

import (
	"bytes"
	"encoding/json"
	"time"
)

// Type tags an Envelope. The set is closed; anything else decodes as TypeUnknown.
type Type string

const (
	TypePing     Type = "ping"
	TypePong     Type = "pong"
	TypeQuestion Type = "question"
	TypeActivity Type = "activity"
	TypeResponse Type = "response"
	TypeAlert    Type = "alert"

	// TypeUnknown marks a tag this build does not recognize. The original tag
	// is kept in Envelope.RawType.
	TypeUnknown Type = "unknown"
)

func parseType(tag string) (Type, bool) {
	switch t := Type(tag); t {
	case TypePing, TypePong, TypeQuestion, TypeActivity, TypeResponse, TypeAlert:
		return t, true
	default:
		return TypeUnknown, false
	}
}

// IsControl reports whether t is a keep-alive type carrying no domain content.
func (t Type) IsControl() bool {
	return t == TypePing || t == TypePong
}

// IsTerminal reports whether t ends a message's in-progress lifecycle.
func (t Type) IsTerminal() bool {
	return t == TypeResponse || t == TypeAlert
}

// CreatesMessage reports whether an unmatched envelope of this type becomes a new message.
func (t Type) CreatesMessage() bool {
	return t == TypeQuestion || t == TypeResponse
}

// Known is false only for TypeUnknown.
func (t Type) Known() bool {
	_, ok := parseType(string(t))
	return ok
}

// RequestCard correlates an envelope with a conversation turn.
type RequestCard struct {
	CardID                string `json:"cardId,omitempty"`
	UserID                string `json:"userId,omitempty"`
	SessionID             string `json:"sessionId,omitempty"`
	ConversationID        string `json:"conversationId,omitempty"`
	ConversationMessageID string `json:"conversationMessageId,omitempty"`
	SenderID              string `json:"senderId,omitempty"`
	SenderRole            string `json:"senderRole,omitempty"`
	// CorrelationID echoes the client's temporary message id when the server knows it.
	CorrelationID string `json:"correlationId,omitempty"`
}

// Envelope is one message on the live channel.
type Envelope struct {
	Type        Type
	RawType     string
	RequestCard RequestCard
	Message     string
	Content     json.RawMessage
	Timestamp   time.Time
}

// New builds an envelope stamped with the current time.
func New(t Type, card RequestCard, message string, content json.RawMessage) Envelope {
	return Envelope{
		Type:        t,
		RawType:     string(t),
		RequestCard: card,
		Message:     message,
		Content:     normalizeContent(content),
		Timestamp:   time.Now().UTC(),
	}
}

func Ping() Envelope { return New(TypePing, RequestCard{}, "", nil) }

func Pong() Envelope { return New(TypePong, RequestCard{}, "", nil) }

// RawContent marshals v for use as envelope content. Values that cannot be
// marshaled yield nil content.
func RawContent(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return normalizeContent(b)
}

// HasContent reports whether the envelope carries a non-null content value.
func (e Envelope) HasContent() bool {
	return len(normalizeContent(e.Content)) > 0
}

// ContentString returns the content when it is a JSON string.
func (e Envelope) ContentString() (string, bool) {
	if !e.HasContent() {
		return "", false
	}
	var s string
	if err := json.Unmarshal(e.Content, &s); err != nil {
		return "", false
	}
	return s, true
}

func normalizeContent(raw json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	return trimmed
}
