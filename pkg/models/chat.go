// API types for conversations and messages
package models

import (
	"encoding/json"
	"strings"
	"time"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ContentType tags how Message.Content and Activity.Content are rendered.
type ContentType string

const (
	ContentTypeText ContentType = "text"
	ContentTypeJSON ContentType = "json"
)

// MessageStatus is the lifecycle state of a turn.
type MessageStatus string

const (
	MessageStatusPending   MessageStatus = "pending"
	MessageStatusCompleted MessageStatus = "completed"
)

// ActivityType separates progress notes from terminal alerts.
type ActivityType string

const (
	ActivityTypeInfo  ActivityType = "info"
	ActivityTypeAlert ActivityType = "alert"
)

// Activity is one unit of progress attached to a message. Activities are
// append-only; arrival order is display order.
type Activity struct {
	ID           string          `json:"id"`
	MessageID    string          `json:"messageId"`
	Message      string          `json:"message"`
	Content      json.RawMessage `json:"content,omitempty"`
	ContentType  ContentType     `json:"contentType,omitempty"`
	ActivityType ActivityType    `json:"activityType"`
	Timestamp    time.Time       `json:"timestamp"`
}

// Message is one turn in a conversation. Text is what the author wrote;
// Content holds the reply or structured payload.
type Message struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversationId"`
	Role           Role            `json:"role"`
	Text           string          `json:"text"`
	Content        json.RawMessage `json:"content,omitempty"`
	ContentType    ContentType     `json:"contentType"`
	Status         MessageStatus   `json:"status"`
	Metadata       *FormMetadata   `json:"metadata,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
	Activities     []Activity      `json:"activities"`
}

// ContentText returns Content as plain text: the decoded string for text
// content, the raw JSON otherwise.
func (m Message) ContentText() string {
	if len(m.Content) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(m.Content, &s); err == nil {
		return s
	}
	return string(m.Content)
}

// Clone returns a deep copy safe to hand to renderers.
func (m Message) Clone() Message {
	out := m
	if m.Content != nil {
		out.Content = append(json.RawMessage(nil), m.Content...)
	}
	if m.Metadata != nil {
		md := *m.Metadata
		md.Fields = append([]FormField(nil), m.Metadata.Fields...)
		out.Metadata = &md
	}
	out.Activities = make([]Activity, len(m.Activities))
	for i, a := range m.Activities {
		if a.Content != nil {
			a.Content = append(json.RawMessage(nil), a.Content...)
		}
		out.Activities[i] = a
	}
	return out
}

// TextContent wraps s as a JSON string.
func TextContent(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

// FormField is one input of a form the assistant asks the user to fill.
type FormField struct {
	Name        string   `json:"name"`
	Label       string   `json:"label"`
	Type        string   `json:"type"`
	IsRequired  bool     `json:"isRequired"`
	Placeholder string   `json:"placeholder,omitempty"`
	Options     []string `json:"options,omitempty"`
}

// FormMetadata is the structured prompt carried by question envelopes.
type FormMetadata struct {
	FormTitle string      `json:"formTitle"`
	Fields    []FormField `json:"fields"`
}

// ParseFormMetadata accepts raw JSON (or text containing a JSON object) and
// reports whether it describes a form: a title and at least one field that
// has a name, label and type.
func ParseFormMetadata(raw []byte) (*FormMetadata, bool) {
	s := strings.TrimSpace(string(raw))
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "{") {
		return nil, false
	}

	var form FormMetadata
	if err := json.Unmarshal([]byte(s), &form); err != nil {
		return nil, false
	}
	if strings.TrimSpace(form.FormTitle) == "" || len(form.Fields) == 0 {
		return nil, false
	}
	for _, f := range form.Fields {
		if f.Name == "" || f.Label == "" || f.Type == "" {
			return nil, false
		}
	}
	return &form, true
}

// Conversation is the ownership boundary for messages.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	UserID    string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Messages  []Message `json:"messages,omitempty"`
}

// ConversationSummary is a list entry.
type ConversationSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ========== Conversation API types ==========

type CreateConversationRequest struct {
	Title string `json:"title,omitempty"`
}

type RenameConversationRequest struct {
	Title string `json:"title" binding:"required"`
}

type ConversationListResponse struct {
	Conversations []ConversationSummary `json:"conversations"`
}

// ConversationMessagesResponse is the fetch-conversation payload that seeds a client transcript.
type ConversationMessagesResponse struct {
	Title    string    `json:"title"`
	Messages []Message `json:"messages"`
}

// SubmitMessageRequest is the Message-shaped submit-prompt payload.
// ID carries the client's temporary id, echoed back as the correlation id.
type SubmitMessageRequest struct {
	ID             string      `json:"id,omitempty"`
	ConversationID string      `json:"conversationId" binding:"required"`
	Text           string      `json:"text" binding:"required"`
	ContentType    ContentType `json:"contentType,omitempty"`
}

// Submit statuses
const (
	SubmitStatusSuccess = "success"
	SubmitStatusError   = "error"
)

// SubmitResponse acknowledges enqueueing only; generated content arrives over the event channel.
type SubmitResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	MessageID string `json:"messageId,omitempty"`
}
