package event

import (
	"encoding/json"

	"github.com/parley-chat/parley/pkg/envelope"
	"github.com/parley-chat/parley/pkg/models"
)

// ============================================================================
// Event Names (constants)
// ============================================================================

const (
	QuestionAskedName       = "chat.question"
	ActivityEmittedName     = "chat.activity"
	ResponseGeneratedName   = "chat.response"
	AlertRaisedName         = "chat.alert"
	NotificationCreatedName = "notification.created"
)

// Sender roles stamped on outgoing request cards.
const (
	SenderAssistant = "assistant"
	SenderSystem    = "system"
)

// Occurrence is an event addressed to one user that can travel as an envelope.
type Occurrence interface {
	Event
	Recipient() string
	ToEnvelope() envelope.Envelope
}

// Turn identifies the conversation turn an occurrence belongs to.
type Turn struct {
	UserID         string
	ConversationID string
	MessageID      string
	// CorrelationID is the client's temporary id for the turn, if it sent one.
	CorrelationID string
}

func (t Turn) card(cardID, role string) envelope.RequestCard {
	return envelope.RequestCard{
		CardID:                cardID,
		UserID:                t.UserID,
		ConversationID:        t.ConversationID,
		ConversationMessageID: t.MessageID,
		SenderID:              role,
		SenderRole:            role,
		CorrelationID:         t.CorrelationID,
	}
}

// ============================================================================
// Chat Events
// ============================================================================

// QuestionAskedEvent is emitted when the assistant needs the user to fill a form.
type QuestionAskedEvent struct {
	Turn
	Prompt string
	Form   models.FormMetadata
}

func (e QuestionAskedEvent) EventName() string { return QuestionAskedName }
func (e QuestionAskedEvent) Recipient() string { return e.UserID }
func (e QuestionAskedEvent) ToEnvelope() envelope.Envelope {
	return envelope.New(envelope.TypeQuestion, e.card("", SenderAssistant), e.Prompt, envelope.RawContent(e.Form))
}

// ActivityEmittedEvent is emitted for each progress note on a message.
type ActivityEmittedEvent struct {
	Turn
	Activity models.Activity
}

func (e ActivityEmittedEvent) EventName() string { return ActivityEmittedName }
func (e ActivityEmittedEvent) Recipient() string { return e.UserID }
func (e ActivityEmittedEvent) ToEnvelope() envelope.Envelope {
	return envelope.New(envelope.TypeActivity, e.card(e.Activity.ID, SenderAssistant), e.Activity.Message, e.Activity.Content)
}

// ResponseGeneratedEvent is emitted when a message's reply is complete.
type ResponseGeneratedEvent struct {
	Turn
	Content json.RawMessage
}

func (e ResponseGeneratedEvent) EventName() string { return ResponseGeneratedName }
func (e ResponseGeneratedEvent) Recipient() string { return e.UserID }
func (e ResponseGeneratedEvent) ToEnvelope() envelope.Envelope {
	return envelope.New(envelope.TypeResponse, e.card("", SenderAssistant), "", e.Content)
}

// AlertRaisedEvent is emitted when generation for a message fails.
type AlertRaisedEvent struct {
	Turn
	ActivityID string
	Note       string
	Content    json.RawMessage
}

func (e AlertRaisedEvent) EventName() string { return AlertRaisedName }
func (e AlertRaisedEvent) Recipient() string { return e.UserID }
func (e AlertRaisedEvent) ToEnvelope() envelope.Envelope {
	return envelope.New(envelope.TypeAlert, e.card(e.ActivityID, SenderSystem), e.Note, e.Content)
}

// ============================================================================
// Notification Events
// ============================================================================

// NotificationCreatedEvent travels as an alert without conversation
// correlation, so clients show it as a notice rather than a transcript entry.
type NotificationCreatedEvent struct {
	Notification models.Notification
}

func (e NotificationCreatedEvent) EventName() string { return NotificationCreatedName }
func (e NotificationCreatedEvent) Recipient() string { return e.Notification.UserID }
func (e NotificationCreatedEvent) ToEnvelope() envelope.Envelope {
	card := envelope.RequestCard{
		CardID:     e.Notification.ID,
		UserID:     e.Notification.UserID,
		SenderID:   SenderSystem,
		SenderRole: SenderSystem,
	}
	return envelope.New(envelope.TypeAlert, card, e.Notification.Content, envelope.RawContent(e.Notification))
}
