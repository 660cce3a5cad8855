// Package client keeps a local conversation transcript consistent with the
// events a parley server pushes over its live channel.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/parley-chat/parley/pkg/envelope"
	"github.com/parley-chat/parley/pkg/models"
	"github.com/parley-chat/parley/pkg/utils"
)

// TempIDPrefix marks ids the client made up before the server assigned one.
const TempIDPrefix = "pending-"

// IsTempID reports whether id is a client-side temporary id.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// Outcome says what applying an envelope did to the store.
type Outcome int

const (
	// OutcomeIgnored: control, unknown or duplicate envelope; nothing changed.
	OutcomeIgnored Outcome = iota
	// OutcomeUpdated: an existing message was changed.
	OutcomeUpdated
	// OutcomeAppended: a new message was added at the tail.
	OutcomeAppended
	// OutcomeDropped: an activity or alert with no owner was discarded.
	OutcomeDropped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeIgnored:
		return "ignored"
	case OutcomeUpdated:
		return "updated"
	case OutcomeAppended:
		return "appended"
	case OutcomeDropped:
		return "dropped"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// ApplyResult describes one Apply call.
type ApplyResult struct {
	Outcome   Outcome
	MessageID string
	// PromotedFrom is the temporary id the message held before this envelope
	// promoted it, if it did.
	PromotedFrom string
	Err          error
}

// UnmatchedActivityError is reported when an activity or alert arrives for a
// message the store has never seen.
type UnmatchedActivityError struct {
	Type                  envelope.Type
	ConversationMessageID string
	CorrelationID         string
}

func (e *UnmatchedActivityError) Error() string {
	return fmt.Sprintf("unmatched %s: no message for id %q (correlation %q)", e.Type, e.ConversationMessageID, e.CorrelationID)
}

// Store is the ordered message list of one conversation plus an index from
// message id to position. It is not safe for concurrent use; Session
// serializes access.
type Store struct {
	messages []models.Message
	index    map[string]int
	// retired maps promoted temporary ids to the id that replaced them. A
	// retired id is never handed out again.
	retired map[string]string
	logger  *slog.Logger
}

func NewStore() *Store {
	return &Store{
		index:   make(map[string]int),
		retired: make(map[string]string),
		logger:  utils.GetLogger(),
	}
}

// Load replaces the contents with messages from fetch-conversation.
func (s *Store) Load(messages []models.Message) {
	s.messages = make([]models.Message, 0, len(messages))
	s.index = make(map[string]int, len(messages))
	for _, m := range messages {
		if _, dup := s.index[m.ID]; dup {
			continue
		}
		s.index[m.ID] = len(s.messages)
		s.messages = append(s.messages, m.Clone())
	}
}

// AppendProvisional adds m at the tail as a pending message under a fresh
// temporary id, which it returns.
func (s *Store) AppendProvisional(m models.Message) string {
	id := s.newTempID()
	m = m.Clone()
	m.ID = id
	m.Status = models.MessageStatusPending
	if m.Activities == nil {
		m.Activities = []models.Activity{}
	}
	s.index[id] = len(s.messages)
	s.messages = append(s.messages, m)
	return id
}

func (s *Store) newTempID() string {
	for {
		id := TempIDPrefix + uuid.New().String()
		_, live := s.index[id]
		_, retired := s.retired[id]
		if !live && !retired {
			return id
		}
	}
}

// Apply mutates the store according to env. Envelopes must be applied in the
// order they were received.
func (s *Store) Apply(env envelope.Envelope) ApplyResult {
	switch env.Type {
	case envelope.TypePing, envelope.TypePong:
		return ApplyResult{Outcome: OutcomeIgnored}
	case envelope.TypeQuestion, envelope.TypeActivity, envelope.TypeResponse, envelope.TypeAlert:
	default:
		s.logger.Warn("Ignoring envelope of unknown type", "type", env.RawType)
		return ApplyResult{Outcome: OutcomeIgnored}
	}

	i, ok := s.match(env)
	if !ok {
		if env.Type.CreatesMessage() {
			id := s.appendFromEnvelope(env)
			return ApplyResult{Outcome: OutcomeAppended, MessageID: id}
		}
		err := &UnmatchedActivityError{
			Type:                  env.Type,
			ConversationMessageID: env.RequestCard.ConversationMessageID,
			CorrelationID:         env.RequestCard.CorrelationID,
		}
		s.logger.Warn("Dropping envelope with no owning message", "error", err)
		return ApplyResult{Outcome: OutcomeDropped, Err: err}
	}

	res := ApplyResult{Outcome: OutcomeUpdated}
	if old, promoted := s.promote(i, env.RequestCard.ConversationMessageID); promoted {
		res.PromotedFrom = old
	}
	m := &s.messages[i]
	res.MessageID = m.ID

	switch env.Type {
	case envelope.TypeQuestion:
		if md, ok := models.ParseFormMetadata(env.Content); ok {
			m.Metadata = md
		}
		if env.HasContent() {
			m.Content = cloneRaw(env.Content)
			m.ContentType = contentTypeOf(env.Content)
		}
	case envelope.TypeActivity:
		if !s.appendActivity(m, env, models.ActivityTypeInfo) && res.PromotedFrom == "" {
			res.Outcome = OutcomeIgnored
		}
	case envelope.TypeAlert:
		s.appendActivity(m, env, models.ActivityTypeAlert)
		m.Status = models.MessageStatusCompleted
	case envelope.TypeResponse:
		if env.HasContent() {
			m.Content = cloneRaw(env.Content)
		} else {
			m.Content = models.TextContent(env.Message)
		}
		m.ContentType = contentTypeOf(m.Content)
		m.Status = models.MessageStatusCompleted
	}
	return res
}

// Promote replaces the temporary id tempID with id, as when the submit
// acknowledgement names the stored message.
func (s *Store) Promote(tempID, id string) bool {
	i, ok := s.index[tempID]
	if !ok {
		return false
	}
	_, promoted := s.promote(i, id)
	return promoted
}

// MarkFailed completes the message with a local alert activity, taking it
// out of the pending-message fallback.
func (s *Store) MarkFailed(id, note string) bool {
	i, ok := s.index[id]
	if !ok {
		return false
	}
	m := &s.messages[i]
	m.Activities = append(m.Activities, models.Activity{
		ID:           uuid.New().String(),
		MessageID:    m.ID,
		Message:      note,
		ContentType:  models.ContentTypeText,
		ActivityType: models.ActivityTypeAlert,
		Timestamp:    time.Now().UTC(),
	})
	m.Status = models.MessageStatusCompleted
	return true
}

// promote gives message i the authoritative id if it still holds a temporary
// one. It happens at most once per message.
func (s *Store) promote(i int, id string) (string, bool) {
	old := s.messages[i].ID
	if id == "" || !IsTempID(old) || IsTempID(id) {
		return "", false
	}
	if _, taken := s.index[id]; taken {
		return "", false
	}
	delete(s.index, old)
	s.retired[old] = id
	s.index[id] = i

	m := &s.messages[i]
	m.ID = id
	for j := range m.Activities {
		m.Activities[j].MessageID = id
	}
	return old, true
}

// appendActivity adds an activity unless one with the same id is already
// there. It reports whether it added one.
func (s *Store) appendActivity(m *models.Message, env envelope.Envelope, typ models.ActivityType) bool {
	id := env.RequestCard.CardID
	if id != "" {
		for _, a := range m.Activities {
			if a.ID == id {
				return false
			}
		}
	} else {
		id = uuid.New().String()
	}

	act := models.Activity{
		ID:           id,
		MessageID:    m.ID,
		Message:      env.Message,
		ActivityType: typ,
		Timestamp:    env.Timestamp,
		ContentType:  models.ContentTypeText,
	}
	if env.HasContent() {
		act.Content = cloneRaw(env.Content)
		act.ContentType = contentTypeOf(env.Content)
	}
	m.Activities = append(m.Activities, act)
	return true
}

// appendFromEnvelope adds a server-originated message, already completed.
func (s *Store) appendFromEnvelope(env envelope.Envelope) string {
	card := env.RequestCard
	id := card.ConversationMessageID
	if id == "" || IsTempID(id) {
		id = uuid.New().String()
	}

	m := models.Message{
		ID:             id,
		ConversationID: card.ConversationID,
		Role:           roleOf(card.SenderRole),
		Status:         models.MessageStatusCompleted,
		Timestamp:      env.Timestamp,
		Activities:     []models.Activity{},
	}
	switch {
	case env.HasContent():
		m.Content = cloneRaw(env.Content)
	case env.Message != "":
		m.Content = models.TextContent(env.Message)
	}
	m.ContentType = contentTypeOf(m.Content)
	if env.Type == envelope.TypeQuestion {
		m.Text = env.Message
		if md, ok := models.ParseFormMetadata(env.Content); ok {
			m.Metadata = md
		}
	}

	s.index[id] = len(s.messages)
	s.messages = append(s.messages, m)
	return id
}

// Snapshot returns a deep copy of the messages in display order.
func (s *Store) Snapshot() []models.Message {
	out := make([]models.Message, len(s.messages))
	for i, m := range s.messages {
		out[i] = m.Clone()
	}
	return out
}

// Get returns a copy of the message with id.
func (s *Store) Get(id string) (models.Message, bool) {
	i, ok := s.index[id]
	if !ok {
		return models.Message{}, false
	}
	return s.messages[i].Clone(), true
}

func (s *Store) Len() int { return len(s.messages) }

func roleOf(senderRole string) models.Role {
	switch r := models.Role(senderRole); r {
	case models.RoleUser, models.RoleAssistant, models.RoleSystem:
		return r
	}
	return models.RoleAssistant
}

// contentTypeOf is text for JSON strings and empty content, json otherwise.
func contentTypeOf(raw json.RawMessage) models.ContentType {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] == '"' {
		return models.ContentTypeText
	}
	return models.ContentTypeJSON
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}
