// Database models for chat messages and their activities
package db

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/parley-chat/parley/pkg/models"
)

// Message is one persisted turn. Text is the author's input; Content is the
// reply or structured payload, stored as raw JSON.
type Message struct {
	ID             string `json:"id" gorm:"primaryKey;size:36"`
	ConversationID string `json:"conversation_id" gorm:"index;size:36;not null"`

	Role        string        `json:"role" gorm:"size:20;not null"`         // user, assistant, system
	Text        string        `json:"text" gorm:"type:text"`                // author input
	Content     string        `json:"content,omitempty" gorm:"type:text"`   // raw JSON
	ContentType string        `json:"content_type" gorm:"size:10;default:'text'"`
	Status      string        `json:"status" gorm:"size:20;default:'pending'"` // pending, completed
	Metadata    *FormMetadata `json:"metadata,omitempty" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at" gorm:"index"`
	UpdatedAt time.Time `json:"updated_at"`

	Activities []Activity `json:"-" gorm:"foreignKey:MessageID;constraint:OnDelete:CASCADE"`
}

func (*Message) TableName() string {
	return "messages"
}

// Activity is an append-only progress note on a message.
type Activity struct {
	ID           string `json:"id" gorm:"primaryKey;size:36"`
	MessageID    string `json:"message_id" gorm:"index;size:36;not null"`
	Message      string `json:"message" gorm:"type:text"`
	Content      string `json:"content,omitempty" gorm:"type:text"` // raw JSON
	ContentType  string `json:"content_type" gorm:"size:10"`
	ActivityType string `json:"activity_type" gorm:"size:10;not null"`

	// Seq keeps arrival order stable when timestamps collide.
	Seq       int       `json:"seq" gorm:"index"`
	CreatedAt time.Time `json:"created_at"`
}

func (*Activity) TableName() string {
	return "activities"
}

// FormMetadata stores models.FormMetadata as a JSON column.
type FormMetadata models.FormMetadata

// Value implements driver.Valuer for database storage
func (f *FormMetadata) Value() (driver.Value, error) {
	if f == nil {
		return nil, nil
	}
	b, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner for database retrieval
func (f *FormMetadata) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return nil
	}
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, f)
}

// ToModel converts the record (and any preloaded activities) to its API shape.
func (m *Message) ToModel() models.Message {
	out := models.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Role:           models.Role(m.Role),
		Text:           m.Text,
		ContentType:    models.ContentType(m.ContentType),
		Status:         models.MessageStatus(m.Status),
		Timestamp:      m.CreatedAt,
		Activities:     make([]models.Activity, 0, len(m.Activities)),
	}
	if m.Content != "" {
		out.Content = json.RawMessage(m.Content)
	}
	if m.Metadata != nil {
		md := models.FormMetadata(*m.Metadata)
		out.Metadata = &md
	}
	for i := range m.Activities {
		out.Activities = append(out.Activities, m.Activities[i].ToModel())
	}
	return out
}

// ToModel converts the record to its API shape.
func (a *Activity) ToModel() models.Activity {
	out := models.Activity{
		ID:           a.ID,
		MessageID:    a.MessageID,
		Message:      a.Message,
		ContentType:  models.ContentType(a.ContentType),
		ActivityType: models.ActivityType(a.ActivityType),
		Timestamp:    a.CreatedAt,
	}
	if a.Content != "" {
		out.Content = json.RawMessage(a.Content)
	}
	return out
}
