// Database models for conversations
package db

import (
	"time"

	"github.com/parley-chat/parley/pkg/models"
)

// Conversation is owned by exactly one user.
type Conversation struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	UserID    string    `json:"user_id" gorm:"index;size:36;not null"`
	Title     string    `json:"title" gorm:"size:200;default:'New Chat'"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at" gorm:"index"`

	Messages []Message `json:"-" gorm:"foreignKey:ConversationID;constraint:OnDelete:CASCADE"`
}

func (Conversation) TableName() string {
	return "conversations"
}

const DefaultConversationTitle = "New Chat"

// ToModel converts the record (and any preloaded messages) to its API shape.
func (c *Conversation) ToModel() models.Conversation {
	out := models.Conversation{
		ID:        c.ID,
		Title:     c.Title,
		UserID:    c.UserID,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
	if len(c.Messages) > 0 {
		out.Messages = make([]models.Message, 0, len(c.Messages))
		for i := range c.Messages {
			out.Messages = append(out.Messages, c.Messages[i].ToModel())
		}
	}
	return out
}
