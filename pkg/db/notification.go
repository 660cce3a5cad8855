package db

import (
	"time"

	"github.com/parley-chat/parley/pkg/models"
)

type Notification struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	UserID    string    `json:"user_id" gorm:"index;size:36;not null"`
	Type      string    `json:"type" gorm:"size:20;not null"` // finished, pending, failed
	Content   string    `json:"content" gorm:"type:text;not null"`
	IsRead    bool      `json:"is_read" gorm:"default:false;index"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Notification) TableName() string {
	return "notifications"
}

func (n *Notification) ToModel() models.Notification {
	return models.Notification{
		ID:        n.ID,
		UserID:    n.UserID,
		Type:      models.NotificationType(n.Type),
		Content:   n.Content,
		IsRead:    n.IsRead,
		CreatedAt: n.CreatedAt,
		UpdatedAt: n.UpdatedAt,
	}
}
