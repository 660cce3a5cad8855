package models

import "time"

// NotificationType mirrors the lifecycle of the work it reports on.
type NotificationType string

const (
	NotificationFinished NotificationType = "finished"
	NotificationPending  NotificationType = "pending"
	NotificationFailed   NotificationType = "failed"
)

func (t NotificationType) Valid() bool {
	switch t {
	case NotificationFinished, NotificationPending, NotificationFailed:
		return true
	}
	return false
}

type Notification struct {
	ID        string           `json:"id"`
	UserID    string           `json:"userId"`
	Type      NotificationType `json:"type"`
	Content   string           `json:"content"`
	IsRead    bool             `json:"isRead"`
	CreatedAt time.Time        `json:"createdAt"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

type CreateNotificationRequest struct {
	Type    NotificationType `json:"type" binding:"required"`
	Content string           `json:"content" binding:"required"`
}
