package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/parley-chat/parley/pkg/db"
	"github.com/parley-chat/parley/pkg/event"
	"github.com/parley-chat/parley/pkg/models"
	"github.com/parley-chat/parley/pkg/utils"
)

var (
	ErrNotificationNotFound = errors.New("notification not found")
	ErrInvalidNotification  = errors.New("invalid notification")
)

// NotificationService stores per-user notifications and pushes new ones live.
type NotificationService struct {
	db      *gorm.DB
	emitter *event.Emitter
	logger  *slog.Logger
}

func NewNotificationService(gdb *gorm.DB, emitter *event.Emitter) *NotificationService {
	return &NotificationService{
		db:      gdb,
		emitter: emitter,
		logger:  utils.GetLogger(),
	}
}

// List returns the user's notifications, newest first.
func (s *NotificationService) List(ctx context.Context, userID string) ([]models.Notification, error) {
	var rows []db.Notification
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	out := make([]models.Notification, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].ToModel())
	}
	return out, nil
}

// Create stores a notification and emits it to the user's live channels.
func (s *NotificationService) Create(ctx context.Context, userID string, typ models.NotificationType, content string) (*models.Notification, error) {
	content = strings.TrimSpace(content)
	if userID == "" || !typ.Valid() || content == "" {
		return nil, ErrInvalidNotification
	}

	row := &db.Notification{
		ID:      uuid.New().String(),
		UserID:  userID,
		Type:    string(typ),
		Content: content,
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return nil, fmt.Errorf("create notification: %w", err)
	}

	n := row.ToModel()
	s.emitter.Emit(event.NotificationCreatedEvent{Notification: n})
	return &n, nil
}

// MarkRead flags a notification as read. It reports whether it already was.
func (s *NotificationService) MarkRead(ctx context.Context, userID, id string) (bool, error) {
	row, err := s.find(ctx, userID, id)
	if err != nil {
		return false, err
	}
	if row.IsRead {
		return true, nil
	}
	if err := s.db.WithContext(ctx).Model(row).Update("is_read", true).Error; err != nil {
		return false, fmt.Errorf("mark notification read: %w", err)
	}
	return false, nil
}

func (s *NotificationService) Delete(ctx context.Context, userID, id string) error {
	res := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Delete(&db.Notification{})
	if res.Error != nil {
		return fmt.Errorf("delete notification: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

// PurgeRead deletes read notifications created before cutoff.
func (s *NotificationService) PurgeRead(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("is_read = ? AND created_at < ?", true, cutoff).Delete(&db.Notification{})
	if res.Error != nil {
		return 0, fmt.Errorf("purge notifications: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		s.logger.Info("Purged read notifications", "count", res.RowsAffected, "cutoff", cutoff)
	}
	return res.RowsAffected, nil
}

// Notifications owned by another user are reported as missing.
func (s *NotificationService) find(ctx context.Context, userID, id string) (*db.Notification, error) {
	var row db.Notification
	err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotificationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find notification: %w", err)
	}
	return &row, nil
}
