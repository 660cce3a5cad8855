// Chat service - owns conversations and runs prompt generation in the background
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"

	"github.com/parley-chat/parley/pkg/db"
	"github.com/parley-chat/parley/pkg/event"
	"github.com/parley-chat/parley/pkg/llm"
	"github.com/parley-chat/parley/pkg/models"
	"github.com/parley-chat/parley/pkg/utils"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrForbidden            = errors.New("conversation belongs to another user")
	ErrEmptyPrompt          = errors.New("prompt text is required")
	ErrModelNotConfigured   = errors.New("model not configured")
)

const (
	generatingNote = "Generating response"
	titleMaxRunes  = 40
)

// ChatService handles conversation CRUD and prompt submission.
type ChatService struct {
	db            *gorm.DB
	generator     llm.Generator
	notifications *NotificationService
	emitter       *event.Emitter
	logger        *slog.Logger

	pool *GenerationPool
}

type ChatOption func(*ChatService)

// WithGenerationWorkers bounds how many model calls run at once.
func WithGenerationWorkers(n int) ChatOption {
	return func(s *ChatService) { s.pool = NewGenerationPool(n) }
}

func NewChatService(gdb *gorm.DB, generator llm.Generator, notifications *NotificationService, emitter *event.Emitter, opts ...ChatOption) *ChatService {
	s := &ChatService{
		db:            gdb,
		generator:     generator,
		notifications: notifications,
		emitter:       emitter,
		logger:        utils.GetLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.pool == nil {
		s.pool = NewGenerationPool(DefaultGenerationWorkers)
	}
	return s
}

// ========== Conversations ==========

// ListConversations returns the user's conversations, most recently updated first.
func (s *ChatService) ListConversations(ctx context.Context, userID string) ([]models.ConversationSummary, error) {
	var rows []db.Conversation
	err := s.db.WithContext(ctx).
		Select("id", "title", "updated_at").
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	out := make([]models.ConversationSummary, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.ConversationSummary{ID: r.ID, Title: r.Title, UpdatedAt: r.UpdatedAt})
	}
	return out, nil
}

func (s *ChatService) CreateConversation(ctx context.Context, userID, title string) (*models.Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = db.DefaultConversationTitle
	}
	row := &db.Conversation{ID: uuid.New().String(), UserID: userID, Title: title}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	conv := row.ToModel()
	return &conv, nil
}

func (s *ChatService) RenameConversation(ctx context.Context, userID, id, title string) (*models.Conversation, error) {
	row, err := s.owned(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = db.DefaultConversationTitle
	}
	if err := s.db.WithContext(ctx).Model(row).Update("title", title).Error; err != nil {
		return nil, fmt.Errorf("rename conversation: %w", err)
	}
	row.Title = title
	conv := row.ToModel()
	return &conv, nil
}

// DeleteConversation removes the conversation with its messages and activities.
func (s *ChatService) DeleteConversation(ctx context.Context, userID, id string) error {
	if _, err := s.owned(ctx, userID, id); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		msgIDs := tx.Model(&db.Message{}).Select("id").Where("conversation_id = ?", id)
		if err := tx.Where("message_id IN (?)", msgIDs).Delete(&db.Activity{}).Error; err != nil {
			return fmt.Errorf("delete activities: %w", err)
		}
		if err := tx.Where("conversation_id = ?", id).Delete(&db.Message{}).Error; err != nil {
			return fmt.Errorf("delete messages: %w", err)
		}
		if err := tx.Delete(&db.Conversation{}, "id = ?", id).Error; err != nil {
			return fmt.Errorf("delete conversation: %w", err)
		}
		return nil
	})
}

// GetConversation returns the title and ordered messages that seed a client transcript.
func (s *ChatService) GetConversation(ctx context.Context, userID, id string) (*models.ConversationMessagesResponse, error) {
	row, err := s.owned(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	var msgs []db.Message
	err = s.db.WithContext(ctx).
		Preload("Activities", func(tx *gorm.DB) *gorm.DB { return tx.Order("seq ASC") }).
		Where("conversation_id = ?", id).
		Order("created_at ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}

	out := &models.ConversationMessagesResponse{Title: row.Title, Messages: make([]models.Message, 0, len(msgs))}
	for i := range msgs {
		out.Messages = append(out.Messages, msgs[i].ToModel())
	}
	return out, nil
}

// owned loads a conversation and checks the caller owns it.
func (s *ChatService) owned(ctx context.Context, userID, id string) (*db.Conversation, error) {
	var row db.Conversation
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	if row.UserID != userID {
		return nil, ErrForbidden
	}
	return &row, nil
}

// ========== Prompt submission ==========

// SubmitPrompt persists a pending turn and starts generating its reply in the
// background. It returns once the turn is stored; everything generated
// afterwards reaches the client as events.
func (s *ChatService) SubmitPrompt(ctx context.Context, userID string, req models.SubmitMessageRequest) (*models.Message, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, ErrEmptyPrompt
	}
	conv, err := s.owned(ctx, userID, req.ConversationID)
	if err != nil {
		return nil, err
	}

	contentType := req.ContentType
	if contentType == "" {
		contentType = models.ContentTypeText
	}
	msg := &db.Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		Role:           string(models.RoleUser),
		Text:           text,
		ContentType:    string(contentType),
		Status:         string(models.MessageStatusPending),
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(msg).Error; err != nil {
			return fmt.Errorf("create message: %w", err)
		}
		updates := map[string]interface{}{"updated_at": msg.CreatedAt}
		if conv.Title == db.DefaultConversationTitle {
			conv.Title = titleFromPrompt(text)
			updates["title"] = conv.Title
		}
		return tx.Model(conv).Updates(updates).Error
	})
	if err != nil {
		return nil, err
	}

	turn := event.Turn{
		UserID:         userID,
		ConversationID: conv.ID,
		MessageID:      msg.ID,
		CorrelationID:  req.ID,
	}
	title := conv.Title
	err = s.pool.Submit(userID, msg.ID, conv.ID, func(ctx context.Context) error {
		return s.generate(ctx, turn, title, text)
	})
	if err != nil {
		return nil, err
	}

	out := msg.ToModel()
	return &out, nil
}

// generate runs the model for one turn and reports its outcome as events.
// The returned error only feeds the pool's bookkeeping.
func (s *ChatService) generate(ctx context.Context, turn event.Turn, title, prompt string) error {
	logger := s.logger.With("conversation_id", turn.ConversationID, "message_id", turn.MessageID)

	if _, err := s.addActivity(ctx, turn, models.ActivityTypeInfo, generatingNote); err != nil {
		logger.Warn("Failed to record activity", "error", err)
	}

	var reply string
	var err error
	if s.generator == nil {
		err = ErrModelNotConfigured
	} else {
		reply, err = s.generator.Generate(ctx, prompt)
	}
	if err != nil {
		logger.Warn("Generation failed", "error", err)
		s.fail(ctx, turn, title, err)
		return err
	}

	if form, ok := models.ParseFormMetadata([]byte(reply)); ok {
		s.ask(ctx, turn, title, form)
		return nil
	}
	s.respond(ctx, turn, title, reply)
	return nil
}

// respond stores the reply, completes the turn and tells the user.
func (s *ChatService) respond(ctx context.Context, turn event.Turn, title, reply string) {
	content := models.TextContent(reply)
	err := s.db.WithContext(ctx).Model(&db.Message{ID: turn.MessageID}).Updates(map[string]interface{}{
		"content": string(content),
		"status":  string(models.MessageStatusCompleted),
	}).Error
	if err != nil {
		s.logger.Error("Failed to store response", "message_id", turn.MessageID, "error", err)
	}

	s.emitter.Emit(event.ResponseGeneratedEvent{Turn: turn, Content: content})
	s.notify(ctx, turn.UserID, models.NotificationFinished, fmt.Sprintf("Response ready in %q", title))
}

// ask stores a form the user must fill. The turn stays pending.
func (s *ChatService) ask(ctx context.Context, turn event.Turn, title string, form *models.FormMetadata) {
	md := db.FormMetadata(*form)
	content, _ := json.Marshal(form)
	err := s.db.WithContext(ctx).Model(&db.Message{ID: turn.MessageID}).Updates(map[string]interface{}{
		"content":      string(content),
		"content_type": string(models.ContentTypeJSON),
		"metadata":     &md,
	}).Error
	if err != nil {
		s.logger.Error("Failed to store question", "message_id", turn.MessageID, "error", err)
	}

	s.emitter.Emit(event.QuestionAskedEvent{Turn: turn, Prompt: form.FormTitle, Form: *form})
	s.notify(ctx, turn.UserID, models.NotificationPending, fmt.Sprintf("Input needed in %q: %s", title, form.FormTitle))
}

// fail records an alert activity, completes the turn and tells the user.
func (s *ChatService) fail(ctx context.Context, turn event.Turn, title string, cause error) {
	note := "Failed to generate response: " + cause.Error()
	act, err := s.addActivityQuiet(ctx, turn, models.ActivityTypeAlert, note)
	if err != nil {
		s.logger.Warn("Failed to record alert activity", "message_id", turn.MessageID, "error", err)
	}
	err = s.db.WithContext(ctx).Model(&db.Message{ID: turn.MessageID}).
		Update("status", string(models.MessageStatusCompleted)).Error
	if err != nil {
		s.logger.Error("Failed to complete message", "message_id", turn.MessageID, "error", err)
	}

	alert := event.AlertRaisedEvent{Turn: turn, Note: note}
	if act != nil {
		alert.ActivityID = act.ID
	}
	s.emitter.Emit(alert)
	s.notify(ctx, turn.UserID, models.NotificationFailed, fmt.Sprintf("Generation failed in %q", title))
}

// addActivity persists an activity and emits it.
func (s *ChatService) addActivity(ctx context.Context, turn event.Turn, typ models.ActivityType, note string) (*models.Activity, error) {
	act, err := s.addActivityQuiet(ctx, turn, typ, note)
	if err != nil {
		return nil, err
	}
	s.emitter.Emit(event.ActivityEmittedEvent{Turn: turn, Activity: *act})
	return act, nil
}

func (s *ChatService) addActivityQuiet(ctx context.Context, turn event.Turn, typ models.ActivityType, note string) (*models.Activity, error) {
	var seq int64
	if err := s.db.WithContext(ctx).Model(&db.Activity{}).Where("message_id = ?", turn.MessageID).Count(&seq).Error; err != nil {
		return nil, fmt.Errorf("count activities: %w", err)
	}
	row := &db.Activity{
		ID:           ulid.Make().String(),
		MessageID:    turn.MessageID,
		Message:      note,
		ContentType:  string(models.ContentTypeText),
		ActivityType: string(typ),
		Seq:          int(seq),
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return nil, fmt.Errorf("create activity: %w", err)
	}
	act := row.ToModel()
	return &act, nil
}

func (s *ChatService) notify(ctx context.Context, userID string, typ models.NotificationType, content string) {
	if s.notifications == nil {
		return
	}
	if _, err := s.notifications.Create(ctx, userID, typ, content); err != nil {
		s.logger.Warn("Failed to create notification", "user_id", userID, "type", typ, "error", err)
	}
}

// Generations reports the shared generation queue along with the user's most
// recent finished generations.
func (s *ChatService) Generations(userID string, recent int) GenerationStats {
	return s.pool.Stats(userID, recent)
}

// Wait blocks until every background generation has finished. No prompt may
// be submitted while it waits.
func (s *ChatService) Wait() {
	s.pool.Wait()
}

// Close cancels in-flight generations and waits for them to finish.
func (s *ChatService) Close() {
	s.pool.Close()
}

func titleFromPrompt(prompt string) string {
	prompt = strings.Join(strings.Fields(prompt), " ")
	if utf8.RuneCountInString(prompt) <= titleMaxRunes {
		return prompt
	}
	r := []rune(prompt)
	return strings.TrimSpace(string(r[:titleMaxRunes])) + "..."
}
