package client

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/parley-chat/parley/pkg/envelope"
	"github.com/parley-chat/parley/pkg/models"
	"github.com/parley-chat/parley/pkg/utils"
)

// Backend is the HTTP side of a conversation.
type Backend interface {
	SubmitMessage(ctx context.Context, req models.SubmitMessageRequest) (*models.SubmitResponse, error)
	FetchConversation(ctx context.Context, id string) (*models.ConversationMessagesResponse, error)
}

// NoticeLevel classifies a notice.
type NoticeLevel string

const (
	NoticeInfo  NoticeLevel = "info"
	NoticeError NoticeLevel = "error"
)

// Notice is a message for the user that is not part of the transcript.
type Notice struct {
	Level NoticeLevel
	Text  string
	Time  time.Time
}

// maxNotices bounds the notice backlog kept for rendering.
const maxNotices = 20

// SubmissionError is returned by Submit when the server refused or never
// acknowledged the prompt.
type SubmissionError struct {
	TempID string
	Err    error
}

func (e *SubmissionError) Error() string { return "submit prompt: " + e.Err.Error() }

func (e *SubmissionError) Unwrap() error { return e.Err }

// View is what a renderer needs to draw the conversation.
type View struct {
	Title    string
	Messages []models.Message
	Thinking bool
	Notices  []Notice
}

// Session owns the store and indicator of one open conversation. All
// mutation goes through its mutex; Conn's reader is the single producer of
// envelopes.
type Session struct {
	mu             sync.Mutex
	backend        Backend
	conversationID string
	title          string
	store          *Store
	indicator      Indicator
	epoch          uint64
	notices        []Notice
	onChange       func()
	logger         *slog.Logger
}

func NewSession(backend Backend, conversationID string) *Session {
	return &Session{
		backend:        backend,
		conversationID: conversationID,
		store:          NewStore(),
		logger:         utils.GetLogger(),
	}
}

func (s *Session) ConversationID() string { return s.conversationID }

// OnChange registers fn to be called, without the lock held, after every
// visible change.
func (s *Session) OnChange(fn func()) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Load seeds the transcript from the server.
func (s *Session) Load(ctx context.Context) error {
	resp, err := s.backend.FetchConversation(ctx, s.conversationID)
	if err != nil {
		return errors.Wrapf(err, "fetch conversation %s", s.conversationID)
	}
	s.mu.Lock()
	s.title = resp.Title
	s.store.Load(resp.Messages)
	s.mu.Unlock()
	s.changed()
	return nil
}

// Submit appends text as a provisional message, turns the indicator on and
// sends the prompt. It returns the id the message ends up with.
func (s *Session) Submit(ctx context.Context, text string) (string, error) {
	s.mu.Lock()
	tempID := s.store.AppendProvisional(models.Message{
		ConversationID: s.conversationID,
		Role:           models.RoleUser,
		Text:           text,
		ContentType:    models.ContentTypeText,
		Timestamp:      time.Now().UTC(),
	})
	s.indicator.Start()
	s.mu.Unlock()
	s.changed()

	resp, err := s.backend.SubmitMessage(ctx, models.SubmitMessageRequest{
		ID:             tempID,
		ConversationID: s.conversationID,
		Text:           text,
		ContentType:    models.ContentTypeText,
	})
	if err == nil && resp.Status == models.SubmitStatusError {
		err = errors.New(resp.Message)
	}
	if err != nil {
		s.failSubmission(tempID, err)
		return tempID, &SubmissionError{TempID: tempID, Err: err}
	}

	if resp.MessageID == "" {
		return tempID, nil
	}
	// An envelope may already have promoted it; Promote is then a no-op.
	s.mu.Lock()
	promoted := s.store.Promote(tempID, resp.MessageID)
	s.mu.Unlock()
	if promoted {
		s.changed()
	}
	return resp.MessageID, nil
}

func (s *Session) failSubmission(tempID string, err error) {
	s.logger.Warn("Prompt submission failed", "temp_id", tempID, "error", err)
	s.mu.Lock()
	s.store.MarkFailed(tempID, "Failed to send: "+err.Error())
	s.indicator.Fail()
	s.addNotice(NoticeError, "Message not sent: "+err.Error())
	s.mu.Unlock()
	s.changed()
}

// SetEpoch starts a new connection epoch. Frames tagged with an older epoch
// are ignored from then on.
func (s *Session) SetEpoch(epoch uint64) {
	s.mu.Lock()
	if epoch > s.epoch {
		s.epoch = epoch
	}
	s.mu.Unlock()
}

// HandleRaw decodes and applies one frame read during epoch.
func (s *Session) HandleRaw(epoch uint64, raw []byte) {
	s.mu.Lock()
	stale := epoch < s.epoch
	s.mu.Unlock()
	if stale {
		s.logger.Debug("Ignoring frame from a previous connection", "epoch", epoch)
		return
	}

	env, err := envelope.Decode(raw)
	if err != nil {
		s.logger.Warn("Discarding malformed envelope", "error", err)
		return
	}
	s.Apply(env)
}

// Apply routes a decoded envelope. It reports whether anything visible changed.
func (s *Session) Apply(env envelope.Envelope) bool {
	if env.Type.IsControl() {
		return false
	}
	if !env.Type.Known() {
		s.logger.Warn("Ignoring envelope of unknown type", "type", env.RawType)
		return false
	}

	card := env.RequestCard
	s.mu.Lock()
	if env.Type == envelope.TypeAlert && card.ConversationID == "" {
		s.addNotice(NoticeInfo, env.Message)
		s.mu.Unlock()
		s.changed()
		return true
	}
	if card.ConversationID != "" && card.ConversationID != s.conversationID {
		s.mu.Unlock()
		s.logger.Debug("Ignoring envelope for another conversation", "conversation_id", card.ConversationID, "type", env.Type)
		return false
	}

	res := s.store.Apply(env)
	cleared := s.indicator.Observe(env.Type)
	s.mu.Unlock()

	changed := cleared || res.Outcome == OutcomeUpdated || res.Outcome == OutcomeAppended
	if changed {
		s.changed()
	}
	return changed
}

// View returns a snapshot for rendering.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return View{
		Title:    s.title,
		Messages: s.store.Snapshot(),
		Thinking: s.indicator.On(),
		Notices:  append([]Notice(nil), s.notices...),
	}
}

// Thinking reports whether a reply is awaited.
func (s *Session) Thinking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.indicator.On()
}

// Notify adds a notice from outside the envelope stream, such as a
// connection state change.
func (s *Session) Notify(level NoticeLevel, text string) {
	s.mu.Lock()
	s.addNotice(level, text)
	s.mu.Unlock()
	s.changed()
}

// addNotice requires s.mu.
func (s *Session) addNotice(level NoticeLevel, text string) {
	s.notices = append(s.notices, Notice{Level: level, Text: text, Time: time.Now()})
	if n := len(s.notices); n > maxNotices {
		s.notices = append([]Notice(nil), s.notices[n-maxNotices:]...)
	}
}

func (s *Session) changed() {
	s.mu.Lock()
	fn := s.onChange
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}
