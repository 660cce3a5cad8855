package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-chat/parley/pkg/config"
	"github.com/parley-chat/parley/pkg/db"
	"github.com/parley-chat/parley/pkg/event"
	"github.com/parley-chat/parley/pkg/llm"
	"github.com/parley-chat/parley/pkg/models"
	"github.com/parley-chat/parley/pkg/service"
)

type testAPI struct {
	engine *gin.Engine
	chat   *service.ChatService
}

func newTestAPI(t *testing.T, perMinute, burst int) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	gdb, err := db.Open(filepath.Join(t.TempDir(), "parley.db"))
	require.NoError(t, err)
	auth, err := service.NewAuthService(gdb, config.AuthConfig{Secret: "handler-secret"})
	require.NoError(t, err)

	em := event.NewEmitter()
	notifications := service.NewNotificationService(gdb, em)
	gen := llm.GeneratorFunc(func(context.Context, string) (string, error) { return "hi there", nil })
	chat := service.NewChatService(gdb, gen, notifications, em)
	t.Cleanup(chat.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	r := gin.New()
	api := r.Group("/api")
	NewAuthHandler(auth).RegisterRoutes(api)
	protected := api.Group("", AuthRequired(auth))
	NewChatHandler(chat).RegisterRoutes(protected, NewPromptLimiter(ctx, perMinute, burst).Middleware())
	NewNotificationHandler(notifications).RegisterRoutes(protected)

	return &testAPI{engine: r, chat: chat}
}

func (a *testAPI) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func (a *testAPI) register(t *testing.T, username string) models.AuthResponse {
	t.Helper()
	w := a.do(t, http.MethodPost, "/api/auth/register", "", models.RegisterRequest{Username: username, Password: "secret1"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[models.AuthResponse](t, w)
}

func TestAuthRoutes(t *testing.T) {
	api := newTestAPI(t, 60, 5)
	reg := api.register(t, "ada")

	w := api.do(t, http.MethodPost, "/api/auth/register", "", models.RegisterRequest{Username: "ada", Password: "secret1"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = api.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{"username": "short"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(t, http.MethodPost, "/api/auth/login", "", models.LoginRequest{Username: "ada", Password: "nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = api.do(t, http.MethodPost, "/api/auth/login", "", models.LoginRequest{Username: "ada", Password: "secret1"})
	require.Equal(t, http.StatusOK, w.Code)

	w = api.do(t, http.MethodPost, "/api/auth/validate-token", "", models.ValidateTokenRequest{Token: reg.AccessToken})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[map[string]any](t, w)["valid"].(bool))

	w = api.do(t, http.MethodPost, "/api/auth/refresh", "", models.RefreshRequest{RefreshToken: reg.RefreshToken})
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, decode[models.RefreshResponse](t, w).AccessToken)

	w = api.do(t, http.MethodPost, "/api/auth/logout", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	api := newTestAPI(t, 60, 5)

	assert.Equal(t, http.StatusUnauthorized, api.do(t, http.MethodGet, "/api/conversations", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, api.do(t, http.MethodGet, "/api/conversations", "garbage", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, api.do(t, http.MethodGet, "/api/notifications?token=garbage", "", nil).Code)
}

func TestConversationRoutes(t *testing.T) {
	api := newTestAPI(t, 60, 5)
	alice := api.register(t, "alice").AccessToken
	bob := api.register(t, "bob").AccessToken

	w := api.do(t, http.MethodPost, "/api/conversations", alice, models.CreateConversationRequest{Title: "Plans"})
	require.Equal(t, http.StatusCreated, w.Code)
	conv := decode[models.Conversation](t, w)

	w = api.do(t, http.MethodGet, "/api/conversations", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[models.ConversationListResponse](t, w).Conversations, 1)

	assert.Equal(t, http.StatusForbidden, api.do(t, http.MethodGet, "/api/conversations/"+conv.ID, bob, nil).Code)
	assert.Equal(t, http.StatusNotFound, api.do(t, http.MethodGet, "/api/conversations/missing", alice, nil).Code)

	w = api.do(t, http.MethodPatch, "/api/conversations/"+conv.ID, alice, models.RenameConversationRequest{Title: "Trip"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Trip", decode[models.Conversation](t, w).Title)

	w = api.do(t, http.MethodPost, "/api/conversations/message", alice, models.SubmitMessageRequest{
		ID: "pending-abc", ConversationID: conv.ID, Text: "hello",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	ack := decode[models.SubmitResponse](t, w)
	assert.Equal(t, models.SubmitStatusSuccess, ack.Status)
	assert.NotEmpty(t, ack.MessageID)
	api.chat.Wait()

	w = api.do(t, http.MethodGet, "/api/conversations/"+conv.ID, alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[models.ConversationMessagesResponse](t, w)
	assert.Equal(t, "Trip", got.Title)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, ack.MessageID, got.Messages[0].ID)
	assert.Equal(t, models.MessageStatusCompleted, got.Messages[0].Status)

	w = api.do(t, http.MethodGet, "/api/generations", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	gens := decode[service.GenerationStats](t, w)
	require.Len(t, gens.Recent, 1)
	assert.Equal(t, ack.MessageID, gens.Recent[0].MessageID)
	assert.Equal(t, service.GenerationSucceeded, gens.Recent[0].Status)
	w = api.do(t, http.MethodGet, "/api/generations", bob, nil)
	assert.Empty(t, decode[service.GenerationStats](t, w).Recent)

	w = api.do(t, http.MethodPost, "/api/conversations/message", bob, models.SubmitMessageRequest{ConversationID: conv.ID, Text: "hi"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, models.SubmitStatusError, decode[models.SubmitResponse](t, w).Status)

	assert.Equal(t, http.StatusNoContent, api.do(t, http.MethodDelete, "/api/conversations/"+conv.ID, alice, nil).Code)
	assert.Equal(t, http.StatusNotFound, api.do(t, http.MethodGet, "/api/conversations/"+conv.ID, alice, nil).Code)
}

func TestSubmitIsRateLimited(t *testing.T) {
	api := newTestAPI(t, 1, 1)
	token := api.register(t, "ada").AccessToken
	w := api.do(t, http.MethodPost, "/api/conversations", token, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	conv := decode[models.Conversation](t, w)

	req := models.SubmitMessageRequest{ConversationID: conv.ID, Text: "hello"}
	assert.Equal(t, http.StatusOK, api.do(t, http.MethodPost, "/api/conversations/message", token, req).Code)
	assert.Equal(t, http.StatusTooManyRequests, api.do(t, http.MethodPost, "/api/conversations/message", token, req).Code)
	api.chat.Wait()
}

func TestNotificationRoutes(t *testing.T) {
	api := newTestAPI(t, 60, 5)
	token := api.register(t, "ada").AccessToken
	other := api.register(t, "eve").AccessToken

	w := api.do(t, http.MethodPost, "/api/notifications", token, models.CreateNotificationRequest{Type: "bogus", Content: "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(t, http.MethodPost, "/api/notifications", token, models.CreateNotificationRequest{Type: models.NotificationFinished, Content: "done"})
	require.Equal(t, http.StatusCreated, w.Code)
	n := decode[models.Notification](t, w)

	assert.Equal(t, http.StatusNotFound, api.do(t, http.MethodPost, "/api/notifications/"+n.ID+"/read", other, nil).Code)
	w = api.do(t, http.MethodPost, "/api/notifications/"+n.ID+"/read", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = api.do(t, http.MethodPost, "/api/notifications/"+n.ID+"/read", token, nil)
	assert.Contains(t, w.Body.String(), "already")

	w = api.do(t, http.MethodGet, "/api/notifications", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[[]models.Notification](t, w)
	require.Len(t, list, 1)
	assert.True(t, list[0].IsRead)

	assert.Equal(t, http.StatusOK, api.do(t, http.MethodDelete, "/api/notifications/"+n.ID, token, nil).Code)
	assert.Equal(t, http.StatusNotFound, api.do(t, http.MethodDelete, "/api/notifications/"+n.ID, token, nil).Code)
}

func TestCORS(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORS([]string{"https://chat.example.com"}))
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	cases := []struct {
		origin string
		method string
		want   int
	}{
		{"", http.MethodGet, http.StatusOK},
		{"https://chat.example.com", http.MethodGet, http.StatusOK},
		{"http://localhost:5173", http.MethodOptions, http.StatusNoContent},
		{"https://evil.example.com", http.MethodGet, http.StatusForbidden},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, "/", nil)
		if tc.origin != "" {
			req.Header.Set("Origin", tc.origin)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, tc.want, w.Code, tc.origin)
	}
}
