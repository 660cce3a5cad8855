package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/parley-chat/parley/pkg/models"
)

// EventsPath is where the server exposes the event channel.
const EventsPath = "/api/events/ws"

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

// API is a small REST client for the parley server. It implements Backend.
type API struct {
	baseURL string
	http    *http.Client
	token   string
}

func NewAPI(baseURL string) *API {
	return &API{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// SetToken sets the bearer token sent with every request.
func (a *API) SetToken(token string) { a.token = token }

func (a *API) Token() string { return a.token }

// EventsURL is the WebSocket endpoint matching the base URL.
func (a *API) EventsURL() string {
	u, err := url.Parse(a.baseURL)
	if err != nil {
		return a.baseURL + EventsPath
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + EventsPath
	return u.String()
}

// ========== Auth ==========

func (a *API) Register(ctx context.Context, req models.RegisterRequest) (*models.AuthResponse, error) {
	var resp models.AuthResponse
	if err := a.do(ctx, http.MethodPost, "/api/auth/register", req, &resp); err != nil {
		return nil, err
	}
	a.token = resp.AccessToken
	return &resp, nil
}

func (a *API) Login(ctx context.Context, username, password string) (*models.AuthResponse, error) {
	var resp models.AuthResponse
	req := models.LoginRequest{Username: username, Password: password}
	if err := a.do(ctx, http.MethodPost, "/api/auth/login", req, &resp); err != nil {
		return nil, err
	}
	a.token = resp.AccessToken
	return &resp, nil
}

// ========== Conversations ==========

func (a *API) ListConversations(ctx context.Context) ([]models.ConversationSummary, error) {
	var resp models.ConversationListResponse
	if err := a.do(ctx, http.MethodGet, "/api/conversations", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Conversations, nil
}

func (a *API) CreateConversation(ctx context.Context, title string) (*models.Conversation, error) {
	var conv models.Conversation
	if err := a.do(ctx, http.MethodPost, "/api/conversations", models.CreateConversationRequest{Title: title}, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

func (a *API) FetchConversation(ctx context.Context, id string) (*models.ConversationMessagesResponse, error) {
	var resp models.ConversationMessagesResponse
	if err := a.do(ctx, http.MethodGet, "/api/conversations/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (a *API) SubmitMessage(ctx context.Context, req models.SubmitMessageRequest) (*models.SubmitResponse, error) {
	var resp models.SubmitResponse
	if err := a.do(ctx, http.MethodPost, "/api/conversations/message", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ========== Notifications ==========

func (a *API) ListNotifications(ctx context.Context) ([]models.Notification, error) {
	var list []models.Notification
	if err := a.do(ctx, http.MethodGet, "/api/notifications", nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (a *API) MarkNotificationRead(ctx context.Context, id string) error {
	return a.do(ctx, http.MethodPost, "/api/notifications/"+url.PathEscape(id)+"/read", nil, nil)
}

func (a *API) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "marshal request")
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return errors.Wrapf(err, "build %s %s", method, path)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return errors.Wrapf(err, "read %s %s", method, path)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Status: resp.StatusCode, Message: errorMessage(data, resp.Status)}
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrapf(err, "decode %s %s", method, path)
	}
	return nil
}

// errorMessage pulls "error" or "message" out of a JSON error body.
func errorMessage(data []byte, fallback string) string {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &body) == nil {
		if body.Error != "" {
			return body.Error
		}
		if body.Message != "" {
			return body.Message
		}
	}
	return fallback
}
