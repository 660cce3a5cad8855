package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-chat/parley/pkg/models"
)

func TestAPI_LoginThenAuthorizedCalls(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var req models.LoginRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Password != "secret1" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid credentials"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(models.AuthResponse{User: models.UserInfo{ID: "u1", Username: req.Username}, AccessToken: "tok"})
	})
	mux.HandleFunc("/api/conversations/message", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req models.SubmitMessageRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(models.SubmitResponse{Status: models.SubmitStatusSuccess, Message: "queued", MessageID: "m-" + req.ID})
	})
	mux.HandleFunc("/api/conversations/c404", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"conversation not found"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	api := NewAPI(srv.URL + "/")
	ctx := context.Background()

	_, err := api.Login(ctx, "ana", "wrong")
	assert.True(t, IsStatus(err, http.StatusUnauthorized))
	assert.EqualError(t, err, "server returned 401: invalid credentials")

	resp, err := api.Login(ctx, "ana", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "u1", resp.User.ID)
	assert.Equal(t, "tok", api.Token())

	ack, err := api.SubmitMessage(ctx, models.SubmitMessageRequest{ID: "pending-1", ConversationID: "c1", Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "m-pending-1", ack.MessageID)

	_, err = api.FetchConversation(ctx, "c404")
	assert.True(t, IsStatus(err, http.StatusNotFound))
}

func TestAPI_EventsURL(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"http://127.0.0.1:8088", "ws://127.0.0.1:8088/api/events/ws"},
		{"https://chat.example.com/", "wss://chat.example.com/api/events/ws"},
		{"http://host/prefix", "ws://host/prefix/api/events/ws"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NewAPI(tt.base).EventsURL())
	}
}
