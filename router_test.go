package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-chat/parley/pkg/client"
	"github.com/parley-chat/parley/pkg/config"
	"github.com/parley-chat/parley/pkg/db"
	"github.com/parley-chat/parley/pkg/llm"
	"github.com/parley-chat/parley/pkg/models"
)

type harness struct {
	server *Server
	url    string
}

func newHarness(t *testing.T, gen llm.Generator) *harness {
	t.Helper()
	gdb, err := db.Open(filepath.Join(t.TempDir(), "parley.db"))
	require.NoError(t, err)

	cfg := &config.AppConfig{Auth: config.AuthConfig{Secret: "e2e-secret"}}
	s, err := NewServer(cfg, WithDB(gdb), WithGenerator(gen))
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		s.Close()
	})
	return &harness{server: s, url: ts.URL}
}

// open registers a user, creates a conversation and connects a session to it.
func (h *harness) open(t *testing.T, username string) (*client.API, *client.Session) {
	t.Helper()
	ctx := context.Background()
	api := client.NewAPI(h.url)
	_, err := api.Register(ctx, models.RegisterRequest{Username: username, Password: "secret1"})
	require.NoError(t, err)
	conv, err := api.CreateConversation(ctx, "")
	require.NoError(t, err)

	sess := client.NewSession(api, conv.ID)
	require.NoError(t, sess.Load(ctx))

	conn := client.NewConn(client.ConnOptions{
		URL:         api.EventsURL(),
		Token:       api.Token(),
		ClientID:    "test",
		MaxAttempts: 1,
	}, sess.HandleRaw)
	conn.OnConnect(sess.SetEpoch)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = conn.Run(runCtx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	before := h.server.registry.Count()
	require.Eventually(t, func() bool { return h.server.registry.Count() > before }, 2*time.Second, 5*time.Millisecond)
	return api, sess
}

func TestServer_Root(t *testing.T) {
	h := newHarness(t, llm.GeneratorFunc(func(context.Context, string) (string, error) { return "ok", nil }))

	resp, err := http.Get(h.url + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	rt, err := http.Get(h.url + "/api/runtime")
	require.NoError(t, err)
	defer rt.Body.Close()
	var info models.RuntimeInfo
	require.NoError(t, json.NewDecoder(rt.Body).Decode(&info))
	assert.Equal(t, "/api/events/ws", info.EventsPath)
}

func TestServer_EventsRequireToken(t *testing.T) {
	h := newHarness(t, nil)
	conn := client.NewConn(client.ConnOptions{
		URL:         "ws" + strings.TrimPrefix(h.url, "http") + client.EventsPath,
		Token:       "forged",
		MaxAttempts: 3,
	}, func(uint64, []byte) {})

	err := conn.Run(context.Background())
	assert.ErrorIs(t, err, client.ErrUnauthorized)
	assert.Zero(t, h.server.registry.Count())
}

func TestServer_PromptRoundTrip(t *testing.T) {
	h := newHarness(t, llm.GeneratorFunc(func(_ context.Context, prompt string) (string, error) {
		return "You said: " + prompt, nil
	}))
	api, sess := h.open(t, "ada")

	id, err := sess.Submit(context.Background(), "plan a trip")
	require.NoError(t, err)
	assert.False(t, client.IsTempID(id))

	require.Eventually(t, func() bool { return !sess.Thinking() }, 5*time.Second, 10*time.Millisecond)

	v := sess.View()
	require.Len(t, v.Messages, 1)
	m := v.Messages[0]
	assert.Equal(t, id, m.ID)
	assert.Equal(t, models.MessageStatusCompleted, m.Status)
	assert.Equal(t, "You said: plan a trip", m.ContentText())
	require.NotEmpty(t, m.Activities)
	assert.Equal(t, "Generating response", m.Activities[0].Message)

	// The finished notification arrives as a notice, not a transcript entry.
	require.Eventually(t, func() bool { return len(sess.View().Notices) > 0 }, 5*time.Second, 10*time.Millisecond)
	assert.Len(t, sess.View().Messages, 1)

	// A fresh load agrees with the live transcript.
	fetched, err := api.FetchConversation(context.Background(), sess.ConversationID())
	require.NoError(t, err)
	require.Len(t, fetched.Messages, 1)
	assert.Equal(t, id, fetched.Messages[0].ID)
	assert.Equal(t, "plan a trip", fetched.Title)
}

func TestServer_FormReplyBecomesQuestion(t *testing.T) {
	form := `{"formTitle":"Trip details","fields":[{"name":"city","label":"City","type":"text","isRequired":true}]}`
	h := newHarness(t, llm.GeneratorFunc(func(context.Context, string) (string, error) { return form, nil }))
	_, sess := h.open(t, "bob")

	id, err := sess.Submit(context.Background(), "plan a trip")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		m := sess.View().Messages[0]
		return m.Metadata != nil
	}, 5*time.Second, 10*time.Millisecond)

	m := sess.View().Messages[0]
	assert.Equal(t, id, m.ID)
	assert.Equal(t, "Trip details", m.Metadata.FormTitle)
	assert.Equal(t, models.MessageStatusPending, m.Status)
	// A question is not terminal.
	assert.True(t, sess.Thinking())
}

func TestServer_GeneratorFailureRaisesAlert(t *testing.T) {
	h := newHarness(t, llm.GeneratorFunc(func(context.Context, string) (string, error) {
		return "", errors.New("quota exceeded")
	}))
	_, sess := h.open(t, "cy")

	_, err := sess.Submit(context.Background(), "hello")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return !sess.Thinking() }, 5*time.Second, 10*time.Millisecond)

	m := sess.View().Messages[0]
	assert.Equal(t, models.MessageStatusCompleted, m.Status)
	last := m.Activities[len(m.Activities)-1]
	assert.Equal(t, models.ActivityTypeAlert, last.ActivityType)
}

func TestServer_SubmitToForeignConversationFails(t *testing.T) {
	h := newHarness(t, llm.GeneratorFunc(func(context.Context, string) (string, error) { return "ok", nil }))
	_, owner := h.open(t, "dee")

	intruder := client.NewAPI(h.url)
	_, err := intruder.Register(context.Background(), models.RegisterRequest{Username: "eve", Password: "secret1"})
	require.NoError(t, err)

	sess := client.NewSession(intruder, owner.ConversationID())
	_, err = sess.Submit(context.Background(), "let me in")
	var subErr *client.SubmissionError
	require.ErrorAs(t, err, &subErr)
	assert.True(t, client.IsStatus(err, http.StatusForbidden))
	assert.False(t, sess.Thinking())
}
