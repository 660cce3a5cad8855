package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-chat/parley/pkg/envelope"
	"github.com/parley-chat/parley/pkg/models"
)

// flakyServer accepts the token "good", sends one response envelope per
// connection and then hangs up.
func flakyServer(t *testing.T) (string, *int) {
	t.Helper()
	var mu sync.Mutex
	conns := 0
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != "good" {
			http.Error(w, `{"error":"invalid or expired token"}`, http.StatusUnauthorized)
			return
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		mu.Lock()
		conns++
		n := conns
		mu.Unlock()

		env := envelope.New(envelope.TypeResponse, envelope.RequestCard{ConversationID: "c1"}, "", models.TextContent("reply"))
		env.RequestCard.CardID = "card-" + strconv.Itoa(n)
		_ = ws.WriteMessage(websocket.TextMessage, envelope.Encode(env))
		time.Sleep(20 * time.Millisecond)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), &conns
}

func TestConn_ReconnectsWithNewEpoch(t *testing.T) {
	url, _ := flakyServer(t)

	var mu sync.Mutex
	var epochs []uint64
	var connects []uint64
	c := NewConn(ConnOptions{
		URL:         url,
		Token:       "good",
		ClientID:    "test",
		MaxAttempts: 3,
		BackoffBase: time.Millisecond,
		BackoffMax:  5 * time.Millisecond,
	}, func(epoch uint64, raw []byte) {
		mu.Lock()
		epochs = append(epochs, epoch)
		mu.Unlock()
	})
	c.OnConnect(func(epoch uint64) {
		mu.Lock()
		connects = append(connects, epoch)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(epochs) >= 2
	}, 5*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Less(t, epochs[0], epochs[1])
	assert.Equal(t, connects[:2], epochs[:2])
}

func TestConn_UnauthorizedDoesNotRetry(t *testing.T) {
	url, conns := flakyServer(t)
	c := NewConn(ConnOptions{URL: url, Token: "bad", MaxAttempts: 5, BackoffBase: time.Millisecond}, func(uint64, []byte) {})

	err := c.Run(context.Background())
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, uint64(1), c.Epoch())
	assert.Zero(t, *conns)
}

func TestConn_GivesUpAfterMaxAttempts(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	c := NewConn(ConnOptions{URL: url, Token: "good", MaxAttempts: 3, BackoffBase: time.Millisecond, BackoffMax: 2 * time.Millisecond}, func(uint64, []byte) {})
	err := c.Run(context.Background())
	assert.ErrorIs(t, err, ErrGaveUp)
	assert.Equal(t, uint64(3), c.Epoch())
}

func TestConn_SessionAppliesFrames(t *testing.T) {
	url, _ := flakyServer(t)
	s, _ := newTestSession(&fakeBackend{})
	temp := s.store.AppendProvisional(models.Message{Text: "hi"})
	s.indicator.Start()

	c := NewConn(ConnOptions{URL: url, Token: "good", MaxAttempts: 1}, s.HandleRaw)
	c.OnConnect(s.SetEpoch)
	_ = c.Run(context.Background())

	m, ok := s.store.Get(temp)
	require.True(t, ok)
	assert.Equal(t, models.MessageStatusCompleted, m.Status)
	assert.Equal(t, "reply", m.ContentText())
	assert.False(t, s.Thinking())
}

func TestBackoffDelay(t *testing.T) {
	base, max := 100*time.Millisecond, time.Second
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, time.Second},
		{50, time.Second},
	}
	for _, tt := range tests {
		for i := 0; i < 20; i++ {
			d := backoffDelay(tt.attempt, base, max)
			assert.GreaterOrEqual(t, d, tt.want)
			assert.LessOrEqual(t, d, tt.want+tt.want/4)
		}
	}
}

func TestConn_Endpoint(t *testing.T) {
	c := NewConn(ConnOptions{URL: "ws://localhost:8088/api/events/ws", Token: "a b", ClientID: "tui"}, nil)
	got, err := c.endpoint()
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8088/api/events/ws?client_id=tui&token=a+b", got)
}
