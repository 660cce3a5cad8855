package envelope

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_Response(t *testing.T) {
	raw := `{
		"type": "response",
		"requestCard": {"conversationId": "c1", "conversationMessageId": "m1", "senderId": "bot", "senderRole": "assistant"},
		"message": "done",
		"content": "hi there",
		"timestamp": "2024-05-01T10:00:00.000Z"
	}`

	env, err := Decode([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, TypeResponse, env.Type)
	assert.Equal(t, "m1", env.RequestCard.ConversationMessageID)
	assert.Equal(t, "c1", env.RequestCard.ConversationID)
	assert.Equal(t, "done", env.Message)
	s, ok := env.ContentString()
	require.True(t, ok)
	assert.Equal(t, "hi there", s)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), env.Timestamp.UTC())
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		reason string
	}{
		{name: "not json", raw: "{not json", reason: "malformed json"},
		{name: "missing type", raw: `{"timestamp":"2024-05-01T10:00:00Z"}`, reason: "missing type"},
		{name: "empty type", raw: `{"type":"","timestamp":"2024-05-01T10:00:00Z"}`, reason: "missing type"},
		{name: "missing timestamp", raw: `{"type":"ping"}`, reason: "missing timestamp"},
		{name: "bad timestamp", raw: `{"type":"ping","timestamp":"yesterday"}`, reason: "bad timestamp"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.raw))
			require.Error(t, err)
			var decErr *DecodeError
			require.True(t, errors.As(err, &decErr))
			assert.Equal(t, tt.reason, decErr.Reason)
		})
	}
}

func TestDecode_UnknownTypeIsDistinctVariant(t *testing.T) {
	env, err := Decode([]byte(`{"type":"typing","timestamp":"2024-05-01T10:00:00Z","message":"..."}`))
	require.NoError(t, err)
	assert.Equal(t, TypeUnknown, env.Type)
	assert.Equal(t, "typing", env.RawType)
	assert.False(t, env.Type.Known())

	// The original tag survives a round trip so relays stay transparent.
	again, err := Decode(Encode(env))
	require.NoError(t, err)
	assert.Equal(t, "typing", again.RawType)
}

func TestDecode_NullContent(t *testing.T) {
	env, err := Decode([]byte(`{"type":"activity","timestamp":"2024-05-01T10:00:00Z","content":null}`))
	require.NoError(t, err)
	assert.False(t, env.HasContent())
	assert.Nil(t, env.Content)
}

func TestEncode_ShapeAndRoundTrip(t *testing.T) {
	card := RequestCard{ConversationID: "c1", ConversationMessageID: "m1", SenderRole: "assistant"}
	env := New(TypeActivity, card, "searching docs", RawContent(map[string]any{"step": 1}))

	raw := Encode(env)

	var generic map[string]any
	require.NoError(t, json.Unmarshal(raw, &generic))
	assert.Equal(t, "activity", generic["type"])
	assert.Equal(t, "searching docs", generic["message"])
	assert.Contains(t, generic, "timestamp")
	assert.Contains(t, generic, "requestCard")

	back, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, env.Type, back.Type)
	assert.Equal(t, env.RequestCard, back.RequestCard)
	assert.JSONEq(t, `{"step":1}`, string(back.Content))
	assert.True(t, env.Timestamp.Equal(back.Timestamp))
}

func TestEncode_InvalidRawContentIsDropped(t *testing.T) {
	env := New(TypeResponse, RequestCard{}, "x", json.RawMessage("{broken"))
	back, err := Decode(Encode(env))
	require.NoError(t, err)
	assert.False(t, back.HasContent())
}

func TestTypeClassification(t *testing.T) {
	tests := []struct {
		typ      Type
		control  bool
		terminal bool
		creates  bool
	}{
		{TypePing, true, false, false},
		{TypePong, true, false, false},
		{TypeQuestion, false, false, true},
		{TypeActivity, false, false, false},
		{TypeResponse, false, true, true},
		{TypeAlert, false, true, false},
		{TypeUnknown, false, false, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			assert.Equal(t, tt.control, tt.typ.IsControl())
			assert.Equal(t, tt.terminal, tt.typ.IsTerminal())
			assert.Equal(t, tt.creates, tt.typ.CreatesMessage())
		})
	}
}
