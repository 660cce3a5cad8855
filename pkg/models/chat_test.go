package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormMetadata(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		ok   bool
	}{
		{
			name: "valid form",
			raw:  `{"formTitle":"Trip","fields":[{"name":"city","label":"City","type":"text","isRequired":true}]}`,
			ok:   true,
		},
		{
			name: "fenced json",
			raw:  "```json\n{\"formTitle\":\"Trip\",\"fields\":[{\"name\":\"city\",\"label\":\"City\",\"type\":\"text\"}]}\n```",
			ok:   true,
		},
		{name: "plain text", raw: "hi there", ok: false},
		{name: "no fields", raw: `{"formTitle":"Trip","fields":[]}`, ok: false},
		{name: "no title", raw: `{"fields":[{"name":"a","label":"A","type":"text"}]}`, ok: false},
		{name: "field without label", raw: `{"formTitle":"T","fields":[{"name":"a","type":"text"}]}`, ok: false},
		{name: "other json object", raw: `{"answer":42}`, ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			form, ok := ParseFormMetadata([]byte(tt.raw))
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				require.NotNil(t, form)
				assert.Equal(t, "Trip", form.FormTitle)
				assert.Equal(t, "city", form.Fields[0].Name)
			}
		})
	}
}

func TestMessageContentText(t *testing.T) {
	assert.Equal(t, "hi there", Message{Content: TextContent("hi there")}.ContentText())
	assert.Equal(t, `{"a":1}`, Message{Content: json.RawMessage(`{"a":1}`)}.ContentText())
	assert.Equal(t, "", Message{}.ContentText())
}

func TestMessageCloneIsDeep(t *testing.T) {
	orig := Message{
		ID:         "m1",
		Content:    TextContent("x"),
		Metadata:   &FormMetadata{FormTitle: "T", Fields: []FormField{{Name: "a"}}},
		Activities: []Activity{{ID: "a1", Content: json.RawMessage(`{"k":1}`)}},
	}

	cp := orig.Clone()
	cp.Activities[0].ID = "changed"
	cp.Activities = append(cp.Activities, Activity{ID: "a2"})
	cp.Metadata.Fields[0].Name = "changed"
	cp.Content[1] = 'y'

	assert.Equal(t, "a1", orig.Activities[0].ID)
	assert.Len(t, orig.Activities, 1)
	assert.Equal(t, "a", orig.Metadata.Fields[0].Name)
	assert.Equal(t, "x", orig.ContentText())
}
