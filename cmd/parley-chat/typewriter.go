package main

import (
	"unicode/utf8"

	"github.com/parley-chat/parley/pkg/models"
)

// typewriter reveals assistant content a few runes per tick. It only ever
// reads message snapshots; the store keeps the full content.
type typewriter struct {
	// shown is the number of runes revealed per message id. Missing means
	// not seen yet.
	shown map[string]int
	step  int
}

func newTypewriter(step int) *typewriter {
	if step <= 0 {
		step = 1
	}
	return &typewriter{shown: make(map[string]int), step: step}
}

// settle marks all current content as fully revealed, as for a transcript
// loaded from the server.
func (tw *typewriter) settle(msgs []models.Message) {
	for _, m := range msgs {
		if text := m.ContentText(); text != "" {
			tw.shown[m.ID] = utf8.RuneCountInString(text)
		}
	}
}

// track starts revealing content that appeared since the last call. It
// reports whether anything is still partially shown.
func (tw *typewriter) track(msgs []models.Message) bool {
	for _, m := range msgs {
		if m.ContentText() == "" {
			continue
		}
		if _, ok := tw.shown[m.ID]; !ok {
			tw.shown[m.ID] = 0
		}
	}
	return tw.pending(msgs)
}

// advance reveals one more step of every partial message and reports whether
// anything remains.
func (tw *typewriter) advance(msgs []models.Message) bool {
	for _, m := range msgs {
		n, ok := tw.shown[m.ID]
		if !ok {
			continue
		}
		total := utf8.RuneCountInString(m.ContentText())
		if n < total {
			tw.shown[m.ID] = min(n+tw.step, total)
		}
	}
	return tw.pending(msgs)
}

func (tw *typewriter) pending(msgs []models.Message) bool {
	for _, m := range msgs {
		n, ok := tw.shown[m.ID]
		if ok && n < utf8.RuneCountInString(m.ContentText()) {
			return true
		}
	}
	return false
}

// visible is the revealed prefix of m's content.
func (tw *typewriter) visible(m models.Message) string {
	text := m.ContentText()
	n, ok := tw.shown[m.ID]
	if !ok {
		return ""
	}
	if n >= utf8.RuneCountInString(text) {
		return text
	}
	return string([]rune(text)[:n])
}
