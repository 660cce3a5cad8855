package client

import (
	"github.com/parley-chat/parley/pkg/envelope"
	"github.com/parley-chat/parley/pkg/models"
)

// match finds the message env refers to:
//  1. the message whose id equals the card's conversationMessageId;
//  2. the message whose temporary id equals the card's correlationId, or
//     that was promoted away from it;
//  3. only when the card has no correlation id, and for any type but
//     question, the most recently appended message that is pending and
//     still holds a temporary id.
//
// Step 3 is a heuristic. With two prompts in flight it prefers the newer one,
// which can misattribute events for the older prompt when the server sends no
// correlation id.
func (s *Store) match(env envelope.Envelope) (int, bool) {
	card := env.RequestCard

	if id := card.ConversationMessageID; id != "" {
		if i, ok := s.index[id]; ok {
			return i, true
		}
	}

	if id := card.CorrelationID; id != "" {
		if i, ok := s.index[id]; ok && IsTempID(id) {
			return i, true
		}
		if promoted, ok := s.retired[id]; ok {
			if i, ok := s.index[promoted]; ok {
				return i, true
			}
		}
		// Correlated to a turn this store never issued, such as one sent
		// by another client of the same user.
		return -1, false
	}

	if env.Type == envelope.TypeQuestion {
		return -1, false
	}
	for i := len(s.messages) - 1; i >= 0; i-- {
		m := s.messages[i]
		if m.Status == models.MessageStatusPending && IsTempID(m.ID) {
			return i, true
		}
	}
	return -1, false
}
