package event

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/parley-chat/parley/pkg/envelope"
	"github.com/parley-chat/parley/pkg/utils"
)

// DefaultOutboxSize bounds the envelopes queued for one channel.
const DefaultOutboxSize = 64

// Channel is the server side of one live client connection. Envelopes are
// queued on its outbox and written by the connection's writer goroutine.
type Channel struct {
	id       string
	userID   string
	clientID string
	epoch    uint64

	outbox    chan envelope.Envelope
	done      chan struct{}
	closeOnce sync.Once
}

// NewChannel creates an unregistered channel with a bounded outbox.
func NewChannel(outboxSize int) *Channel {
	if outboxSize <= 0 {
		outboxSize = DefaultOutboxSize
	}
	return &Channel{
		id:     uuid.New().String(),
		outbox: make(chan envelope.Envelope, outboxSize),
		done:   make(chan struct{}),
	}
}

func (c *Channel) ID() string       { return c.id }
func (c *Channel) UserID() string   { return c.userID }
func (c *Channel) ClientID() string { return c.clientID }
func (c *Channel) Epoch() uint64    { return c.epoch }

// Outbox is drained by the writer.
func (c *Channel) Outbox() <-chan envelope.Envelope { return c.outbox }

// Done is closed when the channel is superseded or unregistered.
func (c *Channel) Done() <-chan struct{} { return c.done }

// Send queues env without blocking. It returns false when the channel is
// closed or its outbox is full.
func (c *Channel) Send(env envelope.Envelope) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.outbox <- env:
		return true
	default:
		return false
	}
}

// Close marks the channel finished. Safe to call more than once.
func (c *Channel) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Registry maps users to their live channels. There is at most one channel
// per (user, client) pair; registering again supersedes the previous one.
type Registry struct {
	mu     sync.RWMutex
	users  map[string]map[string]*Channel // userID -> clientID -> channel
	epoch  uint64
	logger *slog.Logger
}

func NewRegistry() *Registry {
	return &Registry{
		users:  make(map[string]map[string]*Channel),
		logger: utils.GetLogger(),
	}
}

// Register binds ch to (userID, clientID) and returns its epoch. Any channel
// previously bound to the same pair is closed in the same critical section,
// so a lookup never observes both.
func (r *Registry) Register(userID, clientID string, ch *Channel) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.epoch++
	ch.userID = userID
	ch.clientID = clientID
	ch.epoch = r.epoch

	clients := r.users[userID]
	if clients == nil {
		clients = make(map[string]*Channel)
		r.users[userID] = clients
	}
	if old := clients[clientID]; old != nil && old != ch {
		old.Close()
		r.logger.Info("Superseded channel", "user_id", userID, "client_id", clientID,
			"old_epoch", old.epoch, "new_epoch", ch.epoch)
	}
	clients[clientID] = ch
	return ch.epoch
}

// Unregister removes ch if it is still the current channel for its pair and
// reports whether it did. A superseded channel is left alone.
func (r *Registry) Unregister(ch *Channel) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	clients := r.users[ch.userID]
	if clients == nil || clients[ch.clientID] != ch {
		return false
	}
	delete(clients, ch.clientID)
	if len(clients) == 0 {
		delete(r.users, ch.userID)
	}
	ch.Close()
	return true
}

// Lookup returns the live channels for userID.
func (r *Registry) Lookup(userID string) []*Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clients := r.users[userID]
	if len(clients) == 0 {
		return nil
	}
	out := make([]*Channel, 0, len(clients))
	for _, ch := range clients {
		out = append(out, ch)
	}
	return out
}

// Count returns the number of registered channels.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, clients := range r.users {
		n += len(clients)
	}
	return n
}
