package event

import (
	"context"
	"log/slog"
	"time"

	"github.com/parley-chat/parley/pkg/envelope"
	"github.com/parley-chat/parley/pkg/utils"
)

const forwardTimeout = 5 * time.Second

// Forwarder takes envelopes for users with no local channel, e.g. to hand
// them to another server instance.
type Forwarder interface {
	Forward(ctx context.Context, userID string, env envelope.Envelope) error
}

// Dispatcher delivers occurrences to the channels registered for their
// target user. Delivery is best-effort and at most once per channel.
type Dispatcher struct {
	registry *Registry
	fallback Forwarder
	logger   *slog.Logger
}

func NewDispatcher(registry *Registry) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		logger:   utils.GetLogger(),
	}
}

// SetFallback installs a forwarder for users without a local channel.
// Must be called before the dispatcher is attached.
func (d *Dispatcher) SetFallback(f Forwarder) {
	d.fallback = f
}

// Attach subscribes the dispatcher to every occurrence emitted on em.
func (d *Dispatcher) Attach(em *Emitter) func() {
	return em.OnAny(func(ev Event) {
		occ, ok := ev.(Occurrence)
		if !ok {
			return
		}
		d.Dispatch(occ, occ.Recipient())
	})
}

// Dispatch sends occ to targetUserID and returns the number of channels it
// was queued on. It never blocks.
func (d *Dispatcher) Dispatch(occ Occurrence, targetUserID string) int {
	env := occ.ToEnvelope()
	n := d.DeliverLocal(targetUserID, env)
	if n > 0 {
		return n
	}

	if d.fallback != nil {
		go d.forward(targetUserID, env)
		return 0
	}
	d.logger.Info("No channel for user, dropping event", "event", occ.EventName(), "user_id", targetUserID)
	return 0
}

// DeliverLocal queues env on the local channels for userID.
func (d *Dispatcher) DeliverLocal(userID string, env envelope.Envelope) int {
	delivered := 0
	for _, ch := range d.registry.Lookup(userID) {
		if ch.Send(env) {
			delivered++
			continue
		}
		d.logger.Warn("Channel outbox full or closed, dropping envelope",
			"type", env.Type, "user_id", userID, "client_id", ch.ClientID(), "epoch", ch.Epoch())
	}
	return delivered
}

func (d *Dispatcher) forward(userID string, env envelope.Envelope) {
	ctx, cancel := context.WithTimeout(context.Background(), forwardTimeout)
	defer cancel()
	if err := d.fallback.Forward(ctx, userID, env); err != nil {
		d.logger.Warn("Failed to forward envelope", "type", env.Type, "user_id", userID, "error", err)
	}
}
