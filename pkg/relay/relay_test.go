package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-chat/parley/pkg/envelope"
	"github.com/parley-chat/parley/pkg/event"
	"github.com/parley-chat/parley/pkg/models"
)

// memBus is an in-process PubSub fanning every publish out to all subscribers.
type memBus struct {
	mu   sync.Mutex
	subs []chan string
}

func (b *memBus) Publish(_ context.Context, _ string, payload string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		s <- payload
	}
	return nil
}

func (b *memBus) Subscribe(context.Context, string) (<-chan string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan string, 16)
	b.subs = append(b.subs, ch)
	return ch, nil
}

func (b *memBus) Close() error { return nil }

func TestRelay_DeliversAcrossInstances(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := &memBus{}

	// Instance A has no channel for u1; instance B does.
	regA, regB := event.NewRegistry(), event.NewRegistry()
	dispA, dispB := event.NewDispatcher(regA), event.NewDispatcher(regB)
	relayA := New(bus, "parley:test", dispA)
	relayB := New(bus, "parley:test", dispB)
	dispA.SetFallback(relayA)

	ch := event.NewChannel(4)
	regB.Register("u1", "tui", ch)

	go func() { _ = relayA.Run(ctx) }()
	go func() { _ = relayB.Run(ctx) }()
	require.Eventually(t, func() bool {
		bus.mu.Lock()
		defer bus.mu.Unlock()
		return len(bus.subs) == 2
	}, time.Second, 5*time.Millisecond)

	occ := event.ResponseGeneratedEvent{
		Turn:    event.Turn{UserID: "u1", ConversationID: "c1", MessageID: "m1"},
		Content: models.TextContent("hi there"),
	}
	assert.Equal(t, 0, dispA.Dispatch(occ, "u1"))

	select {
	case env := <-ch.Outbox():
		assert.Equal(t, envelope.TypeResponse, env.Type)
		assert.Equal(t, "m1", env.RequestCard.ConversationMessageID)
	case <-time.After(2 * time.Second):
		t.Fatal("relayed envelope not delivered")
	}
}

type countingDeliverer struct {
	mu sync.Mutex
	n  int
}

func (c *countingDeliverer) DeliverLocal(string, envelope.Envelope) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return 1
}

func (c *countingDeliverer) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func TestRelay_IgnoresOwnAndMalformedFrames(t *testing.T) {
	local := &countingDeliverer{}
	r := New(&memBus{}, "parley:test", local)

	r.handle("{not json")
	r.handle(`{"origin":"other","userId":"u1","envelope":{"type":"response"}}`)
	assert.Equal(t, 0, local.count())

	own := `{"origin":"` + r.origin + `","userId":"u1","envelope":` + string(envelope.Encode(envelope.Ping())) + `}`
	r.handle(own)
	assert.Equal(t, 0, local.count())

	foreign := `{"origin":"other","userId":"u1","envelope":` + string(envelope.Encode(envelope.Ping())) + `}`
	r.handle(foreign)
	assert.Equal(t, 1, local.count())
}

// flakyBus fails the first failures subscriptions, then behaves like memBus.
type flakyBus struct {
	memBus
	failures int
	attempts int
}

func (b *flakyBus) Subscribe(ctx context.Context, channel string) (<-chan string, error) {
	b.mu.Lock()
	b.attempts++
	fail := b.attempts <= b.failures
	b.mu.Unlock()
	if fail {
		return nil, errors.New("connection refused")
	}
	return b.memBus.Subscribe(ctx, channel)
}

func (b *flakyBus) dropSubscribers() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		close(s)
	}
	b.subs = nil
}

func (b *flakyBus) subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func TestRelay_RetriesSubscribeAndResubscribes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	bus := &flakyBus{failures: 3}
	local := &countingDeliverer{}
	r := New(bus, "parley:test", local)
	r.retryBase, r.retryMax = time.Millisecond, 5*time.Millisecond

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return bus.subscribers() == 1 }, 2*time.Second, 5*time.Millisecond)
	bus.mu.Lock()
	assert.Equal(t, 4, bus.attempts)
	bus.mu.Unlock()

	// The subscription drops, as when Redis restarts.
	bus.dropSubscribers()
	require.Eventually(t, func() bool { return bus.subscribers() == 1 }, 2*time.Second, 5*time.Millisecond)

	foreign := `{"origin":"other","userId":"u1","envelope":` + string(envelope.Encode(envelope.Ping())) + `}`
	require.NoError(t, bus.Publish(ctx, "parley:test", foreign))
	require.Eventually(t, func() bool { return local.count() == 1 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop")
	}
}
