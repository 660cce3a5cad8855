// Package relay carries envelopes between server instances over Redis pub/sub
// so a user connected to one instance still hears about work done on another.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/parley-chat/parley/pkg/config"
	"github.com/parley-chat/parley/pkg/envelope"
	"github.com/parley-chat/parley/pkg/utils"
)

// PubSub is the slice of Redis the relay needs.
type PubSub interface {
	Publish(ctx context.Context, channel, payload string) error
	Subscribe(ctx context.Context, channel string) (<-chan string, error)
	Close() error
}

// LocalDeliverer hands an envelope to this instance's channels.
type LocalDeliverer interface {
	DeliverLocal(userID string, env envelope.Envelope) int
}

type frame struct {
	Origin   string          `json:"origin"`
	UserID   string          `json:"userId"`
	Envelope json.RawMessage `json:"envelope"`
}

// Relay publishes envelopes it cannot deliver locally and delivers envelopes
// published by other instances.
type Relay struct {
	origin  string
	channel string
	ps      PubSub
	local   LocalDeliverer
	logger  *slog.Logger

	retryBase time.Duration
	retryMax  time.Duration
}

const (
	defaultRetryBase = 500 * time.Millisecond
	defaultRetryMax  = 30 * time.Second
)

func New(ps PubSub, channel string, local LocalDeliverer) *Relay {
	return &Relay{
		origin:  uuid.New().String(),
		channel: channel,
		ps:      ps,
		local:   local,
		logger:  utils.GetLogger(),

		retryBase: defaultRetryBase,
		retryMax:  defaultRetryMax,
	}
}

// Forward publishes env for userID.
func (r *Relay) Forward(ctx context.Context, userID string, env envelope.Envelope) error {
	payload, err := json.Marshal(frame{Origin: r.origin, UserID: userID, Envelope: envelope.Encode(env)})
	if err != nil {
		return fmt.Errorf("marshal relay frame: %w", err)
	}
	if err := r.ps.Publish(ctx, r.channel, string(payload)); err != nil {
		return fmt.Errorf("publish to %s: %w", r.channel, err)
	}
	return nil
}

// Run delivers frames from other instances until ctx is done. A failed or
// lost subscription is retried with capped exponential backoff.
func (r *Relay) Run(ctx context.Context) error {
	failures := 0
	for {
		msgs, err := r.ps.Subscribe(ctx, r.channel)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			delay := retryDelay(failures, r.retryBase, r.retryMax)
			failures++
			r.logger.Warn("Relay subscribe failed, retrying", "channel", r.channel, "attempt", failures, "retry_in", delay, "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
			continue
		}
		failures = 0
		r.logger.Info("Relay subscribed", "channel", r.channel, "origin", r.origin)

		if done := r.consume(ctx, msgs); done {
			return nil
		}
		r.logger.Warn("Relay subscription lost, resubscribing", "channel", r.channel)
	}
}

// consume handles frames until msgs closes or ctx is done, reporting the latter.
func (r *Relay) consume(ctx context.Context, msgs <-chan string) bool {
	for {
		select {
		case <-ctx.Done():
			return true
		case payload, ok := <-msgs:
			if !ok {
				return ctx.Err() != nil
			}
			r.handle(payload)
		}
	}
}

func retryDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt > 30 {
		attempt = 30
	}
	delay := base * time.Duration(1<<uint(attempt))
	if delay > max || delay <= 0 {
		delay = max
	}
	return delay + time.Duration(rand.Int63n(int64(delay/4)+1))
}

func (r *Relay) handle(payload string) {
	var f frame
	if err := json.Unmarshal([]byte(payload), &f); err != nil {
		r.logger.Warn("Discarding malformed relay frame", "error", err)
		return
	}
	if f.Origin == r.origin {
		return
	}
	env, err := envelope.Decode(f.Envelope)
	if err != nil {
		r.logger.Warn("Discarding relay frame with bad envelope", "origin", f.Origin, "error", err)
		return
	}
	if n := r.local.DeliverLocal(f.UserID, env); n == 0 {
		r.logger.Debug("Relayed envelope has no local channel", "user_id", f.UserID, "type", env.Type)
	}
}

// ========== Redis adapter ==========

// RedisPubSub adapts a go-redis client to PubSub.
type RedisPubSub struct {
	client *redis.Client
}

func NewRedisPubSub(cfg config.RedisConfig) *RedisPubSub {
	return &RedisPubSub{client: redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})}
}

// Ping checks the server is reachable.
func (p *RedisPubSub) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func (p *RedisPubSub) Publish(ctx context.Context, channel, payload string) error {
	return p.client.Publish(ctx, channel, payload).Err()
}

func (p *RedisPubSub) Subscribe(ctx context.Context, channel string) (<-chan string, error) {
	sub := p.client.Subscribe(ctx, channel)
	// Wait for the subscription confirmation so errors surface here.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}
	out := make(chan string, 64)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- msg.Payload:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (p *RedisPubSub) Close() error {
	return p.client.Close()
}
