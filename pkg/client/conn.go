package client

import (
	"context"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/parley-chat/parley/pkg/envelope"
	"github.com/parley-chat/parley/pkg/utils"
)

var (
	// ErrUnauthorized means the server refused the token; retrying will not help.
	ErrUnauthorized = errors.New("event channel refused the access token")
	// ErrGaveUp means every reconnect attempt failed.
	ErrGaveUp = errors.New("event channel reconnect attempts exhausted")
)

const (
	clientPingInterval = 25 * time.Second
	clientReadWait     = 75 * time.Second
	clientWriteWait    = 5 * time.Second
)

// FrameHandler receives every text frame together with the epoch of the
// connection that read it.
type FrameHandler func(epoch uint64, raw []byte)

// ConnOptions configures a Conn.
type ConnOptions struct {
	// URL is the WebSocket endpoint, e.g. ws://127.0.0.1:8088/api/events/ws.
	URL      string
	Token    string
	ClientID string

	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// Conn keeps an event channel open, reconnecting with bounded exponential
// backoff. Every connection attempt starts a new epoch.
type Conn struct {
	opts      ConnOptions
	dialer    *websocket.Dialer
	handler   FrameHandler
	onConnect func(epoch uint64)
	onDrop    func(err error)
	epoch     atomic.Uint64
	logger    *slog.Logger
}

func NewConn(opts ConnOptions, handler FrameHandler) *Conn {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 500 * time.Millisecond
	}
	if opts.BackoffMax < opts.BackoffBase {
		opts.BackoffMax = opts.BackoffBase
	}
	return &Conn{
		opts:    opts,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second, Proxy: http.ProxyFromEnvironment},
		handler: handler,
		logger:  utils.GetLogger(),
	}
}

// OnConnect is called with the new epoch each time a connection is established.
func (c *Conn) OnConnect(fn func(epoch uint64)) { c.onConnect = fn }

// OnDrop is called when an established connection is lost.
func (c *Conn) OnDrop(fn func(err error)) { c.onDrop = fn }

// Epoch returns the epoch of the latest connection attempt.
func (c *Conn) Epoch() uint64 { return c.epoch.Load() }

// Run connects and reads until ctx is done. It returns nil on cancellation,
// ErrUnauthorized when the token is refused and ErrGaveUp once MaxAttempts
// consecutive attempts have failed.
func (c *Conn) Run(ctx context.Context) error {
	failures := 0
	for {
		epoch := c.epoch.Add(1)
		connected, err := c.serve(ctx, epoch)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, ErrUnauthorized) {
			return err
		}
		if connected {
			failures = 0
			if c.onDrop != nil {
				c.onDrop(err)
			}
		}
		failures++
		if failures >= c.opts.MaxAttempts {
			c.logger.Error("Giving up on event channel", "attempts", failures, "error", err)
			return errors.Wrap(ErrGaveUp, err.Error())
		}

		delay := backoffDelay(failures-1, c.opts.BackoffBase, c.opts.BackoffMax)
		c.logger.Warn("Event channel lost, reconnecting", "epoch", epoch, "attempt", failures, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

// serve runs one connection. connected reports whether the dial succeeded.
func (c *Conn) serve(ctx context.Context, epoch uint64) (connected bool, err error) {
	endpoint, err := c.endpoint()
	if err != nil {
		return false, err
	}
	ws, resp, err := c.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return false, ErrUnauthorized
		}
		return false, errors.Wrap(err, "dial event channel")
	}
	defer ws.Close()

	c.logger.Info("Event channel connected", "epoch", epoch)
	if c.onConnect != nil {
		c.onConnect(epoch)
	}

	done := make(chan struct{})
	defer close(done)
	go c.keepalive(ctx, ws, done)

	ws.SetReadLimit(1 << 20)
	for {
		_ = ws.SetReadDeadline(time.Now().Add(clientReadWait))
		typ, raw, err := ws.ReadMessage()
		if err != nil {
			return true, errors.Wrap(err, "read event channel")
		}
		if typ != websocket.TextMessage {
			continue
		}
		c.handler(epoch, raw)
	}
}

// keepalive sends envelope pings, which the server answers with pongs that
// keep the read deadline fresh. It closes ws when ctx ends so the read
// unblocks.
func (c *Conn) keepalive(ctx context.Context, ws *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(clientPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			_ = ws.Close()
			return
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(clientWriteWait))
			if err := ws.WriteMessage(websocket.TextMessage, envelope.Encode(envelope.Ping())); err != nil {
				c.logger.Debug("Ping failed", "error", err)
				_ = ws.Close()
				return
			}
		}
	}
}

func (c *Conn) endpoint() (string, error) {
	u, err := url.Parse(c.opts.URL)
	if err != nil {
		return "", errors.Wrapf(err, "parse event channel url %q", c.opts.URL)
	}
	q := u.Query()
	q.Set("token", c.opts.Token)
	if c.opts.ClientID != "" {
		q.Set("client_id", c.opts.ClientID)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// backoffDelay doubles base per attempt up to max and adds 0-25% jitter.
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		attempt = 30
	}
	delay := base * time.Duration(1<<uint(attempt))
	if delay > max || delay <= 0 {
		delay = max
	}
	jitter := time.Duration(rand.Int63n(int64(delay/4) + 1))
	return delay + jitter
}
