// Package socket maintains the push connection to the backend and turns
// server events into bus events.
package socket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/matheus3301/wppconsole/internal/bus"
	"github.com/matheus3301/wppconsole/internal/status"
	"go.uber.org/zap"
)

// ErrNotConnected is returned by room commands while the socket is down.
var ErrNotConnected = errors.New("socket not connected")

// Envelope is the wire form of every server event.
type Envelope struct {
	Type           string          `json:"type"`
	EventID        string          `json:"eventId,omitempty"`
	TenantPhoneID  string          `json:"tenantPhoneId,omitempty"`
	ConversationID string          `json:"conversationId,omitempty"`
	Data           json.RawMessage `json:"data,omitempty"`
}

// Command is a client-to-server room command.
type Command struct {
	Action string `json:"action"`
	Room   string `json:"room"`
}

// wsConn abstracts the WebSocket connection so the client can be tested
// without a real server. *websocket.Conn satisfies this interface.
type wsConn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Ping(ctx context.Context) error
	Close(code websocket.StatusCode, reason string) error
	SetReadLimit(n int64)
}

type dialFunc func(ctx context.Context, url string, header http.Header) (wsConn, error)

func dialWebsocket(ctx context.Context, url string, header http.Header) (wsConn, error) {
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: header}) //nolint:bodyclose // websocket.Dial closes the response body internally
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Config tunes the push client.
type Config struct {
	URL          string
	Token        string
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	PingInterval time.Duration
	ReadLimit    int64
}

func (c *Config) defaults() {
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 25 * time.Second
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 1 << 20
	}
}

// Client is the push socket. It reconnects with jittered exponential
// backoff until stopped. Events missed while disconnected are not replayed.
type Client struct {
	cfg     Config
	bus     *bus.Bus
	machine *status.Machine
	logger  *zap.Logger
	dial    dialFunc

	mu     sync.Mutex
	conn   wsConn
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a push client publishing to b and reporting its connection
// state through machine.
func New(cfg Config, b *bus.Bus, machine *status.Machine, logger *zap.Logger) *Client {
	cfg.defaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:     cfg,
		bus:     b,
		machine: machine,
		logger:  logger,
		dial:    dialWebsocket,
	}
}

// Start launches the connection loop.
func (c *Client) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	go c.run(ctx)
}

// Stop closes the connection and ends the loop. The client cannot be
// restarted.
func (c *Client) Stop() {
	c.mu.Lock()
	cancel, done, conn := c.cancel, c.done, c.conn
	c.conn = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "client shutdown")
	}
	if done != nil {
		<-done
	}
	if err := c.machine.Transition(status.Closed); err != nil {
		c.logger.Debug("close transition", zap.Error(err))
	}
}

// Connected reports whether a connection is up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Join subscribes to a server-side room.
func (c *Client) Join(ctx context.Context, room string) error {
	return c.command(ctx, Command{Action: "join", Room: room})
}

// Leave unsubscribes from a server-side room.
func (c *Client) Leave(ctx context.Context, room string) error {
	return c.command(ctx, Command{Action: "leave", Room: room})
}

func (c *Client) command(ctx context.Context, cmd Command) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("%s %s: %w", cmd.Action, cmd.Room, err)
	}
	return nil
}

func (c *Client) run(ctx context.Context) {
	defer close(c.done)
	attempt := 0
	for {
		if err := c.machine.Transition(status.Connecting); err != nil {
			c.logger.Debug("connecting transition", zap.Error(err))
			return
		}
		connectedAt, err := c.session(ctx)
		if ctx.Err() != nil {
			return
		}
		if !connectedAt.IsZero() && time.Since(connectedAt) > time.Minute {
			attempt = 0
		}
		_ = c.machine.Transition(status.Reconnecting)

		delay := backoff(c.cfg.BaseDelay, c.cfg.MaxDelay, attempt)
		attempt++
		c.logger.Warn("push socket disconnected",
			zap.Error(err), zap.Int("attempt", attempt), zap.Duration("retry_in", delay))

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}

// session dials and reads until the connection breaks. It returns when the
// connection was established, zero if it never was.
func (c *Client) session(ctx context.Context) (time.Time, error) {
	header := http.Header{}
	if c.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	conn, err := c.dial(ctx, c.cfg.URL, header)
	if err != nil {
		return time.Time{}, fmt.Errorf("dialing websocket: %w", err)
	}
	conn.SetReadLimit(c.cfg.ReadLimit)

	c.mu.Lock()
	if ctx.Err() != nil {
		c.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "client shutdown")
		return time.Time{}, ctx.Err()
	}
	c.conn = conn
	c.mu.Unlock()

	connectedAt := time.Now()
	if err := c.machine.Transition(status.Connected); err != nil {
		c.logger.Debug("connected transition", zap.Error(err))
	}
	c.logger.Info("push socket connected", zap.String("url", c.cfg.URL))

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go c.heartbeat(connCtx, conn)

	err = c.readLoop(connCtx, conn)

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	_ = conn.Close(websocket.StatusGoingAway, "")
	return connectedAt, err
}

func (c *Client) readLoop(ctx context.Context, conn wsConn) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("reading message: %w", err)
		}
		if typ != websocket.MessageText {
			c.logger.Debug("ignoring binary frame", zap.Int("bytes", len(data)))
			continue
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
			c.logger.Debug("unparseable frame", zap.Int("bytes", len(data)))
			continue
		}
		c.bus.Publish(bus.Event{
			Kind:      bus.PushKind(env.Type),
			Timestamp: time.Now(),
			Payload: bus.Push{
				Type:           env.Type,
				EventID:        env.EventID,
				TenantPhoneID:  env.TenantPhoneID,
				ConversationID: env.ConversationID,
				Data:           env.Data,
			},
		})
	}
}

func (c *Client) heartbeat(ctx context.Context, conn wsConn) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, c.cfg.PingInterval)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil && ctx.Err() == nil {
				c.logger.Warn("ping failed", zap.Error(err))
				_ = conn.Close(websocket.StatusGoingAway, "ping timeout")
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// backoff returns base*2^attempt plus up to 50% jitter, capped at ceiling.
func backoff(base, ceiling time.Duration, attempt int) time.Duration {
	jitter := time.Duration(rand.Float64() * float64(base) * 0.5)
	d := time.Duration(math.Min(
		float64(base)*math.Pow(2, float64(attempt))+float64(jitter),
		float64(ceiling),
	))
	return d
}
