/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package signaling is a thin client for the room-scoped signaling relay.
// It carries named events with JSON payloads over a persistent WebSocket
// and holds no call logic of its own.
package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/tejzpr/haven-go-sdk/havensdk"
)

var (
	// ErrNotConnected is returned by Emit when no connection is open.
	ErrNotConnected = errors.New("signaling: not connected")

	// ErrTokenExpired is returned by Connect when the access token has expired.
	ErrTokenExpired = errors.New("signaling: access token expired")
)

// Config holds the configuration for the signaling client
type Config struct {
	URL                         string        // WebSocket URL of the relay
	HandshakeTimeout            time.Duration // Timeout for the WebSocket handshake
	WriteTimeout                time.Duration // Deadline for a single frame write
	PingInterval                time.Duration // Interval between ping messages
	PongTimeout                 time.Duration // Timeout for receiving a pong response
	BackoffTimeMax              time.Duration // Maximum time between connection attempts
	BackoffTimeReset            time.Duration // Initial time before the first retry
	MaxRetries                  int           // Number of times to retry a dropped connection
	InitialConnectionMaxRetries int           // Number of times to retry the initial connection
	Logger                      zerolog.Logger
}

// DefaultConfig returns the default configuration for the signaling client
func DefaultConfig() *Config {
	return &Config{
		URL:                         "ws://localhost:5000/signaling",
		HandshakeTimeout:            10 * time.Second,
		WriteTimeout:                10 * time.Second,
		PingInterval:                25 * time.Second,
		PongTimeout:                 10 * time.Second,
		BackoffTimeMax:              32 * time.Second,
		BackoffTimeReset:            1 * time.Second,
		MaxRetries:                  3,
		InitialConnectionMaxRetries: 5,
		Logger:                      zerolog.Nop(),
	}
}

// Message is the wire frame exchanged with the relay.
type Message struct {
	ID    string          `json:"id,omitempty"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Handler handles the payload of one inbound event.
type Handler func(data json.RawMessage)

// Client is the signaling channel client.
type Client struct {
	core   *havensdk.Client
	config *Config
	log    zerolog.Logger

	mu             sync.Mutex
	conn           *websocket.Conn
	connected      bool
	connecting     bool
	hasConnected   bool
	handlers       map[string][]Handler
	reconnectHooks []func()
	closeCh        chan struct{}

	// gorilla allows a single concurrent writer
	writeMu sync.Mutex
}

// New creates a new signaling client. The core client supplies the access token.
func New(core *havensdk.Client, config *Config) *Client {
	if config == nil {
		config = DefaultConfig()
	}

	return &Client{
		core:     core,
		config:   config,
		log:      config.Logger.With().Str("component", "signaling").Logger(),
		handlers: make(map[string][]Handler),
		closeCh:  make(chan struct{}),
	}
}

// Connect opens the WebSocket connection, retrying with exponential backoff.
// It returns nil if the client is already connected.
func (c *Client) Connect(ctx context.Context) error {
	if c.core != nil && c.core.IsTokenExpired(time.Now()) {
		return ErrTokenExpired
	}

	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	if c.connecting {
		c.mu.Unlock()
		return fmt.Errorf("connection attempt already in progress")
	}
	c.connecting = true
	closeCh := c.closeCh
	c.mu.Unlock()

	return c.connectWithBackoff(ctx, closeCh, c.config.InitialConnectionMaxRetries)
}

// Disconnect closes the connection. No reconnect follows.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if !c.connected && !c.connecting {
		c.mu.Unlock()
		return nil
	}

	close(c.closeCh)
	c.closeCh = make(chan struct{})

	conn := c.conn
	c.conn = nil
	c.connected = false
	c.connecting = false
	c.mu.Unlock()

	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "disconnected by client"))
		c.writeMu.Unlock()
		_ = conn.Close()
	}

	c.log.Info().Msg("disconnected")
	return nil
}

// IsConnected returns whether the client currently holds an open connection
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Emit sends one event frame. A nil payload sends the frame without data.
func (c *Client) Emit(event string, payload interface{}) error {
	msg := Message{ID: uuid.NewString(), Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal %s payload: %w", event, err)
		}
		msg.Data = data
	}

	frame, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal %s frame: %w", event, err)
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.config.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	}
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("failed to send %s: %w", event, err)
	}

	c.log.Debug().Str("event", event).Str("id", msg.ID).Msg("emitted")
	return nil
}

// On registers a handler for an event. "*" receives every event.
func (c *Client) On(event string, handler Handler) {
	if handler == nil {
		return
	}

	c.mu.Lock()
	c.handlers[event] = append(c.handlers[event], handler)
	c.mu.Unlock()
}

// Off removes every handler registered for an event.
func (c *Client) Off(event string) {
	c.mu.Lock()
	delete(c.handlers, event)
	c.mu.Unlock()
}

// HandlerCount returns the number of handlers registered for an event.
func (c *Client) HandlerCount(event string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handlers[event])
}

// OnReconnect registers a hook run after every successful reconnect.
// Presence registration is typically repeated here.
func (c *Client) OnReconnect(hook func()) {
	if hook == nil {
		return
	}

	c.mu.Lock()
	c.reconnectHooks = append(c.reconnectHooks, hook)
	c.mu.Unlock()
}

// connectWithBackoff attempts to connect with exponential backoff
func (c *Client) connectWithBackoff(ctx context.Context, closeCh chan struct{}, maxRetries int) error {
	backoff := c.config.BackoffTimeReset

	var err error
	attempts := 0
	for attempts <= maxRetries {
		attempts++
		if err = c.attemptConnection(ctx, closeCh); err == nil {
			return nil
		}
		c.log.Warn().Err(err).Int("attempt", attempts).Msg("connect attempt failed")

		if attempts > maxRetries {
			break
		}

		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
			backoff *= 2
			if backoff > c.config.BackoffTimeMax {
				backoff = c.config.BackoffTimeMax
			}
		case <-closeCh:
			timer.Stop()
			return nil
		case <-ctx.Done():
			timer.Stop()
			c.setConnecting(false)
			return ctx.Err()
		}
	}

	c.setConnecting(false)
	return fmt.Errorf("failed to connect after %d attempts: %w", attempts, err)
}

func (c *Client) setConnecting(v bool) {
	c.mu.Lock()
	c.connecting = v
	c.mu.Unlock()
}

// attemptConnection makes a single connection attempt
func (c *Client) attemptConnection(ctx context.Context, closeCh chan struct{}) error {
	headers := http.Header{}
	if c.core != nil {
		headers.Set("Authorization", "Bearer "+c.core.GetAccessToken())
	}
	headers.Set("TrackingID", havensdk.NewTrackingID())

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.config.HandshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, c.config.URL, headers)
	if err != nil {
		return fmt.Errorf("failed to connect to WebSocket: %w", err)
	}

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Time{})
	})

	c.mu.Lock()
	select {
	case <-closeCh:
		// Disconnect raced the dial
		c.mu.Unlock()
		_ = conn.Close()
		return nil
	default:
	}
	c.conn = conn
	c.connected = true
	c.connecting = false
	reconnected := c.hasConnected
	c.hasConnected = true
	hooks := make([]func(), len(c.reconnectHooks))
	copy(hooks, c.reconnectHooks)
	c.mu.Unlock()

	done := make(chan struct{})
	go c.keepalive(conn, closeCh, done)
	go c.listen(conn, closeCh, done)

	if reconnected {
		c.log.Info().Str("url", c.config.URL).Msg("reconnected")
		go c.runHooks(hooks)
	} else {
		c.log.Info().Str("url", c.config.URL).Msg("connected")
	}

	return nil
}

func (c *Client) runHooks(hooks []func()) {
	for _, hook := range hooks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.log.Error().Interface("panic", r).Msg("reconnect hook panicked")
				}
			}()
			hook()
		}()
	}
}

// listen reads frames and dispatches them in arrival order
func (c *Client) listen(conn *websocket.Conn, closeCh chan struct{}, done chan struct{}) {
	defer close(done)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleConnectionError(conn, closeCh, err)
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil || msg.Event == "" {
			c.log.Debug().Bytes("frame", data).Msg("dropping malformed frame")
			continue
		}

		c.dispatch(msg)
	}
}

// dispatch runs the handlers for one frame sequentially on the reader
// goroutine so relative event order is preserved.
func (c *Client) dispatch(msg Message) {
	c.mu.Lock()
	handlers := make([]Handler, 0, len(c.handlers[msg.Event])+len(c.handlers["*"]))
	handlers = append(handlers, c.handlers[msg.Event]...)
	handlers = append(handlers, c.handlers["*"]...)
	c.mu.Unlock()

	for _, handler := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.log.Error().Str("event", msg.Event).Interface("panic", r).Msg("handler panicked")
				}
			}()
			handler(msg.Data)
		}()
	}
}

// handleConnectionError reconnects unless the client was deliberately disconnected
func (c *Client) handleConnectionError(conn *websocket.Conn, closeCh chan struct{}, err error) {
	select {
	case <-closeCh:
		return
	default:
	}

	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.connected = false
	c.connecting = true
	c.mu.Unlock()

	_ = conn.Close()
	c.log.Warn().Err(err).Msg("connection lost, reconnecting")

	go func() {
		if err := c.connectWithBackoff(context.Background(), closeCh, c.config.MaxRetries); err != nil {
			c.log.Error().Err(err).Msg("reconnect failed")
		}
	}()
}

// keepalive pings the relay; a missed pong expires the read deadline and
// the reader goroutine takes the reconnect path.
func (c *Client) keepalive(conn *websocket.Conn, closeCh chan struct{}, done chan struct{}) {
	if c.config.PingInterval <= 0 {
		return
	}

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if c.config.PongTimeout > 0 {
				if err := conn.SetReadDeadline(time.Now().Add(c.config.PongTimeout)); err != nil {
					_ = conn.Close()
					return
				}
			}
			writeWait := c.config.WriteTimeout
			if writeWait <= 0 {
				writeWait = 10 * time.Second
			}
			deadline := time.Now().Add(writeWait)
			if err := conn.WriteControl(websocket.PingMessage, []byte(fmt.Sprintf("%d", time.Now().UnixMilli())), deadline); err != nil {
				c.log.Warn().Err(err).Msg("ping failed")
				_ = conn.Close()
				return
			}
		case <-closeCh:
			return
		case <-done:
			return
		}
	}
}
