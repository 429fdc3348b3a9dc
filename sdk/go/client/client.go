// Package client keeps an island engine connected to its server. It dials the
// configured transport, feeds every inbound envelope to the engine, carries the
// engine's outbound events back and reconnects when the connection drops.
package client

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/zeusync/islandsync/internal/core/engine"
	"github.com/zeusync/islandsync/internal/core/observability/log"
	"github.com/zeusync/islandsync/internal/core/protocol"
)

// Session is the engine side of a connection.
type Session interface {
	HandleMessage(ctx context.Context, data []byte) error
	ResetSession(ctx context.Context)
	Bind(sender engine.Sender)
}

// Config holds configuration for the client
type Config struct {
	ServerAddr     string
	ConnectTimeout time.Duration

	// ReconnectInterval is the first backoff step; it doubles per failed
	// attempt up to MaxReconnectInterval.
	ReconnectInterval    time.Duration
	MaxReconnectInterval time.Duration
	// MaxReconnectAttempts bounds consecutive failed attempts. Zero retries
	// forever.
	MaxReconnectAttempts int

	// MessageTimeout bounds a send whose context has no deadline.
	MessageTimeout time.Duration
}

// DefaultClientConfig returns default client configuration
func DefaultClientConfig() Config {
	return Config{
		ServerAddr:           "localhost:8080",
		ConnectTimeout:       10 * time.Second,
		ReconnectInterval:    500 * time.Millisecond,
		MaxReconnectInterval: 30 * time.Second,
		MaxReconnectAttempts: 10,
		MessageTimeout:       10 * time.Second,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch {
	case c.ServerAddr == "":
		return errors.Wrap(ErrInvalidConfig, "server address is empty")
	case c.ReconnectInterval <= 0:
		return errors.Wrap(ErrInvalidConfig, "reconnect interval must be positive")
	case c.MaxReconnectInterval < c.ReconnectInterval:
		return errors.Wrap(ErrInvalidConfig, "max reconnect interval is below reconnect interval")
	case c.MaxReconnectAttempts < 0:
		return errors.Wrap(ErrInvalidConfig, "max reconnect attempts is negative")
	}
	return nil
}

// EventType represents different types of client events
type EventType string

const (
	EventTypeConnected    EventType = "connected"
	EventTypeDisconnected EventType = "disconnected"
	EventTypeReconnecting EventType = "reconnecting"
	EventTypeError        EventType = "error"
)

// Event represents a client event
type Event struct {
	Type      EventType
	Timestamp time.Time
	ConnID    string
	Attempt   int
	Error     error
}

// EventHandler is called on the client's goroutine and must not block.
type EventHandler func(event Event)

// Stats counts traffic over the client's lifetime.
type Stats struct {
	Received   uint64
	Dropped    uint64
	Sent       uint64
	Reconnects uint64
}

// Client represents one connection of an engine to its server
type Client struct {
	config    Config
	session   Session
	transport protocol.Transport
	codec     *protocol.Codec

	connMu sync.RWMutex
	conn   protocol.Conn

	handlers     map[EventType][]EventHandler
	handlerMutex sync.RWMutex

	running int32 // atomic bool
	closed  int32 // atomic bool
	done    chan struct{}

	received   atomic.Uint64
	dropped    atomic.Uint64
	sent       atomic.Uint64
	reconnects atomic.Uint64

	logger log.Log
}

// New creates a client for session.
func New(config Config, session Session, transport protocol.Transport, codec *protocol.Codec, logger log.Log) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if session == nil || transport == nil || codec == nil {
		return nil, errors.Wrap(ErrInvalidConfig, "session, transport and codec are required")
	}

	return &Client{
		config:    config,
		session:   session,
		transport: transport,
		codec:     codec,
		handlers:  make(map[EventType][]EventHandler),
		done:      make(chan struct{}),
		logger: logger.With(
			log.Component("client"),
			log.String("transport", string(transport.Type())),
			log.String("addr", config.ServerAddr)),
	}, nil
}

// Run connects and serves until ctx is cancelled, the client is closed or
// reconnection gives up. Every new connection starts a fresh session: the
// engine forgets the previous globals and requests them again.
func (c *Client) Run(ctx context.Context) error {
	if c.IsClosed() {
		return ErrClientClosed
	}
	if !atomic.CompareAndSwapInt32(&c.running, 0, 1) {
		return ErrAlreadyRunning
	}
	defer atomic.StoreInt32(&c.running, 0)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	attempt := 0
	for {
		if c.stopped(ctx) {
			return c.stopReason(ctx)
		}
		if attempt > 0 {
			if c.config.MaxReconnectAttempts > 0 && attempt > c.config.MaxReconnectAttempts {
				c.logger.Error("Giving up reconnecting", log.Int("attempts", attempt-1))
				return errors.Wrapf(ErrReconnectFailed, "after %d attempts", attempt-1)
			}
			c.emitEvent(Event{Type: EventTypeReconnecting, Timestamp: time.Now(), Attempt: attempt})
			if !c.wait(ctx, c.backoff(attempt)) {
				return c.stopReason(ctx)
			}
			c.reconnects.Add(1)
		}

		conn, err := c.connect(ctx)
		if err != nil {
			if c.stopped(ctx) {
				return c.stopReason(ctx)
			}
			c.logger.Warn("Failed to connect", log.Int("attempt", attempt), log.Error(err))
			c.emitEvent(Event{Type: EventTypeError, Timestamp: time.Now(), Attempt: attempt, Error: err})
			attempt++
			continue
		}

		err = c.serve(ctx, conn)
		if c.stopped(ctx) {
			return c.stopReason(ctx)
		}
		c.logger.Warn("Connection lost", log.String("conn_id", conn.ID()), log.Error(err))
		attempt = 1
	}
}

// Send encodes and writes one outbound envelope. It implements engine.Sender.
func (c *Client) Send(ctx context.Context, out protocol.Outbound) error {
	if c.IsClosed() {
		return ErrClientClosed
	}

	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	data, err := c.codec.Encode(out)
	if err != nil {
		return err
	}

	if _, ok := ctx.Deadline(); !ok && c.config.MessageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.MessageTimeout)
		defer cancel()
	}

	if err = conn.Send(ctx, data); err != nil {
		return errors.Wrapf(err, "send %q", out.Event)
	}
	c.sent.Add(1)

	c.logger.Debug("Event sent",
		log.String("event", out.Event),
		log.String("target", out.Target),
		log.Int("size", len(data)))
	return nil
}

// Close stops Run and closes the current connection.
func (c *Client) Close() error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}
	close(c.done)

	c.connMu.Lock()
	conn := c.conn
	c.conn = nil
	c.connMu.Unlock()

	c.logger.Info("Closing client")
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// OnEvent registers an event handler for a specific event type
func (c *Client) OnEvent(eventType EventType, handler EventHandler) {
	c.handlerMutex.Lock()
	defer c.handlerMutex.Unlock()

	c.handlers[eventType] = append(c.handlers[eventType], handler)
}

// IsConnected returns true if the client has a live connection
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.conn != nil
}

// IsClosed returns true if the client is closed
func (c *Client) IsClosed() bool {
	return atomic.LoadInt32(&c.closed) == 1
}

// Stats returns the traffic counters.
func (c *Client) Stats() Stats {
	return Stats{
		Received:   c.received.Load(),
		Dropped:    c.dropped.Load(),
		Sent:       c.sent.Load(),
		Reconnects: c.reconnects.Load(),
	}
}

func (c *Client) connect(ctx context.Context) (protocol.Conn, error) {
	if c.config.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.ConnectTimeout)
		defer cancel()
	}

	conn, err := c.transport.Dial(ctx, c.config.ServerAddr)
	if err != nil {
		return nil, errors.Wrap(ErrConnectionFailed, err.Error())
	}
	return conn, nil
}

// serve runs one connection until it fails or ctx ends.
func (c *Client) serve(ctx context.Context, conn protocol.Conn) error {
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	logger := c.logger.With(log.String("conn_id", conn.ID()))
	logger.Info("Connected to server")

	c.session.Bind(c)
	c.session.ResetSession(ctx)
	c.emitEvent(Event{Type: EventTypeConnected, Timestamp: time.Now(), ConnID: conn.ID()})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.readLoop(gctx, conn)
	})
	g.Go(func() error {
		<-gctx.Done()
		_ = conn.Close()
		return nil
	})
	err := g.Wait()

	c.session.Bind(nil)
	c.connMu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.connMu.Unlock()

	c.emitEvent(Event{Type: EventTypeDisconnected, Timestamp: time.Now(), ConnID: conn.ID(), Error: err})
	logger.Info("Disconnected from server")
	return err
}

func (c *Client) readLoop(ctx context.Context, conn protocol.Conn) error {
	for {
		data, err := conn.Receive(ctx)
		if err != nil {
			return err
		}
		c.received.Add(1)

		// the engine logs and counts the reason
		if err = c.session.HandleMessage(ctx, data); err != nil {
			c.dropped.Add(1)
		}
	}
}

func (c *Client) backoff(attempt int) time.Duration {
	d := c.config.ReconnectInterval
	for i := 1; i < attempt && d < c.config.MaxReconnectInterval; i++ {
		d *= 2
	}
	if d > c.config.MaxReconnectInterval {
		d = c.config.MaxReconnectInterval
	}
	return d
}

func (c *Client) wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// stopped reports whether Run should return. Close is checked directly since
// the cancel it triggers may not have propagated to ctx yet.
func (c *Client) stopped(ctx context.Context) bool {
	return c.IsClosed() || ctx.Err() != nil
}

func (c *Client) stopReason(ctx context.Context) error {
	if c.IsClosed() {
		return nil
	}
	return ctx.Err()
}

// emitEvent emits an event to registered handlers
func (c *Client) emitEvent(event Event) {
	c.handlerMutex.RLock()
	handlers := c.handlers[event.Type]
	c.handlerMutex.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}
